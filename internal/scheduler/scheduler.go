// Package scheduler implements the dynamic batching scheduler:
// one Scheduler per loaded Backend Handle, priority FIFO queues, and a
// batch-formation loop that balances preferred batch sizes against a
// bounded maximum queue delay.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/servecore/runtime/internal/backend"
	"github.com/servecore/runtime/internal/modelconfig"
	"github.com/servecore/runtime/internal/request"
	"github.com/servecore/runtime/internal/response"
	"github.com/servecore/runtime/internal/status"
)

// priorityQueue is one priority level's FIFO of pending requests.
type priorityQueue struct {
	mu      sync.Mutex
	entries []*request.Request
}

func (q *priorityQueue) push(r *request.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, r)
}

// drainExpired removes and returns requests whose deadline has passed,
// per the rule "timeout is checked only before dispatch, never mid-batch".
func (q *priorityQueue) drainExpired(now time.Time) []*request.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	var expired []*request.Request
	kept := q.entries[:0]
	for _, r := range q.entries {
		if !r.Deadline.IsZero() && now.After(r.Deadline) {
			expired = append(expired, r)
			continue
		}
		kept = append(kept, r)
	}
	q.entries = kept
	return expired
}

// formBatch removes and returns up to maxBatchSize worth of requests
// whose requested-output set and working shapes are compatible with the
// first (oldest) request, preserving FIFO order within the queue.
func (q *priorityQueue) formBatch(maxBatchSize uint32) []*request.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}

	var batch []*request.Request
	var total uint32
	head := q.entries[0]
	var remaining []*request.Request

	for _, r := range q.entries {
		if len(batch) > 0 && !compatible(head, r) {
			remaining = append(remaining, r)
			continue
		}
		if maxBatchSize == 0 && len(batch) >= 1 {
			remaining = append(remaining, r)
			continue
		}
		size := r.BatchSize
		if size == 0 {
			size = 1
		}
		if maxBatchSize > 0 && total+size > maxBatchSize {
			remaining = append(remaining, r)
			continue
		}
		batch = append(batch, r)
		total += size
	}
	q.entries = remaining
	return batch
}

func (q *priorityQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// compatible reports whether b can share a batch with a: same
// requested outputs, same per-input working shape shape (ignoring the
// batch dimension already stripped by Prepare).
func compatible(a, b *request.Request) bool {
	ao, bo := a.RequestedOutputNames(), b.RequestedOutputNames()
	if len(ao) != len(bo) {
		return false
	}
	for name := range ao {
		if !bo[name] {
			return false
		}
	}

	ai, bi := a.Inputs(), b.Inputs()
	if len(ai) != len(bi) {
		return false
	}
	for name, in := range ai {
		other, ok := bi[name]
		if !ok || len(in.WorkingShape) != len(other.WorkingShape) {
			return false
		}
		for i, d := range in.WorkingShape {
			if other.WorkingShape[i] != d {
				return false
			}
		}
	}
	return true
}

// Scheduler owns one Backend Handle's dynamic batching loop.
type Scheduler struct {
	handle  backend.Handle
	cfg     *modelconfig.ModelConfig
	builder *response.Builder
	logger  *slog.Logger

	queues []*priorityQueue // index 0 == priority 1 (default), per cfg.DefaultPriorityLevel

	stop   chan struct{}
	done   chan struct{}
	notify chan struct{}
}

// New creates a Scheduler for handle. It does not start the batching
// loop — call Run in its own goroutine.
func New(h backend.Handle, builder *response.Builder, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := h.Config()
	levels := cfg.MaxPriorityLevel()
	if levels < 1 {
		levels = 1
	}
	queues := make([]*priorityQueue, levels)
	for i := range queues {
		queues[i] = &priorityQueue{}
	}
	return &Scheduler{
		handle:  h,
		cfg:     cfg,
		builder: builder,
		logger:  logger.With("model", h.Name(), "version", h.Version()),
		queues:  queues,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		notify:  make(chan struct{}, 1),
	}
}

// Enqueue admits a prepared request onto its priority's FIFO queue,
// wakes the batching loop, and blocks until a Response arrives or ctx is
// cancelled.
func (s *Scheduler) Enqueue(ctx context.Context, r *request.Request) (*response.Response, error) {
	idx := int(r.Priority) - 1
	if idx < 0 || idx >= len(s.queues) {
		idx = s.cfg.DefaultPriorityLevel() - 1
	}
	if r.TimeoutUs > 0 {
		r.Deadline = time.Now().Add(time.Duration(r.TimeoutUs) * time.Microsecond)
	}
	r.EnqueuedAt = time.Now()

	s.queues[idx].push(r)
	select {
	case s.notify <- struct{}{}:
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-r.Done:
		if resp != nil && resp.Status != nil {
			return resp, resp.Status
		}
		return resp, nil
	}
}

// Run is the batch-formation loop: wakes on enqueue or a tick, drains
// expired requests, and forms the highest-priority batch available,
// waiting up to max_queue_delay_us for a preferred batch size before
// dispatching whatever it has.
func (s *Scheduler) Run() {
	defer close(s.done)
	delay := time.Duration(s.cfg.Scheduling.MaxQueueDelayUs) * time.Microsecond
	if delay <= 0 {
		delay = time.Millisecond
	}
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.notify:
		case <-ticker.C:
		}
		s.expireAll()
		s.dispatchReady()
	}
}

func (s *Scheduler) expireAll() {
	now := time.Now()
	for _, q := range s.queues {
		for _, r := range q.drainExpired(now) {
			select {
			case r.Done <- &response.Response{RequestID: r.ID, Status: status.New(status.DeadlineExceeded, "request for model %q exceeded its timeout while queued", s.handle.Name())}:
			default:
			}
		}
	}
}

// dispatchReady forms and runs one batch per priority level, highest
// priority (index 0) first, per call. preferred_batch_sizes is honored
// opportunistically: if the oldest request hasn't waited delay yet and
// the queue isn't at a preferred size, formation is deferred to the next
// wake rather than forced. A higher level that is non-empty but not yet
// ready blocks every lower level for this pass — lower-priority requests
// never drain ahead of a waiting higher-priority queue.
func (s *Scheduler) dispatchReady() {
	maxBatch := uint32(s.cfg.MaxBatchSize)
	for _, q := range s.queues {
		if q.len() == 0 {
			continue
		}
		if !s.readyToForm(q, maxBatch) {
			return
		}
		batch := q.formBatch(maxBatch)
		if len(batch) == 0 {
			return
		}
		s.run(batch)
	}
}

// readyToForm reports whether the queue should be drained now: either it
// already holds a preferred batch size, or the oldest entry has waited
// past max_queue_delay_us.
func (s *Scheduler) readyToForm(q *priorityQueue, maxBatch uint32) bool {
	q.mu.Lock()
	n := len(q.entries)
	var oldest time.Time
	if n > 0 {
		oldest = q.entries[0].EnqueuedAt
	}
	q.mu.Unlock()

	if n == 0 {
		return false
	}
	if len(s.cfg.Scheduling.PreferredBatchSizes) == 0 {
		return true
	}

	total := uint32(0)
	q.mu.Lock()
	for _, r := range q.entries {
		size := r.BatchSize
		if size == 0 {
			size = 1
		}
		total += size
	}
	q.mu.Unlock()

	for _, pref := range s.cfg.Scheduling.PreferredBatchSizes {
		if total >= uint32(pref) {
			return true
		}
	}
	if maxBatch > 0 && total >= maxBatch {
		return true
	}

	delay := time.Duration(s.cfg.Scheduling.MaxQueueDelayUs) * time.Microsecond
	return time.Since(oldest) >= delay
}

func (s *Scheduler) run(reqs []*request.Request) {
	var total uint32
	for _, r := range reqs {
		size := r.BatchSize
		if size == 0 {
			size = 1
		}
		total += size
	}
	b := &backend.Batch{Requests: reqs, TotalBatchSize: total}

	if err := s.handle.Run(b, s.builder); err != nil {
		s.logger.Error("batch execution failed", "error", err, "batch_size", len(reqs))
		for _, r := range reqs {
			select {
			case r.Done <- &response.Response{RequestID: r.ID, Status: status.Wrap(status.Internal, err, "batch execution")}:
			default:
			}
		}
	}
}

// Stop halts the batching loop and waits for it to exit. Requests still
// queued are left untouched — callers drain or cancel them first.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// QueueDepth reports the number of requests waiting across all priority
// levels, for status reporting.
func (s *Scheduler) QueueDepth() int {
	total := 0
	for _, q := range s.queues {
		total += q.len()
	}
	return total
}
