package scheduler

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servecore/runtime/internal/modelconfig"
	"github.com/servecore/runtime/internal/poolalloc"
	"github.com/servecore/runtime/internal/refbackend"
	"github.com/servecore/runtime/internal/request"
	"github.com/servecore/runtime/internal/response"
	"github.com/servecore/runtime/internal/status"
)

func echoConfig(maxBatch int, preferred []int, delayUs int64) *modelconfig.ModelConfig {
	return &modelconfig.ModelConfig{
		Name:         "echo",
		MaxBatchSize: maxBatch,
		Inputs: []modelconfig.IOSpec{
			{Name: "INPUT0", Datatype: modelconfig.TypeInt32, Dims: modelconfig.Dims{4}},
		},
		Outputs: []modelconfig.IOSpec{
			{Name: "OUTPUT0", Datatype: modelconfig.TypeInt32, Dims: modelconfig.Dims{4}},
		},
		Scheduling: modelconfig.Scheduling{PreferredBatchSizes: preferred, MaxQueueDelayUs: delayUs},
		Profile:    modelconfig.ProfileV2,
	}
}

func newRequest(t *testing.T, cfg *modelconfig.ModelConfig, batch int64) *request.Request {
	t.Helper()
	elems := make([]string, batch*4)
	for i := range elems {
		elems[i] = strconv.Itoa(i)
	}

	r := request.New(cfg.Name)
	require.NoError(t, r.AddOriginalInput(request.Input{
		Name:  "INPUT0",
		Shape: []int64{batch, 4},
		Data:  []byte(strings.Join(elems, "\n")),
	}))
	require.NoError(t, r.Prepare(cfg))
	return r
}

func TestSchedulerDispatchesSingleRequest(t *testing.T) {
	cfg := echoConfig(8, nil, 1000)
	h, err := refbackend.New("echo", 1, cfg, "")
	require.NoError(t, err)
	builder := response.New(poolalloc.NewHostAllocator(poolalloc.New(0), nil))

	s := New(h, builder, nil)
	go s.Run()
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := s.Enqueue(ctx, newRequest(t, cfg, 1))
	require.NoError(t, err)
	require.Len(t, resp.Outputs, 1)
}

func TestSchedulerTimesOutExpiredRequest(t *testing.T) {
	// A preferred batch size of 2 keeps a lone request queued, and the
	// 100ms max_queue_delay_us (also the loop's tick) is far longer than
	// the request's 1ms timeout, so the first tick expires it before the
	// delay fallback could dispatch it.
	cfg := echoConfig(8, []int{2}, 100_000)
	h, err := refbackend.New("echo", 1, cfg, "")
	require.NoError(t, err)
	builder := response.New(poolalloc.NewHostAllocator(poolalloc.New(0), nil))

	s := New(h, builder, nil)
	go s.Run()
	defer s.Stop()

	r := newRequest(t, cfg, 1)
	r.SetTimeoutMicroseconds(1000) // 1ms

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = s.Enqueue(ctx, r)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.DeadlineExceeded))
}

func TestSchedulerRespectsPreferredBatchSize(t *testing.T) {
	cfg := echoConfig(8, []int{2}, 50_000)
	h, err := refbackend.New("echo", 1, cfg, "")
	require.NoError(t, err)
	builder := response.New(poolalloc.NewHostAllocator(poolalloc.New(0), nil))

	s := New(h, builder, nil)
	go s.Run()
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := s.Enqueue(ctx, newRequest(t, cfg, 1))
			results <- err
		}()
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-results)
	}
}

func TestHigherPriorityQueueBlocksLowerPriorityDispatch(t *testing.T) {
	// Long delay so only preferred_batch_sizes attainment, never the
	// time-based fallback, can make a queue ready during this test.
	cfg := echoConfig(8, []int{2}, 5_000_000)
	cfg.Scheduling.PriorityLevels = 2
	h, err := refbackend.New("echo", 1, cfg, "")
	require.NoError(t, err)
	builder := response.New(poolalloc.NewHostAllocator(poolalloc.New(0), nil))

	s := New(h, builder, nil)
	go s.Run()
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// A single, not-yet-ready high-priority request is queued first.
	highReq1 := newRequest(t, cfg, 1)
	highReq1.SetPriority(1)
	highDone := make(chan error, 2)
	go func() {
		_, err := s.Enqueue(ctx, highReq1)
		highDone <- err
	}()
	require.Eventually(t, func() bool { return s.QueueDepth() == 1 }, time.Second, time.Millisecond)

	// Two low-priority requests reach the preferred batch size on their
	// own, but the waiting high-priority request must hold them back:
	// higher levels block lower ones, never the reverse.
	lowDone := make(chan error, 2)
	for i := 0; i < 2; i++ {
		r := newRequest(t, cfg, 1)
		r.SetPriority(2)
		go func() {
			_, err := s.Enqueue(ctx, r)
			lowDone <- err
		}()
	}

	select {
	case <-lowDone:
		t.Fatal("lower-priority queue dispatched while the higher-priority queue was still waiting")
	case <-time.After(200 * time.Millisecond):
	}

	// A second high-priority request reaches the preferred size, which
	// unblocks both levels in the same dispatch pass.
	highReq2 := newRequest(t, cfg, 1)
	highReq2.SetPriority(1)
	go func() {
		_, err := s.Enqueue(ctx, highReq2)
		highDone <- err
	}()

	for i := 0; i < 2; i++ {
		require.NoError(t, <-highDone)
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-lowDone)
	}
}
