// Package server implements the Server façade: liveness and
// readiness, inference submission, administrative load/unload, and
// graceful shutdown bounded by exit_timeout_secs.
package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/servecore/runtime/internal/backend"
	"github.com/servecore/runtime/internal/config"
	"github.com/servecore/runtime/internal/manager"
	"github.com/servecore/runtime/internal/poolalloc"
	"github.com/servecore/runtime/internal/repostore"
	"github.com/servecore/runtime/internal/request"
	"github.com/servecore/runtime/internal/response"
	"github.com/servecore/runtime/internal/scheduler"
	"github.com/servecore/runtime/internal/status"
)

// Server is the process-wide façade: one Manager, one response builder,
// and a lazily created Scheduler per ready Backend Handle.
type Server struct {
	cfg     *config.Config
	mgr     *manager.Manager
	store   *repostore.Store
	builder *response.Builder
	logger  *slog.Logger

	limiter *rate.Limiter

	schedMu    sync.Mutex
	schedulers map[backend.Handle]*scheduler.Scheduler

	live    atomic.Bool
	ready   atomic.Bool
	inFlight atomic.Int64
}

// New constructs a Server. maxInflightRate of 0 disables admission
// shaping.
func New(cfg *config.Config, mgr *manager.Manager, store *repostore.Store, alloc *poolalloc.HostAllocator, logger *slog.Logger, maxInflightRate float64) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		mgr:        mgr,
		store:      store,
		builder:    response.New(alloc),
		logger:     logger,
		schedulers: make(map[backend.Handle]*scheduler.Scheduler),
	}
	if maxInflightRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(maxInflightRate), int(maxInflightRate))
	}
	return s
}

// Init bootstraps the model repository, starts the POLL loop if
// configured, and marks the server live. Readiness follows once
// Bootstrap's startup load pass completes.
func (s *Server) Init(ctx context.Context) error {
	if err := s.mgr.Bootstrap(ctx, s.cfg.StartupModelSet()); err != nil {
		return err
	}
	s.live.Store(true)
	s.ready.Store(true)

	if s.cfg.ModelControlMode == string(manager.ModePoll) && s.cfg.PollIntervalSec > 0 {
		s.mgr.RunPoll(ctx, time.Duration(s.cfg.PollIntervalSec)*time.Second)
	}
	return nil
}

// IsLive reports whether the server process is up at all.
func (s *Server) IsLive() bool { return s.live.Load() }

// IsReady reports whether the server can accept inference. Under
// strict_readiness every configured startup model must be READY; under
// the relaxed default the server is ready as soon as it's live.
func (s *Server) IsReady() bool {
	if !s.ready.Load() {
		return false
	}
	if !s.cfg.StrictReadiness {
		return true
	}
	for name := range s.cfg.StartupModelSet() {
		if !s.mgr.ModelIsReady(name) {
			return false
		}
	}
	return true
}

// PollModelRepository triggers an immediate out-of-cycle poll (EXPLICIT
// and POLL modes both allow a manual nudge).
func (s *Server) PollModelRepository(ctx context.Context) error {
	return s.mgr.PollRepository(ctx)
}

// LoadModel explicitly loads or reloads a model.
func (s *Server) LoadModel(ctx context.Context, name string) error {
	return s.mgr.LoadModel(ctx, name)
}

// UnloadModel explicitly unloads a model and stops its scheduler(s).
func (s *Server) UnloadModel(ctx context.Context, name string) error {
	if err := s.mgr.UnloadModel(ctx, name); err != nil {
		return err
	}
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	for h, sc := range s.schedulers {
		if h.Name() == name {
			sc.Stop()
			delete(s.schedulers, h)
		}
	}
	return nil
}

// GetModelRepositoryIndex lists every model and version found on disk,
// regardless of load state.
func (s *Server) GetModelRepositoryIndex() ([]repostore.ModelEntry, error) {
	return s.store.Scan()
}

// GetStatus returns the load state of every known (model, version).
func (s *Server) GetStatus() []manager.ModelStatus {
	return s.mgr.ListModels()
}

// InferAsync prepares req against its model's config, obtains a ready
// Backend Handle, and enqueues onto that handle's scheduler, blocking
// until the batch containing req completes or ctx is cancelled.
func (s *Server) InferAsync(ctx context.Context, req *request.Request) (*response.Response, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, status.Wrap(status.Unavailable, err, "admission limiter")
		}
	}

	h, err := s.mgr.GetInferenceBackend(req.ModelName, req.RequestedVersion)
	if err != nil {
		return nil, err
	}
	defer s.mgr.ReleaseBackend(req.ModelName, h.Version())

	if err := req.Prepare(h.Config()); err != nil {
		return nil, err
	}

	sched := s.schedulerFor(h)

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	return sched.Enqueue(ctx, req)
}

func (s *Server) schedulerFor(h backend.Handle) *scheduler.Scheduler {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if sc, ok := s.schedulers[h]; ok {
		return sc
	}
	sc := scheduler.New(h, s.builder, s.logger)
	s.schedulers[h] = sc
	go sc.Run()
	return sc
}

// InFlight reports the current number of requests admitted but not yet
// complete, for status reporting.
func (s *Server) InFlight() int64 { return s.inFlight.Load() }

// Stop drains in-flight requests for up to exit_timeout_secs, then stops
// every scheduler and unloads every model.
func (s *Server) Stop(ctx context.Context) error {
	s.ready.Store(false)

	timeout := time.Duration(s.cfg.ExitTimeoutSecs) * time.Second
	deadline := time.Now().Add(timeout)
	for s.inFlight.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	timedOut := time.Now().After(deadline) && s.inFlight.Load() > 0

	s.schedMu.Lock()
	for _, sc := range s.schedulers {
		sc.Stop()
	}
	s.schedMu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := s.mgr.Shutdown(shutdownCtx)

	s.live.Store(false)

	if timedOut {
		return status.New(status.DeadlineExceeded, "stop timed out after %s with requests still in flight, models forced unavailable", timeout)
	}
	return err
}
