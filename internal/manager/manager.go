// Package manager implements the Model Repository Manager: a
// per-(model,version) state machine, reference-counted handles, and the
// three model-control modes (NONE, POLL, EXPLICIT) that drive it.
package manager

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/servecore/runtime/internal/backend"
	"github.com/servecore/runtime/internal/modelconfig"
	"github.com/servecore/runtime/internal/repostore"
	"github.com/servecore/runtime/internal/status"
)

// ControlMode selects how model load/unload is driven.
type ControlMode string

const (
	// ModeNone loads every model found at startup and never reacts to
	// repository changes afterward.
	ModeNone ControlMode = "none"
	// ModePoll periodically rescans the repository and reconciles state
	// with what it finds; poll cycles never overlap.
	ModePoll ControlMode = "poll"
	// ModeExplicit loads and unloads only in response to LoadModel and
	// UnloadModel calls.
	ModeExplicit ControlMode = "explicit"
)

// EventRecorder persists lifecycle transitions. eventlog.Store implements
// this; nil disables persistence.
type EventRecorder interface {
	RecordTransition(ctx context.Context, model string, version int64, from, to backend.State, detail string) error
}

// versionEntry is one (model, version)'s state-machine position. The
// generation counter is bumped on every reload so in-flight references
// from a superseded load can be told apart from the current one
// (generation-based reload supersedes naive replace-in-place).
type versionEntry struct {
	version    int64
	state      backend.State
	generation uint64
	handle     backend.Handle
	refcount   int32
	loadErr    error
	modKey     string
}

// modelEntry is every known version of one named model.
type modelEntry struct {
	name     string
	versions map[int64]*versionEntry
	policy   modelconfig.VersionPolicy
}

// Manager is the Model Repository Manager.
type Manager struct {
	mu sync.RWMutex

	store   *repostore.Store
	factory backend.Factory
	logger  *slog.Logger
	events  EventRecorder
	mode    ControlMode

	strictModelConfig bool

	models map[string]*modelEntry

	pollMu      sync.Mutex
	pollRunning bool
}

// Option configures a Manager at construction.
type Option func(*Manager)

func WithEventRecorder(r EventRecorder) Option {
	return func(m *Manager) { m.events = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithStrictModelConfig controls config-loading strictness: when true, a
// missing or invalid config.yaml rejects the model instead of falling
// back to an auto-generated one, and an unreadable repository root at
// startup is a fatal Bootstrap error instead of a warning.
func WithStrictModelConfig(strict bool) Option {
	return func(m *Manager) { m.strictModelConfig = strict }
}

// New creates a Manager bound to store, using factory to instantiate
// Backend Handles.
func New(store *repostore.Store, factory backend.Factory, mode ControlMode, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		factory: factory,
		mode:    mode,
		models:  make(map[string]*modelEntry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bootstrap performs the startup load pass: under ModeNone it loads every
// discovered model; under ModePoll and ModeExplicit it only registers
// startupModels (explicit load requests still apply afterward).
func (m *Manager) Bootstrap(ctx context.Context, startupModels map[string]bool) error {
	entries, err := m.store.Scan()
	if err != nil {
		if m.strictModelConfig {
			return status.Wrap(status.Internal, err, "scanning model repository")
		}
		m.logger.Warn("repository root unreadable at startup, continuing with no models", "error", err)
		return nil
	}

	for _, e := range entries {
		switch m.mode {
		case ModeNone:
		case ModePoll, ModeExplicit:
			if !startupModels[e.Name] {
				continue
			}
		}
		if err := m.loadLatest(ctx, e); err != nil {
			m.logger.Error("startup load failed", "model", e.Name, "error", err)
		}
	}
	return nil
}

func (m *Manager) loadLatest(ctx context.Context, e repostore.ModelEntry) error {
	if len(e.Versions) == 0 {
		return status.New(status.InvalidArg, "model %q has no versions", e.Name)
	}
	latest := e.Versions[len(e.Versions)-1]
	return m.loadVersion(ctx, e.Name, latest.Version, latest.ModKey)
}

func (m *Manager) root() string {
	if len(m.store.Roots) == 0 {
		return ""
	}
	return m.store.Roots[0]
}

// loadVersion transitions a (model,version) through LOADING -> READY (or
// -> UNAVAILABLE on factory failure), replacing any existing entry with a
// new generation.
func (m *Manager) loadVersion(ctx context.Context, name string, version int64, modKey string) error {
	root := m.root()
	cfg, err := m.store.ReadConfig(root, name, m.strictModelConfig)
	if err != nil {
		return status.Wrap(status.InvalidArg, err, "reading config for model %q", name)
	}

	m.mu.Lock()
	me, ok := m.models[name]
	if !ok {
		me = &modelEntry{name: name, versions: make(map[int64]*versionEntry), policy: cfg.VersionPolicy}
		m.models[name] = me
	}
	me.policy = cfg.VersionPolicy

	ve, exists := me.versions[version]
	var prevState backend.State
	var generation uint64
	if exists {
		prevState = ve.state
		generation = ve.generation + 1
	} else {
		prevState = backend.Unknown
		ve = &versionEntry{version: version}
		me.versions[version] = ve
	}
	ve.state = backend.Loading
	ve.generation = generation
	ve.modKey = modKey
	m.mu.Unlock()

	m.record(ctx, name, version, prevState, backend.Loading, "load starting")

	versionPath := repostore.ModelPath(root, name, version)
	h, err := m.factory(name, version, cfg, versionPath)

	m.mu.Lock()
	defer m.mu.Unlock()
	ve, ok = me.versions[version]
	if !ok || ve.generation != generation {
		// Superseded mid-load by a newer generation; discard this result.
		if err == nil {
			h.Close()
		}
		return status.New(status.AlreadyExists, "model %q version %d superseded during load", name, version)
	}

	if err != nil {
		ve.state = backend.Unavailable
		ve.loadErr = err
		m.record(ctx, name, version, backend.Loading, backend.Unavailable, err.Error())
		return status.Wrap(status.Internal, err, "loading model %q version %d", name, version)
	}

	ve.handle = h
	ve.state = backend.Ready
	ve.loadErr = nil
	m.record(ctx, name, version, backend.Loading, backend.Ready, "")
	return nil
}

func (m *Manager) record(ctx context.Context, name string, version int64, from, to backend.State, detail string) {
	m.logger.Info("model state transition", "model", name, "version", version, "from", from, "to", to, "detail", detail)
	if m.events == nil {
		return
	}
	if err := m.events.RecordTransition(ctx, name, version, from, to, detail); err != nil {
		m.logger.Warn("failed to persist model event", "error", err)
	}
}

// LoadModel explicitly loads or reloads the latest repository version of
// name (EXPLICIT/POLL control modes).
func (m *Manager) LoadModel(ctx context.Context, name string) error {
	entries, err := m.store.Scan()
	if err != nil {
		return status.Wrap(status.Internal, err, "scanning model repository")
	}
	for _, e := range entries {
		if e.Name == name {
			return m.loadLatest(ctx, e)
		}
	}
	return status.New(status.NotFound, "model %q not found in repository", name)
}

// UnloadModel marks every version of name UNLOADING, waits (bounded by
// ctx) for in-flight references to drain, then UNAVAILABLE. Use ctx's
// deadline to bound the drain before forcing.
func (m *Manager) UnloadModel(ctx context.Context, name string) error {
	m.mu.Lock()
	me, ok := m.models[name]
	if !ok {
		m.mu.Unlock()
		return status.New(status.NotFound, "model %q is not loaded", name)
	}
	var targets []*versionEntry
	for _, ve := range me.versions {
		if ve.state == backend.Ready {
			ve.state = backend.Unloading
			targets = append(targets, ve)
		}
	}
	m.mu.Unlock()

	for _, ve := range targets {
		m.record(ctx, name, ve.version, backend.Ready, backend.Unloading, "unload requested")
		m.drainAndClose(ctx, name, ve)
	}
	return nil
}

func (m *Manager) drainAndClose(ctx context.Context, name string, ve *versionEntry) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	drained := false
	for !drained {
		m.mu.RLock()
		refs := ve.refcount
		m.mu.RUnlock()
		if refs <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			m.logger.Warn("forcing unload with in-flight references", "model", name, "version", ve.version, "refcount", refs)
			drained = true
		case <-ticker.C:
		}
	}

	m.mu.Lock()
	if ve.handle != nil {
		if err := ve.handle.Close(); err != nil {
			m.logger.Warn("error closing backend handle", "model", name, "version", ve.version, "error", err)
		}
	}
	ve.handle = nil
	ve.state = backend.Unavailable
	m.mu.Unlock()
	m.record(ctx, name, ve.version, backend.Unloading, backend.Unavailable, "")
}

// GetInferenceBackend resolves requestedVersion (-1 meaning "apply the
// model's version policy") to a ready Handle and increments its
// reference count. Callers must call ReleaseBackend when done.
func (m *Manager) GetInferenceBackend(name string, requestedVersion int64) (backend.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	me, ok := m.models[name]
	if !ok {
		return nil, status.New(status.NotFound, "model %q is not loaded", name)
	}

	version, err := resolveVersion(me, requestedVersion)
	if err != nil {
		return nil, err
	}

	ve := me.versions[version]
	if ve.state != backend.Ready {
		if ve.state == backend.Unavailable && ve.loadErr != nil {
			return nil, status.Wrap(status.Unavailable, ve.loadErr, "model %q version %d", name, version)
		}
		return nil, status.New(status.Unavailable, "model %q version %d is %s", name, version, ve.state)
	}

	ve.refcount++
	return ve.handle, nil
}

// ReleaseBackend decrements the reference count taken by
// GetInferenceBackend.
func (m *Manager) ReleaseBackend(name string, version int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	me, ok := m.models[name]
	if !ok {
		return
	}
	if ve, ok := me.versions[version]; ok && ve.refcount > 0 {
		ve.refcount--
	}
}

// resolveVersion applies the model's configured VersionPolicy. Must be
// called with m.mu held.
func resolveVersion(me *modelEntry, requested int64) (int64, error) {
	if requested >= 0 {
		if _, ok := me.versions[requested]; !ok {
			return 0, status.New(status.NotFound, "model %q has no version %d", me.name, requested)
		}
		return requested, nil
	}

	ready := readyVersions(me)
	if len(ready) == 0 {
		return 0, status.New(status.Unavailable, "model %q has no ready version", me.name)
	}

	switch me.policy.Kind {
	case modelconfig.PolicySpecific:
		for _, v := range me.policy.Specific {
			if contains(ready, v) {
				return v, nil
			}
		}
		return 0, status.New(status.Unavailable, "model %q: no specific version ready", me.name)
	case modelconfig.PolicyAll, modelconfig.PolicyLatest:
		return ready[len(ready)-1], nil
	default:
		return ready[len(ready)-1], nil
	}
}

func readyVersions(me *modelEntry) []int64 {
	var out []int64
	for v, ve := range me.versions {
		if ve.state == backend.Ready {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func contains(s []int64, v int64) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// ModelStatus summarizes one (model,version) for status reporting.
type ModelStatus struct {
	Name       string
	Version    int64
	State      backend.State
	Generation uint64
	Refcount   int32
	Error      string
}

// ListModels reports every known (model,version) and its current state.
func (m *Manager) ListModels() []ModelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ModelStatus
	for name, me := range m.models {
		for _, ve := range me.versions {
			st := ModelStatus{Name: name, Version: ve.version, State: ve.state, Generation: ve.generation, Refcount: ve.refcount}
			if ve.loadErr != nil {
				st.Error = ve.loadErr.Error()
			}
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// ModelIsReady reports whether any version of name is READY.
func (m *Manager) ModelIsReady(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	me, ok := m.models[name]
	if !ok {
		return false
	}
	return len(readyVersions(me)) > 0
}

// PollRepository runs one POLL-mode reconciliation cycle: rescans the
// repository and loads any version whose fingerprint changed. Cycles
// never overlap — a call arriving while one is running is a no-op
// (serialized, non-overlapping poll cycles).
func (m *Manager) PollRepository(ctx context.Context) error {
	m.pollMu.Lock()
	if m.pollRunning {
		m.pollMu.Unlock()
		return nil
	}
	m.pollRunning = true
	m.pollMu.Unlock()
	defer func() {
		m.pollMu.Lock()
		m.pollRunning = false
		m.pollMu.Unlock()
	}()

	entries, err := m.store.Scan()
	if err != nil {
		return status.Wrap(status.Internal, err, "scanning model repository")
	}

	present := make(map[string]map[int64]bool, len(entries))
	for _, e := range entries {
		versions := make(map[int64]bool, len(e.Versions))
		for _, v := range e.Versions {
			versions[v.Version] = true
		}
		present[e.Name] = versions

		for _, v := range e.Versions {
			m.mu.RLock()
			me, ok := m.models[e.Name]
			var ve *versionEntry
			if ok {
				ve = me.versions[v.Version]
			}
			m.mu.RUnlock()

			if ve != nil && ve.modKey == v.ModKey && ve.state == backend.Ready {
				continue
			}
			if err := m.loadVersion(ctx, e.Name, v.Version, v.ModKey); err != nil {
				m.logger.Warn("poll load failed", "model", e.Name, "version", v.Version, "error", err)
			}
		}
	}

	m.unloadRemoved(ctx, present)
	return nil
}

// unloadRemoved unloads every loaded, READY version whose model or version
// number is no longer present in a fresh repository scan. Removed
// versions start unloading concurrently with each other.
func (m *Manager) unloadRemoved(ctx context.Context, present map[string]map[int64]bool) {
	type target struct {
		name string
		ve   *versionEntry
	}

	m.mu.Lock()
	var targets []target
	for name, me := range m.models {
		for v, ve := range me.versions {
			if ve.state != backend.Ready {
				continue
			}
			if present[name][v] {
				continue
			}
			ve.state = backend.Unloading
			targets = append(targets, target{name: name, ve: ve})
		}
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(name string, ve *versionEntry) {
			defer wg.Done()
			m.record(ctx, name, ve.version, backend.Ready, backend.Unloading, "removed from repository")
			m.drainAndClose(ctx, name, ve)
		}(t.name, t.ve)
	}
	wg.Wait()
}

// RunPoll starts a goroutine that calls PollRepository every interval
// until ctx is cancelled.
func (m *Manager) RunPoll(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.PollRepository(ctx); err != nil {
					m.logger.Error("poll cycle failed", "error", err)
				}
			}
		}
	}()
}

// Shutdown unloads every loaded model, bounded by ctx's deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	names := make([]string, 0, len(m.models))
	for name := range m.models {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, name := range names {
		if err := m.UnloadModel(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
