// Package request implements the owned Request object: mutable until
// Prepare, immutable once scheduled, and the shape/batch-size/datatype
// normalizer applies before scheduling.
package request

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/servecore/runtime/internal/modelconfig"
	"github.com/servecore/runtime/internal/response"
	"github.com/servecore/runtime/internal/status"
)

// Input is one named input tensor, before or after normalization.
type Input struct {
	Name          string
	Datatype      modelconfig.Datatype
	Shape         []int64 // as supplied by the caller
	WorkingShape  []int64 // post-normalization, batch dim stripped under profile v2
	Data          []byte
	ByteSize      int64 // caller-supplied, required for BYTES datatype
	IsShapeTensor bool
}

func cloneShape(s []int64) []int64 {
	out := make([]int64, len(s))
	copy(out, s)
	return out
}

// Request is the owned, caller-built inference request. It is mutable
// until Prepare freezes it for scheduler consumption ("Request"
// lifecycle).
type Request struct {
	mu sync.Mutex

	ID               string
	CorrelationID    string
	Flags            uint32
	ModelName        string
	RequestedVersion int64
	Priority         uint32
	TimeoutUs        int64
	BatchSize        uint32

	originalInputs   map[string]*Input
	overrideInputs   map[string]*Input
	requestedOutputs map[string]bool

	inputs             map[string]*Input // frozen: originals + overrides, rebuilt on Prepare
	needsNormalization bool
	prepared           bool

	EnqueuedAt time.Time
	Deadline   time.Time

	// BatchByteSizes is populated by Prepare: per-input batch_byte_size
	// computed from (datatype, working_shape, batch_size, is_shape_tensor).
	BatchByteSizes map[string]int64

	Done chan *response.Response
}

// New creates an unprepared Request for modelName with requestedVersion -1
// ("policy chooses").
func New(modelName string) *Request {
	return &Request{
		ID:                 uuid.NewString(),
		ModelName:          modelName,
		RequestedVersion:   -1,
		originalInputs:     make(map[string]*Input),
		overrideInputs:     make(map[string]*Input),
		requestedOutputs:   make(map[string]bool),
		needsNormalization: true,
		Done:               make(chan *response.Response, 1),
	}
}

func (r *Request) AddOriginalInput(in Input) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.originalInputs[in.Name]; exists {
		return status.New(status.InvalidArg, "duplicate original input %q", in.Name)
	}
	cp := in
	cp.Shape = cloneShape(in.Shape)
	r.originalInputs[in.Name] = &cp
	r.needsNormalization = true
	return nil
}

// RemoveOriginalInput removes a previously added original input. Following
// it with AddOverrideInput for the same name, without an intervening
// Prepare, is permitted.
func (r *Request) RemoveOriginalInput(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.originalInputs[name]; !ok {
		return status.New(status.NotFound, "no original input %q", name)
	}
	delete(r.originalInputs, name)
	r.needsNormalization = true
	return nil
}

// AddOverrideInput injects an input supplied by an ensembling/pipeline
// caller rather than the original request.
func (r *Request) AddOverrideInput(in Input) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := in
	cp.Shape = cloneShape(in.Shape)
	r.overrideInputs[in.Name] = &cp
	r.needsNormalization = true
	return nil
}

func (r *Request) AddRequestedOutput(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestedOutputs[name] = true
	r.needsNormalization = true
}

func (r *Request) RemoveRequestedOutput(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requestedOutputs, name)
	r.needsNormalization = true
}

func (r *Request) SetPriority(p uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Priority = p
	r.needsNormalization = true
}

func (r *Request) SetTimeoutMicroseconds(us int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.TimeoutUs = us
}

func (r *Request) SetCorrelationId(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CorrelationID = id
}

func (r *Request) SetFlags(f uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Flags = f
}

// RequestedOutputNames returns the requested-output set, sorted isn't
// required — the scheduler compares sets, not order.
func (r *Request) RequestedOutputNames() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.requestedOutputs))
	for k := range r.requestedOutputs {
		out[k] = true
	}
	return out
}

// Inputs returns the frozen, post-Prepare input map. Callers must not
// mutate the returned map or its Input values.
func (r *Request) Inputs() map[string]*Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputs
}

// NeedsNormalization reports whether mutation since the last Prepare call
// requires another Prepare before scheduling.
func (r *Request) NeedsNormalization() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.needsNormalization
}
