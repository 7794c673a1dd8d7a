// Package backend defines the Backend Handle contract: the per-(model,
// version) unit the scheduler dispatches batches to, and the lifecycle
// states the Model Repository Manager drives it through.
package backend

import (
	"github.com/servecore/runtime/internal/modelconfig"
	"github.com/servecore/runtime/internal/response"
)

// State is a Backend Handle's position in the UNKNOWN -> LOADING -> READY
// -> UNLOADING -> UNAVAILABLE state machine.
type State int

const (
	Unknown State = iota
	Loading
	Ready
	Unloading
	Unavailable
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "UNKNOWN"
	case Loading:
		return "LOADING"
	case Ready:
		return "READY"
	case Unloading:
		return "UNLOADING"
	case Unavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Handle is the interface a loaded model version presents to the
// scheduler and manager. Implementations own whatever framework runtime
// backs the actual model; refbackend.Handle is the reference one.
type Handle interface {
	Name() string
	Version() int64
	Config() *modelconfig.ModelConfig

	MaxPriorityLevel() int
	DefaultPriorityLevel() int

	// GetInput and GetOutput look up a declared tensor spec by name,
	// reporting found=false if undeclared.
	GetInput(name string) (*modelconfig.IOSpec, bool)
	GetOutput(name string) (*modelconfig.IOSpec, bool)

	// Run executes one formed batch and is the only method the
	// scheduler calls on the hot path. builder is the response
	// allocator collaborator — Run must use it to obtain output
	// buffers rather than allocating its own. It must not block past
	// what the underlying framework itself takes.
	Run(batch *Batch, builder *response.Builder) error

	// Close releases any framework-side resources. Called once, from
	// UNLOADING, before the handle transitions to UNAVAILABLE.
	Close() error
}

// Factory constructs a Handle for one model version from its repository
// path and parsed config. Returning an error leaves the version's state
// Unavailable with the error recorded as the failure reason.
type Factory func(name string, version int64, cfg *modelconfig.ModelConfig, versionPath string) (Handle, error)
