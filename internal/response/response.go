// Package response builds per-request inference results via a
// caller-supplied allocator, matching the "Response allocator" collaborator
// interface.
package response

import (
	"github.com/servecore/runtime/internal/modelconfig"
	"github.com/servecore/runtime/internal/status"
)

// MemoryType is the actual (not merely preferred) memory kind a buffer
// ended up in. The allocator may downgrade pinned to pageable; the core
// records and uses the actual type.
type MemoryType int

const (
	MemoryCPU MemoryType = iota
	MemoryCPUPinned
	MemoryGPU
)

// Output is one named result tensor.
type Output struct {
	Name       string
	Datatype   modelconfig.Datatype
	Shape      []int64
	Buffer     []byte
	ByteSize   int64
	MemoryType MemoryType
	DeviceID   int
}

// Response is the per-request result: an ordered list of outputs and a
// top-level status.
type Response struct {
	RequestID string
	Outputs   []Output
	Status    error
}

// Allocator is the three-callback collaborator interface.
type Allocator interface {
	Alloc(name string, byteSize int64, preferredMemType MemoryType, preferredDeviceID int) (buf []byte, userPtr interface{}, actualMemType MemoryType, actualDeviceID int, err error)
	Release(buf []byte, userPtr interface{}, byteSize int64, memType MemoryType, deviceID int) error
}

// Builder allocates output buffers and assembles per-request Responses,
// failing only the single response (not the whole batch) on an allocator
// error ("Allocator failures on response construction fail that single
// response").
type Builder struct {
	Alloc Allocator
}

func New(alloc Allocator) *Builder { return &Builder{Alloc: alloc} }

// Prepare allocates buffers for every named output a request asked for and
// returns a Response ready for the backend to fill.
func (b *Builder) Prepare(requestID string, outputs []modelconfig.IOSpec, byteSizes map[string]int64, preferredMemType MemoryType, preferredDeviceID int) (*Response, error) {
	resp := &Response{RequestID: requestID}
	seen := make(map[string]bool, len(outputs))

	for _, o := range outputs {
		if seen[o.Name] {
			return nil, status.New(status.AlreadyExists, "duplicate response buffer allocation for output %q", o.Name)
		}
		seen[o.Name] = true

		size := byteSizes[o.Name]
		buf, _, actualType, actualDevice, err := b.Alloc.Alloc(o.Name, size, preferredMemType, preferredDeviceID)
		if err != nil {
			return nil, status.Wrap(status.Internal, err, "allocating output %q", o.Name)
		}
		if int64(len(buf)) < size {
			return nil, status.New(status.Internal, "allocator returned a buffer smaller than requested for output %q", o.Name)
		}

		resp.Outputs = append(resp.Outputs, Output{
			Name:       o.Name,
			Datatype:   o.Datatype,
			ByteSize:   size,
			Buffer:     buf,
			MemoryType: actualType,
			DeviceID:   actualDevice,
		})
	}
	return resp, nil
}
