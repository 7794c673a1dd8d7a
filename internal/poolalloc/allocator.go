package poolalloc

import (
	"github.com/servecore/runtime/internal/response"
)

// HostAllocator implements response.Allocator on top of the pinned host
// pool, falling back to pageable memory (MemoryCPU) when the pool is
// exhausted or the caller didn't ask for pinned memory, and routing GPU
// requests to the matching DevicePools.Pool when configured.
type HostAllocator struct {
	Pinned  *Pool
	Devices *DevicePools
}

func NewHostAllocator(pinned *Pool, devices *DevicePools) *HostAllocator {
	return &HostAllocator{Pinned: pinned, Devices: devices}
}

func (a *HostAllocator) Alloc(name string, byteSize int64, preferredMemType response.MemoryType, preferredDeviceID int) ([]byte, interface{}, response.MemoryType, int, error) {
	if preferredMemType == response.MemoryGPU && a.Devices != nil {
		if buf, ok := a.Devices.Pool(preferredDeviceID).TryAcquire(byteSize); ok {
			return buf, nil, response.MemoryGPU, preferredDeviceID, nil
		}
		// fall through to host memory — device pool exhausted
	}

	if preferredMemType == response.MemoryCPUPinned && a.Pinned != nil {
		if buf, ok := a.Pinned.TryAcquire(byteSize); ok {
			return buf, nil, response.MemoryCPUPinned, 0, nil
		}
	}

	return make([]byte, byteSize), nil, response.MemoryCPU, 0, nil
}

func (a *HostAllocator) Release(buf []byte, userPtr interface{}, byteSize int64, memType response.MemoryType, deviceID int) error {
	switch memType {
	case response.MemoryCPUPinned:
		if a.Pinned != nil {
			a.Pinned.Release(byteSize, buf)
		}
	case response.MemoryGPU:
		if a.Devices != nil {
			a.Devices.Pool(deviceID).Release(byteSize, buf)
		}
	}
	return nil
}
