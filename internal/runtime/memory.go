package runtime

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/born-ml/micro/internal/tensor"
)

// MemoryManager provides storage for non-constant tensors.
type MemoryManager interface {
	// Allocate attaches owned storage sized for t. t must not have storage yet.
	Allocate(t *tensor.Tensor) error

	// Release detaches t's storage and recycles it once no other tensor shares it.
	// Tensors without storage, or with borrowed storage, are left untouched.
	Release(t *tensor.Tensor)
}

// sizeClasses are the byte capacities handed out by SimpleMemoryManager. Larger requests are
// pooled by exact size.
var sizeClasses = []int{
	1 << 8,
	1 << 10,
	1 << 12,
	1 << 14,
	1 << 16,
	1 << 18,
	1 << 20,
	1 << 22,
	1 << 24,
}

func sizeClassCapacity(size int) int {
	for _, capacity := range sizeClasses {
		if size <= capacity {
			return capacity
		}
	}
	return size
}

// MemoryStats are allocation counters of a SimpleMemoryManager.
type MemoryStats struct {
	Allocations int64 // Calls to Allocate.
	Releases    int64 // Buffers returned to the pool.
	Created     int64 // Backing arrays created because the pool was empty.
	BytesInUse  int64 // Bytes handed out and not yet returned.
}

// SimpleMemoryManager hands out zeroed byte slices from size-class pools.
// It is safe for concurrent use.
type SimpleMemoryManager struct {
	pools sync.Map // capacity -> *sync.Pool of *[]byte

	allocations atomic.Int64
	releases    atomic.Int64
	created     atomic.Int64
	bytesInUse  atomic.Int64
}

var _ MemoryManager = (*SimpleMemoryManager)(nil)

// NewSimpleMemoryManager creates an empty pooled memory manager.
func NewSimpleMemoryManager() *SimpleMemoryManager {
	return &SimpleMemoryManager{}
}

func (m *SimpleMemoryManager) pool(capacity int) *sync.Pool {
	if p, ok := m.pools.Load(capacity); ok {
		return p.(*sync.Pool)
	}
	p, _ := m.pools.LoadOrStore(capacity, &sync.Pool{
		New: func() any {
			m.created.Add(1)
			data := make([]byte, capacity)
			return &data
		},
	})
	return p.(*sync.Pool)
}

// Allocate implements MemoryManager.
func (m *SimpleMemoryManager) Allocate(t *tensor.Tensor) error {
	if t.HasData() {
		return errors.Errorf("tensor %s already has storage", t)
	}
	size := t.ByteSize()
	data := *(m.pool(sizeClassCapacity(size)).Get().(*[]byte))
	data = data[:size]
	clear(data)
	t.SetOwnedBuffer(tensor.NewOwnedBuffer(data))

	m.allocations.Add(1)
	m.bytesInUse.Add(int64(cap(data)))
	return nil
}

// Release implements MemoryManager.
func (m *SimpleMemoryManager) Release(t *tensor.Tensor) {
	owned, ok := t.Owned()
	if !ok {
		return
	}
	t.DetachBuffer()
	data := owned.Release()
	if data == nil {
		return
	}
	data = data[:cap(data)]
	m.pool(cap(data)).Put(&data)

	m.releases.Add(1)
	m.bytesInUse.Add(-int64(cap(data)))
}

// Stats returns a snapshot of the allocation counters.
func (m *SimpleMemoryManager) Stats() MemoryStats {
	return MemoryStats{
		Allocations: m.allocations.Load(),
		Releases:    m.releases.Load(),
		Created:     m.created.Load(),
		BytesInUse:  m.bytesInUse.Load(),
	}
}
