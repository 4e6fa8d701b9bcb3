package tensor

import (
	"sync"
	"sync/atomic"
)

// Buffer is the backing storage of a tensor.
//
// There are exactly two kinds: OwnedBuffer, obtained from a memory manager and writable by
// kernels, and BorrowedBuffer, which aliases externally owned constant memory (e.g. the
// mapped model file) and exposes no mutating accessor.
type Buffer interface {
	// Bytes returns a read-only view of the storage.
	Bytes() []byte

	// Len returns the storage size in bytes.
	Len() int

	buffer()
}

// OwnedBuffer is reference-counted, allocator-backed storage.
// The reference count lets an in-place kernel share its input's storage as output.
type OwnedBuffer struct {
	data     []byte
	refCount atomic.Int32
	mu       sync.Mutex // For safe deallocation
}

// NewOwnedBuffer wraps data, that the caller hands over, with refCount = 1.
func NewOwnedBuffer(data []byte) *OwnedBuffer {
	buf := &OwnedBuffer{data: data}
	buf.refCount.Store(1)
	return buf
}

// Bytes implements Buffer.
func (b *OwnedBuffer) Bytes() []byte { return b.data }

// Len implements Buffer.
func (b *OwnedBuffer) Len() int { return len(b.data) }

// MutableBytes returns the writable storage.
func (b *OwnedBuffer) MutableBytes() []byte { return b.data }

func (b *OwnedBuffer) buffer() {}

// AddRef increments the reference count.
func (b *OwnedBuffer) AddRef() {
	b.refCount.Add(1)
}

// Release decrements the reference count. It returns the storage once the last reference is
// gone, so the caller can recycle it, and nil otherwise.
func (b *OwnedBuffer) Release() []byte {
	if b.refCount.Add(-1) != 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.data
	b.data = nil
	return data
}

// RefCount returns the current number of references.
func (b *OwnedBuffer) RefCount() int {
	return int(b.refCount.Load())
}

// BorrowedBuffer aliases memory owned by someone else. It is never handed to a memory manager.
type BorrowedBuffer struct {
	data []byte
}

// Borrow wraps externally owned memory without copying it.
func Borrow(data []byte) *BorrowedBuffer {
	return &BorrowedBuffer{data: data}
}

// Bytes implements Buffer. The returned slice must not be written.
func (b *BorrowedBuffer) Bytes() []byte { return b.data }

// Len implements Buffer.
func (b *BorrowedBuffer) Len() int { return len(b.data) }

func (b *BorrowedBuffer) buffer() {}
