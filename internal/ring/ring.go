// Package ring provides a fixed-size single-producer / single-consumer frame
// ring shared between an interrupt-style producer and a polling consumer.
//
// Semantics
//   - Exactly one producer and exactly one consumer.
//   - One slot is sacrificed to tell full from empty:
//     empty: w == r, full: (w+1) mod N == r, occupancy: (w-r) mod N.
//   - The producer owns the write cursor and the slot it points at; the
//     consumer owns the read cursor. Neither side ever stores the other's.
//   - Slot accessors do no bounds or state checks. Check IsFull before
//     WriteSlot/AdvanceWrite and IsEmpty before ReadSlot/AdvanceRead.
//
// Cursors are atomics: the producer's store of w publishes the slot it just
// filled, the consumer's store of r hands the slot back. Every query loads
// both cursors afresh, so no cursor value is cached across a check and the
// slot access that follows it.
package ring

import (
	"fmt"
	"math"
	"sync/atomic"
)

// MaxSize is the largest slot count a Buffer accepts (cursor storage is 32-bit).
const MaxSize = math.MaxUint32

// Buffer is an SPSC ring of N slots holding at most N-1 elements.
// Slots are allocated once in New and reused in place afterwards.
type Buffer[T any] struct {
	slots []T
	size  uint32
	width int
	rd    atomic.Uint32 // consumer cursor
	wr    atomic.Uint32 // producer cursor
}

// New returns a ring with size slots (size-1 usable). A size outside
// [2, MaxSize] is a wiring bug and panics.
func New[T any](size int) *Buffer[T] {
	if size < 2 || uint64(size) > MaxSize {
		panic(fmt.Sprintf("ring: size %d out of range [2, %d]", size, uint64(MaxSize)))
	}
	return &Buffer[T]{
		slots: make([]T, size),
		size:  uint32(size),
		width: IndexWidth(uint64(size)),
	}
}

func (b *Buffer[T]) inc(v uint32) uint32 {
	v++
	if v == b.size {
		return 0
	}
	return v
}

// WriteSlot returns the slot the next AdvanceWrite publishes. Producer only.
func (b *Buffer[T]) WriteSlot() *T { return &b.slots[b.wr.Load()] }

// ReadSlot returns the oldest unread slot. Consumer only.
func (b *Buffer[T]) ReadSlot() *T { return &b.slots[b.rd.Load()] }

// AdvanceWrite publishes the current write slot. Producer only.
func (b *Buffer[T]) AdvanceWrite() { b.wr.Store(b.inc(b.wr.Load())) }

// AdvanceRead releases the current read slot. Consumer only.
func (b *Buffer[T]) AdvanceRead() { b.rd.Store(b.inc(b.rd.Load())) }

// IsFull reports whether another write would overrun the reader.
func (b *Buffer[T]) IsFull() bool { return b.inc(b.wr.Load()) == b.rd.Load() }

// IsEmpty reports whether there is nothing to read.
func (b *Buffer[T]) IsEmpty() bool { return b.rd.Load() == b.wr.Load() }

// Len returns the number of occupied slots.
func (b *Buffer[T]) Len() int {
	r := b.rd.Load()
	w := b.wr.Load()
	if w >= r {
		return int(w - r)
	}
	return int(w + (b.size - r))
}

// Cap returns the usable capacity (size-1).
func (b *Buffer[T]) Cap() int { return int(b.size) - 1 }

// Size returns the slot count N.
func (b *Buffer[T]) Size() int { return int(b.size) }

// Free returns how many more elements fit.
func (b *Buffer[T]) Free() int { return b.Cap() - b.Len() }

// IndexWidth returns the minimal index width in bits for this ring's size.
func (b *Buffer[T]) IndexWidth() int { return b.width }

// Push copies v into the next slot. It returns false when full.
func (b *Buffer[T]) Push(v T) bool {
	if b.IsFull() {
		return false
	}
	*b.WriteSlot() = v
	b.AdvanceWrite()
	return true
}

// Pop copies out the oldest element. It returns false when empty.
func (b *Buffer[T]) Pop() (T, bool) {
	var zero T
	if b.IsEmpty() {
		return zero, false
	}
	v := *b.ReadSlot()
	b.AdvanceRead()
	return v, true
}
