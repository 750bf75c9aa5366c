// Package safeptr implements a generation-counted weak pointer, used by
// cut-through activation records to reference an owning connection without
// extending its lifetime or risking a wake call into a freed connection
// (§4.6, §5 lock order "server activation → connection → content →
// activation record").
//
// Grounded on qpid-dispatch's qd_connection_t-id / safe_deref pattern, as
// exercised by cutthrough_utils.c's activate_connection: a store captures a
// target plus its generation; a deref succeeds only if the generation still
// matches what the store holds, so a reused/freed-and-reallocated slot
// cannot be mistaken for the original target.
package safeptr

import "sync/atomic"

// generation is a process-wide monotonic counter handed out to every new
// Box, so two Boxes never compare equal across a free/reuse cycle.
var generation uint64

func nextGeneration() uint64 {
	return atomic.AddUint64(&generation, 1)
}

// Box owns a value of type T and the generation identifying it. Connections
// (or any long-lived owner a Ptr might reference) hold one Box for their
// entire lifetime and call Invalidate when torn down.
type Box[T any] struct {
	gen   uint64
	value atomic.Pointer[T]
}

// NewBox creates a Box wrapping value, assigning it a fresh generation.
func NewBox[T any](value *T) *Box[T] {
	b := &Box[T]{gen: nextGeneration()}
	b.value.Store(value)
	return b
}

// Ptr returns a weak, generation-checked reference to the Box's value.
func (b *Box[T]) Ptr() Ptr[T] {
	return Ptr[T]{box: b, gen: b.gen}
}

// Invalidate clears the boxed value so every outstanding Ptr's Deref
// returns nil from this point on, without freeing the Box itself.
func (b *Box[T]) Invalidate() {
	b.value.Store(nil)
}

// Ptr is a weak reference captured at one point in time. Holding a Ptr does
// not keep the referenced value alive and does not block its owner's
// teardown.
type Ptr[T any] struct {
	box *Box[T]
	gen uint64
}

// Deref returns the current value if the Box is still live and its
// generation has not changed since the Ptr was taken, or nil otherwise.
func (p Ptr[T]) Deref() *T {
	if p.box == nil || p.box.gen != p.gen {
		return nil
	}
	return p.box.value.Load()
}

// Valid reports whether Deref would currently return a non-nil value.
func (p Ptr[T]) Valid() bool { return p.Deref() != nil }
