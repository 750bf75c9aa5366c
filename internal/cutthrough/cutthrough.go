// Package cutthrough implements the fixed single-producer/single-consumer
// ring of buffer lists that lets a message pinned to exactly one downstream
// consumer bypass classical parse/compose (§4.6).
package cutthrough

import (
	"sync"

	"github.com/trunkline/trunkrouter/internal/buffer"
	"github.com/trunkline/trunkrouter/internal/safeptr"
)

// SlotCount is the ring's fixed capacity.
const SlotCount = 8

// ResumeThreshold is the fill level at or below which a stalled consumer
// unsticks the producer (§4.6 resume_from_stalled).
const ResumeThreshold = 4

// ActivationType names what kind of connection an ActivationRecord wakes.
type ActivationType int

const (
	ActivationNone ActivationType = iota
	ActivationAMQP
	ActivationTCP
)

// Waker is the connection-side primitive an ActivationRecord invokes to
// resume a stalled producer or consumer. Implementations must take the
// server's activation lock around any use of the raw-connection wake
// primitive per §5's lock order.
type Waker interface {
	WakeCutthrough(incoming bool)
}

// ActivationRecord is `{type, weak_ref_to_connection, delivery?}` from
// §4.6: a non-owning reference used to wake the connection that should run
// next, without risking a wake into a connection that has already been
// torn down.
type ActivationRecord struct {
	Type   ActivationType
	Target safeptr.Ptr[Waker]
}

// Activate calls the target's wake primitive if it is still live. A nil or
// invalidated target is silently ignored, matching activate_connection's
// "qconn == NULL -> return" behavior.
func (a ActivationRecord) Activate(incoming bool) {
	if a.Type == ActivationNone {
		return
	}
	if w := a.Target.Deref(); w != nil {
		(*w).WakeCutthrough(incoming)
	}
}

// Ring is the fixed SLOT_COUNT ring of buffer lists.
type Ring struct {
	mu      sync.Mutex
	slots   [SlotCount]*buffer.Chain
	produce uint64
	consume uint64
	stalled bool

	producerActivation ActivationRecord
	consumerActivation ActivationRecord
}

// NewRing creates an empty cut-through ring.
func NewRing() *Ring { return &Ring{} }

// SetProducerActivation registers the record woken when the ring drains
// enough for the producer to resume.
func (r *Ring) SetProducerActivation(a ActivationRecord) {
	r.mu.Lock()
	r.producerActivation = a
	r.mu.Unlock()
}

// SetConsumerActivation registers the record woken when the ring gains a
// buffer list for the consumer to drain.
func (r *Ring) SetConsumerActivation(a ActivationRecord) {
	r.mu.Lock()
	r.consumerActivation = a
	r.mu.Unlock()
}

// CanProduceBuffers reports whether the producer may call ProduceBuffers:
// (produce_slot - consume_slot) < SLOT_COUNT.
func (r *Ring) CanProduceBuffers() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.produce-r.consume < SlotCount
}

// CanConsumeBuffers reports whether a filled slot is available.
func (r *Ring) CanConsumeBuffers() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.produce != r.consume
}

// ProduceBuffers moves list, in whole, into the next slot. The caller must
// have observed a true CanProduceBuffers immediately before calling.
func (r *Ring) ProduceBuffers(list *buffer.Chain) {
	r.mu.Lock()
	idx := r.produce % SlotCount
	r.slots[idx] = list
	r.produce++
	consumerActivation := r.consumerActivation
	r.mu.Unlock()

	consumerActivation.Activate(false)
}

// ConsumeBuffers returns up to limit filled slots' chains, oldest first.
func (r *Ring) ConsumeBuffers(limit int) []*buffer.Chain {
	r.mu.Lock()
	var out []*buffer.Chain
	for len(out) < limit && r.consume != r.produce {
		idx := r.consume % SlotCount
		out = append(out, r.slots[idx])
		r.slots[idx] = nil
		r.consume++
	}
	producerActivation := r.producerActivation
	r.mu.Unlock()

	if len(out) > 0 {
		producerActivation.Activate(true)
	}
	return out
}

// FullSlotCount reports the number of currently filled slots.
func (r *Ring) FullSlotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.produce - r.consume)
}

// MarkStalled records that the consuming side has nothing left to drain
// and is waiting on more production.
func (r *Ring) MarkStalled() {
	r.mu.Lock()
	r.stalled = true
	r.mu.Unlock()
}

// ResumeFromStalled returns true exactly once per stall episode: when the
// ring had been marked stalled and its fill level has dropped to
// ResumeThreshold or below. It clears the stalled bit as a side effect, so
// a second call returns false until MarkStalled is called again.
func (r *Ring) ResumeFromStalled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stalled && int(r.produce-r.consume) <= ResumeThreshold {
		r.stalled = false
		return true
	}
	return false
}
