// Package delivery implements the Delivery/Link data model (§3, §4.8): the
// disposition machine that pairs a Message with a Link, per-link credit and
// FIFO undelivered/unsettled queues, a settle-rate ring advanced by uptime
// ticks, and a stuck-delivery detector.
package delivery

import (
	"github.com/trunkline/trunkrouter/internal/message"
)

// Disposition is the AMQP terminal (or pending) outcome of a delivery.
type Disposition int

const (
	DispositionUnknown Disposition = iota
	DispositionAccepted
	DispositionRejected
	DispositionReleased
	DispositionModified
)

func (d Disposition) String() string {
	switch d {
	case DispositionAccepted:
		return "ACCEPTED"
	case DispositionRejected:
		return "REJECTED"
	case DispositionReleased:
		return "RELEASED"
	case DispositionModified:
		return "MODIFIED"
	default:
		return "UNKNOWN"
	}
}

// Delivery pairs a Message with a Link (§3's "Delivery" entry). Lifetime is
// the longer of the sending side's and receiving side's holds; the final
// decref releases the Message handle.
type Delivery struct {
	msg  *message.Message
	link *Link

	localDisposition  Disposition
	remoteDisposition Disposition
	settled           bool

	// context correlates this delivery with the adaptor's own stream state
	// (e.g. an HTTP/2 stream id); opaque to this package.
	context interface{}

	prev, next *Delivery // intrusive FIFO pointers, owned by the Link's queues
}

// NewDelivery creates a delivery over msg, unassigned to any link yet.
func NewDelivery(msg *message.Message) *Delivery {
	return &Delivery{msg: msg}
}

// Message returns the delivery's message handle.
func (d *Delivery) Message() *message.Message { return d.msg }

// Link returns the link this delivery is currently queued on, or nil.
func (d *Delivery) Link() *Link { return d.link }

// SetContext records the adaptor's correlation pointer.
func (d *Delivery) SetContext(ctx interface{}) { d.context = ctx }

// Context returns the adaptor's correlation pointer.
func (d *Delivery) Context() interface{} { return d.context }

// LocalDisposition returns the disposition this side has applied.
func (d *Delivery) LocalDisposition() Disposition { return d.localDisposition }

// RemoteDisposition returns the disposition the peer has applied.
func (d *Delivery) RemoteDisposition() Disposition { return d.remoteDisposition }

// SetLocalDisposition records this side's disposition.
func (d *Delivery) SetLocalDisposition(disp Disposition) { d.localDisposition = disp }

// SetRemoteDisposition records the peer's disposition.
func (d *Delivery) SetRemoteDisposition(disp Disposition) { d.remoteDisposition = disp }

// Settled reports whether both sides consider this delivery settled.
func (d *Delivery) Settled() bool { return d.settled }

// Release clears the delivery's message reference. Call once both
// endpoints have finished with the delivery (§3 invariant 3: a Delivery is
// freed iff both endpoints have released their references).
func (d *Delivery) Release() {
	if d.msg != nil {
		d.msg.Release()
		d.msg = nil
	}
}
