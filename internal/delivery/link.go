package delivery

import (
	"sync"

	"github.com/trunkline/trunkrouter/internal/clock"
)

// Direction names which way deliveries flow across a Link.
type Direction int

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
)

// SettleRing is a fixed-depth ring counting settlements per uptime tick,
// advanced lazily up to the current tick before being read (§4.8: "Link
// settle rate column is computed lazily by advancing the per-link ring
// buffer up to the current uptime tick before reading").
type SettleRing struct {
	counts   []uint32
	lastTick clock.Tick
	started  bool
}

// NewSettleRing creates a ring of the given tick depth.
func NewSettleRing(depth int) *SettleRing {
	if depth <= 0 {
		depth = 1
	}
	return &SettleRing{counts: make([]uint32, depth)}
}

// AdvanceTo rolls the ring forward to now, zeroing every slot the advance
// passes over. A jump of depth ticks or more clears the whole ring.
func (r *SettleRing) AdvanceTo(now clock.Tick) {
	if !r.started {
		r.lastTick = now
		r.started = true
		return
	}
	if now <= r.lastTick {
		return
	}
	delta := uint64(now - r.lastTick)
	depth := uint64(len(r.counts))
	if delta >= depth {
		for i := range r.counts {
			r.counts[i] = 0
		}
	} else {
		for i := uint64(1); i <= delta; i++ {
			r.counts[(uint64(r.lastTick)+i)%depth] = 0
		}
	}
	r.lastTick = now
}

// RecordSettle increments the slot for now, advancing the ring first.
func (r *SettleRing) RecordSettle(now clock.Tick) {
	r.AdvanceTo(now)
	r.counts[uint64(now)%uint64(len(r.counts))]++
}

// Rate returns the total settlements recorded across the ring's depth,
// after advancing to now.
func (r *SettleRing) Rate(now clock.Tick) uint32 {
	r.AdvanceTo(now)
	var total uint32
	for _, c := range r.counts {
		total += c
	}
	return total
}

// Link is a named unidirectional flow between the local adaptor and its
// peer (§3's "Link" entry), owned exclusively by its Connection.
type Link struct {
	mu sync.Mutex

	Name      string
	Direction Direction

	// PeerIsRouter reports whether the peer directly connected across this
	// link is itself a router, as opposed to a non-router client or
	// consumer. Router-annotations are only valid on a link where this is
	// true (§4.3); it defaults false, the correct value for every
	// client-facing adaptor link.
	PeerIsRouter bool

	credit int

	undelivered []*Delivery
	unsettled   []*Delivery

	settleRing *SettleRing

	firstZeroCredit    clock.Tick
	zeroCreditOpen     bool
	delayedDeliveryTick clock.Tick
	delayedDeliveryOpen bool
}

// NewLink creates a link with no credit and an empty FIFO, ready to queue
// deliveries.
func NewLink(name string, dir Direction, settleRingDepth int) *Link {
	return &Link{
		Name:      name,
		Direction: dir,
		settleRing: NewSettleRing(settleRingDepth),
	}
}

// Credit returns the link's current credit window.
func (l *Link) Credit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credit
}

// SetCredit updates the credit window, opening or closing the
// first-zero-credit timestamp as the window crosses zero.
func (l *Link) SetCredit(n int, now clock.Tick) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n == 0 && l.credit != 0 {
		l.firstZeroCredit = now
		l.zeroCreditOpen = true
	} else if n != 0 {
		l.zeroCreditOpen = false
	}
	l.credit = n
}

// ZeroCreditTicks reports how many ticks the link has continuously held
// zero credit, or 0 if it currently has credit.
func (l *Link) ZeroCreditTicks(now clock.Tick) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.zeroCreditOpen {
		return 0
	}
	return uint64(now - l.firstZeroCredit)
}

// Enqueue appends d to the undelivered FIFO, strictly ordered (§5
// ordering: "Within one link, deliveries are strictly FIFO").
func (l *Link) Enqueue(d *Delivery) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d.link = l
	l.undelivered = append(l.undelivered, d)
}

// PopUndelivered removes and returns the oldest undelivered delivery,
// moving it to the unsettled queue.
func (l *Link) PopUndelivered() (*Delivery, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.undelivered) == 0 {
		return nil, false
	}
	d := l.undelivered[0]
	l.undelivered = l.undelivered[1:]
	l.unsettled = append(l.unsettled, d)
	l.delayedDeliveryOpen = false
	return d, true
}

// UndeliveredLen reports the current undelivered queue depth.
func (l *Link) UndeliveredLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.undelivered)
}

// UnsettledLen reports the current unsettled queue depth.
func (l *Link) UnsettledLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.unsettled)
}

// Settle removes d from the unsettled queue and records the settlement in
// the settle-rate ring.
func (l *Link) Settle(d *Delivery, disp Disposition, now clock.Tick) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, u := range l.unsettled {
		if u == d {
			l.unsettled = append(l.unsettled[:i], l.unsettled[i+1:]...)
			break
		}
	}
	d.settled = true
	d.remoteDisposition = disp
	l.settleRing.RecordSettle(now)
}

// SettleRate returns settlements recorded within the ring's tick depth, as
// of now.
func (l *Link) SettleRate(now clock.Tick) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settleRing.Rate(now)
}

// MarkDelayedSince opens the delayed-delivery window starting at now, if
// not already open, for the stuck-delivery detector to evaluate.
func (l *Link) MarkDelayedSince(now clock.Tick) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.delayedDeliveryOpen {
		l.delayedDeliveryTick = now
		l.delayedDeliveryOpen = true
	}
}

// DelayedTicks reports how long the oldest undelivered delivery has been
// waiting, or 0 if none is marked delayed.
func (l *Link) DelayedTicks(now clock.Tick) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.delayedDeliveryOpen {
		return 0
	}
	return uint64(now - l.delayedDeliveryTick)
}
