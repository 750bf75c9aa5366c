// Package flowcontrol implements the two-level Q2/Q3 back-pressure
// controllers (§4.5): Q2 bounds the buffer-chain length of a single
// message's content, Q3 bounds the pending octets of an entire session.
package flowcontrol

import "sync"

// Watermarks holds the tunable Q2/Q3 thresholds (§6 Environment).
type Watermarks struct {
	Q2Lower int
	Q2Upper int
	Q3Lower int
	Q3Upper int
}

// DefaultWatermarks returns the defaults named in §4.5: Q2_UPPER=64,
// Q2_LOWER=32, Q3_UPPER=2*(2*Q2_UPPER), Q3_LOWER=Q3_UPPER/2.
func DefaultWatermarks() Watermarks {
	q2upper := 64
	q3upper := 2 * (2 * q2upper)
	return Watermarks{
		Q2Lower: 32,
		Q2Upper: q2upper,
		Q3Lower: q3upper / 2,
		Q3Upper: q3upper,
	}
}

// UnblockHandler is invoked when a Q2 controller transitions from blocked
// to unblocked. It must be safe to call from any thread and must not block.
type UnblockHandler func()

// Q2 gates a single message's buffer-chain growth against Q2Upper/Q2Lower.
// should_block and should_unblock are evaluated under the caller's content
// lock, per §5's locking discipline; Q2 itself adds no additional lock.
type Q2 struct {
	upper, lower int
	disabled     bool
	blocked      bool
	unblock      UnblockHandler
}

// NewQ2 creates a Q2 controller with the given watermarks.
func NewQ2(w Watermarks) *Q2 {
	return &Q2{upper: w.Q2Upper, lower: w.Q2Lower}
}

// SetUnblockHandler registers the handler invoked on unblock transitions.
func (q *Q2) SetUnblockHandler(h UnblockHandler) { q.unblock = h }

// Disable turns Q2 off for this message. Idempotent: disabling twice is a
// no-op.
func (q *Q2) Disable() {
	if q.disabled {
		return
	}
	q.disabled = true
	if q.blocked {
		q.blocked = false
		if q.unblock != nil {
			q.unblock()
		}
	}
}

// Disabled reports whether Q2 has been disabled for this message.
func (q *Q2) Disabled() bool { return q.disabled }

// ShouldBlock reports whether the producer should stop on a chain of the
// given buffer count (strictly greater than the upper watermark).
func (q *Q2) ShouldBlock(bufferCount int) bool {
	if q.disabled {
		return false
	}
	return bufferCount > q.upper
}

// Observe updates the controller's blocked state for a new buffer count,
// invoking the unblock handler at most once per transition below the low
// watermark. Returns true if this call transitioned the controller to
// blocked (for callers that need to suspend their producing link).
func (q *Q2) Observe(bufferCount int) (nowBlocked bool) {
	if q.disabled {
		return false
	}
	if !q.blocked && bufferCount > q.upper {
		q.blocked = true
		return true
	}
	if q.blocked && bufferCount <= q.lower {
		q.blocked = false
		if q.unblock != nil {
			q.unblock()
		}
	}
	return false
}

// Blocked reports the controller's current state.
func (q *Q2) Blocked() bool { return q.blocked }

// Q3 gates an entire session's pending outgoing octets against
// Q3Upper/Q3Lower. Unlike Q2, many links share one Q3 controller (one per
// session), so it carries its own mutex.
type Q3 struct {
	mu      sync.Mutex
	upper   int
	lower   int
	pending int
	stalled bool
	links   []func(bool) // notified with the new stalled state on transition
}

// NewQ3 creates a Q3 controller with the given watermarks.
func NewQ3(w Watermarks) *Q3 {
	return &Q3{upper: w.Q3Upper, lower: w.Q3Lower}
}

// Subscribe registers a link to be notified when the session's stalled
// state changes. notify(true) means "stop pushing frames", notify(false)
// means "resume".
func (q *Q3) Subscribe(notify func(bool)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.links = append(q.links, notify)
}

// Add accounts for n more pending octets (n may be negative when octets
// drain), notifying subscribed links on a stall/resume transition.
func (q *Q3) Add(n int) {
	q.mu.Lock()
	q.pending += n
	var transition int // 0 none, 1 stalled, -1 resumed
	if !q.stalled && q.pending > q.upper {
		q.stalled = true
		transition = 1
	} else if q.stalled && q.pending <= q.lower {
		q.stalled = false
		transition = -1
	}
	links := q.links
	q.mu.Unlock()

	if transition != 0 {
		for _, notify := range links {
			notify(transition == 1)
		}
	}
}

// Stalled reports whether the session is currently Q3-stalled.
func (q *Q3) Stalled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stalled
}

// Pending reports the session's current pending-octet count.
func (q *Q3) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}
