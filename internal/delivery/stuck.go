package delivery

import (
	"golang.org/x/time/rate"

	"github.com/trunkline/trunkrouter/internal/clock"
)

// StuckThresholds configures how long a link may sit at zero credit or with
// an undelivered head before the detector marks it stuck.
type StuckThresholds struct {
	ZeroCreditTicks      uint64
	DelayedDeliveryTicks uint64
}

// DefaultStuckThresholds returns thresholds grounded on the management
// table's "zero-credit seconds" and "delayed delivery" columns (§4.8),
// expressed in ticks rather than seconds.
func DefaultStuckThresholds() StuckThresholds {
	return StuckThresholds{ZeroCreditTicks: 10, DelayedDeliveryTicks: 10}
}

// StuckReport names why a link was flagged.
type StuckReport struct {
	ZeroCredit      bool
	DelayedDelivery bool
}

// Stuck reports whether either reason fired.
func (r StuckReport) Stuck() bool { return r.ZeroCredit || r.DelayedDelivery }

// Detector evaluates links against StuckThresholds. It only marks; per §7
// ("Flow... Policy: local back-pressure only") and §5 ("drive a
// stuck-delivery detector that may mark but does not cancel messages") it
// never settles, releases, or closes anything itself.
type Detector struct {
	thresholds StuckThresholds
	limiter    *rate.Limiter
}

// NewDetector creates a detector with the given thresholds and no sweep
// pacing (Sweep evaluates every link it's given in one call).
func NewDetector(t StuckThresholds) *Detector {
	return &Detector{thresholds: t, limiter: rate.NewLimiter(rate.Inf, 0)}
}

// WithSweepRate bounds Sweep to evaluating at most linksPerSecond links per
// second, so a large link table can't monopolize the core thread in a
// single tick (§5). Returns the detector for chaining.
func (d *Detector) WithSweepRate(linksPerSecond int) *Detector {
	d.limiter = rate.NewLimiter(rate.Limit(linksPerSecond), linksPerSecond)
	return d
}

// Evaluate checks link against the detector's thresholds as of now. If the
// undelivered queue is non-empty it first opens the delayed-delivery
// window on the link (a no-op if already open).
func (d *Detector) Evaluate(link *Link, now clock.Tick) StuckReport {
	if link.UndeliveredLen() > 0 {
		link.MarkDelayedSince(now)
	}
	return StuckReport{
		ZeroCredit:      link.ZeroCreditTicks(now) >= d.thresholds.ZeroCreditTicks,
		DelayedDelivery: link.DelayedTicks(now) >= d.thresholds.DelayedDeliveryTicks,
	}
}

// SweepResult pairs a swept link with its report.
type SweepResult struct {
	Link   *Link
	Report StuckReport
}

// Sweep evaluates links starting at from, stopping once the sweep rate
// limiter is exhausted, and reports where the next Sweep call should
// resume. A full pass wraps next back to 0.
func (d *Detector) Sweep(links []*Link, now clock.Tick, from int) (results []SweepResult, next int) {
	i := from
	for i < len(links) {
		if !d.limiter.Allow() {
			break
		}
		results = append(results, SweepResult{Link: links[i], Report: d.Evaluate(links[i], now)})
		i++
	}
	if i >= len(links) {
		i = 0
	}
	return results, i
}
