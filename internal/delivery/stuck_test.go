package delivery

import (
	"testing"

	"github.com/trunkline/trunkrouter/internal/clock"
)

func TestDetectorFlagsZeroCreditPastThreshold(t *testing.T) {
	l := NewLink("L1", DirectionOutgoing, 4)
	l.SetCredit(1, clock.Tick(0))
	l.SetCredit(0, clock.Tick(0))

	d := NewDetector(StuckThresholds{ZeroCreditTicks: 5, DelayedDeliveryTicks: 100})
	if report := d.Evaluate(l, clock.Tick(3)); report.Stuck() {
		t.Fatalf("expected not stuck before threshold, got %+v", report)
	}
	if report := d.Evaluate(l, clock.Tick(5)); !report.ZeroCredit {
		t.Fatalf("expected zero-credit flag at threshold, got %+v", report)
	}
}

func TestDetectorFlagsDelayedUndeliveredHead(t *testing.T) {
	l := NewLink("L1", DirectionOutgoing, 4)
	l.Enqueue(NewDelivery(nil))

	d := NewDetector(StuckThresholds{ZeroCreditTicks: 100, DelayedDeliveryTicks: 2})
	d.Evaluate(l, clock.Tick(0))
	if report := d.Evaluate(l, clock.Tick(1)); report.Stuck() {
		t.Fatalf("expected not yet delayed, got %+v", report)
	}
	if report := d.Evaluate(l, clock.Tick(2)); !report.DelayedDelivery {
		t.Fatalf("expected delayed-delivery flag at threshold, got %+v", report)
	}
}

func TestSweepStopsAtRateLimitAndResumesNextCall(t *testing.T) {
	links := []*Link{
		NewLink("L1", DirectionOutgoing, 4),
		NewLink("L2", DirectionOutgoing, 4),
		NewLink("L3", DirectionOutgoing, 4),
	}

	d := NewDetector(DefaultStuckThresholds()).WithSweepRate(1)
	results, next := d.Sweep(links, clock.Tick(0), 0)
	if len(results) != 1 || results[0].Link != links[0] {
		t.Fatalf("expected sweep to stop after the first link, got %+v", results)
	}
	if next != 1 {
		t.Fatalf("expected resume index 1, got %d", next)
	}
}

func TestSweepWithNoLimitCoversEveryLink(t *testing.T) {
	links := []*Link{
		NewLink("L1", DirectionOutgoing, 4),
		NewLink("L2", DirectionOutgoing, 4),
	}

	d := NewDetector(DefaultStuckThresholds())
	results, next := d.Sweep(links, clock.Tick(0), 0)
	if len(results) != 2 {
		t.Fatalf("expected both links swept, got %d", len(results))
	}
	if next != 0 {
		t.Fatalf("expected wraparound to 0 after a full pass, got %d", next)
	}
}

func TestDetectorNeverMutatesLinkState(t *testing.T) {
	l := NewLink("L1", DirectionOutgoing, 4)
	d := NewDetector(DefaultStuckThresholds())
	d.Evaluate(l, clock.Tick(0))
	if l.UndeliveredLen() != 0 || l.UnsettledLen() != 0 {
		t.Fatalf("expected detector to leave queues untouched")
	}
}
