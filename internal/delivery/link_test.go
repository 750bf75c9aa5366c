package delivery

import (
	"testing"

	"github.com/trunkline/trunkrouter/internal/clock"
)

func TestNewLinkDefaultsToNonRouterPeer(t *testing.T) {
	l := NewLink("L1", DirectionIncoming, 4)
	if l.PeerIsRouter {
		t.Fatalf("expected a freshly created link to default to a non-router peer")
	}
}

func TestEnqueuePopIsFIFO(t *testing.T) {
	l := NewLink("L1", DirectionOutgoing, 4)
	d1 := NewDelivery(nil)
	d2 := NewDelivery(nil)
	l.Enqueue(d1)
	l.Enqueue(d2)

	got, ok := l.PopUndelivered()
	if !ok || got != d1 {
		t.Fatalf("expected d1 first, got %v ok=%v", got, ok)
	}
	got, ok = l.PopUndelivered()
	if !ok || got != d2 {
		t.Fatalf("expected d2 second, got %v ok=%v", got, ok)
	}
	if l.UnsettledLen() != 2 {
		t.Fatalf("expected both deliveries moved to unsettled, got %d", l.UnsettledLen())
	}
}

func TestSettleRemovesFromUnsettledAndRecordsRing(t *testing.T) {
	l := NewLink("L1", DirectionOutgoing, 4)
	d := NewDelivery(nil)
	l.Enqueue(d)
	l.PopUndelivered()

	l.Settle(d, DispositionAccepted, clock.Tick(1))
	if l.UnsettledLen() != 0 {
		t.Fatalf("expected unsettled drained after settle, got %d", l.UnsettledLen())
	}
	if !d.Settled() {
		t.Fatalf("expected delivery marked settled")
	}
	if rate := l.SettleRate(clock.Tick(1)); rate != 1 {
		t.Fatalf("expected settle rate 1, got %d", rate)
	}
}

func TestSettleRateDecaysAsRingAdvancesPastDepth(t *testing.T) {
	l := NewLink("L1", DirectionOutgoing, 3)
	d := NewDelivery(nil)
	l.Enqueue(d)
	l.PopUndelivered()
	l.Settle(d, DispositionAccepted, clock.Tick(0))

	if rate := l.SettleRate(clock.Tick(0)); rate != 1 {
		t.Fatalf("expected rate 1 at tick 0, got %d", rate)
	}
	if rate := l.SettleRate(clock.Tick(5)); rate != 0 {
		t.Fatalf("expected rate 0 after ring rolled past its depth, got %d", rate)
	}
}

func TestZeroCreditTicksOpensAndClosesAcrossCreditTransitions(t *testing.T) {
	l := NewLink("L1", DirectionIncoming, 4)
	l.SetCredit(5, clock.Tick(0))
	l.SetCredit(0, clock.Tick(0))
	if ticks := l.ZeroCreditTicks(clock.Tick(4)); ticks != 4 {
		t.Fatalf("expected 4 zero-credit ticks, got %d", ticks)
	}
	l.SetCredit(10, clock.Tick(4))
	if ticks := l.ZeroCreditTicks(clock.Tick(9)); ticks != 0 {
		t.Fatalf("expected zero-credit window closed once credit granted, got %d", ticks)
	}
}
