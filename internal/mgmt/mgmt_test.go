package mgmt

import (
	"context"
	"testing"
	"time"

	"github.com/trunkline/trunkrouter/internal/clock"
	"github.com/trunkline/trunkrouter/internal/core"
	"github.com/trunkline/trunkrouter/internal/delivery"
)

func runQueue(t *testing.T) (*core.Queue, func()) {
	t.Helper()
	q := core.NewQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()
	return q, func() {
		cancel()
		<-done
	}
}

func TestConfigTableWalkReturnsRowsThenStops(t *testing.T) {
	q, stop := runQueue(t)
	defer stop()

	table := NewConfigTable([]ConfigRecord{
		{Name: "q2_upper", Value: "64"},
		{Name: "q2_lower", Value: "32"},
	})
	w := NewWalker(q)

	row, next, ok := w.GetFirst(table, 0, nil)
	if !ok || row["name"] != "q2_upper" {
		t.Fatalf("unexpected first row: %+v ok=%v", row, ok)
	}
	row, next, ok = w.GetNext(table, next, nil)
	if !ok || row["name"] != "q2_lower" {
		t.Fatalf("unexpected second row: %+v ok=%v", row, ok)
	}
	if _, _, ok := w.GetNext(table, next, nil); ok {
		t.Fatalf("expected walk to stop past the last row")
	}
}

func TestConfigTableWalkRespectsColumnSubset(t *testing.T) {
	q, stop := runQueue(t)
	defer stop()

	table := NewConfigTable([]ConfigRecord{{Name: "q2_upper", Value: "64"}})
	w := NewWalker(q)

	row, _, ok := w.GetFirst(table, 0, []string{"name"})
	if !ok {
		t.Fatalf("expected a row")
	}
	if _, present := row["value"]; present {
		t.Fatalf("expected value column excluded from subset, got %+v", row)
	}
	if row["name"] != "q2_upper" {
		t.Fatalf("expected name column present, got %+v", row)
	}
}

func TestAddressTableEvictsLeastRecentlyUsed(t *testing.T) {
	table := NewAddressTable(2)
	table.SetNextHop("a", "link-a")
	table.SetNextHop("b", "link-b")
	table.SetNextHop("c", "link-c") // evicts "a"

	if table.Len() != 2 {
		t.Fatalf("expected 2 live addresses after eviction, got %d", table.Len())
	}
	for i := 0; i < table.Len(); i++ {
		if table.Row(i, nil)["address"] == "a" {
			t.Fatalf("expected evicted address a to be gone from the walk")
		}
	}
}

func TestLinkTableReflectsLiveLinkState(t *testing.T) {
	// One settled delivery on a depth-4 link shows up in the row; once the
	// clock moves past the ring depth the settleRate column drops to zero.
	clk := clock.NewTicker(time.Millisecond)
	l := delivery.NewLink("L1", delivery.DirectionOutgoing, 4)
	d := delivery.NewDelivery(nil)
	l.Enqueue(d)
	l.PopUndelivered()
	l.Settle(d, delivery.DispositionAccepted, clk.Now())
	table := NewLinkTable(clk, func() []*delivery.Link { return []*delivery.Link{l} })

	row := table.Row(0, nil)
	if row["name"] != "L1" || row["direction"] != "outgoing" || row["unsettled"] != 0 {
		t.Fatalf("unexpected link row: %+v", row)
	}
	if row["settleRate"] != uint32(1) {
		t.Fatalf("expected settleRate 1 right after one settlement, got %v", row["settleRate"])
	}
	clk.Advance(4)
	if got := table.Row(0, []string{"settleRate"})["settleRate"]; got != uint32(0) {
		t.Fatalf("expected settleRate 0 once the clock passes the ring depth, got %v", got)
	}
}
