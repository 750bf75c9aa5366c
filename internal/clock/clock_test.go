package clock

import "testing"

func TestAdvanceMovesNowWithoutWaitingOnWallClock(t *testing.T) {
	tk := NewTicker(0)
	if tk.Now() != 0 {
		t.Fatalf("expected tick 0 initially, got %d", tk.Now())
	}
	tk.Advance(3)
	if tk.Now() != 3 {
		t.Fatalf("expected tick 3 after advancing, got %d", tk.Now())
	}
	tk.Advance(1)
	if tk.Now() != 4 {
		t.Fatalf("expected tick 4, got %d", tk.Now())
	}
}
