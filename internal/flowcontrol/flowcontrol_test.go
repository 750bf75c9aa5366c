package flowcontrol

import "testing"

func TestQ2OscillationFiresUnblockOnce(t *testing.T) {
	q := NewQ2(DefaultWatermarks())
	fired := 0
	q.SetUnblockHandler(func() { fired++ })

	for n := 1; n <= 70; n++ {
		q.Observe(n)
	}
	if !q.Blocked() {
		t.Fatalf("expected blocked after exceeding upper watermark")
	}
	// Drain down to 40 first (still above lower watermark of 32): no unblock yet.
	q.Observe(40)
	if fired != 0 {
		t.Fatalf("expected no unblock yet, fired=%d", fired)
	}
	// Drain to 24 (<=32): unblock fires exactly once.
	q.Observe(24)
	if fired != 1 {
		t.Fatalf("expected exactly one unblock, fired=%d", fired)
	}
	q.Observe(20)
	if fired != 1 {
		t.Fatalf("expected no additional unblock while already unblocked, fired=%d", fired)
	}
}

func TestQ2DisableIdempotentAndUnblocksIfBlocked(t *testing.T) {
	q := NewQ2(DefaultWatermarks())
	fired := 0
	q.SetUnblockHandler(func() { fired++ })
	for n := 1; n <= 70; n++ {
		q.Observe(n)
	}
	q.Disable()
	q.Disable()
	if fired != 1 {
		t.Fatalf("expected exactly one unblock from Disable, fired=%d", fired)
	}
	if q.ShouldBlock(1000) {
		t.Fatalf("disabled Q2 should never block")
	}
}

func TestQ3StallAndResume(t *testing.T) {
	q := NewQ3(DefaultWatermarks())
	var stalled bool
	q.Subscribe(func(s bool) { stalled = s })

	q.Add(q.upper + 1)
	if !stalled || !q.Stalled() {
		t.Fatalf("expected stalled after exceeding upper watermark")
	}

	q.Add(-(q.upper + 1 - q.lower))
	if stalled || q.Stalled() {
		t.Fatalf("expected resumed after dropping to lower watermark")
	}
}
