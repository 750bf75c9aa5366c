package cutthrough

import (
	"testing"

	"github.com/trunkline/trunkrouter/internal/buffer"
)

func TestFullRingRejectsNinthProduce(t *testing.T) {
	r := NewRing()
	pool := buffer.NewPool(buffer.DefaultTuning())

	for i := 0; i < SlotCount; i++ {
		if !r.CanProduceBuffers() {
			t.Fatalf("expected room at slot %d", i)
		}
		var c buffer.Chain
		c.Append(pool.Get())
		r.ProduceBuffers(&c)
	}
	if r.CanProduceBuffers() {
		t.Fatalf("ring should be full after %d produces", SlotCount)
	}
	if r.FullSlotCount() != SlotCount {
		t.Fatalf("expected %d full slots, got %d", SlotCount, r.FullSlotCount())
	}
}

func TestResumeFromStalledFiresOnceAtThreshold(t *testing.T) {
	r := NewRing()
	pool := buffer.NewPool(buffer.DefaultTuning())

	for i := 0; i < SlotCount; i++ {
		var c buffer.Chain
		c.Append(pool.Get())
		r.ProduceBuffers(&c)
	}
	r.MarkStalled()

	// Drain 5 slots: fill count becomes 3, <= ResumeThreshold(4).
	got := r.ConsumeBuffers(5)
	if len(got) != 5 {
		t.Fatalf("expected to consume 5 chains, got %d", len(got))
	}
	if !r.ResumeFromStalled() {
		t.Fatalf("expected resume to fire once after draining below threshold")
	}
	if r.ResumeFromStalled() {
		t.Fatalf("expected resume to not fire again without a new stall")
	}
	if !r.CanProduceBuffers() {
		t.Fatalf("producer should be allowed to resume")
	}
}
