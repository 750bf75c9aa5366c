package buffer

import "testing"

func TestChainAppendAndPopFront(t *testing.T) {
	pool := NewPool(DefaultTuning())
	var c Chain

	b1 := pool.Get()
	b1.Append([]byte("hello"))
	b2 := pool.Get()
	b2.Append([]byte("world"))

	c.Append(b1)
	c.Append(b2)

	if c.Len() != 2 {
		t.Fatalf("expected length 2, got %d", c.Len())
	}
	if string(c.Head().Bytes()) != "hello" {
		t.Fatalf("unexpected head contents: %q", c.Head().Bytes())
	}

	popped := c.PopFront()
	if string(popped.Bytes()) != "hello" {
		t.Fatalf("unexpected popped contents: %q", popped.Bytes())
	}
	if c.Len() != 1 || c.Head() != b2 {
		t.Fatalf("chain not consistent after pop")
	}
}

func TestChainSplice(t *testing.T) {
	pool := NewPool(DefaultTuning())
	var a, b Chain

	ba := pool.Get()
	ba.Append([]byte("a"))
	a.Append(ba)

	bb1 := pool.Get()
	bb1.Append([]byte("b1"))
	bb2 := pool.Get()
	bb2.Append([]byte("b2"))
	b.Append(bb1)
	b.Append(bb2)

	a.Splice(&b)

	if a.Len() != 3 {
		t.Fatalf("expected spliced length 3, got %d", a.Len())
	}
	if b.Len() != 0 || b.Head() != nil {
		t.Fatalf("spliced-from chain should be empty")
	}
}

func TestPoolGetPutRecycles(t *testing.T) {
	pool := NewPool(DefaultTuning())
	b := pool.Get()
	b.Append([]byte("x"))
	pool.Put(b)

	b2 := pool.Get()
	if b2.fill != 0 {
		t.Fatalf("expected recycled buffer to be reset")
	}
}

func TestPoolRebalancesOntoGlobalFreeList(t *testing.T) {
	pool := NewPool(Tuning{TransferBatchSize: 1, GlobalFreeListMax: 4, RebalanceRateHz: 1000})

	for i := 0; i < 3; i++ {
		pool.Put(pool.Get())
	}

	pool.mu.Lock()
	n := len(pool.global)
	pool.mu.Unlock()
	if n == 0 {
		t.Fatalf("expected at least one buffer rebalanced onto the global free list")
	}
}

func TestBufferAppendRespectsCapacity(t *testing.T) {
	pool := NewPool(DefaultTuning())
	b := pool.Get()
	big := make([]byte, Size+10)
	n := b.Append(big)
	if n != Size {
		t.Fatalf("expected append to cap at %d bytes, wrote %d", Size, n)
	}
	if b.Free() != 0 {
		t.Fatalf("expected buffer full, free=%d", b.Free())
	}
}
