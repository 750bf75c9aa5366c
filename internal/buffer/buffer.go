// Package buffer implements the fixed-size octet buffer pool and the
// doubly-linked buffer chains that message content is built from (§4.1).
package buffer

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Size is the fixed capacity of every pooled Buffer, in bytes.
const Size = 512

// Buffer is an owned octet region with a fill cursor. A Buffer belongs to
// at most one Chain at a time; Next/Prev link it into that chain.
type Buffer struct {
	data []byte
	fill int

	next *Buffer
	prev *Buffer
}

// Bytes returns the filled portion of the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.fill] }

// Cap returns the buffer's total capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Free returns the number of unfilled bytes remaining.
func (b *Buffer) Free() int { return cap(b.data) - b.fill }

// Append copies p into the buffer's free space and returns the number of
// bytes actually written (0 if the buffer is full).
func (b *Buffer) Append(p []byte) int {
	n := copy(b.data[b.fill:cap(b.data)], p)
	b.fill += n
	return n
}

// Next returns the next buffer in the chain, or nil at the tail.
func (b *Buffer) Next() *Buffer { return b.next }

// reset clears a buffer for reuse from the pool.
func (b *Buffer) reset() {
	b.fill = 0
	b.next = nil
	b.prev = nil
}

// Chain is a doubly-linked list of Buffers with O(1) append and release.
type Chain struct {
	head   *Buffer
	tail   *Buffer
	length int
}

// Append adds b to the tail of the chain.
func (c *Chain) Append(b *Buffer) {
	b.prev = c.tail
	b.next = nil
	if c.tail != nil {
		c.tail.next = b
	} else {
		c.head = b
	}
	c.tail = b
	c.length++
}

// Head returns the first buffer in the chain, or nil if empty.
func (c *Chain) Head() *Buffer { return c.head }

// Tail returns the last buffer in the chain, or nil if empty.
func (c *Chain) Tail() *Buffer { return c.tail }

// Len returns the number of buffers currently in the chain.
func (c *Chain) Len() int { return c.length }

// PopFront removes and returns the first buffer of the chain, or nil if empty.
func (c *Chain) PopFront() *Buffer {
	b := c.head
	if b == nil {
		return nil
	}
	c.head = b.next
	if c.head != nil {
		c.head.prev = nil
	} else {
		c.tail = nil
	}
	b.next = nil
	b.prev = nil
	c.length--
	return b
}

// Splice appends every buffer of other onto c and empties other.
func (c *Chain) Splice(other *Chain) {
	if other.head == nil {
		return
	}
	if c.tail != nil {
		c.tail.next = other.head
		other.head.prev = c.tail
	} else {
		c.head = other.head
	}
	c.tail = other.tail
	c.length += other.length
	other.head, other.tail, other.length = nil, nil, 0
}

// Pool is a per-goroutine (logically per-I/O-thread) free list of Buffers
// backed by a shared global free list that rebalances in batches, per §5's
// "Buffers are per-thread allocated and may be freed on any thread" policy.
//
// Allocation never fails: when both free lists are empty the pool grows the
// process heap directly (§4.1's "Failure mode: none — allocation failure
// aborts the process" refers to a real pool exhaustion condition that does
// not exist for heap-backed Go allocation; the pool exists purely to reduce
// GC pressure, not to bound memory).
type Pool struct {
	mu         sync.Mutex
	local      sync.Pool
	global     []*Buffer
	globalCap  int
	batch      int
	putCount   uint64
	allocCount uint64
	rebalance  *rate.Limiter
}

// Tuning holds the buffer-pool tuning parameters from §6 Environment.
type Tuning struct {
	TransferBatchSize int // buffers moved from local to global free list per rebalance
	LocalFreeListMax  int // unused cap hint for the local sync.Pool (informational; sync.Pool self-trims)
	GlobalFreeListMax int // max buffers retained on the global free list
	RebalanceRateHz   int // max rebalances per second across all Puts
}

// DefaultTuning returns the pool's default tuning values.
func DefaultTuning() Tuning {
	return Tuning{
		TransferBatchSize: 16,
		LocalFreeListMax:  64,
		GlobalFreeListMax: 4096,
		RebalanceRateHz:   1000,
	}
}

// NewPool creates a buffer pool with the given tuning.
func NewPool(t Tuning) *Pool {
	if t.TransferBatchSize <= 0 {
		t.TransferBatchSize = DefaultTuning().TransferBatchSize
	}
	if t.GlobalFreeListMax <= 0 {
		t.GlobalFreeListMax = DefaultTuning().GlobalFreeListMax
	}
	if t.RebalanceRateHz <= 0 {
		t.RebalanceRateHz = DefaultTuning().RebalanceRateHz
	}
	p := &Pool{
		batch:     t.TransferBatchSize,
		globalCap: t.GlobalFreeListMax,
		rebalance: rate.NewLimiter(rate.Limit(t.RebalanceRateHz), 1),
	}
	return p
}

// Get returns a ready-to-fill Buffer, drawing from the calling goroutine's
// local free list, falling back to the global free list, falling back to a
// fresh allocation.
func (p *Pool) Get() *Buffer {
	if b, ok := p.local.Get().(*Buffer); ok {
		b.reset()
		return b
	}

	p.mu.Lock()
	n := len(p.global)
	var b *Buffer
	if n > 0 {
		b = p.global[n-1]
		p.global = p.global[:n-1]
	}
	p.mu.Unlock()

	if b != nil {
		b.reset()
		return b
	}
	atomic.AddUint64(&p.allocCount, 1)
	return &Buffer{data: make([]byte, Size)}
}

// Put returns a buffer to the pool. Every batch'th Put takes the shared
// global free list's lock instead of the local pool, so idle threads don't
// each hoard their own cache indefinitely; a rate limiter caps how often
// that slower path runs under sustained high-throughput Put bursts.
func (p *Pool) Put(b *Buffer) {
	b.reset()

	count := atomic.AddUint64(&p.putCount, 1)
	if count%uint64(p.batch) == 0 && p.rebalance.Allow() {
		p.mu.Lock()
		if len(p.global) < p.globalCap {
			p.global = append(p.global, b)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
	p.local.Put(b)
}

// PutChain returns every buffer in chain to the pool and empties it.
func (p *Pool) PutChain(c *Chain) {
	for b := c.PopFront(); b != nil; b = c.PopFront() {
		p.Put(b)
	}
}

// AllocCount reports the number of buffers allocated from the Go heap
// (as opposed to recycled), for diagnostics/metrics.
func (p *Pool) AllocCount() uint64 { return atomic.LoadUint64(&p.allocCount) }
