// Package mgmt implements the management table walk (§4.8): the
// Connection/Link/Address/Config entity tables the management agent walks
// via get_first(offset)/get_next(), each executed on the core thread so
// concurrent mutation of the underlying registries is serialized away.
package mgmt

import (
	"github.com/trunkline/trunkrouter/internal/core"
)

// Row is one entity's column subset for a single walk response.
type Row map[string]any

// Table is an ordered, columnar entity sequence a walk can read from.
// Implementations must only be read while the core thread's Action runs,
// since Len/Row are called without their own locking.
type Table interface {
	Name() string
	Columns() []string
	Len() int
	Row(index int, columns []string) Row
}

// Walker executes get_first/get_next against a Table by enqueueing the
// read onto the core thread (§4.8: "The walk is executed on the
// router-core thread; concurrent mutation is serialized by enqueuing the
// walk on that thread").
type Walker struct {
	queue *core.Queue
}

// NewWalker creates a Walker posting reads onto queue.
func NewWalker(queue *core.Queue) *Walker {
	return &Walker{queue: queue}
}

// GetFirst returns the row at offset and the offset to pass to the next
// call. columns, if non-empty, restricts the row to that column subset.
// There is no stable cursor across walks (§4.8): callers must pass next
// back themselves.
func (w *Walker) GetFirst(table Table, offset int, columns []string) (row Row, next int, ok bool) {
	return w.walk(table, offset, columns)
}

// GetNext continues a walk from offset, the value GetFirst or a prior
// GetNext returned as next.
func (w *Walker) GetNext(table Table, offset int, columns []string) (row Row, next int, ok bool) {
	return w.walk(table, offset, columns)
}

func (w *Walker) walk(table Table, offset int, columns []string) (row Row, next int, ok bool) {
	done := make(chan struct{})
	w.queue.Enqueue(func() {
		defer close(done)
		if offset < 0 || offset >= table.Len() {
			return
		}
		row = table.Row(offset, columns)
		next = offset + 1
		ok = true
	})
	<-done
	return row, next, ok
}
