package mgmt

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/trunkline/trunkrouter/internal/clock"
	"github.com/trunkline/trunkrouter/internal/delivery"
)

// ConnectionRecord is the subset of a Connection's management columns
// trunkrouter's transport actually tracks (qpid-dispatch's connection
// table has 28 columns; these are the ones this adaptor's data model
// carries).
type ConnectionRecord struct {
	ID        uint64
	Host      string
	Role      string // "normal" or "inter-router"
	Streams   int
	BytesIn   int64
	BytesOut  int64
}

// ConnectionTable presents connection records as management rows.
type ConnectionTable struct {
	snapshot func() []ConnectionRecord
}

// NewConnectionTable wraps a snapshot function returning the current
// connection list, called fresh on every Len/Row access (both happen
// inside the same core-thread Action, so the slice it returns is
// consistent for one walk step).
func NewConnectionTable(snapshot func() []ConnectionRecord) *ConnectionTable {
	return &ConnectionTable{snapshot: snapshot}
}

func (t *ConnectionTable) Name() string { return "connection" }

func (t *ConnectionTable) Columns() []string {
	return []string{"id", "host", "role", "streams", "bytesIn", "bytesOut"}
}

func (t *ConnectionTable) Len() int { return len(t.snapshot()) }

func (t *ConnectionTable) Row(i int, columns []string) Row {
	r := t.snapshot()[i]
	full := Row{
		"id":       r.ID,
		"host":     r.Host,
		"role":     r.Role,
		"streams":  r.Streams,
		"bytesIn":  r.BytesIn,
		"bytesOut": r.BytesOut,
	}
	return project(full, columns)
}

// LinkTable presents delivery.Link records as management rows, computing
// the settle-rate column lazily by advancing each link's ring up to the
// current uptime tick before reading (§4.8).
type LinkTable struct {
	clock    *clock.Ticker
	snapshot func() []*delivery.Link
}

// NewLinkTable wraps a snapshot function and the uptime ticker used to
// lazily advance the settle-rate ring.
func NewLinkTable(clk *clock.Ticker, snapshot func() []*delivery.Link) *LinkTable {
	return &LinkTable{clock: clk, snapshot: snapshot}
}

func (t *LinkTable) Name() string { return "link" }

func (t *LinkTable) Columns() []string {
	return []string{"name", "direction", "credit", "undelivered", "unsettled", "settleRate"}
}

func (t *LinkTable) Len() int { return len(t.snapshot()) }

func (t *LinkTable) Row(i int, columns []string) Row {
	l := t.snapshot()[i]
	now := t.clock.Now()
	direction := "incoming"
	if l.Direction == delivery.DirectionOutgoing {
		direction = "outgoing"
	}
	full := Row{
		"name":        l.Name,
		"direction":   direction,
		"credit":      l.Credit(),
		"undelivered": l.UndeliveredLen(),
		"unsettled":   l.UnsettledLen(),
		"settleRate":  l.SettleRate(now),
	}
	return project(full, columns)
}

// AddressRecord is one routable address and its cached next-hop link name.
// The real forwarder that populates this cache is out of scope (§1); this
// table only presents whatever next-hop association has been cached.
type AddressRecord struct {
	Address string
	NextHop string
}

// AddressTable presents routable addresses with a bounded LRU cache of
// next-hop associations standing in for the out-of-scope forwarder's
// routing table (§1, §4.8).
type AddressTable struct {
	cache *lru.Cache
	order []string // insertion order, for a stable Len/Row walk
}

// NewAddressTable creates an AddressTable whose next-hop cache holds at
// most capacity entries, evicting least-recently-used on overflow.
func NewAddressTable(capacity int) *AddressTable {
	t := &AddressTable{}
	cache, _ := lru.NewWithEvict(capacity, func(key, _ interface{}) { // only errors on capacity <= 0
		t.removeFromOrder(key.(string))
	})
	t.cache = cache
	return t
}

// SetNextHop records addr's cached next-hop link name.
func (t *AddressTable) SetNextHop(addr, nextHop string) {
	if _, existed := t.cache.Peek(addr); !existed {
		t.order = append(t.order, addr)
	}
	t.cache.Add(addr, nextHop)
}

func (t *AddressTable) removeFromOrder(key string) {
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

func (t *AddressTable) Name() string { return "address" }

func (t *AddressTable) Columns() []string { return []string{"address", "nextHop"} }

func (t *AddressTable) Len() int { return len(t.order) }

func (t *AddressTable) Row(i int, columns []string) Row {
	addr := t.order[i]
	nextHop, _ := t.cache.Get(addr)
	full := Row{"address": addr, "nextHop": nextHop}
	return project(full, columns)
}

// ConfigRecord is one static configuration entity row (§6 Environment:
// watermark overrides and buffer-pool tuning).
type ConfigRecord struct {
	Name  string
	Value string
}

// ConfigTable presents the router's static configuration as management
// rows.
type ConfigTable struct {
	records []ConfigRecord
}

// NewConfigTable snapshots records once; configuration is loaded at boot
// and not mutated afterward (§6 Persisted state: none).
func NewConfigTable(records []ConfigRecord) *ConfigTable {
	return &ConfigTable{records: records}
}

func (t *ConfigTable) Name() string { return "config" }

func (t *ConfigTable) Columns() []string { return []string{"name", "value"} }

func (t *ConfigTable) Len() int { return len(t.records) }

func (t *ConfigTable) Row(i int, columns []string) Row {
	r := t.records[i]
	full := Row{"name": r.Name, "value": r.Value}
	return project(full, columns)
}

// project restricts full to columns, or returns full unchanged when
// columns is empty (the "all columns" walk).
func project(full Row, columns []string) Row {
	if len(columns) == 0 {
		return full
	}
	out := make(Row, len(columns))
	for _, c := range columns {
		if v, ok := full[c]; ok {
			out[c] = v
		}
	}
	return out
}
