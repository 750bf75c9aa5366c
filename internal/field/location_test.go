package field

import (
	"io"
	"testing"

	"github.com/trunkline/trunkrouter/internal/buffer"
)

func TestReaderCrossesBufferBoundary(t *testing.T) {
	pool := buffer.NewPool(buffer.DefaultTuning())
	var chain buffer.Chain

	b1 := pool.Get()
	b1.Append([]byte("hel"))
	chain.Append(b1)
	b2 := pool.Get()
	b2.Append([]byte("lo"))
	chain.Append(b2)

	loc := Location{Anchor: chain.Head(), Offset: 0, HdrLength: 0, Length: 5, Parsed: true}
	r := NewReader(loc)

	out := make([]byte, 0, 5)
	buf := make([]byte, 2)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
	}
	if string(out) != "hello" {
		t.Fatalf("expected reader to cross buffer boundary, got %q", out)
	}
}

func TestAbsentLocation(t *testing.T) {
	var loc Location
	if loc.Present() {
		t.Fatalf("zero-value location should be absent")
	}
}

func TestBodyReaderSkipsHeader(t *testing.T) {
	pool := buffer.NewPool(buffer.DefaultTuning())
	var chain buffer.Chain
	b := pool.Get()
	b.Append([]byte("HDRbody"))
	chain.Append(b)

	loc := Location{Anchor: chain.Head(), Offset: 0, HdrLength: 3, Length: 4, Parsed: true}
	r := NewBodyReader(loc)
	if got := string(r.Bytes()); got != "body" {
		t.Fatalf("expected body-only read, got %q", got)
	}
}
