package message

import (
	"testing"

	"github.com/trunkline/trunkrouter/internal/annotations"
	"github.com/trunkline/trunkrouter/internal/buffer"
)

func TestMessageSendEmitsCursorAndCompletes(t *testing.T) {
	c := newTestContent(t, 0)
	m := NewMessage(c)
	defer m.Release()

	c.Receive([]byte("hello "), false)
	chunk, done := m.Send(true, "R3", StripNone, 0)
	_, n, err := annotations.Decode(chunk)
	if err != nil {
		t.Fatalf("decode annotations prefix: %v", err)
	}
	if string(chunk[n:]) != "hello " || done {
		t.Fatalf("unexpected first send: body=%q done=%v", chunk[n:], done)
	}

	c.Receive([]byte("world"), true)
	chunk, done = m.Send(true, "R3", StripNone, 0)
	if string(chunk) != "world" || !done {
		t.Fatalf("unexpected second send: chunk=%q done=%v", chunk, done)
	}
}

func TestComposeTakesOwnershipOfFragments(t *testing.T) {
	c := newTestContent(t, 0)
	m := Compose(c, Fragments{
		ApplicationProperties: []byte{0x40}, // minimal placeholder fragment
	})
	defer m.Release()

	if m.Content() != c {
		t.Fatalf("expected composed message to share the given content")
	}
}

func TestExtendReportsQ2Transition(t *testing.T) {
	c := newTestContent(t, 0)
	transitions := 0
	for i := 0; i < 70; i++ {
		if Extend(c, make([]byte, buffer.Size)) {
			transitions++
		}
	}
	if transitions != 1 {
		t.Fatalf("expected exactly one Q2 blocked transition across 70 buffer-sized extends, got %d", transitions)
	}
}
