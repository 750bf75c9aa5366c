package delivery

import (
	"testing"

	"github.com/trunkline/trunkrouter/internal/buffer"
	"github.com/trunkline/trunkrouter/internal/flowcontrol"
	"github.com/trunkline/trunkrouter/internal/message"
)

func TestReleaseDropsMessageReference(t *testing.T) {
	pool := buffer.NewPool(buffer.DefaultTuning())
	content := message.NewContent(pool, flowcontrol.DefaultWatermarks(), 0)
	m := message.NewMessage(content)

	d := NewDelivery(m)
	if d.Message() != m {
		t.Fatalf("expected delivery to expose the message it was built with")
	}
	if content.RefCount() != 2 {
		t.Fatalf("expected refcount 2 (content's own + message handle's), got %d", content.RefCount())
	}

	d.Release()
	if content.RefCount() != 1 {
		t.Fatalf("expected refcount back to 1 after release, got %d", content.RefCount())
	}
	if d.Message() != nil {
		t.Fatalf("expected message reference cleared after release")
	}
}

func TestContextRoundTrip(t *testing.T) {
	d := NewDelivery(nil)
	d.SetContext(42)
	if d.Context() != 42 {
		t.Fatalf("expected context 42, got %v", d.Context())
	}
}

func TestDispositionStrings(t *testing.T) {
	cases := map[Disposition]string{
		DispositionUnknown:  "UNKNOWN",
		DispositionAccepted: "ACCEPTED",
		DispositionRejected: "REJECTED",
		DispositionReleased: "RELEASED",
		DispositionModified: "MODIFIED",
	}
	for disp, want := range cases {
		if got := disp.String(); got != want {
			t.Fatalf("disposition %d: expected %q, got %q", disp, want, got)
		}
	}
}
