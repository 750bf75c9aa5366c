package annotations

import (
	"reflect"
	"testing"
)

func strp(s string) *string { return &s }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Annotations{
		Flags:         FlagStreaming,
		ToOverride:    strp("mc/override"),
		IngressRouter: strp("R1"),
		Trace:         []string{"R1", "R2"},
		IngressMesh:   nil,
	}
	wire := Encode(in)
	out, n, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(wire) {
		t.Fatalf("expected to consume %d bytes, got %d", len(wire), n)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch: in=%+v out=%+v", in, out)
	}
}

func TestStripAppendsTraceOnInterior(t *testing.T) {
	in := Annotations{
		Flags:         FlagStreaming,
		IngressRouter: strp("R1"),
		Trace:         []string{"R1", "R2"},
	}
	out := in.Strip(StripNone, true, "R3")
	want := []string{"R1", "R2", "R3"}
	if !reflect.DeepEqual(out.Trace, want) {
		t.Fatalf("expected trace %v, got %v", want, out.Trace)
	}
	if out.Flags != in.Flags || *out.IngressRouter != *in.IngressRouter {
		t.Fatalf("unrelated fields should be unchanged: %+v", out)
	}
}

func TestStripAllClearsEverything(t *testing.T) {
	in := Annotations{
		Flags:         FlagStreaming,
		ToOverride:    strp("x"),
		IngressRouter: strp("R1"),
		Trace:         []string{"R1"},
		IngressMesh:   strp("mesh1"),
	}
	out := in.Strip(StripAll, true, "R3")
	if out.ToOverride != nil || out.IngressRouter != nil || out.Trace != nil || out.IngressMesh != nil {
		t.Fatalf("expected all optional fields cleared, got %+v", out)
	}
	if out.Flags != in.Flags {
		t.Fatalf("flags should survive StripAll")
	}
}

func TestStampFillsOnlyMissingFields(t *testing.T) {
	in := Annotations{IngressRouter: strp("R1")}
	out := in.Stamp("R2")
	if *out.IngressRouter != "R1" {
		t.Fatalf("expected existing ingress-router to survive stamp, got %q", *out.IngressRouter)
	}
	if out.IngressMesh == nil || *out.IngressMesh == "" {
		t.Fatalf("expected a generated ingress-mesh id, got %v", out.IngressMesh)
	}
}

func TestStampOnEmptyAnnotationsFillsBoth(t *testing.T) {
	out := Annotations{}.Stamp("R1")
	if out.IngressRouter == nil || *out.IngressRouter != "R1" {
		t.Fatalf("expected ingress-router R1, got %v", out.IngressRouter)
	}
	if out.IngressMesh == nil {
		t.Fatalf("expected an ingress-mesh id to be generated")
	}
}

func TestNewIngressMeshIDIsUnique(t *testing.T) {
	a := NewIngressMeshID()
	b := NewIngressMeshID()
	if a == b {
		t.Fatalf("expected distinct ingress-mesh ids, got %q twice", a)
	}
}

func TestRejectOnIngressRejectsNonRouterPeerWithAnnotations(t *testing.T) {
	if err := RejectOnIngress(true, false); err != ErrNonRouterIngressAnnotations {
		t.Fatalf("expected ErrNonRouterIngressAnnotations, got %v", err)
	}
}

func TestRejectOnIngressAllowsRouterPeerWithAnnotations(t *testing.T) {
	if err := RejectOnIngress(true, true); err != nil {
		t.Fatalf("expected no error for a router-peer link, got %v", err)
	}
}

func TestRejectOnIngressAllowsAbsentAnnotations(t *testing.T) {
	if err := RejectOnIngress(false, false); err != nil {
		t.Fatalf("expected no error when annotations are absent, got %v", err)
	}
}

func TestDecodeRejectsWrongDescriptor(t *testing.T) {
	w := []byte{0x00, 0x80, 0, 0, 0, 0, 0, 0, 0, 1} // ulong descriptor 1, not the router-annotations code
	if _, _, err := Decode(w); err == nil {
		t.Fatalf("expected error decoding non-router-annotations descriptor")
	}
}
