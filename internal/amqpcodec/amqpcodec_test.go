package amqpcodec

import "testing"

func TestStrRoundTripSmallAndLarge(t *testing.T) {
	w := NewWriter()
	w.WriteStr("hello")
	w.WriteStr(string(make([]byte, 300))) // forces str32 path

	r := NewReader(w.Bytes())
	s, present, err := r.ReadStr()
	if err != nil || !present || s != "hello" {
		t.Fatalf("unexpected first string: %q present=%v err=%v", s, present, err)
	}
	s2, present, err := r.ReadStr()
	if err != nil || !present || len(s2) != 300 {
		t.Fatalf("unexpected second string length=%d present=%v err=%v", len(s2), present, err)
	}
}

func TestUlongRoundTripZeroAndLarge(t *testing.T) {
	w := NewWriter()
	w.WriteUlong64(0)
	w.WriteUlong64(1 << 40)

	r := NewReader(w.Bytes())
	v, err := r.ReadUlong64()
	if err != nil || v != 0 {
		t.Fatalf("expected 0, got %d err=%v", v, err)
	}
	v, err = r.ReadUlong64()
	if err != nil || v != 1<<40 {
		t.Fatalf("expected 1<<40, got %d err=%v", v, err)
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteDescriptor(RouterAnnotationsDescriptorHigh, RouterAnnotationsDescriptorLow)

	r := NewReader(w.Bytes())
	high, low, err := r.ReadDescriptor()
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	if high != RouterAnnotationsDescriptorHigh || low != RouterAnnotationsDescriptorLow {
		t.Fatalf("descriptor mismatch: got %08x:%08x", high, low)
	}
}

func TestListRoundTripEmptyAndNonEmpty(t *testing.T) {
	w := NewWriter()
	empty := NewList()
	empty.WriteTo(w)

	r := NewReader(w.Bytes())
	hdr, err := r.ReadListHeader()
	if err != nil || hdr.Count != 0 {
		t.Fatalf("expected empty list, got %+v err=%v", hdr, err)
	}

	w2 := NewWriter()
	l := NewList()
	l.Append().WriteUint32(7)
	l.Append().WriteStr("x")
	l.WriteTo(w2)

	r2 := NewReader(w2.Bytes())
	hdr2, err := r2.ReadListHeader()
	if err != nil || hdr2.Count != 2 {
		t.Fatalf("expected 2-element list, got %+v err=%v", hdr2, err)
	}
	v, err := r2.ReadUint32()
	if err != nil || v != 7 {
		t.Fatalf("expected 7, got %d err=%v", v, err)
	}
	s, _, err := r2.ReadStr()
	if err != nil || s != "x" {
		t.Fatalf("expected x, got %q err=%v", s, err)
	}
}

func TestMapSkipValueConsumesExactlyOneEntry(t *testing.T) {
	w := NewWriter()
	m := NewMap()
	m.PutStr(":method", "POST")
	m.PutStr(":path", "/orders")
	m.WriteTo(w)
	w.WriteStr("trailing") // a following value SkipValue must not touch

	r := NewReader(w.Bytes())
	if err := r.SkipValue(); err != nil {
		t.Fatalf("skip map: %v", err)
	}
	s, _, err := r.ReadStr()
	if err != nil || s != "trailing" {
		t.Fatalf("expected untouched trailing string, got %q err=%v", s, err)
	}
}

func TestEmptyMapSkipValue(t *testing.T) {
	w := NewWriter()
	NewMap().WriteTo(w)
	w.WriteUint32(42)

	r := NewReader(w.Bytes())
	if err := r.SkipValue(); err != nil {
		t.Fatalf("skip empty map: %v", err)
	}
	v, err := r.ReadUint32()
	if err != nil || v != 42 {
		t.Fatalf("expected 42 after empty map, got %d err=%v", v, err)
	}
}

func TestTruncatedInputReturnsError(t *testing.T) {
	r := NewReader([]byte{TypeCodeUint})
	if _, err := r.ReadUint32(); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
