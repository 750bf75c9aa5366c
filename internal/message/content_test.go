package message

import (
	"testing"

	"github.com/trunkline/trunkrouter/internal/amqpcodec"
	"github.com/trunkline/trunkrouter/internal/annotations"
	"github.com/trunkline/trunkrouter/internal/buffer"
	"github.com/trunkline/trunkrouter/internal/field"
	"github.com/trunkline/trunkrouter/internal/flowcontrol"
)

func newTestContent(t *testing.T, maxSize int) *Content {
	t.Helper()
	pool := buffer.NewPool(buffer.DefaultTuning())
	return NewContent(pool, flowcontrol.DefaultWatermarks(), maxSize)
}

func encodeSection(code uint64, body func(*amqpcodec.Writer)) []byte {
	w := amqpcodec.NewWriter()
	w.WriteDescriptorCode(code)
	body(w)
	return w.Bytes()
}

func TestReceiveAdvancesDepthThroughHeaderAndProperties(t *testing.T) {
	c := newTestContent(t, 0)

	header := encodeSection(uint64(amqpcodec.TypeCodeMessageHeader), func(w *amqpcodec.Writer) {
		l := amqpcodec.NewList()
		l.Append().WriteBool(false)
		l.WriteTo(w)
	})
	props := encodeSection(uint64(amqpcodec.TypeCodeMessageProperties), func(w *amqpcodec.Writer) {
		l := amqpcodec.NewList()
		l.WriteTo(w)
	})

	if err := c.Receive(append(header, props...), false); err != nil {
		t.Fatalf("receive: %v", err)
	}

	if res := c.CheckDepth(DepthProperties); res != DepthOK {
		t.Fatalf("expected PROPERTIES depth OK, got %v", res)
	}
	if _, ok := c.SectionLocation(DepthHeader); !ok {
		t.Fatalf("expected header section location recorded")
	}
}

func TestReceiveCompleteWithEmptyBodyIsOK(t *testing.T) {
	c := newTestContent(t, 0)
	c.Receive(nil, true)
	if !c.ReceiveComplete() {
		t.Fatalf("expected receive_complete after empty-body complete receive")
	}
	if res := c.CheckDepth(DepthFooter); res != DepthOK {
		t.Fatalf("expected parse to reach FOOTER depth on an empty completed body, got %v", res)
	}
	if !c.NoBody() {
		t.Fatalf("expected NoBody to be set for an empty completed body")
	}
}

func TestReceiveIncompleteWithEmptyBodyWaitsForMore(t *testing.T) {
	c := newTestContent(t, 0)
	header := encodeSection(uint64(amqpcodec.TypeCodeMessageHeader), func(w *amqpcodec.Writer) {
		l := amqpcodec.NewList()
		l.Append().WriteBool(false)
		l.WriteTo(w)
	})
	props := encodeSection(uint64(amqpcodec.TypeCodeMessageProperties), func(w *amqpcodec.Writer) {
		l := amqpcodec.NewList()
		l.WriteTo(w)
	})
	c.Receive(append(header, props...), false)
	if res := c.CheckDepth(DepthBody); res != DepthIncomplete {
		t.Fatalf("expected BODY depth to stay INCOMPLETE before receive_complete, got %v", res)
	}
}

func TestOversizeSetWhenExceedingMax(t *testing.T) {
	c := newTestContent(t, 10)
	if err := c.Receive(make([]byte, 10), false); err != nil {
		t.Fatalf("receive at exactly max: %v", err)
	}
	if c.Oversize() {
		t.Fatalf("message exactly at max_message_size should be accepted")
	}
	if err := c.Receive(make([]byte, 1), false); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !c.Oversize() {
		t.Fatalf("expected oversize after exceeding max_message_size by one octet")
	}
}

func TestSingleByteFramesCrossBufferBoundaries(t *testing.T) {
	c := newTestContent(t, 0)
	payload := []byte("hello, cut across buffers")
	for i := range payload {
		if err := c.Receive(payload[i:i+1], i == len(payload)-1); err != nil {
			t.Fatalf("receive byte %d: %v", i, err)
		}
	}
	if string(c.flat) != string(payload) {
		t.Fatalf("expected flat view to equal payload, got %q", c.flat)
	}
	if !c.ReceiveComplete() {
		t.Fatalf("expected receive_complete")
	}
}

func TestRefCountReleasesBuffersAtZero(t *testing.T) {
	c := newTestContent(t, 0)
	c.Receive([]byte("payload"), true)
	if c.RefCount() != 1 {
		t.Fatalf("expected initial refcount 1, got %d", c.RefCount())
	}
	c.IncRef()
	c.DecRef()
	if c.RefCount() != 1 {
		t.Fatalf("expected refcount back to 1, got %d", c.RefCount())
	}
	c.DecRef()
	if c.RefCount() != 0 {
		t.Fatalf("expected refcount 0, got %d", c.RefCount())
	}
}

func TestOutOfOrderSectionIsInvalidNotSkipped(t *testing.T) {
	c := newTestContent(t, 0)

	header := encodeSection(uint64(amqpcodec.TypeCodeMessageHeader), func(w *amqpcodec.Writer) {
		l := amqpcodec.NewList()
		l.Append().WriteBool(false)
		l.WriteTo(w)
	})
	// A second HEADER-coded section where DELIVERY_ANNOTATIONS is expected:
	// genuinely out of order, since HEADER's depth was already passed.
	wire := append(header, header...)

	if err := c.Receive(wire, false); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if res := c.CheckDepth(DepthDeliveryAnnotations); res != DepthInvalid {
		t.Fatalf("expected DELIVERY_ANNOTATIONS depth INVALID for an out-of-order section, got %v", res)
	}
	if !c.Discard() {
		t.Fatalf("expected discard to be latched on an out-of-order section")
	}
}

func TestPropertiesFieldLocatorsRecordToAndSubject(t *testing.T) {
	c := newTestContent(t, 0)

	header := encodeSection(uint64(amqpcodec.TypeCodeMessageHeader), func(w *amqpcodec.Writer) {
		l := amqpcodec.NewList()
		l.Append().WriteBool(false)
		l.WriteTo(w)
	})
	props := encodeSection(uint64(amqpcodec.TypeCodeMessageProperties), func(w *amqpcodec.Writer) {
		l := amqpcodec.NewList()
		l.Append().WriteNull()       // message-id
		l.Append().WriteNull()       // user-id
		l.Append().WriteStr("a/b/c") // to
		l.Append().WriteStr("GET")   // subject
		l.WriteTo(w)
	})

	if err := c.Receive(append(header, props...), false); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if res := c.CheckDepth(DepthProperties); res != DepthOK {
		t.Fatalf("expected PROPERTIES depth OK, got %v", res)
	}

	toLoc, ok := c.Field(FieldTo)
	if !ok {
		t.Fatalf("expected field_to to be present")
	}
	if got := string(field.NewBodyReader(toLoc).Bytes()); got != "a/b/c" {
		t.Fatalf("expected field_to %q, got %q", "a/b/c", got)
	}

	subjLoc, ok := c.Field(FieldSubject)
	if !ok {
		t.Fatalf("expected field_subject to be present")
	}
	if got := string(field.NewBodyReader(subjLoc).Bytes()); got != "GET" {
		t.Fatalf("expected field_subject %q, got %q", "GET", got)
	}

	if _, ok := c.Field(FieldMessageID); ok {
		t.Fatalf("expected field_message_id absent for a null-encoded message-id")
	}
}

func TestDeliveryAndMessageAnnotationsSectionsAreSkippedNotMisparsed(t *testing.T) {
	c := newTestContent(t, 0)

	deliveryAnno := encodeSection(uint64(amqpcodec.TypeCodeDeliveryAnnotations), func(w *amqpcodec.Writer) {
		m := amqpcodec.NewMap()
		m.WriteTo(w)
	})
	messageAnno := encodeSection(uint64(amqpcodec.TypeCodeMessageAnnotations), func(w *amqpcodec.Writer) {
		m := amqpcodec.NewMap()
		m.WriteTo(w)
	})
	header := encodeSection(uint64(amqpcodec.TypeCodeMessageHeader), func(w *amqpcodec.Writer) {
		l := amqpcodec.NewList()
		l.Append().WriteBool(false)
		l.WriteTo(w)
	})
	props := encodeSection(uint64(amqpcodec.TypeCodeMessageProperties), func(w *amqpcodec.Writer) {
		l := amqpcodec.NewList()
		l.WriteTo(w)
	})

	wire := append(header, deliveryAnno...)
	wire = append(wire, messageAnno...)
	wire = append(wire, props...)

	if err := c.Receive(wire, false); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if res := c.CheckDepth(DepthProperties); res != DepthOK {
		t.Fatalf("expected PROPERTIES depth OK past the annotation sections, got %v", res)
	}
}

func TestAnnotationsDescriptorAcceptedAtRouterAnnotationsDepth(t *testing.T) {
	c := newTestContent(t, 0)
	wire := annotations.Encode(annotations.Annotations{Flags: annotations.FlagStreaming})
	c.Receive(wire, false)
	if res := c.CheckDepth(DepthHeader); res == DepthInvalid {
		t.Fatalf("router-annotations section should parse without INVALID, got %v", res)
	}
}
