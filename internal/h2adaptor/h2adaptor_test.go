package h2adaptor

import (
	"bytes"
	"context"
	"testing"

	"golang.org/x/net/http2"

	"github.com/trunkline/trunkrouter/internal/annotations"
	"github.com/trunkline/trunkrouter/internal/buffer"
	"github.com/trunkline/trunkrouter/internal/delivery"
	"github.com/trunkline/trunkrouter/internal/flowcontrol"
	"github.com/trunkline/trunkrouter/internal/message"
	"github.com/trunkline/trunkrouter/internal/stream"
)

type fakeResponseWriter struct {
	status  int
	headers [][2]string
	body    []byte
}

func (f *fakeResponseWriter) WriteResponse(streamID uint32, status int, headers [][2]string, body []byte) error {
	f.status = status
	f.headers = headers
	f.body = body
	return nil
}
func (f *fakeResponseWriter) SendGoAway(uint32, http2.ErrCode, []byte) error { return nil }
func (f *fakeResponseWriter) MarkStreamClosed(uint32)                       {}
func (f *fakeResponseWriter) IsStreamClosed(uint32) bool                    { return false }
func (f *fakeResponseWriter) WriteRSTStreamPriority(uint32, http2.ErrCode) error {
	return nil
}
func (f *fakeResponseWriter) CloseConn() error { return nil }

func newTestAdaptor(respond Responder) *Adaptor {
	pool := buffer.NewPool(buffer.DefaultTuning())
	return New("example.com/orders", pool, flowcontrol.DefaultWatermarks(), respond)
}

func TestHandleStreamComposesRequestAndWritesResponse(t *testing.T) {
	a := newTestAdaptor(func(in *delivery.Delivery) Response {
		return Response{Status: 200, Body: []byte("ok")}
	})

	s := stream.NewStream(1)
	s.AddHeader(":method", "POST")
	s.AddHeader(":path", "/orders")
	s.AddHeader("x-trace-id", "abc123")
	_ = s.AddData([]byte(`{"id":1}`))
	w := &fakeResponseWriter{}
	s.ResponseWriter = w

	if err := a.HandleStream(context.Background(), s); err != nil {
		t.Fatalf("HandleStream: %v", err)
	}

	if w.status != 200 || string(w.body) != "ok" {
		t.Fatalf("unexpected response: status=%d body=%q", w.status, w.body)
	}
	if s.InDelivery == nil {
		t.Fatalf("expected in_delivery to be set")
	}
	if s.GetStatus() != stream.StatusFullyClosed {
		t.Fatalf("expected stream fully closed after response, got %v", s.GetStatus())
	}
	if s.InDelivery.LocalDisposition() != delivery.DispositionAccepted {
		t.Fatalf("expected 200 to map to ACCEPTED, got %v", s.InDelivery.LocalDisposition())
	}
}

func TestHandleStreamWithoutResponseWriterStillClosesStream(t *testing.T) {
	a := newTestAdaptor(nil)
	s := stream.NewStream(3)
	s.AddHeader(":method", "GET")
	s.AddHeader(":path", "/health")

	if err := a.HandleStream(context.Background(), s); err != nil {
		t.Fatalf("HandleStream: %v", err)
	}
	if s.GetStatus() != stream.StatusFullyClosed {
		t.Fatalf("expected stream fully closed, got %v", s.GetStatus())
	}
}

func TestHandleResetReleasesOutDeliveryAndClearsContext(t *testing.T) {
	a := newTestAdaptor(func(in *delivery.Delivery) Response { return Response{Status: 200} })
	s := stream.NewStream(5)
	s.AddHeader(":method", "POST")
	s.AddHeader(":path", "/orders")
	s.ResponseWriter = &fakeResponseWriter{}

	if err := a.HandleStream(context.Background(), s); err != nil {
		t.Fatalf("HandleStream: %v", err)
	}
	// Simulate the peer resetting the stream after the response was already
	// built; HandleReset should leave it safe to free.
	a.HandleReset(s)
	if s.GetStatus() != stream.StatusFullyClosed {
		t.Fatalf("expected status fully closed after reset, got %v", s.GetStatus())
	}
	if s.InDelivery.Context() != nil {
		t.Fatalf("expected in_delivery context cleared after reset")
	}
}

// TestIncomingLinkRejectsRouterAnnotationsFromNonRouterPeer exercises the
// exact check HandleStream runs on a.incoming before enqueueing a delivery
// (§4.3, §8's "client ingress reject" scenario): a content whose wire bytes
// already carry router-annotations must be rejected when the owning link's
// peer is not itself a router. No ingress path in this adaptor currently
// composes a content shaped like this (HTTP/2 request fragments never
// include a router-annotations section), so this drives the mechanism
// directly rather than through a synthetic HTTP/2 stream.
func TestIncomingLinkRejectsRouterAnnotationsFromNonRouterPeer(t *testing.T) {
	a := newTestAdaptor(nil)
	if a.incoming.PeerIsRouter {
		t.Fatalf("expected the HTTP/2-facing incoming link to default to a non-router peer")
	}

	content := message.NewContent(a.Pool, a.Watermarks, 0)
	defer content.DecRef()
	wire := annotations.Encode(annotations.Annotations{Flags: annotations.FlagStreaming})
	if err := content.Receive(wire, true); err != nil {
		t.Fatalf("receive: %v", err)
	}

	_, present := content.SectionLocation(message.DepthRouterAnnotations)
	if !present {
		t.Fatalf("expected the router-annotations section to be parsed present")
	}
	if err := annotations.RejectOnIngress(present, a.incoming.PeerIsRouter); err != annotations.ErrNonRouterIngressAnnotations {
		t.Fatalf("expected ErrNonRouterIngressAnnotations, got %v", err)
	}
}

func TestErrorStatusMapsToRejectedDisposition(t *testing.T) {
	a := newTestAdaptor(func(in *delivery.Delivery) Response {
		return Response{Status: 400}
	})
	s := stream.NewStream(7)
	s.AddHeader(":method", "POST")
	s.AddHeader(":path", "/orders")
	s.ResponseWriter = &fakeResponseWriter{}

	if err := a.HandleStream(context.Background(), s); err != nil {
		t.Fatalf("HandleStream: %v", err)
	}
	if s.InDelivery.LocalDisposition() != delivery.DispositionRejected {
		t.Fatalf("expected 400 to map to REJECTED, got %v", s.InDelivery.LocalDisposition())
	}
}

// TestHandleStreamStreamingResponseUsesCutThrough exercises the cut-through
// branch of buildOutgoingBody end to end: a Responder that sets
// Response.Streaming should still see the exact response bytes arrive at
// WriteResponse, having round-tripped through outContent's ring instead of
// the classical segmenter path.
func TestHandleStreamStreamingResponseUsesCutThrough(t *testing.T) {
	body := make([]byte, 3*buffer.Size+17) // spans several ring buffers
	for i := range body {
		body[i] = byte(i)
	}
	a := newTestAdaptor(func(in *delivery.Delivery) Response {
		return Response{Status: 200, Body: body, Streaming: true}
	})

	s := stream.NewStream(9)
	s.AddHeader(":method", "GET")
	s.AddHeader(":path", "/stream")
	w := &fakeResponseWriter{}
	s.ResponseWriter = w

	if err := a.HandleStream(context.Background(), s); err != nil {
		t.Fatalf("HandleStream: %v", err)
	}
	if !bytes.Equal(w.body, body) {
		t.Fatalf("expected the cut-through path to preserve the response body exactly")
	}
}

// TestHandleStreamTrailerReachesResponseAsFooterSegment exercises the
// classical path's footer segment: a Responder-supplied trailer should be
// encoded and appended after the body by drainSegments.
func TestHandleStreamTrailerReachesResponseAsFooterSegment(t *testing.T) {
	a := newTestAdaptor(func(in *delivery.Delivery) Response {
		return Response{Status: 200, Body: []byte("ok"), Trailer: [][2]string{{"grpc-status", "0"}}}
	})

	s := stream.NewStream(11)
	s.AddHeader(":method", "POST")
	s.AddHeader(":path", "/rpc")
	w := &fakeResponseWriter{}
	s.ResponseWriter = w

	if err := a.HandleStream(context.Background(), s); err != nil {
		t.Fatalf("HandleStream: %v", err)
	}
	if !bytes.HasPrefix(w.body, []byte("ok")) {
		t.Fatalf("expected the body segment to lead the drained bytes, got %q", w.body)
	}
	if len(w.body) <= len("ok") {
		t.Fatalf("expected the footer segment to add bytes after the body, got %q", w.body)
	}
}

// TestForwardIncomingDrainsBudgetedInMultipleChunks confirms the Q3
// accounting loop in forwardIncoming actually exercises Message.Send's
// budget-limited emission across more than one call, rather than assuming
// a single call always drains the whole message.
func TestForwardIncomingDrainsBudgetedInMultipleChunks(t *testing.T) {
	a := newTestAdaptor(nil)
	content := message.NewContent(a.Pool, a.Watermarks, 0)
	defer content.DecRef()

	in := message.Compose(content, message.Fragments{})
	in.SetAnnotationOverrides(annotations.Annotations{}.Stamp(a.LocalRouterID))
	content.AppendBodySegment(make([]byte, 40000)) // several multiples of forwardIncoming's send chunk
	content.SetReceiveComplete()

	a.forwardIncoming(in)
	if !in.SendComplete() {
		t.Fatalf("expected forwardIncoming to drain the message to completion")
	}
}
