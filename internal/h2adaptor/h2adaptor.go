// Package h2adaptor maps each HTTP/2 stream to a pair of AMQP deliveries
// (§4.7): it implements stream.Handler and stream.StreamAdaptor, translating
// HEADERS/DATA/END_STREAM/RST_STREAM/GOAWAY into message build/flow/abort
// operations. Address routing itself — choosing the next-hop link for a
// virtual address — is an explicit out-of-scope collaborator (§1); this
// package calls out to a Responder in its place.
package h2adaptor

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/trunkline/trunkrouter/internal/amqpcodec"
	"github.com/trunkline/trunkrouter/internal/annotations"
	"github.com/trunkline/trunkrouter/internal/buffer"
	"github.com/trunkline/trunkrouter/internal/cutthrough"
	"github.com/trunkline/trunkrouter/internal/delivery"
	"github.com/trunkline/trunkrouter/internal/flowcontrol"
	"github.com/trunkline/trunkrouter/internal/message"
	"github.com/trunkline/trunkrouter/internal/obsv"
	"github.com/trunkline/trunkrouter/internal/stream"
)

// Response is what a Responder hands back for translation into HEADERS,
// DATA and an optional trailer (§4.7 items 6-7). Streaming requests the
// cut-through path (§4.6) for the response body instead of the classical
// segmenter path; it is meaningless without a non-empty Body.
type Response struct {
	Status    int
	Headers   [][2]string
	Body      []byte
	Trailer   [][2]string
	Streaming bool
}

// Responder answers a routed incoming delivery. The forwarder that would
// pick a real next hop is out of scope (§1); a Responder stands in for
// whatever local consumer or test fixture drives the response side.
type Responder func(in *delivery.Delivery) Response

// Adaptor is one HTTP/2 Connection's mapping from streams to deliveries.
type Adaptor struct {
	VirtualAddress string
	LocalRouterID  string // stamped into router-annotations as ingress-router (§4.3)
	Pool           *buffer.Pool
	Watermarks     flowcontrol.Watermarks
	MaxMessageSize int
	Respond        Responder
	Tracer         *obsv.Tracer // nil disables span creation

	incoming *delivery.Link
	detector *delivery.Detector
	q3       *flowcontrol.Q3 // this connection's session-level pending-octet gate (§4.5)
}

// stalledSessions counts how many live adaptors' Q3 controllers are
// currently stalled, feeding the process-wide q3StalledGauge (§4.5).
var stalledSessions int64

// New creates an adaptor bound to one virtual address.
func New(virtualAddress string, pool *buffer.Pool, w flowcontrol.Watermarks, respond Responder) *Adaptor {
	q3 := flowcontrol.NewQ3(w)
	q3.Subscribe(func(stalled bool) {
		delta := int64(-1)
		if stalled {
			delta = 1
		}
		obsv.SetQ3Stalled(int(atomic.AddInt64(&stalledSessions, delta)))
	})
	return &Adaptor{
		VirtualAddress: virtualAddress,
		Pool:           pool,
		Watermarks:     w,
		Respond:        respond,
		incoming:       delivery.NewLink(virtualAddress, delivery.DirectionIncoming, 16),
		detector:       delivery.NewDetector(delivery.DefaultStuckThresholds()),
		q3:             q3,
	}
}

// IncomingLink returns the link every routed incoming delivery is queued
// on, for the management table walk (§4.8) or a real forwarder to drain.
func (a *Adaptor) IncomingLink() *delivery.Link { return a.incoming }

// Detector returns the stuck-delivery detector evaluated against this
// adaptor's incoming link by the core thread's periodic sweep (§4.8, §5).
func (a *Adaptor) Detector() *delivery.Detector { return a.detector }

// HandleStream implements stream.Handler (§4.7 items 1-3, 6-7). The
// Processor calls this once a stream's request (headers plus any
// trailers) is fully decoded; DATA frames accumulated on s.Data via the
// transport's existing per-stream buffer are folded into the message body
// here rather than appended frame-by-frame, since stream.Handler is only
// invoked once per request. True per-DATA-frame cut-through on the
// incoming side would need a lower-level hook into handleData and is not
// wired through this dispatch point; the response side does run through
// the cut-through ring (§4.6) when the Responder asks for it, since that
// path has no equivalent per-frame constraint.
func (a *Adaptor) HandleStream(ctx context.Context, s *stream.Stream) error {
	opened := time.Now()
	method, path := requestPseudoHeaders(s)

	var span trace.Span
	if a.Tracer != nil {
		ctx, span = a.Tracer.StartDelivery(ctx, nil, method, path)
	}

	content := message.NewContent(a.Pool, a.Watermarks, a.MaxMessageSize)
	defer content.DecRef()

	in := message.Compose(content, buildRequestFragments(s))
	in.SetAnnotationOverrides(annotations.Annotations{}.Stamp(a.LocalRouterID))
	if body := s.GetData(); len(body) > 0 {
		content.AppendBodySegment(body)
	}
	content.SetReceiveComplete()
	s.BytesIn = int64(len(s.GetData()))
	s.HeaderComposed = true
	obsv.RecordMessageBytes("in", s.BytesIn)

	inDelivery := delivery.NewDelivery(in)
	inDelivery.SetContext(s)

	if _, present := content.SectionLocation(message.DepthRouterAnnotations); present {
		if err := annotations.RejectOnIngress(present, a.incoming.PeerIsRouter); err != nil {
			inDelivery.SetLocalDisposition(delivery.DispositionRejected)
			obsv.RecordSettlement("incoming", delivery.DispositionRejected.String())
			s.InDelivery = inDelivery
			s.SetStatus(stream.StatusFullyClosed)
			if s.ResponseWriter != nil {
				headers := [][2]string{{":status", "400"}}
				_ = s.ResponseWriter.WriteResponse(s.ID, 400, headers, []byte(err.Error()))
			}
			obsv.RecordStreamDuration(s.GetStatus().String(), time.Since(opened).Seconds())
			if span != nil {
				obsv.EndDelivery(span, delivery.DispositionRejected, err)
			}
			return nil
		}
	}

	a.incoming.Enqueue(inDelivery)
	// No real forwarder is wired in (§1: address routing is an out-of-scope
	// collaborator); the adaptor itself drains its own incoming link so the
	// delivery reaches unsettled state and Respond can run immediately.
	a.incoming.PopUndelivered()
	a.forwardIncoming(in)
	s.InDelivery = inDelivery
	s.SetStatus(stream.StatusHalfClosed)

	resp := Response{Status: 200}
	if a.Respond != nil {
		resp = a.Respond(inDelivery)
	}
	disp := statusDisposition(resp.Status)
	inDelivery.SetLocalDisposition(disp)
	obsv.RecordSettlement("incoming", disp.String())

	if s.ResponseWriter == nil {
		s.SetStatus(stream.StatusFullyClosed)
		obsv.RecordStreamDuration(s.GetStatus().String(), time.Since(opened).Seconds())
		if span != nil {
			obsv.EndDelivery(span, disp, nil)
		}
		return nil
	}

	headers := append([][2]string{{":status", strconv.Itoa(resp.Status)}}, resp.Headers...)
	outContent := message.NewContent(a.Pool, a.Watermarks, a.MaxMessageSize)
	defer outContent.DecRef()
	outMsg := message.NewMessage(outContent)
	defer outMsg.Release()
	// The HTTP/2 client on the far side of this stream is never a router
	// peer, so §4.3 requires any router-annotations this delivery carries
	// be stripped in full on the way out, not merely trace-trimmed.
	outMsg.SetAnnotationOverrides(annotations.Annotations{}.Strip(message.StripAll, false, a.LocalRouterID))

	outDelivery := delivery.NewDelivery(outMsg)
	outDelivery.SetContext(s)
	s.OutDelivery = outDelivery

	if len(resp.Trailer) > 0 {
		s.FooterPending = true
	}

	outBody := a.buildOutgoingBody(outContent, resp)

	a.q3.Add(len(outBody))
	writeErr := s.ResponseWriter.WriteResponse(s.ID, resp.Status, headers, outBody)
	a.q3.Add(-len(outBody))
	if writeErr != nil {
		if span != nil {
			obsv.EndDelivery(span, disp, writeErr)
		}
		return writeErr
	}
	s.BytesOut = int64(len(outBody))
	obsv.RecordMessageBytes("out", s.BytesOut)
	outDelivery.SetLocalDisposition(delivery.DispositionAccepted)
	obsv.RecordSettlement("outgoing", delivery.DispositionAccepted.String())
	s.FooterPending = false
	s.SetStatus(stream.StatusFullyClosed)
	obsv.RecordStreamDuration(s.GetStatus().String(), time.Since(opened).Seconds())
	if span != nil {
		obsv.EndDelivery(span, disp, nil)
	}
	return nil
}

// requestPseudoHeaders extracts :method and :path ahead of the full
// fragment build, purely for span naming and metric labels.
func requestPseudoHeaders(s *stream.Stream) (method, path string) {
	s.ForEachHeader(func(name, value string) {
		switch name {
		case ":method":
			method = value
		case ":path":
			path = value
		}
	})
	return method, path
}

// HandleReset implements stream.StreamAdaptor (§4.7 item 4, §7's "Consumer
// vanish"): reject the out-delivery if any, clear the in-delivery's
// correlation context, and mark the stream closed so it can be freed.
func (a *Adaptor) HandleReset(s *stream.Stream) {
	if s.OutDelivery != nil {
		s.OutDelivery.SetRemoteDisposition(delivery.DispositionRejected)
		s.OutDelivery.Release()
		s.OutDelivery = nil
	}
	if s.InDelivery != nil {
		s.InDelivery.SetContext(nil)
	}
	s.SetStatus(stream.StatusFullyClosed)
}

// HandleGoAway implements stream.StreamAdaptor (§4.7 item 5). The
// Processor already frees every stream with id > last_stream_id and calls
// HandleReset on each; nothing connection-wide is left for the adaptor to
// do beyond that.
func (a *Adaptor) HandleGoAway(_ uint32) {}

func statusDisposition(status int) delivery.Disposition {
	switch {
	case status >= 200 && status < 300:
		return delivery.DispositionAccepted
	case status == 400:
		return delivery.DispositionRejected
	case status == 503:
		return delivery.DispositionReleased
	default:
		return delivery.DispositionModified
	}
}

// buildRequestFragments composes HEADER+PROPERTIES+APPLICATION_PROPERTIES
// from a stream's pseudo- and regular headers (§4.7 item 1): `:method` maps
// to `subject`, `:path` to `to`, everything else into application-properties.
func buildRequestFragments(s *stream.Stream) message.Fragments {
	var method, path string
	appProps := amqpcodec.NewMap()
	hasAppProps := false

	s.ForEachHeader(func(name, value string) {
		switch name {
		case ":method":
			method = value
		case ":path":
			path = value
		case ":scheme", ":authority":
			// Pseudo-headers with no router-annotations or properties analog.
		default:
			appProps.PutStr(name, value)
			hasAppProps = true
		}
	})

	w := amqpcodec.NewWriter()
	w.WriteDescriptorCode(uint64(amqpcodec.TypeCodeMessageProperties))
	props := amqpcodec.NewList()
	props.Append().WriteNull()      // message-id
	props.Append().WriteNull()      // user-id
	props.Append().WriteStr(path)   // to
	props.Append().WriteStr(method) // subject
	props.WriteTo(w)

	hw := amqpcodec.NewWriter()
	hw.WriteDescriptorCode(uint64(amqpcodec.TypeCodeMessageHeader))
	amqpcodec.NewList().WriteTo(hw)

	frags := message.Fragments{Header: hw.Bytes(), Properties: w.Bytes()}

	if hasAppProps {
		aw := amqpcodec.NewWriter()
		aw.WriteDescriptorCode(uint64(amqpcodec.TypeCodeApplicationProperties))
		appProps.WriteTo(aw)
		frags.ApplicationProperties = aw.Bytes()
	}
	return frags
}

// forwardIncoming stands in for the next hop a real forwarder would push
// this delivery onto (§1: address routing is an out-of-scope collaborator).
// It walks in's body segments to exercise the same release bookkeeping a
// real consumer would perform, then repeatedly calls Send to produce the
// router-annotation-prefixed wire bytes a next hop would receive,
// accounting every emitted chunk against this connection's Q3 controller
// (§4.5) as if it were sitting in a peer's outgoing buffer.
func (a *Adaptor) forwardIncoming(in *message.Message) {
	seg := message.NewSegmenter(in.Content())
	for {
		result, s := seg.Next()
		if result != message.SegmentBodyOK && result != message.SegmentFooterOK {
			break
		}
		seg.Release(s.ID)
	}

	const sendChunk = 16 * 1024
	for {
		emitted, done := in.Send(true, a.LocalRouterID, message.StripTrace, sendChunk)
		if len(emitted) > 0 {
			a.q3.Add(len(emitted))
			obsv.RecordMessageBytes("forward", int64(len(emitted)))
			a.q3.Add(-len(emitted))
		}
		if done {
			break
		}
	}
}

// buildOutgoingBody produces the bytes WriteResponse writes to the wire.
// A streaming response is routed through outContent's cut-through ring
// (§4.6); the classical case appends resp.Body (and any trailer) as
// discrete stream-data segments and drains them through the segmenter
// (§4.4), so ordinary non-streaming traffic exercises the same release
// path a real streaming consumer would use.
func (a *Adaptor) buildOutgoingBody(outContent *message.Content, resp Response) []byte {
	if resp.Streaming && len(resp.Body) > 0 {
		ring := outContent.EnableCutThrough()
		if ring.CanProduceBuffers() {
			ring.ProduceBuffers(chainFromBytes(a.Pool, resp.Body))
		}
		return drainCutThrough(ring, a.Pool)
	}

	if len(resp.Body) > 0 {
		outContent.AppendBodySegment(resp.Body)
	}
	if len(resp.Trailer) > 0 {
		outContent.AppendFooterSegment(encodeTrailerFooter(resp.Trailer))
	}
	outContent.SetReceiveComplete()
	return drainSegments(outContent)
}

// chainFromBytes copies data into freshly pool-allocated buffers chained
// together, the unit a cut-through ring's slots move (§4.1, §4.6).
func chainFromBytes(pool *buffer.Pool, data []byte) *buffer.Chain {
	chain := &buffer.Chain{}
	for len(data) > 0 {
		b := pool.Get()
		n := b.Append(data)
		if n == 0 {
			break
		}
		chain.Append(b)
		data = data[n:]
	}
	return chain
}

// drainCutThrough consumes every buffer list a producer pushes into ring
// until none remain, returning the concatenated bytes and the buffers to
// pool. It stands in for the downstream connection that would relay each
// chain onward to its own link as it arrives (§4.6); this adaptor has no
// second connection to relay to, so it reassembles the chains itself.
func drainCutThrough(ring *cutthrough.Ring, pool *buffer.Pool) []byte {
	var out []byte
	for ring.CanConsumeBuffers() {
		for _, chain := range ring.ConsumeBuffers(cutthrough.SlotCount) {
			for b := chain.Head(); b != nil; b = b.Next() {
				out = append(out, b.Bytes()...)
			}
			pool.PutChain(chain)
		}
	}
	return out
}

// drainSegments walks content's segmenter end to end, releasing each
// segment as it is consumed, and returns the concatenated bytes for the
// wire (§4.4 stream_data_next).
func drainSegments(content *message.Content) []byte {
	seg := message.NewSegmenter(content)
	var out []byte
	for {
		result, s := seg.Next()
		if result != message.SegmentBodyOK && result != message.SegmentFooterOK {
			return out
		}
		out = append(out, s.Data...)
		seg.Release(s.ID)
	}
}

// encodeTrailerFooter composes an HTTP trailer as an AMQP FOOTER map
// section, the shape AppendFooterSegment expects.
func encodeTrailerFooter(trailer [][2]string) []byte {
	w := amqpcodec.NewWriter()
	w.WriteDescriptorCode(uint64(amqpcodec.TypeCodeFooter))
	m := amqpcodec.NewMap()
	for _, kv := range trailer {
		m.PutStr(kv[0], kv[1])
	}
	m.WriteTo(w)
	return w.Bytes()
}
