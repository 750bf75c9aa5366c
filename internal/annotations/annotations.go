// Package annotations implements the router-annotations codec (§4.3): the
// custom leading AMQP section carrying ingress-router id, trace list,
// to-override, flags and ingress-mesh id, described by descriptor code
// 0x534B5052:0x2D2D5241.
//
// Field names and the additional flag bits beyond the streaming bit are
// grounded on qd_message_content_t / MSG_FLAG_* in qpid-dispatch's
// message_private.h.
package annotations

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/trunkline/trunkrouter/internal/amqpcodec"
)

// Version is the current router-annotations wire version, advertised under
// the connection-open property key "qd.annotations-version"; peers use the
// numerical minimum of the two sides' versions.
const Version = 2

// PropertyKey is the connection-open property name carrying Version.
const PropertyKey = "qd.annotations-version"

// Flag bits within the annotations' flags field. Only bit 0 (Streaming) is
// named by the router-annotations wire format itself; the other two are
// carried opaquely end to end but are otherwise meaningful to the local
// message pipeline (§4.4, §4.5 streaming/Q2 interactions).
const (
	FlagStreaming      uint32 = 0x01 // message is being sent cut-through / streamed
	FlagResendReleased uint32 = 0x02 // redelivered after a RELEASED disposition
	FlagDisableQ2      uint32 = 0x04 // Q2 back-pressure disabled for this message
)

// StripMode selects which fields send() omits when composing outgoing
// annotations (§4.3 operations).
type StripMode int

const (
	StripNone StripMode = iota
	StripIngress
	StripTrace
	StripAll
)

// Annotations is the decoded router-annotations section. A nil ToOverride or
// IngressRouter or IngressMesh represents the AMQP-null encoding.
type Annotations struct {
	Flags         uint32
	ToOverride    *string
	IngressRouter *string
	Trace         []string
	IngressMesh   *string
}

// Streaming reports whether the streaming flag bit is set.
func (a Annotations) Streaming() bool { return a.Flags&FlagStreaming != 0 }

// Strip returns a copy of a with the fields named by mode removed, and the
// local router id appended to the trace list when interior is true and mode
// does not strip the trace. Grounded on §4.3's send() operation.
func (a Annotations) Strip(mode StripMode, interior bool, localRouterID string) Annotations {
	out := a
	switch mode {
	case StripIngress:
		out.IngressRouter = nil
	case StripTrace:
		out.Trace = nil
	case StripAll:
		out.IngressRouter = nil
		out.Trace = nil
		out.ToOverride = nil
		out.IngressMesh = nil
	}
	if interior && mode != StripTrace && mode != StripAll {
		out.Trace = append(append([]string(nil), out.Trace...), localRouterID)
	}
	return out
}

// ErrNonRouterIngressAnnotations is returned by RejectOnIngress when a
// non-router ingress link presents a message that already carries a
// router-annotations section (§4.3, §8's "client ingress reject" scenario).
var ErrNonRouterIngressAnnotations = errors.New("annotations: router-annotations section present on non-router ingress")

// RejectOnIngress enforces §4.3's ingress rule: router-annotations may only
// arrive on a link whose peer is itself a router. present reports whether
// the incoming content parsed a router-annotations section; routerPeer
// reports whether the receiving link's peer is a router. A non-router peer
// presenting annotations must be rejected, not silently stripped.
func RejectOnIngress(present, routerPeer bool) error {
	if present && !routerPeer {
		return ErrNonRouterIngressAnnotations
	}
	return nil
}

// NewIngressMeshID generates a fresh ingress-mesh identifier for a
// connection's first hop into the mesh.
func NewIngressMeshID() string {
	return uuid.NewString()
}

// Stamp fills in IngressRouter and IngressMesh for a message entering the
// mesh for the first time (§4.3): a client-facing ingress adaptor calls
// this once, before any Strip, leaving both fields untouched if the
// message already carries them (e.g. a router-to-router hop).
func (a Annotations) Stamp(localRouterID string) Annotations {
	out := a
	if out.IngressRouter == nil {
		id := localRouterID
		out.IngressRouter = &id
	}
	if out.IngressMesh == nil {
		id := NewIngressMeshID()
		out.IngressMesh = &id
	}
	return out
}

// Decode parses a router-annotations section from p, which must begin at
// the 0x00 descriptor preamble. It returns the decoded Annotations and the
// number of bytes consumed.
func Decode(p []byte) (Annotations, int, error) {
	r := amqpcodec.NewReader(p)
	high, low, err := r.ReadDescriptor()
	if err != nil {
		return Annotations{}, 0, fmt.Errorf("annotations: %w", err)
	}
	if high != amqpcodec.RouterAnnotationsDescriptorHigh || low != amqpcodec.RouterAnnotationsDescriptorLow {
		return Annotations{}, 0, fmt.Errorf("annotations: unexpected descriptor %08x:%08x", high, low)
	}

	hdr, err := r.ReadListHeader()
	if err != nil {
		return Annotations{}, 0, fmt.Errorf("annotations: list header: %w", err)
	}

	var a Annotations
	if hdr.Count >= 1 {
		v, err := r.ReadUint32()
		if err != nil {
			return Annotations{}, 0, fmt.Errorf("annotations: flags: %w", err)
		}
		a.Flags = v
	}
	if hdr.Count >= 2 {
		s, present, err := r.ReadStr()
		if err != nil {
			return Annotations{}, 0, fmt.Errorf("annotations: to-override: %w", err)
		}
		if present {
			a.ToOverride = &s
		}
	}
	if hdr.Count >= 3 {
		s, present, err := r.ReadStr()
		if err != nil {
			return Annotations{}, 0, fmt.Errorf("annotations: ingress-router: %w", err)
		}
		if present {
			a.IngressRouter = &s
		}
	}
	if hdr.Count >= 4 {
		traceHdr, err := r.ReadListHeader()
		if err != nil {
			return Annotations{}, 0, fmt.Errorf("annotations: trace: %w", err)
		}
		trace := make([]string, 0, traceHdr.Count)
		for i := uint32(0); i < traceHdr.Count; i++ {
			s, _, err := r.ReadStr()
			if err != nil {
				return Annotations{}, 0, fmt.Errorf("annotations: trace[%d]: %w", i, err)
			}
			trace = append(trace, s)
		}
		a.Trace = trace
	}
	if hdr.Count >= 5 {
		s, present, err := r.ReadStr()
		if err != nil {
			return Annotations{}, 0, fmt.Errorf("annotations: ingress-mesh: %w", err)
		}
		if present {
			a.IngressMesh = &s
		}
	}

	consumed := len(p) - r.Remaining()
	return a, consumed, nil
}

// Encode composes a into the router-annotations wire section.
func Encode(a Annotations) []byte {
	w := amqpcodec.NewWriter()
	w.WriteDescriptor(amqpcodec.RouterAnnotationsDescriptorHigh, amqpcodec.RouterAnnotationsDescriptorLow)

	list := amqpcodec.NewList()
	list.Append().WriteUint32(a.Flags)

	if a.ToOverride != nil {
		list.Append().WriteStr(*a.ToOverride)
	} else {
		list.Append().WriteNull()
	}

	if a.IngressRouter != nil {
		list.Append().WriteStr(*a.IngressRouter)
	} else {
		list.Append().WriteNull()
	}

	traceList := amqpcodec.NewList()
	for _, id := range a.Trace {
		traceList.Append().WriteStr(id)
	}
	traceElem := list.Append()
	traceList.WriteTo(traceElem)

	if a.IngressMesh != nil {
		list.Append().WriteStr(*a.IngressMesh)
	} else {
		list.Append().WriteNull()
	}

	list.WriteTo(w)
	return w.Bytes()
}
