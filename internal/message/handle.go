package message

import (
	"github.com/trunkline/trunkrouter/internal/annotations"
)

// StripMode re-exports annotations.StripMode under the name §4.4's send()
// operation uses (ra_flags).
type StripMode = annotations.StripMode

const (
	StripNone    = annotations.StripNone
	StripIngress = annotations.StripIngress
	StripTrace   = annotations.StripTrace
	StripAll     = annotations.StripAll
)

// Message is a lightweight, exclusive, per-direction view over a Content
// (§3's "Message handle" entry): it owns only the outgoing byte cursor and
// per-send annotation overrides, and shares the Content by reference.
// Handles of the same Content may be sent concurrently by different
// workers, since each Message owns its own cursor.
type Message struct {
	content *Content

	sendOffset      int
	sendComplete    bool
	annotationsSent bool

	overrides annotations.Annotations
}

// NewMessage creates a handle over content, taking one reference.
func NewMessage(content *Content) *Message {
	content.IncRef()
	return &Message{content: content}
}

// Content returns the shared Content this handle views.
func (m *Message) Content() *Content { return m.content }

// SetAnnotationOverrides records the per-send router-annotation overrides
// this handle's send() should apply.
func (m *Message) SetAnnotationOverrides(a annotations.Annotations) { m.overrides = a }

// SendComplete reports whether this handle has emitted its entire message.
func (m *Message) SendComplete() bool { return m.sendComplete }

// Release drops this handle's reference to its Content. After Release the
// handle must not be used again.
func (m *Message) Release() { m.content.DecRef() }

// Send composes outgoing annotations per mode and emits buffers from the
// cursor up to limit bytes (a stand-in for "up to Q3 capacity" — the
// caller is expected to pass the session's currently available Q3 budget).
// On the first call it replaces whatever router-annotations section the
// content arrived with by the stripped/overridden one, prefixed to the
// first chunk; later calls only advance the body cursor. It reports the
// bytes emitted and whether the whole message has now been sent. It does
// not report a Q3 stall; the caller adds the emitted bytes to its Q3
// controller and reads the stall state from there.
func (m *Message) Send(interior bool, localRouterID string, mode StripMode, limit int) (emitted []byte, done bool) {
	m.content.mu.Lock()
	defer m.content.mu.Unlock()

	var prefix []byte
	if !m.annotationsSent {
		out := m.overrides.Strip(mode, interior, localRouterID)
		prefix = annotations.Encode(out)
		if loc := m.content.sections[DepthRouterAnnotations]; loc.Present() {
			m.sendOffset = loc.Offset + loc.Length
		}
		m.annotationsSent = true
	}

	avail := len(m.content.flat) - m.sendOffset
	if avail < 0 {
		avail = 0
	}
	if limit > 0 {
		budget := limit - len(prefix)
		if budget < 0 {
			budget = 0
		}
		if budget < avail {
			avail = budget
		}
	}
	body := m.content.flat[m.sendOffset : m.sendOffset+avail]
	m.sendOffset += avail

	chunk := body
	if len(prefix) > 0 {
		chunk = append(prefix, body...)
	}

	if m.sendOffset >= len(m.content.flat) && m.content.receiveComplete.Load() {
		m.sendComplete = true
	}
	return chunk, m.sendComplete
}

// Fragments names the up-to-five pre-built section byte slices Compose
// assembles, in wire order (§4.4 compose()). A nil entry omits that
// optional section.
type Fragments struct {
	Header                []byte
	DeliveryAnnotations   []byte
	MessageAnnotations    []byte
	Properties            []byte
	ApplicationProperties []byte
}

// Compose builds a new outgoing Message by taking ownership of up to five
// pre-built section fragments, in section order (§4.4 compose()).
func Compose(content *Content, frags Fragments) *Message {
	for _, frag := range [][]byte{
		frags.Header,
		frags.DeliveryAnnotations,
		frags.MessageAnnotations,
		frags.Properties,
		frags.ApplicationProperties,
	} {
		if len(frag) == 0 {
			continue
		}
		_ = content.Receive(frag, false)
	}
	return NewMessage(content)
}

// Extend appends another fragment to an in-progress outgoing message,
// for streaming producers (§4.4 extend()). It reports whether this append
// transitioned Q2 to blocked.
func Extend(content *Content, fragment []byte) (q2Blocked bool) {
	wasBlocked := content.q2.Blocked()
	_ = content.Receive(fragment, false)
	return !wasBlocked && content.q2.Blocked()
}
