// Package message implements the shared Content body of a logical message,
// its lightweight per-direction Message handles, the incremental AMQP
// parser, and the stream-data segmenter (§3, §4.2, §4.4).
package message

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trunkline/trunkrouter/internal/amqpcodec"
	"github.com/trunkline/trunkrouter/internal/buffer"
	"github.com/trunkline/trunkrouter/internal/cutthrough"
	"github.com/trunkline/trunkrouter/internal/field"
	"github.com/trunkline/trunkrouter/internal/flowcontrol"
	"github.com/trunkline/trunkrouter/internal/obsv"
)

// sectionDescriptor maps a parse Depth to the ulong descriptor code that
// introduces it on the wire. DepthRouterAnnotations, DepthProperties and
// DepthBody/DepthRawBody are handled specially (see tryParseSection).
var sectionDescriptor = map[Depth]uint64{
	DepthHeader:                uint64(amqpcodec.TypeCodeMessageHeader),
	DepthDeliveryAnnotations:   uint64(amqpcodec.TypeCodeDeliveryAnnotations),
	DepthMessageAnnotations:    uint64(amqpcodec.TypeCodeMessageAnnotations),
	DepthProperties:            uint64(amqpcodec.TypeCodeMessageProperties),
	DepthApplicationProperties: uint64(amqpcodec.TypeCodeApplicationProperties),
	DepthFooter:                uint64(amqpcodec.TypeCodeFooter),
}

// depthByCode is sectionDescriptor inverted, so tryParseDescribed can tell
// "a later section, this one's absent" apart from "an earlier section,
// arrived out of order" (§4.2's tie-break: out-of-order sections are
// INVALID).
var depthByCode = func() map[uint64]Depth {
	m := make(map[uint64]Depth, len(sectionDescriptor))
	for d, code := range sectionDescriptor {
		m[code] = d
	}
	return m
}()

// FieldID names one of the PROPERTIES section's positional fields,
// addressable independently of the section-level locator tryParseSection
// records for DepthProperties (§C, grounded on message_private.h's
// positional layout of qd_message_content_t's field array).
type FieldID int

const (
	FieldMessageID FieldID = iota
	FieldTo
	FieldSubject
	FieldReplyTo
	FieldCorrelationID
	FieldContentType
	FieldContentEncoding
	FieldAbsoluteExpiryTime
	FieldCreationTime
	FieldGroupID
	FieldGroupSequence
	FieldReplyToGroupID
	fieldCount
)

// propertiesFieldOrder maps a PROPERTIES list index to the FieldID at that
// position. Index 1 (user-id) has no named locator and is left unmapped.
var propertiesFieldOrder = map[int]FieldID{
	0:  FieldMessageID,
	2:  FieldTo,
	3:  FieldSubject,
	4:  FieldReplyTo,
	5:  FieldCorrelationID,
	6:  FieldContentType,
	7:  FieldContentEncoding,
	8:  FieldAbsoluteExpiryTime,
	9:  FieldCreationTime,
	10: FieldGroupID,
	11: FieldGroupSequence,
	12: FieldReplyToGroupID,
}

// fieldHeaderLength reports how many leading octets of an encoded value are
// header (tag plus any size/count prefix) rather than body, for the
// primitive encodings the PROPERTIES fields actually use.
func fieldHeaderLength(tag byte) int {
	switch tag {
	case amqpcodec.TypeCodeStr8, amqpcodec.TypeCodeVbin8, amqpcodec.TypeCodeSym8:
		return 2
	case amqpcodec.TypeCodeStr32, amqpcodec.TypeCodeVbin32, amqpcodec.TypeCodeSym32:
		return 5
	default:
		return 1
	}
}

// Content is shared between every Message/Delivery handle of one logical
// message (§3's "Content" data model entry). All structural mutation
// (buffer append, locator updates, cursor advance) is serialized by mu;
// producerAct/consumerAct guard the cut-through activation records
// separately so they may never be taken while mu is held (§5).
type Content struct {
	mu sync.Mutex

	pool  *buffer.Pool
	chain buffer.Chain // received/composed buffers, append-only

	// flat is a contiguous view of every byte appended so far, kept in
	// lock-step with chain. The buffer pool chain remains the owned storage
	// used for Q2 accounting and pool return; flat exists purely so the
	// parser can address an arbitrary forward cursor without re-deriving a
	// cross-buffer reader on every call.
	flat []byte

	parseOffset int
	depth       Depth
	sections    [9]field.Location
	fields      [fieldCount]field.Location

	receiveComplete atomic.Bool
	aborted         atomic.Bool
	discard         atomic.Bool
	cutThrough      atomic.Bool
	oversize        atomic.Bool
	noBody          atomic.Bool
	priorityParsed  atomic.Bool

	refCount int32

	maxMessageSize int
	bytesReceived  int

	q2 *flowcontrol.Q2

	ring *cutthrough.Ring

	producerActMu sync.Mutex
	producerAct   cutthrough.ActivationRecord
	consumerActMu sync.Mutex
	consumerAct   cutthrough.ActivationRecord

	segments []contentSegment
}

// contentSegment records one discrete body-data or footer fragment
// produced by AppendBodySegment/AppendFooterSegment, for the stream-data
// segmenter (§4.4 stream_data_next) to walk and release independently.
type contentSegment struct {
	kind     Depth // DepthBody or DepthFooter
	start    int
	end      int
	released bool
}

// AppendBodySegment appends one discrete body-data fragment for a
// streaming producer, recording it as an independently-releasable segment.
// It reports whether this append transitioned Q2 to blocked.
func (c *Content) AppendBodySegment(data []byte) (q2Blocked bool) {
	c.mu.Lock()
	start := len(c.flat)
	c.mu.Unlock()

	wasBlocked := c.q2.Blocked()
	_ = c.Receive(data, false)

	c.mu.Lock()
	c.segments = append(c.segments, contentSegment{kind: DepthBody, start: start, end: len(c.flat)})
	c.mu.Unlock()
	return !wasBlocked && c.q2.Blocked()
}

// AppendFooterSegment appends the trailing footer fragment, after which no
// further body segments may be appended for this content.
func (c *Content) AppendFooterSegment(data []byte) {
	c.mu.Lock()
	start := len(c.flat)
	c.mu.Unlock()

	_ = c.Receive(data, false)

	c.mu.Lock()
	c.segments = append(c.segments, contentSegment{kind: DepthFooter, start: start, end: len(c.flat)})
	c.mu.Unlock()
}

// NewContent creates an empty Content with one reference held by the
// caller, ready to receive octets.
func NewContent(pool *buffer.Pool, w flowcontrol.Watermarks, maxMessageSize int) *Content {
	return &Content{
		pool:           pool,
		refCount:       1,
		maxMessageSize: maxMessageSize,
		q2:             flowcontrol.NewQ2(w),
	}
}

// IncRef adds one reference.
func (c *Content) IncRef() { atomic.AddInt32(&c.refCount, 1) }

// DecRef releases one reference, returning every owned buffer to the pool
// and invalidating any unsent cut-through slots when the count reaches
// zero (§3's Content.ref_count invariant).
func (c *Content) DecRef() {
	if atomic.AddInt32(&c.refCount, -1) > 0 {
		return
	}
	if c.ring != nil {
		for _, ch := range c.ring.ConsumeBuffers(cutthrough.SlotCount) {
			if ch != nil {
				c.pool.PutChain(ch)
			}
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool.PutChain(&c.chain)
}

// RefCount reports the current reference count, for diagnostics/tests.
func (c *Content) RefCount() int32 { return atomic.LoadInt32(&c.refCount) }

// Q2 returns the per-message Q2 controller.
func (c *Content) Q2() *flowcontrol.Q2 { return c.q2 }

// SetReceiveComplete marks the content fully received. Write-once: later
// calls are no-ops.
func (c *Content) SetReceiveComplete() { c.receiveComplete.Store(true) }

// ReceiveComplete reports whether the framing layer has signaled
// end-of-message or end-of-stream.
func (c *Content) ReceiveComplete() bool { return c.receiveComplete.Load() }

// SetAborted marks the content aborted, propagating to every downstream
// consumer. Write-once.
func (c *Content) SetAborted() { c.aborted.Store(true) }

// Aborted reports whether the content has been aborted.
func (c *Content) Aborted() bool { return c.aborted.Load() }

// SetDiscard latches the discard flag. Per §3 it is write-once latching
// false→true only: once set it cannot be cleared.
func (c *Content) SetDiscard() { c.discard.Store(true) }

// Discard reports the discard flag.
func (c *Content) Discard() bool { return c.discard.Load() }

// Oversize reports whether cumulative received bytes exceeded
// max_message_size.
func (c *Content) Oversize() bool { return c.oversize.Load() }

// NoBody reports whether the message was determined to have no body.
func (c *Content) NoBody() bool { return c.noBody.Load() }

// BufferCount returns the number of buffers currently in the content's
// chain, the quantity Q2 watches.
func (c *Content) BufferCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chain.Len()
}

// EnableCutThrough atomically switches the content into cut-through mode
// and creates its ring. Classical accessors (field locators, check_depth)
// become invalid from this point on, per §3's "at most one of {classical
// path, cut-through enabled}" invariant.
func (c *Content) EnableCutThrough() *cutthrough.Ring {
	if c.cutThrough.CompareAndSwap(false, true) {
		c.ring = cutthrough.NewRing()
	}
	return c.ring
}

// CutThroughEnabled reports whether cut-through mode is active.
func (c *Content) CutThroughEnabled() bool { return c.cutThrough.Load() }

// Ring returns the cut-through ring, or nil if cut-through is not enabled.
func (c *Content) Ring() *cutthrough.Ring { return c.ring }

// Receive appends octets to the content, moving them into pool-owned
// buffers, advancing the parser, and enforcing max_message_size (§4.4
// receive()). complete signals the framing layer reached end-of-message or
// end-of-stream.
func (c *Content) Receive(octets []byte, complete bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cutThrough.Load() {
		return fmt.Errorf("message: classical receive invalid once cut-through is enabled")
	}

	c.bytesReceived += len(octets)
	if c.maxMessageSize > 0 && c.bytesReceived > c.maxMessageSize {
		c.oversize.Store(true)
		return nil
	}

	remaining := octets
	for len(remaining) > 0 {
		tail := c.chain.Tail()
		if tail == nil || tail.Free() == 0 {
			tail = c.pool.Get()
			c.chain.Append(tail)
		}
		n := tail.Append(remaining)
		if n == 0 {
			// Tail reported full after Append failed to make progress;
			// force a new buffer next iteration.
			tail = c.pool.Get()
			c.chain.Append(tail)
			n = tail.Append(remaining)
		}
		remaining = remaining[n:]
	}
	c.flat = append(c.flat, octets...)

	if complete {
		c.receiveComplete.Store(true)
	}

	if c.q2.Observe(c.chain.Len()) {
		obsv.RecordQ2Blocked()
	}
	c.parseForward()
	return nil
}

// parseForward advances depth through as many complete sections as the
// current flat view supports (§4.2). It never backtracks past the current
// depth and stops at the first INCOMPLETE or INVALID section.
func (c *Content) parseForward() {
	for c.depth <= DepthFooter {
		result, loc := c.tryParseSection(c.depth)
		switch result {
		case DepthOK:
			if loc.Present() {
				c.sections[c.depth] = loc
			}
			c.depth++
		case DepthIncomplete:
			return
		case DepthInvalid:
			c.discard.Store(true)
			return
		}
	}
}

// tryParseSection attempts to parse the section at depth starting at
// c.parseOffset, returning whether it succeeded, needs more bytes, or is
// malformed, and the resulting field location on success.
func (c *Content) tryParseSection(depth Depth) (DepthResult, field.Location) {
	remaining := c.flat[c.parseOffset:]
	if len(remaining) == 0 {
		// No optional section present; absent sections are OK per §4.2.
		// DepthBody is the exception: more bytes may still be coming, so
		// wait unless receive_complete has already been signaled — an
		// empty body with receive_complete set is a real, final message
		// (§4.2's "Failure mode... none" case), not a still-arriving one.
		if depth == DepthBody {
			if c.receiveComplete.Load() {
				c.noBody.Store(true)
				return DepthOK, field.Location{}
			}
			return DepthIncomplete, field.Location{}
		}
		return DepthOK, field.Location{}
	}

	switch depth {
	case DepthRouterAnnotations:
		return c.tryParseRouterAnnotations(remaining)
	case DepthProperties:
		return c.tryParsePropertiesSection(remaining)
	case DepthBody, DepthRawBody:
		// Body sections are left to the segmenter (§4.4 stream_data_next);
		// the parser only needs to confirm *some* application-data section
		// tag is present to advance past them if the caller is not
		// streaming.
		return DepthOK, field.Location{}
	default:
		code, ok := sectionDescriptor[depth]
		if !ok {
			return DepthOK, field.Location{}
		}
		return c.tryParseDescribed(remaining, depth, code)
	}
}

func (c *Content) tryParseRouterAnnotations(remaining []byte) (DepthResult, field.Location) {
	tag := remaining[0]
	if tag != amqpcodec.TypeCodeDescribed {
		// No router-annotations section present: fine, it's optional at
		// the depth-check level (callers that require it on inter-router
		// ingress reject separately).
		return DepthOK, field.Location{}
	}
	r := amqpcodec.NewReader(remaining)
	high, low, err := r.ReadDescriptor()
	if err == amqpcodec.ErrTruncated {
		return DepthIncomplete, field.Location{}
	}
	if err != nil {
		return DepthOK, field.Location{}
	}
	if high != amqpcodec.RouterAnnotationsDescriptorHigh || low != amqpcodec.RouterAnnotationsDescriptorLow {
		return DepthOK, field.Location{}
	}
	if err := r.SkipValue(); err != nil {
		if err == amqpcodec.ErrTruncated {
			return DepthIncomplete, field.Location{}
		}
		return DepthInvalid, field.Location{}
	}
	consumed := len(remaining) - r.Remaining()
	loc := field.Location{Anchor: c.chain.Head(), Offset: c.parseOffset, Length: consumed, Parsed: true}
	c.parseOffset += consumed
	return DepthOK, loc
}

func (c *Content) tryParseDescribed(remaining []byte, depth Depth, wantCode uint64) (DepthResult, field.Location) {
	if remaining[0] != amqpcodec.TypeCodeDescribed {
		// Section absent: optional sections are OK.
		return DepthOK, field.Location{}
	}
	r := amqpcodec.NewReader(remaining)
	code, err := r.ReadDescriptorCode()
	if err == amqpcodec.ErrTruncated {
		return DepthIncomplete, field.Location{}
	}
	if err != nil {
		return DepthInvalid, field.Location{}
	}
	if code != wantCode {
		if earlier, known := depthByCode[code]; known && earlier < depth {
			// A section that belongs earlier in wire order showed up here:
			// genuinely out of order, not merely absent.
			return DepthInvalid, field.Location{}
		}
		// An unrecognized or later section arrived ahead of schedule; this
		// one is simply absent.
		return DepthOK, field.Location{}
	}
	if err := r.SkipValue(); err != nil {
		if err == amqpcodec.ErrTruncated {
			return DepthIncomplete, field.Location{}
		}
		return DepthInvalid, field.Location{}
	}
	consumed := len(remaining) - r.Remaining()
	start := c.parseOffset
	loc := field.Location{Anchor: c.chain.Head(), Offset: start, Length: consumed, Parsed: true}
	c.parseOffset += consumed
	return DepthOK, loc
}

// tryParsePropertiesSection parses the PROPERTIES composite the way
// tryParseDescribed does for every other section, but additionally walks
// its list elements to populate the twelve named field locators (§C):
// tryParseDescribed only ever records a location for the section as a
// whole, which loses exactly the per-field addressability §C commits to.
func (c *Content) tryParsePropertiesSection(remaining []byte) (DepthResult, field.Location) {
	if remaining[0] != amqpcodec.TypeCodeDescribed {
		return DepthOK, field.Location{}
	}
	r := amqpcodec.NewReader(remaining)
	code, err := r.ReadDescriptorCode()
	if err == amqpcodec.ErrTruncated {
		return DepthIncomplete, field.Location{}
	}
	if err != nil {
		return DepthInvalid, field.Location{}
	}
	if code != uint64(amqpcodec.TypeCodeMessageProperties) {
		if earlier, known := depthByCode[code]; known && earlier < DepthProperties {
			return DepthInvalid, field.Location{}
		}
		return DepthOK, field.Location{}
	}

	hdr, err := r.ReadListHeader()
	if err == amqpcodec.ErrTruncated {
		return DepthIncomplete, field.Location{}
	}
	if err != nil {
		return DepthInvalid, field.Location{}
	}

	for i := uint32(0); i < hdr.Count; i++ {
		tag, err := r.PeekTag()
		if err != nil {
			if err == amqpcodec.ErrTruncated {
				return DepthIncomplete, field.Location{}
			}
			return DepthInvalid, field.Location{}
		}
		elemStart := len(remaining) - r.Remaining()
		if err := r.SkipValue(); err != nil {
			if err == amqpcodec.ErrTruncated {
				return DepthIncomplete, field.Location{}
			}
			return DepthInvalid, field.Location{}
		}
		elemEnd := len(remaining) - r.Remaining()

		if fid, ok := propertiesFieldOrder[int(i)]; ok && tag != amqpcodec.TypeCodeNull {
			hdrLen := fieldHeaderLength(tag)
			c.fields[fid] = field.Location{
				Anchor:    c.chain.Head(),
				Offset:    c.parseOffset + elemStart,
				Length:    (elemEnd - elemStart) - hdrLen,
				HdrLength: hdrLen,
				Tag:       tag,
				Parsed:    true,
			}
		}
	}

	consumed := len(remaining) - r.Remaining()
	start := c.parseOffset
	loc := field.Location{Anchor: c.chain.Head(), Offset: start, Length: consumed, Parsed: true}
	c.parseOffset += consumed
	return DepthOK, loc
}

// CheckDepth reports {OK, INCOMPLETE, INVALID} for target without blocking
// (§4.4 check_depth). OK for any depth already reached or skipped as
// absent-and-optional.
func (c *Content) CheckDepth(target Depth) DepthResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discard.Load() {
		return DepthInvalid
	}
	if c.depth > target {
		return DepthOK
	}
	if c.depth == target {
		return DepthIncomplete
	}
	return DepthIncomplete
}

// SectionLocation returns the parsed field location for depth, if any.
func (c *Content) SectionLocation(depth Depth) (field.Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc := c.sections[depth]
	return loc, loc.Present()
}

// Field returns the parsed location of one of the PROPERTIES section's
// named positional fields (§C), if the message carried it and PROPERTIES
// has been parsed.
func (c *Content) Field(id FieldID) (field.Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc := c.fields[id]
	return loc, loc.Present()
}
