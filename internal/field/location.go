// Package field implements the FieldLocation cursor: a reference to one
// AMQP field within a buffer chain that names its position without
// copying the underlying octets (§3, §4.1).
package field

import (
	"io"

	"github.com/trunkline/trunkrouter/internal/buffer"
)

// Location is (chain_anchor, offset_in_anchor, length, header_length, tag,
// parsed) as specified in §3. A zero Anchor means "absent". Locations are
// never moved once Parsed is true; the buffers they reference stay pinned
// by the owning content's reference count.
type Location struct {
	Anchor    *buffer.Buffer // buffer containing the first octet of the field
	Offset    int            // offset within Anchor to the first octet of the header
	Length    int            // length of the field, excluding the header
	HdrLength int            // length of the field's header, not included in Length
	Tag       byte           // AMQP type tag for the field
	Parsed    bool           // true once the buffer chain has been parsed to find this field
}

// Present reports whether the location names an actual field.
func (l Location) Present() bool { return l.Anchor != nil }

// Reader yields the raw octets named by a Location, walking across buffer
// boundaries as needed. It does not copy eagerly; Read pulls directly from
// the chain's buffers.
type Reader struct {
	buf    *buffer.Buffer
	offset int
	remain int
}

// NewReader returns a Reader over the full field (header + body) named by loc.
// The caller must hold the content's reference count for the reader's lifetime.
func NewReader(loc Location) *Reader {
	if !loc.Present() {
		return &Reader{}
	}
	return &Reader{buf: loc.Anchor, offset: loc.Offset, remain: loc.HdrLength + loc.Length}
}

// NewBodyReader returns a Reader over only the field's value octets,
// skipping its header.
func NewBodyReader(loc Location) *Reader {
	if !loc.Present() {
		return &Reader{}
	}
	buf, off := advance(loc.Anchor, loc.Offset, loc.HdrLength)
	return &Reader{buf: buf, offset: off, remain: loc.Length}
}

// advance walks n octets forward from (buf, offset), crossing buffer
// boundaries, and returns the resulting position.
func advance(buf *buffer.Buffer, offset, n int) (*buffer.Buffer, int) {
	for n > 0 && buf != nil {
		avail := len(buf.Bytes()) - offset
		if n < avail {
			offset += n
			return buf, offset
		}
		n -= avail
		buf = buf.Next()
		offset = 0
	}
	return buf, offset
}

// Read implements io.Reader, walking to the next buffer in the chain when
// the current one is exhausted.
func (r *Reader) Read(p []byte) (int, error) {
	if r.remain == 0 || r.buf == nil {
		return 0, io.EOF
	}
	total := 0
	for total < len(p) && r.remain > 0 {
		if r.buf == nil {
			break
		}
		avail := r.buf.Bytes()[r.offset:]
		n := copy(p[total:], avail)
		if n > r.remain {
			n = r.remain
		}
		total += n
		r.offset += n
		r.remain -= n
		if r.offset >= len(r.buf.Bytes()) {
			r.buf = r.buf.Next()
			r.offset = 0
		}
	}
	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// Len reports the number of unread octets remaining.
func (r *Reader) Len() int { return r.remain }

// Bytes drains the reader into a freshly allocated slice. Intended for
// small fixed fields (ids, symbols); large bodies should stream via Read.
func (r *Reader) Bytes() []byte {
	out := make([]byte, 0, r.remain)
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return out
}
