// Package amqpcodec implements the minimal subset of the AMQP 1.0 type
// system (ISO/IEC 19464) that trunkrouter needs to encode and decode
// router-annotations (§4.3) and the handful of standard sections (HEADER,
// PROPERTIES, APPLICATION_PROPERTIES) the HTTP/2 adaptor composes (§4.7).
//
// Type tag values are grounded on the AMQP 1.0 encodings table as vendored
// in the retrieved pack's `streamdal-plumber` AMQP client.
package amqpcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Type tags (AMQP 1.0 §1.6 primitive type encodings).
const (
	TypeCodeNull       byte = 0x40
	TypeCodeBoolTrue   byte = 0x41
	TypeCodeBoolFalse  byte = 0x42
	TypeCodeUint0      byte = 0x43
	TypeCodeUlong0     byte = 0x44
	TypeCodeSmallUint  byte = 0x52
	TypeCodeUint       byte = 0x70
	TypeCodeSmallUlong byte = 0x53
	TypeCodeUlong      byte = 0x80
	TypeCodeVbin8      byte = 0xa0
	TypeCodeVbin32     byte = 0xb0
	TypeCodeStr8       byte = 0xa1
	TypeCodeStr32      byte = 0xb1
	TypeCodeSym8       byte = 0xa3
	TypeCodeSym32      byte = 0xb3
	TypeCodeList0      byte = 0x45
	TypeCodeList8      byte = 0xc0
	TypeCodeList32     byte = 0xd0
	TypeCodeMap8       byte = 0xc1
	TypeCodeMap32      byte = 0xd1
	TypeCodeTimestamp  byte = 0x83 // ms64, used by absolute-expiry-time/creation-time
	TypeCodeUuid       byte = 0x98 // used by message-id/correlation-id when uuid-encoded

	// Composite-type preamble: 0x00 <descriptor> <described-value>.
	TypeCodeDescribed byte = 0x00
)

// Section type codes used when composing outgoing messages (§4.7).
const (
	TypeCodeMessageHeader         byte = 0x70
	TypeCodeDeliveryAnnotations   byte = 0x71
	TypeCodeMessageAnnotations    byte = 0x72
	TypeCodeMessageProperties     byte = 0x73
	TypeCodeApplicationProperties byte = 0x74
	TypeCodeApplicationData       byte = 0x75
	TypeCodeFooter                byte = 0x78
)

// RouterAnnotationsDescriptorHigh/Low make up the 64-bit descriptor code
// 0x534B5052:0x2D2D5241 from §4.3/§6 ("SKPR--RA" in ASCII).
const (
	RouterAnnotationsDescriptorHigh uint32 = 0x534B5052
	RouterAnnotationsDescriptorLow  uint32 = 0x2D2D5241
)

// ErrTruncated is returned when a decode ran out of input mid-value.
var ErrTruncated = errors.New("amqpcodec: truncated input")

// Writer accumulates an AMQP-encoded byte stream.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the encoded output so far.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) byte(b byte) { w.buf = append(w.buf, b) }

func (w *Writer) raw(p []byte) { w.buf = append(w.buf, p...) }

// WriteNull writes the AMQP null encoding.
func (w *Writer) WriteNull() { w.byte(TypeCodeNull) }

// WriteBool writes a boolean using the compact true/false tags.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.byte(TypeCodeBoolTrue)
	} else {
		w.byte(TypeCodeBoolFalse)
	}
}

// WriteUint32 writes a uint32, using the zero-length tag for 0.
func (w *Writer) WriteUint32(v uint32) {
	if v == 0 {
		w.byte(TypeCodeUint0)
		return
	}
	w.byte(TypeCodeUint)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.raw(tmp[:])
}

// WriteUlong64 writes a uint64 using the ulong encoding.
func (w *Writer) WriteUlong64(v uint64) {
	if v == 0 {
		w.byte(TypeCodeUlong0)
		return
	}
	w.byte(TypeCodeUlong)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.raw(tmp[:])
}

// WriteStr writes a UTF-8 string using str8 or str32 depending on length.
func (w *Writer) WriteStr(s string) {
	if len(s) <= math.MaxUint8 {
		w.byte(TypeCodeStr8)
		w.byte(byte(len(s)))
	} else {
		w.byte(TypeCodeStr32)
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(len(s)))
		w.raw(tmp[:])
	}
	w.raw([]byte(s))
}

// WriteSym writes an ASCII symbol using sym8 or sym32 depending on length.
func (w *Writer) WriteSym(s string) {
	if len(s) <= math.MaxUint8 {
		w.byte(TypeCodeSym8)
		w.byte(byte(len(s)))
	} else {
		w.byte(TypeCodeSym32)
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(len(s)))
		w.raw(tmp[:])
	}
	w.raw([]byte(s))
}

// WriteBinary writes an opaque byte string using vbin8 or vbin32.
func (w *Writer) WriteBinary(b []byte) {
	if len(b) <= math.MaxUint8 {
		w.byte(TypeCodeVbin8)
		w.byte(byte(len(b)))
	} else {
		w.byte(TypeCodeVbin32)
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(len(b)))
		w.raw(tmp[:])
	}
	w.raw(b)
}

// WriteDescriptor writes the 0x00 preamble and a described ulong descriptor
// code built from high/low halves, per §4.3/§6.
func (w *Writer) WriteDescriptor(high, low uint32) {
	w.byte(TypeCodeDescribed)
	w.WriteUlong64(uint64(high)<<32 | uint64(low))
}

// WriteDescriptorCode writes the 0x00 preamble and a single-ulong
// descriptor code, as used by the standard AMQP section types (HEADER,
// PROPERTIES, APPLICATION_PROPERTIES, ...).
func (w *Writer) WriteDescriptorCode(code uint64) {
	w.byte(TypeCodeDescribed)
	w.WriteUlong64(code)
}

// List is a helper for composing list8/list32 bodies: elements are encoded
// into a scratch Writer first so the final size/count prefix can be emitted.
type List struct {
	elements *Writer
	count    uint32
}

// NewList starts a new list composition.
func NewList() *List { return &List{elements: NewWriter()} }

// Append returns the scratch Writer elements should be encoded into, and
// records one more element.
func (l *List) Append() *Writer {
	l.count++
	return l.elements
}

// WriteTo finalizes the list into the parent Writer using list8 when the
// encoded body and count both fit in a byte, list32 otherwise.
func (l *List) WriteTo(w *Writer) {
	body := l.elements.Bytes()
	// size field counts the octets of the count field plus the elements.
	if l.count == 0 {
		w.byte(TypeCodeList0)
		return
	}
	if len(body)+1 <= math.MaxUint8 && l.count <= math.MaxUint8 {
		w.byte(TypeCodeList8)
		w.byte(byte(len(body) + 1))
		w.byte(byte(l.count))
		w.raw(body)
		return
	}
	w.byte(TypeCodeList32)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(body)+4))
	w.raw(tmp[:])
	binary.BigEndian.PutUint32(tmp[:], l.count)
	w.raw(tmp[:])
	w.raw(body)
}

// Map composes a map8/map32 value from key/value scalar pairs, for
// application-properties-style sections.
type Map struct {
	elements   *Writer
	entryCount uint32 // keys plus values
}

// NewMap starts a new map composition.
func NewMap() *Map { return &Map{elements: NewWriter()} }

// PutStr appends one key/value pair, both encoded as AMQP strings.
func (m *Map) PutStr(key, value string) {
	m.elements.WriteStr(key)
	m.elements.WriteStr(value)
	m.entryCount += 2
}

// WriteTo finalizes the map into the parent Writer using map8 when the
// encoded body and entry count both fit in a byte, map32 otherwise.
func (m *Map) WriteTo(w *Writer) {
	body := m.elements.Bytes()
	if m.entryCount == 0 {
		w.byte(TypeCodeMap8)
		w.byte(1)
		w.byte(0)
		return
	}
	if len(body)+1 <= math.MaxUint8 && m.entryCount <= math.MaxUint8 {
		w.byte(TypeCodeMap8)
		w.byte(byte(len(body) + 1))
		w.byte(byte(m.entryCount))
		w.raw(body)
		return
	}
	w.byte(TypeCodeMap32)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(body)+4))
	w.raw(tmp[:])
	binary.BigEndian.PutUint32(tmp[:], m.entryCount)
	w.raw(tmp[:])
	w.raw(body)
}

// Reader decodes an AMQP-encoded byte stream sequentially.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps p for decoding.
func NewReader(p []byte) *Reader { return &Reader{buf: p} }

// Remaining reports how many undecoded bytes are left.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return ErrTruncated
	}
	return nil
}

// PeekTag returns the next type tag without consuming it.
func (r *Reader) PeekTag() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	return r.buf[r.pos], nil
}

func (r *Reader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadDescriptor reads the 0x00 preamble and the ulong descriptor code,
// returning its high/low halves. Returns an error if the next value is not
// a described composite.
func (r *Reader) ReadDescriptor() (high, low uint32, err error) {
	tag, err := r.readByte()
	if err != nil {
		return 0, 0, err
	}
	if tag != TypeCodeDescribed {
		return 0, 0, fmt.Errorf("amqpcodec: expected described type, got tag 0x%02x", tag)
	}
	v, err := r.ReadUlong64()
	if err != nil {
		return 0, 0, err
	}
	return uint32(v >> 32), uint32(v & 0xffffffff), nil
}

// ReadDescriptorCode reads the 0x00 preamble and a single-ulong descriptor
// code, as used by the standard AMQP section types.
func (r *Reader) ReadDescriptorCode() (uint64, error) {
	tag, err := r.readByte()
	if err != nil {
		return 0, err
	}
	if tag != TypeCodeDescribed {
		return 0, fmt.Errorf("amqpcodec: expected described type, got tag 0x%02x", tag)
	}
	return r.ReadUlong64()
}

// ReadUlong64 reads a ulong0/smallulong/ulong value.
func (r *Reader) ReadUlong64() (uint64, error) {
	tag, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch tag {
	case TypeCodeUlong0:
		return 0, nil
	case TypeCodeSmallUlong:
		b, err := r.readByte()
		return uint64(b), err
	case TypeCodeUlong:
		if err := r.need(8); err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint64(r.buf[r.pos:])
		r.pos += 8
		return v, nil
	default:
		return 0, fmt.Errorf("amqpcodec: expected ulong, got tag 0x%02x", tag)
	}
}

// ReadUint32 reads a uint0/smalluint/uint value.
func (r *Reader) ReadUint32() (uint32, error) {
	tag, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch tag {
	case TypeCodeUint0:
		return 0, nil
	case TypeCodeSmallUint:
		b, err := r.readByte()
		return uint32(b), err
	case TypeCodeUint:
		if err := r.need(4); err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint32(r.buf[r.pos:])
		r.pos += 4
		return v, nil
	default:
		return 0, fmt.Errorf("amqpcodec: expected uint, got tag 0x%02x", tag)
	}
}

// ReadStr reads a str8/str32 value, or "" for null.
func (r *Reader) ReadStr() (string, bool, error) {
	tag, err := r.readByte()
	if err != nil {
		return "", false, err
	}
	switch tag {
	case TypeCodeNull:
		return "", false, nil
	case TypeCodeStr8, TypeCodeSym8:
		n, err := r.readByte()
		if err != nil {
			return "", false, err
		}
		if err := r.need(int(n)); err != nil {
			return "", false, err
		}
		s := string(r.buf[r.pos : r.pos+int(n)])
		r.pos += int(n)
		return s, true, nil
	case TypeCodeStr32, TypeCodeSym32:
		if err := r.need(4); err != nil {
			return "", false, err
		}
		n := binary.BigEndian.Uint32(r.buf[r.pos:])
		r.pos += 4
		if err := r.need(int(n)); err != nil {
			return "", false, err
		}
		s := string(r.buf[r.pos : r.pos+int(n)])
		r.pos += int(n)
		return s, true, nil
	default:
		return "", false, fmt.Errorf("amqpcodec: expected string, got tag 0x%02x", tag)
	}
}

// ReadBinary reads a vbin8/vbin32 value, or nil for null.
func (r *Reader) ReadBinary() ([]byte, error) {
	tag, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case TypeCodeNull:
		return nil, nil
	case TypeCodeVbin8:
		n, err := r.readByte()
		if err != nil {
			return nil, err
		}
		if err := r.need(int(n)); err != nil {
			return nil, err
		}
		b := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
		r.pos += int(n)
		return b, nil
	case TypeCodeVbin32:
		if err := r.need(4); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint32(r.buf[r.pos:])
		r.pos += 4
		if err := r.need(int(n)); err != nil {
			return nil, err
		}
		b := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
		r.pos += int(n)
		return b, nil
	default:
		return nil, fmt.Errorf("amqpcodec: expected binary, got tag 0x%02x", tag)
	}
}

// ListHeader describes a decoded list0/list8/list32 header: Count elements
// follow, occupying Size bytes (list8/32 only; 0 for list0).
type ListHeader struct {
	Count uint32
	Size  uint32
}

// ReadListHeader reads a list0/list8/list32 header and positions the reader
// at the first element.
func (r *Reader) ReadListHeader() (ListHeader, error) {
	tag, err := r.readByte()
	if err != nil {
		return ListHeader{}, err
	}
	switch tag {
	case TypeCodeNull:
		return ListHeader{}, nil
	case TypeCodeList0:
		return ListHeader{}, nil
	case TypeCodeList8:
		size, err := r.readByte()
		if err != nil {
			return ListHeader{}, err
		}
		count, err := r.readByte()
		if err != nil {
			return ListHeader{}, err
		}
		return ListHeader{Count: uint32(count), Size: uint32(size) - 1}, nil
	case TypeCodeList32:
		if err := r.need(8); err != nil {
			return ListHeader{}, err
		}
		size := binary.BigEndian.Uint32(r.buf[r.pos:])
		r.pos += 4
		count := binary.BigEndian.Uint32(r.buf[r.pos:])
		r.pos += 4
		return ListHeader{Count: count, Size: size - 4}, nil
	default:
		return ListHeader{}, fmt.Errorf("amqpcodec: expected list, got tag 0x%02x", tag)
	}
}

// SkipValue consumes and discards one value of any primitive type this
// package understands, without decoding it, for sections the caller does
// not need to inspect.
func (r *Reader) SkipValue() error {
	tag, err := r.PeekTag()
	if err != nil {
		return err
	}
	switch tag {
	case TypeCodeNull, TypeCodeBoolTrue, TypeCodeBoolFalse, TypeCodeUint0, TypeCodeUlong0, TypeCodeList0:
		r.pos++
		return nil
	case TypeCodeSmallUint, TypeCodeSmallUlong:
		r.pos++
		_, err := r.readByte()
		return err
	case TypeCodeUint:
		r.pos++
		if err := r.need(4); err != nil {
			return err
		}
		r.pos += 4
		return nil
	case TypeCodeUlong:
		r.pos++
		if err := r.need(8); err != nil {
			return err
		}
		r.pos += 8
		return nil
	case TypeCodeTimestamp:
		r.pos++
		if err := r.need(8); err != nil {
			return err
		}
		r.pos += 8
		return nil
	case TypeCodeUuid:
		r.pos++
		if err := r.need(16); err != nil {
			return err
		}
		r.pos += 16
		return nil
	case TypeCodeStr8, TypeCodeSym8, TypeCodeVbin8:
		r.pos++
		n, err := r.readByte()
		if err != nil {
			return err
		}
		if err := r.need(int(n)); err != nil {
			return err
		}
		r.pos += int(n)
		return nil
	case TypeCodeStr32, TypeCodeSym32, TypeCodeVbin32:
		r.pos++
		if err := r.need(4); err != nil {
			return err
		}
		n := binary.BigEndian.Uint32(r.buf[r.pos:])
		r.pos += 4
		if err := r.need(int(n)); err != nil {
			return err
		}
		r.pos += int(n)
		return nil
	case TypeCodeList8:
		hdr, err := r.ReadListHeader()
		if err != nil {
			return err
		}
		if err := r.need(int(hdr.Size)); err != nil {
			return err
		}
		r.pos += int(hdr.Size)
		return nil
	case TypeCodeList32:
		hdr, err := r.ReadListHeader()
		if err != nil {
			return err
		}
		if err := r.need(int(hdr.Size)); err != nil {
			return err
		}
		r.pos += int(hdr.Size)
		return nil
	case TypeCodeMap8:
		r.pos++
		size, err := r.readByte()
		if err != nil {
			return err
		}
		if _, err := r.readByte(); err != nil { // entry count, unused when skipping
			return err
		}
		n := int(size) - 1
		if err := r.need(n); err != nil {
			return err
		}
		r.pos += n
		return nil
	case TypeCodeMap32:
		r.pos++
		if err := r.need(8); err != nil {
			return err
		}
		size := binary.BigEndian.Uint32(r.buf[r.pos:])
		r.pos += 8 // size field plus entry-count field
		n := int(size) - 4
		if err := r.need(n); err != nil {
			return err
		}
		r.pos += n
		return nil
	default:
		return fmt.Errorf("amqpcodec: cannot skip unknown tag 0x%02x", tag)
	}
}
