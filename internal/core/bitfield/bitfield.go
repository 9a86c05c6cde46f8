// Package bitfield packs and unpacks fixed-width fields to and from byte buffers.
//
// A Format is an ordered list of fields addressed by bit width. Fields are packed
// most-significant-first into a big-endian bit string; the final byte is padded
// with zero bits. The package knows nothing about network protocols.
package bitfield

import (
	"fmt"

	"firestige.xyz/tapcheck/internal/core"
)

// Kind selects how a field value is interpreted.
type Kind uint8

const (
	// Numeric fields hold an unsigned integer of at most 64 bits.
	Numeric Kind = iota
	// Raw fields hold literal bytes, right-aligned within the field width.
	Raw
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Raw:
		return "raw"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Field describes one entry of a Format.
type Field struct {
	Name  string
	Width int
	Kind  Kind
}

// Uint declares a numeric field.
func Uint(name string, width int) Field { return Field{Name: name, Width: width, Kind: Numeric} }

// Bytes declares a raw field of width bits.
func Bytes(name string, width int) Field { return Field{Name: name, Width: width, Kind: Raw} }

// Value is a single field value. Numeric fields use U, raw fields use B.
type Value struct {
	U uint64
	B []byte
}

// U64 wraps a numeric value.
func U64(v uint64) Value { return Value{U: v} }

// B wraps raw bytes.
func B(b []byte) Value { return Value{B: b} }

// Format is an immutable binary layout.
type Format struct {
	fields []Field
	bits   int
}

// NewFormat builds a Format. It panics on a zero width field or a numeric field
// wider than 64 bits, both of which are programming errors.
func NewFormat(fields ...Field) Format {
	f := Format{fields: make([]Field, len(fields))}
	copy(f.fields, fields)
	for _, fd := range fields {
		if fd.Width <= 0 {
			panic(fmt.Sprintf("bitfield: field %q has width %d", fd.Name, fd.Width))
		}
		if fd.Kind == Numeric && fd.Width > 64 {
			panic(fmt.Sprintf("bitfield: numeric field %q is %d bits wide", fd.Name, fd.Width))
		}
		f.bits += fd.Width
	}
	return f
}

// Fields returns a copy of the field list.
func (f Format) Fields() []Field {
	out := make([]Field, len(f.fields))
	copy(out, f.fields)
	return out
}

// Len is the number of fields.
func (f Format) Len() int { return len(f.fields) }

// Bits is the total width of the format.
func (f Format) Bits() int { return f.bits }

// MinBytes is the smallest buffer Unpack accepts.
func (f Format) MinBytes() int { return (f.bits + 7) / 8 }

// Index returns the position of the named field or -1.
func (f Format) Index(name string) int {
	for i, fd := range f.fields {
		if fd.Name == name {
			return i
		}
	}
	return -1
}

// Pack encodes values in field order.
func (f Format) Pack(values []Value) ([]byte, error) {
	if len(values) != len(f.fields) {
		return nil, fmt.Errorf("%w: got %d values for %d fields", core.ErrFieldCount, len(values), len(f.fields))
	}
	w := bitWriter{buf: make([]byte, f.MinBytes())}
	for i, fd := range f.fields {
		switch fd.Kind {
		case Numeric:
			w.writeUint(values[i].U, fd.Width)
		case Raw:
			w.writeBytes(values[i].B, fd.Width)
		}
	}
	return w.buf, nil
}

// Unpack decodes the leading MinBytes of buf.
func (f Format) Unpack(buf []byte) ([]Value, error) {
	if len(buf) < f.MinBytes() {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", core.ErrShortBuffer, len(buf), f.MinBytes())
	}
	r := bitReader{buf: buf}
	values := make([]Value, len(f.fields))
	for i, fd := range f.fields {
		switch fd.Kind {
		case Numeric:
			values[i] = Value{U: r.readUint(fd.Width)}
		case Raw:
			values[i] = Value{B: r.readBytes(fd.Width)}
		}
	}
	return values, nil
}

type bitWriter struct {
	buf []byte
	pos int
}

func (w *bitWriter) writeBit(bit byte) {
	if bit != 0 {
		w.buf[w.pos/8] |= 0x80 >> (w.pos % 8)
	}
	w.pos++
}

func (w *bitWriter) writeUint(v uint64, width int) {
	// Fast path for byte aligned whole bytes.
	if w.pos%8 == 0 && width%8 == 0 {
		for shift := width - 8; shift >= 0; shift -= 8 {
			w.buf[w.pos/8] = byte(v >> shift)
			w.pos += 8
		}
		return
	}
	for i := width - 1; i >= 0; i-- {
		w.writeBit(byte(v>>i) & 1)
	}
}

func (w *bitWriter) writeBytes(b []byte, width int) {
	// Right-align: bit k of the field (from the right) is bit k of b (from the right).
	total := len(b) * 8
	for i := width - 1; i >= 0; i-- {
		if i >= total {
			w.writeBit(0)
			continue
		}
		idx := len(b) - 1 - i/8
		w.writeBit((b[idx] >> (i % 8)) & 1)
	}
}

type bitReader struct {
	buf []byte
	pos int
}

func (r *bitReader) readBit() byte {
	bit := (r.buf[r.pos/8] >> (7 - r.pos%8)) & 1
	r.pos++
	return bit
}

func (r *bitReader) readUint(width int) uint64 {
	var v uint64
	if r.pos%8 == 0 && width%8 == 0 {
		for n := 0; n < width; n += 8 {
			v = v<<8 | uint64(r.buf[r.pos/8])
			r.pos += 8
		}
		return v
	}
	for i := 0; i < width; i++ {
		v = v<<1 | uint64(r.readBit())
	}
	return v
}

func (r *bitReader) readBytes(width int) []byte {
	out := make([]byte, (width+7)/8)
	if r.pos%8 == 0 && width%8 == 0 {
		copy(out, r.buf[r.pos/8:])
		r.pos += width
		return out
	}
	for i := width - 1; i >= 0; i-- {
		if r.readBit() != 0 {
			out[len(out)-1-i/8] |= 1 << (i % 8)
		}
	}
	return out
}
