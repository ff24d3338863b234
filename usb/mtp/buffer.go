// MTP core byte-buffer primitives.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mtp

import (
	"io"
	"unicode/utf16"
)

// unbounded is used as Remaining during a measurement pass, standing in for
// "infinite window".
const unbounded = int(^uint(0) >> 1)

// Writer implements the shared (cursor, remaining) encoder pair every
// dataset handler builds on. A single Writer drives both passes of a
// handler: the
// measurement pass uses a nil Out and Remaining = unbounded, the emission
// pass sets Skip to the cursor already emitted and Remaining to the chunk
// size still owed. Every encoder method returns the logical number of bytes
// it contributed, independent of how many were actually written, which is
// what lets a handler compute response_length on the first pass and then
// rewind for paginated emission.
type Writer struct {
	Out       []byte
	Skip      int
	Remaining int

	pos int
	n   int
}

// NewMeasure returns a Writer suitable for a length-only pass.
func NewMeasure() *Writer {
	return &Writer{Remaining: unbounded}
}

// NewEmit returns a Writer that discards the first skip bytes then writes
// up to remaining bytes into out.
func NewEmit(out []byte, skip, remaining int) *Writer {
	return &Writer{Out: out, Skip: skip, Remaining: remaining}
}

// Len returns the logical number of bytes contributed so far.
func (w *Writer) Len() int {
	return w.n
}

// Written returns the slice of Out actually filled in.
func (w *Writer) Written() []byte {
	return w.Out[:w.pos]
}

func (w *Writer) putByte(b byte) {
	w.n++

	if w.Skip > 0 {
		w.Skip--
		return
	}

	if w.Remaining <= 0 {
		return
	}

	if w.pos < len(w.Out) {
		w.Out[w.pos] = b
		w.pos++
		w.Remaining--
	}
}

// U8 encodes a single byte.
func (w *Writer) U8(v uint8) {
	w.putByte(v)
}

// U16 encodes a little-endian 16-bit value.
func (w *Writer) U16(v uint16) {
	w.putByte(byte(v))
	w.putByte(byte(v >> 8))
}

// U32 encodes a little-endian 32-bit value.
func (w *Writer) U32(v uint32) {
	w.putByte(byte(v))
	w.putByte(byte(v >> 8))
	w.putByte(byte(v >> 16))
	w.putByte(byte(v >> 24))
}

// U64 encodes a little-endian 64-bit value.
func (w *Writer) U64(v uint64) {
	w.U32(uint32(v))
	w.U32(uint32(v >> 32))
}

// Raw encodes an opaque byte slice verbatim.
func (w *Writer) Raw(b []byte) {
	for _, c := range b {
		w.putByte(c)
	}
}

// CountOnly advances Len() by n without writing anything, for a measurement
// pass whose payload size is already known (e.g. a file's stat size)
// without touching the byte source itself.
func (w *Writer) CountOnly(n int) {
	w.n += n
}

// StreamRead fills the rest of this call's window directly from r,
// bypassing Skip: unlike the other encoders, which recompute their whole
// logical stream on every pass, a handler streaming a file's contents
// (GetObject) relies on the engine's emit calls always requesting the next
// contiguous window in order, so there is nothing to skip by the time this
// runs. Returns the number of bytes filled.
func (w *Writer) StreamRead(r io.Reader) (int, error) {
	if w.Remaining <= 0 {
		return 0, nil
	}

	n, err := io.ReadFull(r, w.Out[w.pos:w.pos+w.Remaining])
	w.pos += n
	w.n += n
	w.Remaining -= n

	return n, err
}

// DecodeWCharString is the inverse of WCharString's wire format: b holds the
// UTF-16LE code units (including the trailing NUL) that follow the
// length-prefix byte, as accumulated by an inbound data handler parsing an
// ObjectInfo dataset field at a fixed offset.
func DecodeWCharString(b []byte) string {
	units := make([]uint16, 0, len(b)/2)

	for i := 0; i+1 < len(b); i += 2 {
		u := uint16(b[i]) | uint16(b[i+1])<<8
		if u == 0 {
			break
		}
		units = append(units, u)
	}

	return string(utf16.Decode(units))
}

// ASCIIString encodes a NUL-terminated, length-prefixed UTF-16LE string from
// a Go (UTF-8) input, the PTP string type: an empty string is a single 0x00
// byte, otherwise a char count (including the NUL) followed by the string's
// UTF-16LE code units and a trailing NUL unit.
func (w *Writer) ASCIIString(s string) {
	if s == "" {
		w.U8(0)
		return
	}

	units := utf16.Encode([]rune(s))
	w.WCharString(units)
}

// WCharString encodes a length-prefixed, NUL-terminated string from
// already-UTF-16 input.
func (w *Writer) WCharString(units []uint16) {
	if len(units) == 0 {
		w.U8(0)
		return
	}

	w.U8(uint8(len(units) + 1))

	for _, u := range units {
		w.U16(u)
	}

	w.U16(0)
}
