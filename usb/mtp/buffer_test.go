package mtp

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriterMeasureThenEmitAgree(t *testing.T) {
	encode := func(w *Writer) {
		w.U8(0xAB)
		w.U16(0x1234)
		w.U32(0xDEADBEEF)
		w.U64(0x0102030405060708)
		w.ASCIIString("hello")
		w.Raw([]byte{1, 2, 3})
	}

	measure := NewMeasure()
	encode(measure)

	out := make([]byte, measure.Len())
	emit := NewEmit(out, 0, len(out))
	encode(emit)

	if emit.Len() != measure.Len() {
		t.Fatalf("emit.Len()=%d, measure.Len()=%d", emit.Len(), measure.Len())
	}
	if len(emit.Written()) != measure.Len() {
		t.Fatalf("Written() length = %d, want %d", len(emit.Written()), measure.Len())
	}
}

func TestWriterPaginatedEmitMatchesSinglePass(t *testing.T) {
	encode := func(w *Writer) {
		w.ASCIIString("a longer string to force multiple windows")
		w.U32(42)
		w.Raw(bytes.Repeat([]byte{0x7A}, 37))
	}

	measure := NewMeasure()
	encode(measure)
	total := measure.Len()

	full := make([]byte, total)
	single := NewEmit(full, 0, total)
	encode(single)

	// Now split the same logical stream across 8-byte windows and confirm
	// the concatenated result is byte-identical, per the measure/emit
	// contract every handler relies on for paginated PayloadOut delivery.
	var paged []byte
	const window = 8
	for skip := 0; skip < total; skip += window {
		remaining := window
		if skip+remaining > total {
			remaining = total - skip
		}
		buf := make([]byte, remaining)
		w := NewEmit(buf, skip, remaining)
		encode(w)
		paged = append(paged, w.Written()...)
	}

	if !bytes.Equal(paged, full) {
		t.Fatalf("paginated emission diverged from single-pass emission:\n got  %x\n want %x", paged, full)
	}
}

func TestASCIIStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "x", "hello world", strings.Repeat("z", 64)} {
		w := NewMeasure()
		w.ASCIIString(s)

		buf := make([]byte, w.Len())
		NewEmit(buf, 0, len(buf)).ASCIIString(s)

		if s == "" {
			if len(buf) != 1 || buf[0] != 0 {
				t.Fatalf("empty string should encode as a single 0x00 byte, got %x", buf)
			}
			continue
		}

		count := int(buf[0])
		got := DecodeWCharString(buf[1:])
		if got != s {
			t.Fatalf("round trip %q -> %x -> %q", s, buf, got)
		}
		if count != len([]rune(s))+1 {
			t.Fatalf("length prefix = %d, want %d", count, len([]rune(s))+1)
		}
	}
}

func TestDecodeWCharStringStopsAtNUL(t *testing.T) {
	units := []byte{'h', 0, 'i', 0, 0, 0, 'X', 0} // "hi" + NUL + trailing garbage
	if got := DecodeWCharString(units); got != "hi" {
		t.Fatalf("DecodeWCharString = %q, want %q", got, "hi")
	}
}

func TestWriterStreamReadMatchesReference(t *testing.T) {
	data := bytes.Repeat([]byte{0x11, 0x22, 0x33}, 100)

	var got []byte
	const window = 16
	for off := 0; off < len(data); {
		r := bytes.NewReader(data[off:])
		n := window
		if off+n > len(data) {
			n = len(data) - off
		}
		w := NewEmit(make([]byte, n), 0, n)
		if _, err := w.StreamRead(r); err != nil {
			t.Fatalf("StreamRead: %v", err)
		}
		got = append(got, w.Written()...)
		off += n
	}

	if !bytes.Equal(got, data) {
		t.Fatalf("streamed bytes diverged from source")
	}
}
