package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/nodeql/tunnel/tunerr"
)

// BodyCap is the size of the inline body1 buffer. A message whose body fits
// within BodyCap allocates nothing beyond the Buffer itself.
const BodyCap = 4096

// headerSize is the fixed frame header: a 4-byte big-endian words field, a
// 1-byte type, a 1-byte flags, and 2 reserved bytes.
const headerSize = 8

// Buffer is a word-aligned message: an 8-byte header followed by a body
// that is logically one contiguous byte stream, physically backed first by
// a fixed 4096-byte inline array (body1) and, once that fills, a
// heap-allocated overflow slice (body2) that grows by doubling. All
// multi-byte puts and gets land on 8-byte aligned offsets.
type Buffer struct {
	Type  byte
	Flags byte

	body1 [BodyCap]byte
	body2 []byte

	pos int // logical read/write cursor across body1 then body2

	decoding  bool
	decodeLen int // total valid body length, only meaningful when decoding
}

// NewMessage creates an empty Buffer ready for encoding, with the header
// stamped per header_put.
func NewMessage(msgType, flags byte) *Buffer {
	b := &Buffer{}
	b.HeaderPut(msgType, flags)
	return b
}

// HeaderPut (re)stamps the header on b and resets its body, so a single
// Buffer can be reused to encode a sequence of messages without
// reallocating body1.
func (b *Buffer) HeaderPut(msgType, flags byte) {
	b.Type = msgType
	b.Flags = flags
	b.body2 = b.body2[:0]
	b.pos = 0
	b.decoding = false
	b.decodeLen = 0
}

// DecodeMessage builds a Buffer for reading an already-received frame:
// header fields plus the raw body bytes (of length words*8).
func DecodeMessage(msgType, flags byte, body []byte) *Buffer {
	b := &Buffer{Type: msgType, Flags: flags, decoding: true, decodeLen: len(body)}
	n := min(len(body), BodyCap)
	copy(b.body1[:], body[:n])
	if len(body) > BodyCap {
		b.body2 = append([]byte(nil), body[BodyCap:]...)
	}
	return b
}

// Words reports the body length in 8-byte units.
func (b *Buffer) Words() uint32 { return uint32(b.pos / 8) }

// Offset1 is the portion of the cursor that lives in body1 — always
// BodyCap once the body has spilled into body2.
func (b *Buffer) Offset1() int { return min(b.pos, BodyCap) }

// Offset2 is the portion of the cursor that lives in body2.
func (b *Buffer) Offset2() int { return max(0, b.pos-BodyCap) }

// Body2Allocated reports whether the overflow buffer holds any bytes.
func (b *Buffer) Body2Allocated() bool { return len(b.body2) > 0 }

// AtEnd reports whether the read cursor has consumed the entire declared
// body. Used by Bind to detect an empty parameter message. A buffer built
// for encoding always reports true.
func (b *Buffer) AtEnd() bool {
	if !b.decoding {
		return true
	}
	return b.pos >= b.decodeLen
}

// Encode serializes the full frame (header + body) to w.
func (b *Buffer) Encode(w io.Writer) error {
	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], b.Words())
	hdr[4] = b.Type
	hdr[5] = b.Flags
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if _, err := w.Write(b.body1[:b.Offset1()]); err != nil {
		return fmt.Errorf("wire: write body1: %w", err)
	}
	if off2 := b.Offset2(); off2 > 0 {
		if _, err := w.Write(b.body2[:off2]); err != nil {
			return fmt.Errorf("wire: write body2: %w", err)
		}
	}
	return nil
}

// ReadMessage reads one framed message from r: the 8-byte header followed
// by words*8 bytes of body. Together with Encode, this is the only
// transport-facing operation the core performs; neither opens or accepts a
// connection — that remains an external collaborator's responsibility.
func ReadMessage(r io.Reader) (*Buffer, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("wire: read header: %w", err)
	}
	words := binary.BigEndian.Uint32(hdr[0:4])
	body := make([]byte, int(words)*8)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("wire: read body: %w", err)
		}
	}
	return DecodeMessage(hdr[4], hdr[5], body), nil
}

func align8(n int) int { return (n + 7) &^ 7 }

func (b *Buffer) ensureCap2(n int) {
	if len(b.body2) >= n {
		return
	}
	if cap(b.body2) >= n {
		b.body2 = b.body2[:n]
		return
	}
	newCap := n
	if c := cap(b.body2) * 2; c > newCap {
		newCap = c
	}
	grown := make([]byte, n, newCap)
	copy(grown, b.body2)
	b.body2 = grown
}

// putBytes appends data at the write cursor, splitting across the
// body1/body2 boundary when data straddles it and growing body2 on demand.
// Once the cursor has crossed BodyCap, every subsequent put lands entirely
// in body2 — the monotonic overflow the spec calls out.
func (b *Buffer) putBytes(data []byte) {
	n := len(data)
	end := b.pos + n

	if b.pos < BodyCap {
		n1 := min(end, BodyCap)
		copy(b.body1[b.pos:n1], data[:n1-b.pos])
	}
	if end > BodyCap {
		start2 := max(0, b.pos-BodyCap)
		end2 := end - BodyCap
		b.ensureCap2(end2)
		skip := max(0, BodyCap-b.pos)
		copy(b.body2[start2:end2], data[skip:])
	}
	b.pos = end
}

// byteAt returns the byte at logical position i, or ok=false if i is past
// the declared body end (decoding) or past the end of body2. Any position
// inside body1 reads back, whether or not it was written.
func (b *Buffer) byteAt(i int) (c byte, ok bool) {
	if b.decoding && i >= b.decodeLen {
		return 0, false
	}
	if i < BodyCap {
		return b.body1[i], true
	}
	j := i - BodyCap
	if j >= len(b.body2) {
		return 0, false
	}
	return b.body2[j], true
}

// getBytes reads n bytes at the read cursor, mirroring putBytes' body1/body2
// traversal. Fails with EOM if n bytes aren't available before the declared
// body end.
func (b *Buffer) getBytes(n int) ([]byte, *tunerr.Error) {
	end := b.pos + n
	if b.decoding && end > b.decodeLen {
		return nil, tunerr.New(tunerr.EOM, "read past end of message")
	}
	out := make([]byte, n)
	if b.pos < BodyCap {
		n1 := min(end, BodyCap)
		copy(out[:n1-b.pos], b.body1[b.pos:n1])
	}
	if end > BodyCap {
		start2 := max(0, b.pos-BodyCap)
		end2 := end - BodyCap
		if end2 > len(b.body2) {
			return nil, tunerr.New(tunerr.EOM, "read past end of message")
		}
		skip := max(0, BodyCap-b.pos)
		copy(out[skip:], b.body2[start2:end2])
	}
	b.pos = end
	return out, nil
}

// PutUint64 appends v as 8 big-endian bytes.
func (b *Buffer) PutUint64(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	b.putBytes(buf[:])
}

// PutInt64 appends v as 8 big-endian bytes, signed.
func (b *Buffer) PutInt64(v int64) { b.PutUint64(uint64(v)) }

// PutFloat64 appends v bit-reinterpreted as a uint64, 8 big-endian bytes.
func (b *Buffer) PutFloat64(v float64) { b.PutUint64(math.Float64bits(v)) }

// PutText appends s, a trailing null, and zero padding to the next word
// boundary.
func (b *Buffer) PutText(s string) {
	buf := make([]byte, align8(len(s)+1))
	copy(buf, s)
	b.putBytes(buf)
}

// PutBlob appends the 64-bit length of data, then data itself, then zero
// padding to the next word boundary.
func (b *Buffer) PutBlob(data []byte) {
	b.PutUint64(uint64(len(data)))
	buf := make([]byte, align8(len(data)))
	copy(buf, data)
	b.putBytes(buf)
}

// PutPaddedBytes appends data verbatim, then zero padding to the next
// word boundary. Used for the row header's packed nibble array, which has
// no length prefix or null terminator of its own.
func (b *Buffer) PutPaddedBytes(data []byte) {
	buf := make([]byte, align8(len(data)))
	copy(buf, data)
	b.putBytes(buf)
}

// GetPaddedBytes reads n raw bytes at the read cursor, then consumes the
// zero padding out to the next word boundary, mirroring PutPaddedBytes.
func (b *Buffer) GetPaddedBytes(n int) ([]byte, *tunerr.Error) {
	data, err := b.getBytes(align8(n))
	if err != nil {
		return nil, err
	}
	return data[:n], nil
}

// GetUint64 reads 8 big-endian bytes at the read cursor.
func (b *Buffer) GetUint64() (uint64, *tunerr.Error) {
	data, err := b.getBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(data), nil
}

// GetInt64 reads 8 big-endian bytes at the read cursor as a signed integer.
func (b *Buffer) GetInt64() (int64, *tunerr.Error) {
	v, err := b.GetUint64()
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// GetFloat64 reads 8 big-endian bytes at the read cursor, bit-reinterpreted
// as an IEEE-754 double.
func (b *Buffer) GetFloat64() (float64, *tunerr.Error) {
	v, err := b.GetUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// GetText reads a null-terminated string at the read cursor, consuming
// through its word-aligned padding. Fails with Parse if no null terminator
// is found before the declared body end.
func (b *Buffer) GetText() (string, *tunerr.Error) {
	i := b.pos
	for {
		c, ok := b.byteAt(i)
		if !ok {
			return "", tunerr.New(tunerr.Parse, "text field not null-terminated")
		}
		if c == 0 {
			break
		}
		i++
	}
	strLen := i - b.pos
	data, err := b.getBytes(align8(strLen + 1))
	if err != nil {
		return "", err
	}
	return string(data[:strLen]), nil
}

// GetBlob reads a length-prefixed byte blob at the read cursor, consuming
// through its word-aligned padding.
func (b *Buffer) GetBlob() ([]byte, *tunerr.Error) {
	n, err := b.GetUint64()
	if err != nil {
		return nil, err
	}
	data, err := b.getBytes(align8(int(n)))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, data[:n])
	return out, nil
}
