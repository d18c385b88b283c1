package wire

import (
	"bytes"
	"testing"

	"github.com/nodeql/tunnel/tunerr"
)

func TestFlip64(t *testing.T) {
	t.Parallel()

	cases := []uint64{0, 1, 0x0102030405060708, 0xFFFFFFFFFFFFFFFF}
	for _, v := range cases {
		if got := Flip64(Flip64(v)); got != v {
			t.Errorf("Flip64(Flip64(%#x)) = %#x, want %#x", v, got, v)
		}
	}
}

func TestBufferRoundTripScalars(t *testing.T) {
	t.Parallel()

	b := NewMessage(7, 0)
	b.PutUint64(42)
	b.PutInt64(-17)
	b.PutFloat64(3.5)

	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if dec.Type != 7 {
		t.Errorf("Type = %d, want 7", dec.Type)
	}

	u, gerr := dec.GetUint64()
	if gerr != nil || u != 42 {
		t.Errorf("GetUint64 = %d, %v; want 42, nil", u, gerr)
	}
	i, gerr := dec.GetInt64()
	if gerr != nil || i != -17 {
		t.Errorf("GetInt64 = %d, %v; want -17, nil", i, gerr)
	}
	f, gerr := dec.GetFloat64()
	if gerr != nil || f != 3.5 {
		t.Errorf("GetFloat64 = %v, %v; want 3.5, nil", f, gerr)
	}
	if !dec.AtEnd() {
		t.Error("AtEnd() = false after consuming all fields")
	}
}

func TestBufferRoundTripTextAndBlob(t *testing.T) {
	t.Parallel()

	cases := []string{"", "hi", "a string that is exactly word-aligned!!"}
	for _, s := range cases {
		b := NewMessage(1, 0)
		b.PutText(s)
		b.PutBlob([]byte{1, 2, 3, 4, 5})
		b.PutText("tail")

		var buf bytes.Buffer
		if err := b.Encode(&buf); err != nil {
			t.Fatalf("Encode(%q): %v", s, err)
		}
		dec, err := ReadMessage(&buf)
		if err != nil {
			t.Fatalf("ReadMessage(%q): %v", s, err)
		}
		got, gerr := dec.GetText()
		if gerr != nil || got != s {
			t.Errorf("GetText() = %q, %v; want %q, nil", got, gerr, s)
		}
		blob, gerr := dec.GetBlob()
		if gerr != nil || !bytes.Equal(blob, []byte{1, 2, 3, 4, 5}) {
			t.Errorf("GetBlob() = %v, %v; want [1 2 3 4 5], nil", blob, gerr)
		}
		tail, gerr := dec.GetText()
		if gerr != nil || tail != "tail" {
			t.Errorf("GetText() tail = %q, %v; want \"tail\", nil", tail, gerr)
		}
	}
}

func TestBufferAlignment(t *testing.T) {
	t.Parallel()

	b := NewMessage(1, 0)
	b.PutText("x") // 2 bytes -> padded to 8
	if b.Offset1() != 8 {
		t.Errorf("Offset1() = %d, want 8 after single-char text", b.Offset1())
	}
	b.PutUint64(1)
	if b.Offset1()%8 != 0 {
		t.Errorf("Offset1() = %d, not word-aligned", b.Offset1())
	}
}

func TestBufferOverflowMonotonic(t *testing.T) {
	t.Parallel()

	b := NewMessage(1, 0)
	for i := 0; i < 600; i++ { // 600*8 = 4800 bytes, exceeds BodyCap
		b.PutUint64(uint64(i))
	}
	if b.Offset1() != BodyCap {
		t.Errorf("Offset1() = %d, want %d once body has overflowed", b.Offset1(), BodyCap)
	}
	if b.Offset2() != 4800-BodyCap {
		t.Errorf("Offset2() = %d, want %d", b.Offset2(), 4800-BodyCap)
	}
	if !b.Body2Allocated() {
		t.Error("Body2Allocated() = false, want true after overflow")
	}
	if got := int(b.Words()) * 8; got != 4800 {
		t.Errorf("Words()*8 = %d, want 4800", got)
	}

	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	for i := 0; i < 600; i++ {
		v, gerr := dec.GetUint64()
		if gerr != nil || v != uint64(i) {
			t.Fatalf("GetUint64() #%d = %d, %v; want %d, nil", i, v, gerr, i)
		}
	}
}

func TestBufferReadPastEndIsEOM(t *testing.T) {
	t.Parallel()

	b := NewMessage(1, 0)
	b.PutUint64(9)
	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if _, gerr := dec.GetUint64(); gerr != nil {
		t.Fatalf("first GetUint64: %v", gerr)
	}
	_, gerr := dec.GetUint64()
	if gerr == nil {
		t.Fatal("GetUint64 past end: want EOM error, got nil")
	}
	if gerr.Kind() != tunerr.EOM {
		t.Errorf("Kind() = %v, want EOM", gerr.Kind())
	}
}

func TestBufferTextMissingTerminatorIsParse(t *testing.T) {
	t.Parallel()

	// Hand-build a frame whose declared body is shorter than what GetText
	// needs to find a null terminator.
	b := &Buffer{Type: 1, decoding: true, decodeLen: 8}
	copy(b.body1[:8], []byte("abcdefgh")) // no null byte anywhere
	_, gerr := b.GetText()
	if gerr == nil {
		t.Fatal("GetText with no terminator: want Parse error, got nil")
	}
	if gerr.Kind() != tunerr.Parse {
		t.Errorf("Kind() = %v, want Parse", gerr.Kind())
	}
}

func TestTagValidAndString(t *testing.T) {
	t.Parallel()

	valid := []Tag{TagInteger, TagFloat, TagText, TagBlob, TagNull, TagUnixtime, TagISO8601, TagBoolean}
	for _, tag := range valid {
		if !tag.Valid() {
			t.Errorf("Tag(%d).Valid() = false, want true", tag)
		}
		if tag.String() == "UNKNOWN" {
			t.Errorf("Tag(%d).String() = UNKNOWN", tag)
		}
	}
	if Tag(6).Valid() {
		t.Error("Tag(6).Valid() = true, want false (unassigned)")
	}
}
