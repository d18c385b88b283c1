package schema

import (
	"bytes"
	"testing"

	"github.com/nodeql/tunnel/tunerr"
	"github.com/nodeql/tunnel/wire"
)

type pingRequest struct {
	ID   uint64
	Name string
}

var pingRecord = Record[pingRequest]{
	Uint64Field("id", func(r pingRequest) uint64 { return r.ID }, func(r *pingRequest, v uint64) { r.ID = v }),
	TextField("name", func(r pingRequest) string { return r.Name }, func(r *pingRequest, v string) { r.Name = v }),
}

type statusResponse struct {
	Code int64
}

var statusRecord = Record[statusResponse]{
	Int64Field("code", func(r statusResponse) int64 { return r.Code }, func(r *statusResponse, v int64) { r.Code = v }),
}

func roundTrip(t *testing.T, msg *wire.Buffer) *wire.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := msg.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := wire.ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return dec
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	want := pingRequest{ID: 42, Name: "hello"}
	msg := wire.NewMessage(1, 0)
	pingRecord.Put(msg, want)

	dec := roundTrip(t, msg)
	var got pingRequest
	if err := pingRecord.Get(dec, &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestHandlerDispatch(t *testing.T) {
	t.Parallel()

	h := NewHandler(
		NewVariant(1, pingRecord),
		NewVariant(2, statusRecord),
	)

	msg := wire.NewMessage(0, 0)
	if err := h.Encode(msg, 1, 0, pingRequest{ID: 7, Name: "x"}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec := roundTrip(t, msg)

	val, err := h.Decode(dec)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := val.(pingRequest)
	if !ok {
		t.Fatalf("Decode returned %T, want pingRequest", val)
	}
	if got.ID != 7 || got.Name != "x" {
		t.Errorf("got %+v, want ID=7 Name=x", got)
	}
}

func TestHandlerUnknownType(t *testing.T) {
	t.Parallel()

	h := NewHandler(NewVariant(1, pingRecord))

	msg := wire.NewMessage(99, 0)
	dec := roundTrip(t, msg)

	_, err := h.Decode(dec)
	if err == nil || err.Kind() != tunerr.Proto {
		t.Fatalf("Decode() err = %v, want PROTO", err)
	}

	err = h.Encode(wire.NewMessage(0, 0), 42, 0, pingRequest{})
	if err == nil || err.Kind() != tunerr.Proto {
		t.Fatalf("Encode() err = %v, want PROTO", err)
	}
}

func TestVariantTypeMismatch(t *testing.T) {
	t.Parallel()

	h := NewHandler(NewVariant(1, pingRecord))
	err := h.Encode(wire.NewMessage(0, 0), 1, 0, statusResponse{Code: 1})
	if err == nil || err.Kind() != tunerr.Proto {
		t.Fatalf("Encode() err = %v, want PROTO on type mismatch", err)
	}
}
