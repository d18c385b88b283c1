// Package schema turns a declarative list of (wire tag, field) pairs into
// encode/decode routines for a Go struct, and composes those into a
// type-tagged union of request/response variants dispatched by a message's
// header byte. Go has no macro or token-pasting facility to synthesize
// these at compile time the way the original's code generator does, so the
// codec here is built from generics plus a thin type-erasure layer instead:
// a Field[R] knows how to put/get one struct field, a Record[R] composes
// them in order, and a Variant erases R so a Handler can hold variants of
// different concrete record types in one registry.
package schema

import (
	"github.com/nodeql/tunnel/tunerr"
	"github.com/nodeql/tunnel/wire"
)

// Field puts or gets a single named field of record type R.
type Field[R any] interface {
	Name() string
	Put(msg *wire.Buffer, rec R)
	Get(msg *wire.Buffer, rec *R) *tunerr.Error
}

type scalarField[R any, T any] struct {
	name    string
	extract func(R) T
	assign  func(*R, T)
	put     func(*wire.Buffer, T)
	get     func(*wire.Buffer) (T, *tunerr.Error)
}

func (f scalarField[R, T]) Name() string { return f.name }

func (f scalarField[R, T]) Put(msg *wire.Buffer, rec R) {
	f.put(msg, f.extract(rec))
}

func (f scalarField[R, T]) Get(msg *wire.Buffer, rec *R) *tunerr.Error {
	v, err := f.get(msg)
	if err != nil {
		err.Wrapf("field %s", f.name)
		return err
	}
	f.assign(rec, v)
	return nil
}

// Uint64Field declares an INTEGER-tagged field stored as a raw uint64.
func Uint64Field[R any](name string, extract func(R) uint64, assign func(*R, uint64)) Field[R] {
	return scalarField[R, uint64]{name, extract, assign, (*wire.Buffer).PutUint64, (*wire.Buffer).GetUint64}
}

// Int64Field declares an INTEGER-tagged field.
func Int64Field[R any](name string, extract func(R) int64, assign func(*R, int64)) Field[R] {
	return scalarField[R, int64]{name, extract, assign, (*wire.Buffer).PutInt64, (*wire.Buffer).GetInt64}
}

// Float64Field declares a FLOAT-tagged field.
func Float64Field[R any](name string, extract func(R) float64, assign func(*R, float64)) Field[R] {
	return scalarField[R, float64]{name, extract, assign, (*wire.Buffer).PutFloat64, (*wire.Buffer).GetFloat64}
}

// TextField declares a TEXT-tagged field.
func TextField[R any](name string, extract func(R) string, assign func(*R, string)) Field[R] {
	return scalarField[R, string]{name, extract, assign, (*wire.Buffer).PutText, (*wire.Buffer).GetText}
}

// BlobField declares a BLOB-tagged field.
func BlobField[R any](name string, extract func(R) []byte, assign func(*R, []byte)) Field[R] {
	return scalarField[R, []byte]{name, extract, assign, (*wire.Buffer).PutBlob, (*wire.Buffer).GetBlob}
}

// Record is a declarative field list for R, in wire order. Its Put/Get
// methods are the synthesized encode/decode routines: the struct's fields
// never need hand-written marshalling code.
type Record[R any] []Field[R]

// Put writes every field of rec into msg, in record order.
func (rec Record[R]) Put(msg *wire.Buffer, v R) {
	for _, f := range rec {
		f.Put(msg, v)
	}
}

// Get reads every field of the record from msg into v, in record order,
// stopping at the first failure.
func (rec Record[R]) Get(msg *wire.Buffer, v *R) *tunerr.Error {
	for _, f := range rec {
		if err := f.Get(msg, v); err != nil {
			return err
		}
	}
	return nil
}

// Variant erases a Record[R]'s type parameter so a Handler can hold
// variants of unrelated record types in one tagged-union dispatch table.
type Variant interface {
	Type() byte
	Decode(msg *wire.Buffer) (any, *tunerr.Error)
	Encode(msg *wire.Buffer, v any) *tunerr.Error
}

type variant[R any] struct {
	typ byte
	rec Record[R]
}

// NewVariant registers rec as the schema for message type typ.
func NewVariant[R any](typ byte, rec Record[R]) Variant {
	return variant[R]{typ: typ, rec: rec}
}

func (v variant[R]) Type() byte { return v.typ }

func (v variant[R]) Decode(msg *wire.Buffer) (any, *tunerr.Error) {
	var rec R
	if err := v.rec.Get(msg, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (v variant[R]) Encode(msg *wire.Buffer, val any) *tunerr.Error {
	rec, ok := val.(R)
	if !ok {
		return tunerr.New(tunerr.Proto, "schema: value does not match variant %d's record type", v.typ)
	}
	v.rec.Put(msg, rec)
	return nil
}

// Handler is a tagged union over a closed set of variants, dispatched by a
// message's type byte.
type Handler struct {
	variants map[byte]Variant
}

// NewHandler builds a Handler from its full set of variants.
func NewHandler(variants ...Variant) *Handler {
	h := &Handler{variants: make(map[byte]Variant, len(variants))}
	for _, v := range variants {
		h.variants[v.Type()] = v
	}
	return h
}

// Decode dispatches on msg.Type and returns the decoded record, boxed as
// any. Callers type-assert to the variant's known record type.
func (h *Handler) Decode(msg *wire.Buffer) (any, *tunerr.Error) {
	v, ok := h.variants[msg.Type]
	if !ok {
		return nil, tunerr.New(tunerr.Proto, "unknown message type %d", msg.Type)
	}
	return v.Decode(msg)
}

// Encode stamps msg's header with typ and flags, then dispatches to typ's
// variant to write val.
func (h *Handler) Encode(msg *wire.Buffer, typ, flags byte, val any) *tunerr.Error {
	v, ok := h.variants[typ]
	if !ok {
		return tunerr.New(tunerr.Proto, "unknown message type %d", typ)
	}
	msg.HeaderPut(typ, flags)
	return v.Encode(msg, val)
}
