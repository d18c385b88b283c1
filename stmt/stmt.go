// Package stmt adapts a decoded request message onto a prepared
// engine.Stmt, and streams its result set back out as an encoded response
// message: the Bind/Query contract of the wire protocol.
package stmt

import (
	"context"
	"errors"
	"strings"

	"github.com/nodeql/tunnel/engine"
	"github.com/nodeql/tunnel/tunerr"
	"github.com/nodeql/tunnel/wire"
)

// Adapter binds parameters onto, and streams query results from, a single
// prepared statement. It holds no message of its own — callers pass a
// *wire.Buffer per Bind/Query call — and is not safe for concurrent use,
// matching the codec's single-threaded, one-handler-per-connection model.
type Adapter struct {
	Stmt engine.Stmt
}

// New wraps s for binding and querying.
func New(s engine.Stmt) *Adapter {
	return &Adapter{Stmt: s}
}

// tagByteAt extracts byte position p (0 = most significant) from a 64-bit
// word, matching the big-endian layout the header word and its
// continuations are packed in.
func tagByteAt(word uint64, p int) byte {
	return byte(word >> uint(8*(7-p)))
}

// Bind consumes parameters from msg and applies them to the statement. An
// empty message (read cursor already at the end) succeeds with no bindings
// applied.
func (a *Adapter) Bind(msg *wire.Buffer) *tunerr.Error {
	if msg.AtEnd() {
		return nil
	}

	header, gerr := msg.GetUint64()
	if gerr != nil {
		return tunerr.New(tunerr.Error, "incomplete param types")
	}
	n := int(tagByteAt(header, 0))

	tags := make([]wire.Tag, 0, n)
	for p := 1; p < 8 && len(tags) < n; p++ {
		tags = append(tags, wire.Tag(tagByteAt(header, p)))
	}
	for len(tags) < n {
		word, gerr := msg.GetUint64()
		if gerr != nil {
			return tunerr.New(tunerr.Error, "incomplete param types")
		}
		for p := 0; p < 8 && len(tags) < n; p++ {
			tags = append(tags, wire.Tag(tagByteAt(word, p)))
		}
	}

	for idx, tag := range tags {
		if !tag.Valid() {
			return tunerr.New(tunerr.Error, "invalid param %d: unknown type %d", idx+1, byte(tag))
		}
	}

	for idx, tag := range tags {
		i := idx + 1
		if err := a.bindOne(msg, i, tag); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) bindOne(msg *wire.Buffer, index int, tag wire.Tag) *tunerr.Error {
	var bindErr error
	switch tag {
	case wire.TagInteger:
		v, gerr := msg.GetInt64()
		if gerr != nil {
			return tunerr.New(tunerr.Error, "incomplete param values")
		}
		bindErr = a.Stmt.BindInt64(index, v)
	case wire.TagFloat:
		v, gerr := msg.GetFloat64()
		if gerr != nil {
			return tunerr.New(tunerr.Error, "incomplete param values")
		}
		bindErr = a.Stmt.BindFloat64(index, v)
	case wire.TagText:
		v, gerr := msg.GetText()
		if gerr != nil {
			return tunerr.New(tunerr.Error, "incomplete param values")
		}
		bindErr = a.Stmt.BindText(index, v)
	case wire.TagBlob:
		v, gerr := msg.GetBlob()
		if gerr != nil {
			return tunerr.New(tunerr.Error, "incomplete param values")
		}
		bindErr = a.Stmt.BindBlob(index, v)
	case wire.TagNull:
		if _, gerr := msg.GetUint64(); gerr != nil {
			return tunerr.New(tunerr.Error, "incomplete param values")
		}
		bindErr = a.Stmt.BindNull(index)
	case wire.TagUnixtime:
		v, gerr := msg.GetInt64()
		if gerr != nil {
			return tunerr.New(tunerr.Error, "incomplete param values")
		}
		bindErr = a.Stmt.BindInt64(index, v)
	case wire.TagISO8601:
		v, gerr := msg.GetText()
		if gerr != nil {
			return tunerr.New(tunerr.Error, "incomplete param values")
		}
		bindErr = a.Stmt.BindText(index, v)
	case wire.TagBoolean:
		v, gerr := msg.GetInt64()
		if gerr != nil {
			return tunerr.New(tunerr.Error, "incomplete param values")
		}
		bindErr = a.Stmt.BindInt64(index, v)
	}
	if bindErr != nil {
		if errors.Is(bindErr, engine.ErrBindRange) {
			return tunerr.New(tunerr.Range, "%s", bindErr.Error())
		}
		return tunerr.New(tunerr.Error, "%s", bindErr.Error())
	}
	return nil
}

// Query executes the statement, streaming columns and rows into msg until
// either exhaustion or the buffer has accepted one row past its inline
// capacity. It returns engine.StepDone once the engine yields no more rows,
// or engine.StepRow if the caller should re-issue to continue.
func (a *Adapter) Query(ctx context.Context, msg *wire.Buffer) (engine.StepResult, *tunerr.Error) {
	cols := a.Stmt.ColumnCount()
	if cols == 0 {
		return engine.StepDone, tunerr.New(tunerr.Error, "stmt doesn't yield any column")
	}

	msg.PutUint64(uint64(cols))
	for i := 0; i < cols; i++ {
		msg.PutText(a.Stmt.ColumnName(i))
	}

	for {
		// The decision point is per-row: once a prior row has pushed the
		// message past its inline capacity, stop before stepping for
		// another one rather than stepping it only to immediately return.
		if msg.Body2Allocated() {
			return engine.StepRow, nil
		}

		result, err := a.Stmt.Step(ctx)
		if err != nil {
			return engine.StepDone, tunerr.New(tunerr.Error, "%s", err.Error())
		}
		if result == engine.StepDone {
			return engine.StepDone, nil
		}

		a.writeRow(msg, cols)
	}
}

func (a *Adapter) writeRow(msg *wire.Buffer, cols int) {
	tags := make([]wire.Tag, cols)
	for i := 0; i < cols; i++ {
		tags[i] = outboundTag(a.Stmt.ColumnDeclType(i), a.Stmt.ColumnType(i))
	}

	hdr := make([]byte, (cols+1)/2)
	for i, t := range tags {
		nib := byte(t) & 0x0f
		if i%2 == 0 {
			hdr[i/2] |= nib
		} else {
			hdr[i/2] |= nib << 4
		}
	}
	msg.PutPaddedBytes(hdr)

	for i, t := range tags {
		writeValue(msg, t, a.Stmt, i)
	}
}

func writeValue(msg *wire.Buffer, tag wire.Tag, s engine.Stmt, i int) {
	switch tag {
	case wire.TagInteger, wire.TagUnixtime, wire.TagBoolean:
		msg.PutInt64(s.ColumnInt64(i))
	case wire.TagFloat:
		msg.PutFloat64(s.ColumnFloat64(i))
	case wire.TagText:
		msg.PutText(s.ColumnText(i))
	case wire.TagBlob:
		msg.PutBlob(s.ColumnBlob(i))
	case wire.TagNull:
		msg.PutUint64(0)
	case wire.TagISO8601:
		if s.ColumnType(i) == engine.ColumnNull {
			msg.PutText("")
		} else {
			msg.PutText(s.ColumnText(i))
		}
	}
}

// outboundTag chooses the wire tag for a column value given its declared
// SQL type name and the engine's native storage type for the current value.
func outboundTag(declType string, storage engine.ColumnType) wire.Tag {
	switch strings.ToUpper(declType) {
	case "DATETIME", "TIMESTAMP", "DATE", "TIME":
		switch storage {
		case engine.ColumnInteger:
			return wire.TagUnixtime
		case engine.ColumnText, engine.ColumnNull:
			return wire.TagISO8601
		}
	case "BOOLEAN", "BOOL":
		return wire.TagBoolean
	}
	return nativeTag(storage)
}

func nativeTag(t engine.ColumnType) wire.Tag {
	switch t {
	case engine.ColumnInteger:
		return wire.TagInteger
	case engine.ColumnFloat:
		return wire.TagFloat
	case engine.ColumnText:
		return wire.TagText
	case engine.ColumnBlob:
		return wire.TagBlob
	case engine.ColumnNull:
		return wire.TagNull
	}
	return wire.TagNull
}
