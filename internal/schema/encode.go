package schema

import (
	"github.com/apache/arrow/go/v7/arrow"
	"github.com/apache/arrow/go/v7/arrow/array"
	"github.com/apache/arrow/go/v7/arrow/memory"

	"github.com/datashed/datashed/pkg/types"
)

// Encoder accumulates validated rows into Arrow builders and flushes them
// as records. It is not safe for concurrent use; the dataset writer owns it.
type Encoder struct {
	schema *types.Schema
	arrow  *arrow.Schema
	rb     *array.RecordBuilder
	rows   int
}

// NewEncoder builds an encoder for a frozen schema.
func NewEncoder(mem memory.Allocator, s *types.Schema) *Encoder {
	as := ToArrow(s)
	return &Encoder{
		schema: s,
		arrow:  as,
		rb:     array.NewRecordBuilder(mem, as),
	}
}

// Schema returns the dataset schema the encoder was built for.
func (e *Encoder) Schema() *types.Schema { return e.schema }

// ArrowSchema returns the materialized Arrow schema.
func (e *Encoder) ArrowSchema() *arrow.Schema { return e.arrow }

// Len returns the number of rows buffered since the last flush.
func (e *Encoder) Len() int { return e.rows }

// Append validates the row against the frozen schema and buffers it.
func (e *Encoder) Append(row types.Row) error {
	if err := Validate(e.schema, row); err != nil {
		return err
	}
	for i, col := range e.schema.Columns() {
		v, _ := row.Lookup(col.Name)
		appendValue(e.rb.Field(i), col.Type, v)
	}
	e.rows++
	return nil
}

// Flush returns the buffered rows as a record and resets the builders.
// The caller owns the record and must Release it. Flushing with no buffered
// rows returns a zero-row record.
func (e *Encoder) Flush() arrow.Record {
	rec := e.rb.NewRecord()
	e.rows = 0
	return rec
}

// Release frees the underlying builders.
func (e *Encoder) Release() {
	e.rb.Release()
}

func appendValue(b array.Builder, ct types.ColumnType, v types.Value) {
	switch ct.Kind {
	case types.KindInt64:
		b.(*array.Int64Builder).Append(v.AsInt())

	case types.KindFloat64:
		b.(*array.Float64Builder).Append(floatOf(v))

	case types.KindBool:
		b.(*array.BooleanBuilder).Append(v.AsBool())

	case types.KindString:
		b.(*array.StringBuilder).Append(v.AsString())

	case types.KindComplex128:
		appendComplex(b.(*array.StructBuilder), v.AsComplex())

	case types.KindList:
		lb := b.(*array.FixedSizeListBuilder)
		lb.Append(true)
		appendListElems(lb.ValueBuilder(), ct.Elem, v.AsList())

	case types.KindTrace:
		appendTrace(b, ct, v.AsTrace())
	}
}

// floatOf applies the one permitted coercion, int64 → float64.
func floatOf(v types.Value) float64 {
	if v.Kind() == types.KindInt64 {
		return float64(v.AsInt())
	}
	return v.AsFloat()
}

func appendComplex(sb *array.StructBuilder, c complex128) {
	sb.Append(true)
	sb.FieldBuilder(0).(*array.Float64Builder).Append(real(c))
	sb.FieldBuilder(1).(*array.Float64Builder).Append(imag(c))
}

func appendListElems(vb array.Builder, elem types.Kind, l *types.List) {
	switch elem {
	case types.KindInt64:
		ib := vb.(*array.Int64Builder)
		for i := 0; i < l.Len(); i++ {
			ib.Append(l.IntAt(i))
		}
	case types.KindFloat64:
		fb := vb.(*array.Float64Builder)
		for i := 0; i < l.Len(); i++ {
			if l.Elem() == types.KindInt64 {
				fb.Append(float64(l.IntAt(i)))
			} else {
				fb.Append(l.FloatAt(i))
			}
		}
	case types.KindBool:
		bb := vb.(*array.BooleanBuilder)
		for i := 0; i < l.Len(); i++ {
			bb.Append(l.BoolAt(i))
		}
	case types.KindString:
		sb := vb.(*array.StringBuilder)
		for i := 0; i < l.Len(); i++ {
			sb.Append(l.StrAt(i))
		}
	}
}

func appendTrace(b array.Builder, ct types.ColumnType, tr *types.Trace) {
	switch ct.Step {
	case types.StepSimple:
		lb := b.(*array.ListBuilder)
		lb.Append(true)
		appendSamples(lb.ValueBuilder(), ct.Elem, tr)

	case types.StepFixed:
		sb := b.(*array.StructBuilder)
		sb.Append(true)
		sb.FieldBuilder(0).(*array.Float64Builder).Append(tr.X0())
		sb.FieldBuilder(1).(*array.Float64Builder).Append(tr.Dx())
		y := sb.FieldBuilder(2).(*array.ListBuilder)
		y.Append(true)
		appendSamples(y.ValueBuilder(), ct.Elem, tr)

	case types.StepVariable:
		sb := b.(*array.StructBuilder)
		sb.Append(true)
		x := sb.FieldBuilder(0).(*array.ListBuilder)
		x.Append(true)
		xv := x.ValueBuilder().(*array.Float64Builder)
		for _, xc := range tr.Xs() {
			xv.Append(xc)
		}
		y := sb.FieldBuilder(1).(*array.ListBuilder)
		y.Append(true)
		appendSamples(y.ValueBuilder(), ct.Elem, tr)
	}
}

func appendSamples(vb array.Builder, item types.Kind, tr *types.Trace) {
	if item == types.KindComplex128 {
		sb := vb.(*array.StructBuilder)
		for _, c := range tr.Cs() {
			appendComplex(sb, c)
		}
		return
	}
	fb := vb.(*array.Float64Builder)
	for _, y := range tr.Ys() {
		fb.Append(y)
	}
}
