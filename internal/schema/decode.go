package schema

import (
	"fmt"

	"github.com/apache/arrow/go/v7/arrow"
	"github.com/apache/arrow/go/v7/arrow/array"

	"github.com/datashed/datashed/internal/errors"
	"github.com/datashed/datashed/pkg/types"
)

// DecodeRecord converts a record back into rows, recovering the dataset
// schema from the record's Arrow schema first.
func DecodeRecord(rec arrow.Record) ([]types.Row, *types.Schema, error) {
	s, err := FromArrow(rec.Schema())
	if err != nil {
		return nil, nil, err
	}
	rows, err := DecodeRows(s, rec)
	return rows, s, err
}

// DecodeRows converts a record into rows under a known dataset schema.
// The conversion is total over the closed column type enum.
func DecodeRows(s *types.Schema, rec arrow.Record) ([]types.Row, error) {
	if int(rec.NumCols()) != s.Len() {
		return nil, errors.NewSchemaMismatch(errors.CodeSchemaChanged,
			fmt.Sprintf("record has %d columns, schema has %d", rec.NumCols(), s.Len()))
	}

	n := int(rec.NumRows())
	rows := make([]types.Row, n)
	for i := range rows {
		rows[i] = make(types.Row, s.Len())
	}

	for ci, col := range s.Columns() {
		arr := rec.Column(ci)
		if arr.Len() != n {
			return nil, errors.NewCorrupt(errors.CodeBadIPCFile,
				fmt.Sprintf("column %q has %d values for %d rows", col.Name, arr.Len(), n), nil)
		}
		for ri := 0; ri < n; ri++ {
			v, err := decodeValue(col, arr, ri)
			if err != nil {
				return nil, err
			}
			rows[ri][ci] = types.Cell{Name: col.Name, Value: v}
		}
	}
	return rows, nil
}

func decodeValue(col types.Column, arr arrow.Array, i int) (types.Value, error) {
	ct := col.Type
	switch ct.Kind {
	case types.KindInt64:
		a, ok := arr.(*array.Int64)
		if !ok {
			return types.Value{}, badColumn(col, arr)
		}
		return types.Int(a.Value(i)), nil

	case types.KindFloat64:
		a, ok := arr.(*array.Float64)
		if !ok {
			return types.Value{}, badColumn(col, arr)
		}
		return types.Float(a.Value(i)), nil

	case types.KindBool:
		a, ok := arr.(*array.Boolean)
		if !ok {
			return types.Value{}, badColumn(col, arr)
		}
		return types.Bool(a.Value(i)), nil

	case types.KindString:
		a, ok := arr.(*array.String)
		if !ok {
			return types.Value{}, badColumn(col, arr)
		}
		return types.Str(a.Value(i)), nil

	case types.KindComplex128:
		a, ok := arr.(*array.Struct)
		if !ok {
			return types.Value{}, badColumn(col, arr)
		}
		c, err := complexAt(a, i)
		if err != nil {
			return types.Value{}, badColumn(col, arr)
		}
		return types.Complex(c), nil

	case types.KindList:
		a, ok := arr.(*array.FixedSizeList)
		if !ok {
			return types.Value{}, badColumn(col, arr)
		}
		return decodeList(col, a, i)

	case types.KindTrace:
		return decodeTrace(col, arr, i)

	default:
		return types.Value{}, errors.NewInternalError(
			fmt.Sprintf("column %q has unknown type %s", col.Name, ct), nil)
	}
}

func complexAt(a *array.Struct, i int) (complex128, error) {
	if a.NumField() != 2 {
		return 0, fmt.Errorf("complex storage has %d fields", a.NumField())
	}
	re, ok := a.Field(0).(*array.Float64)
	if !ok {
		return 0, fmt.Errorf("complex real part is %s", a.Field(0).DataType())
	}
	im, ok := a.Field(1).(*array.Float64)
	if !ok {
		return 0, fmt.Errorf("complex imag part is %s", a.Field(1).DataType())
	}
	return complex(re.Value(i), im.Value(i)), nil
}

func decodeList(col types.Column, a *array.FixedSizeList, i int) (types.Value, error) {
	w := col.Type.Width
	start := i * w
	values := a.ListValues()

	switch col.Type.Elem {
	case types.KindInt64:
		va, ok := values.(*array.Int64)
		if !ok {
			return types.Value{}, badColumn(col, a)
		}
		out := make([]int64, w)
		for j := 0; j < w; j++ {
			out[j] = va.Value(start + j)
		}
		return types.ListValue(types.Ints(out)), nil

	case types.KindFloat64:
		va, ok := values.(*array.Float64)
		if !ok {
			return types.Value{}, badColumn(col, a)
		}
		out := make([]float64, w)
		for j := 0; j < w; j++ {
			out[j] = va.Value(start + j)
		}
		return types.ListValue(types.Floats(out)), nil

	case types.KindBool:
		va, ok := values.(*array.Boolean)
		if !ok {
			return types.Value{}, badColumn(col, a)
		}
		out := make([]bool, w)
		for j := 0; j < w; j++ {
			out[j] = va.Value(start + j)
		}
		return types.ListValue(types.Bools(out)), nil

	case types.KindString:
		va, ok := values.(*array.String)
		if !ok {
			return types.Value{}, badColumn(col, a)
		}
		out := make([]string, w)
		for j := 0; j < w; j++ {
			out[j] = va.Value(start + j)
		}
		return types.ListValue(types.Strs(out)), nil

	default:
		return types.Value{}, badColumn(col, a)
	}
}

func decodeTrace(col types.Column, arr arrow.Array, i int) (types.Value, error) {
	item := col.Type.Elem

	switch col.Type.Step {
	case types.StepSimple:
		la, ok := arr.(*array.List)
		if !ok {
			return types.Value{}, badColumn(col, arr)
		}
		ys, cs, err := samplesAt(la, item, i)
		if err != nil {
			return types.Value{}, badColumn(col, arr)
		}
		if item == types.KindComplex128 {
			return types.TraceValue(types.SimpleComplexTrace(cs)), nil
		}
		return types.TraceValue(types.SimpleTrace(ys)), nil

	case types.StepFixed:
		sa, ok := arr.(*array.Struct)
		if !ok || sa.NumField() != 3 {
			return types.Value{}, badColumn(col, arr)
		}
		x0a, ok0 := sa.Field(0).(*array.Float64)
		dxa, ok1 := sa.Field(1).(*array.Float64)
		ya, ok2 := sa.Field(2).(*array.List)
		if !ok0 || !ok1 || !ok2 {
			return types.Value{}, badColumn(col, arr)
		}
		ys, cs, err := samplesAt(ya, item, i)
		if err != nil {
			return types.Value{}, badColumn(col, arr)
		}
		if item == types.KindComplex128 {
			return types.TraceValue(types.FixedComplexTrace(x0a.Value(i), dxa.Value(i), cs)), nil
		}
		return types.TraceValue(types.FixedTrace(x0a.Value(i), dxa.Value(i), ys)), nil

	case types.StepVariable:
		sa, ok := arr.(*array.Struct)
		if !ok || sa.NumField() != 2 {
			return types.Value{}, badColumn(col, arr)
		}
		xa, ok0 := sa.Field(0).(*array.List)
		ya, ok1 := sa.Field(1).(*array.List)
		if !ok0 || !ok1 {
			return types.Value{}, badColumn(col, arr)
		}
		xs, _, err := samplesAt(xa, types.KindFloat64, i)
		if err != nil {
			return types.Value{}, badColumn(col, arr)
		}
		ys, cs, err := samplesAt(ya, item, i)
		if err != nil {
			return types.Value{}, badColumn(col, arr)
		}
		var tr *types.Trace
		if item == types.KindComplex128 {
			tr, err = types.VariableComplexTrace(xs, cs)
		} else {
			tr, err = types.VariableTrace(xs, ys)
		}
		if err != nil {
			return types.Value{}, errors.NewCorrupt(errors.CodeBadIPCFile,
				fmt.Sprintf("column %q row %d: %v", col.Name, i, err), err)
		}
		return types.TraceValue(tr), nil

	default:
		return types.Value{}, badColumn(col, arr)
	}
}

// samplesAt reads list entry i as float64 samples or complex samples,
// depending on the item kind.
func samplesAt(la *array.List, item types.Kind, i int) ([]float64, []complex128, error) {
	offsets := la.Offsets()
	start, end := int(offsets[i]), int(offsets[i+1])
	values := la.ListValues()

	if item == types.KindComplex128 {
		sa, ok := values.(*array.Struct)
		if !ok {
			return nil, nil, fmt.Errorf("complex samples stored as %s", values.DataType())
		}
		cs := make([]complex128, 0, end-start)
		for j := start; j < end; j++ {
			c, err := complexAt(sa, j)
			if err != nil {
				return nil, nil, err
			}
			cs = append(cs, c)
		}
		return nil, cs, nil
	}

	fa, ok := values.(*array.Float64)
	if !ok {
		return nil, nil, fmt.Errorf("float samples stored as %s", values.DataType())
	}
	ys := make([]float64, 0, end-start)
	for j := start; j < end; j++ {
		ys = append(ys, fa.Value(j))
	}
	return ys, nil, nil
}

func badColumn(col types.Column, arr arrow.Array) *errors.DatashedError {
	return errors.NewCorrupt(errors.CodeBadIPCFile,
		fmt.Sprintf("column %q: storage %s does not match type %s", col.Name, arr.DataType(), col.Type), nil)
}
