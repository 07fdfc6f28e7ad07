package schema

import (
	"errors"
	"testing"

	dserrors "github.com/datashed/datashed/internal/errors"
	"github.com/datashed/datashed/pkg/types"
)

func TestInfer_Scalars(t *testing.T) {
	row := types.Row{
		{Name: "t", Value: types.Int(0)},
		{Name: "temp", Value: types.Float(20.5)},
		{Name: "ok", Value: types.Bool(true)},
		{Name: "note", Value: types.Str("warmup")},
		{Name: "z", Value: types.Complex(2 + 3i)},
	}

	s, err := Infer(row)
	if err != nil {
		t.Fatalf("failed to infer schema: %v", err)
	}
	if s.Len() != 5 {
		t.Fatalf("expected 5 columns, got %d", s.Len())
	}

	want := []types.ColumnType{
		types.Scalar(types.KindInt64),
		types.Scalar(types.KindFloat64),
		types.Scalar(types.KindBool),
		types.Scalar(types.KindString),
		types.Scalar(types.KindComplex128),
	}
	for i, w := range want {
		if s.Column(i).Type != w {
			t.Errorf("column %d: got %s, want %s", i, s.Column(i).Type, w)
		}
	}
}

func TestInfer_ColumnOrderFollowsRow(t *testing.T) {
	row := types.Row{
		{Name: "b", Value: types.Int(1)},
		{Name: "a", Value: types.Int(2)},
		{Name: "c", Value: types.Int(3)},
	}
	s, err := Infer(row)
	if err != nil {
		t.Fatalf("failed to infer schema: %v", err)
	}
	names := []string{"b", "a", "c"}
	for i, name := range names {
		if s.Column(i).Name != name {
			t.Errorf("column %d: got %q, want %q", i, s.Column(i).Name, name)
		}
	}
}

func TestInfer_List(t *testing.T) {
	row := types.Row{
		{Name: "samples", Value: types.ListValue(types.Floats([]float64{1, 2, 3, 4}))},
	}
	s, err := Infer(row)
	if err != nil {
		t.Fatalf("failed to infer schema: %v", err)
	}
	ct := s.Column(0).Type
	if ct.Kind != types.KindList || ct.Elem != types.KindFloat64 || ct.Width != 4 {
		t.Errorf("unexpected list column type: %s", ct)
	}
}

func TestInfer_Trace(t *testing.T) {
	row := types.Row{
		{Name: "w", Value: types.TraceValue(types.FixedTrace(0.1, 0.5, []float64{1, 2, 3}))},
		{Name: "iq", Value: types.TraceValue(types.SimpleComplexTrace([]complex128{1i}))},
	}
	s, err := Infer(row)
	if err != nil {
		t.Fatalf("failed to infer schema: %v", err)
	}
	if ct := s.Column(0).Type; ct != types.TraceOf(types.StepFixed, types.KindFloat64) {
		t.Errorf("unexpected trace type: %s", ct)
	}
	if ct := s.Column(1).Type; ct != types.TraceOf(types.StepSimple, types.KindComplex128) {
		t.Errorf("unexpected trace type: %s", ct)
	}
}

func TestInfer_EmptyRow(t *testing.T) {
	_, err := Infer(types.Row{})
	if !errors.Is(err, dserrors.New(dserrors.KindSchemaInference, dserrors.CodeEmptyRow, "")) {
		t.Errorf("expected empty-row inference error, got %v", err)
	}
}

func TestInfer_EmptyList(t *testing.T) {
	row := types.Row{{Name: "xs", Value: types.ListValue(types.Floats(nil))}}
	_, err := Infer(row)
	if dserrors.GetCode(err) != dserrors.CodeEmptyList {
		t.Errorf("expected empty-list inference error, got %v", err)
	}
}

func TestInfer_DuplicateColumn(t *testing.T) {
	row := types.Row{
		{Name: "x", Value: types.Int(1)},
		{Name: "x", Value: types.Int(2)},
	}
	_, err := Infer(row)
	if dserrors.GetCode(err) != dserrors.CodeDuplicateColumn {
		t.Errorf("expected duplicate-column inference error, got %v", err)
	}
}

func TestInfer_InvalidValue(t *testing.T) {
	row := types.Row{{Name: "x", Value: types.Value{}}}
	_, err := Infer(row)
	if dserrors.GetKind(err) != dserrors.KindType {
		t.Errorf("expected type error, got %v", err)
	}
}
