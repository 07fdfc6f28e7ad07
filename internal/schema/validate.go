package schema

import (
	"fmt"

	"github.com/datashed/datashed/internal/errors"
	"github.com/datashed/datashed/pkg/types"
)

// Validate checks a row against a frozen schema. The row must carry exactly
// the schema's columns (any order, each exactly once). The only permitted
// coercion is int64 → float64, for scalars and for list elements.
func Validate(s *types.Schema, row types.Row) error {
	seen := make([]bool, s.Len())
	for _, cell := range row {
		i := s.Index(cell.Name)
		if i < 0 {
			return errors.NewSchemaMismatch(errors.CodeExtraColumn,
				fmt.Sprintf("column %q is not part of the dataset schema (%s)", cell.Name, s))
		}
		if seen[i] {
			return errors.NewSchemaMismatch(errors.CodeExtraColumn,
				fmt.Sprintf("column %q appears twice in the row", cell.Name))
		}
		seen[i] = true
		if err := checkValue(s.Column(i), cell.Value); err != nil {
			return err
		}
	}
	if len(row) < s.Len() {
		for i, col := range s.Columns() {
			if !seen[i] {
				return errors.NewSchemaMismatch(errors.CodeMissingColumn,
					fmt.Sprintf("row is missing column %q", col.Name))
			}
		}
	}
	return nil
}

func checkValue(col types.Column, v types.Value) error {
	ct := col.Type
	switch ct.Kind {
	case types.KindInt64, types.KindBool, types.KindString, types.KindComplex128:
		if v.Kind() != ct.Kind {
			return kindMismatch(col, v)
		}

	case types.KindFloat64:
		if v.Kind() != types.KindFloat64 && v.Kind() != types.KindInt64 {
			return kindMismatch(col, v)
		}

	case types.KindList:
		if v.Kind() != types.KindList {
			return kindMismatch(col, v)
		}
		l := v.AsList()
		if !elemCompatible(ct.Elem, l.Elem()) {
			return errors.NewSchemaMismatch(errors.CodeKindMismatch,
				fmt.Sprintf("column %q expects list elements of %s, got %s", col.Name, ct.Elem, l.Elem()))
		}
		if l.Len() != ct.Width {
			return errors.NewSchemaMismatch(errors.CodeWidthMismatch,
				fmt.Sprintf("column %q expects %d list elements, got %d", col.Name, ct.Width, l.Len()))
		}

	case types.KindTrace:
		if v.Kind() != types.KindTrace {
			return kindMismatch(col, v)
		}
		tr := v.AsTrace()
		if tr.Step() != ct.Step {
			return errors.NewSchemaMismatch(errors.CodeLayoutMismatch,
				fmt.Sprintf("column %q expects a %s trace, got %s", col.Name, ct.Step, tr.Step()))
		}
		if tr.Item() != ct.Elem {
			return errors.NewSchemaMismatch(errors.CodeKindMismatch,
				fmt.Sprintf("column %q expects %s trace samples, got %s", col.Name, ct.Elem, tr.Item()))
		}

	default:
		return errors.NewInternalError(fmt.Sprintf("column %q has unknown type %s", col.Name, ct), nil)
	}
	return nil
}

func elemCompatible(want, got types.Kind) bool {
	if want == got {
		return true
	}
	return want == types.KindFloat64 && got == types.KindInt64
}

func kindMismatch(col types.Column, v types.Value) error {
	return errors.NewSchemaMismatch(errors.CodeKindMismatch,
		fmt.Sprintf("column %q expects %s, got %s", col.Name, col.Type, v.Kind()))
}
