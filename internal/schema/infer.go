// Package schema implements schema inference over dynamic rows, frozen-schema
// validation, and materialization of dataset schemas as Arrow schemas with
// extension-typed columns.
package schema

import (
	"fmt"

	"github.com/datashed/datashed/internal/errors"
	"github.com/datashed/datashed/pkg/types"
)

// Infer derives a dataset schema from the first row written. Column order is
// the cell order of the row. The schema is frozen afterwards; every later
// row is checked with Validate.
func Infer(row types.Row) (*types.Schema, error) {
	if len(row) == 0 {
		return nil, errors.NewSchemaInference(errors.CodeEmptyRow, "cannot infer schema from an empty row")
	}

	cols := make([]types.Column, 0, len(row))
	seen := make(map[string]bool, len(row))
	for _, cell := range row {
		if cell.Name == "" {
			return nil, errors.NewSchemaInference(errors.CodeDuplicateColumn, "column with empty name")
		}
		if seen[cell.Name] {
			return nil, errors.NewSchemaInference(errors.CodeDuplicateColumn,
				fmt.Sprintf("column %q appears twice in the first row", cell.Name))
		}
		seen[cell.Name] = true

		ct, err := inferColumn(cell.Name, cell.Value)
		if err != nil {
			return nil, err
		}
		cols = append(cols, types.Column{Name: cell.Name, Type: ct})
	}

	s, err := types.NewSchema(cols)
	if err != nil {
		return nil, errors.NewSchemaInference(errors.CodeDuplicateColumn, err.Error())
	}
	return s, nil
}

func inferColumn(name string, v types.Value) (types.ColumnType, error) {
	switch v.Kind() {
	case types.KindInt64, types.KindFloat64, types.KindBool, types.KindString, types.KindComplex128:
		return types.Scalar(v.Kind()), nil

	case types.KindList:
		l := v.AsList()
		if l.Len() == 0 {
			return types.ColumnType{}, errors.NewSchemaInference(errors.CodeEmptyList,
				fmt.Sprintf("column %q: cannot infer element type from an empty list", name))
		}
		return types.ListOf(l.Elem(), l.Len()), nil

	case types.KindTrace:
		tr := v.AsTrace()
		return types.TraceOf(tr.Step(), tr.Item()), nil

	default:
		return types.ColumnType{}, errors.NewTypeError(errors.CodeInvalidValue,
			fmt.Sprintf("column %q: invalid value", name))
	}
}
