package schema

import (
	"fmt"

	"github.com/apache/arrow/go/v7/arrow"

	"github.com/datashed/datashed/internal/errors"
	"github.com/datashed/datashed/pkg/types"
)

// Arrow field metadata keys carrying extension type information, as defined
// by the Arrow columnar format.
const (
	ExtensionNameKey     = "ARROW:extension:name"
	ExtensionMetadataKey = "ARROW:extension:metadata"
)

// Extension names for the two non-primitive column types.
const (
	ComplexExtensionName = "datashed.complex"
	TraceExtensionName   = "datashed.trace"
)

// ToArrow materializes a dataset schema as an Arrow schema. The mapping is
// total over the closed column type enum, so it cannot fail.
func ToArrow(s *types.Schema) *arrow.Schema {
	fields := make([]arrow.Field, s.Len())
	for i, col := range s.Columns() {
		fields[i] = toArrowField(col)
	}
	return arrow.NewSchema(fields, nil)
}

func toArrowField(col types.Column) arrow.Field {
	ct := col.Type
	switch ct.Kind {
	case types.KindComplex128:
		return arrow.Field{
			Name:     col.Name,
			Type:     complexStorage(),
			Metadata: extensionMetadata(ComplexExtensionName, ""),
		}
	case types.KindList:
		return arrow.Field{
			Name: col.Name,
			Type: arrow.FixedSizeListOf(int32(ct.Width), scalarStorage(ct.Elem)),
		}
	case types.KindTrace:
		return arrow.Field{
			Name:     col.Name,
			Type:     traceStorage(ct.Step, ct.Elem),
			Metadata: extensionMetadata(TraceExtensionName, ct.Step.String()),
		}
	default:
		return arrow.Field{Name: col.Name, Type: scalarStorage(ct.Kind)}
	}
}

func scalarStorage(k types.Kind) arrow.DataType {
	switch k {
	case types.KindInt64:
		return arrow.PrimitiveTypes.Int64
	case types.KindFloat64:
		return arrow.PrimitiveTypes.Float64
	case types.KindBool:
		return arrow.FixedWidthTypes.Boolean
	case types.KindString:
		return arrow.BinaryTypes.String
	default:
		panic("schema: no scalar storage for kind " + k.String())
	}
}

// complexStorage is the Arrow storage type of a complex128 column:
// struct{real: float64, imag: float64}.
func complexStorage() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "real", Type: arrow.PrimitiveTypes.Float64},
		arrow.Field{Name: "imag", Type: arrow.PrimitiveTypes.Float64},
	)
}

func traceItemStorage(item types.Kind) arrow.DataType {
	if item == types.KindComplex128 {
		return complexStorage()
	}
	return arrow.PrimitiveTypes.Float64
}

// traceStorage is the Arrow storage type of a trace column for the given
// step layout and item kind.
func traceStorage(step types.TraceStep, item types.Kind) arrow.DataType {
	y := arrow.ListOf(traceItemStorage(item))
	switch step {
	case types.StepFixed:
		return arrow.StructOf(
			arrow.Field{Name: "x0", Type: arrow.PrimitiveTypes.Float64},
			arrow.Field{Name: "step", Type: arrow.PrimitiveTypes.Float64},
			arrow.Field{Name: "y", Type: y},
		)
	case types.StepVariable:
		return arrow.StructOf(
			arrow.Field{Name: "x", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
			arrow.Field{Name: "y", Type: y},
		)
	default:
		return y
	}
}

func extensionMetadata(name, meta string) arrow.Metadata {
	if meta == "" {
		return arrow.NewMetadata([]string{ExtensionNameKey}, []string{name})
	}
	return arrow.NewMetadata(
		[]string{ExtensionNameKey, ExtensionMetadataKey},
		[]string{name, meta},
	)
}

func metadataValue(md arrow.Metadata, key string) (string, bool) {
	keys := md.Keys()
	for i, k := range keys {
		if k == key {
			return md.Values()[i], true
		}
	}
	return "", false
}

// FromArrow recovers the dataset schema from an Arrow schema read off disk
// or off the wire. Unknown extension names and storage layouts that do not
// match the closed column type enum are rejected.
func FromArrow(as *arrow.Schema) (*types.Schema, error) {
	fields := as.Fields()
	cols := make([]types.Column, len(fields))
	for i, f := range fields {
		ct, err := fromArrowField(f)
		if err != nil {
			return nil, err
		}
		cols[i] = types.Column{Name: f.Name, Type: ct}
	}
	s, err := types.NewSchema(cols)
	if err != nil {
		return nil, errors.NewSchemaMismatch(errors.CodeKindMismatch, err.Error())
	}
	return s, nil
}

func fromArrowField(f arrow.Field) (types.ColumnType, error) {
	if extName, ok := metadataValue(f.Metadata, ExtensionNameKey); ok {
		switch extName {
		case ComplexExtensionName:
			if !isComplexStorage(f.Type) {
				return types.ColumnType{}, badField(f, "complex storage must be struct{real, imag}")
			}
			return types.Scalar(types.KindComplex128), nil

		case TraceExtensionName:
			stepName, _ := metadataValue(f.Metadata, ExtensionMetadataKey)
			step, err := types.ParseTraceStep(stepName)
			if err != nil {
				return types.ColumnType{}, badField(f, fmt.Sprintf("unknown trace layout %q", stepName))
			}
			item, err := traceItemFromStorage(f, step)
			if err != nil {
				return types.ColumnType{}, err
			}
			return types.TraceOf(step, item), nil

		default:
			return types.ColumnType{}, badField(f, fmt.Sprintf("unknown extension type %q", extName))
		}
	}

	switch dt := f.Type.(type) {
	case *arrow.Int64Type:
		return types.Scalar(types.KindInt64), nil
	case *arrow.Float64Type:
		return types.Scalar(types.KindFloat64), nil
	case *arrow.BooleanType:
		return types.Scalar(types.KindBool), nil
	case *arrow.StringType:
		return types.Scalar(types.KindString), nil
	case *arrow.FixedSizeListType:
		elem, err := scalarKindOf(dt.Elem())
		if err != nil {
			return types.ColumnType{}, badField(f, "list elements must be scalars")
		}
		return types.ListOf(elem, int(dt.Len())), nil
	default:
		return types.ColumnType{}, badField(f, fmt.Sprintf("unsupported storage type %s", f.Type))
	}
}

func scalarKindOf(dt arrow.DataType) (types.Kind, error) {
	switch dt.(type) {
	case *arrow.Int64Type:
		return types.KindInt64, nil
	case *arrow.Float64Type:
		return types.KindFloat64, nil
	case *arrow.BooleanType:
		return types.KindBool, nil
	case *arrow.StringType:
		return types.KindString, nil
	default:
		return types.KindInvalid, fmt.Errorf("not a scalar storage type: %s", dt)
	}
}

func isComplexStorage(dt arrow.DataType) bool {
	st, ok := dt.(*arrow.StructType)
	if !ok {
		return false
	}
	fields := st.Fields()
	if len(fields) != 2 {
		return false
	}
	return fields[0].Name == "real" && arrow.TypeEqual(fields[0].Type, arrow.PrimitiveTypes.Float64) &&
		fields[1].Name == "imag" && arrow.TypeEqual(fields[1].Type, arrow.PrimitiveTypes.Float64)
}

func traceItemFromStorage(f arrow.Field, step types.TraceStep) (types.Kind, error) {
	var y arrow.DataType
	switch step {
	case types.StepSimple:
		y = f.Type
	case types.StepFixed:
		st, ok := f.Type.(*arrow.StructType)
		if !ok || len(st.Fields()) != 3 {
			return types.KindInvalid, badField(f, "fixed trace storage must be struct{x0, step, y}")
		}
		y = st.Fields()[2].Type
	case types.StepVariable:
		st, ok := f.Type.(*arrow.StructType)
		if !ok || len(st.Fields()) != 2 {
			return types.KindInvalid, badField(f, "variable trace storage must be struct{x, y}")
		}
		y = st.Fields()[1].Type
	}

	lt, ok := y.(*arrow.ListType)
	if !ok {
		return types.KindInvalid, badField(f, "trace samples must be a list")
	}
	if isComplexStorage(lt.Elem()) {
		return types.KindComplex128, nil
	}
	if arrow.TypeEqual(lt.Elem(), arrow.PrimitiveTypes.Float64) {
		return types.KindFloat64, nil
	}
	return types.KindInvalid, badField(f, "trace samples must be float64 or complex")
}

func badField(f arrow.Field, msg string) *errors.DatashedError {
	return errors.NewSchemaMismatch(errors.CodeKindMismatch,
		fmt.Sprintf("column %q: %s", f.Name, msg))
}
