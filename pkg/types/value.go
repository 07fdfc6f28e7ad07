// Package types provides the core data types for datashed: dynamic values,
// rows, dataset schemas, traces, and dataset identifiers.
package types

import (
	"fmt"
	"strconv"
)

// Kind identifies the type of a Value or the scalar kind of a column.
type Kind uint8

const (
	// KindInvalid is the zero Kind; no valid Value has it.
	KindInvalid Kind = iota

	// KindInt64 is a 64-bit signed integer.
	KindInt64

	// KindFloat64 is a 64-bit float.
	KindFloat64

	// KindBool is a boolean.
	KindBool

	// KindString is a UTF-8 string.
	KindString

	// KindComplex128 is a complex number with float64 parts.
	KindComplex128

	// KindList is a fixed-size list of scalars.
	KindList

	// KindTrace is an x/y series with a step layout.
	KindTrace
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindComplex128:
		return "complex128"
	case KindList:
		return "list"
	case KindTrace:
		return "trace"
	default:
		return "invalid"
	}
}

// Scalar reports whether the kind is a plain scalar that can be a list element.
func (k Kind) Scalar() bool {
	switch k {
	case KindInt64, KindFloat64, KindBool, KindString:
		return true
	default:
		return false
	}
}

// Value is a tagged variant holding exactly one of the supported kinds.
// The zero Value has KindInvalid and is not a legal cell value.
type Value struct {
	kind Kind
	n    int64
	f    float64
	c    complex128
	s    string
	list *List
	tr   *Trace
}

// Int returns a Value holding a 64-bit integer.
func Int(v int64) Value { return Value{kind: KindInt64, n: v} }

// Float returns a Value holding a 64-bit float.
func Float(v float64) Value { return Value{kind: KindFloat64, f: v} }

// Bool returns a Value holding a boolean.
func Bool(v bool) Value {
	var n int64
	if v {
		n = 1
	}
	return Value{kind: KindBool, n: n}
}

// Str returns a Value holding a string.
func Str(v string) Value { return Value{kind: KindString, s: v} }

// Complex returns a Value holding a complex number.
func Complex(v complex128) Value { return Value{kind: KindComplex128, c: v} }

// ListValue returns a Value holding a fixed-size list.
func ListValue(l *List) Value { return Value{kind: KindList, list: l} }

// TraceValue returns a Value holding a trace.
func TraceValue(t *Trace) Value { return Value{kind: KindTrace, tr: t} }

// Kind returns the kind stored in the value.
func (v Value) Kind() Kind { return v.kind }

func (v Value) mustBe(k Kind, what string) {
	if v.kind != k {
		panic("types: " + what + " called on " + v.kind.String() + " value")
	}
}

// AsInt returns the integer payload. It panics if the kind is not KindInt64.
func (v Value) AsInt() int64 {
	v.mustBe(KindInt64, "AsInt")
	return v.n
}

// AsFloat returns the float payload. It panics if the kind is not KindFloat64.
func (v Value) AsFloat() float64 {
	v.mustBe(KindFloat64, "AsFloat")
	return v.f
}

// AsBool returns the boolean payload. It panics if the kind is not KindBool.
func (v Value) AsBool() bool {
	v.mustBe(KindBool, "AsBool")
	return v.n != 0
}

// AsString returns the string payload. It panics if the kind is not KindString.
func (v Value) AsString() string {
	v.mustBe(KindString, "AsString")
	return v.s
}

// AsComplex returns the complex payload. It panics if the kind is not KindComplex128.
func (v Value) AsComplex() complex128 {
	v.mustBe(KindComplex128, "AsComplex")
	return v.c
}

// AsList returns the list payload. It panics if the kind is not KindList.
func (v Value) AsList() *List {
	v.mustBe(KindList, "AsList")
	return v.list
}

// AsTrace returns the trace payload. It panics if the kind is not KindTrace.
func (v Value) AsTrace() *Trace {
	v.mustBe(KindTrace, "AsTrace")
	return v.tr
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt64, KindBool:
		return v.n == o.n
	case KindFloat64:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindComplex128:
		return v.c == o.c
	case KindList:
		return v.list.Equal(o.list)
	case KindTrace:
		return v.tr.Equal(o.tr)
	default:
		return true
	}
}

// String renders the value for logs and error messages.
func (v Value) String() string {
	switch v.kind {
	case KindInt64:
		return strconv.FormatInt(v.n, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.n != 0)
	case KindString:
		return strconv.Quote(v.s)
	case KindComplex128:
		return strconv.FormatComplex(v.c, 'g', -1, 128)
	case KindList:
		return fmt.Sprintf("list<%s>[%d]", v.list.Elem(), v.list.Len())
	case KindTrace:
		return fmt.Sprintf("trace<%s,%s>[%d]", v.tr.Step(), v.tr.Item(), v.tr.Len())
	default:
		return "<invalid>"
	}
}

// List is a homogeneous list of scalar values. The element kind is fixed at
// construction; a column's element count is frozen by schema inference.
type List struct {
	elem   Kind
	ints   []int64
	floats []float64
	bools  []bool
	strs   []string
}

// Ints returns a list of integers.
func Ints(vs []int64) *List { return &List{elem: KindInt64, ints: vs} }

// Floats returns a list of floats.
func Floats(vs []float64) *List { return &List{elem: KindFloat64, floats: vs} }

// Bools returns a list of booleans.
func Bools(vs []bool) *List { return &List{elem: KindBool, bools: vs} }

// Strs returns a list of strings.
func Strs(vs []string) *List { return &List{elem: KindString, strs: vs} }

// Elem returns the element kind.
func (l *List) Elem() Kind { return l.elem }

// Len returns the number of elements.
func (l *List) Len() int {
	switch l.elem {
	case KindInt64:
		return len(l.ints)
	case KindFloat64:
		return len(l.floats)
	case KindBool:
		return len(l.bools)
	case KindString:
		return len(l.strs)
	default:
		return 0
	}
}

// IntAt returns element i of an integer list.
func (l *List) IntAt(i int) int64 { return l.ints[i] }

// FloatAt returns element i of a float list.
func (l *List) FloatAt(i int) float64 { return l.floats[i] }

// BoolAt returns element i of a boolean list.
func (l *List) BoolAt(i int) bool { return l.bools[i] }

// StrAt returns element i of a string list.
func (l *List) StrAt(i int) string { return l.strs[i] }

// Equal reports whether two lists have the same element kind and contents.
func (l *List) Equal(o *List) bool {
	if l == nil || o == nil {
		return l == o
	}
	if l.elem != o.elem || l.Len() != o.Len() {
		return false
	}
	for i := 0; i < l.Len(); i++ {
		switch l.elem {
		case KindInt64:
			if l.ints[i] != o.ints[i] {
				return false
			}
		case KindFloat64:
			if l.floats[i] != o.floats[i] {
				return false
			}
		case KindBool:
			if l.bools[i] != o.bools[i] {
				return false
			}
		case KindString:
			if l.strs[i] != o.strs[i] {
				return false
			}
		}
	}
	return true
}
