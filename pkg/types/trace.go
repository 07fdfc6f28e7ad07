package types

// TraceStep identifies how x coordinates of a trace are represented.
type TraceStep uint8

const (
	// StepSimple carries y samples only; x is implicitly 0, 1, 2, ...
	StepSimple TraceStep = iota

	// StepFixed carries an origin and spacing: x[i] = x0 + i*step.
	StepFixed

	// StepVariable carries explicit x coordinates alongside y samples.
	StepVariable
)

// String returns the lowercase name of the step layout.
func (s TraceStep) String() string {
	switch s {
	case StepSimple:
		return "simple"
	case StepFixed:
		return "fixed"
	case StepVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// ParseTraceStep converts a step name back into a TraceStep.
func ParseTraceStep(s string) (TraceStep, error) {
	switch s {
	case "simple":
		return StepSimple, nil
	case "fixed":
		return StepFixed, nil
	case "variable":
		return StepVariable, nil
	default:
		return 0, ErrUnknownTraceStep
	}
}

// Trace is an x/y series. The y samples are either all float64 or all
// complex128; the item kind and step layout are frozen per column by
// schema inference.
type Trace struct {
	step TraceStep
	x0   float64
	dx   float64
	xs   []float64
	ys   []float64
	cs   []complex128
}

// SimpleTrace returns a trace with implicit x coordinates and real samples.
func SimpleTrace(ys []float64) *Trace {
	return &Trace{step: StepSimple, ys: ys}
}

// SimpleComplexTrace returns a trace with implicit x coordinates and complex samples.
func SimpleComplexTrace(cs []complex128) *Trace {
	return &Trace{step: StepSimple, cs: cs}
}

// FixedTrace returns a trace with x[i] = x0 + i*step and real samples.
func FixedTrace(x0, step float64, ys []float64) *Trace {
	return &Trace{step: StepFixed, x0: x0, dx: step, ys: ys}
}

// FixedComplexTrace returns a trace with x[i] = x0 + i*step and complex samples.
func FixedComplexTrace(x0, step float64, cs []complex128) *Trace {
	return &Trace{step: StepFixed, x0: x0, dx: step, cs: cs}
}

// VariableTrace returns a trace with explicit x coordinates and real samples.
// The x and y slices must have equal length.
func VariableTrace(xs, ys []float64) (*Trace, error) {
	if len(xs) != len(ys) {
		return nil, ErrTraceLengthMismatch
	}
	return &Trace{step: StepVariable, xs: xs, ys: ys}, nil
}

// VariableComplexTrace returns a trace with explicit x coordinates and
// complex samples. The x and y slices must have equal length.
func VariableComplexTrace(xs []float64, cs []complex128) (*Trace, error) {
	if len(xs) != len(cs) {
		return nil, ErrTraceLengthMismatch
	}
	return &Trace{step: StepVariable, xs: xs, cs: cs}, nil
}

// Step returns the step layout.
func (t *Trace) Step() TraceStep { return t.step }

// Item returns the sample kind: KindFloat64 or KindComplex128.
func (t *Trace) Item() Kind {
	if t.cs != nil {
		return KindComplex128
	}
	return KindFloat64
}

// Len returns the number of y samples.
func (t *Trace) Len() int {
	if t.cs != nil {
		return len(t.cs)
	}
	return len(t.ys)
}

// X0 returns the x origin of a fixed-step trace.
func (t *Trace) X0() float64 { return t.x0 }

// Dx returns the x spacing of a fixed-step trace.
func (t *Trace) Dx() float64 { return t.dx }

// Xs returns the explicit x coordinates of a variable-step trace.
func (t *Trace) Xs() []float64 { return t.xs }

// Ys returns the real samples, or nil for a complex trace.
func (t *Trace) Ys() []float64 { return t.ys }

// Cs returns the complex samples, or nil for a real trace.
func (t *Trace) Cs() []complex128 { return t.cs }

// Equal reports whether two traces have the same layout, coordinates and samples.
func (t *Trace) Equal(o *Trace) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.step != o.step || t.Item() != o.Item() || t.Len() != o.Len() {
		return false
	}
	switch t.step {
	case StepFixed:
		if t.x0 != o.x0 || t.dx != o.dx {
			return false
		}
	case StepVariable:
		for i := range t.xs {
			if t.xs[i] != o.xs[i] {
				return false
			}
		}
	}
	if t.cs != nil {
		for i := range t.cs {
			if t.cs[i] != o.cs[i] {
				return false
			}
		}
		return true
	}
	for i := range t.ys {
		if t.ys[i] != o.ys[i] {
			return false
		}
	}
	return true
}
