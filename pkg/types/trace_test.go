package types

import (
	"errors"
	"testing"
)

func TestTrace_Simple(t *testing.T) {
	tr := SimpleTrace([]float64{1, 2, 3})
	if tr.Step() != StepSimple {
		t.Errorf("expected simple step, got %s", tr.Step())
	}
	if tr.Item() != KindFloat64 {
		t.Errorf("expected float64 items, got %s", tr.Item())
	}
	if tr.Len() != 3 {
		t.Errorf("expected length 3, got %d", tr.Len())
	}
}

func TestTrace_Fixed(t *testing.T) {
	tr := FixedTrace(0.1, 0.5, []float64{1, 2, 3})
	if tr.Step() != StepFixed {
		t.Errorf("expected fixed step, got %s", tr.Step())
	}
	if tr.X0() != 0.1 || tr.Dx() != 0.5 {
		t.Errorf("unexpected origin/spacing: %v %v", tr.X0(), tr.Dx())
	}
}

func TestTrace_Variable(t *testing.T) {
	tr, err := VariableTrace([]float64{0, 1, 4}, []float64{5, 6, 7})
	if err != nil {
		t.Fatalf("failed to build variable trace: %v", err)
	}
	if tr.Step() != StepVariable {
		t.Errorf("expected variable step, got %s", tr.Step())
	}
	if len(tr.Xs()) != 3 {
		t.Errorf("expected 3 x coordinates, got %d", len(tr.Xs()))
	}
}

func TestTrace_VariableLengthMismatch(t *testing.T) {
	_, err := VariableTrace([]float64{0, 1}, []float64{5})
	if !errors.Is(err, ErrTraceLengthMismatch) {
		t.Errorf("expected ErrTraceLengthMismatch, got %v", err)
	}

	_, err = VariableComplexTrace([]float64{0}, []complex128{1i, 2i})
	if !errors.Is(err, ErrTraceLengthMismatch) {
		t.Errorf("expected ErrTraceLengthMismatch, got %v", err)
	}
}

func TestTrace_ComplexSamples(t *testing.T) {
	tr := FixedComplexTrace(0, 1, []complex128{1 + 1i, 2 + 2i})
	if tr.Item() != KindComplex128 {
		t.Errorf("expected complex items, got %s", tr.Item())
	}
	if tr.Len() != 2 {
		t.Errorf("expected 2 samples, got %d", tr.Len())
	}
	if tr.Ys() != nil {
		t.Error("complex trace should have no real samples")
	}
}

func TestTrace_Equal(t *testing.T) {
	a := FixedTrace(0.1, 0.5, []float64{1, 2, 3})
	b := FixedTrace(0.1, 0.5, []float64{1, 2, 3})
	c := FixedTrace(0.2, 0.5, []float64{1, 2, 3})
	d := SimpleTrace([]float64{1, 2, 3})

	if !a.Equal(b) {
		t.Error("identical traces should be equal")
	}
	if a.Equal(c) {
		t.Error("traces with different origins should not be equal")
	}
	if a.Equal(d) {
		t.Error("traces with different layouts should not be equal")
	}
}

func TestParseTraceStep(t *testing.T) {
	for _, step := range []TraceStep{StepSimple, StepFixed, StepVariable} {
		parsed, err := ParseTraceStep(step.String())
		if err != nil {
			t.Fatalf("failed to parse %s: %v", step, err)
		}
		if parsed != step {
			t.Errorf("round-trip changed step: %s != %s", parsed, step)
		}
	}
	if _, err := ParseTraceStep("spiral"); !errors.Is(err, ErrUnknownTraceStep) {
		t.Errorf("expected ErrUnknownTraceStep, got %v", err)
	}
}
