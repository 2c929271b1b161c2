package pid_test

import (
	"errors"
	"math"
	"testing"

	"github.com/hcit-labs/autoaircon/history"
	"github.com/hcit-labs/autoaircon/pid"
)

func TestComputeUnderdeterminedWithOneSample(t *testing.T) {
	h := history.New(60)
	h.Add(0, 25)

	c := pid.NewController(pid.Linear)
	_, err := c.Compute(h, 25, pid.Gains{Kp: 1, Ki: 0.01, Kd: 100, KiIMax: 5})
	if !errors.Is(err, pid.ErrUnderdetermined) {
		t.Errorf("expected ErrUnderdetermined, got %v", err)
	}
}

func TestComputeUnderdeterminedWithZeroDeltaTS(t *testing.T) {
	h := history.New(60)
	h.Add(0, 25).Add(0, 26) // same ts, non-decreasing is allowed (ts >= tail.ts)

	c := pid.NewController(pid.Linear)
	_, err := c.Compute(h, 25, pid.Gains{Kp: 1, Ki: 0.01, Kd: 100, KiIMax: 5})
	if !errors.Is(err, pid.ErrUnderdetermined) {
		t.Errorf("expected ErrUnderdetermined for zero Δts, got %v", err)
	}
}

// Steady state at target: ave == ttemp, temps constant, so P, I and D all
// collapse to zero and so does the combined output, matching the spec's
// literal steady-state scenario (gains 1.0/0.01/100.0/5.0, ttemp=25,
// samples (0,25) (10,25) (20,25) (30,25)).
func TestComputeSteadyStateIsZero(t *testing.T) {
	h := history.New(60)
	gains := pid.Gains{Kp: 1.0, Ki: 0.01, Kd: 100.0, KiIMax: 5.0}
	c := pid.NewController(pid.Linear)

	samples := []history.Sample{{TS: 0, Temp: 25}, {TS: 10, Temp: 25}, {TS: 20, Temp: 25}, {TS: 30, Temp: 25}}
	var terms pid.Terms
	var err error
	for _, s := range samples {
		h.Add(s.TS, s.Temp)
		if h.Len() < 2 {
			continue
		}
		terms, err = c.Compute(h, 25.0, gains)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if terms.PID != 0 {
			t.Errorf("expected pid=0 at steady state, got %+v", terms)
		}
	}
}

// Anti-windup: a persistent temperature/target gap large enough that the
// raw integral candidate exceeds ki_i_max on the very first step must be
// clamped, and the integrator must not commit the unclamped candidate, so
// the same clamp applies again on the next step.
func TestComputeAntiWindupClampsAndHoldsIntegrator(t *testing.T) {
	h := history.New(60)
	gains := pid.Gains{Kp: 0, Ki: 1.0, Kd: 0, KiIMax: 5.0}
	c := pid.NewController(pid.Linear)

	h.Add(0, 100).Add(10, 100)
	terms, err := c.Compute(h, 0, gains)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(terms.I) > gains.KiIMax+1e-9 {
		t.Fatalf("expected I contribution clamped to ki_i_max=%v, got %v", gains.KiIMax, terms.I)
	}
	if terms.I != gains.KiIMax {
		t.Errorf("expected I contribution at +ki_i_max after windup, got %v", terms.I)
	}

	h.Add(20, 100)
	terms2, err := c.Compute(h, 0, gains)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if terms2.I != gains.KiIMax {
		t.Errorf("expected integrator to remain held at the clamp on the next step, got %v", terms2.I)
	}
}

func TestResetIntegralZeroesAccumulatedState(t *testing.T) {
	h := history.New(60)
	gains := pid.Gains{Kp: 0, Ki: 1.0, Kd: 0, KiIMax: 1000}
	c := pid.NewController(pid.Linear)

	h.Add(0, 100).Add(10, 100)
	if _, err := c.Compute(h, 0, gains); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.ResetIntegral()

	h.Add(20, 100)
	terms, err := c.Compute(h, 100, gains) // ttemp == temp now, delta should be small
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(terms.I) > 1e-9 {
		t.Errorf("expected integrator to start fresh after reset, got %v", terms.I)
	}
}

func TestComputeKPDClampedMode(t *testing.T) {
	h := history.New(60)
	gains := pid.Gains{Kp: 10, Ki: 0, Kd: 0, KiIMax: 1000}
	c := pid.NewController(pid.KPDClamped)

	h.Add(0, 100).Add(10, 100)
	terms, err := c.Compute(h, 0, gains) // huge p term, must be clamped to +/- KPDMax
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(terms.PID) > pid.KPDMax+1e-9 {
		t.Errorf("expected combined output clamped to +/-%v, got %v", pid.KPDMax, terms.PID)
	}
}
