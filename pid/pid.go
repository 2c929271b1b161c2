// Package pid computes the P/I/D contributions and combined output used
// by the aircon gate, operating over a history.History and a set of
// tunable gains.
package pid

import (
	"errors"
	"math"

	"github.com/hcit-labs/autoaircon/history"
	"github.com/hcit-labs/autoaircon/util"
)

// Fixed internal scale factors applied to the raw P/I/D terms before the
// tunable gains.
const (
	scaleP = 1.0
	scaleI = 0.01
	scaleD = 100.0

	// KPDMax bounds the combined P+D contribution in the "kpd-clamped"
	// output mode, suppressing sudden swings from either term alone.
	KPDMax = 3.0
)

// Mode selects which formula combines the P/I/D terms into the final
// output.
type Mode int

const (
	// Linear computes pid = -kp*p - ki*i - kd*d.
	Linear Mode = iota

	// KPDClamped computes pid = -ki*i + clamp(-kp*p - kd*d, -KPDMax, KPDMax).
	KPDClamped
)

// ErrUnderdetermined is returned by Controller.Compute when the history
// is too short, or the elapsed time between samples is zero, to define a
// PID output.
var ErrUnderdetermined = errors.New("pid: underdetermined (insufficient history or zero Δt)")

// Gains holds the tunable proportional, integral, and derivative
// coefficients plus the integral windup bound.
type Gains struct {
	Kp      float64
	Ki      float64
	Kd      float64
	KiIMax  float64
}

// Terms reports the individual contributions of the most recent Compute
// call, used for status-sink publication (kp_p, ki_i, kd_d, pid).
type Terms struct {
	P   float64
	I   float64
	D   float64
	PID float64
}

// Controller holds the accumulated integral state across Compute calls.
type Controller struct {
	Mode Mode

	i     float64
	prevI float64
}

// NewController returns a Controller with zeroed integral state.
func NewController(mode Mode) *Controller {
	return &Controller{Mode: mode}
}

// ResetIntegral zeros the accumulated integral term; called on a ttemp
// change, a ki change, and on `on`.
func (c *Controller) ResetIntegral() {
	c.i = 0
	c.prevI = 0
}

// Compute derives the PID output for the given target temperature from
// the tail of h, returning ErrUnderdetermined if fewer than two samples
// are retained or the most recent two samples share a timestamp.
func (c *Controller) Compute(h *history.History, ttemp float64, g Gains) (Terms, error) {
	if h.Len() < 2 {
		return Terms{}, ErrUnderdetermined
	}
	cur, _ := h.Get(-1)
	prev, _ := h.Get(-2)
	first, _ := h.Get(0)

	dts := cur.TS - prev.TS
	if dts == 0 {
		return Terms{}, ErrUnderdetermined
	}

	ave := h.Average()
	p := (ave - ttemp) * scaleP

	deltaI := ((cur.Temp+prev.Temp)*dts/2)*scaleI - ttemp*dts*scaleI
	candidateI := c.i + deltaI

	kiI := g.Ki * candidateI
	var iTerm float64
	if g.KiIMax > 0 && math.Abs(kiI) > g.KiIMax {
		c.i = c.prevI
		iTerm = math.Copysign(g.KiIMax, kiI)
	} else {
		c.prevI = c.i
		c.i = candidateI
		iTerm = kiI
	}

	var d float64
	if cur.TS != first.TS {
		d = (cur.Temp - first.Temp) / (cur.TS - first.TS) * scaleD
	}

	kpP := g.Kp * p
	kdD := g.Kd * d

	var out float64
	switch c.Mode {
	case KPDClamped:
		out = -iTerm + util.Clamp(-kpP-kdD, -KPDMax, KPDMax)
	default:
		out = -kpP - iTerm - kdD
	}

	return Terms{P: kpP, I: iTerm, D: kdD, PID: out}, nil
}
