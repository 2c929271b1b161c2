/*Package aircon implements the setpoint mapper / gate (C6): it turns a
PID output into an integer remote setpoint, applies dead-band and
minimum-interval suppression, and drives the IR emitter through the
device's "<button_header><rtemp>" button convention.

Gate satisfies the same Controller interface shape the teacher's
generichttp/thermal package defines for HTTP-exposed thermal devices
(GetTemperatureSetpoint/SetTemperatureSetpoint/GetTemperature), without an
HTTP surface. No package in this module consumes Gate through that
interface; control.Loop holds a concrete *Gate.
*/
package aircon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hcit-labs/autoaircon/ircodec"
	"github.com/hcit-labs/autoaircon/util"
)

const (
	// RTempMin and RTempMax bound the integer remote setpoint.
	RTempMin = 20
	RTempMax = 30

	// SmallDelta is the dead-band width in °C; a desired setpoint closer
	// than this to the current one, arriving before interval_min has
	// elapsed, is suppressed unless the skip-count escape hatch fires.
	SmallDelta = 3.0

	// MaxSmallDeltaSkips bounds consecutive dead-band suppressions: on
	// the 5th consecutive small-delta request the gate emits anyway, so
	// a slowly drifting setpoint is never suppressed forever.
	MaxSmallDeltaSkips = 5

	// DefaultIntervalMin is the default minimum re-transmit interval.
	DefaultIntervalMin = 40 * time.Second

	buttonOff = "off"
)

// ErrSuppressed describes a declined emission. Nothing in this package
// returns or logs it: Apply reports suppression via its emitted=false
// return rather than an error, since
// dead-band/min-interval gating is expected steady-state behavior, not a
// fault.
var ErrSuppressed = errors.New("aircon: suppressed (dead-band or min-interval)")

// Emitter is the subset of iremit.Emitter's surface Gate depends on.
type Emitter interface {
	Emit(ctx context.Context, vec []ircodec.Pulse, repeat int) error
}

// Resolver is the subset of ircodec.Store's surface Gate depends on.
type Resolver interface {
	Resolve(dev, button string) ([]ircodec.Pulse, int, error)
}

// Gate owns the setpoint state of §3 and drives emission through an
// Emitter/Resolver pair.
type Gate struct {
	mu sync.Mutex

	store   Resolver
	emitter Emitter

	devName      string
	buttonHeader string

	rtemp               int
	ttemp               float64
	on                  bool
	lastTxTS            float64
	smallDeltaSkipCount int
	intervalMin         time.Duration

	lastMeasuredTemp float64
}

// New returns a Gate for the named device, using buttonHeader as the
// button-name prefix (button = buttonHeader + zero-padded two-digit
// rtemp, e.g. "on_hot_auto_25").
func New(store Resolver, emitter Emitter, devName, buttonHeader string) *Gate {
	return &Gate{
		store:        store,
		emitter:      emitter,
		devName:      devName,
		buttonHeader: buttonHeader,
		rtemp:        RTempMin,
		intervalMin:  DefaultIntervalMin,
	}
}

// SetIntervalMin overrides the default minimum re-transmit interval.
func (g *Gate) SetIntervalMin(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intervalMin = d
}

// IntervalMin returns the current minimum re-transmit interval.
func (g *Gate) IntervalMin() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.intervalMin
}

// GetTemperatureSetpoint implements the Controller interface shape,
// returning the target temperature (ttemp).
func (g *Gate) GetTemperatureSetpoint() (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ttemp, nil
}

// SetTemperatureSetpoint implements the Controller interface shape,
// setting the target temperature (ttemp). It does not touch the PID
// integrator, which pid.Controller owns.
func (g *Gate) SetTemperatureSetpoint(ttemp float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ttemp = ttemp
	return nil
}

// GetTemperature implements the Controller interface shape, returning the
// most recently observed measured temperature.
func (g *Gate) GetTemperature() (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastMeasuredTemp, nil
}

// ObserveTemperature records the latest measured temperature, used to
// answer the `temp` command independent of PID/gate state.
func (g *Gate) ObserveTemperature(temp float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastMeasuredTemp = temp
}

// RTemp returns the current integer remote setpoint.
func (g *Gate) RTemp() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rtemp
}

// IsOn reports whether the unit was last commanded on.
func (g *Gate) IsOn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.on
}

// Apply maps a raw PID output to an integer setpoint and, subject to
// dead-band/min-interval gating (bypassed when force is true), emits the
// corresponding button. now is the caller-supplied wall-clock time in
// seconds, so tests can drive it deterministically.
func (g *Gate) Apply(ctx context.Context, ttemp, pidOut float64, now float64, force bool) (desired int, emitted bool, err error) {
	desired = clampRTemp(util.RoundToInt(ttemp + pidOut))
	return g.applyDesired(ctx, desired, now, force)
}

// SetRTemp forces the remote setpoint to exactly rtemp (clamped to
// [RTempMin, RTempMax]), bypassing dead-band/min-interval gating. Used by
// the `rtemp <v>` command, which sets an explicit setpoint rather than one
// derived from ttemp and a PID output.
func (g *Gate) SetRTemp(ctx context.Context, rtemp int, now float64) (int, error) {
	desired, _, err := g.applyDesired(ctx, clampRTemp(rtemp), now, true)
	return desired, err
}

func clampRTemp(v int) int {
	if v < RTempMin {
		return RTempMin
	}
	if v > RTempMax {
		return RTempMax
	}
	return v
}

func (g *Gate) applyDesired(ctx context.Context, desired int, now float64, force bool) (_ int, emitted bool, err error) {
	g.mu.Lock()
	current := g.rtemp
	if !force && desired == current {
		g.mu.Unlock()
		return desired, false, nil
	}
	if !force && (now-g.lastTxTS) < g.intervalMin.Seconds() && absInt(current-desired) < SmallDelta {
		g.smallDeltaSkipCount++
		if g.smallDeltaSkipCount < MaxSmallDeltaSkips {
			g.mu.Unlock()
			return desired, false, nil
		}
	}
	g.smallDeltaSkipCount = 0
	g.mu.Unlock()

	button := fmt.Sprintf("%s%02d", g.buttonHeader, desired)
	if err := g.send(ctx, button); err != nil {
		return desired, false, err
	}

	g.mu.Lock()
	g.rtemp = desired
	g.lastTxTS = now
	g.on = true
	g.mu.Unlock()
	return desired, true, nil
}

// On re-emits the current setpoint with force=true, matching the "on"
// command's contract of always transmitting regardless of gating.
func (g *Gate) On(ctx context.Context, now float64) error {
	g.mu.Lock()
	rtemp := g.rtemp
	g.mu.Unlock()
	_, _, err := g.Apply(ctx, float64(rtemp), 0, now, true)
	return err
}

// Off sends the device's "off" button and marks the unit off.
func (g *Gate) Off(ctx context.Context) error {
	if err := g.send(ctx, buttonOff); err != nil {
		return err
	}
	g.mu.Lock()
	g.on = false
	g.mu.Unlock()
	return nil
}

func (g *Gate) send(ctx context.Context, button string) error {
	vec, repeat, err := g.store.Resolve(g.devName, button)
	if err != nil {
		return fmt.Errorf("aircon: resolve %s/%s: %w", g.devName, button, err)
	}
	if err := g.emitter.Emit(ctx, vec, repeat); err != nil {
		return fmt.Errorf("aircon: emit %s/%s: %w", g.devName, button, err)
	}
	return nil
}

func absInt(i int) float64 {
	if i < 0 {
		return float64(-i)
	}
	return float64(i)
}
