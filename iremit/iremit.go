/*Package iremit drives a GPIO-attached IR LED through a carrier-modulated
waveform built from a pulse/space vector resolved by ircodec.

Carrier generation follows the same accumulate-target-then-emit-cycle
algorithm as the reference implementation's WaveForm.append_carrier: for a
pulse of length L microseconds, round(L / waveLen) on/off cycles are emitted,
each cycle's on-time fixed at waveLen*duty and its off-time adjusted so the
cumulative cycle boundary tracks i*waveLen exactly, instead of drifting
from repeated rounding.
*/
package iremit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"periph.io/x/conn/v3/gpio"

	"github.com/hcit-labs/autoaircon/ircodec"
)

const (
	// DefaultFreqHz is the IR carrier frequency used absent device-specific tuning.
	DefaultFreqHz = 38000.0

	// DefaultDuty is the carrier on-time fraction.
	DefaultDuty = 1.0 / 3.0

	// MinVectorLen is the shortest pulse/space vector accepted by Emit;
	// anything shorter is almost certainly a misconfigured template.
	MinVectorLen = 6

	interRepeatGap = 7 * time.Millisecond

	// minEmitInterval paces successive Emit calls so a runaway caller
	// (e.g. a misbehaving command loop) cannot duty-cycle the LED driver
	// harder than the hardware is rated for. This is independent of
	// aircon.Gate's own domain-level interval_min gating, which throttles
	// setpoint changes, not raw hardware emissions.
	minEmitInterval = 200 * time.Millisecond
)

var (
	// ErrVectorTooShort is returned by Emit for malformed (too-short) vectors.
	ErrVectorTooShort = errors.New("iremit: pulse/space vector too short")

	// ErrBusy is returned by Emit when another emission is already in flight.
	ErrBusy = errors.New("iremit: emitter busy")

	// ErrRateLimited is returned by Emit when it is called faster than
	// minEmitInterval allows.
	ErrRateLimited = errors.New("iremit: emit rate exceeded")

	// ErrRestrictedPin is returned by NewEmitter for a pin that collides
	// with hardware PWM generation.
	ErrRestrictedPin = errors.New("iremit: pin collides with hardware PWM")
)

// hardwarePWMPins lists the Raspberry Pi BCM pins with dedicated PWM
// peripherals; the IR transmitter must not be attached to one of these,
// since its carrier is generated by bit-banging instead.
var hardwarePWMPins = map[string]bool{
	"GPIO12": true,
	"GPIO13": true,
	"GPIO18": true,
	"GPIO19": true,
}

type cycle struct {
	On, Off time.Duration
}

// Emitter owns exclusive access to one GPIO pin and transmits pulse/space
// vectors on it as a carrier-modulated waveform.
type Emitter struct {
	mu      sync.Mutex
	pin     gpio.PinOut
	freq    float64
	duty    float64
	limiter *rate.Limiter

	pulseCache map[int][]cycle
	spaceCache map[int]time.Duration
}

// NewEmitter returns an Emitter driving pin, rejecting pins that are
// wired to a hardware PWM peripheral.
func NewEmitter(pin gpio.PinOut) (*Emitter, error) {
	if hardwarePWMPins[pin.Name()] {
		return nil, fmt.Errorf("%w: %s", ErrRestrictedPin, pin.Name())
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("iremit: init pin %s: %w", pin.Name(), err)
	}
	return &Emitter{
		pin:        pin,
		freq:       DefaultFreqHz,
		duty:       DefaultDuty,
		limiter:    rate.NewLimiter(rate.Every(minEmitInterval), 1),
		pulseCache: make(map[int][]cycle),
		spaceCache: make(map[int]time.Duration),
	}, nil
}

// Emit transmits vec repeated `repeat` times with a short inter-repeat
// gap, blocking until the hardware is idle. Only one Emit may run at a
// time per Emitter; a concurrent call returns ErrBusy immediately rather
// than queuing.
func (e *Emitter) Emit(ctx context.Context, vec []ircodec.Pulse, repeat int) error {
	if len(vec) < MinVectorLen {
		return fmt.Errorf("%w: got %d, need >= %d", ErrVectorTooShort, len(vec), MinVectorLen)
	}
	if repeat < 1 {
		repeat = 1
	}
	if !e.mu.TryLock() {
		return ErrBusy
	}
	defer e.mu.Unlock()

	if !e.limiter.Allow() {
		return ErrRateLimited
	}

	for i := 0; i < repeat; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, p := range vec {
			if err := e.writePulse(p.PulseUS); err != nil {
				return err
			}
			e.writeSpace(p.SpaceUS)
		}
		if i < repeat-1 {
			select {
			case <-time.After(interRepeatGap):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return e.pin.Out(gpio.Low)
}

func (e *Emitter) writePulse(usec int) error {
	cycles, ok := e.pulseCache[usec]
	if !ok {
		cycles = carrierCycles(usec, e.freq, e.duty)
		e.pulseCache[usec] = cycles
	}
	for _, c := range cycles {
		if err := e.pin.Out(gpio.High); err != nil {
			return fmt.Errorf("iremit: pin high: %w", err)
		}
		time.Sleep(c.On)
		if err := e.pin.Out(gpio.Low); err != nil {
			return fmt.Errorf("iremit: pin low: %w", err)
		}
		if c.Off > 0 {
			time.Sleep(c.Off)
		}
	}
	return nil
}

func (e *Emitter) writeSpace(usec int) {
	dur, ok := e.spaceCache[usec]
	if !ok {
		dur = time.Duration(usec) * time.Microsecond
		e.spaceCache[usec] = dur
	}
	if dur > 0 {
		time.Sleep(dur)
	}
}

// carrierCycles computes the on/off durations of each carrier cycle
// filling a pulse of length usec microseconds at the given frequency and
// duty fraction. The cumulative boundary of cycle i is tracked against
// i*waveLen rather than re-rounding each cycle independently, so
// quantization error does not accumulate across the pulse.
func carrierCycles(usec int, freqHz, duty float64) []cycle {
	waveLenUs := 1e6 / freqHz
	waveN := int(math.Round(float64(usec) / waveLenUs))
	onUs := int(math.Round(waveLenUs * duty))

	cycles := make([]cycle, 0, waveN)
	curUs := 0
	for i := 0; i < waveN; i++ {
		targetUs := int(math.Round(float64(i+1) * waveLenUs))
		curUs += onUs
		offUs := targetUs - curUs
		if offUs < 0 {
			offUs = 0
		}
		curUs += offUs
		cycles = append(cycles, cycle{
			On:  time.Duration(onUs) * time.Microsecond,
			Off: time.Duration(offUs) * time.Microsecond,
		})
	}
	return cycles
}
