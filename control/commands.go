package control

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/hcit-labs/autoaircon/cmdserver"
	"github.com/hcit-labs/autoaircon/statussink"
)

// registerCommands adds the domain commands to srv's registry. Every
// handler here is deferred-only (FuncI == nil), matching
// AutoAirconCmd.__init__'s add_cmd(..., None, cmd_q_*, ...) calls: client
// connections never touch controller state directly, only Loop.Run's own
// goroutine does, via Server.Dispatch.
func (l *Loop) registerCommands(srv *cmdserver.Server) {
	reg := srv.Registry()

	reg.Register("on", nil, l.cmdOn, "on: enable auto control")
	reg.Register("off", nil, l.cmdOff, "off: disable auto control")
	reg.Register("kp", nil, l.cmdKp, "kp [v]: get or set proportional gain")
	reg.Register("ki", nil, l.cmdKi, "ki [v]: get or set integral gain")
	reg.Register("kd", nil, l.cmdKd, "kd [v]: get or set derivative gain")
	reg.Register("temp", nil, l.cmdTemp, "temp: get current measured temperature")
	reg.Register("rtemp", nil, l.cmdRtemp, "rtemp [v]: get or force-set the remote setpoint")
	reg.Register("ttemp", nil, l.cmdTtemp, "ttemp [v]: get or set the target temperature")
	reg.Register("interval_min", nil, l.cmdIntervalMin, "interval_min [v]: get or set the minimum re-transmit interval (s)")
	reg.Register("irsend", nil, l.cmdIrsend, "irsend <dev> [button|@sleep sec|@load]: drive the IR emitter directly")
}

func (l *Loop) cmdOn(args []string) (cmdserver.RC, any) {
	l.mu.Lock()
	ttemp := l.ttemp
	l.mu.Unlock()

	l.pidCtl.ResetIntegral()
	desired, _, err := l.gate.Apply(context.Background(), ttemp, 0, nowSeconds(), true)
	if err != nil {
		return cmdserver.RCNg, err.Error()
	}
	l.publishUpdate(statussink.Update{
		Active: boolPtr(l.gate.IsOn()),
		Rtemp:  float64Ptr(float64(desired)),
	})
	return cmdserver.RCOk, nil
}

func (l *Loop) cmdOff(args []string) (cmdserver.RC, any) {
	if err := l.gate.Off(context.Background()); err != nil {
		return cmdserver.RCNg, err.Error()
	}
	l.publishUpdate(statussink.Update{Active: boolPtr(l.gate.IsOn())})
	return cmdserver.RCOk, nil
}

func (l *Loop) cmdKp(args []string) (cmdserver.RC, any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(args) == 1 {
		return cmdserver.RCOk, l.gains.Kp
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return cmdserver.RCNg, fmt.Sprintf("%s: %v", args[0], err)
	}
	l.gains.Kp = v
	l.saveParamsLocked()
	l.publishUpdate(statussink.Update{Kp: float64Ptr(v)})
	return cmdserver.RCOk, v
}

func (l *Loop) cmdKi(args []string) (cmdserver.RC, any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(args) == 1 {
		return cmdserver.RCOk, l.gains.Ki
	}
	// The reference implementation resets the integrator unconditionally
	// whenever ki is given an argument, even if parsing that argument
	// later fails; kept for fidelity.
	l.pidCtl.ResetIntegral()
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return cmdserver.RCNg, fmt.Sprintf("%s: %v", args[0], err)
	}
	l.gains.Ki = v
	l.saveParamsLocked()
	l.publishUpdate(statussink.Update{Ki: float64Ptr(v)})
	return cmdserver.RCOk, v
}

func (l *Loop) cmdKd(args []string) (cmdserver.RC, any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(args) == 1 {
		return cmdserver.RCOk, l.gains.Kd
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return cmdserver.RCNg, fmt.Sprintf("%s: %v", args[0], err)
	}
	l.gains.Kd = v
	l.saveParamsLocked()
	l.publishUpdate(statussink.Update{Kd: float64Ptr(v)})
	return cmdserver.RCOk, v
}

func (l *Loop) cmdTemp(args []string) (cmdserver.RC, any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.haveTemp {
		return cmdserver.RCNg, "no temp data"
	}
	return cmdserver.RCOk, l.lastTemp
}

func (l *Loop) cmdRtemp(args []string) (cmdserver.RC, any) {
	if len(args) == 1 {
		return cmdserver.RCOk, fmt.Sprintf("rtemp=%d", l.gate.RTemp())
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return cmdserver.RCNg, fmt.Sprintf("%s: %v", args[0], err)
	}
	desired, err := l.gate.SetRTemp(context.Background(), int(v+0.5), nowSeconds())
	if err != nil {
		return cmdserver.RCNg, err.Error()
	}
	l.publishUpdate(statussink.Update{Rtemp: float64Ptr(float64(desired))})
	return cmdserver.RCOk, fmt.Sprintf("rtemp=%d", desired)
}

func (l *Loop) cmdTtemp(args []string) (cmdserver.RC, any) {
	l.mu.Lock()
	if len(args) == 1 {
		ttemp := l.ttemp
		l.mu.Unlock()
		return cmdserver.RCOk, ttemp
	}
	l.mu.Unlock()

	l.pidCtl.ResetIntegral()

	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return cmdserver.RCNg, fmt.Sprintf("%s: %v", args[0], err)
	}

	l.mu.Lock()
	l.ttemp = v
	l.mu.Unlock()

	l.publishUpdate(statussink.Update{Ttemp: float64Ptr(v)})
	return cmdserver.RCOk, v
}

func (l *Loop) cmdIntervalMin(args []string) (cmdserver.RC, any) {
	if len(args) == 1 {
		return cmdserver.RCOk, l.gate.IntervalMin().Seconds()
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return cmdserver.RCNg, fmt.Sprintf("%s: %v", args[0], err)
	}
	l.gate.SetIntervalMin(time.Duration(v * float64(time.Second)))
	l.publishUpdate(statussink.Update{IntervalMin: intPtr(int(v))})
	return cmdserver.RCOk, v
}

func (l *Loop) cmdIrsend(args []string) (cmdserver.RC, any) {
	if len(args) < 2 {
		return cmdserver.RCNg, args[0] + ": missing <dev>"
	}
	dev := args[1]

	if len(args) >= 3 && args[2] == "@load" {
		if err := l.store.Reload(l.irconfDirs); err != nil {
			return cmdserver.RCNg, err.Error()
		}
		return cmdserver.RCOk, "reloaded"
	}

	if len(args) >= 4 && args[2] == "@sleep" {
		secs, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return cmdserver.RCNg, err.Error()
		}
		time.Sleep(time.Duration(secs * float64(time.Second)))
		return cmdserver.RCOk, fmt.Sprintf("slept %gs", secs)
	}

	button := "on"
	if len(args) >= 3 {
		button = args[2]
	}

	vec, repeat, err := l.store.Resolve(dev, button)
	if err != nil {
		return cmdserver.RCNg, err.Error()
	}
	if err := l.emitter.Emit(context.Background(), vec, repeat); err != nil {
		return cmdserver.RCNg, err.Error()
	}
	return cmdserver.RCOk, strings.Join([]string{dev, button}, "/")
}

func (l *Loop) saveParamsLocked() {
	// l.mu is already held by the caller; Save errors are logged here and
	// are otherwise non-fatal to the command.
	if err := l.params.Save(l.gains); err != nil {
		log.Printf("control: save params: %v", err)
	}
}
