/*Package control wires the PID controller, the setpoint gate, the
temperature feed, and the command server into the single-threaded
control loop of the system: every sample, every domain command, and
shutdown all flow through one select loop, so no state in pid.Controller
or aircon.Gate is ever touched from more than one goroutine.
*/
package control

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hcit-labs/autoaircon/aircon"
	"github.com/hcit-labs/autoaircon/cmdserver"
	"github.com/hcit-labs/autoaircon/history"
	"github.com/hcit-labs/autoaircon/ircodec"
	"github.com/hcit-labs/autoaircon/pid"
	"github.com/hcit-labs/autoaircon/statussink"
	"github.com/hcit-labs/autoaircon/tempfeed"
)

// HistoryWindowSeconds is the sliding window length fed to the PID's
// derivative and integral terms.
const HistoryWindowSeconds = 45.0

// ParamStore persists PID gain changes across restarts. A nil ParamStore
// (DefaultParamStore) is a no-op; config.FileParamStore provides the
// real write-then-rename persistence.
type ParamStore interface {
	Save(pid.Gains) error
}

type noopParamStore struct{}

func (noopParamStore) Save(pid.Gains) error { return nil }

// DefaultParamStore is used when Loop is constructed without an explicit
// ParamStore.
var DefaultParamStore ParamStore = noopParamStore{}

// Emitter is the subset of iremit.Emitter's surface the irsend command
// needs for devices other than the aircon gate's own (e.g. diagnostics
// against a second remote).
type Emitter interface {
	Emit(ctx context.Context, vec []ircodec.Pulse, repeat int) error
}

// Loop is the single-threaded control loop: PID compute, setpoint gate,
// and command dispatch all happen on the goroutine that calls Run.
type Loop struct {
	gate    *aircon.Gate
	pidCtl  *pid.Controller
	hist    *history.History
	sink    *statussink.Client
	store   *ircodec.Store
	emitter Emitter
	sub     tempfeed.Subscriber
	srv     *cmdserver.Server
	params  ParamStore

	irconfDirs []string

	mu       sync.Mutex
	gains    pid.Gains
	ttemp    float64
	lastTemp float64
	haveTemp bool
}

// Config bundles the collaborators Loop needs; all fields are required
// except Params and IrconfDirs.
type Config struct {
	Gate       *aircon.Gate
	PID        *pid.Controller
	Sink       *statussink.Client
	Store      *ircodec.Store
	Emitter    Emitter
	Subscriber tempfeed.Subscriber
	Server     *cmdserver.Server
	Params     ParamStore
	IrconfDirs []string

	InitialTTemp float64
	Gains        pid.Gains
}

// NewLoop constructs a Loop and registers its domain commands against
// cfg.Server's registry.
func NewLoop(cfg Config) *Loop {
	params := cfg.Params
	if params == nil {
		params = DefaultParamStore
	}
	l := &Loop{
		gate:       cfg.Gate,
		pidCtl:     cfg.PID,
		hist:       history.New(HistoryWindowSeconds),
		sink:       cfg.Sink,
		store:      cfg.Store,
		emitter:    cfg.Emitter,
		sub:        cfg.Subscriber,
		srv:        cfg.Server,
		params:     params,
		irconfDirs: cfg.IrconfDirs,
		gains:      cfg.Gains,
		ttemp:      cfg.InitialTTemp,
	}
	l.registerCommands(cfg.Server)
	return l
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Run starts the subscriber and processes samples and deferred commands
// until ctx is cancelled, a shutdown9999 command is dispatched, or the
// subscriber reports end of stream.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.sub.Start(); err != nil {
		return fmt.Errorf("control: start subscriber: %w", err)
	}

	if err := l.gate.On(ctx, nowSeconds()); err != nil {
		log.Printf("control: initial on: %v", err)
	}
	l.publishFull()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, ok := <-l.sub.Samples():
			if !ok {
				return nil
			}
			if d.EndOfStream {
				log.Printf("control: end of stream")
				return nil
			}
			l.handleSample(ctx, d.Sample)

		case j, ok := <-l.srv.Queue():
			if !ok {
				return nil
			}
			l.srv.Dispatch(j)
			if len(j.Args) > 0 && j.Args[0] == cmdserver.ShutdownCmdName {
				log.Printf("control: shutdown9999 dispatched")
				return nil
			}
		}
	}
}

func (l *Loop) handleSample(ctx context.Context, s history.Sample) {
	s.Temp = roundTo(s.Temp, 2)
	l.hist.Add(s.TS, s.Temp)

	l.mu.Lock()
	l.lastTemp = s.Temp
	l.haveTemp = true
	ttemp := l.ttemp
	gains := l.gains
	l.mu.Unlock()

	l.gate.ObserveTemperature(s.Temp)
	l.publishUpdate(statussink.Update{
		Active: boolPtr(l.gate.IsOn()),
		Temp:   float64Ptr(s.Temp),
	})

	if !l.gate.IsOn() {
		return
	}

	terms, err := l.pidCtl.Compute(l.hist, ttemp, gains)
	if err != nil {
		return
	}

	l.publishUpdate(statussink.Update{
		PID: float64Ptr(roundTo(terms.PID, 2)),
		KpP: float64Ptr(terms.P),
		KiI: float64Ptr(terms.I),
		KdD: float64Ptr(terms.D),
	})

	desired, emitted, err := l.gate.Apply(ctx, ttemp, terms.PID, nowSeconds(), false)
	if err != nil {
		log.Printf("control: apply setpoint: %v", err)
		return
	}
	if emitted {
		l.publishUpdate(statussink.Update{Rtemp: float64Ptr(float64(desired))})
	}
}

func (l *Loop) publishFull() {
	l.mu.Lock()
	g := l.gains
	ttemp := l.ttemp
	l.mu.Unlock()

	l.publishUpdate(statussink.Update{
		Active:      boolPtr(l.gate.IsOn()),
		Ttemp:       float64Ptr(ttemp),
		Rtemp:       float64Ptr(float64(l.gate.RTemp())),
		Kp:          float64Ptr(g.Kp),
		Ki:          float64Ptr(g.Ki),
		Kd:          float64Ptr(g.Kd),
		IntervalMin: intPtr(int(l.gate.IntervalMin().Seconds())),
	})
}

// publishUpdate sends only the fields in u to the status sink; it does
// not deduplicate against the last publish (statussink.Client.Publish
// already treats a fully-nil Update as a no-op, and callers here only
// ever set the fields that actually changed).
func (l *Loop) publishUpdate(u statussink.Update) {
	l.sink.Publish(u)
}

func roundTo(v float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	return float64(int(v*scale+sign(v)*0.5)) / scale
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func boolPtr(b bool) *bool          { return &b }
func float64Ptr(f float64) *float64 { return &f }
func intPtr(i int) *int             { return &i }
