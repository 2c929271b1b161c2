/*autoaircon is the process entrypoint: it loads configuration, wires the
IR codec, IR emitter, temperature subscriber, PID controller, setpoint
gate, status sink, and command server into a control.Loop, and runs it
until shutdown9999 or SIGINT/SIGTERM.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/theckman/yacspin"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/hcit-labs/autoaircon/aircon"
	"github.com/hcit-labs/autoaircon/cmdserver"
	"github.com/hcit-labs/autoaircon/config"
	"github.com/hcit-labs/autoaircon/control"
	"github.com/hcit-labs/autoaircon/ircodec"
	"github.com/hcit-labs/autoaircon/iremit"
	"github.com/hcit-labs/autoaircon/pid"
	"github.com/hcit-labs/autoaircon/statussink"
	"github.com/hcit-labs/autoaircon/tempfeed"
)

const banner = `
 __ _ _  _| |_ ___  __ _(_)_ _ __ ___ _ _
/ _` + "`" + ` | || |  _/ _ \/ _` + "`" + ` | | '_/ _/ _ \ ' \
\__,_|\_,_|\__\___/\__,_|_|_| \__\___/_||_|
`

func main() {
	var (
		mqttHost  = flag.String("mqtt-host", "localhost", "MQTT broker host:port")
		ttemp     = flag.Float64("ttemp", 26, "initial target temperature")
		pidMode   = flag.String("pid-mode", "kpd-clamped", "PID output mode: linear or kpd-clamped")
		httpPull  = flag.Bool("http-pull", false, "poll an HTTP temperature endpoint instead of MQTT")
		pollEvery = flag.Duration("poll-interval", 30*time.Second, "poll interval when -http-pull is set")
	)
	flag.Parse()

	color.New(color.FgCyan, color.Bold).Println(banner)

	if _, err := host.Init(); err != nil {
		log.Fatalf("autoaircon: periph host.Init: %v", err)
	}

	confDirs := config.DefaultDirs()
	cfg, confPath, err := config.LoadConfig(confDirs)
	if err != nil {
		log.Fatalf("autoaircon: load config: %v", err)
	}
	if confPath != "" {
		log.Printf("autoaircon: using config %s", confPath)
	} else {
		log.Printf("autoaircon: no config file found, using defaults")
	}

	paramFile, paramPath, err := config.LoadParams(confDirs)
	if err != nil {
		log.Fatalf("autoaircon: load PID params: %v", err)
	}
	gains := pid.Gains{Kp: paramFile.Kp, Ki: paramFile.Ki, Kd: paramFile.Kd, KiIMax: paramFile.KiIMax}

	mode := pid.KPDClamped
	if *pidMode == "linear" {
		mode = pid.Linear
	}

	pin := gpioreg.ByName(cfg.IR.Host)
	if pin == nil {
		log.Fatalf("autoaircon: no such GPIO pin %q", cfg.IR.Host)
	}
	emitter, err := iremit.NewEmitter(pin)
	if err != nil {
		log.Fatalf("autoaircon: init IR emitter: %v", err)
	}

	irconfDirs := config.IrconfDirs()
	store := ircodec.NewStore()
	if err := store.Reload(irconfDirs); err != nil {
		log.Printf("autoaircon: initial device load: %v", err)
	}
	watcher, err := config.WatchIrconf(irconfDirs, ircodec.Suffix, store)
	if err != nil {
		log.Printf("autoaircon: irconf watch disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	sink := statussink.New(fmt.Sprintf("%s:%d", cfg.Param.Host, cfg.Param.Port))
	defer sink.Close()

	var sub tempfeed.Subscriber
	if *httpPull {
		sub = tempfeed.NewHTTPPullSubscriber(*mqttHost, *pollEvery)
	} else {
		sub = tempfeed.NewMQTTSubscriber(*mqttHost, cfg.Temp.Topic, cfg.Temp.Token)
	}
	defer sub.Close()

	gate := aircon.New(store, emitter, cfg.Aircon.DevName, cfg.Aircon.ButtonHeader)
	if cfg.Aircon.IntervalMin > 0 {
		gate.SetIntervalMin(time.Duration(cfg.Aircon.IntervalMin * float64(time.Second)))
	}

	registry := cmdserver.NewRegistry()
	srv := cmdserver.NewServer(registry)

	loop := control.NewLoop(control.Config{
		Gate:         gate,
		PID:          pid.NewController(mode),
		Sink:         sink,
		Store:        store,
		Emitter:      emitter,
		Subscriber:   sub,
		Server:       srv,
		Params:       config.NewFileParamStore(paramPath, confDirs, paramFile),
		IrconfDirs:   irconfDirs,
		InitialTTemp: *ttemp,
		Gains:        gains,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("autoaircon: signal received, shutting down")
		cancel()
	}()

	addr := fmt.Sprintf(":%d", cfg.AutoAircon.Port)
	if err := bindWithSpinner(ctx, srv, addr); err != nil {
		log.Fatalf("autoaircon: bind %s: %v", addr, err)
	}

	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("autoaircon: control loop: %v", err)
	}
	log.Printf("autoaircon: shutdown complete")
}

// bindWithSpinner starts srv.ListenAndServe in the background, showing a
// spinner until the bind succeeds or ListenAndServe gives up after its
// bind retry budget; ListenAndServe
// itself keeps running (accepting connections) after this returns.
func bindWithSpinner(ctx context.Context, srv *cmdserver.Server, addr string) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[9],
		Suffix:          fmt.Sprintf(" binding command server on %s", addr),
		SuffixAutoColon: true,
	})
	if err == nil {
		spinner.Start()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx, addr) }()

	select {
	case err := <-errCh:
		if spinner != nil {
			spinner.StopFailMessage("bind failed")
			spinner.StopFail()
		}
		return err
	case <-srv.Ready():
		if spinner != nil {
			spinner.StopMessage("listening")
			spinner.Stop()
		}
		return nil
	}
}
