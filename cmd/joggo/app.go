package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/cjeanneret/JogGo/internal/config"
	"github.com/cjeanneret/JogGo/internal/debug"
	"github.com/cjeanneret/JogGo/internal/grbl"
	"github.com/cjeanneret/JogGo/internal/hw/gpio"
	"github.com/cjeanneret/JogGo/internal/hw/quadrature"
	"github.com/cjeanneret/JogGo/internal/hw/serial"
	"github.com/cjeanneret/JogGo/internal/logic/encoder"
	"github.com/cjeanneret/JogGo/internal/logic/motion"
	"github.com/cjeanneret/JogGo/internal/logic/mpg"
	"github.com/cjeanneret/JogGo/internal/logic/settings"
	"github.com/cjeanneret/JogGo/internal/web"
)

// encoderPollInterval is the quadrature sampling period.
const encoderPollInterval = time.Millisecond

// app owns the wired components.
type app struct {
	cfg         *config.Config
	store       *settings.Store
	gpio        gpio.Driver
	bank        *quadrature.Bank
	sim         *grbl.Simulator // nil with a real controller
	link        *grbl.Link
	engine      *mpg.Engine
	hook        mpg.ReportFunc
	broadcaster *web.StatusBroadcaster
}

// newApp builds every component from cfg. Encoder settings are read from
// cfg.SettingsFile; a missing file means factory defaults.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, broadcaster: web.NewStatusBroadcaster()}

	debug.Step(1, "Loading encoder settings")
	a.store = settings.NewStore(len(cfg.Encoders))
	a.store.SetAxes(cfg.Machine.Axes)
	if err := a.store.Load(cfg.SettingsFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		debug.Info("No settings file at %s, using defaults", cfg.SettingsFile)
	}
	encCfgs := a.store.Configs()

	reg, err := encoder.NewRegistry(encCfgs, cfg.Machine.Axes)
	if err != nil {
		return nil, fmt.Errorf("encoder bindings: %w", err)
	}
	strategy, err := motion.ForName(cfg.Machine.Strategy)
	if err != nil {
		return nil, err
	}

	debug.Step(2, "Initializing GPIO driver")
	a.gpio, err = gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	qcfgs := make([]quadrature.Config, len(cfg.Encoders))
	for i, e := range cfg.Encoders {
		qcfgs[i] = quadrature.Config{
			PinA:              e.PinA,
			PinB:              e.PinB,
			PinButton:         e.PinButton,
			StopTimeout:       cfg.StopTimeout(i),
			DoubleClickWindow: encCfgs[i].DoubleClick(),
		}
	}
	if a.bank, err = quadrature.NewBank(a.gpio, qcfgs); err != nil {
		a.gpio.Close()
		return nil, fmt.Errorf("init encoders: %w", err)
	}

	debug.Step(3, "Connecting to controller")
	var port io.ReadWriteCloser
	if cfg.Controller.Mock {
		a.sim = grbl.NewSimulator(cfg.Machine.Axes)
		port = a.sim
		debug.Info("Using simulated controller")
	} else {
		port, err = serial.Open(&serial.Config{
			Device:      cfg.Controller.Device,
			Baud:        cfg.Controller.Baud,
			ReadTimeout: cfg.Controller.ReadTimeoutMs,
		})
		if err != nil {
			a.gpio.Close()
			return nil, err
		}
		debug.Value("Controller device", cfg.Controller.Device)
	}
	a.link = grbl.NewLink(port, grbl.Options{
		QueueDepth:     cfg.Controller.QueueDepth,
		StatusInterval: cfg.StatusInterval(),
		RetryEOF:       !cfg.Controller.Mock,
	})

	debug.Step(4, "Starting handwheel engine")
	a.engine, err = mpg.New(mpg.Options{
		Registry:  reg,
		Submitter: a.link,
		Injector:  a.link,
		Machine:   a.link,
		Resetter:  a.bank,
		Notifier:  a.broadcaster,
		Strategy:  strategy,
	})
	if err != nil {
		port.Close()
		a.close()
		return nil, err
	}
	a.hook = a.engine.ChainReport(nil)

	a.link.OnMessage(a.broadcaster.Notify)
	a.link.OnStatus(func(grbl.Status) {
		if a.broadcaster.Clients() > 0 {
			a.publish()
		}
	})
	return a, nil
}

// writeReport renders a status report with the handwheel fields.
func (a *app) writeReport(w io.Writer, flags mpg.ReportFlags) {
	grbl.WriteReport(w, a.link.Status(), a.cfg.Machine.Axes, a.hook, flags)
}

// stateEvent is pushed to web clients after each controller status report.
type stateEvent struct {
	Report string     `json:"report"`
	Engine mpg.Status `json:"engine"`
}

func (a *app) publish() {
	var buf bytes.Buffer
	a.writeReport(&buf, mpg.ReportFlags{})
	if err := a.broadcaster.Publish(stateEvent{Report: buf.String(), Engine: a.engine.Snapshot()}); err != nil {
		debug.Error(err)
	}
}

func (a *app) persist() error {
	return a.store.Save(a.cfg.SettingsFile)
}

func (a *app) close() {
	if err := a.gpio.Close(); err != nil {
		debug.Error(fmt.Errorf("closing GPIO driver failed: %w", err))
	}
}

// run drives the controller link, the encoder producer and the control
// loop until ctx is cancelled or the link fails.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	linkErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		linkErr <- a.link.Run(ctx)
		cancel()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.bank.Run(ctx, encoderPollInterval, a.engine.Event)
	}()

	debug.Section("Control loop")
	ticker := time.NewTicker(a.cfg.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return <-linkErr
		case <-ticker.C:
			a.engine.ExecuteRealtime()
		}
	}
}
