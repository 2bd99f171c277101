package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/cjeanneret/JogGo/internal/config"
	"github.com/cjeanneret/JogGo/internal/console"
	"github.com/cjeanneret/JogGo/internal/debug"
	"github.com/cjeanneret/JogGo/internal/logic/mpg"
	"github.com/cjeanneret/JogGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{}
	flag.Var(webPort, "web", "start web server; -web= uses web.listen from config, -web 8980 for a custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	debugLevel := flag.Int("debug", -1, "override debug level 0-4")
	mock := flag.Bool("mock", false, "use the simulated controller and mock GPIO")
	withConsole := flag.Bool("console", false, "read operator commands from stdin")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := applyFlags(cfg, *debugLevel, *mock, webPort); err != nil {
		log.Fatalf("invalid flag: %v", err)
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", debug.Level())
	debug.Value("Axes", cfg.Machine.Axes)
	debug.Value("Strategy", cfg.Machine.Strategy)
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)

	a, err := newApp(cfg)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer a.close()

	var wg sync.WaitGroup
	if webPort.enabled {
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(a.broadcaster)))
		srv := web.NewServer(cfg.Web.Listen, web.Deps{
			Broadcaster: a.broadcaster,
			State:       a.engine,
			Settings:    a.store,
			Report: func(w io.Writer) {
				a.writeReport(w, mpg.ReportFlags{Encoder: true})
			},
			Persist: a.persist,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.Printf("web server: %v", err)
				cancel()
			}
		}()
	}

	if *withConsole {
		con := &console.Console{
			Engine:   a.engine,
			Settings: a.store,
			Report: func(w io.Writer) {
				a.writeReport(w, mpg.ReportFlags{Encoder: true})
			},
			Persist: a.persist,
		}
		if a.sim != nil {
			con.SetMachineState = a.sim.SetState
		}
		go func() {
			if err := con.Run(ctx, os.Stdin, os.Stdout); err != nil {
				log.Printf("console: %v", err)
			}
			cancel()
		}()
	}

	if err := a.run(ctx); err != nil {
		log.Printf("controller link: %v", err)
	}
	cancel()
	wg.Wait()
}

// applyFlags applies command line overrides to cfg.
func applyFlags(cfg *config.Config, debugLevel int, mock bool, webPort *webPortFlag) error {
	if debugLevel >= 0 {
		if debugLevel > 4 {
			return fmt.Errorf("debug level must be between 0 and 4, got %d", debugLevel)
		}
		cfg.Defaults.DebugLevel = debugLevel
	}
	if mock {
		cfg.Controller.Mock = true
		cfg.Defaults.MockGPIO = true
	}
	if webPort != nil && webPort.val > 0 {
		cfg.Web.Listen = fmt.Sprintf(":%d", webPort.val)
	}
	return nil
}

// webPortFlag implements flag.Value for -web: absent = disabled, -web= keeps
// the configured address, -web 8980 listens on port 8980.
type webPortFlag struct {
	enabled bool
	val     int
}

func (w *webPortFlag) String() string {
	if !w.enabled {
		return "off"
	}
	if w.val == 0 {
		return "config"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.enabled = true
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.enabled, w.val = true, v
	return nil
}
