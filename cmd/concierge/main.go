// Concierge - greets registered visitors by face and takes guest requests
// by voice.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-concierge/internal/config"
	"github.com/teslashibe/go-concierge/internal/log"
	"github.com/teslashibe/go-concierge/pkg/concierge"
	"github.com/teslashibe/go-concierge/pkg/debug"
	"github.com/teslashibe/go-concierge/pkg/web"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}

	log.Init(cfg.Log.Level)
	logger := log.L()

	var dash *web.Server
	if cfg.Web.Enabled {
		dash = web.NewServer(cfg.Web.Port, web.WithLogger(logger))
		logger = slog.New(dash.LogHandler(logger.Handler(), slog.LevelInfo))
		slog.SetDefault(logger)
	}

	opts := []concierge.Option{concierge.WithLogger(logger)}
	if dash != nil {
		opts = append(opts, concierge.WithDashboard(dash))
	}
	app, err := concierge.New(cfg, opts...)
	if err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}
	if err := app.Init(); err != nil {
		app.Shutdown()
		stdlog.Fatalf("❌ Initialization failed: %v", err)
	}
	defer app.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	if dash != nil {
		g.Go(func() error {
			// The kiosk keeps running without its dashboard.
			if err := dash.Run(runCtx); err != nil {
				logger.Error("dashboard stopped", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer stop()
		return app.Run(runCtx)
	})

	if err := g.Wait(); err != nil {
		app.Shutdown()
		stdlog.Fatalf("❌ Runtime error: %v", err)
	}
	fmt.Println("👋 Bye")
}

// loadConfig layers the config file, the environment and flags.
func loadConfig() (*config.Config, error) {
	configPath := flag.String("config", "", "Config file (default $"+config.EnvConfigPath+" or "+config.DefaultPath+")")
	camera := flag.String("camera", "", "Capture device index, file or stream URL")
	debugFlag := flag.Bool("debug", false, "Enable verbose debug logging")
	debugDetection := flag.Bool("debug-detection", false, "Log every detected region")
	once := flag.Bool("once", false, "Exit after the first resolved face")
	window := flag.Bool("window", true, "Show the operator window (q quits)")
	webPort := flag.Int("web-port", 0, "Dashboard port")
	noWeb := flag.Bool("no-web", false, "Disable the dashboard")
	flag.Parse()

	path, explicit := config.Path(*configPath)
	cfg, err := config.LoadOrDefault(path, explicit)
	if err != nil {
		return nil, err
	}
	if err := cfg.LoadEnv(); err != nil {
		if errors.Is(err, config.ErrNoCredentials) {
			return nil, fmt.Errorf("%w (face comparison needs them)", err)
		}
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "camera":
			cfg.Camera.Device = *camera
		case "window":
			cfg.Camera.Window = *window
		case "web-port":
			cfg.Web.Port = *webPort
		}
	})
	if *once {
		cfg.Once = true
	}
	if *noWeb {
		cfg.Web.Enabled = false
	}
	if *debugFlag {
		cfg.Log.Level = "debug"
		debug.Enabled = true
	}
	debug.Detection = *debugDetection

	return cfg, config.Validate(cfg)
}
