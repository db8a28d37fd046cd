package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deskwatch/deskwatch/internal/config"
	"github.com/deskwatch/deskwatch/internal/daemon"
	"github.com/deskwatch/deskwatch/internal/logging"
	"github.com/deskwatch/deskwatch/internal/metrics"
)

// shutdownTimeout bounds graceful shutdown after SIGINT/SIGTERM.
const shutdownTimeout = 5 * time.Second

func main() {
	// 1. Define ALL flags at the top
	cfgFile := flag.String("config", "", "Path to YAML config file")
	envFile := flag.String("env-file", ".env", "Path to a .env file (ignored when missing)")
	reconnect := flag.Duration("reconnect-delay", 0, "Fixed delay before reconnecting a dropped realtime channel (default 3s)")
	listAlerts := flag.Bool("list-alerts", false, "log in, print the alert list and exit")
	dryRun := flag.Bool("dry-run", false, "log alert toasts instead of delivering them")

	// 2. Parse ONCE
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("failed loading env file: %v", err)
	}

	cfg, err := loadConfig(*cfgFile)
	if err != nil {
		log.Fatalf("%v", err)
	}

	// CLI flags have highest precedence (override env/file/defaults)
	if flagSet("reconnect-delay") {
		cfg.ReconnectDelay = *reconnect
	}
	if *dryRun {
		cfg.DryRun = true
	}

	cleanup := initLogging(cfg)
	defer cleanup()

	ctx := context.Background()
	if *listAlerts {
		if err := printAlerts(ctx, cfg, os.Stdout); err != nil {
			logging.Get().Fatal().Err(err).Msg("listing alerts failed")
		}
		return
	}

	startDaemonAndWait(ctx, cfg)
}

// loadConfig layers defaults, the optional config file and the environment.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	// load from file if provided (overrides defaults)
	if path != "" {
		c, err := config.LoadConfigFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed loading config: %w", err)
		}
		cfg = c
	}
	// apply env var overrides (overrides file/defaults)
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment configuration: %w", err)
	}
	return cfg, nil
}

// flagSet reports whether name was given on the command line.
func flagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// initLogging initializes log subsystem from config and returns a cleanup func
func initLogging(cfg *config.Config) func() {
	cleanup, err := logging.Init(cfg.LogFile, cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	return cleanup
}

// statusMux serves metrics, the JSON status snapshot and the alert inbox endpoints.
func statusMux(d *daemon.Daemon) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PromHandler())
	mux.Handle("/status", metrics.JSONHandler())
	mux.Handle("/alerts", d.RecentHandler())
	mux.Handle("/alerts/ack", d.AckHandler())
	return mux
}

// initMetricsAndInflux starts the optional status server and Influx pusher.
// The returned func shuts the server down.
func initMetricsAndInflux(ctx context.Context, cfg *config.Config, d *daemon.Daemon) func(context.Context) {
	var srv *http.Server
	if cfg.MetricsEnabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           statusMux(d),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logging.Get().Info().Str("addr", srv.Addr).Msg("starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Get().Error().Err(err).Msg("metrics server failed")
			}
		}()
	}
	if cfg.InfluxURL != "" {
		go metrics.StartInfluxPusher(ctx, cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, cfg.InfluxInterval)
	}
	return func(shutdownCtx context.Context) {
		if srv != nil {
			_ = srv.Shutdown(shutdownCtx)
		}
	}
}

// startDaemonAndWait starts the daemon and waits for a shutdown signal
func startDaemonAndWait(ctx context.Context, cfg *config.Config) {
	// listen before Start so a signal during a slow login or dial still logs out
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	d := daemon.New(cfg)
	stopStatus := initMetricsAndInflux(runCtx, cfg, d)

	if err := runUntilSignal(runCtx, cancelRun, d, sig); err != nil {
		logging.Get().Fatal().Err(err).Msg("failed to start session")
	}
	statusCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	stopStatus(statusCtx)
}

// lifecycle is the part of the daemon runUntilSignal drives.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// runUntilSignal starts d and stops it once sig fires. A signal that arrives
// while Start is still running cancels it first. A Start error is returned
// without stopping.
func runUntilSignal(ctx context.Context, cancel context.CancelFunc, d lifecycle, sig <-chan os.Signal) error {
	started := make(chan error, 1)
	go func() { started <- d.Start(ctx) }()

	select {
	case err := <-started:
		if err != nil {
			return err
		}
		<-sig
	case <-sig:
		logging.Get().Info().Msg("shutdown signal received during startup")
		cancel()
		select {
		case <-started:
		case <-time.After(shutdownTimeout):
			logging.Get().Warn().Msg("startup did not return after cancel")
		}
	}

	// Graceful shutdown: give up to 5 seconds for logout and pending toasts
	logging.Get().Info().Msg("shutdown signal received, closing session")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	d.Stop(shutdownCtx)
	cancel()
	return nil
}
