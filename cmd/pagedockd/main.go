// Package main provides pagedockd, the browser session daemon. It exposes
// a small HTTP API for driving headless Chromium instances: one browser per
// session, actions serialized per session, idle sessions reclaimed
// automatically.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/pagedock/pkg/actions"
	"github.com/entrhq/pagedock/pkg/config"
	"github.com/entrhq/pagedock/pkg/driver"
	"github.com/entrhq/pagedock/pkg/logging"
	"github.com/entrhq/pagedock/pkg/security/urlguard"
	"github.com/entrhq/pagedock/pkg/server"
	"github.com/entrhq/pagedock/pkg/session"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile    string
	Listen        string
	Headless      bool
	MaxSessions   int
	ScreenshotDir string
	LogDir        string
	Debug         bool
	ShowVersion   bool

	// set records which flags were passed explicitly, so only those
	// override the config file
	set map[string]bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("pagedockd v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cli); err != nil {
		cancel()
		log.Printf("pagedockd failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&cli.Listen, "listen", "", "Listen address (e.g. :8000)")
	flag.BoolVar(&cli.Headless, "headless", true, "Run browsers headless")
	flag.IntVar(&cli.MaxSessions, "max-sessions", 0, "Maximum concurrent browser sessions")
	flag.StringVar(&cli.ScreenshotDir, "screenshot-dir", "", "Directory for screenshot side copies")
	flag.StringVar(&cli.LogDir, "log-dir", "", "Directory for log files (default: stderr)")
	flag.BoolVar(&cli.Debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pagedockd - Browser Session Daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage: pagedockd [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Run with defaults on :8000\n")
		fmt.Fprintf(os.Stderr, "  pagedockd\n\n")
		fmt.Fprintf(os.Stderr, "  # Run with a config file\n")
		fmt.Fprintf(os.Stderr, "  pagedockd -config pagedock.yaml\n\n")
		fmt.Fprintf(os.Stderr, "  # Debug a flow with a visible browser\n")
		fmt.Fprintf(os.Stderr, "  pagedockd -headless=false -debug\n\n")
	}

	flag.Parse()

	cli.set = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		cli.set[f.Name] = true
	})
	return cli
}

// run wires the daemon together and serves until the context is canceled.
func run(ctx context.Context, cli *CLIConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyOverrides(cfg, cli)

	env := config.DetectEnvironment()
	cfg.ApplyEnvironment(env)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NewLogger("main")
	if err := logging.Configure(cfg.Logging.Directory, cfg.Logging.Level == "debug"); err != nil {
		logger.Warnf("log directory unusable, logging to stderr: %v", err)
	}
	logger.Infof("pagedockd v%s starting (environment: %s, headless: %t)", version, env, cfg.Browser.Headless)

	guard, err := urlguard.New(cfg.Policy.AllowedURLs, cfg.Policy.DeniedURLs)
	if err != nil {
		return fmt.Errorf("invalid url policy: %w", err)
	}

	if cfg.Browser.ScreenshotDir != "" {
		if err := os.MkdirAll(cfg.Browser.ScreenshotDir, 0o750); err != nil {
			return fmt.Errorf("failed to create screenshot directory: %w", err)
		}
	}

	drv := driver.NewPlaywright()
	registry := session.NewRegistry(drv, cfg.Sessions.MaxSessions, logging.NewLogger("registry"))
	super := session.NewSupervisor(registry, drv, session.SupervisorOptions{
		IdleTimeout:     cfg.Sessions.IdleTimeout.Duration(),
		ReclaimInterval: cfg.Sessions.ReclaimInterval.Duration(),
		ShutdownGrace:   cfg.Server.ShutdownGrace.Duration(),
	}, logging.NewLogger("supervisor"))

	dispatcher := actions.NewDispatcher(registry, super, guard, actions.Config{
		Launch: driver.Profile{
			Headless:       cfg.Browser.Headless,
			Args:           cfg.Browser.Args,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
		},
		AcquireTimeout: cfg.Sessions.AcquireTimeout.Duration(),
		CloseGrace:     cfg.Server.ShutdownGrace.Duration(),
		ScreenshotDir:  cfg.Browser.ScreenshotDir,
		Environment:    string(env),
	})

	srv := server.NewServer(dispatcher, registry, cfg.Server)

	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		super.Run(ctx)
	}()

	err = srv.Run(ctx)

	// The supervisor owns the drain; wait for it to finish closing
	// sessions and stopping the driver before reporting shutdown
	cancel()
	<-supervisorDone

	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Infof("pagedockd stopped")
	return nil
}

// applyOverrides layers explicitly-set CLI flags over the loaded config.
func applyOverrides(cfg *config.Config, cli *CLIConfig) {
	if cli.set["listen"] {
		cfg.Server.ListenAddress = cli.Listen
	}
	if cli.set["headless"] {
		cfg.Browser.Headless = cli.Headless
	}
	if cli.set["max-sessions"] {
		cfg.Sessions.MaxSessions = cli.MaxSessions
	}
	if cli.set["screenshot-dir"] {
		cfg.Browser.ScreenshotDir = cli.ScreenshotDir
	}
	if cli.set["log-dir"] {
		cfg.Logging.Directory = cli.LogDir
	}
	if cli.set["debug"] && cli.Debug {
		cfg.Logging.Level = "debug"
	}
}
