// Command routertest-shell opens an interactive UCI console on a router.
//
// The console keeps one SSH session open and offers the uci verbs used by
// the test suite, the Data-to-Server section resolver, validation of
// scenarios against the live configuration, and cleanup.
//
// Usage:
//
//	routertest-shell [flags]
//
// Flags:
//
//	-config        Device config file (default: config/device_config.json)
//	-scenario-dir  Scenario directory (default: config/test_scenarios)
//	-host          Override the device IP
//	-prober        Liveness prober for validate: exec, client or none
//	-transcript    Write a CBOR transcript of every command
//	-verbose       Enable debug logging
//
// Examples:
//
//	# Open a console on the router of the default config
//	routertest-shell
//
//	# Validate against a router on another address
//	routertest-shell -host 10.0.0.7 -prober client
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rutlab/routertest/cmd/routertest-shell/shell"
	"github.com/rutlab/routertest/internal/testharness/loader"
	"github.com/rutlab/routertest/internal/testharness/runner"
	rtlog "github.com/rutlab/routertest/pkg/log"
	"github.com/rutlab/routertest/pkg/sshclient"
	"github.com/rutlab/routertest/pkg/validator"
)

var (
	configPath     = flag.String("config", "config/device_config.json", "Device config file")
	scenarioDir    = flag.String("scenario-dir", "config/test_scenarios", "Scenario directory")
	host           = flag.String("host", "", "Override the device IP")
	proberKind     = flag.String("prober", runner.ProberExec, "Liveness prober for validate (exec, client, none)")
	transcriptPath = flag.String("transcript", "", "Write a CBOR transcript to this file")
	verbose        = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	switch *proberKind {
	case runner.ProberExec, runner.ProberClient, runner.ProberNone:
	default:
		return fmt.Errorf("invalid prober %q (valid: exec, client, none)", *proberKind)
	}

	var opts []loader.DeviceOption
	if *host != "" {
		opts = append(opts, loader.OptionalIP())
	}
	device, err := loader.LoadDeviceConfig(*configPath, opts...)
	if err != nil {
		return err
	}
	if *host != "" {
		device.Device.IP = *host
	}

	var transcript rtlog.Logger = rtlog.NoopLogger{}
	if *transcriptPath != "" {
		fl, err := rtlog.NewFileLogger(*transcriptPath)
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}
		defer fl.Close()
		transcript = fl
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sshCfg := runner.SSHConfig(device)
	session := sshclient.New(sshCfg, transcript, logger)
	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", sshCfg.Address(), err)
	}
	defer session.Close()

	fmt.Printf("Connected to %s (%s)\n", device.Device.Name, sshCfg.Address())

	sh := shell.New(shell.Config{
		Session: session,
		Dial: func() validator.Session {
			return sshclient.New(sshCfg, transcript, logger)
		},
		ScenarioDir: *scenarioDir,
		Validation:  runner.ValidatorOptions(device, false),
		Prober:      runner.NewProber(*proberKind, logger, transcript),
		HistoryFile: historyFile(),
		Logger:      logger,
	}, os.Stdout)
	return sh.Run(ctx)
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".routertest_history")
}
