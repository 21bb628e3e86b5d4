// Command routertest configures a router's MQTT broker and Data-to-Server
// features through SSH, the REST API or the web UI, validates the resulting
// device state and records the results.
//
// Usage:
//
//	routertest [flags]
//
// Flags:
//
//	-test-type string     Channels to test: ssh, api, gui, all (default "all")
//	-config string        Device config file (default "config/device_config.json")
//	-scenario-dir string  Scenario directory (default "config/test_scenarios")
//	-results-dir string   Directory for the CSV result file (default "results")
//	-work-dir string      Directory for generated certificates and auth files
//	-format string        Report format: text, json, junit (default "text")
//	-verbose              Enable verbose output and debug logs
//	-transcript string    File path for the command transcript (CBOR format)
//	-prober string        Liveness probe: exec, client, none (default "exec")
//	-require-liveness     Require a received MQTT message for DTS success
//	-discover string      Find the router over mDNS when the config has no IP
//	-timeout duration     Per-test timeout (default 5m)
//	-suite-timeout duration
//	                      Overall run timeout (default 30m)
//
// Examples:
//
//	# Run every channel with the default config
//	routertest
//
//	# Configure over SSH only and keep a transcript
//	routertest -test-type ssh -transcript run.cbor
//
//	# Find the router by name and report JUnit XML
//	routertest -discover RUTX11 -format junit > results.xml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/rutlab/routertest/internal/testharness/runner"
	rtlog "github.com/rutlab/routertest/pkg/log"
)

var (
	testType        = flag.String("test-type", "all", "Channels to test: ssh, api, gui, all")
	configPath      = flag.String("config", "config/device_config.json", "Device config file")
	scenarioDir     = flag.String("scenario-dir", "config/test_scenarios", "Scenario directory")
	resultsDir      = flag.String("results-dir", "results", "Directory for the CSV result file")
	workDir         = flag.String("work-dir", "", "Directory for generated certificates and auth files")
	format          = flag.String("format", "text", "Report format: text, json, junit")
	verbose         = flag.Bool("verbose", false, "Enable verbose output and debug logs")
	transcriptPath  = flag.String("transcript", "", "File path for the command transcript (CBOR format)")
	proberName      = flag.String("prober", runner.ProberExec, "Liveness probe: exec, client, none")
	requireLiveness = flag.Bool("require-liveness", false, "Require a received MQTT message for DTS success")
	discover        = flag.String("discover", "", "Find the router over mDNS when the config has no IP")
	timeout         = flag.Duration("timeout", 5*time.Minute, "Per-test timeout")
	suiteTimeout    = flag.Duration("suite-timeout", 30*time.Minute, "Overall run timeout")
)

func main() {
	flag.Parse()

	switch *format {
	case "text", "json", "junit":
	default:
		fmt.Fprintf(os.Stderr, "Error: format must be text, json or junit, got '%s'\n", *format)
		flag.Usage()
		os.Exit(1)
	}
	switch *proberName {
	case runner.ProberExec, runner.ProberClient, runner.ProberNone:
	default:
		fmt.Fprintf(os.Stderr, "Error: prober must be exec, client or none, got '%s'\n", *proberName)
		flag.Usage()
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *format == "text" {
		log.SetFlags(log.Ltime)
		if *verbose {
			log.SetFlags(log.Ltime | log.Lmicroseconds)
		}
		printBanner()
		log.Printf("Config: %s", *configPath)
		log.Printf("Scenarios: %s", *scenarioDir)
		log.Printf("Test type: %s", *testType)
		if *discover != "" {
			log.Printf("Discover: %s", *discover)
		}
		log.Println()
	}

	var sinks []rtlog.Logger
	var fileLogger *rtlog.FileLogger
	if *transcriptPath != "" {
		var err error
		fileLogger, err = rtlog.NewFileLogger(*transcriptPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create transcript: %v\n", err)
			os.Exit(1)
		}
		sinks = append(sinks, fileLogger)
		if *format == "text" {
			log.Printf("Transcript: %s", *transcriptPath)
		}
	}
	if *verbose {
		sinks = append(sinks, rtlog.NewSlogAdapter(logger))
	}

	config := &runner.Config{
		TestType:        *testType,
		DeviceConfig:    *configPath,
		ScenarioDir:     *scenarioDir,
		ResultsDir:      *resultsDir,
		WorkDir:         *workDir,
		OutputFormat:    *format,
		Verbose:         *verbose,
		Output:          os.Stdout,
		Prober:          *proberName,
		RequireLiveness: *requireLiveness,
		Discover:        *discover,
		Timeout:         *timeout,
		Logger:          logger,
	}
	if len(sinks) > 0 {
		config.Transcript = rtlog.NewMultiLogger(sinks...)
	}

	r := runner.New(config)
	defer func() {
		r.Close()
		if fileLogger != nil {
			fileLogger.Close()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *suiteTimeout)
	defer cancel()

	result, err := r.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1, r, fileLogger)
	}
	if result.FailCount > 0 {
		exit(1, r, fileLogger)
	}
}

// exit flushes the transcript before leaving, since os.Exit skips defers.
func exit(code int, r *runner.Runner, fileLogger *rtlog.FileLogger) {
	r.Close()
	if fileLogger != nil {
		fileLogger.Close()
	}
	os.Exit(code)
}

func printBanner() {
	fmt.Print(`
 ____             _              _____         _
|  _ \ ___  _   _| |_ ___ _ __  |_   _|__  ___| |_
| |_) / _ \| | | | __/ _ \ '__|   | |/ _ \/ __| __|
|  _ < (_) | |_| | ||  __/ |      | |  __/\__ \ |_
|_| \_\___/ \__,_|\__\___|_|      |_|\___||___/\__|

MQTT Broker and Data-to-Server Test Runner
`)
}
