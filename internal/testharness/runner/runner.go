// Package runner sequences broker and Data-to-Server scenarios across the
// configuration channels, validates the resulting router state and reports
// the results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rutlab/routertest/internal/testharness/engine"
	"github.com/rutlab/routertest/internal/testharness/loader"
	"github.com/rutlab/routertest/internal/testharness/reporter"
	"github.com/rutlab/routertest/pkg/discovery"
	rtlog "github.com/rutlab/routertest/pkg/log"
	"github.com/rutlab/routertest/pkg/restapi"
	"github.com/rutlab/routertest/pkg/scenario"
	"github.com/rutlab/routertest/pkg/sshclient"
	"github.com/rutlab/routertest/pkg/validator"
)

// ErrNoScenarios is returned when the device config names no loadable
// scenario.
var ErrNoScenarios = errors.New("no test scenarios defined in configuration")

// Prober names accepted by Config.Prober.
const (
	ProberExec   = "exec"
	ProberClient = "client"
	ProberNone   = "none"
)

// Dialer opens a command session to the router described by device. The
// session is returned unconnected.
type Dialer func(device *loader.DeviceConfig) validator.Session

// Locator resolves a router name to an IP address.
type Locator func(ctx context.Context, name string) (string, error)

// Config configures the test runner.
type Config struct {
	// TestType is "ssh", "api", "gui" or "all".
	TestType string

	// DeviceConfig is the path to the device config file.
	DeviceConfig string

	// ScenarioDir holds the scenario files named by the device config.
	ScenarioDir string

	// ResultsDir receives the CSV result file.
	ResultsDir string

	// WorkDir receives generated certificates and auth files. Defaults to
	// the current directory.
	WorkDir string

	// OutputFormat is "text", "json", or "junit".
	OutputFormat string

	// Verbose enables verbose output.
	Verbose bool

	// Output is where to write the report. Defaults to os.Stdout.
	Output io.Writer

	// Transcript receives every command and request sent to the router.
	Transcript rtlog.Logger

	// Prober selects the liveness probe: "exec" (default), "client" or
	// "none".
	Prober string

	// RequireLiveness makes a received MQTT message part of DTS success.
	// It is ORed with the device config setting.
	RequireLiveness bool

	// Discover is a router name looked up over mDNS when the device config
	// has no IP.
	Discover string

	// Timeout bounds each channel test.
	Timeout time.Duration

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Dialer replaces the SSH session factory.
	Dialer Dialer

	// Locator replaces mDNS discovery.
	Locator Locator

	// APIBaseURL overrides the REST API root derived from the device IP.
	APIBaseURL string

	// Now stamps the result file. Defaults to time.Now.
	Now func() time.Time
}

// Runner executes scenarios against one router.
type Runner struct {
	config   *Config
	logger   *slog.Logger
	registry *engine.Registry
	engine   *engine.Engine
	target   *engine.Target
	reporter reporter.Reporter

	// validates is set when a broker scenario is loaded, so every applied
	// DTS scenario is followed by a validation.
	validates bool
}

// New creates a new test runner.
func New(config *Config) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Transcript == nil {
		config.Transcript = rtlog.NoopLogger{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.WorkDir == "" {
		config.WorkDir = "."
	}

	runID := uuid.NewString()
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "runner"), slog.String("run", runID[:8]))

	r := &Runner{
		config:   config,
		logger:   logger,
		registry: engine.NewRegistry(),
		reporter: reporter.New(config.OutputFormat, config.Output, config.Verbose),
	}
	if config.Dialer == nil {
		config.Dialer = r.sshDialer
	}
	if config.Locator == nil {
		config.Locator = locate
	}

	engineConfig := engine.DefaultConfig()
	if config.Timeout > 0 {
		engineConfig.DefaultTimeout = config.Timeout
	}
	engineConfig.OnTestComplete = r.reporter.ReportTest

	r.target = &engine.Target{
		WorkDir:    config.WorkDir,
		Logger:     logger,
		Transcript: config.Transcript,
	}
	r.engine = engine.NewWithConfig(r.registry, r.target, engineConfig)
	r.registerHandlers()
	return r
}

// Registry returns the handler registry, for tests that replace a handler.
func (r *Runner) Registry() *engine.Registry { return r.registry }

// Run loads the device config and scenarios, runs every selected channel
// and writes the results.
func (r *Runner) Run(ctx context.Context) (*engine.SuiteResult, error) {
	channels, err := scenario.ParseChannels(r.config.TestType)
	if err != nil {
		return nil, err
	}

	device, err := r.loadDevice(ctx)
	if err != nil {
		return nil, err
	}
	r.target.Device = device

	scenarios := loader.LoadScenarios(r.config.ScenarioDir, device, r.logger)
	if len(scenarios) == 0 {
		return nil, ErrNoScenarios
	}
	r.validates = slices.ContainsFunc(scenarios, func(sc *scenario.Scenario) bool {
		return sc.Feature == scenario.FeatureBroker
	})
	r.logger.Info("starting tests",
		slog.String("device", device.Device.Name),
		slog.String("ip", device.Device.IP),
		slog.Int("scenarios", len(scenarios)),
		slog.Any("channels", channels))

	suite := engine.NewSuiteResult(device.Device.Name)

	if slices.Contains(channels, scenario.ChannelGUI) {
		r.runPhase(ctx, suite, []scenario.Channel{scenario.ChannelGUI}, scenarios)
	}
	var transport []scenario.Channel
	for _, ch := range channels {
		if ch != scenario.ChannelGUI {
			transport = append(transport, ch)
		}
	}
	if len(transport) > 0 {
		r.runPhase(ctx, suite, transport, scenarios)
	}
	suite.Finish()

	path := filepath.Join(r.config.ResultsDir, reporter.ResultFileName(
		device.Device.Name, device.Device.Modem, device.Device.Firmware, r.config.Now()))
	csvw := &reporter.CSVWriter{Now: r.config.Now}
	if err := csvw.Write(path, suite.Records()); err != nil {
		r.logger.Error("writing results failed", slog.String("path", path), slog.Any("error", err))
	} else {
		r.logger.Info("results saved", slog.String("path", path))
	}

	r.reporter.ReportSummary(suite)
	return suite, nil
}

// runPhase runs scenarios in order on channels. After each Data-to-Server
// scenario that was applied on at least one channel, the latest broker
// scenario and that scenario are validated together. The validation removes
// every pipeline when ssh is among the channels and only the scenario's own
// pipeline otherwise.
func (r *Runner) runPhase(ctx context.Context, suite *engine.SuiteResult, channels []scenario.Channel, scenarios []*scenario.Scenario) {
	var broker *scenario.Scenario
	for _, sc := range scenarios {
		if ctx.Err() != nil {
			return
		}
		applied := false
		for _, ch := range channels {
			res := r.engine.Run(ctx, ch, sc)
			suite.Add(res)
			applied = applied || !res.Skipped()
		}

		switch sc.Feature {
		case scenario.FeatureBroker:
			broker = sc
		case scenario.FeatureDTS:
			if broker == nil || !applied {
				continue
			}
			mode := validator.CleanupScenario
			if slices.Contains(channels, scenario.ChannelSSH) {
				mode = validator.CleanupAll
			}
			suite.Add(r.validate(ctx, broker, sc, mode))
		}
	}
}

// validate checks the router against broker and dts over a fresh session.
func (r *Runner) validate(ctx context.Context, broker, dts *scenario.Scenario, mode validator.CleanupMode) *engine.TestResult {
	result := &engine.TestResult{
		Name:      engine.ValidationName(broker.Name, dts.Name),
		StartTime: time.Now(),
	}

	device := r.target.Device
	opts := ValidatorOptions(device, r.config.RequireLiveness)
	opts.CleanupAfter = mode
	opts.Logger = r.logger

	v := validator.New(r.config.Dialer(device), NewProber(r.config.Prober, r.logger, r.config.Transcript), opts)
	res := v.ValidateAPConfig(ctx, broker.Broker, dts.DTS)

	result.Details = res
	result.Status = engine.StatusFail
	if res.Success {
		result.Status = engine.StatusPass
	} else {
		result.Error = errors.New(res.Message)
	}
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	r.reporter.ReportTest(result)
	return result
}

func (r *Runner) loadDevice(ctx context.Context) (*loader.DeviceConfig, error) {
	var opts []loader.DeviceOption
	if r.config.Discover != "" {
		opts = append(opts, loader.OptionalIP())
	}
	device, err := loader.LoadDeviceConfig(r.config.DeviceConfig, opts...)
	if err != nil {
		return nil, err
	}
	if device.Device.IP != "" {
		return device, nil
	}

	ip, err := r.config.Locator(ctx, r.config.Discover)
	if err != nil {
		return nil, fmt.Errorf("discover %q: %w", r.config.Discover, err)
	}
	r.logger.Info("router discovered", slog.String("name", r.config.Discover), slog.String("ip", ip))
	device.Device.IP = ip
	return device, nil
}

func locate(ctx context.Context, name string) (string, error) {
	router, err := discovery.FindRouter(ctx, discovery.DefaultConfig(), name)
	if err != nil {
		return "", err
	}
	return router.Address(), nil
}

// sshDialer connects with the SSH credentials of device.
func (r *Runner) sshDialer(device *loader.DeviceConfig) validator.Session {
	return sshclient.New(SSHConfig(device), r.config.Transcript, r.logger)
}

func (r *Runner) apiClient(device *loader.DeviceConfig) *restapi.Client {
	base := r.config.APIBaseURL
	if base == "" {
		base = restapi.BaseURL(device.Device.IP)
	}
	return restapi.New(restapi.Config{
		BaseURL:  base,
		Username: device.Device.Credentials.Username,
		Password: device.Device.Credentials.Password,
	}, r.config.Transcript, r.logger)
}

// Close closes the transcript when it holds a file.
func (r *Runner) Close() error {
	if c, ok := r.config.Transcript.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
