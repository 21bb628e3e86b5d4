// Package engine runs scenarios through registered (feature, channel)
// handlers and collects their results.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rutlab/routertest/internal/testharness/loader"
	rtlog "github.com/rutlab/routertest/pkg/log"
	"github.com/rutlab/routertest/pkg/scenario"
)

// Status is the verdict of one test.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusSkip Status = "SKIP"
)

// Target is the router under test and the shared run context handlers need.
type Target struct {
	// Device is the loaded device config.
	Device *loader.DeviceConfig

	// WorkDir receives generated files such as certificates.
	WorkDir string

	// Logger receives operational logs.
	Logger *slog.Logger

	// Transcript receives every command and request sent to the router.
	Transcript rtlog.Logger
}

// Log returns the target logger, or slog.Default when unset.
func (t *Target) Log() *slog.Logger {
	if t == nil || t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

// Outcome is what a handler reports for one scenario.
type Outcome struct {
	Success bool
	Details any
}

// Handler applies one scenario through one channel.
type Handler func(ctx context.Context, target *Target, sc *scenario.Scenario) (*Outcome, error)

// SkipError marks a handler result as skipped. It matches
// errors.ErrUnsupported.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return e.Reason }

func (e *SkipError) Unwrap() error { return errors.ErrUnsupported }

// Skip returns a SkipError with the given reason.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// TestResult is the outcome of one scenario on one channel, or of one
// validation.
type TestResult struct {
	// Name is <feature>_<channel>_<scenario> or validation_<mqtt>_<dts>.
	Name string

	Status Status

	// Details is the handler or validator payload. For skipped tests it is
	// the skip reason.
	Details any

	// Error is the error that caused failure, if any.
	Error error

	Duration  time.Duration
	StartTime time.Time
	EndTime   time.Time
}

// Passed reports whether the test passed.
func (r *TestResult) Passed() bool { return r.Status == StatusPass }

// Skipped reports whether the test was skipped.
func (r *TestResult) Skipped() bool { return r.Status == StatusSkip }

// Record is one row of the result sink.
type Record struct {
	Scenario string `json:"scenario"`
	Status   Status `json:"status"`
	Details  any    `json:"details"`
}

// Record converts r into a result-sink row.
func (r *TestResult) Record() Record {
	details := r.Details
	if details == nil && r.Error != nil {
		details = r.Error.Error()
	}
	return Record{Scenario: r.Name, Status: r.Status, Details: details}
}

// TestName builds the result name of a scenario run.
func TestName(feature scenario.Feature, channel scenario.Channel, scenarioName string) string {
	return string(feature) + "_" + string(channel) + "_" + scenarioName
}

// ValidationName builds the result name of a broker/DTS validation.
func ValidationName(mqtt, dts string) string {
	return "validation_" + mqtt + "_" + dts
}

// SuiteResult aggregates the results of a run.
type SuiteResult struct {
	SuiteName string
	Results   []*TestResult
	PassCount int
	FailCount int
	SkipCount int
	Duration  time.Duration

	started time.Time
}

// NewSuiteResult starts the suite clock.
func NewSuiteResult(name string) *SuiteResult {
	return &SuiteResult{SuiteName: name, started: time.Now()}
}

// Add appends r and updates the counters.
func (s *SuiteResult) Add(r *TestResult) {
	s.Results = append(s.Results, r)
	switch r.Status {
	case StatusPass:
		s.PassCount++
	case StatusSkip:
		s.SkipCount++
	default:
		s.FailCount++
	}
}

// Finish stops the suite clock.
func (s *SuiteResult) Finish() {
	if !s.started.IsZero() {
		s.Duration = time.Since(s.started)
	}
}

// Records converts every result into a result-sink row.
func (s *SuiteResult) Records() []Record {
	out := make([]Record, 0, len(s.Results))
	for _, r := range s.Results {
		out = append(out, r.Record())
	}
	return out
}

// EngineConfig configures the engine.
type EngineConfig struct {
	// DefaultTimeout bounds a single handler invocation.
	DefaultTimeout time.Duration

	// OnTestComplete is called after each test.
	OnTestComplete func(*TestResult)
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		DefaultTimeout: 5 * time.Minute,
	}
}
