// Package validator cross-checks the live router state against a broker and
// a Data-to-Server scenario over a command session.
package validator

import (
	"strings"
	"time"
)

// Messages reported on Result for the outcomes that never reach a matcher.
const (
	MsgTimedOut  = "Validation process timed out"
	MsgNoConfig  = "No configuration provided for validation"
	MsgPassed    = "validation passed"
	msgFailedFmt = "validation failed: %s"
)

// Result is the outcome of ValidateAPConfig.
type Result struct {
	// Success is the AND over the requested subsystems.
	Success bool `json:"success"`

	// Message summarizes the outcome.
	Message string `json:"message"`

	// Broker is nil when no broker scenario was given.
	Broker *SubsystemResult `json:"mqtt_broker,omitempty"`

	// DTS is nil when no Data-to-Server scenario was given.
	DTS *SubsystemResult `json:"data_to_server,omitempty"`

	// Cleanup reports the post-validation cleanup, if one ran.
	Cleanup *CleanupReport `json:"cleanup,omitempty"`

	// Duration is the wall time of the validation.
	Duration time.Duration `json:"duration"`
}

// Failures returns the failures of all subsystems, broker first.
func (r *Result) Failures() []string {
	var out []string
	for _, sub := range []*SubsystemResult{r.Broker, r.DTS} {
		if sub == nil {
			continue
		}
		if sub.Error != "" {
			out = append(out, sub.Error)
		}
		out = append(out, sub.Failures...)
	}
	return out
}

// SubsystemResult is the outcome of one matcher.
type SubsystemResult struct {
	// Success is the AND of the gating checks.
	Success bool `json:"success"`

	// Checks maps check names to their outcome.
	Checks map[string]bool `json:"checks"`

	// Failures lists one message per failing check, in check order.
	Failures []string `json:"failures,omitempty"`

	// Raw echoes command outputs and compared values.
	Raw map[string]any `json:"raw_results"`

	// Error is set when the matcher aborted on a transport error.
	Error string `json:"error,omitempty"`
}

func newSubsystemResult() *SubsystemResult {
	return &SubsystemResult{
		Checks: make(map[string]bool),
		Raw:    make(map[string]any),
	}
}

func errorResult(err error) *SubsystemResult {
	res := newSubsystemResult()
	res.Error = err.Error()
	return res
}

// Failed reports whether the named check ran and failed.
func (s *SubsystemResult) Failed(check string) bool {
	passed, ok := s.Checks[check]
	return ok && !passed
}

func summarize(failures []string) string {
	if len(failures) == 0 {
		return "validation failed"
	}
	return strings.Join(failures, "; ")
}
