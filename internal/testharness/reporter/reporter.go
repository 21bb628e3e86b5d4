// Package reporter provides test result formatting and output.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rutlab/routertest/internal/testharness/engine"
)

// Reporter formats and outputs test results.
type Reporter interface {
	// ReportSuite reports results for a test suite.
	ReportSuite(result *engine.SuiteResult)

	// ReportTest reports results for a single test.
	ReportTest(result *engine.TestResult)

	// ReportSummary reports the totals of a suite whose tests were already
	// streamed through ReportTest.
	ReportSummary(result *engine.SuiteResult)
}

// New returns the reporter for format: "json", "junit", or text otherwise.
func New(format string, w io.Writer, verbose bool) Reporter {
	switch format {
	case "json":
		return NewJSONReporter(w, true)
	case "junit":
		return NewJUnitReporter(w)
	default:
		return NewTextReporter(w, verbose)
	}
}

// slowestCount is the number of entries in the slowest tests section.
const slowestCount = 10

func passRate(result *engine.SuiteResult) (float64, bool) {
	total := result.PassCount + result.FailCount
	if total == 0 {
		return 0, false
	}
	return float64(result.PassCount) / float64(total) * 100, true
}

// detailsText renders details for humans: strings as-is, anything else as
// compact JSON.
func detailsText(details any) string {
	switch d := details.(type) {
	case nil:
		return ""
	case string:
		return d
	case error:
		return d.Error()
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Sprint(details)
	}
	return string(data)
}

// TextReporter outputs human-readable text reports.
type TextReporter struct {
	writer  io.Writer
	verbose bool
}

// NewTextReporter creates a new text reporter.
func NewTextReporter(w io.Writer, verbose bool) *TextReporter {
	return &TextReporter{
		writer:  w,
		verbose: verbose,
	}
}

// ReportSuite reports suite results in text format.
func (r *TextReporter) ReportSuite(result *engine.SuiteResult) {
	fmt.Fprintf(r.writer, "\n=== Suite: %s ===\n", result.SuiteName)
	fmt.Fprintf(r.writer, "Duration: %s\n", result.Duration.Round(time.Millisecond))
	fmt.Fprintf(r.writer, "\n")

	for _, tr := range result.Results {
		r.ReportTest(tr)
	}
	r.ReportSummary(result)
}

// ReportSummary prints totals, the pass rate and the slowest tests.
func (r *TextReporter) ReportSummary(result *engine.SuiteResult) {
	fmt.Fprintf(r.writer, "\n--- Summary ---\n")
	fmt.Fprintf(r.writer, "Total:   %d\n", len(result.Results))
	fmt.Fprintf(r.writer, "Passed:  %d\n", result.PassCount)
	fmt.Fprintf(r.writer, "Failed:  %d\n", result.FailCount)
	fmt.Fprintf(r.writer, "Skipped: %d\n", result.SkipCount)
	if rate, ok := passRate(result); ok {
		fmt.Fprintf(r.writer, "Pass Rate: %.1f%%\n", rate)
	}

	var timed []*engine.TestResult
	for _, tr := range result.Results {
		if !tr.Skipped() {
			timed = append(timed, tr)
		}
	}
	if len(timed) <= slowestCount {
		return
	}
	sort.SliceStable(timed, func(i, j int) bool { return timed[i].Duration > timed[j].Duration })
	fmt.Fprintf(r.writer, "\n--- Slowest Tests ---\n")
	for _, tr := range timed[:slowestCount] {
		fmt.Fprintf(r.writer, "  %-10s %s\n", tr.Duration.Round(time.Millisecond), tr.Name)
	}
}

// ReportTest reports a single test result in text format.
func (r *TextReporter) ReportTest(result *engine.TestResult) {
	fmt.Fprintf(r.writer, "[%s] %s (%s)\n",
		result.Status, result.Name, result.Duration.Round(time.Millisecond))

	if result.Skipped() {
		if reason := detailsText(result.Details); reason != "" {
			fmt.Fprintf(r.writer, "       Skip reason: %s\n", reason)
		}
		return
	}
	if !result.Passed() && result.Error != nil {
		fmt.Fprintf(r.writer, "       Error: %v\n", result.Error)
	}
	if r.verbose || !result.Passed() {
		if text := detailsText(result.Details); text != "" {
			fmt.Fprintf(r.writer, "       Details: %s\n", text)
		}
	}
}

// JSONReporter outputs JSON-formatted reports.
type JSONReporter struct {
	writer io.Writer
	pretty bool
}

// NewJSONReporter creates a new JSON reporter.
func NewJSONReporter(w io.Writer, pretty bool) *JSONReporter {
	return &JSONReporter{
		writer: w,
		pretty: pretty,
	}
}

// JSONSuiteResult is the JSON representation of suite results.
type JSONSuiteResult struct {
	SuiteName string           `json:"suite_name"`
	Duration  string           `json:"duration"`
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	PassRate  float64          `json:"pass_rate"`
	Tests     []JSONTestResult `json:"tests,omitempty"`
}

// JSONTestResult is the JSON representation of a test result.
type JSONTestResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
	Details  any    `json:"details,omitempty"`
}

func suiteToJSON(result *engine.SuiteResult) JSONSuiteResult {
	rate, _ := passRate(result)
	return JSONSuiteResult{
		SuiteName: result.SuiteName,
		Duration:  result.Duration.Round(time.Millisecond).String(),
		Total:     len(result.Results),
		Passed:    result.PassCount,
		Failed:    result.FailCount,
		Skipped:   result.SkipCount,
		PassRate:  rate,
	}
}

// ReportSuite reports suite results in JSON format.
func (r *JSONReporter) ReportSuite(result *engine.SuiteResult) {
	jr := suiteToJSON(result)
	jr.Tests = make([]JSONTestResult, 0, len(result.Results))
	for _, tr := range result.Results {
		jr.Tests = append(jr.Tests, testToJSON(tr))
	}
	r.writeJSON(jr)
}

// ReportSummary writes the suite totals without the test list.
func (r *JSONReporter) ReportSummary(result *engine.SuiteResult) {
	r.writeJSON(suiteToJSON(result))
}

// ReportTest reports a single test result in JSON format.
func (r *JSONReporter) ReportTest(result *engine.TestResult) {
	r.writeJSON(testToJSON(result))
}

func testToJSON(result *engine.TestResult) JSONTestResult {
	jr := JSONTestResult{
		Name:     result.Name,
		Status:   strings.ToLower(string(result.Status)),
		Duration: result.Duration.Round(time.Millisecond).String(),
		Details:  result.Details,
	}
	if err, ok := jr.Details.(error); ok {
		jr.Details = err.Error()
	}
	if result.Error != nil {
		jr.Error = result.Error.Error()
	}
	return jr
}

func (r *JSONReporter) writeJSON(v any) {
	var data []byte
	var err error

	if r.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		fmt.Fprintf(r.writer, `{"error": "failed to marshal: %s"}`, err)
		return
	}

	fmt.Fprintln(r.writer, string(data))
}

// JUnitReporter outputs JUnit XML format for CI integration.
type JUnitReporter struct {
	writer io.Writer
}

// NewJUnitReporter creates a new JUnit reporter.
func NewJUnitReporter(w io.Writer) *JUnitReporter {
	return &JUnitReporter{writer: w}
}

// ReportSuite reports suite results in JUnit XML format.
func (r *JUnitReporter) ReportSuite(result *engine.SuiteResult) {
	var b strings.Builder

	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString("\n")

	fmt.Fprintf(&b, `<testsuite name="%s" tests="%d" failures="%d" skipped="%d" time="%.3f">`,
		escapeXML(result.SuiteName),
		len(result.Results),
		result.FailCount,
		result.SkipCount,
		result.Duration.Seconds())
	b.WriteString("\n")

	for _, tr := range result.Results {
		feature, _, _ := strings.Cut(tr.Name, "_")
		fmt.Fprintf(&b, `  <testcase name="%s" classname="%s" time="%.3f">`,
			escapeXML(tr.Name),
			escapeXML(feature),
			tr.Duration.Seconds())
		b.WriteString("\n")

		switch {
		case tr.Skipped():
			fmt.Fprintf(&b, `    <skipped message="%s"/>`, escapeXML(detailsText(tr.Details)))
			b.WriteString("\n")
		case !tr.Passed():
			msg := "failed"
			if tr.Error != nil {
				msg = tr.Error.Error()
			}
			fmt.Fprintf(&b, `    <failure message="%s">`, escapeXML(msg))
			b.WriteString("\n")
			b.WriteString("      <![CDATA[")
			b.WriteString(strings.ReplaceAll(detailsText(tr.Details), "]]>", "]]]]><![CDATA[>"))
			b.WriteString("]]>\n")
			b.WriteString("    </failure>\n")
		}

		b.WriteString("  </testcase>\n")
	}

	b.WriteString("</testsuite>\n")

	fmt.Fprint(r.writer, b.String())
}

// ReportSummary writes the full suite; JUnit has no streaming form.
func (r *JUnitReporter) ReportSummary(result *engine.SuiteResult) {
	r.ReportSuite(result)
}

// ReportTest is a no-op. JUnit output is written once per suite.
func (r *JUnitReporter) ReportTest(*engine.TestResult) {}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
