package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rutlab/routertest/pkg/log"
)

func TestFormatCommandEvent(t *testing.T) {
	line := formatEvent(sampleEvents()[1])

	for _, want := range []string{
		"2026-01-28T10:15:33.123Z",
		"[sess:3f2a9c1e]",
		"SSH",
		"COMMAND",
		"192.168.1.1",
		"(basic)",
		`"uci show mosquitto"`,
		"status=0",
		"12.000ms",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "FAILED") {
		t.Errorf("successful command marked failed: %q", line)
	}
	if strings.Contains(line, "\n") {
		t.Errorf("expected a single line, got %q", line)
	}
}

func TestFormatFailedCommand(t *testing.T) {
	line := formatEvent(sampleEvents()[2])
	if !strings.Contains(line, "FAILED: exit status 1") {
		t.Errorf("expected failure marker, got %q", line)
	}
}

func TestFormatStateAndError(t *testing.T) {
	events := sampleEvents()

	if line := formatEvent(events[0]); !strings.Contains(line, "disconnected -> connected") {
		t.Errorf("unexpected state line: %q", line)
	}
	if line := formatEvent(events[4]); !strings.Contains(line, "logout: connection reset") {
		t.Errorf("unexpected error line: %q", line)
	}

	fresh := log.Event{
		Timestamp: baseTime,
		Kind:      log.KindState,
		State:     &log.StateEvent{NewState: "connecting", Reason: "dial"},
	}
	line := formatEvent(fresh)
	if !strings.Contains(line, "[sess:-]") || !strings.Contains(line, "-> connecting (dial)") {
		t.Errorf("unexpected line: %q", line)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Nanosecond, "0.500us"},
		{1500 * time.Microsecond, "1.500ms"},
		{2500 * time.Millisecond, "2.500s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestRunViewAll(t *testing.T) {
	path := createTestTranscript(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunView(path, FilterOptions{}, false, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), buf.String())
	}
}

func TestRunViewFilters(t *testing.T) {
	path := createTestTranscript(t, sampleEvents())

	tests := []struct {
		name string
		opts FilterOptions
		want int
	}{
		{"channel", FilterOptions{Channel: "api"}, 2},
		{"kind", FilterOptions{Kind: "command"}, 3},
		{"session", FilterOptions{SessionID: "3f2a9c1e-1111-2222-3333-444455556666"}, 3},
		{"failed", FilterOptions{Failed: true}, 2},
		{"time window", FilterOptions{TimeStart: "2026-01-28T10:15:33Z", TimeEnd: "2026-01-28T10:15:35Z"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := RunView(path, tt.opts, false, &buf); err != nil {
				t.Fatalf("RunView failed: %v", err)
			}
			got := strings.Count(buf.String(), "\n")
			if got != tt.want {
				t.Errorf("expected %d lines, got %d:\n%s", tt.want, got, buf.String())
			}
		})
	}
}

func TestRunViewShowsOutput(t *testing.T) {
	path := createTestTranscript(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunView(path, FilterOptions{Kind: "command", Channel: "ssh"}, true, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if !strings.Contains(buf.String(), "    mosquitto.mqtt.enabled='1'\n") {
		t.Errorf("expected indented output, got:\n%s", buf.String())
	}
}

func TestRunViewInvalidFlag(t *testing.T) {
	path := createTestTranscript(t, sampleEvents())

	if err := RunView(path, FilterOptions{Channel: "bogus"}, false, &bytes.Buffer{}); err == nil {
		t.Error("expected error for invalid channel")
	}
	if err := RunView(path, FilterOptions{TimeStart: "yesterday"}, false, &bytes.Buffer{}); err == nil {
		t.Error("expected error for invalid time-start")
	}
}
