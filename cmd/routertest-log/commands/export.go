package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rutlab/routertest/pkg/log"
)

// Export formats.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// RunExport writes every event of path to output in format. An empty output
// writes to stdout.
func RunExport(path, format, output string) error {
	if format != FormatJSONL && format != FormatCSV {
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if format == FormatCSV {
		return exportCSV(reader, w)
	}
	return exportJSONL(reader, w)
}

// jsonEvent is the export shape of an event: enums as names, durations in
// milliseconds.
type jsonEvent struct {
	Timestamp  string  `json:"timestamp"`
	SessionID  string  `json:"session_id"`
	Channel    string  `json:"channel"`
	Kind       string  `json:"kind"`
	Host       string  `json:"host,omitempty"`
	Scenario   string  `json:"scenario,omitempty"`
	Command    string  `json:"command,omitempty"`
	Output     string  `json:"output,omitempty"`
	Truncated  bool    `json:"truncated,omitempty"`
	ExitStatus *int    `json:"exit_status,omitempty"`
	DurationMS float64 `json:"duration_ms,omitempty"`
	OldState   string  `json:"old_state,omitempty"`
	NewState   string  `json:"new_state,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Error      string  `json:"error,omitempty"`
	Context    string  `json:"context,omitempty"`
}

func toJSONEvent(e log.Event) jsonEvent {
	out := jsonEvent{
		Timestamp: e.Timestamp.UTC().Format(timeLayout),
		SessionID: e.SessionID,
		Channel:   e.Channel.String(),
		Kind:      e.Kind.String(),
		Host:      e.Host,
		Scenario:  e.Scenario,
	}
	switch {
	case e.Command != nil:
		out.Command = e.Command.Command
		out.Output = e.Command.Output
		out.Truncated = e.Command.Truncated
		out.ExitStatus = e.Command.ExitStatus
		out.DurationMS = float64(e.Command.Duration.Microseconds()) / 1000
		out.Error = e.Command.Err
	case e.State != nil:
		out.OldState = e.State.OldState
		out.NewState = e.State.NewState
		out.Reason = e.State.Reason
	case e.Error != nil:
		out.Error = e.Error.Message
		out.Context = e.Error.Context
	}
	return out
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(toJSONEvent(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
}

var csvHeader = []string{"timestamp", "session_id", "channel", "kind", "host", "scenario", "detail", "exit_status", "duration_ms", "error"}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		j := toJSONEvent(event)
		detail := j.Command
		if event.State != nil {
			detail = j.NewState
		} else if event.Error != nil {
			detail = j.Context
		}
		status, duration := "", ""
		if j.ExitStatus != nil {
			status = strconv.Itoa(*j.ExitStatus)
		}
		if event.Command != nil {
			duration = strconv.FormatFloat(j.DurationMS, 'f', 3, 64)
		}

		row := []string{j.Timestamp, j.SessionID, j.Channel, j.Kind, j.Host, j.Scenario, detail, status, duration, j.Error}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
