// Package commands implements the routertest-log subcommands.
package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rutlab/routertest/pkg/log"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// RunView prints the events of path matching opts, one line each. With
// showOutput set, command output follows each command line, indented.
func RunView(path string, opts FilterOptions, showOutput bool, w io.Writer) error {
	filter, err := opts.Filter()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		fmt.Fprintln(w, formatEvent(event))
		if showOutput && event.Command != nil && event.Command.Output != "" {
			writeIndented(w, event.Command.Output, event.Command.Truncated)
		}
	}
}

// formatEvent renders one event as
//
//	<time> [sess:<id>] <CHANNEL> <KIND> <host> <detail>
func formatEvent(event log.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [sess:%s] %-5s %-7s",
		event.Timestamp.UTC().Format(timeLayout),
		shortenID(event.SessionID),
		event.Channel,
		event.Kind)
	if event.Host != "" {
		fmt.Fprintf(&b, " %s", event.Host)
	}
	if event.Scenario != "" {
		fmt.Fprintf(&b, " (%s)", event.Scenario)
	}

	switch {
	case event.Command != nil:
		c := event.Command
		fmt.Fprintf(&b, " %q", c.Command)
		if c.ExitStatus != nil {
			fmt.Fprintf(&b, " status=%d", *c.ExitStatus)
		}
		fmt.Fprintf(&b, " %s", formatDuration(c.Duration))
		if c.Failed() {
			fmt.Fprintf(&b, " FAILED: %s", c.Err)
		}
	case event.State != nil:
		s := event.State
		if s.OldState != "" {
			fmt.Fprintf(&b, " %s -> %s", s.OldState, s.NewState)
		} else {
			fmt.Fprintf(&b, " -> %s", s.NewState)
		}
		if s.Reason != "" {
			fmt.Fprintf(&b, " (%s)", s.Reason)
		}
	case event.Error != nil:
		if event.Error.Context != "" {
			fmt.Fprintf(&b, " %s:", event.Error.Context)
		}
		fmt.Fprintf(&b, " %s", event.Error.Message)
	}
	return b.String()
}

func writeIndented(w io.Writer, output string, truncated bool) {
	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
	if truncated {
		fmt.Fprintln(w, "    ... (truncated)")
	}
}

func shortenID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
