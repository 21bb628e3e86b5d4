package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rutlab/routertest/pkg/log"
)

// Stats holds aggregate statistics about a transcript.
type Stats struct {
	TotalEvents     int
	EventsByChannel map[log.Channel]int
	EventsByKind    map[log.Kind]int
	Sessions        map[string]*SessionStats
	FailedCommands  int
	Errors          int
	TimeRange       struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for one session.
type SessionStats struct {
	Channel   log.Channel
	Host      string
	FirstSeen time.Time
	LastSeen  time.Time
	Commands  int
	Failed    int
	// CommandTime sums the durations of the session's commands.
	CommandTime time.Duration
}

// CollectStats reads every event of path.
func CollectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByChannel: make(map[log.Channel]int),
		EventsByKind:    make(map[log.Kind]int),
		Sessions:        make(map[string]*SessionStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByChannel[event.Channel]++
	s.EventsByKind[event.Kind]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	sess, ok := s.Sessions[event.SessionID]
	if !ok {
		sess = &SessionStats{
			Channel:   event.Channel,
			Host:      event.Host,
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
		}
		s.Sessions[event.SessionID] = sess
	}
	if event.Timestamp.After(sess.LastSeen) {
		sess.LastSeen = event.Timestamp
	}
	if sess.Host == "" {
		sess.Host = event.Host
	}

	switch {
	case event.Command != nil:
		sess.Commands++
		sess.CommandTime += event.Command.Duration
		if event.Command.Failed() {
			sess.Failed++
			s.FailedCommands++
		}
	case event.Error != nil:
		s.Errors++
	}
}

// RunStats prints statistics about path to w.
func RunStats(path string, w io.Writer) error {
	stats, err := CollectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Router Test Transcript Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Channel:")
	for _, ch := range []log.Channel{log.ChannelSSH, log.ChannelAPI, log.ChannelProbe} {
		if count := stats.EventsByChannel[ch]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", ch.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Kind:")
	for _, k := range []log.Kind{log.KindCommand, log.KindState, log.KindError} {
		if count := stats.EventsByKind[k]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", k.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, s := range sessions {
			duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %s %s, %d commands, duration %s\n",
				shortenID(s.id), s.stats.Channel, s.stats.Host, s.stats.Commands, duration)
			if s.stats.Failed > 0 {
				fmt.Fprintf(w, "           Failed: %d\n", s.stats.Failed)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Failed Commands: %d\n", stats.FailedCommands)
	if stats.Errors > 0 {
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
