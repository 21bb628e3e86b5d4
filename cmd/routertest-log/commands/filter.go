package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/rutlab/routertest/pkg/log"
)

// FilterOptions holds the selection flags shared by view and filter.
// Empty fields match everything.
type FilterOptions struct {
	SessionID string
	Channel   string
	Kind      string
	Host      string
	TimeStart string
	TimeEnd   string
	Failed    bool
}

// Filter converts the flag values into a log.Filter.
func (o FilterOptions) Filter() (log.Filter, error) {
	filter := log.Filter{
		SessionID:  o.SessionID,
		Host:       o.Host,
		FailedOnly: o.Failed,
	}

	if o.Channel != "" {
		c, err := log.ParseChannel(o.Channel)
		if err != nil {
			return filter, err
		}
		filter.Channel = &c
	}
	if o.Kind != "" {
		k, err := log.ParseKind(o.Kind)
		if err != nil {
			return filter, err
		}
		filter.Kind = &k
	}
	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	return filter, nil
}

// RunFilter copies the events of path matching opts into output and reports
// the count on w.
func RunFilter(path, output string, opts FilterOptions, w io.Writer) error {
	filter, err := opts.Filter()
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return fmt.Errorf("failed to create output transcript: %w", err)
	}
	defer logger.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
		count++
	}

	fmt.Fprintf(w, "Filtered %d events to %s\n", count, output)
	return nil
}
