package mock

import (
	"sync"

	rtlog "github.com/rutlab/routertest/pkg/log"
)

// Transcript collects transcript events in memory.
type Transcript struct {
	events []rtlog.Event
	mu     sync.Mutex
}

// Log implements rtlog.Logger.
func (t *Transcript) Log(e rtlog.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

// Events returns a copy of the collected events.
func (t *Transcript) Events() []rtlog.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]rtlog.Event(nil), t.events...)
}

// Commands returns the command text of every command event.
func (t *Transcript) Commands() []string {
	var out []string
	for _, e := range t.Events() {
		if e.Command != nil {
			out = append(out, e.Command.Command)
		}
	}
	return out
}

var _ rtlog.Logger = (*Transcript)(nil)
