package log

import (
	"fmt"
	"strings"
	"time"
)

// MaxOutputSize bounds the command output stored in one event.
const MaxOutputSize = 4096

// Event is one transcript record. Exactly one of Command, State or Error is
// set, matching Kind.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the SSH session, API login or probe (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Channel is the transport that produced the event.
	Channel Channel `cbor:"3,keyasint"`

	// Kind classifies the payload.
	Kind Kind `cbor:"4,keyasint"`

	// Host is the router or broker address.
	Host string `cbor:"5,keyasint,omitempty"`

	// Scenario is the scenario being driven, when known.
	Scenario string `cbor:"6,keyasint,omitempty"`

	Command *CommandEvent `cbor:"10,keyasint,omitempty"`
	State   *StateEvent   `cbor:"11,keyasint,omitempty"`
	Error   *ErrorEvent   `cbor:"12,keyasint,omitempty"`
}

// Channel identifies the transport of an event.
type Channel uint8

const (
	// ChannelSSH is a UCI shell command over SSH.
	ChannelSSH Channel = 0
	// ChannelAPI is a REST request.
	ChannelAPI Channel = 1
	// ChannelProbe is an MQTT liveness probe.
	ChannelProbe Channel = 2
)

// String returns the channel name.
func (c Channel) String() string {
	switch c {
	case ChannelSSH:
		return "SSH"
	case ChannelAPI:
		return "API"
	case ChannelProbe:
		return "PROBE"
	default:
		return "UNKNOWN"
	}
}

// ParseChannel accepts the names printed by Channel.String, in any case.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToUpper(s) {
	case "SSH":
		return ChannelSSH, nil
	case "API":
		return ChannelAPI, nil
	case "PROBE":
		return ChannelProbe, nil
	}
	return 0, fmt.Errorf("invalid channel: %s (valid: ssh, api, probe)", s)
}

// Kind classifies an event payload.
type Kind uint8

const (
	// KindCommand carries a CommandEvent.
	KindCommand Kind = 0
	// KindState carries a StateEvent.
	KindState Kind = 1
	// KindError carries an ErrorEvent.
	KindError Kind = 2
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "COMMAND"
	case KindState:
		return "STATE"
	case KindError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseKind accepts the names printed by Kind.String, in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(s) {
	case "COMMAND":
		return KindCommand, nil
	case "STATE":
		return KindState, nil
	case "ERROR":
		return KindError, nil
	}
	return 0, fmt.Errorf("invalid kind: %s (valid: command, state, error)", s)
}

// CommandEvent records one command or request and its result.
type CommandEvent struct {
	// Command is the shell command, or "METHOD endpoint" for REST calls.
	Command string `cbor:"1,keyasint"`

	// Output is the response text, truncated to MaxOutputSize.
	Output string `cbor:"2,keyasint,omitempty"`

	// Truncated is set when Output was cut.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// ExitStatus is the remote exit status or HTTP status code.
	ExitStatus *int `cbor:"4,keyasint,omitempty"`

	// Duration is the wall time of the command.
	Duration time.Duration `cbor:"5,keyasint"`

	// Err is the transport or execution error, if any.
	Err string `cbor:"6,keyasint,omitempty"`
}

// Failed reports whether the command errored.
func (c *CommandEvent) Failed() bool {
	return c.Err != ""
}

// StateEvent records a session lifecycle change such as connect or close.
type StateEvent struct {
	OldState string `cbor:"1,keyasint,omitempty"`
	NewState string `cbor:"2,keyasint"`
	Reason   string `cbor:"3,keyasint,omitempty"`
}

// ErrorEvent records an error not tied to a single command.
type ErrorEvent struct {
	Message string `cbor:"1,keyasint"`

	// Context describes the operation in progress.
	Context string `cbor:"2,keyasint,omitempty"`
}

// Truncate cuts s to at most max bytes and reports whether it did.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	return s[:max], true
}

// NewCommandEvent builds a command event with output truncation applied.
func NewCommandEvent(sessionID string, ch Channel, host, command, output string, status *int, d time.Duration, err error) Event {
	out, truncated := Truncate(output, MaxOutputSize)
	cmd := &CommandEvent{
		Command:    command,
		Output:     out,
		Truncated:  truncated,
		ExitStatus: status,
		Duration:   d,
	}
	if err != nil {
		cmd.Err = err.Error()
	}
	return Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Channel:   ch,
		Kind:      KindCommand,
		Host:      host,
		Command:   cmd,
	}
}

// NewStateEvent builds a state change event.
func NewStateEvent(sessionID string, ch Channel, host, oldState, newState, reason string) Event {
	return Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Channel:   ch,
		Kind:      KindState,
		Host:      host,
		State:     &StateEvent{OldState: oldState, NewState: newState, Reason: reason},
	}
}

// NewErrorEvent builds an error event.
func NewErrorEvent(sessionID string, ch Channel, host, context string, err error) Event {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Channel:   ch,
		Kind:      KindError,
		Host:      host,
		Error:     &ErrorEvent{Message: msg, Context: context},
	}
}
