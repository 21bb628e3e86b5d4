// Package driver applies test scenarios to a router through one of its
// configuration channels.
//
// The SSH drivers write UCI options directly and restart the affected
// service. The API drivers go through the router's REST API, which applies
// the same options server-side. Both leave the router in a state the
// validator can check over SSH.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rutlab/routertest/pkg/scenario"
	"github.com/rutlab/routertest/pkg/uci"
)

// UCI packages, sections and services touched by the drivers.
const (
	BrokerPackage = "mosquitto"
	BrokerSection = "mqtt"
	DTSPackage    = "data_sender"
)

// Device-side certificate directories used for data_sender TLS files.
const (
	CertificateDir = "/etc/certificates/"
	SSLCertDir     = "/etc/ssl/certs/"
)

// ErrServiceNotRunning is returned when a service does not report running
// after a restart.
var ErrServiceNotRunning = errors.New("service not running after restart")

// UnsupportedError reports a channel that cannot be driven. It matches
// errors.ErrUnsupported.
type UnsupportedError struct {
	Channel scenario.Channel
	Reason  string
}

func (e *UnsupportedError) Error() string { return e.Reason }

// Is reports whether target is errors.ErrUnsupported.
func (e *UnsupportedError) Is(target error) bool { return target == errors.ErrUnsupported }

// ErrBrowserUnavailable is returned by the gui channel.
var ErrBrowserUnavailable = &UnsupportedError{Channel: scenario.ChannelGUI, Reason: "browser automation not available"}

// GUI is the web UI channel. Browser automation is not available in this
// build, so every scenario is reported as unsupported.
type GUI struct{}

// Configure always returns ErrBrowserUnavailable.
func (GUI) Configure(context.Context, *scenario.Scenario) error {
	return ErrBrowserUnavailable
}

// Report describes what a driver applied. It is used as test details.
type Report struct {
	Feature  scenario.Feature `json:"feature"`
	Channel  scenario.Channel `json:"channel"`
	Instance string           `json:"instance,omitempty"`
	Port     string           `json:"port,omitempty"`
	Status   string           `json:"status,omitempty"`
	Sections *uci.Sections    `json:"sections,omitempty"`
	SenderID string           `json:"sender_id,omitempty"`
	Verified bool             `json:"verified"`
	Files    []string         `json:"files,omitempty"`
	Message  string           `json:"message,omitempty"`
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// writer issues uci set commands for one package and keeps the first error.
// Once an error is recorded every later call is a no-op.
type writer struct {
	ctx context.Context
	r   *uci.Runner
	pkg string
	err error
}

func newWriter(ctx context.Context, r *uci.Runner, pkg string) *writer {
	return &writer{ctx: ctx, r: r, pkg: pkg}
}

func (w *writer) set(id, option, value string) {
	if w.err != nil {
		return
	}
	w.err = w.r.Set(w.ctx, uci.Loc(w.pkg, id, option), value)
}

func (w *writer) flag(id, option string, v scenario.Scalar) {
	w.set(id, option, v.Flag())
}

func (w *writer) list(id, option string, items []string) {
	if w.err != nil {
		return
	}
	w.err = w.r.SetList(w.ctx, uci.Loc(w.pkg, id, option), items)
}

// values writes one item as a scalar and several as a list.
func (w *writer) values(id, option string, items []string) {
	if len(items) == 1 {
		w.set(id, option, items[0])
		return
	}
	w.list(id, option, items)
}

func (w *writer) declare(id, typ string) {
	if w.err != nil {
		return
	}
	w.err = w.r.Declare(w.ctx, w.pkg, id, typ)
}

func (w *writer) failed(what string) error {
	if w.err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, w.err)
}

func flagOf(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
