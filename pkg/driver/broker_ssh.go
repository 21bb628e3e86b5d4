package driver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rutlab/routertest/pkg/scenario"
	"github.com/rutlab/routertest/pkg/uci"
)

// BrokerSSH configures the mosquitto broker with uci commands.
type BrokerSSH struct {
	Logger *slog.Logger
}

// Configure writes cfg to mosquitto.mqtt, commits, restarts the broker and
// checks that it reports running.
func (d *BrokerSSH) Configure(ctx context.Context, r *uci.Runner, cfg *scenario.BrokerConfig) (*Report, error) {
	if cfg == nil {
		cfg = &scenario.BrokerConfig{}
	}
	logger := loggerOr(d.Logger)
	w := newWriter(ctx, r, BrokerPackage)
	sec := BrokerSection

	w.set(sec, "enabled", "1")
	if cfg.Port.IsSet() {
		w.set(sec, "local_port", cfg.Port.String())
	}
	if cfg.RemoteAccess.IsSet() {
		w.flag(sec, "allow_ra", cfg.RemoteAccess)
	}

	if s := cfg.Security; s != nil {
		if s.TLS.IsSet() {
			w.flag(sec, "use_tls_ssl", s.TLS)
		}
		if c := s.Certificates; c != nil {
			if t := c.TLSTypeValue(); t != "" {
				w.set(sec, "tls_type", t)
			}
			if c.RequireCertificate.IsSet() {
				w.flag(sec, "require_certificate", c.RequireCertificate)
			}
			if dc := c.DeviceCertificates; dc != nil {
				w.set(sec, "ca_file", dc.CAFile.String())
				w.set(sec, "cert_file", dc.CertFile.String())
				w.set(sec, "key_file", dc.PrivateKeyFile.String())
			}
			if c.PreSharedKey.IsSet() {
				w.set(sec, "psk", c.PreSharedKey.String())
			}
			if c.Identity.IsSet() {
				w.set(sec, "identity", c.Identity.String())
			}
		}
		if s.TLSVersion.IsSet() {
			w.set(sec, "tls_version", s.TLSVersion.String())
		}
	}

	if m := cfg.Miscellaneous; m != nil {
		if m.Persistence.IsSet() {
			w.flag(sec, "persistence", m.Persistence)
		}
		if m.AllowAnonymous.IsSet() {
			w.flag(sec, "anonymous_access", m.AllowAnonymous)
		}
		if m.MaxQueuedMessages.IsSet() {
			w.set(sec, "max_queued_messages", m.MaxQueuedMessages.String())
		}
		if m.MaxPacketSize.IsSet() {
			w.set(sec, "max_packet_size", m.MaxPacketSize.String())
		}
	}
	if cfg.AnonymousAccess.IsSet() {
		w.flag(sec, "anonymous_access", cfg.AnonymousAccess)
	}
	if err := w.failed("configure broker"); err != nil {
		return nil, err
	}

	if err := r.Apply(ctx, BrokerPackage); err != nil {
		return nil, fmt.Errorf("apply broker config: %w", err)
	}

	rep := &Report{
		Feature: scenario.FeatureBroker,
		Channel: scenario.ChannelSSH,
		Port:    cfg.ExpectedPort(),
	}
	status, err := r.Query(ctx, uci.ServiceCmd(BrokerPackage, "status"))
	if err != nil {
		return rep, fmt.Errorf("broker status: %w", err)
	}
	rep.Status = status
	if !strings.Contains(strings.ToLower(status), "running") {
		rep.Message = "MQTT broker is not running after configuration"
		logger.Error(rep.Message, slog.String("status", status))
		return rep, fmt.Errorf("mosquitto: %w", ErrServiceNotRunning)
	}
	rep.Message = "MQTT broker configured successfully"
	logger.Info(rep.Message, slog.String("port", rep.Port))
	return rep, nil
}
