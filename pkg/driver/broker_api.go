package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/rutlab/routertest/pkg/restapi"
	"github.com/rutlab/routertest/pkg/scenario"
)

// BrokerEndpoint is the REST resource of the broker configuration.
const BrokerEndpoint = "mqtt/broker/config"

const defaultBrokerID = "mqtt"

// BrokerAPI configures the broker through the REST API.
type BrokerAPI struct {
	Logger *slog.Logger
}

// Configure PUTs cfg to the broker section. When the full update is
// rejected, a minimal update of the section is tried before giving up.
func (d *BrokerAPI) Configure(ctx context.Context, c *restapi.Client, cfg *scenario.BrokerConfig) (*Report, error) {
	if cfg == nil {
		cfg = &scenario.BrokerConfig{}
	}
	logger := loggerOr(d.Logger)

	item, err := d.current(ctx, c)
	if err != nil {
		return nil, err
	}
	id := defaultBrokerID
	if item != nil {
		if v := scenario.Stringify(item["id"]); v != "" {
			id = v
		}
	}

	tls := scenario.Scalar{}
	if cfg.Security != nil {
		tls = cfg.Security.TLS
	}
	update := map[string]any{
		"id":               id,
		"enabled":          "1",
		"anonymous_access": cfg.AnonymousAccess.FlagOr(true),
		"local_port":       []string{cfg.ExpectedPort()},
		"allow_ra":         cfg.RemoteAccess.FlagOr(false),
		"use_tls_ssl":      tls.FlagOr(false),
	}
	if s := cfg.Security; s != nil {
		if s.TLSVersion.IsSet() {
			update["tls_version"] = s.TLSVersion.String()
		}
		if certs := s.Certificates; certs != nil {
			if t := certs.TLSTypeValue(); t != "" {
				update["tls_type"] = t
			}
			if certs.RequireCertificate.IsSet() {
				update["require_certificate"] = certs.RequireCertificate.Flag()
			}
			if certs.PreSharedKey.IsSet() {
				update["psk"] = certs.PreSharedKey.String()
			}
			if certs.Identity.IsSet() {
				update["identity"] = certs.Identity.String()
			}
		}
	}
	if m := cfg.Miscellaneous; m != nil {
		if m.Persistence.IsSet() {
			update["persistence"] = m.Persistence.Flag()
		}
		if m.MaxQueuedMessages.IsSet() {
			update["max_queued_messages"] = m.MaxQueuedMessages.String()
		}
		if m.MaxPacketSize.IsSet() {
			update["max_packet_size"] = m.MaxPacketSize.String()
		}
	}

	rep := &Report{
		Feature: scenario.FeatureBroker,
		Channel: scenario.ChannelAPI,
		Port:    cfg.ExpectedPort(),
	}
	if _, err := c.SetConfig(ctx, BrokerEndpoint, []any{update}); err != nil {
		logger.Warn("broker update rejected, retrying with minimal settings", slog.Any("error", err))
		minimal := map[string]any{
			"enabled":          "1",
			"anonymous_access": update["anonymous_access"],
			"local_port":       update["local_port"],
			"allow_ra":         update["allow_ra"],
			"use_tls_ssl":      "0",
		}
		if _, ferr := c.SetConfig(ctx, BrokerEndpoint+"/"+id, minimal); ferr != nil {
			return nil, fmt.Errorf("configure broker: %w", errors.Join(err, ferr))
		}
		rep.Message = "MQTT broker configured with minimal settings"
	} else {
		rep.Message = "MQTT broker configured successfully"
	}

	if err := c.RestartService(ctx, BrokerPackage); err != nil {
		logger.Debug("broker restart request failed", slog.Any("error", err))
	}
	logger.Info(rep.Message, slog.String("id", id), slog.String("port", rep.Port))
	return rep, nil
}

// Verify reads the broker section back and compares it with cfg.
func (d *BrokerAPI) Verify(ctx context.Context, c *restapi.Client, cfg *scenario.BrokerConfig) error {
	item, err := d.current(ctx, c)
	if err != nil {
		return err
	}
	if item == nil {
		return errors.New("broker configuration is empty")
	}
	var errs []error
	if enabled := scenario.S(scenario.Stringify(item["enabled"])); !enabled.Bool() {
		errs = append(errs, fmt.Errorf("broker not enabled: enabled=%q", enabled.String()))
	}
	if cfg.Port.IsSet() {
		ports := scenario.Settings(item).List("local_port")
		if !slices.Contains(ports, cfg.Port.String()) {
			errs = append(errs, fmt.Errorf("port %s not in local_port %v", cfg.Port.String(), ports))
		}
	}
	if cfg.AnonymousAccess.IsSet() {
		got := scenario.S(scenario.Stringify(item["anonymous_access"])).Flag()
		if want := cfg.AnonymousAccess.Flag(); got != want {
			errs = append(errs, fmt.Errorf("anonymous_access: expected %s, got %s", want, got))
		}
	}
	return errors.Join(errs...)
}

// current returns the first broker section, or nil when there is none.
func (d *BrokerAPI) current(ctx context.Context, c *restapi.Client) (map[string]any, error) {
	var items []map[string]any
	if err := c.GetConfig(ctx, BrokerEndpoint, &items); err != nil {
		return nil, fmt.Errorf("read broker config: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}
