package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rutlab/routertest/pkg/restapi"
	"github.com/rutlab/routertest/pkg/scenario"
	"github.com/rutlab/routertest/pkg/uci"
)

// Data-to-Server REST resources.
const (
	CollectionsEndpoint = "data_to_server/collections/config"
	DataEndpoint        = "data_to_server/data/config"
	ServersEndpoint     = "data_to_server/servers/config"
)

// DTSAPI configures a Data-to-Server pipeline through the REST API.
type DTSAPI struct {
	Logger *slog.Logger
}

// CurrentConfig is the Data-to-Server state returned by the API.
type CurrentConfig struct {
	Collections []map[string]any
	Data        []map[string]any
	Servers     []map[string]any
}

// Configure creates a collection named after the instance and fills in its
// data plugin, server plugin and timing in one bulk request.
func (d *DTSAPI) Configure(ctx context.Context, c *restapi.Client, cfg *scenario.DTSConfig) (*Report, error) {
	if cfg == nil {
		cfg = &scenario.DTSConfig{}
	}
	logger := loggerOr(d.Logger)
	instance := cfg.Instance()

	current, err := d.CurrentConfig(ctx, c)
	if err != nil {
		logger.Warn("could not read Data-to-Server config", slog.Any("error", err))
		current = &CurrentConfig{}
	}
	secs := NextAPISections(current.Collections)

	var created map[string]any
	body := map[string]any{"data": map[string]any{"name": instance}}
	var env restapi.Envelope
	if err := c.Do(ctx, http.MethodPost, CollectionsEndpoint, body, &env); err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	if env.Decode(&created) == nil {
		if id := scenario.Stringify(created["id"]); id != "" {
			secs = sectionsFor(id)
		}
	}

	base := "/api/" + CollectionsEndpoint + "/" + secs.Collection
	reqs := []restapi.BulkRequest{
		{Method: http.MethodPut, Endpoint: base + "/data/" + secs.Input, Data: DataPlugin(instance, cfg.Data())},
		{Method: http.MethodPut, Endpoint: base + "/servers/" + secs.Output, Data: ServerPlugin(cfg.Server())},
		{Method: http.MethodPut, Endpoint: base, Data: CollectionUpdate(instance, cfg)},
	}
	resp, err := c.Bulk(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("configure collection %s: %w", secs.Collection, err)
	}
	rep := &Report{
		Feature:  scenario.FeatureDTS,
		Channel:  scenario.ChannelAPI,
		Instance: instance,
		Sections: &secs,
	}
	if failed := resp.Failed(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, idx := range failed {
			names[i] = reqs[idx].Endpoint
		}
		rep.Message = "bulk update failed for " + strings.Join(names, ", ")
		return rep, errors.New(rep.Message)
	}
	rep.Message = "Data to Server configured successfully"
	logger.Info(rep.Message, slog.String("instance", instance), slog.String("collection", secs.Collection))
	return rep, nil
}

// Verify re-reads the collection and checks its name and enabled flag.
func (d *DTSAPI) Verify(ctx context.Context, c *restapi.Client, rep *Report) error {
	if rep == nil || rep.Sections == nil {
		return errors.New("nothing to verify")
	}
	var coll map[string]any
	if err := c.GetConfig(ctx, CollectionsEndpoint+"/"+rep.Sections.Collection, &coll); err != nil {
		return fmt.Errorf("read collection %s: %w", rep.Sections.Collection, err)
	}
	var errs []error
	if name := scenario.Stringify(coll["name"]); name != rep.Instance {
		errs = append(errs, fmt.Errorf("collection name: expected %q, got %q", rep.Instance, name))
	}
	if enabled := scenario.Stringify(coll["enabled"]); enabled != "1" {
		errs = append(errs, fmt.Errorf("collection not enabled: enabled=%q", enabled))
	}
	return errors.Join(errs...)
}

// Cleanup deletes the collection created by Configure.
func (d *DTSAPI) Cleanup(ctx context.Context, c *restapi.Client, rep *Report) error {
	if rep == nil || rep.Sections == nil || rep.Sections.Collection == "" {
		return nil
	}
	body := map[string]any{"data": []string{rep.Sections.Collection}}
	if err := c.Do(ctx, http.MethodDelete, CollectionsEndpoint, body, nil); err != nil {
		return fmt.Errorf("delete collection %s: %w", rep.Sections.Collection, err)
	}
	return nil
}

// CurrentConfig reads collections, data plugins and servers in one bulk
// request.
func (d *DTSAPI) CurrentConfig(ctx context.Context, c *restapi.Client) (*CurrentConfig, error) {
	resp, err := c.Bulk(ctx, []restapi.BulkRequest{
		{Method: http.MethodGet, Endpoint: "/api/" + CollectionsEndpoint},
		{Method: http.MethodGet, Endpoint: "/api/" + DataEndpoint},
		{Method: http.MethodGet, Endpoint: "/api/" + ServersEndpoint},
	})
	if err != nil {
		return nil, err
	}
	cur := &CurrentConfig{}
	for i, out := range []*[]map[string]any{&cur.Collections, &cur.Data, &cur.Servers} {
		if err := resp.Decode(i, out); err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// NextAPISections predicts the ids the router assigns to a new collection.
// Collection ids follow 3k+1, with its server and data plugin next to it.
func NextAPISections(collections []map[string]any) uci.Sections {
	highest := 0
	for _, coll := range collections {
		if n, err := strconv.Atoi(scenario.Stringify(coll["id"])); err == nil && n > highest {
			highest = n
		}
	}
	if highest == 0 {
		return sectionsFor("1")
	}
	next := highest + 3
	if next%3 != 1 {
		next = (next/3+1)*3 - 2
	}
	return sectionsFor(strconv.Itoa(next))
}

func sectionsFor(collection string) uci.Sections {
	n, err := strconv.Atoi(collection)
	if err != nil {
		return uci.Sections{Collection: collection}
	}
	return uci.Sections{
		Collection: collection,
		Output:     strconv.Itoa(n + 1),
		Input:      strconv.Itoa(n + 2),
	}
}

// CollectionUpdate builds the collection body for the timing of cfg.
func CollectionUpdate(instance string, cfg *scenario.DTSConfig) map[string]any {
	timer, period, sched := cfg.Timing()
	out := map[string]any{
		".type":   uci.TypeCollection,
		"name":    instance,
		"format":  "json",
		"enabled": "1",
	}
	if timer == scenario.TimerPeriod {
		out["timer"] = scenario.TimerPeriod
		out["period"] = period.Period.Or(scenario.DefaultPeriod)
		out["retry"] = period.Retry.FlagOr(true)
		out["retry_count"] = "3"
		out["retry_timeout"] = "10"
		return out
	}

	out["timer"] = scenario.TimerScheduler
	out["period"] = ""
	out["time"] = []string{sched.DayTime.String()}
	mode := sched.DayMode()
	out["day_mode"] = mode
	switch mode {
	case "week":
		out["week_days"] = scenario.Texts(sched.Weekdays)
	case "month":
		out["month_days"] = scenario.Texts(sched.MonthDays)
	}
	if sched.ForceLastDay.IsSet() {
		out["last_day"] = sched.ForceLastDay.Flag()
	}
	out["retry"] = sched.Retry.FlagOr(true)
	out["retry_count"] = sched.RetryCount.Or("3")
	out["retry_timeout"] = sched.Timeout.Or("10")
	return out
}

// ServerPlugin builds the MQTT server plugin body.
func ServerPlugin(s *scenario.ServerConfig) map[string]any {
	out := map[string]any{
		".type":                uci.TypeOutput,
		"plugin":               "mqtt",
		"mqtt_host":            s.ServerAddress.Or(scenario.DefaultServerAddress),
		"mqtt_port":            s.Port.Or(scenario.DefaultMQTTPort),
		"mqtt_keepalive":       s.Keepalive.Or("30"),
		"mqtt_topic":           s.Topic.Or(scenario.DefaultTopic),
		"mqtt_client_id":       s.ClientID.Or(scenario.DefaultClientID),
		"mqtt_qos":             s.QoS.Or("2"),
		"mqtt_tls":             "0",
		"mqtt_use_credentials": "0",
		"http_tls":             "",
		"http_host":            "",
		"http_header":          "",
	}
	if s.EnableSecureConnection.Bool() {
		out["mqtt_tls"] = "1"
		if sc := s.SecureConnection; sc != nil {
			if sc.AllowInsecure.IsSet() {
				out["mqtt_insecure"] = sc.AllowInsecure.Flag()
			}
			if sc.FilesFromDevice.IsSet() {
				out["mqtt_certificates_from_device"] = sc.FilesFromDevice.Flag()
			}
			files := sc.Files()
			if files.CAFile.IsSet() {
				out["mqtt_ca_file"] = files.CAFile.String()
			}
			if files.ClientCert.IsSet() {
				out["mqtt_cert_file"] = files.ClientCert.String()
			}
			if files.ClientKeyFile.IsSet() {
				out["mqtt_key_file"] = files.ClientKeyFile.String()
			}
		}
	}
	if s.UseCredentials.Bool() {
		out["mqtt_use_credentials"] = "1"
		out["mqtt_username"] = s.Username.String()
		out["mqtt_password"] = s.Password.String()
	}
	return out
}
