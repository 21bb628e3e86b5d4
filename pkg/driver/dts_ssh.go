package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/rutlab/routertest/pkg/scenario"
	"github.com/rutlab/routertest/pkg/uci"
)

const notFound = "not_found"

// Default section ids used when data_sender has no section of a type.
var defaultSectionIDs = uci.Sections{Collection: "1", Output: "2", Input: "3"}

// DTSSSH configures a Data-to-Server pipeline with uci commands.
type DTSSSH struct {
	Logger *slog.Logger
}

// Configure writes the collection, input and output sections for cfg,
// commits data_sender and restarts it. Sections of an existing instance with
// the same name are reused.
func (d *DTSSSH) Configure(ctx context.Context, r *uci.Runner, cfg *scenario.DTSConfig) (*Report, error) {
	if cfg == nil {
		cfg = &scenario.DTSConfig{}
	}
	logger := loggerOr(d.Logger)
	instance := cfg.Instance()

	secs, err := d.identifySections(ctx, r, instance)
	if err != nil {
		return nil, err
	}
	logger.Debug("data_sender sections",
		slog.String("instance", instance),
		slog.String("collection", secs.Collection),
		slog.String("output", secs.Output),
		slog.String("input", secs.Input))

	w := newWriter(ctx, r, DTSPackage)
	for _, s := range []struct{ id, typ string }{
		{secs.Collection, uci.TypeCollection},
		{secs.Output, uci.TypeOutput},
		{secs.Input, uci.TypeInput},
	} {
		if r.GetOr(ctx, uci.Loc(DTSPackage, s.id, ""), notFound) == notFound {
			w.declare(s.id, s.typ)
		}
	}

	w.set(secs.Input, "name", "input"+secs.Input)
	w.set(secs.Output, "name", instance+"_output")

	c := secs.Collection
	w.set(c, "enabled", "1")
	w.set(c, "name", instance)
	w.set(c, "format", "json")
	w.set(c, "input", secs.Input)
	w.set(c, "output", secs.Output)
	writeTiming(w, c, cfg)
	if err := w.failed("configure collection"); err != nil {
		return nil, err
	}

	writeInput(w, secs.Input, cfg.Data())
	if err := w.failed("configure input"); err != nil {
		return nil, err
	}

	senderID, err := nextSenderID(ctx, r)
	if err != nil {
		return nil, err
	}
	w.set(c, "sender_id", senderID)

	if cfg.ServerConfig != nil {
		writeOutput(w, secs.Output, cfg.ServerConfig)
	} else {
		logger.Warn("scenario has no server_config, output left unconfigured", slog.String("instance", instance))
	}
	if err := w.failed("configure output"); err != nil {
		return nil, err
	}

	if err := r.Apply(ctx, DTSPackage); err != nil {
		return nil, fmt.Errorf("apply data_sender config: %w", err)
	}
	if _, err := r.Run(ctx, "sleep 2"); err != nil {
		return nil, err
	}

	rep := &Report{
		Feature:  scenario.FeatureDTS,
		Channel:  scenario.ChannelSSH,
		Instance: instance,
		Sections: &secs,
		SenderID: senderID,
	}
	if err := d.Verify(ctx, r, cfg, secs); err != nil {
		rep.Message = err.Error()
		logger.Warn("data_sender verification failed", slog.String("instance", instance), slog.Any("error", err))
	} else {
		rep.Verified = true
		rep.Message = "Data to Server configured successfully"
	}
	return rep, nil
}

// Verify reads back the collection and output options written for cfg.
func (d *DTSSSH) Verify(ctx context.Context, r *uci.Runner, cfg *scenario.DTSConfig, secs uci.Sections) error {
	var errs []error
	check := func(id, option, want string) {
		got := r.GetOr(ctx, uci.Loc(DTSPackage, id, option), "")
		if got != want {
			errs = append(errs, fmt.Errorf("%s.%s.%s: expected %q, got %q", DTSPackage, id, option, want, got))
		}
	}
	check(secs.Collection, "enabled", "1")
	check(secs.Collection, "name", cfg.Instance())
	if s := cfg.ServerConfig; s != nil {
		check(secs.Output, "mqtt_host", s.ServerAddress.Or("localhost"))
		check(secs.Output, "mqtt_port", s.Port.Or(scenario.DefaultMQTTPort))
	}
	return errors.Join(errs...)
}

// identifySections returns the sections already linked to instance, or
// fresh ids that collide with no existing section.
func (d *DTSSSH) identifySections(ctx context.Context, r *uci.Runner, instance string) (uci.Sections, error) {
	tbl, err := r.Show(ctx, DTSPackage)
	switch {
	case uci.IsExitError(err):
		tbl = uci.NewTable(DTSPackage)
	case err != nil:
		return uci.Sections{}, fmt.Errorf("read data_sender: %w", err)
	}

	strategy := uci.NameStrategy{Lookup: uci.RunnerTypeLookup(r, DTSPackage)}
	found, ok := strategy.Resolve(ctx, tbl, instance)
	if !ok {
		found = uci.Sections{}
	}

	used := make(map[string]bool)
	for _, id := range tbl.IDs() {
		used[id] = true
	}
	for _, id := range found.IDs() {
		used[id] = true
	}
	pick := func(have, typ, def string) string {
		if have != "" {
			return have
		}
		n := highestID(tbl.SectionsOfType(typ)) + 1
		if n == 1 {
			n, _ = strconv.Atoi(def)
		}
		for used[strconv.Itoa(n)] {
			n++
		}
		id := strconv.Itoa(n)
		used[id] = true
		return id
	}
	return uci.Sections{
		Collection: pick(found.Collection, uci.TypeCollection, defaultSectionIDs.Collection),
		Output:     pick(found.Output, uci.TypeOutput, defaultSectionIDs.Output),
		Input:      pick(found.Input, uci.TypeInput, defaultSectionIDs.Input),
	}, nil
}

func highestID(sections []*uci.Section) int {
	highest := 0
	for _, s := range sections {
		if n, err := strconv.Atoi(s.ID); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

// nextSenderID returns one more than the highest sender_id of any collection.
func nextSenderID(ctx context.Context, r *uci.Runner) (string, error) {
	tbl, err := r.Show(ctx, DTSPackage)
	if err != nil {
		return "", fmt.Errorf("read data_sender: %w", err)
	}
	highest := 0
	for _, s := range tbl.SectionsOfType(uci.TypeCollection) {
		v := r.GetOr(ctx, uci.Loc(DTSPackage, s.ID, "sender_id"), "0")
		if n, err := strconv.Atoi(v); err == nil && n > highest {
			highest = n
		}
	}
	return strconv.Itoa(highest + 1), nil
}

func writeTiming(w *writer, id string, cfg *scenario.DTSConfig) {
	timer, period, sched := cfg.Timing()
	if timer == scenario.TimerScheduler {
		w.set(id, "timer", scenario.TimerScheduler)
		if sched.DayTime.IsSet() {
			w.set(id, "day_time", sched.DayTime.String())
		}
		w.set(id, "day_mode", sched.DayMode())
		days := scenario.Texts(sched.MonthDays)
		if len(days) > 0 {
			w.list(id, "month_days", days)
		}
		if len(sched.Weekdays) > 0 {
			w.set(id, "weekdays", strings.Join(scenario.Texts(sched.Weekdays), " "))
		}
		w.set(id, "last_day", sched.ForceLastDay.FlagOr(false))
		w.set(id, "retry", sched.Retry.FlagOr(false))
		w.set(id, "time", sched.DayTime.String()+":"+strings.Join(days, ",")+":")
		w.set(id, "retry_count", sched.RetryCount.Or("0"))
		w.set(id, "retry_timeout", sched.Timeout.Or("0"))
		return
	}
	w.set(id, "timer", scenario.TimerPeriod)
	w.set(id, "period", period.Period.Or(scenario.DefaultPeriod))
	w.set(id, "retry", period.Retry.FlagOr(false))
}

func writeOutput(w *writer, id string, s *scenario.ServerConfig) {
	w.set(id, "plugin", "mqtt")
	w.set(id, "mqtt_host", s.ServerAddress.Or("localhost"))
	w.set(id, "mqtt_port", s.Port.Or(scenario.DefaultMQTTPort))
	w.set(id, "mqtt_keepalive", s.Keepalive.Or("30"))
	w.set(id, "mqtt_topic", s.Topic.Or(scenario.DefaultTopic))
	w.set(id, "mqtt_client_id", s.ClientID.Or(scenario.DefaultClientID))
	w.set(id, "mqtt_qos", s.QoS.Or("2"))

	if s.EnableSecureConnection.Bool() {
		sc := s.SecureConnection
		if sc == nil {
			sc = &scenario.SecureConnection{}
		}
		w.set(id, "mqtt_tls", "1")
		w.set(id, "mqtt_insecure", sc.AllowInsecure.FlagOr(false))
		w.set(id, "mqtt_device_files", sc.FilesFromDevice.FlagOr(false))
		w.set(id, "mqtt_tls_type", "cert")
		files := sc.Files()
		if files.CAFile.IsSet() {
			w.set(id, "mqtt_cafile", CertificateDir+files.CAFile.String())
		}
		if files.ClientCert.IsSet() {
			w.set(id, "mqtt_certfile", SSLCertDir+files.ClientCert.String())
		}
		if files.ClientKeyFile.IsSet() {
			w.set(id, "mqtt_keyfile", CertificateDir+files.ClientKeyFile.String())
		}
	}

	useCreds := s.UseCredentials.Bool()
	w.set(id, "mqtt_use_credentials", flagOf(useCreds))
	if useCreds {
		w.set(id, "mqtt_username", s.Username.String())
		w.set(id, "mqtt_password", s.Password.String())
	}
}

// Input types whose settings are written by a dedicated function instead of
// being copied key by key.
var inputWriters = map[string]func(w *writer, id string, s scenario.Settings){
	"mqtt":            writeMQTTInput,
	"impulse counter": writeImpulseCounter,
	"mobile usage":    writeMobileUsage,
	"modbus":          writeModbus,
	"modbus alarms":   writeModbusAlarms,
	"wifi scanner":    writeWifiScanner,
}

func writeInput(w *writer, id string, data *scenario.DataConfig) {
	typ := data.Type.Or("Base")
	key := strings.ToLower(strings.TrimSpace(typ))
	w.set(id, "plugin", scenario.PluginName(typ))

	format := strings.ToLower(data.FormatType.Or("json"))
	w.set(id, "format", format)
	if format == "custom" {
		w.set(id, "format_str", data.FormatString.String())
		w.set(id, "na_str", data.EmptyValue.String())
		w.set(id, "delimiter", data.Delimiter.String())
	}

	members := scenario.Texts(data.Values)
	if len(members) == 0 && key == "impulse counter" {
		members = []string{"pin_name", "timestamp", "count"}
	}
	if len(members) > 0 {
		w.list(id, "members", members)
	}

	if fn, ok := inputWriters[key]; ok {
		if len(data.TypeSettings) > 0 || key == "impulse counter" {
			fn(w, id, data.TypeSettings)
		}
		return
	}
	keys := make([]string, 0, len(data.TypeSettings))
	for k := range data.TypeSettings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if data.TypeSettings.Map(k) != nil {
			continue
		}
		w.set(id, k, data.TypeSettings.String(k))
	}
}

func writeMQTTInput(w *writer, id string, s scenario.Settings) {
	w.set(id, "mqtt_in_host", s.StringOr("server_address", "localhost"))
	w.set(id, "mqtt_in_port", s.StringOr("port", "1338"))
	w.set(id, "mqtt_in_topic", s.StringOr("topic", "test"))
	w.set(id, "mqtt_in_client_id", s.StringOr("client_id", "client"))
	w.set(id, "mqtt_in_qos", s.StringOr("QoS", "0"))
	w.set(id, "mqtt_in_keepalive", s.StringOr("keepalive", "60"))
	if s.Has("username") && s.Has("password") {
		w.set(id, "mqtt_in_username", s.String("username"))
		w.set(id, "mqtt_in_password", s.String("password"))
	}
	if !s.Bool("enable_secure_connection") {
		return
	}
	w.set(id, "mqtt_in_tls", "1")
	w.set(id, "mqtt_in_tls_type", "cert")
	sc := s.Map("secure_connection")
	w.set(id, "mqtt_in_insecure", flagOf(sc.Bool("allow_insecure_connection")))
	fromDevice := sc.Bool("certificate_files_from_device")
	w.set(id, "mqtt_device_files", flagOf(fromDevice))
	files := sc
	if dev := sc.Map("device_certificates"); fromDevice && dev != nil {
		files = dev
	}
	if v := files.String("certificate_authority_file"); v != "" {
		w.set(id, "mqtt_in_cafile", CertificateDir+v)
	}
	if v := files.String("client_certificate"); v != "" {
		w.set(id, "mqtt_in_certfile", SSLCertDir+v)
	}
	if v := files.String("client_private_keyfile"); v != "" {
		w.set(id, "mqtt_in_keyfile", CertificateDir+v)
	}
}

type impulsePin struct{ name, number string }

var impulsePins = map[string]impulsePin{
	"input (3)":  {"din1", "1"},
	"input (4)":  {"din2", "2"},
	"output (3)": {"dout1", "3"},
	"output (4)": {"dout2", "4"},
}

// pinFor maps a UI pin label to its device name and list index. Device names
// pass through unchanged.
func pinFor(label string) impulsePin {
	key := strings.ToLower(strings.TrimSpace(label))
	if p, ok := impulsePins[key]; ok {
		return p
	}
	for _, p := range impulsePins {
		if p.name == key {
			return p
		}
	}
	return impulsePin{name: key, number: "1"}
}

func writeImpulseCounter(w *writer, id string, s scenario.Settings) {
	w.set(id, "impulse_counter_object", "1")
	w.set(id, "impulse_counter_segments", s.StringOr("segments", "3"))
	if s.Bool("invert_filter") {
		w.set(id, "impulse_counter_filter_invert", "1")
	}
	filter := s.StringOr("filter", "pin")
	w.set(id, "impulse_counter_filter", filter)
	if filter == "pin" {
		pin := pinFor(s.StringOr("impulse_counter_pin", "Input (3)"))
		w.set(id, "impulse_counter_filter_pin", pin.name)
		w.set(id, "filter_list_impulse_counter_filter_pin", pin.number)
	}
}

func writeMobileUsage(w *writer, id string, s scenario.Settings) {
	if s.Has("SIM_number") {
		w.set(id, "mdc_sim", digits(s.String("SIM_number")))
	}
	if s.Has("data_period") {
		w.set(id, "mdc_period", strings.ToLower(s.String("data_period")))
	}
	if s.Has("current") {
		w.set(id, "mdc_current", flagOf(s.Bool("current")))
	}
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// filterRule maps a data_filtering label to the filter mode and the option
// holding the filter values.
type filterRule struct {
	label   string
	mode    string
	option  string
	setting string
}

var modbusFilters = []filterRule{
	{"Server IP address", "ip", "modbus_filter_server_ip", "server_ip"},
	{"Server ID", "id", "modbus_filter_server_id", "server_id"},
	{"Request name", "name", "modbus_filter_request", "request_name"},
}

var modbusAlarmFilters = []filterRule{
	{"Server ID", "server_id", "modbus_alarm_filter_server_id", "server_id"},
	{"Alarm ID", "alarm_id", "modbus_alarm_filter_alarm_id", "alarm_id"},
	{"Register number", "register", "modbus_alarm_filter_register", "register_number"},
}

var wifiFilters = []filterRule{
	{"Signal strength", "signal", "wifi_filter_signal", "signal_strength"},
	{"Name", "name", "wifi_filter_name", "device_hostname"},
	{"MAC address", "mac", "wifi_filter_mac", "mac_address"},
}

func findFilter(rules []filterRule, label string) (filterRule, bool) {
	for _, r := range rules {
		if strings.EqualFold(r.label, label) {
			return r, true
		}
	}
	return filterRule{}, false
}

func writeFilter(w *writer, id, key string, rules []filterRule, s scenario.Settings) {
	rule, ok := findFilter(rules, s.String("data_filtering"))
	if !ok {
		return
	}
	w.set(id, key, rule.mode)
	if values := s.List(rule.setting); len(values) > 0 {
		w.values(id, rule.option, values)
		w.set(id, "filter_list_"+rule.option, flagOf(len(values) > 1))
	}
}

func writeModbus(w *writer, id string, s scenario.Settings) {
	writeFilter(w, id, "modbus_filter", modbusFilters, s)
	if s.Has("segment_count") {
		w.set(id, "modbus_segments", s.String("segment_count"))
	}
	w.set(id, "modbus_object", flagOf(s.Bool("send_as_object")))
}

func writeModbusAlarms(w *writer, id string, s scenario.Settings) {
	writeFilter(w, id, "modbus_alarm_filter", modbusAlarmFilters, s)
}

func writeWifiScanner(w *writer, id string, s scenario.Settings) {
	writeFilter(w, id, "wifi_filter", wifiFilters, s)
	if s.Has("segment_count") {
		w.set(id, "wifi_segments", s.String("segment_count"))
	}
}
