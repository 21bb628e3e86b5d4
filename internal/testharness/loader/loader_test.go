package loader_test

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rutlab/routertest/internal/testharness/loader"
	"github.com/rutlab/routertest/pkg/scenario"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDeviceConfigJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "device.json", `{
  "device": {
    "name": "RUTX11",
    "ip": "192.168.1.1",
    "modem": "EG06",
    "firmware": "RUTX_R_00.07.06",
    "credentials": {"username": "admin", "password": "Admin123"}
  },
  "mqtt_scenarios": ["broker_basic", "broker_tls"],
  "dts_scenarios": ["dts_base"],
  "validation": {"require_liveness": true, "liveness_timeout": 7, "timeout": "2m"}
}`)

	cfg, err := loader.LoadDeviceConfig(path)
	if err != nil {
		t.Fatalf("LoadDeviceConfig: %v", err)
	}
	if cfg.Device.Name != "RUTX11" || cfg.Device.Modem != "EG06" {
		t.Errorf("device mismatch: %+v", cfg.Device)
	}
	if cfg.Device.SSH.Username != "admin" || cfg.Device.SSH.Password != "Admin123" {
		t.Errorf("ssh credentials should default to web credentials, got %+v", cfg.Device.SSH)
	}
	if cfg.Device.Address() != "192.168.1.1:22" {
		t.Errorf("Address = %q", cfg.Device.Address())
	}
	if len(cfg.MQTTScenarios) != 2 || cfg.DTSScenarios[0] != "dts_base" {
		t.Errorf("scenario lists mismatch: %v %v", cfg.MQTTScenarios, cfg.DTSScenarios)
	}
	if !cfg.Validation.RequireLiveness {
		t.Error("require_liveness not decoded")
	}
	if cfg.Validation.LivenessTimeout.Std() != 7*time.Second {
		t.Errorf("liveness_timeout = %v", cfg.Validation.LivenessTimeout.Std())
	}
	if cfg.Validation.Timeout.Std() != 2*time.Minute {
		t.Errorf("timeout = %v", cfg.Validation.Timeout.Std())
	}
}

func TestLoadDeviceConfigSSHOverride(t *testing.T) {
	cfg, err := loader.ParseDeviceConfig([]byte(`
device:
  name: lab
  ip: 10.0.0.1
  credentials: {username: admin, password: web}
  ssh: {username: root, password: shell, port: 2222}
`))
	if err != nil {
		t.Fatalf("ParseDeviceConfig: %v", err)
	}
	if cfg.Device.SSH.Username != "root" || cfg.Device.SSH.Password != "shell" {
		t.Errorf("ssh override lost: %+v", cfg.Device.SSH)
	}
	if cfg.Device.Address() != "10.0.0.1:2222" {
		t.Errorf("Address = %q", cfg.Device.Address())
	}
}

func TestLoadDeviceConfigMissingField(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "device.yaml", `
device:
  name: lab
  credentials: {username: admin, password: x}
`)

	_, err := loader.LoadDeviceConfig(path)
	if err == nil {
		t.Fatal("expected error for missing device.ip")
	}
	var le *loader.LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LoadError, got %T", err)
	}
	if le.Message != "missing required field: device.ip" {
		t.Errorf("Message = %q", le.Message)
	}
	if le.File != path {
		t.Errorf("File = %q, want %q", le.File, path)
	}
}

func TestLoadDeviceConfigOptionalIP(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "device.yaml", `
device:
  name: lab
  credentials: {username: admin, password: x}
`)

	cfg, err := loader.LoadDeviceConfig(path, loader.OptionalIP())
	if err != nil {
		t.Fatalf("LoadDeviceConfig: %v", err)
	}
	if cfg.Device.IP != "" {
		t.Errorf("IP = %q, want empty", cfg.Device.IP)
	}

	noName := writeFile(t, dir, "noname.yaml", `
device:
  credentials: {username: admin, password: x}
`)
	if _, err := loader.LoadDeviceConfig(noName, loader.OptionalIP()); err == nil {
		t.Error("OptionalIP must not relax device.name")
	}
}

func TestLoadDeviceConfigMissingFile(t *testing.T) {
	_, err := loader.LoadDeviceConfig(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestLoadErrorFormatting(t *testing.T) {
	err := &loader.LoadError{File: "a.yaml", Line: 12, Message: "bad", Cause: errors.New("boom")}
	if got := err.Error(); got != "a.yaml:12: bad: boom" {
		t.Errorf("Error() = %q", got)
	}
	err = &loader.LoadError{Message: "missing required field: device.name"}
	if got := err.Error(); got != "missing required field: device.name" {
		t.Errorf("Error() = %q", got)
	}
}

func TestParseDeviceConfigReportsLine(t *testing.T) {
	_, err := loader.ParseDeviceConfig([]byte("device:\n  name: a\n  ip: [unterminated\n"))
	var le *loader.LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
	if le.Line == 0 {
		t.Errorf("expected a line number in %v", err)
	}
}

func TestLoadScenarioEnvelope(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broker_tls.json", `{
  "scenario_name": "Broker with TLS",
  "config": {
    "port": 8883,
    "remote_access": true,
    "anonymous_access": false,
    "security": {"TLS/SSL": true, "TLS_version": "tlsv1.2"}
  }
}`)

	res := loader.LoadScenario(dir, "broker_tls", scenario.FeatureBroker)
	if !res.Found || res.Err != nil {
		t.Fatalf("LoadScenario: found=%v err=%v", res.Found, res.Err)
	}
	sc := res.Scenario
	if sc.Name != "Broker with TLS" || sc.Feature != scenario.FeatureBroker {
		t.Errorf("scenario header mismatch: %q %q", sc.Name, sc.Feature)
	}
	if sc.Broker == nil || sc.DTS != nil {
		t.Fatal("expected broker config only")
	}
	if sc.Broker.Port.String() != "8883" || !sc.Broker.RemoteAccess.Bool() {
		t.Errorf("broker fields mismatch: %+v", sc.Broker)
	}
	if sc.Broker.AnonymousAccess.Flag() != "0" {
		t.Errorf("anonymous_access flag = %q", sc.Broker.AnonymousAccess.Flag())
	}
	if sc.Broker.Security == nil || !sc.Broker.Security.TLS.Bool() {
		t.Error("security block not decoded")
	}
}

func TestLoadScenarioFallsBackToFileName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dts_scheduler.yaml", `
config:
  instanceName: sched
  collection_config-scheduler:
    day_time: "10:30"
    interval_type: Month days
    month_day: [1, 15]
  data_config:
    type: Mobile usage
    type_settings: {SIM_number: SIM 1}
`)

	res := loader.LoadScenario(dir, "dts_scheduler", scenario.FeatureDTS)
	if res.Err != nil {
		t.Fatalf("LoadScenario: %v", res.Err)
	}
	sc := res.Scenario
	if sc.Name != "dts_scheduler" {
		t.Errorf("Name = %q, want file name", sc.Name)
	}
	if sc.DTS.Instance() != "sched" {
		t.Errorf("Instance = %q", sc.DTS.Instance())
	}
	timer, _, sched := sc.DTS.Timing()
	if timer != "scheduler" || sched.DayMode() != "month" {
		t.Errorf("timing = %q %v", timer, sched)
	}
	if got := scenario.Texts(sched.MonthDays); strings.Join(got, ",") != "1,15" {
		t.Errorf("month days = %v", got)
	}
	if sc.DTS.Data().TypeSettings.String("SIM_number") != "SIM 1" {
		t.Errorf("type_settings not decoded: %v", sc.DTS.Data().TypeSettings)
	}
}

func TestLoadScenarioBareConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plain.yml", "port: 1884\n")

	res := loader.LoadScenario(dir, "plain", scenario.FeatureBroker)
	if res.Err != nil {
		t.Fatalf("LoadScenario: %v", res.Err)
	}
	if res.Scenario.Broker.ExpectedPort() != "1884" {
		t.Errorf("port = %q", res.Scenario.Broker.ExpectedPort())
	}
}

func TestLoadScenarioPrefersJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dup.json", `{"config": {"port": 1}}`)
	writeFile(t, dir, "dup.yaml", "config:\n  port: 2\n")

	res := loader.LoadScenario(dir, "dup", scenario.FeatureBroker)
	if res.Err != nil {
		t.Fatalf("LoadScenario: %v", res.Err)
	}
	if res.Scenario.Broker.Port.String() != "1" {
		t.Errorf("expected .json to win, got port %q", res.Scenario.Broker.Port)
	}
}

func TestLoadScenarioStates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.json", `{"config": [1, 2]}`)

	missing := loader.LoadScenario(dir, "absent", scenario.FeatureBroker)
	if missing.Found || missing.Err != nil || missing.Scenario != nil {
		t.Errorf("missing file: %+v", missing)
	}

	broken := loader.LoadScenario(dir, "broken", scenario.FeatureBroker)
	if !broken.Found || broken.Err == nil {
		t.Fatalf("broken file: %+v", broken)
	}
	if !strings.Contains(broken.Err.Error(), "broken.json") {
		t.Errorf("error should name the file: %v", broken.Err)
	}
}

func TestLoadScenariosOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dts_a.json", `{"config": {"instanceName": "a"}}`)
	writeFile(t, dir, "mqtt_a.json", `{"config": {"port": 1883}}`)
	writeFile(t, dir, "mqtt_bad.json", `{"config": "nope"}`)

	cfg := &loader.DeviceConfig{
		MQTTScenarios: []string{"mqtt_a", "mqtt_bad", "mqtt_missing"},
		DTSScenarios:  []string{"dts_a"},
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	got := loader.LoadScenarios(dir, cfg, logger)
	if len(got) != 2 {
		t.Fatalf("expected 2 scenarios, got %d", len(got))
	}
	if got[0].Feature != scenario.FeatureBroker || got[1].Feature != scenario.FeatureDTS {
		t.Errorf("order mismatch: %s then %s", got[0].Feature, got[1].Feature)
	}
	if !strings.Contains(logs.String(), "mqtt_bad") || !strings.Contains(logs.String(), "mqtt_missing") {
		t.Errorf("skipped scenarios not logged: %s", logs.String())
	}
}
