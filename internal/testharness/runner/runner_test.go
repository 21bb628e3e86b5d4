package runner_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rutlab/routertest/internal/testharness/engine"
	"github.com/rutlab/routertest/internal/testharness/loader"
	"github.com/rutlab/routertest/internal/testharness/mock"
	"github.com/rutlab/routertest/internal/testharness/runner"
	"github.com/rutlab/routertest/pkg/validator"
)

const brokerState = `mosquitto.mqtt=mosquitto
mosquitto.mqtt.enabled='0'
mosquitto.mqtt.local_port='1883'
mosquitto.mqtt.anonymous_access='0'`

const deviceConfig = `{
  "device": {
    "name": "RUTX11",
    "ip": "192.168.1.1",
    "modem": "EG06",
    "firmware": "RUTX_R_00.07.06",
    "credentials": {"username": "admin", "password": "secret"}
  },
  "mqtt_scenarios": ["broker_basic"],
  "dts_scenarios": ["dts_office"]
}`

const brokerScenario = `{
  "scenario_name": "basic",
  "config": {"port": 1883, "remote_access": false, "anonymous_access": true}
}`

const dtsScenario = `{
  "scenario_name": "office",
  "config": {
    "instanceName": "office",
    "server_config": {
      "server_address": "broker.example",
      "port": 1883,
      "topic": "site/telemetry",
      "client_id": "rut1",
      "QoS": 1
    },
    "collection_config-period": {"period": 30}
  }
}`

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type fixture struct {
	dir     string
	config  string
	results string
	router  *mock.Router
	dials   int
	dialIPs []string
	out     bytes.Buffer
}

func newFixture(t *testing.T, device string) *fixture {
	t.Helper()
	f := &fixture{dir: t.TempDir()}
	f.config = filepath.Join(f.dir, "device_config.json")
	f.results = filepath.Join(f.dir, "results")
	write(t, f.config, device)
	write(t, filepath.Join(f.dir, "scenarios", "broker_basic.json"), brokerScenario)
	write(t, filepath.Join(f.dir, "scenarios", "dts_office.json"), dtsScenario)
	f.router = mock.NewRouter("192.168.1.1").Load(brokerState)
	return f
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (f *fixture) runner(testType string) *runner.Runner {
	return runner.New(&runner.Config{
		TestType:     testType,
		DeviceConfig: f.config,
		ScenarioDir:  filepath.Join(f.dir, "scenarios"),
		ResultsDir:   f.results,
		WorkDir:      filepath.Join(f.dir, "work"),
		Output:       &f.out,
		Prober:       runner.ProberNone,
		Dialer: func(d *loader.DeviceConfig) validator.Session {
			f.dials++
			f.dialIPs = append(f.dialIPs, d.Device.IP)
			return f.router
		},
		Now: func() time.Time { return fixedNow },
	})
}

func names(suite *engine.SuiteResult) []string {
	var out []string
	for _, r := range suite.Results {
		out = append(out, r.Name)
	}
	return out
}

func statuses(suite *engine.SuiteResult) []engine.Status {
	var out []engine.Status
	for _, r := range suite.Results {
		out = append(out, r.Status)
	}
	return out
}

func TestRunSSHConfiguresAndValidates(t *testing.T) {
	f := newFixture(t, deviceConfig)
	r := f.runner("ssh")
	defer r.Close()

	suite, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"mqtt_broker_ssh_basic",
		"data_to_server_ssh_office",
		"validation_basic_office",
	}, names(suite))
	for _, res := range suite.Results {
		assert.Equal(t, engine.StatusPass, res.Status, "%s: %v", res.Name, res.Details)
	}
	assert.Equal(t, 3, suite.PassCount)

	v := suite.Results[2].Details.(*validator.Result)
	assert.True(t, v.Broker.Success)
	assert.True(t, v.DTS.Success)
	require.NotNil(t, v.Cleanup)
	assert.Empty(t, f.router.SectionIDs("data_sender"), "validation removes every pipeline after ssh")

	assert.Equal(t, 3, f.dials, "broker, dts and validation each use a fresh session")
	assert.False(t, f.router.Connected())

	csvPath := filepath.Join(f.results, "RUTX11_20260102_030405_EG06_RUTX_R_00.07.06.csv")
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "validation_basic_office,PASS,")
	assert.Contains(t, string(data), "2026-01-02 03:04:05")

	assert.Contains(t, f.out.String(), "[PASS] validation_basic_office")
	assert.Contains(t, f.out.String(), "Pass Rate")
}

func TestRunAPIConfiguresAndValidates(t *testing.T) {
	f := newFixture(t, deviceConfig)
	srv := mock.NewAPIServer(f.router, "admin", "secret")
	defer srv.Close()
	transcript := &mock.Transcript{}

	r := runner.New(&runner.Config{
		TestType:     "api",
		DeviceConfig: f.config,
		ScenarioDir:  filepath.Join(f.dir, "scenarios"),
		ResultsDir:   f.results,
		Output:       &f.out,
		Prober:       runner.ProberNone,
		Transcript:   transcript,
		APIBaseURL:   srv.URL(),
		Dialer:       func(*loader.DeviceConfig) validator.Session { return f.router },
		Now:          func() time.Time { return fixedNow },
	})

	suite, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"mqtt_broker_api_basic",
		"data_to_server_api_office",
		"validation_basic_office",
	}, names(suite))
	for _, res := range suite.Results {
		assert.Equal(t, engine.StatusPass, res.Status, "%s: %v", res.Name, res.Details)
	}

	assert.Contains(t, srv.Requests(), "POST /api/login")
	assert.Contains(t, srv.Requests(), "POST /api/services/mosquitto/restart")
	assert.NotContains(t, srv.Requests(), "DELETE /api/data_to_server/collections/config",
		"the validation cleanup removes the pipeline")
	assert.Empty(t, f.router.SectionIDs("data_sender"))
	assert.NotEmpty(t, transcript.Events())
}

func TestRunAPIWithoutBrokerCleansUp(t *testing.T) {
	f := newFixture(t, `{
  "device": {"name": "lab", "ip": "192.168.1.1", "credentials": {"username": "admin", "password": "secret"}},
  "dts_scenarios": ["dts_office"]
}`)
	srv := mock.NewAPIServer(f.router, "admin", "secret")
	defer srv.Close()

	r := runner.New(&runner.Config{
		TestType:     "api",
		DeviceConfig: f.config,
		ScenarioDir:  filepath.Join(f.dir, "scenarios"),
		ResultsDir:   f.results,
		Output:       &f.out,
		APIBaseURL:   srv.URL(),
		Now:          func() time.Time { return fixedNow },
	})

	suite, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"data_to_server_api_office"}, names(suite))
	assert.Equal(t, engine.StatusPass, suite.Results[0].Status)
	assert.Contains(t, srv.Requests(), "DELETE /api/data_to_server/collections/config")
	assert.Empty(t, f.router.SectionIDs("data_sender"))
}

func TestRunGUISkips(t *testing.T) {
	f := newFixture(t, deviceConfig)
	suite, err := f.runner("gui").Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"mqtt_broker_gui_basic", "data_to_server_gui_office"}, names(suite))
	for _, res := range suite.Results {
		assert.Equal(t, engine.StatusSkip, res.Status)
		assert.Equal(t, "browser automation not available", res.Details)
	}
	assert.Equal(t, 2, suite.SkipCount)
	assert.Zero(t, f.dials, "skipped channels never reach the router")
}

func TestRunAllChannelsOrder(t *testing.T) {
	f := newFixture(t, deviceConfig)
	srv := mock.NewAPIServer(f.router, "admin", "secret")
	defer srv.Close()

	r := runner.New(&runner.Config{
		TestType:     "all",
		DeviceConfig: f.config,
		ScenarioDir:  filepath.Join(f.dir, "scenarios"),
		ResultsDir:   f.results,
		Output:       &f.out,
		Prober:       runner.ProberNone,
		APIBaseURL:   srv.URL(),
		Dialer:       func(*loader.DeviceConfig) validator.Session { return f.router },
		Now:          func() time.Time { return fixedNow },
	})

	suite, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"mqtt_broker_gui_basic",
		"data_to_server_gui_office",
		"mqtt_broker_ssh_basic",
		"mqtt_broker_api_basic",
		"data_to_server_ssh_office",
		"data_to_server_api_office",
		"validation_basic_office",
	}, names(suite))
}

func TestRunBrokerFailureFailsValidation(t *testing.T) {
	f := newFixture(t, deviceConfig)
	f.router.FailOn("uci set mosquitto", errors.New("permission denied"))

	r := runner.New(&runner.Config{
		TestType:     "ssh",
		DeviceConfig: f.config,
		ScenarioDir:  filepath.Join(f.dir, "scenarios"),
		ResultsDir:   f.results,
		WorkDir:      filepath.Join(f.dir, "work"),
		Output:       &f.out,
		OutputFormat: "json",
		Prober:       runner.ProberNone,
		Dialer:       func(*loader.DeviceConfig) validator.Session { return f.router },
		Now:          func() time.Time { return fixedNow },
	})

	suite, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []engine.Status{engine.StatusFail, engine.StatusPass, engine.StatusFail}, statuses(suite))
	assert.Contains(t, suite.Results[0].Error.Error(), "permission denied")
	assert.Contains(t, suite.Results[2].Error.Error(), "MQTT broker not enabled")

	var report struct {
		Suite  string `json:"suite_name"`
		Passed int    `json:"passed"`
		Failed int    `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(lastJSON(f.out.Bytes()), &report))
	assert.Equal(t, "RUTX11", report.Suite)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 2, report.Failed)
}

// lastJSON returns the last top-level JSON document in b.
func lastJSON(b []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(b))
	var last json.RawMessage
	for {
		var doc json.RawMessage
		if err := dec.Decode(&doc); err != nil {
			return last
		}
		last = doc
	}
}

func TestRunDiscoversIP(t *testing.T) {
	f := newFixture(t, `{
  "device": {"name": "lab", "credentials": {"username": "admin", "password": "secret"}},
  "mqtt_scenarios": ["broker_basic"]
}`)
	var asked string
	r := runner.New(&runner.Config{
		TestType:     "ssh",
		DeviceConfig: f.config,
		ScenarioDir:  filepath.Join(f.dir, "scenarios"),
		ResultsDir:   f.results,
		WorkDir:      filepath.Join(f.dir, "work"),
		Output:       &f.out,
		Discover:     "rutx",
		Locator: func(_ context.Context, name string) (string, error) {
			asked = name
			return "10.0.0.7", nil
		},
		Dialer: func(d *loader.DeviceConfig) validator.Session {
			f.dialIPs = append(f.dialIPs, d.Device.IP)
			return f.router
		},
		Now: func() time.Time { return fixedNow },
	})

	suite, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rutx", asked)
	assert.Equal(t, []string{"10.0.0.7"}, f.dialIPs)
	assert.Equal(t, engine.StatusPass, suite.Results[0].Status)
}

func TestRunErrors(t *testing.T) {
	t.Run("no scenarios", func(t *testing.T) {
		f := newFixture(t, `{
  "device": {"name": "lab", "ip": "192.168.1.1", "credentials": {"username": "admin", "password": "secret"}},
  "mqtt_scenarios": ["missing"]
}`)
		_, err := f.runner("ssh").Run(context.Background())
		assert.ErrorIs(t, err, runner.ErrNoScenarios)
	})

	t.Run("invalid test type", func(t *testing.T) {
		f := newFixture(t, deviceConfig)
		_, err := f.runner("telnet").Run(context.Background())
		assert.ErrorContains(t, err, "invalid test type")
	})

	t.Run("missing ip without discovery", func(t *testing.T) {
		f := newFixture(t, `{"device": {"name": "lab", "credentials": {"username": "a", "password": "b"}}}`)
		_, err := f.runner("ssh").Run(context.Background())
		var le *loader.LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, "missing required field: device.ip", le.Message)
	})

	t.Run("discovery failure", func(t *testing.T) {
		f := newFixture(t, `{"device": {"name": "lab", "credentials": {"username": "a", "password": "b"}}}`)
		r := runner.New(&runner.Config{
			DeviceConfig: f.config,
			Output:       &f.out,
			Discover:     "rutx",
			Locator: func(context.Context, string) (string, error) {
				return "", errors.New("no router found")
			},
		})
		_, err := r.Run(context.Background())
		assert.ErrorContains(t, err, `discover "rutx"`)
	})
}
