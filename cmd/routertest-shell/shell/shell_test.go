package shell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rutlab/routertest/internal/testharness/mock"
	"github.com/rutlab/routertest/pkg/uci"
	"github.com/rutlab/routertest/pkg/validator"
)

const brokerState = `mosquitto.mqtt=mosquitto
mosquitto.mqtt.enabled='1'
mosquitto.mqtt.local_port='1883'
mosquitto.mqtt.anonymous_access='1'`

const pipelines = `data_sender.1=collection
data_sender.1.name='office'
data_sender.1.input='3'
data_sender.1.output='2'
data_sender.2=output
data_sender.3=input
data_sender.4=collection
data_sender.4.name='lab'
data_sender.4.input='5'
data_sender.5=input
data_sender.9=settings`

type harness struct {
	router *mock.Router
	dialed *mock.Router
	shell  *Shell
	out    bytes.Buffer
	dir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{dir: t.TempDir()}
	h.router = mock.NewRouter("192.168.1.1").Load(brokerState).Load(pipelines)
	require.NoError(t, h.router.Connect(context.Background()))

	h.dialed = mock.NewRouter("192.168.1.1").Load(brokerState)
	h.dialed.SetRunning("mosquitto", true)

	h.shell = New(Config{
		Session:     h.router,
		Dial:        func() validator.Session { return h.dialed },
		ScenarioDir: h.dir,
		Validation:  validator.DefaultOptions(),
	}, &h.out)
	return h
}

func (h *harness) exec(t *testing.T, line string) string {
	t.Helper()
	h.out.Reset()
	assert.True(t, h.shell.Execute(context.Background(), line))
	return h.out.String()
}

func TestShowPackage(t *testing.T) {
	h := newHarness(t)

	out := h.exec(t, "show mosquitto")
	assert.Contains(t, out, "mosquitto\n  mqtt (mosquitto)\n")
	assert.Contains(t, out, "    local_port = 1883\n")
}

func TestShowLocation(t *testing.T) {
	h := newHarness(t)

	assert.Contains(t, h.exec(t, "show mosquitto.mqtt.enabled"), "mosquitto.mqtt.enabled='1'")
	assert.Contains(t, h.exec(t, "show mosquitto.mqtt.nosuch"), "Entry not found")
}

func TestGetSetDeleteCommit(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "1883\n", h.exec(t, "get mosquitto.mqtt.local_port"))

	assert.Contains(t, h.exec(t, "set mosquitto.mqtt.local_port = '8883'"), "Staged mosquitto.mqtt.local_port")
	assert.Equal(t, "8883\n", h.exec(t, "get mosquitto.mqtt.local_port"))

	assert.Contains(t, h.exec(t, "delete mosquitto.mqtt.anonymous_access"), "Deleted")
	assert.Contains(t, h.exec(t, "get mosquitto.mqtt.anonymous_access"), "Error:")

	assert.Contains(t, h.exec(t, "commit mosquitto"), "Committed mosquitto")
	assert.Equal(t, 1, h.router.Commits("mosquitto"))
}

func TestRestart(t *testing.T) {
	h := newHarness(t)

	assert.Contains(t, h.exec(t, "restart mosquitto"), "Restarted mosquitto")
	assert.Equal(t, 1, h.router.Restarts("mosquitto"))
}

func TestExecKeepsRawCommand(t *testing.T) {
	h := newHarness(t)

	h.exec(t, "exec uci   show   mosquitto.mqtt.enabled")
	assert.Contains(t, h.router.Commands(), "uci   show   mosquitto.mqtt.enabled")

	assert.Contains(t, h.exec(t, "exec frobnicate"), "Error:")
}

func TestUsageErrors(t *testing.T) {
	h := newHarness(t)

	for _, line := range []string{"show", "get", "set nothing", "delete", "commit", "restart", "resolve", "validate one", "exec", "cleanup a b"} {
		assert.Contains(t, h.exec(t, line), "Error: usage:", line)
	}
	assert.Contains(t, h.exec(t, "frobnicate"), "Unknown command: frobnicate")
	assert.Empty(t, h.exec(t, "   "))
}

func TestExit(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.shell.Execute(context.Background(), "exit"))
	assert.Contains(t, h.out.String(), "Exiting...")
}

func TestResolve(t *testing.T) {
	h := newHarness(t)

	out := h.exec(t, "resolve office")
	assert.Contains(t, out, "Strategy:   name")
	assert.Contains(t, out, "Collection: 1")
	assert.Contains(t, out, "Output:     2")
	assert.Contains(t, out, "Input:      3")
	assert.NotContains(t, out, "Warning")

	out = h.exec(t, "resolve missing")
	assert.Contains(t, out, "Strategy:   reference")
	assert.Contains(t, out, "Collection: 1")

	h.router.Update("data_sender", func(tbl *uci.Table) { tbl.Remove("1") })
	out = h.exec(t, "resolve missing")
	assert.Contains(t, out, "Strategy:   fallback")
	assert.Contains(t, out, "Warning: instance not found")
}

func TestCleanupInstance(t *testing.T) {
	h := newHarness(t)

	out := h.exec(t, "cleanup office")
	assert.Contains(t, out, `"committed": true`)
	assert.NotContains(t, out, "Error:")
	assert.ElementsMatch(t, []string{"4", "5", "9"}, h.router.SectionIDs("data_sender"))
}

func TestCleanupAll(t *testing.T) {
	h := newHarness(t)

	h.exec(t, "cleanup")
	assert.Equal(t, []string{"9"}, h.router.SectionIDs("data_sender"))
	assert.Equal(t, 1, h.router.Restarts("data_sender"))
}

func TestValidateBroker(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "broker_basic.json"),
		[]byte(`{"scenario_name": "basic", "config": {"port": 1883, "anonymous_access": true}}`), 0644))

	out := h.exec(t, "validate broker_basic -")
	assert.Contains(t, out, "[PASS] validation passed")
	assert.Contains(t, out, "mqtt_broker:")
	assert.Contains(t, out, validator.CheckProcessRunning)
	assert.NotContains(t, out, "data_to_server:")
	assert.Equal(t, 1, h.dialed.Closes(), "validation closes its own session")
	assert.True(t, h.router.Connected(), "console session stays open")
}

func TestValidateFailure(t *testing.T) {
	h := newHarness(t)
	h.dialed.SetRunning("mosquitto", false)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "broker_basic.json"),
		[]byte(`{"port": 1883}`), 0644))

	out := h.exec(t, "validate broker_basic -")
	assert.Contains(t, out, "[FAIL] validation failed: MQTT process not running")
	assert.Contains(t, out, "FAILED")
}

func TestValidateMissingScenario(t *testing.T) {
	h := newHarness(t)

	out := h.exec(t, "validate nosuch -")
	assert.Contains(t, out, `mqtt_broker scenario "nosuch" not found`)
	assert.Zero(t, h.dialed.Closes())
}

func TestValidateUnavailable(t *testing.T) {
	h := newHarness(t)
	h.shell.cfg.Dial = nil

	assert.Contains(t, h.exec(t, "validate - -"), "validation is not available")
}

func TestExecuteSurfacesSessionErrors(t *testing.T) {
	h := newHarness(t)
	h.router.FailOn("uci get", errors.New("connection lost"))

	assert.Contains(t, h.exec(t, "get mosquitto.mqtt.enabled"), "connection lost")
}
