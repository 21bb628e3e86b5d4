package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rutlab/routertest/pkg/uci"
)

const pipeline = `data_sender.1=collection
data_sender.1.name='foo'
data_sender.1.input='3'
data_sender.1.output='2'
data_sender.2=output
data_sender.2.mqtt_host='broker.local'
data_sender.3=input
data_sender.3.values='time' 'fw'
data_sender.9=settings`

func connected(t *testing.T) *Router {
	t.Helper()
	r := NewRouter("192.168.1.1").Load(pipeline)
	require.NoError(t, r.Connect(context.Background()))
	return r
}

func TestRouterExecuteRequiresConnect(t *testing.T) {
	r := NewRouter("192.168.1.1")
	_, err := r.Execute(context.Background(), "uci show data_sender")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestRouterShow(t *testing.T) {
	r := connected(t)
	ctx := context.Background()

	out, err := r.Execute(ctx, "uci show data_sender")
	require.NoError(t, err)
	tbl := uci.Parse(out)
	assert.Equal(t, []string{"1", "2", "3", "9"}, tbl.IDs())

	out, err = r.Execute(ctx, "uci show data_sender.2.mqtt_host")
	require.NoError(t, err)
	assert.Equal(t, "data_sender.2.mqtt_host='broker.local'", out)

	out, err = r.Execute(ctx, "uci show data_sender.3.values")
	require.NoError(t, err)
	assert.Equal(t, "data_sender.3.values='time' 'fw'", out)

	out, err = r.Execute(ctx, "uci show data_sender.2.mqtt_topic")
	assert.True(t, uci.IsExitError(err))
	assert.Equal(t, "uci: Entry not found", out)
}

func TestRouterGetWithFallback(t *testing.T) {
	r := connected(t)
	ctx := context.Background()

	out, err := r.Execute(ctx, "uci get data_sender.1")
	require.NoError(t, err)
	assert.Equal(t, "collection", out)

	out, err = r.Execute(ctx, uci.GetOrCmd("data_sender.7", "unknown"))
	require.NoError(t, err)
	assert.Equal(t, "unknown", out)

	out, err = r.Execute(ctx, uci.GetOrCmd("data_sender.1.timer", ""))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRouterSetAndDelete(t *testing.T) {
	r := connected(t)
	ctx := context.Background()
	run := uci.NewRunner(r)

	require.NoError(t, run.Declare(ctx, "data_sender", "4", "collection"))
	require.NoError(t, run.Set(ctx, "data_sender.4.name", "it's"))
	require.NoError(t, run.SetList(ctx, "data_sender.4.values", []string{"a", "b"}))

	v, ok := r.Table("data_sender").Get("4", "name")
	require.True(t, ok)
	assert.Equal(t, "it's", v.String())
	v, _ = r.Table("data_sender").Get("4", "values")
	assert.Equal(t, []string{"a", "b"}, v.List())

	require.NoError(t, run.Delete(ctx, "data_sender.4"))
	_, ok = r.Table("data_sender").Section("4")
	assert.False(t, ok)

	err := run.Delete(ctx, "data_sender.4")
	assert.True(t, uci.IsExitError(err))
}

func TestRouterSetOnMissingSection(t *testing.T) {
	r := connected(t)
	err := uci.NewRunner(r).Set(context.Background(), "mosquitto.mqtt.enabled", "1")
	assert.True(t, uci.IsExitError(err))
}

func TestRouterServicesAndProcesses(t *testing.T) {
	r := connected(t)
	ctx := context.Background()
	run := uci.NewRunner(r)

	out, err := run.Query(ctx, uci.ProcessGrepCmd("mosquitto"))
	require.NoError(t, err)
	assert.Equal(t, " 4242 root      1228 S    grep mosquitto", out)

	require.NoError(t, run.Apply(ctx, "mosquitto"))
	assert.Equal(t, 1, r.Commits("mosquitto"))
	assert.Equal(t, 1, r.Restarts("mosquitto"))

	out, err = run.Query(ctx, uci.ProcessGrepCmd("mosquitto"))
	require.NoError(t, err)
	assert.Contains(t, out, "/usr/sbin/mosquitto -c /var/etc/mosquitto.conf")

	out, err = run.Service(ctx, "mosquitto", "status")
	require.NoError(t, err)
	assert.Equal(t, "running", out)

	_, err = run.Service(ctx, "mosquitto", "stop")
	require.NoError(t, err)
	assert.False(t, r.Running("mosquitto"))
}

func TestRouterFailureInjection(t *testing.T) {
	r := connected(t)
	r.FailOn("uci commit", ErrConnectionLost)

	err := uci.NewRunner(r).Commit(context.Background(), "data_sender")
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.False(t, uci.IsExitError(err))
}

func TestRouterRefusesAfterCancel(t *testing.T) {
	r := connected(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Execute(ctx, "uci show data_sender")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, r.Commands())
}

func TestRouterOnCommandHook(t *testing.T) {
	r := connected(t)
	r.Handlers.OnCommand = func(cmd string) (string, bool, error) {
		if cmd == "uname -a" {
			return "Linux RUTX11", true, nil
		}
		return "", false, nil
	}

	out, err := r.Execute(context.Background(), "uname -a")
	require.NoError(t, err)
	assert.Equal(t, "Linux RUTX11", out)

	_, err = r.Execute(context.Background(), "whoami")
	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 127, exit.ExitStatus())
}

func TestRouterClose(t *testing.T) {
	r := connected(t)
	require.NoError(t, r.Close())
	assert.False(t, r.Connected())
	assert.Equal(t, 1, r.Closes())
}

func TestRouterSectionIDs(t *testing.T) {
	r := NewRouter("h").Load("data_sender.10=input\ndata_sender.2=output\ndata_sender.1=collection")
	assert.Equal(t, []string{"1", "2", "10"}, r.SectionIDs("data_sender"))
}
