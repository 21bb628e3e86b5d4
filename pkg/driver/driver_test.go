package driver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rutlab/routertest/internal/testharness/mock"
	"github.com/rutlab/routertest/pkg/restapi"
	"github.com/rutlab/routertest/pkg/uci"
)

const brokerState = `mosquitto.mqtt=mosquitto
mosquitto.mqtt.enabled='0'
mosquitto.mqtt.local_port='1883'`

func newRouter(t *testing.T, state ...string) (*mock.Router, *uci.Runner) {
	t.Helper()
	router := mock.NewRouter("192.168.1.1")
	for _, s := range state {
		router.Load(s)
	}
	require.NoError(t, router.Connect(context.Background()))
	return router, uci.NewRunner(router)
}

func newAPI(t *testing.T, router *mock.Router) (*restapi.Client, *mock.APIServer) {
	t.Helper()
	srv := mock.NewAPIServer(router, "admin", "secret")
	t.Cleanup(srv.Close)
	c := restapi.New(restapi.Config{
		BaseURL:  srv.URL(),
		Username: "admin",
		Password: "secret",
	}, &mock.Transcript{}, nil)
	require.NoError(t, c.Login(context.Background()))
	return c, srv
}

func value(t *testing.T, router *mock.Router, pkg, id, option string) string {
	t.Helper()
	v, ok := router.Table(pkg).Get(id, option)
	if !ok {
		return ""
	}
	return v.String()
}
