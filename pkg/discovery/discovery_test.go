package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(instance, host string, addrs ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{HostName: host, Port: 22}
	e.Instance = instance
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, ip)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, ip)
		}
	}
	return e
}

// fakeBrowse replays announcements and then blocks until ctx is done.
func fakeBrowse(t *testing.T, announce func(entries, removed chan *zeroconf.ServiceEntry)) {
	t.Helper()
	orig := browseFunc
	t.Cleanup(func() { browseFunc = orig })
	browseFunc = func(ctx context.Context, cfg Config, entries, removed chan *zeroconf.ServiceEntry) error {
		assert.Equal(t, ServiceType, cfg.Service)
		assert.Equal(t, Domain, cfg.Domain)
		announce(entries, removed)
		<-ctx.Done()
		return ctx.Err()
	}
}

func TestRouterAddress(t *testing.T) {
	tests := []struct {
		name  string
		addrs []string
		want  string
	}{
		{"ipv4 preferred", []string{"fe80::1", "192.168.1.1"}, "192.168.1.1"},
		{"ipv6 only", []string{"fd00::1"}, "fd00::1"},
		{"none", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, (&Router{Addrs: tt.addrs}).Address())
		})
	}
}

func TestRouterMatches(t *testing.T) {
	r := &Router{Instance: "RUTX11-lab", Host: "rutx11.local."}
	assert.True(t, r.Matches("rutx11"))
	assert.True(t, r.Matches("LAB"))
	assert.True(t, r.Matches(""))
	assert.False(t, r.Matches("rut955"))
}

func TestParseText(t *testing.T) {
	txt := parseText([]string{"model=RUTX11", "fw=RUTX_R_00.07.06", "ssh", ""})
	assert.Equal(t, map[string]string{"model": "RUTX11", "fw": "RUTX_R_00.07.06", "ssh": ""}, txt)
}

func TestAggregateMergesAndRemoves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	out := make(chan *Router, 4)
	done := make(chan struct{})
	go func() {
		aggregate(ctx, entries, removed, out)
		close(done)
	}()

	entries <- entry("rut", "rut.local.")
	entries <- entry("rut", "rut.local.", "192.168.1.1")
	entries <- entry("rut", "rut.local.", "fe80::1", "192.168.1.1")
	removed <- entry("rut", "rut.local.", "192.168.1.1", "fe80::1")
	entries <- entry("rut", "rut.local.", "10.0.0.1")
	close(entries)
	<-done

	var got []*Router
	for r := range out {
		got = append(got, r)
	}
	require.Len(t, got, 2, "sent once with an address, again after full removal")
	assert.Equal(t, []string{"192.168.1.1"}, got[0].Addrs)
	assert.Equal(t, 22, got[0].Port)
	assert.Equal(t, []string{"10.0.0.1"}, got[1].Addrs)
}

func TestFindRouter(t *testing.T) {
	fakeBrowse(t, func(entries, _ chan *zeroconf.ServiceEntry) {
		entries <- entry("RUT955-office", "rut955.local.", "192.168.2.1")
		entries <- entry("RUTX11-lab", "rutx11.local.", "fe80::2", "192.168.1.1")
	})

	r, err := FindRouter(context.Background(), Config{Timeout: time.Second}, "rutx11")
	require.NoError(t, err)
	assert.Equal(t, "RUTX11-lab", r.Instance)
	assert.Equal(t, "192.168.1.1", r.Address())
}

func TestFindRouterNotFound(t *testing.T) {
	fakeBrowse(t, func(entries, _ chan *zeroconf.ServiceEntry) {
		entries <- entry("RUT955-office", "rut955.local.", "192.168.2.1")
	})

	_, err := FindRouter(context.Background(), Config{Timeout: 50 * time.Millisecond}, "rutx11")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestFindRouterCanceled(t *testing.T) {
	fakeBrowse(t, func(_, _ chan *zeroconf.ServiceEntry) {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FindRouter(ctx, Config{Timeout: time.Second}, "rutx11")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBrowseUnknownInterface(t *testing.T) {
	_, err := Browse(context.Background(), Config{Interface: "no-such-if0"})
	assert.Error(t, err)
}
