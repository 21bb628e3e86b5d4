package sshclient

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	rtlog "github.com/rutlab/routertest/pkg/log"
	"github.com/rutlab/routertest/pkg/uci"
)

type reply struct {
	out    string
	status uint32
}

// testServer is a minimal SSH server answering exec requests from a table.
type testServer struct {
	ln      net.Listener
	signer  ssh.Signer
	replies map[string]reply

	mu       sync.Mutex
	commands []string
}

func newTestServer(t *testing.T, replies map[string]reply) *testServer {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &testServer{ln: ln, signer: signer, replies: replies}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *testServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *testServer) config() Config {
	return Config{Host: "127.0.0.1", Port: s.port(), User: "root", Password: "admin01", Insecure: true, DialTimeout: 2 * time.Second}
}

func (s *testServer) serve() {
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == "root" && string(password) == "admin01" {
				return nil, nil
			}
			return nil, errors.New("login error")
		},
	}
	cfg.AddHostKey(s.signer)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
			if err != nil {
				conn.Close()
				return
			}
			go ssh.DiscardRequests(reqs)
			for nc := range chans {
				if nc.ChannelType() != "session" {
					nc.Reject(ssh.UnknownChannelType, "unknown channel type")
					continue
				}
				ch, requests, err := nc.Accept()
				if err != nil {
					continue
				}
				go s.handle(ch, requests)
			}
		}()
	}
}

func (s *testServer) handle(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		r, ok := s.replies[payload.Command]
		if !ok {
			r = reply{out: "sh: not found\n", status: 127}
		}
		ch.Write([]byte(r.out))
		status := make([]byte, 4)
		binary.BigEndian.PutUint32(status, r.status)
		ch.SendRequest("exit-status", false, status)
		return
	}
}

type captureLogger struct {
	mu     sync.Mutex
	events []rtlog.Event
}

func (c *captureLogger) Log(e rtlog.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestExecute(t *testing.T) {
	srv := newTestServer(t, map[string]reply{
		"uci show mosquitto.mqtt.enabled": {out: "mosquitto.mqtt.enabled='1'\n"},
		"uci show mosquitto.mqtt.missing": {out: "uci: Entry not found\n", status: 1},
	})
	capture := &captureLogger{}
	c := New(srv.config(), capture, nil)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	out, err := c.Execute(ctx, "uci show mosquitto.mqtt.enabled")
	require.NoError(t, err)
	assert.Equal(t, "mosquitto.mqtt.enabled='1'", out)

	out, err = c.Execute(ctx, "uci show mosquitto.mqtt.missing")
	require.Error(t, err)
	assert.True(t, uci.IsExitError(err))
	assert.Equal(t, "uci: Entry not found", out)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.events, 3)
	assert.Equal(t, rtlog.KindState, capture.events[0].Kind)
	cmd := capture.events[2].Command
	require.NotNil(t, cmd)
	require.NotNil(t, cmd.ExitStatus)
	assert.Equal(t, 1, *cmd.ExitStatus)
	assert.True(t, cmd.Failed())
	assert.Equal(t, c.SessionID(), capture.events[2].SessionID)
}

func TestExecuteThroughRunner(t *testing.T) {
	srv := newTestServer(t, map[string]reply{
		"ps | grep mosquitto":             {status: 1},
		"uci show mosquitto.mqtt.enabled": {out: "mosquitto.mqtt.enabled='1'\n"},
	})
	c := New(srv.config(), nil, nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	r := uci.NewRunner(c)
	out, err := r.Query(context.Background(), uci.ProcessGrepCmd("mosquitto"))
	require.NoError(t, err)
	assert.Empty(t, out)

	_, v, err := r.ShowValue(context.Background(), "mosquitto.mqtt.enabled")
	require.NoError(t, err)
	assert.Equal(t, "1", v.String())
}

func TestExecuteBeforeConnect(t *testing.T) {
	c := New(Config{Host: "127.0.0.1"}, nil, nil)
	_, err := c.Execute(context.Background(), "true")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestExecuteRefusesDoneContext(t *testing.T) {
	srv := newTestServer(t, nil)
	c := New(srv.config(), nil, nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Execute(ctx, "uname")
	assert.ErrorIs(t, err, context.Canceled)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Empty(t, srv.commands)
}

func TestConnectWrongPassword(t *testing.T) {
	srv := newTestServer(t, nil)
	cfg := srv.config()
	cfg.Password = "wrong"

	err := New(cfg, nil, nil).Connect(context.Background())
	assert.Error(t, err)
}

func TestConnectKnownHosts(t *testing.T) {
	srv := newTestServer(t, map[string]reply{"uname": {out: "Linux"}})
	dir := t.TempDir()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.port()))

	good := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, srv.signer.PublicKey())
	require.NoError(t, os.WriteFile(good, []byte(line+"\n"), 0o600))

	cfg := srv.config()
	cfg.Insecure = false
	cfg.KnownHostsFiles = []string{good}
	c := New(cfg, nil, nil)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())

	_, other, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherSigner, err := ssh.NewSignerFromKey(other)
	require.NoError(t, err)
	bad := filepath.Join(dir, "bad_known_hosts")
	line = knownhosts.Line([]string{knownhosts.Normalize(addr)}, otherSigner.PublicKey())
	require.NoError(t, os.WriteFile(bad, []byte(line+"\n"), 0o600))

	cfg.KnownHostsFiles = []string{bad}
	assert.Error(t, New(cfg, nil, nil).Connect(context.Background()))

	cfg.KnownHostsFiles = []string{filepath.Join(dir, "missing")}
	assert.Error(t, New(cfg, nil, nil).Connect(context.Background()))
}

func TestCloseIdempotent(t *testing.T) {
	srv := newTestServer(t, nil)
	c := New(srv.config(), nil, nil)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Execute(context.Background(), "uname")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConfigAddress(t *testing.T) {
	assert.Equal(t, "192.168.1.1:22", Config{Host: "192.168.1.1"}.Address())
	assert.Equal(t, "192.168.1.1:2222", Config{Host: "192.168.1.1", Port: 2222}.Address())
}
