// Package sshclient runs shell commands on a router over SSH and records a
// transcript of every command.
package sshclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	rtlog "github.com/rutlab/routertest/pkg/log"
)

// ErrNotConnected is returned by Execute before Connect or after Close.
var ErrNotConnected = errors.New("ssh client not connected")

// DefaultPort is the SSH port used when Config.Port is zero.
const DefaultPort = 22

// DefaultDialTimeout bounds dialing and the SSH handshake.
const DefaultDialTimeout = 15 * time.Second

// DefaultKnownHostsFiles are consulted when KnownHostsFiles is empty and
// Insecure is false. Missing files are skipped.
var DefaultKnownHostsFiles = []string{
	"$HOME/.ssh/known_hosts",
	"/etc/ssh/ssh_known_hosts",
}

// Config describes the SSH endpoint.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string

	// KnownHostsFiles verify the host key unless Insecure is set.
	KnownHostsFiles []string

	// Insecure accepts any host key.
	Insecure bool

	DialTimeout time.Duration
}

// Address returns host:port.
func (c Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Client is an SSH connection running one session per command.
type Client struct {
	cfg        Config
	transcript rtlog.Logger
	logger     *slog.Logger
	sessionID  string

	client *ssh.Client
	mu     sync.Mutex
}

// New returns an unconnected client. A nil transcript discards events; a
// nil logger uses slog.Default().
func New(cfg Config, transcript rtlog.Logger, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		transcript: rtlog.OrNoop(transcript),
		logger:     logger.With(slog.String("component", "ssh"), slog.String("host", cfg.Address())),
		sessionID:  uuid.NewString(),
	}
}

// SessionID identifies this client in transcripts.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Host returns the configured address.
func (c *Client) Host() string {
	return c.cfg.Address()
}

func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.cfg.Insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	candidates := c.cfg.KnownHostsFiles
	if len(candidates) == 0 {
		candidates = DefaultKnownHostsFiles
	}
	var files []string
	for _, file := range candidates {
		file = os.ExpandEnv(file)
		if _, err := os.Stat(file); err == nil {
			files = append(files, file)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no known_hosts file found for %s", c.cfg.Address())
	}
	return knownhosts.New(files...)
}

// interactive answers every keyboard-interactive question with the password.
func interactive(password string) ssh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for n := range questions {
			answers[n] = password
		}
		return answers, nil
	}
}

// Connect dials and authenticates. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}

	cb, err := c.hostKeyCallback()
	if err != nil {
		return err
	}
	timeout := c.cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	config := &ssh.ClientConfig{
		User: c.cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(c.cfg.Password),
			ssh.KeyboardInteractive(interactive(c.cfg.Password)),
		},
		HostKeyCallback: cb,
		Timeout:         timeout,
	}

	addr := c.cfg.Address()
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.transcript.Log(rtlog.NewErrorEvent(c.sessionID, rtlog.ChannelSSH, addr, "dial", err))
		return fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))
	sconn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		c.transcript.Log(rtlog.NewErrorEvent(c.sessionID, rtlog.ChannelSSH, addr, "handshake", err))
		return fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sconn, chans, reqs)
	c.transcript.Log(rtlog.NewStateEvent(c.sessionID, rtlog.ChannelSSH, addr, "disconnected", "connected", ""))
	c.logger.Debug("connected", slog.String("user", c.cfg.User))
	return nil
}

// Execute runs command in a new session and returns its trimmed combined
// output. A non-zero exit is returned as *ssh.ExitError together with the
// output. A command already running is not interrupted by ctx.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return "", ErrNotConnected
	}

	start := time.Now()
	out, err := c.run(client, command)
	out = strings.TrimSpace(out)

	var status *int
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitStatus()
		status = &code
	} else if err == nil {
		code := 0
		status = &code
	}
	event := rtlog.NewCommandEvent(c.sessionID, rtlog.ChannelSSH, c.cfg.Address(), command, out, status, time.Since(start), err)
	c.transcript.Log(event)
	c.logger.Debug("command", slog.String("command", command), slog.Duration("duration", time.Since(start)), slog.Any("error", err))
	return out, err
}

func (c *Client) run(client *ssh.Client, command string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()
	out, err := session.CombinedOutput(command)
	return string(out), err
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.transcript.Log(rtlog.NewStateEvent(c.sessionID, rtlog.ChannelSSH, c.cfg.Address(), "connected", "disconnected", ""))
	return err
}
