package probe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	rtlog "github.com/rutlab/routertest/pkg/log"
)

// waitDelay bounds how long Run waits for the output pipes to close after
// the subscriber is killed.
const waitDelay = 500 * time.Millisecond

// CommandProber shells out to mosquitto_sub.
type CommandProber struct {
	// Binary is the subscriber executable. Defaults to mosquitto_sub.
	Binary string

	// Logger receives stderr of failed runs.
	Logger *slog.Logger

	// Transcript records each run on the probe channel.
	Transcript rtlog.Logger
}

// NewCommandProber returns a CommandProber using mosquitto_sub from PATH.
func NewCommandProber(logger *slog.Logger, transcript rtlog.Logger) *CommandProber {
	return &CommandProber{Binary: "mosquitto_sub", Logger: logger, Transcript: transcript}
}

// Args returns the subscriber arguments for target.
func Args(target Target, timeout time.Duration) []string {
	port := target.Port
	if port == "" {
		port = DefaultPort
	}
	secs := int(effectiveTimeout(timeout).Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return []string{
		"-v",
		"-h", target.Host,
		"-p", port,
		"-t", target.Topic,
		"-C", "1",
		"-W", strconv.Itoa(secs),
	}
}

// AwaitMessage runs the subscriber until it prints one message or the
// timeout passes. It reports true only for non-empty output.
func (p *CommandProber) AwaitMessage(ctx context.Context, target Target, timeout time.Duration) bool {
	timeout = effectiveTimeout(timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	binary := p.Binary
	if binary == "" {
		binary = "mosquitto_sub"
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	args := Args(target, timeout)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit the output pipes must not hold Run past the
	// deadline.
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())

	var status *int
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		status = &code
	}
	rtlog.OrNoop(p.Transcript).Log(rtlog.NewCommandEvent(uuid.NewString(), rtlog.ChannelProbe,
		target.Address(), binary+" "+strings.Join(args, " "), out, status, time.Since(start), err))

	if err != nil {
		logger.Debug("mqtt probe failed",
			slog.String("component", "probe"),
			slog.String("target", target.Address()),
			slog.String("topic", target.Topic),
			slog.String("stderr", strings.TrimSpace(stderr.String())),
			slog.Any("error", err))
		return false
	}
	return out != ""
}

var _ Prober = (*CommandProber)(nil)
