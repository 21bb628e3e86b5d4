package probe

import (
	"context"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	rtlog "github.com/rutlab/routertest/pkg/log"
)

// ClientProber subscribes with an in-process MQTT client.
type ClientProber struct {
	// Logger receives connection failures.
	Logger *slog.Logger

	// Transcript records each probe on the probe channel.
	Transcript rtlog.Logger

	// Username and Password are sent when Username is set.
	Username string
	Password string
}

// NewClientProber returns an anonymous ClientProber.
func NewClientProber(logger *slog.Logger, transcript rtlog.Logger) *ClientProber {
	return &ClientProber{Logger: logger, Transcript: transcript}
}

func (p *ClientProber) options(target Target, timeout time.Duration) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + target.Address())
	opts.SetClientID("routertest-probe-" + uuid.NewString())
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(timeout)
	if p.Username != "" {
		opts.SetUsername(p.Username)
		opts.SetPassword(p.Password)
	}
	return opts
}

// AwaitMessage connects, subscribes at QoS 0 and waits for the first
// message, the timeout, or ctx. The client is always disconnected.
func (p *ClientProber) AwaitMessage(ctx context.Context, target Target, timeout time.Duration) bool {
	timeout = effectiveTimeout(timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := uuid.NewString()
	transcript := rtlog.OrNoop(p.Transcript)
	start := time.Now()

	fail := func(stage string, err error) bool {
		logger.Debug("mqtt probe failed",
			slog.String("component", "probe"),
			slog.String("target", target.Address()),
			slog.String("stage", stage),
			slog.Any("error", err))
		transcript.Log(rtlog.NewErrorEvent(sessionID, rtlog.ChannelProbe, target.Address(), stage, err))
		return false
	}

	client := mqtt.NewClient(p.options(target, timeout))
	tok := client.Connect()
	if !waitToken(ctx, tok) {
		// Aborts the pending connect, or drops one that completes late.
		client.Disconnect(0)
		return fail("connect", ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return fail("connect", err)
	}
	defer client.Disconnect(250)

	received := make(chan string, 1)
	tok = client.Subscribe(target.Topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case received <- msg.Topic() + " " + string(msg.Payload()):
		default:
		}
	})
	if !waitToken(ctx, tok) {
		return fail("subscribe", ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return fail("subscribe", err)
	}

	select {
	case line := <-received:
		transcript.Log(rtlog.NewCommandEvent(sessionID, rtlog.ChannelProbe, target.Address(),
			"subscribe "+target.Topic, line, nil, time.Since(start), nil))
		return true
	case <-ctx.Done():
		return fail("wait", ctx.Err())
	}
}

func waitToken(ctx context.Context, tok mqtt.Token) bool {
	select {
	case <-tok.Done():
		return true
	case <-ctx.Done():
		return false
	}
}

var _ Prober = (*ClientProber)(nil)
