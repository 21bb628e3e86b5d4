// Package probe checks that an MQTT topic is live by waiting for a single
// message on it.
package probe

import (
	"context"
	"net"
	"time"
)

// DefaultPort is used when a Target leaves Port empty.
const DefaultPort = "1883"

// DefaultTimeout bounds a probe when the caller passes zero.
const DefaultTimeout = 10 * time.Second

// Target is the topic to listen on.
type Target struct {
	Host  string
	Port  string
	Topic string
}

// Address returns host:port with the default port applied.
func (t Target) Address() string {
	port := t.Port
	if port == "" {
		port = DefaultPort
	}
	return net.JoinHostPort(t.Host, port)
}

// Prober waits for one message on a target. Implementations never return an
// error: any failure reads as "no message".
type Prober interface {
	AwaitMessage(ctx context.Context, target Target, timeout time.Duration) bool
}

// Func adapts a function to the Prober interface.
type Func func(ctx context.Context, target Target, timeout time.Duration) bool

// AwaitMessage calls f.
func (f Func) AwaitMessage(ctx context.Context, target Target, timeout time.Duration) bool {
	return f(ctx, target, timeout)
}

func effectiveTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}
