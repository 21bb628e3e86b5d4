package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rutlab/routertest/pkg/probe"
	"github.com/rutlab/routertest/pkg/scenario"
	"github.com/rutlab/routertest/pkg/uci"
)

// Session is a command channel to the router.
type Session interface {
	uci.Executor
	Connect(ctx context.Context) error
	Close() error
}

// CleanupMode selects the cleanup run after validation.
type CleanupMode int

const (
	// CleanupNone leaves the router as validated.
	CleanupNone CleanupMode = iota

	// CleanupAll deletes every data_sender section except settings.
	CleanupAll

	// CleanupScenario deletes the pipeline of the validated instance.
	CleanupScenario
)

// String returns the mode name.
func (m CleanupMode) String() string {
	switch m {
	case CleanupAll:
		return "all"
	case CleanupScenario:
		return "scenario"
	default:
		return "none"
	}
}

// Options configures a Validator.
type Options struct {
	// Timeout bounds a whole ValidateAPConfig call.
	Timeout time.Duration

	// LivenessTimeout bounds the MQTT probe.
	LivenessTimeout time.Duration

	// RequireLiveness makes a received message part of DTS success.
	RequireLiveness bool

	// CleanupAfter selects the cleanup run after the matchers.
	CleanupAfter CleanupMode

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the default validator options.
func DefaultOptions() Options {
	return Options{
		Timeout:         120 * time.Second,
		LivenessTimeout: probe.DefaultTimeout,
	}
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o Options) livenessTimeout() time.Duration {
	if o.LivenessTimeout <= 0 {
		return probe.DefaultTimeout
	}
	return o.LivenessTimeout
}

// Validator checks live router state over a Session.
type Validator struct {
	session  Session
	prober   probe.Prober
	resolver *uci.Resolver
	opts     Options
	logger   *slog.Logger
}

// New creates a Validator. A zero Timeout is replaced by the default; a nil
// prober disables the liveness check.
func New(session Session, prober probe.Prober, opts Options) *Validator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &Validator{
		session: session,
		prober:  prober,
		opts:    opts,
		logger:  opts.logger().With(slog.String("component", "validator")),
	}
}

// WithResolver replaces the default section resolver.
func (v *Validator) WithResolver(r *uci.Resolver) *Validator {
	v.resolver = r
	return v
}

// ValidateAPConfig validates the broker and Data-to-Server scenarios that are
// non-nil. The work runs on its own goroutine; when Timeout expires the call
// returns a timed-out result while the goroutine stops issuing commands and
// closes the session.
func (v *Validator) ValidateAPConfig(ctx context.Context, broker *scenario.BrokerConfig, dts *scenario.DTSConfig) *Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	done := make(chan *Result, 1)
	go func() {
		done <- v.validate(ctx, broker, dts)
	}()

	select {
	case res := <-done:
		res.Duration = time.Since(start)
		return res
	case <-ctx.Done():
		msg := MsgTimedOut
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = ctx.Err().Error()
		}
		v.logger.Error("validation aborted", slog.String("reason", msg))
		return &Result{Success: false, Message: msg, Duration: time.Since(start)}
	}
}

func (v *Validator) validate(ctx context.Context, broker *scenario.BrokerConfig, dts *scenario.DTSConfig) (res *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			v.logger.Error("validation panicked", slog.Any("panic", rec))
			res = &Result{Success: false, Message: fmt.Sprintf("validation panicked: %v", rec)}
		}
		if err := v.session.Close(); err != nil {
			v.logger.Warn("closing session failed", slog.Any("error", err))
		}
	}()

	if broker == nil && dts == nil {
		v.logger.Error(MsgNoConfig)
		return &Result{Success: false, Message: MsgNoConfig}
	}

	if err := v.session.Connect(ctx); err != nil {
		v.logger.Error("connect failed", slog.Any("error", err))
		return &Result{Success: false, Message: err.Error()}
	}

	runner := uci.NewRunner(v.session)
	res = &Result{Success: true}

	if broker != nil {
		res.Broker = MatchBroker(ctx, runner, broker)
		res.Success = res.Success && res.Broker.Success
		v.logSubsystem("mqtt_broker", res.Broker)
	}
	if dts != nil {
		res.DTS = MatchDTS(ctx, runner, v.resolver, dts, v.prober, v.opts)
		res.Success = res.Success && res.DTS.Success
		v.logSubsystem("data_to_server", res.DTS)
	}

	if res.Success {
		res.Message = MsgPassed
	} else {
		res.Message = fmt.Sprintf(msgFailedFmt, summarize(res.Failures()))
	}

	switch v.opts.CleanupAfter {
	case CleanupAll:
		res.Cleanup = NewCleaner(runner, v.opts.Logger).CleanupSections(ctx, dts, true)
	case CleanupScenario:
		res.Cleanup = NewCleaner(runner, v.opts.Logger).CleanupSections(ctx, dts, false)
	}

	v.logger.Info("validation finished", slog.Bool("success", res.Success))
	return res
}

func (v *Validator) logSubsystem(name string, sub *SubsystemResult) {
	attrs := []any{slog.String("subsystem", name), slog.Bool("success", sub.Success)}
	if sub.Error != "" {
		attrs = append(attrs, slog.String("error", sub.Error))
	}
	if len(sub.Failures) > 0 {
		attrs = append(attrs, slog.Any("failures", sub.Failures))
	}
	v.logger.Info("subsystem validated", attrs...)
}
