package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rutlab/routertest/pkg/scenario"
)

type handlerKey struct {
	feature scenario.Feature
	channel scenario.Channel
}

// Registry maps (feature, channel) pairs to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[handlerKey]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[handlerKey]Handler)}
}

// Register installs h for feature on channel, replacing any previous one.
func (r *Registry) Register(feature scenario.Feature, channel scenario.Channel, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handlerKey{feature, channel}] = h
}

// Lookup returns the handler for feature on channel.
func (r *Registry) Lookup(feature scenario.Feature, channel scenario.Channel) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[handlerKey{feature, channel}]
	return h, ok
}

// Channels lists the channels with at least one handler, in
// scenario.Channels order.
func (r *Registry) Channels() []scenario.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[scenario.Channel]bool)
	for k := range r.handlers {
		seen[k.channel] = true
	}
	var out []scenario.Channel
	for _, ch := range scenario.Channels {
		if seen[ch] {
			out = append(out, ch)
			delete(seen, ch)
		}
	}
	var extra []string
	for ch := range seen {
		extra = append(extra, string(ch))
	}
	sort.Strings(extra)
	for _, ch := range extra {
		out = append(out, scenario.Channel(ch))
	}
	return out
}

// Engine executes scenarios against a target.
type Engine struct {
	config   *EngineConfig
	registry *Registry
	target   *Target
}

// New creates an engine over registry and target with the default config.
func New(registry *Registry, target *Target) *Engine {
	return NewWithConfig(registry, target, DefaultConfig())
}

// NewWithConfig creates an engine with the given configuration.
func NewWithConfig(registry *Registry, target *Target, config *EngineConfig) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{config: config, registry: registry, target: target}
}

// Registry returns the engine's handler registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Target returns the engine's target.
func (e *Engine) Target() *Target { return e.target }

// Run applies sc through channel and returns its result.
func (e *Engine) Run(ctx context.Context, channel scenario.Channel, sc *scenario.Scenario) *TestResult {
	result := &TestResult{
		Name:      TestName(sc.Feature, channel, sc.Name),
		StartTime: time.Now(),
	}
	defer e.complete(result)

	handler, ok := e.registry.Lookup(sc.Feature, channel)
	if !ok {
		result.Status = StatusSkip
		result.Details = fmt.Sprintf("no handler for %s/%s", sc.Feature, channel)
		return result
	}

	testCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	outcome, err := e.invoke(testCtx, handler, sc)

	var skip *SkipError
	switch {
	case errors.As(err, &skip):
		result.Status = StatusSkip
		result.Details = skip.Reason
	case errors.Is(err, errors.ErrUnsupported):
		result.Status = StatusSkip
		result.Details = err.Error()
	case err != nil:
		result.Status = StatusFail
		result.Error = err
		if outcome != nil && outcome.Details != nil {
			result.Details = outcome.Details
		} else {
			result.Details = err.Error()
		}
	case outcome == nil:
		result.Status = StatusPass
	default:
		result.Details = outcome.Details
		result.Status = StatusFail
		if outcome.Success {
			result.Status = StatusPass
		}
	}

	e.target.Log().Info("test finished",
		"name", result.Name,
		"status", result.Status,
		"duration", time.Since(result.StartTime).Round(time.Millisecond))
	return result
}

// invoke calls h, converting a panic into an error.
func (e *Engine) invoke(ctx context.Context, h Handler, sc *scenario.Scenario) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, e.target, sc)
}

func (e *Engine) complete(result *TestResult) {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	if e.config.OnTestComplete != nil {
		e.config.OnTestComplete(result)
	}
}

// RunScenario runs sc on every channel in order and adds each result to
// suite.
func (e *Engine) RunScenario(ctx context.Context, suite *SuiteResult, channels []scenario.Channel, sc *scenario.Scenario) {
	for _, ch := range channels {
		if ctx.Err() != nil {
			return
		}
		suite.Add(e.Run(ctx, ch, sc))
	}
}
