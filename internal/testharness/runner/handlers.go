package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rutlab/routertest/internal/testharness/engine"
	"github.com/rutlab/routertest/pkg/driver"
	"github.com/rutlab/routertest/pkg/restapi"
	"github.com/rutlab/routertest/pkg/scenario"
	"github.com/rutlab/routertest/pkg/uci"
)

// registerHandlers wires the configuration drivers to the engine.
func (r *Runner) registerHandlers() {
	r.registry.Register(scenario.FeatureBroker, scenario.ChannelSSH, r.handleBrokerSSH)
	r.registry.Register(scenario.FeatureDTS, scenario.ChannelSSH, r.handleDTSSSH)

	r.registry.Register(scenario.FeatureBroker, scenario.ChannelAPI, r.handleBrokerAPI)
	r.registry.Register(scenario.FeatureDTS, scenario.ChannelAPI, r.handleDTSAPI)

	r.registry.Register(scenario.FeatureBroker, scenario.ChannelGUI, handleGUI)
	r.registry.Register(scenario.FeatureDTS, scenario.ChannelGUI, handleGUI)
}

// withSession runs fn over a fresh SSH session to the target.
func (r *Runner) withSession(ctx context.Context, t *engine.Target, fn func(*uci.Runner) (*engine.Outcome, error)) (*engine.Outcome, error) {
	session := r.config.Dialer(t.Device)
	if err := session.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", t.Device.Device.IP, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			t.Log().Warn("closing session failed", slog.Any("error", err))
		}
	}()
	return fn(uci.NewRunner(session))
}

// withAPI runs fn with an authenticated REST client.
func (r *Runner) withAPI(ctx context.Context, t *engine.Target, fn func(*restapi.Client) (*engine.Outcome, error)) (*engine.Outcome, error) {
	client := r.apiClient(t.Device)
	if err := client.Login(ctx); err != nil {
		return nil, fmt.Errorf("api login: %w", err)
	}
	defer func() {
		if err := client.Logout(context.WithoutCancel(ctx)); err != nil {
			t.Log().Warn("api logout failed", slog.Any("error", err))
		}
	}()
	return fn(client)
}

func outcome(rep *driver.Report, err error) (*engine.Outcome, error) {
	if rep == nil {
		return nil, err
	}
	return &engine.Outcome{Success: err == nil, Details: rep}, err
}

// verified records a post-configuration check on rep.
func verified(rep *driver.Report, err error) *engine.Outcome {
	rep.Verified = err == nil
	if err != nil {
		rep.Message = "verification failed: " + err.Error()
	}
	return &engine.Outcome{Success: rep.Verified, Details: rep}
}

func (r *Runner) handleBrokerSSH(ctx context.Context, t *engine.Target, sc *scenario.Scenario) (*engine.Outcome, error) {
	if sc.Broker == nil {
		return nil, fmt.Errorf("scenario %s has no broker configuration", sc.Name)
	}
	files, err := driver.PrepareBrokerFiles(t.WorkDir, sc.Broker)
	if err != nil {
		return nil, err
	}
	return r.withSession(ctx, t, func(u *uci.Runner) (*engine.Outcome, error) {
		rep, err := (&driver.BrokerSSH{Logger: t.Log()}).Configure(ctx, u, sc.Broker)
		if rep != nil {
			rep.Files = files
		}
		return outcome(rep, err)
	})
}

func (r *Runner) handleDTSSSH(ctx context.Context, t *engine.Target, sc *scenario.Scenario) (*engine.Outcome, error) {
	if sc.DTS == nil {
		return nil, fmt.Errorf("scenario %s has no data_to_server configuration", sc.Name)
	}
	return r.withSession(ctx, t, func(u *uci.Runner) (*engine.Outcome, error) {
		rep, err := (&driver.DTSSSH{Logger: t.Log()}).Configure(ctx, u, sc.DTS)
		if err != nil {
			return outcome(rep, err)
		}
		return &engine.Outcome{Success: rep.Verified, Details: rep}, nil
	})
}

func (r *Runner) handleBrokerAPI(ctx context.Context, t *engine.Target, sc *scenario.Scenario) (*engine.Outcome, error) {
	if sc.Broker == nil {
		return nil, fmt.Errorf("scenario %s has no broker configuration", sc.Name)
	}
	return r.withAPI(ctx, t, func(c *restapi.Client) (*engine.Outcome, error) {
		d := &driver.BrokerAPI{Logger: t.Log()}
		rep, err := d.Configure(ctx, c, sc.Broker)
		if err != nil {
			return outcome(rep, err)
		}
		return verified(rep, d.Verify(ctx, c, sc.Broker)), nil
	})
}

// handleDTSAPI creates the pipeline through the REST API and reads it back.
// The pipeline is deleted here only when no validation follows; otherwise
// the validation cleanup removes it.
func (r *Runner) handleDTSAPI(ctx context.Context, t *engine.Target, sc *scenario.Scenario) (*engine.Outcome, error) {
	if sc.DTS == nil {
		return nil, fmt.Errorf("scenario %s has no data_to_server configuration", sc.Name)
	}
	return r.withAPI(ctx, t, func(c *restapi.Client) (*engine.Outcome, error) {
		d := &driver.DTSAPI{Logger: t.Log()}
		rep, err := d.Configure(ctx, c, sc.DTS)
		if err != nil {
			return outcome(rep, err)
		}
		out := verified(rep, d.Verify(ctx, c, rep))
		if !r.validates {
			if err := d.Cleanup(ctx, c, rep); err != nil {
				t.Log().Warn("data_to_server cleanup failed", slog.Any("error", err))
			}
		}
		return out, nil
	})
}

func handleGUI(ctx context.Context, _ *engine.Target, sc *scenario.Scenario) (*engine.Outcome, error) {
	return nil, driver.GUI{}.Configure(ctx, sc)
}
