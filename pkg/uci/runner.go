package uci

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Executor runs a shell command on the router and returns its trimmed
// combined output.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, command string) (string, error)

// Execute calls f(ctx, command).
func (f ExecutorFunc) Execute(ctx context.Context, command string) (string, error) {
	return f(ctx, command)
}

// IsExitError reports whether err carries a non-zero exit status of the
// remote command, as opposed to a transport failure.
func IsExitError(err error) bool {
	var exit interface{ ExitStatus() int }
	return errors.As(err, &exit)
}

// Runner issues uci commands through an Executor.
type Runner struct {
	exec Executor
}

// NewRunner returns a Runner over exec.
func NewRunner(exec Executor) *Runner {
	return &Runner{exec: exec}
}

// Executor returns the underlying executor.
func (r *Runner) Executor() Executor {
	return r.exec
}

// Run executes a raw command.
func (r *Runner) Run(ctx context.Context, command string) (string, error) {
	out, err := r.exec.Execute(ctx, command)
	if err != nil {
		return out, fmt.Errorf("failed to run %q: %w", command, err)
	}
	return strings.TrimSpace(out), nil
}

// Query runs a read-only command. A non-zero exit status (for example uci
// reporting a missing entry, or grep finding nothing) is not an error; the
// output is returned as-is.
func (r *Runner) Query(ctx context.Context, command string) (string, error) {
	out, err := r.Run(ctx, command)
	if err != nil {
		if IsExitError(err) {
			return strings.TrimSpace(out), nil
		}
		return "", err
	}
	return out, nil
}

// Show runs `uci show <pkg>` and parses the result.
func (r *Runner) Show(ctx context.Context, pkg string) (*Table, error) {
	out, err := r.Run(ctx, ShowCmd(pkg))
	if err != nil {
		return nil, err
	}
	t := Parse(out)
	if t.Package == "" {
		t.Package = pkg
	}
	return t, nil
}

// ShowValue runs `uci show <loc>` and returns the raw output along with the
// parsed value. A missing entry is not an error; the value is then empty.
func (r *Runner) ShowValue(ctx context.Context, loc string) (string, Value, error) {
	out, err := r.Query(ctx, ShowCmd(loc))
	if err != nil {
		return "", Value{}, err
	}
	return out, ParseShowValue(out), nil
}

// Get runs `uci get <loc>`.
func (r *Runner) Get(ctx context.Context, loc string) (string, error) {
	return r.Run(ctx, GetCmd(loc))
}

// GetOr reads loc and returns fallback when the entry is missing or the
// command fails.
func (r *Runner) GetOr(ctx context.Context, loc, fallback string) string {
	out, err := r.Run(ctx, GetOrCmd(loc, fallback))
	if err != nil {
		return fallback
	}
	return Unquote(out)
}

// Set runs `uci set <loc>='<value>'`.
func (r *Runner) Set(ctx context.Context, loc, value string) error {
	_, err := r.Run(ctx, SetCmd(loc, value))
	return err
}

// Declare creates section id of type typ in pkg.
func (r *Runner) Declare(ctx context.Context, pkg, id, typ string) error {
	_, err := r.Run(ctx, DeclareCmd(pkg, id, typ))
	return err
}

// SetList replaces the list at loc with items. The initial del is allowed to
// fail because the option may not exist yet.
func (r *Runner) SetList(ctx context.Context, loc string, items []string) error {
	_, _ = r.Run(ctx, DelCmd(loc))
	for _, item := range items {
		if _, err := r.Run(ctx, AddListCmd(loc, item)); err != nil {
			return err
		}
	}
	return nil
}

// Delete runs `uci delete <loc>`.
func (r *Runner) Delete(ctx context.Context, loc string) error {
	_, err := r.Run(ctx, DeleteCmd(loc))
	return err
}

// Commit runs `uci commit <pkg>`.
func (r *Runner) Commit(ctx context.Context, pkg string) error {
	_, err := r.Run(ctx, CommitCmd(pkg))
	return err
}

// Service runs `/etc/init.d/<name> <action>` and returns its output.
func (r *Runner) Service(ctx context.Context, name, action string) (string, error) {
	return r.Run(ctx, ServiceCmd(name, action))
}

// Apply commits pkg and restarts the service of the same name.
func (r *Runner) Apply(ctx context.Context, pkg string) error {
	if err := r.Commit(ctx, pkg); err != nil {
		return err
	}
	_, err := r.Service(ctx, pkg, "restart")
	return err
}
