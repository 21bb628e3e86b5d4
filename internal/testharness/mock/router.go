// Package mock provides an in-memory router for testing. It understands the
// uci, init.d and ps commands the drivers and validator issue, and can serve
// the router's REST API over the same state.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rutlab/routertest/pkg/uci"
)

const fallbackMarker = " 2>/dev/null || echo "

// Router is a fake router reachable through Execute.
type Router struct {
	// Host is the address reported in logs.
	Host string

	// Delay is applied before every command.
	Delay time.Duration

	// ConnectErr is returned by Connect when set.
	ConnectErr error

	// CloseErr is returned by Close when set.
	CloseErr error

	// Handlers are callbacks consulted before the built-in commands.
	Handlers RouterHandlers

	packages  map[string]*uci.Table
	running   map[string]bool
	failures  map[string]error
	commands  []string
	commits   map[string]int
	restarts  map[string]int
	connected bool
	closes    int

	mu sync.Mutex
}

// RouterHandlers holds optional command hooks.
type RouterHandlers struct {
	// OnCommand may answer a command. Returning handled=false falls through
	// to the built-in behavior.
	OnCommand func(cmd string) (out string, handled bool, err error)

	// OnRestart is called after a service restart.
	OnRestart func(service string)
}

// NewRouter returns an empty, disconnected router.
func NewRouter(host string) *Router {
	return &Router{
		Host:     host,
		packages: make(map[string]*uci.Table),
		running:  make(map[string]bool),
		failures: make(map[string]error),
		commits:  make(map[string]int),
		restarts: make(map[string]int),
	}
}

// Load replaces the content of the package named in the `uci show` text.
func (r *Router) Load(text string) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := uci.Parse(text)
	if t.Package != "" {
		r.packages[t.Package] = t
	}
	return r
}

// Table returns a copy of pkg in `uci show` notation parsed back.
func (r *Router) Table(pkg string) *uci.Table {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.packages[pkg]
	if !ok {
		return uci.NewTable(pkg)
	}
	return uci.Parse(uci.Format(t))
}

// Update runs fn on the live table of pkg, creating it when missing.
func (r *Router) Update(pkg string, fn func(t *uci.Table)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, _ := r.table(pkg, true)
	fn(t)
}

// Restart restarts a service as `/etc/init.d/<name> restart` would.
func (r *Router) Restart(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.service(name, "restart")
}

// SetRunning marks a process as running or stopped.
func (r *Router) SetRunning(name string, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[name] = running
}

// Running reports whether a process is running.
func (r *Router) Running(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[name]
}

// FailOn makes every command with the given prefix fail with err.
func (r *Router) FailOn(prefix string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[prefix] = err
}

// Commands returns every command executed so far.
func (r *Router) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

// CommandsWithPrefix returns executed commands starting with prefix.
func (r *Router) CommandsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range r.Commands() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Commits returns how often pkg was committed.
func (r *Router) Commits(pkg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commits[pkg]
}

// Restarts returns how often service was restarted.
func (r *Router) Restarts(service string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts[service]
}

// Closes returns how often Close was called.
func (r *Router) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

// Connected reports whether the router is connected.
func (r *Router) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Connect marks the router connected.
func (r *Router) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ConnectErr != nil {
		return r.ConnectErr
	}
	r.connected = true
	return nil
}

// Close marks the router disconnected.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	r.connected = false
	return r.CloseErr
}

// Execute runs cmd against the in-memory state. Commands issued after ctx is
// done are refused; a command already sleeping in Delay completes.
func (r *Router) Execute(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return "", ErrNotConnected
	}
	r.commands = append(r.commands, cmd)

	for prefix, err := range r.failures {
		if strings.HasPrefix(cmd, prefix) {
			return "", err
		}
	}

	base, fallback, hasFallback := splitFallback(cmd)
	out, err := r.dispatch(base)
	if err != nil && hasFallback && uci.IsExitError(err) {
		return fallback, nil
	}
	if exit, ok := err.(*ExitError); ok {
		return exit.Output, err
	}
	return out, err
}

func splitFallback(cmd string) (string, string, bool) {
	base, rest, ok := strings.Cut(cmd, fallbackMarker)
	if !ok {
		return cmd, "", false
	}
	return base, uci.Unquote(strings.TrimSpace(rest)), true
}

func (r *Router) dispatch(cmd string) (string, error) {
	if r.Handlers.OnCommand != nil {
		if out, handled, err := r.Handlers.OnCommand(cmd); handled {
			return out, err
		}
	}

	fields := strings.Fields(cmd)
	switch {
	case len(fields) == 0:
		return "", nil
	case fields[0] == "uci" && len(fields) >= 3:
		arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(cmd, "uci"), " "+fields[1]))
		return r.uci(fields[1], arg)
	case fields[0] == "ps" && len(fields) == 4 && fields[1] == "|" && fields[2] == "grep":
		// busybox grep always lists itself.
		self := fmt.Sprintf(" 4242 root      1228 S    grep %s", fields[3])
		if r.running[fields[3]] {
			return fmt.Sprintf(" 1234 root      5960 S    /usr/sbin/%s -c /var/etc/%s.conf\n%s", fields[3], fields[3], self), nil
		}
		return self, nil
	case strings.HasPrefix(fields[0], "/etc/init.d/") && len(fields) == 2:
		return r.service(strings.TrimPrefix(fields[0], "/etc/init.d/"), fields[1])
	case fields[0] == "sleep":
		return "", nil
	}
	return "", &ExitError{Status: 127, Output: "sh: " + fields[0] + ": not found"}
}

func (r *Router) service(name, action string) (string, error) {
	switch action {
	case "restart", "start", "reload":
		r.restarts[name]++
		r.running[name] = true
		if r.Handlers.OnRestart != nil {
			r.Handlers.OnRestart(name)
		}
		return "", nil
	case "stop":
		r.running[name] = false
		return "", nil
	case "status":
		if r.running[name] {
			return "running", nil
		}
		return "inactive", &ExitError{Status: 3, Output: "inactive"}
	}
	return "", &ExitError{Status: 1, Output: "Syntax: /etc/init.d/" + name + " [command]"}
}

type location struct {
	pkg, section, option string
}

func parseLocation(s string) location {
	parts := strings.SplitN(s, ".", 3)
	var loc location
	loc.pkg = parts[0]
	if len(parts) > 1 {
		loc.section = parts[1]
	}
	if len(parts) > 2 {
		loc.option = parts[2]
	}
	return loc
}

func (r *Router) table(pkg string, create bool) (*uci.Table, bool) {
	t, ok := r.packages[pkg]
	if !ok && create {
		t = uci.NewTable(pkg)
		r.packages[pkg] = t
		ok = true
	}
	return t, ok
}

func (r *Router) uci(verb, arg string) (string, error) {
	switch verb {
	case "show":
		return r.uciShow(parseLocation(arg))
	case "get":
		return r.uciGet(parseLocation(arg))
	case "set":
		path, value, ok := strings.Cut(arg, "=")
		if !ok {
			return "", &ExitError{Status: 1, Output: "uci: Invalid argument"}
		}
		return "", r.uciSet(parseLocation(path), uci.Unquote(value), false)
	case "add_list":
		path, value, ok := strings.Cut(arg, "=")
		if !ok {
			return "", &ExitError{Status: 1, Output: "uci: Invalid argument"}
		}
		return "", r.uciSet(parseLocation(path), uci.Unquote(value), true)
	case "del", "delete":
		return "", r.uciDelete(parseLocation(arg))
	case "commit":
		r.commits[arg]++
		return "", nil
	case "revert", "changes":
		return "", nil
	}
	return "", &ExitError{Status: 1, Output: "uci: Invalid command"}
}

func (r *Router) uciShow(loc location) (string, error) {
	t, ok := r.table(loc.pkg, false)
	if !ok {
		return "", entryNotFound()
	}
	if loc.section == "" {
		return strings.TrimRight(uci.Format(t), "\n"), nil
	}
	sec, ok := t.Section(loc.section)
	if !ok {
		return "", entryNotFound()
	}
	if loc.option == "" {
		sub := uci.NewTable(loc.pkg)
		cp := sub.Ensure(sec.ID, sec.Type)
		for _, key := range sec.Order {
			cp.Set(key, sec.Options[key])
		}
		return strings.TrimRight(uci.Format(sub), "\n"), nil
	}
	v, ok := sec.Get(loc.option)
	if !ok {
		return "", entryNotFound()
	}
	items := make([]string, 0, len(v.List()))
	for _, item := range v.List() {
		items = append(items, uci.Quote(item))
	}
	return fmt.Sprintf("%s.%s.%s=%s", loc.pkg, loc.section, loc.option, strings.Join(items, " ")), nil
}

func (r *Router) uciGet(loc location) (string, error) {
	t, ok := r.table(loc.pkg, false)
	if !ok || loc.section == "" {
		return "", entryNotFound()
	}
	sec, ok := t.Section(loc.section)
	if !ok {
		return "", entryNotFound()
	}
	if loc.option == "" {
		return sec.Type, nil
	}
	v, ok := sec.Get(loc.option)
	if !ok {
		return "", entryNotFound()
	}
	return v.String(), nil
}

func (r *Router) uciSet(loc location, value string, appendItem bool) error {
	if loc.section == "" {
		return &ExitError{Status: 1, Output: "uci: Invalid argument"}
	}
	t, _ := r.table(loc.pkg, true)
	if loc.option == "" {
		t.Ensure(loc.section, value)
		return nil
	}
	sec, ok := t.Section(loc.section)
	if !ok {
		return entryNotFound()
	}
	if !appendItem {
		sec.Set(loc.option, uci.Scalar(value))
		return nil
	}
	cur, _ := sec.Get(loc.option)
	sec.Set(loc.option, uci.List(append(cur.List(), value)...))
	return nil
}

func (r *Router) uciDelete(loc location) error {
	t, ok := r.table(loc.pkg, false)
	if !ok || loc.section == "" {
		return entryNotFound()
	}
	if loc.option == "" {
		if !t.Remove(loc.section) {
			return entryNotFound()
		}
		return nil
	}
	sec, ok := t.Section(loc.section)
	if !ok {
		return entryNotFound()
	}
	if _, ok := sec.Get(loc.option); !ok {
		return entryNotFound()
	}
	sec.Delete(loc.option)
	return nil
}

// SectionIDs returns the ids of pkg sorted numerically where possible.
func (r *Router) SectionIDs(pkg string) []string {
	ids := r.Table(pkg).IDs()
	sort.SliceStable(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	return ids
}
