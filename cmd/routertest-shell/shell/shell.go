// Package shell provides the interactive UCI console of routertest-shell.
package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/rutlab/routertest/internal/testharness/loader"
	"github.com/rutlab/routertest/pkg/driver"
	"github.com/rutlab/routertest/pkg/probe"
	"github.com/rutlab/routertest/pkg/scenario"
	"github.com/rutlab/routertest/pkg/uci"
	"github.com/rutlab/routertest/pkg/validator"
)

// Config configures a Shell.
type Config struct {
	// Session is the connected command channel used by every command except
	// validate.
	Session uci.Executor

	// Dial returns a fresh, unconnected session for validate, which closes
	// the session it is given. Nil disables validate.
	Dial func() validator.Session

	// ScenarioDir holds the scenario files named by validate.
	ScenarioDir string

	// Validation configures validate.
	Validation validator.Options

	// Prober checks broker liveness during validate. Nil skips the check.
	Prober probe.Prober

	// HistoryFile persists readline history. Empty keeps it in memory.
	HistoryFile string

	Logger *slog.Logger
}

// Shell is a line-oriented console over one router session.
type Shell struct {
	cfg    Config
	runner *uci.Runner
	logger *slog.Logger
	out    io.Writer
}

// New returns a shell writing to out.
func New(cfg Config, out io.Writer) *Shell {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = os.Stdout
	}
	return &Shell{
		cfg:    cfg,
		runner: uci.NewRunner(cfg.Session),
		logger: logger.With(slog.String("component", "shell")),
		out:    out,
	}
}

var commandNames = []string{
	"show", "get", "set", "delete", "commit", "restart",
	"resolve", "validate", "cleanup", "exec", "help", "exit",
}

func completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commandNames))
	for _, name := range commandNames {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

// Run reads commands until exit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "uci> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		HistoryFile:     s.cfg.HistoryFile,
		AutoComplete:    completer(),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	s.out = rl.Stdout()

	s.printHelp()
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			fmt.Fprintln(s.out, "Exiting...")
			return nil
		}
		if !s.Execute(ctx, line) {
			return nil
		}
	}
}

// Execute runs one command line. It returns false when the shell should
// stop.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]
	rest := strings.TrimSpace(input[len(fields[0]):])

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "show", "s":
		err = s.cmdShow(ctx, args)
	case "get", "g":
		err = s.cmdGet(ctx, args)
	case "set":
		err = s.cmdSet(ctx, rest)
	case "delete", "del":
		err = s.cmdDelete(ctx, args)
	case "commit":
		err = s.cmdCommit(ctx, args)
	case "restart":
		err = s.cmdRestart(ctx, args)
	case "resolve":
		err = s.cmdResolve(ctx, args)
	case "validate":
		err = s.cmdValidate(ctx, args)
	case "cleanup":
		err = s.cmdCleanup(ctx, args)
	case "exec", "!":
		err = s.cmdExec(ctx, rest)
	case "exit", "quit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return false
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Router UCI Console Commands:
  UCI:
    show <pkg>|<loc>            - Show a package as a tree, or one entry
    get <loc>                   - Read a value
    set <loc>=<value>           - Stage a value
    delete <loc>                - Stage a deletion
    commit <pkg>                - Commit staged changes
    restart <service>           - Restart an init.d service
    exec <command>              - Run a raw shell command

  Data to Server:
    resolve <instance>          - Locate the sections of an instance
    validate <mqtt> <dts>       - Validate scenarios ('-' skips one)
    cleanup [all|<instance>]    - Delete data_sender sections

  General:
    help                        - Show this help
    exit                        - Leave the console

  Location Format:
    package.section.option - e.g., mosquitto.mqtt.local_port`)
}

func usageError(usage string) error {
	return fmt.Errorf("usage: %s", usage)
}

func (s *Shell) cmdShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("show <pkg>|<loc>")
	}
	if !strings.Contains(args[0], ".") {
		t, err := s.runner.Show(ctx, args[0])
		if err != nil {
			return err
		}
		printTable(s.out, t)
		return nil
	}
	out, _, err := s.runner.ShowValue(ctx, args[0])
	if err != nil {
		return err
	}
	if out == "" {
		fmt.Fprintln(s.out, "(not found)")
		return nil
	}
	fmt.Fprintln(s.out, out)
	return nil
}

// printTable writes t as an indented tree:
//
//	mosquitto
//	  mqtt (mqtt)
//	    enabled = 1
func printTable(w io.Writer, t *uci.Table) {
	if t.Len() == 0 {
		fmt.Fprintf(w, "%s: no sections\n", t.Package)
		return
	}
	fmt.Fprintln(w, t.Package)
	for _, sec := range t.Sections() {
		fmt.Fprintf(w, "  %s (%s)\n", sec.ID, uci.SectionType(sec.Type))
		for _, key := range sec.Order {
			v := sec.Options[key]
			if v.IsList() {
				fmt.Fprintf(w, "    %s = [%s]\n", key, strings.Join(v.List(), ", "))
				continue
			}
			fmt.Fprintf(w, "    %s = %s\n", key, v.String())
		}
	}
}

func (s *Shell) cmdGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("get <loc>")
	}
	v, err := s.runner.Get(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, uci.Unquote(v))
	return nil
}

func (s *Shell) cmdSet(ctx context.Context, rest string) error {
	loc, value, ok := strings.Cut(rest, "=")
	loc = strings.TrimSpace(loc)
	if !ok || loc == "" {
		return usageError("set <loc>=<value>")
	}
	if err := s.runner.Set(ctx, loc, uci.Unquote(strings.TrimSpace(value))); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Staged %s (commit to apply)\n", loc)
	return nil
}

func (s *Shell) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("delete <loc>")
	}
	if err := s.runner.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Deleted %s (commit to apply)\n", args[0])
	return nil
}

func (s *Shell) cmdCommit(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("commit <pkg>")
	}
	if err := s.runner.Commit(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Committed %s\n", args[0])
	return nil
}

func (s *Shell) cmdRestart(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("restart <service>")
	}
	out, err := s.runner.Service(ctx, args[0], "restart")
	if err != nil {
		return err
	}
	if out != "" {
		fmt.Fprintln(s.out, out)
	}
	fmt.Fprintf(s.out, "Restarted %s\n", args[0])
	return nil
}

func (s *Shell) cmdExec(ctx context.Context, rest string) error {
	if rest == "" {
		return usageError("exec <command>")
	}
	out, err := s.runner.Run(ctx, rest)
	if out != "" {
		fmt.Fprintln(s.out, out)
	}
	return err
}

func (s *Shell) cmdResolve(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("resolve <instance>")
	}
	t, err := s.runner.Show(ctx, driver.DTSPackage)
	if err != nil {
		return err
	}
	resolver := uci.NewResolver(uci.DefaultStrategies(uci.RunnerTypeLookup(s.runner, driver.DTSPackage))...)
	res := resolver.Resolve(ctx, t, args[0])

	fmt.Fprintf(s.out, "Strategy:   %s\n", res.Strategy)
	fmt.Fprintf(s.out, "Collection: %s\n", orDash(res.Collection))
	fmt.Fprintf(s.out, "Output:     %s\n", orDash(res.Output))
	fmt.Fprintf(s.out, "Input:      %s\n", orDash(res.Input))
	if res.Degraded {
		fmt.Fprintln(s.out, "Warning: instance not found, using fallback section ids")
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// loadScenario reads name from the scenario directory. The name "-" yields
// nil.
func (s *Shell) loadScenario(name string, feature scenario.Feature) (*scenario.Scenario, error) {
	if name == "-" {
		return nil, nil
	}
	res := loader.LoadScenario(s.cfg.ScenarioDir, name, feature)
	switch {
	case !res.Found:
		return nil, fmt.Errorf("%s scenario %q not found in %s", feature, name, s.cfg.ScenarioDir)
	case res.Err != nil:
		return nil, res.Err
	}
	return res.Scenario, nil
}

func (s *Shell) cmdValidate(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("validate <mqtt-scenario|-> <dts-scenario|->")
	}
	if s.cfg.Dial == nil {
		return errors.New("validation is not available")
	}
	broker, err := s.loadScenario(args[0], scenario.FeatureBroker)
	if err != nil {
		return err
	}
	dts, err := s.loadScenario(args[1], scenario.FeatureDTS)
	if err != nil {
		return err
	}

	var bc *scenario.BrokerConfig
	var dc *scenario.DTSConfig
	if broker != nil {
		bc = broker.Broker
	}
	if dts != nil {
		dc = dts.DTS
	}

	opts := s.cfg.Validation
	opts.Logger = s.logger
	res := validator.New(s.cfg.Dial(), s.cfg.Prober, opts).ValidateAPConfig(ctx, bc, dc)
	printResult(s.out, res)
	return nil
}

func printResult(w io.Writer, res *validator.Result) {
	status := "FAIL"
	if res.Success {
		status = "PASS"
	}
	fmt.Fprintf(w, "[%s] %s (%s)\n", status, res.Message, res.Duration.Round(time.Millisecond))
	for _, sub := range []struct {
		name string
		res  *validator.SubsystemResult
	}{{"mqtt_broker", res.Broker}, {"data_to_server", res.DTS}} {
		if sub.res == nil {
			continue
		}
		fmt.Fprintf(w, "  %s:\n", sub.name)
		names := make([]string, 0, len(sub.res.Checks))
		for name := range sub.res.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			mark := "ok"
			if !sub.res.Checks[name] {
				mark = "FAILED"
			}
			fmt.Fprintf(w, "    %-28s %s\n", name, mark)
		}
		if sub.res.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", sub.res.Error)
		}
	}
}

func (s *Shell) cmdCleanup(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return usageError("cleanup [all|<instance>]")
	}

	var dts *scenario.DTSConfig
	all := len(args) == 0 || args[0] == "all"
	if !all {
		dts = &scenario.DTSConfig{InstanceName: scenario.S(args[0])}
	}

	report := validator.NewCleaner(s.runner, s.logger).CleanupSections(ctx, dts, all)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(data))
	if !report.OK() {
		return errors.New("cleanup incomplete")
	}
	return nil
}
