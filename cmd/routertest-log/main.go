// Command routertest-log views and analyzes routertest transcript files.
//
// Transcripts are written by routertest with the -transcript flag. Each
// record is one SSH command, REST request, probe step, session state change
// or error.
//
// Usage:
//
//	routertest-log <command> [flags] <file.rtlog>
//
// Commands:
//
//	view     View transcript, one line per event
//	export   Export transcript to JSONL or CSV
//	filter   Filter transcript and write to new file
//	stats    Show statistics about the transcript
//
// Examples:
//
//	# View only failed commands
//	routertest-log view --failed run.rtlog
//
//	# View SSH commands with their output
//	routertest-log view --channel ssh --kind command --output run.rtlog
//
//	# Export to CSV
//	routertest-log export --format csv -o run.csv run.rtlog
//
//	# Keep one session
//	routertest-log filter --session 3f2a9c1e-... -o session.rtlog run.rtlog
//
//	# Show statistics
//	routertest-log stats run.rtlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rutlab/routertest/cmd/routertest-log/commands"
)

const usage = `routertest-log - Router Test Transcript Analyzer

Usage:
  routertest-log <command> [flags] <file.rtlog>

Commands:
  view     View transcript, one line per event
  export   Export transcript to JSONL or CSV
  filter   Filter transcript and write to new file
  stats    Show statistics about the transcript

Use "routertest-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// filterFlags registers the selection flags shared by view and filter.
func filterFlags(fs *flag.FlagSet) *commands.FilterOptions {
	opts := &commands.FilterOptions{}
	fs.StringVar(&opts.SessionID, "session", "", "Filter by session ID")
	fs.StringVar(&opts.Channel, "channel", "", "Filter by channel (ssh, api, probe)")
	fs.StringVar(&opts.Kind, "kind", "", "Filter by kind (command, state, error)")
	fs.StringVar(&opts.Host, "host", "", "Filter by host")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.BoolVar(&opts.Failed, "failed", false, "Only failed commands and errors")
	return opts
}

func newFlagSet(name, synopsis, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "routertest-log %s - %s\n\nUsage:\n  routertest-log %s %s\n\nFlags:\n", name, synopsis, name, args)
		fs.PrintDefaults()
	}
	return fs
}

// pathArg returns the single positional transcript path or exits.
func pathArg(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: transcript path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runView(args []string) {
	fs := newFlagSet("view", "View transcript, one line per event", "[flags] <file.rtlog>")
	opts := filterFlags(fs)
	output := fs.Bool("output", false, "Print command output below each command")
	path := pathArg(fs, args)

	fail(commands.RunView(path, *opts, *output, os.Stdout))
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export transcript to JSONL or CSV", "[flags] <file.rtlog>")
	format := fs.String("format", commands.FormatJSONL, "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := pathArg(fs, args)

	fail(commands.RunExport(path, *format, *output))
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter transcript and write to new file", "[flags] -o <out.rtlog> <file.rtlog>")
	opts := filterFlags(fs)
	output := fs.String("o", "", "Output file (required)")
	path := pathArg(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}
	fail(commands.RunFilter(path, *output, *opts, os.Stdout))
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the transcript", "<file.rtlog>")
	path := pathArg(fs, args)

	fail(commands.RunStats(path, os.Stdout))
}
