// fdpstat prints and optionally resets the Flexible Data Placement
// statistics of an NVMe namespace by sending a single IO Management Send
// command over io_uring passthrough.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/ehrlich-b/go-fdpstat"
	"github.com/ehrlich-b/go-fdpstat/internal/config"
	"github.com/ehrlich-b/go-fdpstat/internal/logging"
	"github.com/ehrlich-b/go-fdpstat/internal/uring"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

type options struct {
	reset      bool
	readOnly   bool
	mode       string
	backend    string
	configPath string
	queues     int
	depth      int
	textfile   string
	verbose    bool
	logFormat  string
}

func newFlagSet(opts *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("fdpstat", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&opts.reset, "reset", false, "Print stats and reset all counters (default)")
	fs.BoolVar(&opts.readOnly, "read-only", false, "Print stats without resetting counters")
	fs.StringVar(&opts.mode, "mode", "", "Send the management operation named in the opcode table")
	fs.StringVar(&opts.backend, "backend", "", "Device backend: io_uring or emu")
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.IntVar(&opts.queues, "queues", 0, "Number of queues to create (1-128)")
	fs.IntVar(&opts.depth, "depth", 0, "Command contexts per queue")
	fs.StringVar(&opts.textfile, "textfile", "", "Write results to a Prometheus textfile")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")
	fs.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	fs.BoolP("help", "h", false, "Show this help")
	return fs
}

func printUsage(w io.Writer, prog string, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "FEMU FDP Statistics Tool\n\n")
	fmt.Fprintf(w, "Usage: %s <device> [--reset|--read-only]\n\n", prog)
	fmt.Fprintf(w, "Options:\n")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  %s /dev/nvme0n1 --reset\n", prog)
	fmt.Fprintf(w, "  %s /dev/nvme0n1 --read-only\n", prog)
	fmt.Fprintf(w, "  %s /dev/ng0n1\n", prog)
	fmt.Fprintf(w, "  %s emu0 --backend emu --read-only\n", prog)
}

func run(args []string, stdout, stderr io.Writer) int {
	prog := "fdpstat"
	if len(args) > 0 {
		prog = args[0]
		args = args[1:]
	}

	var opts options
	fs := newFlagSet(&opts)

	// help wins over every other argument and never touches the device
	for _, a := range args {
		if a == "-h" || a == "--help" {
			printUsage(stderr, prog, fs)
			return 0
		}
	}

	if err := fs.Parse(args); err != nil {
		if tok := unknownOption(fs, args); tok != "" {
			fmt.Fprintf(stderr, "Error: Unknown option '%s'\n\n", tok)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n\n", err)
		}
		printUsage(stderr, prog, fs)
		return 1
	}
	if fs.NArg() != 1 {
		printUsage(stderr, prog, fs)
		return 1
	}
	if countTrue(opts.reset, opts.readOnly, opts.mode != "") > 1 {
		fmt.Fprintf(stderr, "Error: --reset, --read-only and --mode are mutually exclusive\n\n")
		printUsage(stderr, prog, fs)
		return 1
	}

	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.LoadFromFile(opts.configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	applyFlags(cfg, fs, &opts)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return 1
	}

	logger := logging.NewLogger(&logging.Config{
		Level:  parseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: stderr,
		Sync:   true,
	})
	logging.SetDefault(logger)

	params, err := buildParams(fs.Arg(0), cfg, &opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	mo, ok := cfg.Opcodes[params.Mode]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown mode %q\n", params.Mode)
		return 1
	}
	fmt.Fprintf(stdout, "=== FEMU FDP Statistics ===\n")
	fmt.Fprintf(stdout, "Device: %s\n", params.Device)
	fmt.Fprintf(stdout, "Mode: %s (MO=0x%x)\n", modeLabel(params.Mode), mo)
	fmt.Fprintf(stdout, "===========================\n\n")

	report, err := fdpstat.Run(context.Background(), params, &fdpstat.Options{
		Logger: lineWriter{stdout},
	})
	if err != nil {
		printSetupError(stderr, params.Device, err)
		return 1
	}

	printReport(stdout, report)
	printWarnings(stderr, report)
	return 0
}

// applyFlags overrides config values with the flags given on the command line
func applyFlags(cfg *config.Config, fs *pflag.FlagSet, opts *options) {
	if fs.Changed("backend") {
		cfg.Backend = strings.ToLower(opts.backend)
	}
	if fs.Changed("queues") {
		cfg.Queues = opts.queues
	}
	if fs.Changed("depth") {
		cfg.QueueDepth = opts.depth
	}
	if fs.Changed("textfile") {
		cfg.Textfile = opts.textfile
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = strings.ToLower(opts.logFormat)
	}
}

func buildParams(path string, cfg *config.Config, opts *options) (fdpstat.Params, error) {
	params := fdpstat.DefaultParams(path)
	params.Backend = cfg.Backend
	params.NumQueues = cfg.Queues
	params.QueueDepth = cfg.QueueDepth
	params.BufferSize = cfg.BufferSize
	params.Select = *cfg.Select
	params.Opcodes = cfg.Opcodes
	params.Textfile = cfg.Textfile

	switch {
	case opts.readOnly:
		params.Mode = fdpstat.ModeReadOnly
	case opts.mode != "":
		params.Mode = opts.mode
	default:
		params.Mode = fdpstat.ModeReset
	}

	order, ok := uring.ParseOrder(cfg.Emu.Order)
	if !ok {
		return params, fmt.Errorf("unknown completion order %q", cfg.Emu.Order)
	}
	params.Emu.Path = path
	params.Emu.NSID = cfg.Emu.NSID
	params.Emu.Seed = cfg.Emu.Seed
	params.Emu.Order = order
	if cfg.Emu.Handles != nil {
		params.Emu.Handles = *cfg.Emu.Handles
	}
	return params, nil
}

func printSetupError(w io.Writer, dev string, err error) {
	var e *fdpstat.Error
	if errors.As(err, &e) && e.Op == "OPEN_DEVICE" {
		fmt.Fprintf(w, "Error: Failed to open device '%s'\n", dev)
		fmt.Fprintf(w, "Error: %v\n", err)
		fmt.Fprintf(w, "Hint: Try running with sudo, or check if the device exists.\n")
		fmt.Fprintf(w, "Hint: io_uring passthrough needs the generic char device (/dev/ngXnY).\n")
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// unknownOption returns the first argument that looks like a flag but is
// not defined in fs
func unknownOption(fs *pflag.FlagSet, args []string) string {
	for _, a := range args {
		if a == "--" {
			return ""
		}
		switch {
		case strings.HasPrefix(a, "--"):
			name := strings.SplitN(a[2:], "=", 2)[0]
			if fs.Lookup(name) == nil {
				return a
			}
		case strings.HasPrefix(a, "-") && len(a) > 1:
			for _, r := range a[1:] {
				if fs.ShorthandLookup(string(r)) == nil {
					return a
				}
			}
		}
	}
	return ""
}

func countTrue(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

func modeLabel(mode string) string {
	switch mode {
	case fdpstat.ModeReset:
		return "RESET"
	case fdpstat.ModeReadOnly:
		return "READ-ONLY"
	}
	return strings.ToUpper(strings.ReplaceAll(mode, "_", "-"))
}

func parseLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "info":
		return logging.LevelInfo
	case "error":
		return logging.LevelError
	default:
		return logging.LevelWarn
	}
}

// lineWriter prints each progress line on its own line
type lineWriter struct {
	w io.Writer
}

func (l lineWriter) Printf(format string, args ...interface{}) {
	fmt.Fprintf(l.w, format+"\n", args...)
}
