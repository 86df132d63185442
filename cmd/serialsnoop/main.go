package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	serial "github.com/luhtfiimanal/go-serial-snoop"
	"github.com/luhtfiimanal/go-serial-snoop/snoop"
	"github.com/luhtfiimanal/go-serial-snoop/trace"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var errHelp = errors.New("help requested")

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// options is the resolved invocation: defaults, then the config file, then
// flags given on the command line.
type options struct {
	ports          [2]string
	params         serial.LineParams
	format         trace.Format
	relay          bool
	flush          bool
	debug          bool
	version        bool
	bufferSize     int
	pollInterval   time.Duration
	maxWriteErrors int
}

// run executes one capture and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, isTerminal(stdout))
	if errors.Is(err, errHelp) {
		printUsage(stderr)
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "serialsnoop: %v\n", err)
		printUsage(stderr)
		return int(snoop.StatusUsage)
	}
	if opts.version {
		fmt.Fprintf(stdout, "serialsnoop %s\n", version)
		return 0
	}

	logger := newLogger(stderr, opts.debug)

	tracer, err := trace.New(opts.format, stdout, trace.Options{FlushEach: opts.flush})
	if err != nil {
		fmt.Fprintf(stderr, "serialsnoop: %v\n", err)
		return int(snoop.StatusUsage)
	}

	session, err := snoop.Open(snoop.Config{
		Ports:          opts.ports,
		Params:         opts.params,
		Relay:          opts.relay,
		BufferSize:     opts.bufferSize,
		PollInterval:   opts.pollInterval,
		MaxWriteErrors: opts.maxWriteErrors,
		Logger:         logger,
	}, tracer)
	if err != nil {
		logger.Error("cannot set up ports", "error", err)
		return int(snoop.StatusOf(err))
	}
	defer session.Close()

	stop := session.Notifier().WatchSignals(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Run(ctx); err != nil {
		logger.Error("capture aborted", "error", err)
		return int(snoop.StatusOf(err))
	}
	return 0
}

func parseArgs(args []string, stdoutIsTerminal bool) (*options, error) {
	var (
		paramString string
		formatName  string
		configPath  string
		help        bool
		opts        options
	)

	flagSet := pflag.NewFlagSet("serialsnoop", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVarP(&paramString, "param", "p", serial.DefaultParams.String(), "line parameters <baud>[N|E|O][7|8][1|2]")
	flagSet.StringVarP(&formatName, "format", "f", string(trace.FormatText), "trace format: text, xml or cbor")
	flagSet.BoolVarP(&opts.relay, "relay", "r", false, "relay each line's bytes out of the other port")
	flagSet.BoolVarP(&opts.flush, "flush", "F", stdoutIsTerminal, "flush the trace after every byte")
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv(configEnv), "YAML config file")
	flagSet.IntVar(&opts.bufferSize, "buffer-size", snoop.DefaultRelayCapacity, "relay buffer capacity in bytes")
	flagSet.DurationVar(&opts.pollInterval, "poll-interval", snoop.DefaultPollInterval, "readiness poll timeout")
	flagSet.IntVar(&opts.maxWriteErrors, "max-write-errors", snoop.DefaultMaxWriteErrors, "relay write failures tolerated per port")
	flagSet.BoolVarP(&opts.debug, "debug", "d", false, "debug logging")
	flagSet.BoolVarP(&opts.version, "version", "V", false, "print version and exit")
	flagSet.BoolVarP(&help, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if help {
		return nil, errHelp
	}
	if opts.version {
		return &opts, nil
	}

	file, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	applyConfig(&opts, file, flagSet, &paramString, &formatName)

	if opts.params, err = serial.ParseParams(paramString); err != nil {
		return nil, err
	}
	if opts.format, err = trace.ParseFormat(formatName); err != nil {
		return nil, err
	}
	if opts.bufferSize <= 0 {
		return nil, fmt.Errorf("--buffer-size must be positive, got %d", opts.bufferSize)
	}
	if opts.pollInterval < time.Millisecond {
		return nil, fmt.Errorf("--poll-interval must be at least 1ms, got %s", opts.pollInterval)
	}
	if opts.maxWriteErrors <= 0 {
		return nil, fmt.Errorf("--max-write-errors must be positive, got %d", opts.maxWriteErrors)
	}

	positional := flagSet.Args()
	switch {
	case len(positional) == 2:
		opts.ports = [2]string{positional[0], positional[1]}
	case len(positional) == 0 && len(file.Ports) == 2:
		opts.ports = [2]string{file.Ports[0], file.Ports[1]}
	default:
		return nil, fmt.Errorf("expected two ports, got %d", len(positional))
	}
	return &opts, nil
}

// applyConfig fills every option the command line left unset from the
// config file.
func applyConfig(opts *options, file *fileConfig, flagSet *pflag.FlagSet, paramString, formatName *string) {
	set := func(name string) bool { return flagSet.Changed(name) }

	if file.Params != "" && !set("param") {
		*paramString = file.Params
	}
	if file.Format != "" && !set("format") {
		*formatName = file.Format
	}
	if file.Relay != nil && !set("relay") {
		opts.relay = *file.Relay
	}
	if file.Flush != nil && !set("flush") {
		opts.flush = *file.Flush
	}
	if file.BufferSize != 0 && !set("buffer-size") {
		opts.bufferSize = file.BufferSize
	}
	if file.PollInterval != 0 && !set("poll-interval") {
		opts.pollInterval = file.PollInterval
	}
	if file.MaxWriteErrors != 0 && !set("max-write-errors") {
		opts.maxWriteErrors = file.MaxWriteErrors
	}
	if file.Debug && !set("debug") {
		opts.debug = true
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: serialsnoop [flags] port0 port1

Monitor a serial connection using two serial ports. Every byte seen on
either line is written to stdout with its line number and timestamp.

Flags:
  -p, --param PARAMS        line parameters <baud>[N|E|O][7|8][1|2] (default 1200E71)
  -f, --format FORMAT       trace format: text, xml or cbor (default text)
  -r, --relay               relay each line's bytes out of the other port
  -F, --flush               flush the trace after every byte
  -c, --config FILE         YAML config file (default $SERIALSNOOP_CONFIG)
      --buffer-size N       relay buffer capacity in bytes (default 1024)
      --poll-interval D     readiness poll timeout (default 10ms)
      --max-write-errors N  relay write failures tolerated per port (default 10)
  -d, --debug               debug logging
  -V, --version             print version and exit
  -h, --help                show help
`)
}
