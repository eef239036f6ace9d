// Command reframe probes, splits and reorders compressed video streams. It
// detects raw ProRes and MPEG-TS input, splits raw ProRes into frames and
// undoes DivX packed B-frames in MPEG-4 Part 2 video, from files or live
// SRT ingest.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

var version = "dev"

const usage = `usage: reframe <command> [flags] [args]

commands:
  probe FILE...        detect the format of each file
  split [-o DIR] FILE  write every frame of FILE to its own file
  unpack IN OUT        undo packed B-frames ("-" for stdin/stdout)
  serve                accept SRT streams and write them to disk
  push FILE HOST:PORT  send a transport stream file to an SRT listener
  version              print the version
`

// errUsage reports bad arguments; usage has already been printed.
var errUsage = errors.New("invalid arguments")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			slog.Error("reframe failed", "error", err)
		}
		os.Exit(1)
	}
}

// env carries the process streams to a command.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	log    *slog.Logger
}

type command func(ctx context.Context, e *env, args []string) error

var commands = map[string]command{
	"probe":  runProbe,
	"split":  runSplit,
	"unpack": runUnpack,
	"serve":  runServe,
	"push":   runPush,
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}
	name, args := args[0], args[1:]
	if name == "version" {
		fmt.Fprintln(stdout, "reframe", version)
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", name, usage)
		return errUsage
	}
	e := &env{stdin: stdin, stdout: stdout, stderr: stderr}
	return cmd(ctx, e, args)
}

// flagSet returns a FlagSet for a subcommand with the shared --debug flag.
func (e *env) flagSet(name, synopsis string) (*pflag.FlagSet, *bool) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "usage: reframe %s %s\n", name, synopsis)
		fs.PrintDefaults()
	}
	debug := fs.Bool("debug", os.Getenv("DEBUG") != "", "log at debug level")
	return fs, debug
}

// parse parses args and installs the logger.
func (e *env) parse(fs *pflag.FlagSet, debug *bool, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errUsage
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	e.log = slog.New(slog.NewTextHandler(e.stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(e.log)
	return nil
}
