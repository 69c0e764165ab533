// Package run runs the top-level task of a command: it builds the root
// logger from the command line, watches for termination signals and turns
// the outcome of the task into the exit code.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ridge/ddp/tlog"
	"github.com/ridge/parallel"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var fs = newFlagSet(os.Args[0])

func init() {
	// Add options help to the main command-line parser
	pflag.CommandLine.AddFlagSet(fs)
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.String("log-format", string(tlog.FormatText), "Log format (json|text)")
	fs.String("log-color", "auto", "Colored logs (yes|no|auto)")
	fs.BoolP("verbose", "v", false, "Enable verbose (debug level) messages")
	// The regular command line parsing prints the usage
	fs.Usage = func() {}
	return fs
}

// Tool runs the top-level task of a program, watching for signals.
//
// The context passed to the task carries the root logger. It is closed when
// an interruption or termination signal arrives.
//
// Tool does not return. It exits with code 0 if the task returns nil, with
// the code of a WithExitCode error, and with code 1 otherwise. Deferred
// functions of the caller do not run, so keep the main code inside the task:
//
//	func main() {
//	    pflag.Parse()
//	    run.Tool(func(ctx context.Context) error {
//	        client := ddp.New(ddp.Config{URL: *url})
//	        return client.Run(ctx)
//	    })
//	}
func Tool(task func(ctx context.Context) error) {
	config, err := parseConfig(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	config.Name = filepath.Base(os.Args[0])

	// os.Exit doesn't run deferred functions, so it's called in the first
	// defer which runs last
	defer func() {
		os.Exit(exitCode(err))
	}()

	ctx := tlog.WithLogger(context.Background(), tlog.New(config))

	err = parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("main", parallel.Exit, task)
		spawn("signals", parallel.Exit, handleSignals)
		return nil
	})
	if err != nil {
		tlog.Get(ctx).Error("Error", zap.Error(err))
	}
}

// Server runs the top-level task like Tool, except that a task finishing
// with (possibly wrapped) context.Canceled after a signal counts as success.
//
// Any other error returned during signal handling still makes Server exit
// with code 1.
func Server(task func(ctx context.Context) error) {
	Tool(func(ctx context.Context) error {
		err := task(ctx)
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		return err
	})
}

// WithExitCode is an optional interface that can be implemented by an error.
//
// When a (possibly wrapped) error implementing WithExitCode reaches the top
// level, the value returned by the ExitCode method becomes the exit code of the
// process.
type WithExitCode interface {
	ExitCode() int
}

// ExitCode is an error that makes Tool exit with the given code
type ExitCode int

func (c ExitCode) Error() string {
	return fmt.Sprintf("exit code %d", int(c))
}

// ExitCode implements WithExitCode
func (c ExitCode) ExitCode() int {
	return int(c)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var wec WithExitCode
	if errors.As(err, &wec) {
		return wec.ExitCode()
	}
	return 1
}

// parseConfig returns the logging configuration given on the command line
func parseConfig(fs *pflag.FlagSet, args []string) (tlog.Config, error) {
	if err := fs.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return tlog.Config{}, err
	}

	format, err := fs.GetString("log-format")
	if err != nil {
		return tlog.Config{}, err
	}
	switch tlog.Format(format) {
	case tlog.FormatJSON, tlog.FormatText:
	default:
		return tlog.Config{}, fmt.Errorf("invalid --log-format value %q", format)
	}

	colorArg, err := fs.GetString("log-color")
	if err != nil {
		return tlog.Config{}, err
	}
	var color tlog.Color
	switch colorArg {
	case "", "auto":
		color = tlog.ColorAuto
	case "yes":
		color = tlog.ColorYes
	case "no":
		color = tlog.ColorNo
	default:
		return tlog.Config{}, fmt.Errorf("invalid --log-color value %q", colorArg)
	}

	verbose, err := fs.GetBool("verbose")
	if err != nil {
		return tlog.Config{}, err
	}

	return tlog.Config{
		Format:  tlog.Format(format),
		Color:   color,
		Verbose: verbose,
	}, nil
}
