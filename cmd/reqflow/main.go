package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/reqflow/internal/config"
	"github.com/unkn0wn-root/reqflow/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// errChecksFailed marks a run that completed but had failing items.
var errChecksFailed = errors.New("one or more requests failed")

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		if !errors.Is(err, errChecksFailed) {
			fmt.Fprintln(os.Stderr, "reqflow:", err)
		}
		os.Exit(1)
	}
}

// app is the state shared by every subcommand.
type app struct {
	out    io.Writer
	errOut io.Writer

	verbosity int
	logFormat string

	settings config.Settings
	log      logr.Logger
	flush    func() error
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut, log: logging.Discard()}
	root := &cobra.Command{
		Use:           "reqflow",
		Short:         "Run API request collections from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().CountVarP(&a.verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: console or json (default from settings)")

	root.AddCommand(newRunCmd(a), newOAuthCmd(a), newHistoryCmd(a), newVersionCmd(a))
	return root
}

func (a *app) setup() error {
	settings, _, err := config.LoadSettings()
	if err != nil {
		return err
	}
	a.settings = settings

	level := settings.Log.Level
	if a.verbosity > 0 {
		level = int8(a.verbosity)
	}
	logging.SetLevel(level)

	format := a.logFormat
	if format == "" {
		format = settings.Log.Format
	}
	var sink logging.Sink
	switch format {
	case "", "console":
		sink = logging.WithConsoleSink(a.errOut)
	case "json":
		sink = logging.WithJSONSink(a.errOut)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	a.log, a.flush = logging.New("reqflow", sink)
	if zl, err := logging.Underlying(a.log); err == nil {
		zap.RedirectStdLog(zl)
	}
	return nil
}

func (a *app) close() {
	if a.flush != nil {
		_ = a.flush()
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.out, "reqflow %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
