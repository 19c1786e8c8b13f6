package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Process exit codes.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
	ExitInvalidConfig    = 104
	ExitRunError         = 107
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// app holds what the commands share: the environment lookup and the logger
// configured by the persistent flags.
type app struct {
	getenv func(string) string
	logger *logrus.Logger
}

// NewRootCmd builds the command tree reading the process environment.
func NewRootCmd() *cobra.Command {
	return newRootCmd(os.Getenv)
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	a := &app{getenv: getenv, logger: logrus.New()}

	root := &cobra.Command{
		Use:     "rpzload",
		Short:   "Staged load generator for the rpz items service",
		Version: version,
		Long: `rpzload preloads a set of items into the rpz service, then ramps virtual
users through a stage profile, each repeatedly fetching a random item, and
judges the run against latency and failure-rate thresholds.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			if err := configureLogger(a.logger, cmd.ErrOrStderr(), level, format); err != nil {
				return withCode(ExitInvalidConfig, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "warn", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return withCode(ExitInvalidConfig, err)
	})

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newServeCmd(a))
	return root
}

// configureLogger points logger at w with the given level and format.
func configureLogger(logger *logrus.Logger, w io.Writer, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	switch strings.ToLower(format) {
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid --log-format %q: want text or json", format)
	}

	logger.SetOutput(w)
	logger.SetLevel(lvl)
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return execute(NewRootCmd(), nil)
}

func execute(root *cobra.Command, args []string) int {
	if args != nil {
		root.SetArgs(args)
	}

	err := root.Execute()
	if err == nil {
		return ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(root.ErrOrStderr(), "Error:", ee.err)
		}
		return ee.code
	}

	fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	return ExitError
}
