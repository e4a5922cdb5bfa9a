package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"outlierscan/internal/exchange"
	"outlierscan/internal/logging"
)

// Exit codes of a stage process.
const (
	ExitSuccess           = 0
	ExitDataError         = 1
	ExitInvalidInvocation = 2
	ExitVersionError      = 3
	ExitInternalError     = 4
)

// ExitCode maps a stage error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, exchange.ErrVersion):
		return ExitVersionError
	case errors.Is(err, exchange.ErrSchema), errors.Is(err, exchange.ErrValue):
		return ExitDataError
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return ExitDataError
	case errors.As(err, new(*fs.PathError)):
		return ExitDataError
	}
	return ExitInternalError
}

// runError marks an error returned by a stage transformation, as opposed to
// one produced while parsing the command line.
type runError struct{ err error }

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

// NewCommand builds the `stage` command tree. Each transformation is a
// subcommand taking --in and --out; `version` prints Banner.
func NewCommand(stdout, stderr io.Writer) *cobra.Command {
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:           "stage",
		Short:         "Run one pipeline stage (used by the scan controller)",
		Hidden:        true,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatConsole, "log format (json, console)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the exchange schema version this stage executable supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(stdout, Banner)
			return err
		},
	})

	for _, id := range All {
		root.AddCommand(newStageCommand(id, stdout, stderr, &logLevel, &logFormat))
	}
	return root
}

func newStageCommand(id ID, stdout, stderr io.Writer, logLevel, logFormat *string) *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   id.Name() + " --in <artifact> --out <artifact>",
		Short: fmt.Sprintf("Run %s", id),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logging.New(*logLevel, *logFormat, stderr)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			log = log.With(zap.String("stage", id.Name()))

			if err := Run(cmd.Context(), id, in, out, log); err != nil {
				log.Error("stage failed", zap.Error(err), zap.Int("exit_code", ExitCode(err)))
				return &runError{err: err}
			}
			_, err = fmt.Fprintln(stdout, Marker(id, out))
			return err
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "input artifact path")
	cmd.Flags().StringVar(&out, "out", "", "output artifact path")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// Run executes stage id in the current process.
func Run(ctx context.Context, id ID, in, out string, log *zap.Logger) error {
	fn := Transform(id)
	if fn == nil {
		return fmt.Errorf("unknown stage %d", int(id))
	}
	if log == nil {
		log = zap.NewNop()
	}
	return fn(ctx, in, out, log)
}

// Execute runs the stage command line args (without the leading "stage")
// and returns the process exit code. Errors are written to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewCommand(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var re *runError
	if !errors.As(err, &re) {
		fmt.Fprintf(stderr, "stage: %v\n", err)
		return ExitInvalidInvocation
	}
	fmt.Fprintf(stderr, "stage: %v\n", re.err)
	return ExitCode(re.err)
}
