package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"outlierscan/internal/config"
	"outlierscan/internal/history"
	"outlierscan/internal/logging"
	"outlierscan/internal/pipeline"
	"outlierscan/internal/schema"
	"outlierscan/internal/stage"
)

const defaultConfigPath = config.DefaultPath

// Version is stamped at build time with -ldflags.
var Version = "dev"

type app struct {
	stdout, stderr io.Writer
	configPath     string
	started        bool
}

// Main runs the outlierscan command line and returns the process exit code.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(stderr, "outlierscan: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(stderr, "outlierscan: %v\n", err)
	if !a.started {
		// cobra rejected the command line before any command ran.
		return ExitInvalidInvocation
	}
	return ExitCode(err)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "outlierscan",
		Short:         "Flag parameter outliers across cohorts of building elements",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			a.started = true
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default "+defaultConfigPath+")")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})

	root.AddCommand(a.scanCommand(), a.stageCommand(), a.envCommand(), a.historyCommand(), a.initCommand(), a.versionCommand())
	return root
}

func (a *app) scanCommand() *cobra.Command {
	var flags ScanFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the five-stage outlier pipeline over a collected record set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.Config = a.configPath
			wd, err := os.Getwd()
			if err != nil {
				return &ExitError{Code: ExitInternalError, Err: err}
			}
			inv, err := ParseInvocation(wd, flags)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(inv.ConfigPath)
			if err != nil {
				return err
			}
			if inv, err = inv.WithDefaults(cfg.Output.Dir, time.Now()); err != nil {
				return err
			}
			log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, a.stderr)
			if err != nil {
				return configErrorf("logging: %v", err)
			}
			defer func() { _ = log.Sync() }()

			res, err := Execute(cmd.Context(), inv, cfg, Options{Stdout: a.stdout, Stderr: a.stderr, Log: log})
			if err != nil {
				// Pipeline failures were already reported with their remedy.
				if res.Pipeline != nil {
					return &ExitError{Code: res.ExitCode}
				}
				return &ExitError{Code: res.ExitCode, Err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Input, "input", "", "raw record set written by the collector (required)")
	cmd.Flags().StringVar(&flags.CSV, "csv", "", "result CSV path (default <output.dir>/outliers_<UTC timestamp>.csv)")
	return cmd
}

// stageCommand hands the rest of the command line to the stage process. It
// is what the controller re-executes for every stage.
func (a *app) stageCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "stage",
		Short:              "Run a single pipeline stage (used by scan)",
		Hidden:             true,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := stage.Execute(cmd.Context(), args, a.stdout, a.stderr); code != stage.ExitSuccess {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
}

func (a *app) envCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Run the pre-flight check and report the stage executable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wd, cfg, err := a.workDirAndConfig()
			if err != nil {
				return err
			}
			env, err := CheckEnvironment(cmd.Context(), cfg, wd)
			if err != nil {
				fmt.Fprintf(a.stderr, "error: %v\n", err)
				if remedy := pipeline.Remedy(err); remedy != "" {
					fmt.Fprintf(a.stderr, "remedy: %s\n", remedy)
				}
				return &ExitError{Code: ExitCode(err)}
			}
			RenderEnvironment(a.stdout, env, cfg)
			return nil
		},
	}
}

func (a *app) historyCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded scan runs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if limit < 0 {
				return invalidInvocationf("--limit must not be negative")
			}
			wd, cfg, err := a.workDirAndConfig()
			if err != nil {
				return err
			}
			dir, err := resolveUnderWorkDir(wd, cfg.State.Dir)
			if err != nil {
				return configErrorf("state.dir: %v", err)
			}
			store, err := history.NewStore(dir)
			if err != nil {
				return configErrorf("run ledger: %v", err)
			}
			runs, skipped, err := store.ListRuns()
			if err != nil {
				return err
			}
			for _, s := range skipped {
				fmt.Fprintf(a.stderr, "warning: skipped unreadable run: %v\n", s)
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}
			RenderHistory(a.stdout, runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list (0 for all)")
	return cmd
}

func (a *app) initCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file holding the default settings",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, path, err := a.configFile()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return invalidInvocationf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.DefaultConfig().Save(path); err != nil {
				return configErrorf("%v", err)
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and the record schema version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.stdout, "outlierscan %s (schema %s)\n", Version, schema.Version)
		},
	}
}

// configFile returns the working directory and the resolved config path.
func (a *app) configFile() (string, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", "", &ExitError{Code: ExitInternalError, Err: err}
	}
	path := a.configPath
	if path == "" {
		path = defaultConfigPath
	}
	path, err = resolveUnderWorkDir(wd, path)
	if err != nil {
		return "", "", invalidInvocationf("--config: %v", err)
	}
	return wd, path, nil
}

func (a *app) workDirAndConfig() (string, *config.Config, error) {
	wd, path, err := a.configFile()
	if err != nil {
		return "", nil, err
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return "", nil, err
	}
	return wd, cfg, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, configErrorf("invalid config %s: %v", path, err)
	}
	return cfg, nil
}
