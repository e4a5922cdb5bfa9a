package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"outlierscan/internal/config"
	"outlierscan/internal/fsutil"
	"outlierscan/internal/history"
	"outlierscan/internal/pipeline"
	"outlierscan/internal/trace"
)

// Options carries the collaborators of Execute. Zero values select the
// production defaults.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	Log    *zap.Logger
	// Launcher overrides the process launcher built from the config.
	Launcher pipeline.Launcher
	Now      func() time.Time
}

// CLIResult is the outcome of Execute: the exit code, the recorded run and
// the controller's result (nil when the controller never ran).
type CLIResult struct {
	ExitCode int
	Run      history.Run
	Pipeline *pipeline.Result
}

// Execute runs one scan for a canonical invocation.
//
// Responsibilities:
//   - Open the run ledger and record the run before any stage starts.
//   - Build the stage launcher from the config unless one is injected.
//   - Drive the controller and record its outcome and trace, even on
//     failure.
//   - Print the summary, or the failure with its remedy.
//   - Translate the outcome to a semantic exit code.
func Execute(ctx context.Context, inv Invocation, cfg *config.Config, opts Options) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError
	if cfg == nil {
		return res, fmt.Errorf("nil config")
	}
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if inv.CSVPath == "" {
		res.ExitCode = ExitInvalidInvocation
		return res, invalidInvocationf("no CSV destination")
	}

	stateDir, err := resolveUnderWorkDir(inv.WorkDir, cfg.State.Dir)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, configErrorf("state.dir: %v", err)
	}
	store, err := history.NewStore(stateDir)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, configErrorf("run ledger: %v", err)
	}
	if err := fsutil.EnsureDir(filepath.Dir(inv.CSVPath), 0o755); err != nil {
		res.ExitCode = ExitConfigError
		return res, configErrorf("output directory: %v", err)
	}

	launcher := opts.Launcher
	if launcher == nil {
		launcher, err = processLauncher(cfg, inv.WorkDir)
		if err != nil {
			res.ExitCode = ExitConfigError
			return res, err
		}
	}

	rec := &history.Recorder{Store: store, Now: opts.Now}
	run, err := rec.Start(inv.InputPath)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, configErrorf("run ledger: %v", err)
	}
	res.Run = run
	log = log.With(zap.String("run_id", run.RunID))

	scratchRoot := cfg.Pipeline.ScratchDir
	if scratchRoot != "" {
		if scratchRoot, err = resolveUnderWorkDir(inv.WorkDir, scratchRoot); err != nil {
			res.ExitCode = ExitConfigError
			return res, configErrorf("pipeline.scratch_dir: %v", err)
		}
	}

	events := trace.NewRecorder()
	ctrl := &pipeline.Controller{
		Launcher:       launcher,
		StageTimeout:   cfg.Pipeline.StageTimeout,
		ScratchRoot:    scratchRoot,
		WarningSamples: cfg.Report.WarningSamples,
		Log:            log,
		Trace:          events,
	}
	log.Info("scan starting", zap.String("input", inv.InputPath), zap.String("csv", inv.CSVPath))
	pres, runErr := ctrl.Run(ctx, pipeline.Request{InputPath: inv.InputPath, CSVPath: inv.CSVPath})
	res.Pipeline = pres

	run, recErr := rec.Finish(run, pres, runErr, events.Snapshot())
	res.Run = run
	if recErr != nil {
		log.Warn("run ledger incomplete", zap.Error(recErr))
	}

	if runErr != nil {
		RenderFailure(stderr, run, runErr)
		res.ExitCode = ExitCode(runErr)
		return res, runErr
	}
	if err := RenderSummary(stdout, run, pres, cfg.Report.WarningSamples); err != nil {
		return res, err
	}
	res.ExitCode = ExitSuccess
	return res, nil
}

// CheckEnvironment runs the pre-flight check on its own.
func CheckEnvironment(ctx context.Context, cfg *config.Config, workDir string) (pipeline.Environment, error) {
	l, err := processLauncher(cfg, workDir)
	if err != nil {
		return pipeline.Environment{}, err
	}
	return l.CheckEnvironment(ctx)
}

func processLauncher(cfg *config.Config, workDir string) (*pipeline.ProcessLauncher, error) {
	bin, err := cfg.StageBinary()
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	l := pipeline.NewProcessLauncher(bin, workDir)
	l.LogLevel = cfg.Logging.Level
	l.LogFormat = cfg.Logging.Format
	return l, nil
}
