package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"outlierscan/internal/diag"
	"outlierscan/internal/proc"
	"outlierscan/internal/schema"
	"outlierscan/internal/stage"
	"outlierscan/internal/trace"
)

// DefaultStageTimeout is the per-stage time budget when none is configured.
const DefaultStageTimeout = 60 * time.Second

// Request describes one scan.
type Request struct {
	// InputPath is the raw record set written by the collector.
	InputPath string
	// CSVPath is where Stage 5 writes the result.
	CSVPath string
}

// StageRun is what the controller observed of one stage process.
type StageRun struct {
	Stage    stage.ID      `json:"stage"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Artifact string        `json:"artifact,omitempty"`
}

// Result is the caller-facing outcome of a run. It is returned on failure
// too, carrying the final state and the stages that ran.
type Result struct {
	State              State
	Environment        Environment
	ScratchDir         string
	CSVPath            string
	Metadata           schema.Metadata
	Violations         int
	OutlierElements    int
	CohortsScanned     int
	CohortsExcluded    int
	UniqueCombinations int
	RecordsExcluded    int
	WarningCount       int
	WarningSamples     []diag.Issue
	// Diagnostics is the report carried through to the Stage 4 artifact.
	Diagnostics *diag.Report
	// States lists every state the run visited, in order.
	States []State
	Stages []StageRun
}

// Controller runs the five stages strictly in sequence. It owns the per-run
// scratch directory and removes it on every exit path. It never retries.
type Controller struct {
	Launcher       Launcher
	StageTimeout   time.Duration
	ScratchRoot    string
	WarningSamples int
	Log            *zap.Logger
	Trace          trace.Sink
}

// Run executes one scan. On failure the returned error is an
// *EnvironmentError, *StageFailure or *TimeoutFailure and the Result is in
// StateFailed.
func (c *Controller) Run(ctx context.Context, req Request) (*Result, error) {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	timeout := c.StageTimeout
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}
	if req.InputPath == "" || req.CSVPath == "" {
		return nil, errors.New("input path and csv path are required")
	}
	if c.Launcher == nil {
		return nil, errors.New("no stage launcher configured")
	}

	m := NewMachine()
	res := &Result{State: m.State()}

	env, err := c.Launcher.CheckEnvironment(ctx)
	if err != nil {
		trace.SafeRecord(c.Trace, trace.Event{Kind: trace.EventPreflightFailed})
		c.recordNotRun(0)
		c.fail(m, res)
		log.Error("pre-flight check failed", zap.Error(err))
		return res, err
	}
	res.Environment = env
	trace.SafeRecord(c.Trace, trace.Event{Kind: trace.EventPreflightPassed})
	log.Debug("pre-flight check passed", zap.String("stage_binary", env.Binary), zap.String("schema_version", env.SchemaVersion))

	scratch, err := os.MkdirTemp(c.ScratchRoot, "outlierscan-run-*")
	if err != nil {
		c.fail(m, res)
		return res, &EnvironmentError{Binary: env.Binary, Problem: "cannot create scratch directory", Cause: err}
	}
	res.ScratchDir = scratch
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn("scratch directory not removed", zap.String("dir", scratch), zap.Error(err))
		}
	}()

	in := req.InputPath
	for _, id := range stage.All {
		if err := m.Transition(StateFor(id)); err != nil {
			return res, err
		}
		res.State = m.State()

		out := req.CSVPath
		if id != stage.Emit {
			out = filepath.Join(scratch, stage.ArtifactName(id))
		}

		artifact, run, err := c.runStage(ctx, log, id, in, out, timeout)
		if run != nil {
			res.Stages = append(res.Stages, *run)
		}
		if err != nil {
			c.recordNotRun(id)
			c.fail(m, res)
			return res, err
		}

		if id == stage.Detect {
			if err := res.absorb(artifact, c.samples()); err != nil {
				c.recordNotRun(id)
				c.fail(m, res)
				return res, &StageFailure{Stage: id, ExitCode: 0, Reason: "artifact is unreadable", Cause: err}
			}
		}
		in = artifact
	}

	if err := m.Transition(StateDone); err != nil {
		return res, err
	}
	res.State = m.State()
	res.States = m.History()
	res.CSVPath = in
	log.Info("scan complete",
		zap.String("csv", res.CSVPath),
		zap.Int("violations", res.Violations),
		zap.Int("outlier_elements", res.OutlierElements),
		zap.Int("warnings", res.WarningCount))
	return res, nil
}

// runStage launches one stage and turns anything but a clean exit with a
// well-formed marker into a failure.
func (c *Controller) runStage(ctx context.Context, log *zap.Logger, id stage.ID, in, out string, timeout time.Duration) (string, *StageRun, error) {
	log = log.With(zap.String("stage", id.Name()))

	if err := ctx.Err(); err != nil {
		trace.SafeRecord(c.Trace, trace.Event{Kind: trace.EventStageFailed, Stage: int(id), Reason: "Cancelled"})
		return "", nil, &StageFailure{Stage: id, ExitCode: -1, Reason: "run cancelled before launch", Cause: err}
	}

	log.Debug("stage starting", zap.String("input", in), zap.String("output", out))
	pr, err := c.Launcher.Launch(ctx, id, in, out, timeout)
	if pr != nil && len(pr.Stderr) > 0 {
		log.Debug("stage stderr", zap.String("stderr", string(pr.Stderr)))
	}

	var te *proc.TimeoutError
	switch {
	case errors.As(err, &te):
		run := &StageRun{Stage: id, ExitCode: -1, Duration: durationOf(pr)}
		trace.SafeRecord(c.Trace, trace.Event{Kind: trace.EventStageTimedOut, Stage: int(id), Reason: "Timeout"})
		log.Error("stage timed out", zap.Duration("timeout", timeout))
		return "", run, &TimeoutFailure{Stage: id, Timeout: timeout, StderrTail: tailOf(pr), Cause: err}
	case err != nil:
		trace.SafeRecord(c.Trace, trace.Event{Kind: trace.EventStageFailed, Stage: int(id), Reason: "LaunchError"})
		log.Error("stage could not be run", zap.Error(err))
		return "", nil, &StageFailure{Stage: id, ExitCode: -1, Reason: "could not be run", StderrTail: tailOf(pr), Cause: err}
	}

	run := &StageRun{Stage: id, ExitCode: pr.ExitCode, Duration: pr.Duration}
	if pr.ExitCode != 0 {
		trace.SafeRecord(c.Trace, trace.Event{Kind: trace.EventStageFailed, Stage: int(id), Reason: fmt.Sprintf("ExitCode%d", pr.ExitCode)})
		log.Error("stage failed", zap.Int("exit_code", pr.ExitCode), zap.Duration("duration", pr.Duration))
		return "", run, &StageFailure{
			Stage:      id,
			ExitCode:   pr.ExitCode,
			Reason:     fmt.Sprintf("exited with code %d", pr.ExitCode),
			StderrTail: tailOf(pr),
		}
	}

	artifact, err := stage.ParseMarker(id, pr.Stdout)
	if err != nil {
		trace.SafeRecord(c.Trace, trace.Event{Kind: trace.EventStageFailed, Stage: int(id), Reason: "MalformedMarker"})
		log.Error("stage printed a malformed success marker", zap.Error(err))
		return "", run, &StageFailure{Stage: id, Reason: "no valid success marker", StderrTail: tailOf(pr), Cause: err}
	}
	if _, err := os.Stat(artifact); err != nil {
		trace.SafeRecord(c.Trace, trace.Event{Kind: trace.EventStageFailed, Stage: int(id), Reason: "MissingArtifact"})
		return "", run, &StageFailure{Stage: id, Reason: "reported artifact does not exist", StderrTail: tailOf(pr), Cause: err}
	}

	run.Artifact = artifact
	trace.SafeRecord(c.Trace, trace.Event{Kind: trace.EventStageSucceeded, Stage: int(id), Artifact: filepath.Base(artifact)})
	log.Info("stage succeeded", zap.String("artifact", artifact), zap.Duration("duration", pr.Duration))
	return artifact, run, nil
}

// absorb copies the caller-facing counts out of the Stage 4 artifact.
func (r *Result) absorb(path string, samples int) error {
	det, err := stage.ReadResult(path)
	if err != nil {
		return err
	}
	rep := det.Diagnostics.Normalize()
	r.Metadata = det.Metadata
	r.Violations = det.ViolationCount
	r.OutlierElements = det.OutlierElementCount
	r.CohortsScanned = det.CohortsScanned
	r.CohortsExcluded = det.CohortsExcluded
	r.UniqueCombinations = rep.Stat(stage.StatUniqueCombinations)
	r.RecordsExcluded = rep.Stat(stage.StatRecordsExcluded)
	r.WarningCount = len(rep.Warnings)
	r.WarningSamples = rep.Samples(samples)
	r.Diagnostics = rep
	return nil
}

func (c *Controller) fail(m *Machine, res *Result) {
	_ = m.Transition(StateFailed)
	res.State = m.State()
	res.States = m.History()
}

// recordNotRun marks every stage after `after` as never started.
func (c *Controller) recordNotRun(after stage.ID) {
	for _, id := range stage.All {
		if id > after {
			trace.SafeRecord(c.Trace, trace.Event{Kind: trace.EventStageNotRun, Stage: int(id), Reason: "UpstreamFailed"})
		}
	}
}

func (c *Controller) samples() int {
	if c.WarningSamples <= 0 {
		return 5
	}
	return c.WarningSamples
}

func tailOf(pr *proc.Result) string {
	if pr == nil {
		return ""
	}
	return proc.Tail(pr.Stderr, StderrTailSize)
}

func durationOf(pr *proc.Result) time.Duration {
	if pr == nil {
		return 0
	}
	return pr.Duration
}
