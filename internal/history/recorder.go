package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"outlierscan/internal/diag"
	"outlierscan/internal/fsutil"
	"outlierscan/internal/pipeline"
	"outlierscan/internal/trace"
)

// Recorder writes the ledger entries of a run: run.json when it starts, and
// run.json, failure.json and trace.json when it ends.
type Recorder struct {
	Store *Store
	Now   func() time.Time
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Start records a new running run for inputPath and returns it.
func (r *Recorder) Start(inputPath string) (Run, error) {
	if r == nil || r.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	// An unreadable input is recorded as such; Stage 1 reports the error.
	digest, _ := fsutil.DigestFile(inputPath)
	run := Run{
		RunID:          uuid.NewString(),
		InputPath:      inputPath,
		InputDigest:    digest,
		CategoryFilter: []string{},
		StartTime:      r.now(),
		Status:         StatusRunning,
	}
	if err := r.Store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Finish completes run from the controller's result and error and persists
// the trace.
func (r *Recorder) Finish(run Run, res *pipeline.Result, runErr error, events []trace.Event) (Run, error) {
	if r == nil || r.Store == nil {
		return run, errors.New("Store is required")
	}
	end := r.now()
	run.EndTime = &end
	run.Status = StatusSucceeded
	if runErr != nil {
		run.Status = StatusFailed
	}
	if res != nil {
		run.FinalState = string(res.State)
		run.StageBinary = res.Environment.Binary
		run.CSVPath = res.CSVPath
		run.Violations = res.Violations
		run.OutlierElements = res.OutlierElements
		run.CohortsScanned = res.CohortsScanned
		run.CohortsExcluded = res.CohortsExcluded
		run.Warnings = res.WarningCount
		if res.Metadata.CategoryFilter != nil {
			run.CategoryFilter = res.Metadata.CategoryFilter
		}
		for _, s := range res.States {
			run.States = append(run.States, string(s))
		}
	}

	rep := diag.NewReport()
	if res != nil {
		rep.Merge(res.Diagnostics)
	}
	var failure *Failure
	if runErr != nil {
		f, err := FailureFromError(runErr)
		if err == nil {
			failure = &f
			rep.Fail(string(f.FailureClass), failureLocator(f), "%s: %s", f.ErrorCode, f.ErrorMessage)
		}
	}
	run.Diagnostics = rep

	var errs []error
	if err := r.Store.SaveRun(run); err != nil {
		errs = append(errs, err)
	}
	if failure != nil {
		if err := r.Store.SaveFailure(run.RunID, *failure); err != nil {
			errs = append(errs, err)
		}
	}
	digest := run.InputDigest
	if digest == "" {
		digest = "unavailable"
	}
	tr := trace.RunTrace{InputDigest: digest, Events: events}
	if err := r.Store.SaveTrace(run.RunID, tr); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return run, fmt.Errorf("record run %s: %w", run.RunID, errors.Join(errs...))
	}
	return run, nil
}

func failureLocator(f Failure) string {
	if f.Stage == nil {
		return ""
	}
	return "stage:" + *f.Stage
}
