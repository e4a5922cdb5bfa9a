// Package history keeps a durable ledger of scan runs under
// <state dir>/runs/<run-id>/: run.json, failure.json and trace.json.
package history

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"outlierscan/internal/diag"
)

// RunStatus is the coarse outcome of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// Run is the persisted metadata of one scan.
type Run struct {
	RunID           string     `json:"run_id"`
	InputPath       string     `json:"input_path"`
	InputDigest     string     `json:"input_digest"`
	CategoryFilter  []string   `json:"category_filter"`
	StageBinary     string     `json:"stage_binary,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	Status          RunStatus  `json:"status"`
	FinalState      string     `json:"final_state,omitempty"`
	CSVPath         string     `json:"csv_path,omitempty"`
	Violations      int        `json:"violations"`
	OutlierElements int        `json:"outlier_elements"`
	CohortsScanned  int        `json:"cohorts_scanned"`
	CohortsExcluded int        `json:"cohorts_excluded"`
	Warnings        int        `json:"warnings"`
	// States is the path the run took through the pipeline state machine.
	States []string `json:"states,omitempty"`
	// Diagnostics is the run's {valid, errors, warnings, statistics} report:
	// the stage findings plus, for a failed run, the failure as an error.
	Diagnostics *diag.Report `json:"diagnostics,omitempty"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.InputPath) == "" {
		errs = append(errs, errors.New("input_path is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Status {
	case StatusRunning:
	case StatusSucceeded, StatusFailed:
		if r.EndTime == nil {
			errs = append(errs, fmt.Errorf("end_time is required for status %q", r.Status))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.CategoryFilter == nil {
		errs = append(errs, errors.New("category_filter must be an array (not null)"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Duration is EndTime-StartTime, or 0 for a run still marked running.
func (r Run) Duration() time.Duration {
	if r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// FailureClass tags a recorded failure.
type FailureClass string

const (
	FailureClassEnvironment FailureClass = "environment"
	FailureClassSchema      FailureClass = "schema"
	FailureClassVersion     FailureClass = "version"
	FailureClassStage       FailureClass = "stage"
	FailureClassTimeout     FailureClass = "timeout"
	FailureClassSystem      FailureClass = "system"
)

// Failure is the recorded reason a run ended in the Failed state.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	Stage        *string      `json:"stage,omitempty"`
	ExitCode     *int         `json:"exit_code,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
	Remedy       string       `json:"remedy,omitempty"`
	StderrTail   string       `json:"stderr_tail,omitempty"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassEnvironment, FailureClassSchema, FailureClassVersion,
		FailureClassStage, FailureClassTimeout, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.Stage != nil && strings.TrimSpace(*f.Stage) == "" {
		errs = append(errs, errors.New("stage must not be empty when provided"))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
