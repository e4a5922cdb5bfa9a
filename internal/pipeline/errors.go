package pipeline

import (
	"errors"
	"fmt"
	"time"

	"outlierscan/internal/stage"
)

// StderrTailSize is how much of a failing stage's stderr is surfaced.
const StderrTailSize = 500

// EnvironmentError reports a missing or incompatible stage executable. It is
// raised during pre-flight, before Stage 1 runs.
type EnvironmentError struct {
	Binary  string
	Problem string
	Cause   error
}

func (e *EnvironmentError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("environment check failed for stage executable %q: %s", e.Binary, e.Problem)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *EnvironmentError) Unwrap() error { return e.Cause }

// Remedy suggests how to fix the environment.
func (e *EnvironmentError) Remedy() string {
	return "point pipeline.stage_binary (or OUTLIERSCAN_STAGE_BIN) at an executable outlierscan build " +
		"whose `stage version` reports the schema version of this controller"
}

// StageFailure reports a stage that exited non-zero, printed a malformed
// success marker, or could not be launched.
type StageFailure struct {
	Stage      stage.ID
	ExitCode   int
	Reason     string
	StderrTail string
	Cause      error
}

func (e *StageFailure) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s failed: %s", e.Stage, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.StderrTail != "" {
		msg += "\nstderr (last " + fmt.Sprint(StderrTailSize) + " chars):\n" + e.StderrTail
	}
	return msg
}

func (e *StageFailure) Unwrap() error { return e.Cause }

// Remedy suggests a next step based on the stage's exit code.
func (e *StageFailure) Remedy() string {
	switch e.ExitCode {
	case stage.ExitDataError:
		return "the input or an intermediate artifact is unreadable or malformed; check the record set and re-run the scan"
	case stage.ExitInvalidInvocation:
		return "the stage executable rejected its arguments; make sure it is the same outlierscan build as the controller"
	case stage.ExitVersionError:
		return "the record set was written for another schema version; re-collect it with a matching collector"
	}
	return "re-run with logging.level=debug and inspect the stage's stderr"
}

// TimeoutFailure reports a stage killed after exceeding its time budget.
type TimeoutFailure struct {
	Stage      stage.ID
	Timeout    time.Duration
	StderrTail string
	Cause      error
}

func (e *TimeoutFailure) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s timed out after %s and was terminated", e.Stage, e.Timeout)
	if e.StderrTail != "" {
		msg += "\nstderr (last " + fmt.Sprint(StderrTailSize) + " chars):\n" + e.StderrTail
	}
	return msg
}

func (e *TimeoutFailure) Unwrap() error { return e.Cause }

// Remedy suggests a next step for a timed out stage.
func (e *TimeoutFailure) Remedy() string {
	return "raise pipeline.stage_timeout (or OUTLIERSCAN_STAGE_TIMEOUT) or scan fewer categories at once"
}

// Remedy returns the remedy of the first error in err's chain that has one.
func Remedy(err error) string {
	var r interface{ Remedy() string }
	if errors.As(err, &r) {
		return r.Remedy()
	}
	return ""
}

// FailedStage returns the stage named by a StageFailure or TimeoutFailure in
// err's chain.
func FailedStage(err error) (stage.ID, bool) {
	var sf *StageFailure
	if errors.As(err, &sf) {
		return sf.Stage, true
	}
	var tf *TimeoutFailure
	if errors.As(err, &tf) {
		return tf.Stage, true
	}
	return 0, false
}
