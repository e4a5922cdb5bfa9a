package history

import (
	"errors"

	"outlierscan/internal/exchange"
	"outlierscan/internal/pipeline"
	"outlierscan/internal/stage"
)

// FailureFromError classifies a run-ending error.
func FailureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	var ee *pipeline.EnvironmentError
	if errors.As(err, &ee) {
		return Failure{
			FailureClass: FailureClassEnvironment,
			ErrorCode:    "EnvironmentUnavailable",
			ErrorMessage: ee.Error(),
			Remedy:       ee.Remedy(),
		}, nil
	}

	var tf *pipeline.TimeoutFailure
	if errors.As(err, &tf) {
		return Failure{
			FailureClass: FailureClassTimeout,
			Stage:        stageName(tf.Stage),
			ErrorCode:    "StageTimeout",
			ErrorMessage: tf.Error(),
			Remedy:       tf.Remedy(),
			StderrTail:   tf.StderrTail,
		}, nil
	}

	var sf *pipeline.StageFailure
	if errors.As(err, &sf) {
		f := Failure{
			FailureClass: FailureClassStage,
			Stage:        stageName(sf.Stage),
			ErrorCode:    "StageFailed",
			ErrorMessage: sf.Error(),
			Remedy:       sf.Remedy(),
			StderrTail:   sf.StderrTail,
		}
		if sf.ExitCode >= 0 {
			code := sf.ExitCode
			f.ExitCode = &code
		}
		switch {
		case sf.ExitCode == stage.ExitVersionError:
			f.FailureClass, f.ErrorCode = FailureClassVersion, "VersionMismatch"
		case sf.ExitCode == stage.ExitDataError:
			f.FailureClass, f.ErrorCode = FailureClassSchema, "MalformedArtifact"
		case errors.Is(err, stage.ErrMalformedMarker):
			f.ErrorCode = "MalformedMarker"
		}
		return f, nil
	}

	switch {
	case errors.Is(err, exchange.ErrVersion):
		return Failure{FailureClass: FailureClassVersion, ErrorCode: "VersionMismatch", ErrorMessage: err.Error()}, nil
	case errors.Is(err, exchange.ErrSchema), errors.Is(err, exchange.ErrValue):
		return Failure{FailureClass: FailureClassSchema, ErrorCode: "MalformedArtifact", ErrorMessage: err.Error()}, nil
	}

	return Failure{
		FailureClass: FailureClassSystem,
		ErrorCode:    "UnknownError",
		ErrorMessage: err.Error(),
	}, nil
}

func stageName(id stage.ID) *string {
	s := id.String()
	return &s
}
