package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrSchema marks malformed artifacts.
	ErrSchema = errors.New("malformed artifact")
	// ErrVersion marks artifacts written against another schema version.
	ErrVersion = errors.New("incompatible schema version")
	// ErrValue marks values that cannot be represented in an artifact.
	ErrValue = errors.New("unrepresentable value")
)

// SchemaError reports an artifact that is not structurally well-formed.
type SchemaError struct {
	Path  string
	Msg   string
	Cause error
}

func (e *SchemaError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("malformed artifact %s: %s", e.Path, e.Msg)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SchemaError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrSchema}
	}
	return []error{ErrSchema, e.Cause}
}

// VersionError reports a schema_version mismatch. It is never retryable:
// the producer must be re-run with a compatible build.
type VersionError struct {
	Path string
	Got  string
	Want string
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	got := e.Got
	if got == "" {
		got = "<missing>"
	}
	return fmt.Sprintf("artifact %s has schema_version %s, this build supports %s; re-collect the records with a matching collector", e.Path, got, e.Want)
}

func (e *VersionError) Unwrap() error { return ErrVersion }

// ValueError names the element and parameter holding a value that cannot be
// encoded (NaN or Infinity).
type ValueError struct {
	ElementID string
	Bucket    string
	Parameter string
	Value     float64
}

func (e *ValueError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("element %s parameter %s/%s has non-finite value %v", e.ElementID, e.Bucket, e.Parameter, e.Value)
}

func (e *ValueError) Unwrap() error { return ErrValue }

func schemaf(path string, cause error, format string, args ...any) error {
	return &SchemaError{Path: path, Msg: fmt.Sprintf(format, args...), Cause: cause}
}
