package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"outlierscan/internal/pipeline"
)

const (
	ExitSuccess           = 0
	ExitPipelineFailure   = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// ScanFlags are the raw scan flags as typed by the user.
type ScanFlags struct {
	Input  string
	CSV    string
	Config string
}

// Invocation is the canonical description of one scan.
//
// All paths are Clean and absolute; relative paths are resolved against
// WorkDir, which must itself be absolute.
type Invocation struct {
	WorkDir    string
	InputPath  string
	CSVPath    string
	ConfigPath string

	OriginalInput string
	OriginalCSV   string
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

// ExitError carries an exit code for an error that has already been
// reported to the user.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e == nil || e.Err == nil {
		return fmt.Sprintf("exit status %d", e.code())
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ExitError) code() int {
	if e == nil {
		return ExitSuccess
	}
	return e.Code
}

// ParseInvocation canonicalizes scan flags. CSVPath stays empty when --csv
// is not given; WithDefaults fills it once the output directory is known.
func ParseInvocation(workDir string, flags ScanFlags) (Invocation, error) {
	if strings.TrimSpace(workDir) == "" {
		return Invocation{}, invalidInvocationf("working directory is required")
	}
	workDir = filepath.Clean(workDir)
	if !filepath.IsAbs(workDir) {
		return Invocation{}, invalidInvocationf("working directory must be absolute (got %q)", workDir)
	}
	if strings.TrimSpace(flags.Input) == "" {
		return Invocation{}, invalidInvocationf("--input is required")
	}

	input, err := resolveUnderWorkDir(workDir, flags.Input)
	if err != nil {
		return Invocation{}, invalidInvocationf("--input: %v", err)
	}
	configPath := flags.Config
	if strings.TrimSpace(configPath) == "" {
		configPath = defaultConfigPath
	}
	resolvedConfig, err := resolveUnderWorkDir(workDir, configPath)
	if err != nil {
		return Invocation{}, invalidInvocationf("--config: %v", err)
	}

	inv := Invocation{
		WorkDir:       workDir,
		InputPath:     input,
		ConfigPath:    resolvedConfig,
		OriginalInput: flags.Input,
		OriginalCSV:   flags.CSV,
	}
	if strings.TrimSpace(flags.CSV) != "" {
		csvPath, err := resolveUnderWorkDir(workDir, flags.CSV)
		if err != nil {
			return Invocation{}, invalidInvocationf("--csv: %v", err)
		}
		if csvPath == input {
			return Invocation{}, invalidInvocationf("--csv must not overwrite the input file %q", input)
		}
		inv.CSVPath = csvPath
	}
	return inv, nil
}

// WithDefaults fills CSVPath with <outputDir>/outliers_<UTC timestamp>.csv
// when no destination was given.
func (inv Invocation) WithDefaults(outputDir string, now time.Time) (Invocation, error) {
	if inv.CSVPath != "" {
		return inv, nil
	}
	dir, err := resolveUnderWorkDir(inv.WorkDir, outputDir)
	if err != nil {
		return Invocation{}, configErrorf("output.dir: %v", err)
	}
	inv.CSVPath = DefaultCSVPath(dir, now)
	return inv, nil
}

// DefaultCSVPath names the result file for a scan started at now.
func DefaultCSVPath(outputDir string, now time.Time) string {
	return filepath.Join(outputDir, "outliers_"+now.UTC().Format("20060102T150405Z")+".csv")
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path must not be empty")
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", errors.New("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Clean(filepath.Join(workDir, clean)), nil
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr != nil {
		return exitErr.Code
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var envErr *pipeline.EnvironmentError
	if errors.As(err, &envErr) {
		return ExitConfigError
	}
	var stageErr *pipeline.StageFailure
	var timeoutErr *pipeline.TimeoutFailure
	if errors.As(err, &stageErr) || errors.As(err, &timeoutErr) {
		return ExitPipelineFailure
	}
	return ExitInternalError
}
