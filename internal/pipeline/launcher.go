package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outlierscan/internal/proc"
	"outlierscan/internal/schema"
	"outlierscan/internal/stage"
)

// ProbeTimeout bounds the pre-flight `stage version` call.
const ProbeTimeout = 10 * time.Second

// Environment describes a stage executable that passed pre-flight.
type Environment struct {
	Binary        string
	SchemaVersion string
}

// Launcher starts stage processes.
type Launcher interface {
	// CheckEnvironment verifies once per run that stages can be launched.
	CheckEnvironment(ctx context.Context) (Environment, error)
	// Launch runs one stage to completion or timeout.
	Launch(ctx context.Context, id stage.ID, in, out string, timeout time.Duration) (*proc.Result, error)
}

// ProcessLauncher runs stages by executing `<Binary> stage <name> ...`.
type ProcessLauncher struct {
	Binary    string
	Runner    *proc.Runner
	LogLevel  string
	LogFormat string

	resolved string
}

// NewProcessLauncher returns a launcher for binary running stages in dir.
func NewProcessLauncher(binary, dir string) *ProcessLauncher {
	return &ProcessLauncher{Binary: binary, Runner: proc.NewRunner(dir)}
}

// CheckEnvironment resolves the stage executable and asks it for the schema
// version it was built against.
func (l *ProcessLauncher) CheckEnvironment(ctx context.Context) (Environment, error) {
	bin, err := proc.Resolve(l.Binary)
	if err != nil {
		problem := "cannot be resolved"
		switch {
		case errors.Is(err, proc.ErrNotFound):
			problem = "not found"
		case errors.Is(err, proc.ErrNotExecutable):
			problem = "not executable"
		}
		return Environment{}, &EnvironmentError{Binary: l.Binary, Problem: problem, Cause: err}
	}

	res, err := l.runner().Run(ctx, bin, []string{"stage", "version"}, ProbeTimeout)
	if err != nil {
		return Environment{}, &EnvironmentError{Binary: bin, Problem: "version probe did not complete", Cause: err}
	}
	if res.ExitCode != 0 {
		return Environment{}, &EnvironmentError{
			Binary:  bin,
			Problem: fmt.Sprintf("version probe exited with code %d: %s", res.ExitCode, proc.Tail(res.Stderr, 200)),
		}
	}
	v, err := stage.ParseBanner(res.Stdout)
	if err != nil {
		return Environment{}, &EnvironmentError{Binary: bin, Problem: "not an outlierscan stage executable", Cause: err}
	}
	if v != schema.Version {
		return Environment{}, &EnvironmentError{Binary: bin, Problem: "supports schema " + v + ", controller needs " + schema.Version}
	}
	l.resolved = bin
	return Environment{Binary: bin, SchemaVersion: v}, nil
}

// Launch runs one stage. CheckEnvironment must have succeeded first.
func (l *ProcessLauncher) Launch(ctx context.Context, id stage.ID, in, out string, timeout time.Duration) (*proc.Result, error) {
	bin := l.resolved
	if bin == "" {
		bin = l.Binary
	}
	args := []string{"stage", id.Name(), "--in", in, "--out", out}
	if l.LogLevel != "" {
		args = append(args, "--log-level", l.LogLevel)
	}
	if l.LogFormat != "" {
		args = append(args, "--log-format", l.LogFormat)
	}
	return l.runner().Run(ctx, bin, args, timeout)
}

func (l *ProcessLauncher) runner() *proc.Runner {
	if l.Runner == nil {
		l.Runner = proc.NewRunner("")
	}
	return l.Runner
}
