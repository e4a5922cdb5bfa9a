// Package proc runs pipeline stages as isolated child processes.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultInherit lists the host variables a stage process sees unless the
// runner says otherwise. Everything else in the host environment is hidden.
var DefaultInherit = []string{"PATH", "HOME", "TMPDIR", "TEMP", "TMP", "SYSTEMROOT", "LANG"}

var (
	// ErrNotFound is returned by Resolve when no executable exists.
	ErrNotFound = errors.New("executable not found")
	// ErrNotExecutable is returned by Resolve for files without execute permission.
	ErrNotExecutable = errors.New("file is not executable")
)

// TimeoutError reports a process killed because it outlived its budget.
type TimeoutError struct {
	Binary  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded timeout of %s and was terminated", filepath.Base(e.Binary), e.Timeout)
}

// Result is the outcome of one process run.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	TimedOut bool
	Duration time.Duration
}

// Runner starts child processes with a controlled environment.
//
// The child sees only the variables in Env plus the host variables named in
// Inherit. It runs in its own process group so that a timeout kills every
// process it spawned.
type Runner struct {
	Dir     string
	Env     map[string]string
	Inherit []string
}

// NewRunner returns a Runner working in dir with the default inherited
// variables.
func NewRunner(dir string) *Runner {
	return &Runner{Dir: dir, Inherit: DefaultInherit}
}

// Run executes binary with args and waits for it.
//
// A non-zero exit status is not an error: it is reported in Result.ExitCode.
// When timeout elapses the process group is killed and Run returns a
// *TimeoutError alongside a Result with TimedOut set and ExitCode -1. When
// ctx is cancelled the process group is killed and the context error is
// returned.
func (r *Runner) Run(ctx context.Context, binary string, args []string, timeout time.Duration) (*Result, error) {
	if binary == "" {
		return nil, fmt.Errorf("binary is empty")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", timeout)
	}

	cmd := exec.Command(binary, args...)
	cmd.Dir = r.Dir
	cmd.Env = r.environ()
	setProcessGroup(cmd)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", binary, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case <-timer.C:
		killProcessGroup(cmd)
		<-done
		return &Result{
			ExitCode: -1,
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			TimedOut: true,
			Duration: time.Since(start),
		}, &TimeoutError{Binary: binary, Timeout: timeout}
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", binary, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{
		ExitCode: exitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}, nil
}

func (r *Runner) environ() []string {
	vars := make(map[string]string, len(r.Env)+len(r.Inherit))
	for _, name := range r.Inherit {
		if v, ok := os.LookupEnv(name); ok {
			vars[name] = v
		}
	}
	for k, v := range r.Env {
		vars[k] = v
	}

	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Resolve returns the absolute path of an executable. Names without a path
// separator are looked up in PATH.
func Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrNotFound)
	}
	if !strings.ContainsRune(name, os.PathSeparator) && !strings.ContainsRune(name, '/') {
		p, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s is not on PATH", ErrNotFound, name)
		}
		name = p
	}

	abs, err := filepath.Abs(name)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, abs)
		}
		return "", fmt.Errorf("resolve %s: %w", abs, err)
	}
	if info.IsDir() || !isExecutable(info) {
		return "", fmt.Errorf("%w: %s", ErrNotExecutable, abs)
	}
	return abs, nil
}

// Tail returns at most the last n characters of b, never splitting a UTF-8
// sequence.
func Tail(b []byte, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCount(b) <= n {
		return string(b)
	}
	i := len(b)
	for count := 0; count < n && i > 0; count++ {
		_, size := utf8.DecodeLastRune(b[:i])
		i -= size
	}
	return string(b[i:])
}
