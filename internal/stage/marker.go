// Package stage implements the five pipeline stages and the protocol a stage
// process uses to report its result to the controller.
//
// A stage process reads one artifact, writes one artifact and prints exactly
// one line on stdout:
//
//	STAGE<n>_SUCCESS:<path of the artifact it wrote>
//
// Everything else goes to stderr.
package stage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"

	"outlierscan/internal/schema"
)

// ID numbers a stage from 1 to 5.
type ID int

const (
	Load ID = iota + 1
	Validate
	Group
	Detect
	Emit
)

// All lists the stages in execution order.
var All = []ID{Load, Validate, Group, Detect, Emit}

var names = map[ID]string{
	Load:     "load",
	Validate: "validate",
	Group:    "group",
	Detect:   "detect",
	Emit:     "emit",
}

// Name is the subcommand name of the stage.
func (id ID) Name() string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", int(id))
}

// String renders the stage the way failures name it, e.g. "Stage 3 (group)".
func (id ID) String() string {
	return fmt.Sprintf("Stage %d (%s)", int(id), id.Name())
}

// Valid reports whether id is one of the five stages.
func (id ID) Valid() bool {
	_, ok := names[id]
	return ok
}

// Tag is the literal that prefixes the stage's success line.
func (id ID) Tag() string {
	return fmt.Sprintf("STAGE%d_SUCCESS", int(id))
}

// ParseID maps a subcommand name back to its stage.
func ParseID(name string) (ID, error) {
	for id, n := range names {
		if n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// Marker returns the success line a stage prints after writing path.
func Marker(id ID, path string) string {
	return id.Tag() + ":" + path
}

// ErrMalformedMarker is returned by ParseMarker for any stdout that is not
// exactly one well-formed success line for the expected stage.
var ErrMalformedMarker = errors.New("malformed success marker")

// ParseMarker extracts the artifact path from a stage's stdout.
//
// Blank lines are ignored. Anything other than a single line of the form
// "<tag>:<non-empty path>" is rejected.
func ParseMarker(id ID, stdout []byte) (string, error) {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r"); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMarker, err)
	}

	switch len(lines) {
	case 0:
		return "", fmt.Errorf("%w: %s printed nothing on stdout", ErrMalformedMarker, id)
	case 1:
	default:
		return "", fmt.Errorf("%w: %s printed %d lines on stdout, want 1", ErrMalformedMarker, id, len(lines))
	}

	path, ok := strings.CutPrefix(lines[0], id.Tag()+":")
	if !ok {
		return "", fmt.Errorf("%w: %s printed %q, want prefix %q", ErrMalformedMarker, id, truncate(lines[0], 80), id.Tag()+":")
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: %s reported an empty artifact path", ErrMalformedMarker, id)
	}
	return path, nil
}

// Banner is what `stage version` prints.
var Banner = "outlierscan-stage schema=" + schema.Version

// ParseBanner returns the schema version announced by a stage executable.
func ParseBanner(stdout []byte) (string, error) {
	line := strings.TrimSpace(string(stdout))
	v, ok := strings.CutPrefix(line, "outlierscan-stage schema=")
	if !ok || v == "" || strings.ContainsAny(v, " \n") {
		return "", fmt.Errorf("unrecognized version banner %q", truncate(line, 80))
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
