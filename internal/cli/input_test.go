package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outlierscan/internal/pipeline"
	"outlierscan/internal/stage"
)

func TestParseInvocation_ResolvesRelativePathsUnderWorkDir(t *testing.T) {
	wd := t.TempDir()

	inv, err := ParseInvocation(wd, ScanFlags{Input: "in/raw.json", CSV: "../out/./result.csv"})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(wd, "in", "raw.json"), inv.InputPath)
	assert.Equal(t, filepath.Join(filepath.Dir(wd), "out", "result.csv"), inv.CSVPath)
	assert.Equal(t, filepath.Join(wd, defaultConfigPath), inv.ConfigPath)
	assert.Equal(t, "in/raw.json", inv.OriginalInput)
}

func TestParseInvocation_KeepsAbsolutePaths(t *testing.T) {
	wd := t.TempDir()
	abs := filepath.Join(t.TempDir(), "raw.json")

	inv, err := ParseInvocation(wd, ScanFlags{Input: abs, Config: "/etc/outlierscan.yaml"})
	require.NoError(t, err)

	assert.Equal(t, abs, inv.InputPath)
	assert.Equal(t, filepath.Clean("/etc/outlierscan.yaml"), inv.ConfigPath)
	assert.Empty(t, inv.CSVPath, "the default destination is filled once the config is loaded")
}

func TestParseInvocation_Rejects(t *testing.T) {
	wd := t.TempDir()
	cases := map[string]struct {
		workDir string
		flags   ScanFlags
	}{
		"no input":         {wd, ScanFlags{}},
		"blank input":      {wd, ScanFlags{Input: "   "}},
		"dot input":        {wd, ScanFlags{Input: "."}},
		"relative workdir": {"relative", ScanFlags{Input: "raw.json"}},
		"no workdir":       {"", ScanFlags{Input: "raw.json"}},
		"csv over input":   {wd, ScanFlags{Input: "raw.json", CSV: "./raw.json"}},
		"dot csv":          {wd, ScanFlags{Input: "raw.json", CSV: "."}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInvocation(tc.workDir, tc.flags)
			require.Error(t, err)
			assert.Equal(t, ExitInvalidInvocation, ExitCode(err))
		})
	}
}

func TestWithDefaults_NamesResultByUTCTimestamp(t *testing.T) {
	wd := t.TempDir()
	inv, err := ParseInvocation(wd, ScanFlags{Input: "raw.json"})
	require.NoError(t, err)

	at := time.Date(2026, 5, 2, 16, 4, 5, 0, time.FixedZone("CEST", 2*3600))
	inv, err = inv.WithDefaults("results", at)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(wd, "results", "outliers_20260502T140405Z.csv"), inv.CSVPath)
}

func TestWithDefaults_KeepsExplicitCSV(t *testing.T) {
	wd := t.TempDir()
	inv, err := ParseInvocation(wd, ScanFlags{Input: "raw.json", CSV: "mine.csv"})
	require.NoError(t, err)

	got, err := inv.WithDefaults("results", time.Now())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "mine.csv"), got.CSVPath)
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"invocation", invalidInvocationf("bad"), ExitInvalidInvocation},
		{"config", configErrorf("bad"), ExitConfigError},
		{"environment", &pipeline.EnvironmentError{Binary: "x", Problem: "not found"}, ExitConfigError},
		{"stage", &pipeline.StageFailure{Stage: stage.Group, ExitCode: 2}, ExitPipelineFailure},
		{"timeout", &pipeline.TimeoutFailure{Stage: stage.Detect, Timeout: time.Second}, ExitPipelineFailure},
		{"wrapped stage", fmt.Errorf("scan: %w", &pipeline.StageFailure{Stage: stage.Load}), ExitPipelineFailure},
		{"explicit", &ExitError{Code: 3}, 3},
		{"unknown", errors.New("boom"), ExitInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}
