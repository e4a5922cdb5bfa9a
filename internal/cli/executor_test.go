package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"outlierscan/internal/config"
	"outlierscan/internal/exchange"
	"outlierscan/internal/history"
	"outlierscan/internal/pipeline"
	"outlierscan/internal/report"
	"outlierscan/internal/schema"
	"outlierscan/internal/stage"
	"outlierscan/internal/trace"
)

const helperEnv = "OUTLIERSCAN_STAGE_HELPER"

// TestMain doubles as the stage executable for the process launcher.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		args := os.Args[1:]
		if len(args) > 0 && args[0] == "stage" {
			args = args[1:]
		}
		os.Exit(stage.Execute(context.Background(), args, os.Stdout, os.Stderr))
	}
	goleak.VerifyTestMain(m)
}

func helperLauncher(t *testing.T) *pipeline.ProcessLauncher {
	t.Helper()
	self, err := os.Executable()
	require.NoError(t, err)
	l := pipeline.NewProcessLauncher(self, t.TempDir())
	l.Runner.Env = map[string]string{helperEnv: "1"}
	l.LogFormat = "json"
	return l
}

func writeRecords(t *testing.T, dir string, heights ...float64) string {
	t.Helper()
	rs := schema.NewRecordSet([]string{"Walls"}, time.Date(2026, 5, 2, 14, 0, 0, 0, time.UTC))
	for i, h := range heights {
		rs.Add(schema.ElementRecord{
			ElementID:         schema.ElementID(fmt.Sprint(316540 + i)),
			Hierarchy:         schema.Hierarchy{Category: "Walls", Family: "Basic Wall", Type: "Generic - 200mm"},
			BuiltInParameters: schema.Parameters{"Height": schema.Number(h)},
		})
	}
	path, err := exchange.Encode(filepath.Join(dir, "raw.json"), rs)
	require.NoError(t, err)
	return path
}

func testConfig(wd string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Output.Dir = filepath.Join(wd, "results")
	cfg.State.Dir = filepath.Join(wd, "state")
	cfg.Pipeline.StageTimeout = 30 * time.Second
	return cfg
}

func invocation(t *testing.T, wd string, flags ScanFlags, cfg *config.Config) Invocation {
	t.Helper()
	inv, err := ParseInvocation(wd, flags)
	require.NoError(t, err)
	inv, err = inv.WithDefaults(cfg.Output.Dir, time.Date(2026, 5, 2, 14, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	return inv
}

func TestExecute_RecordsSuccessfulRun(t *testing.T) {
	wd := t.TempDir()
	heights := make([]float64, 20)
	for i := range heights {
		heights[i] = 3000
	}
	heights[7] = 90000
	input := writeRecords(t, wd, heights...)
	cfg := testConfig(wd)
	inv := invocation(t, wd, ScanFlags{Input: input}, cfg)

	var stdout, stderr bytes.Buffer
	res, err := Execute(context.Background(), inv, cfg, Options{Stdout: &stdout, Stderr: &stderr, Launcher: helperLauncher(t)})

	require.NoError(t, err, stderr.String())
	assert.Equal(t, ExitSuccess, res.ExitCode)
	assert.Equal(t, filepath.Join(wd, "results", "outliers_20260502T143000Z.csv"), res.Pipeline.CSVPath)

	summary, err := report.ReadCSV(res.Pipeline.CSVPath)
	require.NoError(t, err)
	assert.Equal(t, report.Summary{Violations: 1, OutlierElements: 1}, summary)

	out := stdout.String()
	assert.Contains(t, out, res.Run.RunID)
	assert.Contains(t, out, "Violations")
	assert.Contains(t, out, "Outlier elements")

	store, err := history.NewStore(cfg.State.Dir)
	require.NoError(t, err)
	run, err := store.LoadRun(res.Run.RunID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusSucceeded, run.Status)
	assert.Equal(t, string(pipeline.StateDone), run.FinalState)
	assert.Equal(t, 1, run.Violations)
	assert.Equal(t, []string{"Walls"}, run.CategoryFilter)
	assert.NotEmpty(t, run.InputDigest)

	_, ok, err := store.LoadFailure(res.Run.RunID)
	require.NoError(t, err)
	assert.False(t, ok)

	tr, err := store.LoadTrace(res.Run.RunID)
	require.NoError(t, err)
	var succeeded int
	for _, ev := range tr.Events {
		if ev.Kind == trace.EventStageSucceeded {
			succeeded++
		}
	}
	assert.Equal(t, len(stage.All), succeeded)
}

func TestExecute_EnvironmentFailureIsAConfigError(t *testing.T) {
	wd := t.TempDir()
	cfg := testConfig(wd)
	inv := invocation(t, wd, ScanFlags{Input: writeRecords(t, wd, 1, 2, 3)}, cfg)
	missing := pipeline.NewProcessLauncher(filepath.Join(wd, "no-such-stage"), wd)

	var stderr bytes.Buffer
	res, err := Execute(context.Background(), inv, cfg, Options{Stderr: &stderr, Launcher: missing})

	require.Error(t, err)
	assert.Equal(t, ExitConfigError, res.ExitCode)
	assert.Contains(t, stderr.String(), "remedy:")
	assert.NoFileExists(t, inv.CSVPath)

	store, err := history.NewStore(cfg.State.Dir)
	require.NoError(t, err)
	f, ok, err := store.LoadFailure(res.Run.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, history.FailureClassEnvironment, f.FailureClass)
	assert.Nil(t, f.Stage)
}

func TestExecute_StageFailureIsAPipelineFailure(t *testing.T) {
	wd := t.TempDir()
	cfg := testConfig(wd)
	inv := invocation(t, wd, ScanFlags{Input: "missing.json", CSV: "out.csv"}, cfg)

	var stdout, stderr bytes.Buffer
	res, err := Execute(context.Background(), inv, cfg, Options{Stdout: &stdout, Stderr: &stderr, Launcher: helperLauncher(t)})

	require.Error(t, err)
	assert.Equal(t, ExitPipelineFailure, res.ExitCode)
	assert.Equal(t, pipeline.StateFailed, res.Pipeline.State)
	assert.Contains(t, stderr.String(), "scan failed at Stage 1 (load)")
	assert.Empty(t, stdout.String(), "no summary is printed for a failed run")
	assert.NoFileExists(t, inv.CSVPath)

	store, err := history.NewStore(cfg.State.Dir)
	require.NoError(t, err)
	run, err := store.LoadRun(res.Run.RunID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusFailed, run.Status)
	assert.Equal(t, string(pipeline.StateFailed), run.FinalState)

	f, ok, err := store.LoadFailure(res.Run.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, f.Stage)
	assert.Equal(t, stage.Load.String(), *f.Stage)
	require.NotNil(t, f.ExitCode)
	assert.Equal(t, stage.ExitDataError, *f.ExitCode)
}

func TestExecute_RequiresDestination(t *testing.T) {
	wd := t.TempDir()
	inv, err := ParseInvocation(wd, ScanFlags{Input: "raw.json"})
	require.NoError(t, err)

	res, err := Execute(context.Background(), inv, testConfig(wd), Options{})
	require.Error(t, err)
	assert.Equal(t, ExitInvalidInvocation, ExitCode(err))
	assert.Empty(t, res.Run.RunID, "nothing is recorded for an invalid invocation")
}
