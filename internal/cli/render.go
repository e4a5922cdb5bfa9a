package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"outlierscan/internal/config"
	"outlierscan/internal/history"
	"outlierscan/internal/pipeline"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// RenderSummary prints the end-of-run summary followed by the first
// warnings samples.
func RenderSummary(w io.Writer, run history.Run, res *pipeline.Result, samples int) error {
	if res == nil {
		return fmt.Errorf("no pipeline result to summarize")
	}
	t := newTable(w)
	t.SetTitle("Outlier scan")
	t.AppendRows([]table.Row{
		{"Run", run.RunID},
		{"State", res.State},
		{"CSV", res.CSVPath},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Violations", res.Violations},
		{"Outlier elements", res.OutlierElements},
		{"Cohorts scanned", res.CohortsScanned},
		{"Cohorts excluded", res.CohortsExcluded},
		{"Unique combinations", res.UniqueCombinations},
		{"Records excluded", res.RecordsExcluded},
		{"Warnings", res.WarningCount},
	})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.Render()

	if len(res.WarningSamples) == 0 {
		return nil
	}
	fmt.Fprintf(w, "First %d of %d warnings:\n", len(res.WarningSamples), res.WarningCount)
	for _, issue := range res.WarningSamples {
		fmt.Fprintf(w, "  %s\n", issue)
	}
	if samples > 0 && res.WarningCount > len(res.WarningSamples) {
		fmt.Fprintf(w, "  ... %d more, see run %s\n", res.WarningCount-len(res.WarningSamples), run.RunID)
	}
	return nil
}

// RenderFailure prints what failed, where, and what to do about it.
func RenderFailure(w io.Writer, run history.Run, err error) {
	if id, ok := pipeline.FailedStage(err); ok {
		fmt.Fprintf(w, "scan failed at %s\n", id)
	} else {
		fmt.Fprintln(w, "scan failed")
	}
	fmt.Fprintf(w, "error: %v\n", err)
	if remedy := pipeline.Remedy(err); remedy != "" {
		fmt.Fprintf(w, "remedy: %s\n", remedy)
	}
	if run.RunID != "" {
		fmt.Fprintf(w, "run: %s (no result file was produced)\n", run.RunID)
	}
}

// RenderHistory prints runs as a table, most recent first as given.
func RenderHistory(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Run", "Started", "Duration", "Status", "State", "Violations", "Outliers", "Input"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.RunID,
			r.StartTime.UTC().Format(time.RFC3339),
			r.Duration().Round(time.Millisecond),
			r.Status,
			r.FinalState,
			r.Violations,
			r.OutlierElements,
			r.InputPath,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, WidthMax: 60},
	})
	t.Render()
}

// RenderEnvironment prints the result of a successful pre-flight check.
func RenderEnvironment(w io.Writer, env pipeline.Environment, cfg *config.Config) {
	t := newTable(w)
	t.SetTitle("Environment")
	t.AppendRows([]table.Row{
		{"Stage executable", env.Binary},
		{"Schema version", env.SchemaVersion},
		{"Stage timeout", cfg.Pipeline.StageTimeout},
		{"Output dir", cfg.Output.Dir},
		{"State dir", cfg.State.Dir},
	})
	t.Render()
}
