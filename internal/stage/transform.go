package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"outlierscan/internal/cohort"
	"outlierscan/internal/detect"
	"outlierscan/internal/diag"
	"outlierscan/internal/exchange"
	"outlierscan/internal/report"
	"outlierscan/internal/schema"
)

// Func transforms the artifact at in into a new artifact at out.
type Func func(ctx context.Context, in, out string, log *zap.Logger) error

// Transform returns the transformation of stage id.
func Transform(id ID) Func {
	switch id {
	case Load:
		return RunLoad
	case Validate:
		return RunValidate
	case Group:
		return RunGroup
	case Detect:
		return RunDetect
	case Emit:
		return RunEmit
	}
	return nil
}

// ArtifactName is the file name a stage's output gets in the scratch
// directory. Emit writes to the caller's destination instead.
func ArtifactName(id ID) string {
	switch id {
	case Load:
		return "stage1_records.json"
	case Validate:
		return "stage2_validated.json"
	case Group:
		return "stage3_cohorts.json"
	case Detect:
		return "stage4_violations.json"
	}
	return ""
}

// RunLoad reads the raw record set and writes it back with absent parameter
// buckets defaulted to empty objects. Records that are not JSON objects are
// passed through untouched for RunValidate to reject.
func RunLoad(_ context.Context, in, out string, log *zap.Logger) error {
	env, err := exchange.DecodeEnvelope(in)
	if err != nil {
		return err
	}

	defaulted := 0
	for id, raw := range env.Records {
		fixed, n, ok := defaultBuckets(raw)
		if !ok {
			continue
		}
		env.Records[id] = fixed
		defaulted += n
	}
	if env.Diagnostics == nil {
		env.Diagnostics = diag.NewReport()
	}
	env.Diagnostics.Count("records_loaded", len(env.Records))
	env.Diagnostics.Count("buckets_defaulted", defaulted)

	if err := exchange.WriteEnvelope(out, env); err != nil {
		return err
	}
	log.Info("record set loaded",
		zap.String("input", in),
		zap.Int("records", len(env.Records)),
		zap.Int("buckets_defaulted", defaulted))
	return nil
}

func defaultBuckets(raw json.RawMessage) (json.RawMessage, int, bool) {
	if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '{' {
		return raw, 0, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return raw, 0, false
	}
	n := 0
	for _, b := range schema.Buckets {
		if v, ok := fields[string(b)]; !ok || isNull(v) {
			fields[string(b)] = json.RawMessage(`{}`)
			n++
		}
	}
	if n == 0 {
		return raw, 0, true
	}
	fixed, err := json.Marshal(fields)
	if err != nil {
		return raw, 0, false
	}
	return fixed, n, true
}

// RunValidate checks the schema version, validates every record and writes
// the typed record set. Invalid records are excluded and reported as
// warnings; only a version mismatch fails the stage.
func RunValidate(_ context.Context, in, out string, log *zap.Logger) error {
	env, err := exchange.DecodeEnvelope(in)
	if err != nil {
		return err
	}
	if err := exchange.CheckVersion(in, env.Metadata); err != nil {
		return err
	}

	rep := env.Diagnostics.Normalize()
	rs := ValidateRecords(env, rep)

	if _, err := exchange.EncodeWithDiagnostics(out, rs, rep); err != nil {
		return err
	}
	log.Info("record set validated",
		zap.Int("records_valid", len(rs.Records)),
		zap.Int("records_excluded", rep.Stat(StatRecordsExcluded)),
		zap.Int("null_parameters_dropped", rep.Stat(StatNullsDropped)))
	return nil
}

// RunGroup partitions the validated records into cohorts.
func RunGroup(ctx context.Context, in, out string, log *zap.Logger) error {
	rs, rep, err := exchange.DecodeWithDiagnostics(in)
	if err != nil {
		return err
	}
	cohorts, err := cohort.Group(ctx, rs)
	if err != nil {
		return fmt.Errorf("group records: %w", err)
	}

	set := cohort.Set{Metadata: rs.Metadata, Cohorts: cohorts, Diagnostics: rep}
	excluded := len(cohorts) - set.Eligible()
	rep.Count(StatCohorts, len(cohorts))
	rep.Count(StatCohortsExcluded, excluded)
	rep.Count(StatUniqueCombinations, cohort.CountCombinations(rs))
	for _, c := range cohorts {
		for _, p := range c.Unsummarized {
			rep.Warn(diag.TypeStatistics, diag.CohortLocator(c.Key.String(), p),
				"statistics are not finite; parameter skipped for detection")
		}
	}
	rep.Count(StatUnsummarized, rep.WarningsOfType(diag.TypeStatistics))

	if err := exchange.WriteArtifact(out, set); err != nil {
		return err
	}
	log.Info("records grouped",
		zap.Int("cohorts", len(cohorts)),
		zap.Int("cohorts_excluded", excluded),
		zap.Int("parameters_unsummarized", rep.Stat(StatUnsummarized)))
	return nil
}

// RunDetect scans every eligible cohort for outliers.
func RunDetect(_ context.Context, in, out string, log *zap.Logger) error {
	var set cohort.Set
	if err := exchange.ReadArtifact(in, &set); err != nil {
		return err
	}
	if err := exchange.CheckVersion(in, set.Metadata); err != nil {
		return err
	}

	res := detect.Scan(set)
	if err := exchange.WriteArtifact(out, res); err != nil {
		return err
	}
	log.Info("outliers detected",
		zap.Int("violations", res.ViolationCount),
		zap.Int("outlier_elements", res.OutlierElementCount),
		zap.Int("cohorts_scanned", res.CohortsScanned))
	return nil
}

// RunEmit renders the detection result as CSV at out.
func RunEmit(_ context.Context, in, out string, log *zap.Logger) error {
	res, err := ReadResult(in)
	if err != nil {
		return err
	}
	if err := report.WriteCSV(out, res.Violations); err != nil {
		return err
	}
	log.Info("csv written", zap.String("path", out), zap.Int("rows", len(res.Violations)))
	return nil
}

// ReadResult decodes a Stage 4 artifact.
func ReadResult(path string) (detect.Result, error) {
	var res detect.Result
	if err := exchange.ReadArtifact(path, &res); err != nil {
		return detect.Result{}, err
	}
	if err := exchange.CheckVersion(path, res.Metadata); err != nil {
		return detect.Result{}, err
	}
	return res, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
