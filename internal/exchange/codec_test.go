package exchange

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outlierscan/internal/diag"
	"outlierscan/internal/schema"
)

func sampleRecordSet() schema.RecordSet {
	rs := schema.NewRecordSet([]string{"Walls", "Doors"}, time.Date(2026, 5, 2, 14, 0, 0, 123, time.UTC))
	rs.Add(schema.ElementRecord{
		ElementID: "316542",
		Hierarchy: schema.Hierarchy{Category: "Walls", Family: "Basic Wall", Type: "Generic - 200mm"},
		BuiltInParameters: schema.Parameters{
			"Height": schema.Number(3000),
			"Mark":   schema.Text("W-01"),
		},
		SharedParameters: schema.Parameters{"Height": schema.Number(2999.5)},
	})
	rs.Add(schema.ElementRecord{
		ElementID: "door-7",
		Hierarchy: schema.Hierarchy{Category: "Doors"},
	})
	return rs
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	want := sampleRecordSet()
	path := filepath.Join(t.TempDir(), "records.json")

	got, err := Encode(path, want)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	decoded, err := Decode(path)
	require.NoError(t, err)

	want.Normalize()
	if diff := cmp.Diff(want, decoded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecode_RoundTripCarriesDiagnostics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	rep := diag.NewReport()
	rep.Warn(diag.TypeRecordValidation, diag.ElementLocator("9"), "excluded")
	rep.Count("records_excluded", 1)

	_, err := EncodeWithDiagnostics(path, sampleRecordSet(), rep)
	require.NoError(t, err)

	_, got, err := DecodeWithDiagnostics(path)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stat("records_excluded"))
	require.Len(t, got.Warnings, 1)
}

func TestEncode_RejectsNonFiniteNamingElementAndParameter(t *testing.T) {
	rs := sampleRecordSet()
	rec := rs.Records["316542"]
	rec.ProjectParameters["Area"] = schema.Number(math.NaN())
	rs.Records["316542"] = rec
	path := filepath.Join(t.TempDir(), "records.json")

	_, err := Encode(path, rs)

	var ve *ValueError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "316542", ve.ElementID)
	assert.Equal(t, "project_parameters", ve.Bucket)
	assert.Equal(t, "Area", ve.Parameter)
	assert.ErrorIs(t, err, ErrValue)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDecode_VersionMismatch(t *testing.T) {
	path := writeFile(t, `{"metadata":{"schema_version":"2.0","category_filter":[],"collected_at":"2026-01-01T00:00:00Z"},"records":{}}`)

	_, err := Decode(path)

	var ve *VersionError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "2.0", ve.Got)
	assert.Equal(t, schema.Version, ve.Want)
	assert.ErrorIs(t, err, ErrVersion)
}

func TestDecode_MalformedJSON(t *testing.T) {
	path := writeFile(t, `{"metadata": {`)

	_, err := Decode(path)

	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, ErrSchema)
	assert.Contains(t, err.Error(), path)
}

func TestDecode_TrailingContent(t *testing.T) {
	path := writeFile(t, `{"metadata":{"schema_version":"3.0","category_filter":[],"collected_at":"2026-01-01T00:00:00Z"},"records":{}} {}`)

	_, err := Decode(path)
	assert.ErrorIs(t, err, ErrSchema)
}

func TestDecode_KeyMismatch(t *testing.T) {
	path := writeFile(t, `{"metadata":{"schema_version":"3.0","category_filter":[],"collected_at":"2026-01-01T00:00:00Z"},
		"records":{"1":{"element_id":"2","hierarchy":{"category":"a","family":"b","type":"c"},
		"built_in_parameters":{},"shared_parameters":{},"project_parameters":{}}}}`)

	_, err := Decode(path)
	require.ErrorAs(t, err, new(*SchemaError))
	assert.Contains(t, err.Error(), "does not match")
}

func TestDecode_MissingFile(t *testing.T) {
	_, err := Decode(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDecodeEnvelope_KeepsBadRecordsRaw(t *testing.T) {
	path := writeFile(t, `{"metadata":{"schema_version":"3.0"},"extra":1,
		"records":{"1":{"hierarchy":{"category":"Walls"}},"2":[1,2,3],"3":{"built_in_parameters":{"Geo":{"x":1}}}}}`)

	env, err := DecodeEnvelope(path)
	require.NoError(t, err)
	assert.Len(t, env.Records, 3)
	assert.Equal(t, "3.0", env.Metadata.SchemaVersion)
	assert.NotNil(t, env.Metadata.CategoryFilter)
	assert.Nil(t, env.Diagnostics)
}

func TestDecodeEnvelope_StructuralFailures(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"array":          `[1,2]`,
		"not json":       `records: yes`,
		"missing recs":   `{"metadata":{}}`,
		"records list":   `{"records":[{"element_id":1}]}`,
		"bad metadata":   `{"metadata":{"collected_at":17},"records":{}}`,
		"truncated file": `{"records":{"1":{}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope(writeFile(t, body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}

func TestWriteEnvelope_RoundTrip(t *testing.T) {
	src := writeFile(t, `{"metadata":{"schema_version":"3.0","category_filter":["Walls"]},"records":{"5":{"element_id":5}}}`)
	env, err := DecodeEnvelope(src)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "stage1.json")
	require.NoError(t, WriteEnvelope(out, env))

	again, err := DecodeEnvelope(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"Walls"}, again.Metadata.CategoryFilter)
	assert.JSONEq(t, `{"element_id":5}`, string(again.Records["5"]))
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), strings.ReplaceAll(t.Name(), "/", "_")+".json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
