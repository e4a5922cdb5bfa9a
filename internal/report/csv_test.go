package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outlierscan/internal/detect"
	"outlierscan/internal/schema"
)

var walls = schema.Hierarchy{Category: "Walls", Family: "Basic Wall", Type: "Generic - 200mm"}

func violations() []detect.Violation {
	return []detect.Violation{
		{ElementID: "12", Hierarchy: walls, Bucket: schema.BucketBuiltIn, Parameter: "Width", Value: 900, CohortMean: 210.5, CohortStdDev: 150, ZScore: 4.596666666666667, Reason: detect.ReasonZScore},
		{ElementID: "12", Hierarchy: walls, Bucket: schema.BucketBuiltIn, Parameter: "Height", Value: 90000, CohortMean: 7350, CohortStdDev: 18965.5, ZScore: 4.35, Reason: detect.ReasonZScore},
		{ElementID: "3", Hierarchy: schema.Hierarchy{Category: "Doors", Family: "Single, Flush", Type: "900 x 2100"}, Bucket: schema.BucketShared, Parameter: "Fire \"Rating\"", Value: 240, CohortMean: 60, CohortStdDev: 45, ZScore: 4, Reason: detect.ReasonZScore},
	}
}

func TestWriteCSV_RowsAreSortedAndQuoted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteCSV(path, violations()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "ElementId,Category,Family,Type,Bucket,Parameter,Value,CohortMean,CohortStdDev,ZScore,Reason\n" +
		`3,Doors,"Single, Flush",900 x 2100,shared_parameters,"Fire ""Rating""",240,60,45,4,zscore_above_threshold` + "\n" +
		"12,Walls,Basic Wall,Generic - 200mm,built_in_parameters,Height,90000,7350,18965.5,4.35,zscore_above_threshold\n" +
		"12,Walls,Basic Wall,Generic - 200mm,built_in_parameters,Width,900,210.5,150,4.596666666666667,zscore_above_threshold\n"
	assert.Equal(t, want, string(data))
}

func TestWriteCSV_ByteIdenticalForShuffledInput(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.csv")

	vs := violations()
	require.NoError(t, WriteCSV(a, vs))
	reversed := []detect.Violation{vs[2], vs[0], vs[1]}
	require.NoError(t, WriteCSV(b, reversed))

	da, err := os.ReadFile(a)
	require.NoError(t, err)
	db, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(da, db))
	assert.Equal(t, schema.ElementID("3"), reversed[0].ElementID, "input slice must not be reordered")
}

func TestWriteCSV_EmptyListWritesHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteCSV(path, nil))

	s, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, s)
}

func TestWriteCSV_MissingDirectoryCreatesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.csv")

	err := WriteCSV(path, violations())

	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestReadCSV_CountsDistinctElements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteCSV(path, violations()))

	s, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, Summary{Violations: 3, OutlierElements: 2}, s)
}

func TestReadCSV_RejectsForeignFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))

	_, err := ReadCSV(path)
	assert.ErrorIs(t, err, ErrMalformed)
}
