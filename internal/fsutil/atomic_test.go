package fsutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_WritesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.csv")

	require.NoError(t, WriteBytesAtomic(path, []byte("a,b\n1,2\n"), 0o644))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(got))
	assertNoTempFiles(t, filepath.Dir(path))
}

func TestWriteFileAtomic_FailedFillLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	boom := errors.New("disk full")

	err := WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		if _, err := io.WriteString(w, "a,b\n1,"); err != nil {
			return err
		}
		return boom
	})

	require.ErrorIs(t, err, boom)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "destination must not exist after a failed write")
	assertNoTempFiles(t, dir)
}

func TestWriteFileAtomic_FailedFillKeepsPreviousContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	require.NoError(t, WriteBytesAtomic(path, []byte("old\n"), 0o644))

	err := WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, _ = io.WriteString(w, "new partial")
		return errors.New("short write")
	})
	require.Error(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(got))
}

func TestDigestFile_StableForSameContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	require.NoError(t, os.WriteFile(a, []byte(`{"x":1}`), 0o644))
	require.NoError(t, os.WriteFile(b, []byte(`{"x":1}`), 0o644))

	da, err := DigestFile(a)
	require.NoError(t, err)
	db, err := DigestFile(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Len(t, da, 64)
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp.*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
