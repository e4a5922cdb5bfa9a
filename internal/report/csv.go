// Package report renders detected violations to CSV.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"outlierscan/internal/detect"
	"outlierscan/internal/fsutil"
	"outlierscan/internal/schema"
)

// Header is the first row of every result file.
var Header = []string{
	"ElementId",
	"Category",
	"Family",
	"Type",
	"Bucket",
	"Parameter",
	"Value",
	"CohortMean",
	"CohortStdDev",
	"ZScore",
	"Reason",
}

// ErrMalformed is returned by ReadCSV for files that are not result files.
var ErrMalformed = errors.New("malformed result file")

// WriteCSV writes one row per violation to path, ordered by detect.Sort.
//
// The file appears at path only once it is complete. A write that fails
// midway leaves any previous file untouched and no partial file behind. An
// empty violation list still produces the header row.
func WriteCSV(path string, vs []detect.Violation) error {
	rows := slices.Clone(vs)
	detect.Sort(rows)

	err := fsutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return Encode(w, rows)
	})
	if err != nil {
		return fmt.Errorf("write csv %s: %w", path, err)
	}
	return nil
}

// Encode writes the header and vs, in the given order, to w.
func Encode(w io.Writer, vs []detect.Violation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, v := range vs {
		if err := cw.Write(Row(v)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Row renders v as CSV fields in Header order.
func Row(v detect.Violation) []string {
	return []string{
		string(v.ElementID),
		v.Hierarchy.Category,
		v.Hierarchy.Family,
		v.Hierarchy.Type,
		string(v.Bucket),
		v.Parameter,
		formatFloat(v.Value),
		formatFloat(v.CohortMean),
		formatFloat(v.CohortStdDev),
		formatFloat(v.ZScore),
		v.Reason,
	}
}

// Summary is what ReadCSV extracts from a result file.
type Summary struct {
	Violations      int
	OutlierElements int
}

// ReadCSV parses a result file written by WriteCSV and counts its rows and
// distinct element ids.
func ReadCSV(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)
	head, err := r.Read()
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	if !slices.Equal(head, Header) {
		return Summary{}, fmt.Errorf("%w: %s: unexpected header", ErrMalformed, path)
	}

	var s Summary
	seen := map[schema.ElementID]struct{}{}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Summary{}, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
		}
		s.Violations++
		seen[schema.ElementID(rec[0])] = struct{}{}
	}
	s.OutlierElements = len(seen)
	return s, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
