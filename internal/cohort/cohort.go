// Package cohort partitions records into comparable groups and summarizes
// their numeric parameters.
package cohort

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"outlierscan/internal/diag"
	"outlierscan/internal/schema"
)

// MinSize is the smallest cohort with a statistical basis for detection.
const MinSize = 2

// Key identifies a cohort. Membership is a pure function of the key.
type Key = schema.Hierarchy

// Stats summarizes the numeric values of one (bucket, parameter) pair within
// a cohort. StdDev is the population standard deviation.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// ParameterStats is keyed by bucket, then parameter name.
type ParameterStats map[schema.Bucket]map[string]Stats

// Lookup returns the stats of (bucket, name).
func (p ParameterStats) Lookup(b schema.Bucket, name string) (Stats, bool) {
	s, ok := p[b][name]
	return s, ok
}

// Cohort is a group of records sharing one hierarchy.
type Cohort struct {
	Key                   Key                    `json:"key"`
	Size                  int                    `json:"size"`
	Records               []schema.ElementRecord `json:"records"`
	ParameterStats        ParameterStats         `json:"parameter_stats"`
	ExcludedFromDetection bool                   `json:"excluded_from_detection"`
	// Unsummarized lists "<bucket>/<parameter>" pairs whose statistics
	// were not finite and are therefore absent from ParameterStats.
	Unsummarized []string `json:"unsummarized,omitempty"`
}

// Set is the Stage 3 artifact.
type Set struct {
	Metadata    schema.Metadata `json:"metadata"`
	Cohorts     []Cohort        `json:"cohorts"`
	Diagnostics *diag.Report    `json:"diagnostics,omitempty"`
}

// Eligible counts cohorts taking part in detection.
func (s Set) Eligible() int {
	n := 0
	for _, c := range s.Cohorts {
		if !c.ExcludedFromDetection {
			n++
		}
	}
	return n
}

// Group partitions rs by hierarchy and computes per-cohort statistics.
//
// Cohorts are ordered by key and their records by element id, so grouping the
// same record set twice yields identical output. Statistics for different
// cohorts are computed concurrently; the result does not depend on
// scheduling.
func Group(ctx context.Context, rs schema.RecordSet) ([]Cohort, error) {
	members := make(map[Key][]schema.ElementRecord)
	for _, id := range rs.IDs() {
		rec := rs.Records[id].Normalize()
		if rec.ElementID == "" {
			rec.ElementID = id
		}
		members[rec.Hierarchy] = append(members[rec.Hierarchy], rec)
	}

	keys := make([]Key, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })

	cohorts := make([]Cohort, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, k := range keys {
		i, k := i, k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			recs := members[k]
			stats, unsummarized := Summarize(recs)
			cohorts[i] = Cohort{
				Key:                   k,
				Size:                  len(recs),
				Records:               recs,
				ParameterStats:        stats,
				ExcludedFromDetection: len(recs) < MinSize,
				Unsummarized:          unsummarized,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cohorts, nil
}

// CountCombinations counts distinct (category, family, type) keys in rs.
func CountCombinations(rs schema.RecordSet) int {
	seen := make(map[Key]struct{})
	for _, rec := range rs.Records {
		seen[rec.Hierarchy.Normalize()] = struct{}{}
	}
	return len(seen)
}
