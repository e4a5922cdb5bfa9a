// Package detect flags parameter values that deviate from their cohort.
package detect

import (
	"math"
	"sort"
	"strings"

	"outlierscan/internal/cohort"
	"outlierscan/internal/diag"
	"outlierscan/internal/schema"
)

// Threshold is the z-score above which a value is flagged. A value exactly at
// the threshold is not flagged.
const Threshold = 3.0

// ReasonZScore is the reason code of threshold violations.
const ReasonZScore = "zscore_above_threshold"

// Violation is one flagged (element, bucket, parameter, value) tuple together
// with the statistics of its cohort.
type Violation struct {
	ElementID    schema.ElementID `json:"element_id"`
	Hierarchy    schema.Hierarchy `json:"hierarchy"`
	Bucket       schema.Bucket    `json:"bucket"`
	Parameter    string           `json:"parameter"`
	Value        float64          `json:"value"`
	CohortMean   float64          `json:"cohort_mean"`
	CohortStdDev float64          `json:"cohort_stddev"`
	ZScore       float64          `json:"zscore"`
	Reason       string           `json:"reason"`
}

// Result is the Stage 4 artifact.
//
// ViolationCount and OutlierElementCount differ whenever one element has more
// than one offending parameter: the element counts once, each parameter
// counts as a violation.
type Result struct {
	Metadata            schema.Metadata `json:"metadata"`
	Violations          []Violation     `json:"violations"`
	ViolationCount      int             `json:"violation_count"`
	OutlierElementCount int             `json:"outlier_element_count"`
	CohortsScanned      int             `json:"cohorts_scanned"`
	CohortsExcluded     int             `json:"cohorts_excluded"`
	Diagnostics         *diag.Report    `json:"diagnostics,omitempty"`
}

// ZScore returns |value-mean|/stddev, or 0 when stddev is not positive.
// A difference too large for float64 is taken at half scale.
func ZScore(value, mean, stddev float64) float64 {
	if !(stddev > 0) {
		return 0
	}
	d := value - mean
	if math.IsInf(d, 0) {
		return math.Abs(value/2-mean/2) / stddev * 2
	}
	return math.Abs(d) / stddev
}

// Scan runs detection over every eligible cohort of set.
func Scan(set cohort.Set) Result {
	res := Result{Metadata: set.Metadata, Violations: []Violation{}, Diagnostics: set.Diagnostics}
	for _, c := range set.Cohorts {
		if c.ExcludedFromDetection || c.Size < cohort.MinSize {
			res.CohortsExcluded++
			continue
		}
		res.CohortsScanned++
		res.Violations = append(res.Violations, ScanCohort(c)...)
	}
	Sort(res.Violations)
	res.ViolationCount = len(res.Violations)
	res.OutlierElementCount = DistinctElements(res.Violations)
	return res
}

// ScanCohort flags the members of c whose z-score for a numeric parameter
// exceeds Threshold. Parameters with zero variance never produce violations.
func ScanCohort(c cohort.Cohort) []Violation {
	var out []Violation
	for _, b := range schema.Buckets {
		byName := c.ParameterStats[b]
		names := make([]string, 0, len(byName))
		for n := range byName {
			names = append(names, n)
		}
		sort.Strings(names)

		for _, name := range names {
			st := byName[name]
			if st.Count < cohort.MinSize || !(st.StdDev > 0) || !st.Finite() {
				continue
			}
			for _, rec := range c.Records {
				v, ok := rec.Bucket(b)[name].Float()
				if !ok {
					continue
				}
				z := ZScore(v, st.Mean, st.StdDev)
				if z > Threshold && !math.IsInf(z, 0) {
					out = append(out, Violation{
						ElementID:    rec.ElementID,
						Hierarchy:    c.Key,
						Bucket:       b,
						Parameter:    name,
						Value:        v,
						CohortMean:   st.Mean,
						CohortStdDev: st.StdDev,
						ZScore:       z,
						Reason:       ReasonZScore,
					})
				}
			}
		}
	}
	return out
}

// Sort orders violations by category, family, type, element id, parameter
// name and finally bucket.
func Sort(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool { return Less(vs[i], vs[j]) })
}

// Less is the total order used by Sort.
func Less(a, b Violation) bool {
	if c := a.Hierarchy.Compare(b.Hierarchy); c != 0 {
		return c < 0
	}
	if c := schema.CompareElementIDs(a.ElementID, b.ElementID); c != 0 {
		return c < 0
	}
	if c := strings.Compare(a.Parameter, b.Parameter); c != 0 {
		return c < 0
	}
	return bucketRank(a.Bucket) < bucketRank(b.Bucket)
}

// DistinctElements counts the elements referenced by vs.
func DistinctElements(vs []Violation) int {
	seen := make(map[schema.ElementID]struct{}, len(vs))
	for _, v := range vs {
		seen[v.ElementID] = struct{}{}
	}
	return len(seen)
}

func bucketRank(b schema.Bucket) int {
	for i, x := range schema.Buckets {
		if x == b {
			return i
		}
	}
	return len(schema.Buckets)
}
