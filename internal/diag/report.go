// Package diag carries validation findings between pipeline stages.
//
// The Report shape {valid, errors, warnings, statistics} is shared with the
// mapping validator; an Issue always names its type, where it was found and a
// human message.
package diag

import "fmt"

// Issue types produced by the pipeline.
const (
	TypeRecordValidation = "record_validation"
	TypeNullParameter    = "null_parameter"
	TypeSchema           = "schema"
	TypeVersion          = "version"
	TypeStatistics       = "statistics"
)

// Issue is one finding. Locator points at the offending element, e.g.
// "element:316542" or "element:316542/built_in_parameters/Height".
type Issue struct {
	Type    string `json:"type"`
	Locator string `json:"locator"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Locator == "" {
		return fmt.Sprintf("[%s] %s", i.Type, i.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", i.Type, i.Locator, i.Message)
}

// Report aggregates issues and counters for one run.
type Report struct {
	Valid      bool           `json:"valid"`
	Errors     []Issue        `json:"errors"`
	Warnings   []Issue        `json:"warnings"`
	Statistics map[string]int `json:"statistics"`
}

// NewReport returns an empty, valid report.
func NewReport() *Report {
	return &Report{Valid: true, Errors: []Issue{}, Warnings: []Issue{}, Statistics: map[string]int{}}
}

// Warn appends a non-fatal issue.
func (r *Report) Warn(typ, locator, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Type: typ, Locator: locator, Message: fmt.Sprintf(format, args...)})
}

// Fail appends a fatal issue and marks the report invalid.
func (r *Report) Fail(typ, locator, format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, Issue{Type: typ, Locator: locator, Message: fmt.Sprintf(format, args...)})
}

// Count adds n to a named statistic.
func (r *Report) Count(name string, n int) {
	if r.Statistics == nil {
		r.Statistics = map[string]int{}
	}
	r.Statistics[name] += n
}

// Stat returns a named statistic (0 when absent).
func (r *Report) Stat(name string) int {
	if r == nil {
		return 0
	}
	return r.Statistics[name]
}

// WarningsOfType counts warnings with the given type.
func (r *Report) WarningsOfType(typ string) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, w := range r.Warnings {
		if w.Type == typ {
			n++
		}
	}
	return n
}

// Samples returns a copy of the first n warnings in the order they were
// recorded. Stages record warnings in element id order.
func (r *Report) Samples(n int) []Issue {
	if r == nil || n <= 0 || len(r.Warnings) == 0 {
		return nil
	}
	n = min(n, len(r.Warnings))
	out := make([]Issue, n)
	copy(out, r.Warnings[:n])
	return out
}

// Merge folds other into r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	if !other.Valid {
		r.Valid = false
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	for k, v := range other.Statistics {
		r.Count(k, v)
	}
}

// Normalize replaces nil slices and maps so the JSON form is stable.
func (r *Report) Normalize() *Report {
	if r == nil {
		return NewReport()
	}
	if r.Errors == nil {
		r.Errors = []Issue{}
	}
	if r.Warnings == nil {
		r.Warnings = []Issue{}
	}
	if r.Statistics == nil {
		r.Statistics = map[string]int{}
	}
	return r
}

// ElementLocator formats the locator of an element.
func ElementLocator(id string) string { return "element:" + id }

// CohortLocator formats the locator of one parameter of a cohort.
func CohortLocator(cohort, parameter string) string {
	return "cohort:" + cohort + "/" + parameter
}

// ParameterLocator formats the locator of one parameter of an element.
func ParameterLocator(id, bucket, name string) string {
	return "element:" + id + "/" + bucket + "/" + name
}
