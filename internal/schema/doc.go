// Package schema defines the versioned record model exchanged between the
// element collector and the outlier pipeline stages.
//
// # Core Types
//
// ElementRecord: one sampled model element (identity, hierarchy, three
// parameter buckets).
// RecordSet: all records of one collection run plus run metadata.
// Value: a closed parameter value type, either a number or a string.
//
// A RecordSet is only meaningful for the Version it was produced against; the
// pipeline treats any other schema_version as incompatible.
package schema
