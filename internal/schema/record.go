package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Version is the record-exchange schema version every stage is built against.
const Version = "3.0"

// Unknown replaces missing or blank hierarchy values.
const Unknown = "Unknown"

// ElementID is the collector's opaque element identifier. It is unique within
// one collection run only.
//
// On the wire it may be a JSON string or a JSON integer; it is always written
// back as a string.
type ElementID string

func (id *ElementID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ElementID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("element_id must be a string or an integer: %s", truncate(string(data), 32))
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("element_id must be a string or an integer: %s", n)
	}
	*id = ElementID(n.String())
	return nil
}

// CompareElementIDs orders ids numerically when both are integers and
// lexicographically otherwise. Integer ids sort before non-integer ids.
func CompareElementIDs(a, b ElementID) int {
	ai, aerr := strconv.ParseInt(string(a), 10, 64)
	bi, berr := strconv.ParseInt(string(b), 10, 64)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return strings.Compare(string(a), string(b))
}

// Hierarchy is the (category, family, type) triple used as the cohort key.
type Hierarchy struct {
	Category string `json:"category"`
	Family   string `json:"family"`
	Type     string `json:"type"`
}

// Normalize replaces blank components with Unknown.
func (h Hierarchy) Normalize() Hierarchy {
	if strings.TrimSpace(h.Category) == "" {
		h.Category = Unknown
	}
	if strings.TrimSpace(h.Family) == "" {
		h.Family = Unknown
	}
	if strings.TrimSpace(h.Type) == "" {
		h.Type = Unknown
	}
	return h
}

func (h Hierarchy) String() string {
	return h.Category + " / " + h.Family + " / " + h.Type
}

// Compare orders hierarchies by category, family, then type.
func (h Hierarchy) Compare(o Hierarchy) int {
	if c := strings.Compare(h.Category, o.Category); c != 0 {
		return c
	}
	if c := strings.Compare(h.Family, o.Family); c != 0 {
		return c
	}
	return strings.Compare(h.Type, o.Type)
}

// Bucket names one of the three parameter groups of a record. The bucket is
// part of a parameter's identity: the same name may appear in several buckets.
type Bucket string

const (
	BucketBuiltIn Bucket = "built_in_parameters"
	BucketShared  Bucket = "shared_parameters"
	BucketProject Bucket = "project_parameters"
)

// Buckets lists the buckets in their canonical order.
var Buckets = []Bucket{BucketBuiltIn, BucketShared, BucketProject}

// Valid reports whether b is one of the three known buckets.
func (b Bucket) Valid() bool {
	switch b {
	case BucketBuiltIn, BucketShared, BucketProject:
		return true
	}
	return false
}

// Parameters maps a parameter name to its value within one bucket.
type Parameters map[string]Value

// Names returns the parameter names in sorted order.
func (p Parameters) Names() []string {
	names := make([]string, 0, len(p))
	for n := range p {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ElementRecord is one sampled model element.
type ElementRecord struct {
	ElementID         ElementID  `json:"element_id"`
	Hierarchy         Hierarchy  `json:"hierarchy"`
	BuiltInParameters Parameters `json:"built_in_parameters"`
	SharedParameters  Parameters `json:"shared_parameters"`
	ProjectParameters Parameters `json:"project_parameters"`
}

// Bucket returns the parameters of bucket b (nil for an unknown bucket).
func (r ElementRecord) Bucket(b Bucket) Parameters {
	switch b {
	case BucketBuiltIn:
		return r.BuiltInParameters
	case BucketShared:
		return r.SharedParameters
	case BucketProject:
		return r.ProjectParameters
	}
	return nil
}

// ParameterCount is the number of parameters across all buckets.
func (r ElementRecord) ParameterCount() int {
	return len(r.BuiltInParameters) + len(r.SharedParameters) + len(r.ProjectParameters)
}

// Normalize defaults absent buckets to empty maps and blank hierarchy
// components to Unknown.
func (r ElementRecord) Normalize() ElementRecord {
	r.Hierarchy = r.Hierarchy.Normalize()
	if r.BuiltInParameters == nil {
		r.BuiltInParameters = Parameters{}
	}
	if r.SharedParameters == nil {
		r.SharedParameters = Parameters{}
	}
	if r.ProjectParameters == nil {
		r.ProjectParameters = Parameters{}
	}
	return r
}

// Metadata travels with every artifact of a run.
type Metadata struct {
	SchemaVersion  string    `json:"schema_version"`
	CategoryFilter []string  `json:"category_filter"`
	CollectedAt    time.Time `json:"collected_at"`
}

// RecordSet is the unit exchanged between the collector and the pipeline.
type RecordSet struct {
	Metadata Metadata                    `json:"metadata"`
	Records  map[ElementID]ElementRecord `json:"records"`
}

// NewRecordSet returns an empty RecordSet stamped with the current Version.
func NewRecordSet(categoryFilter []string, collectedAt time.Time) RecordSet {
	return RecordSet{
		Metadata: Metadata{
			SchemaVersion:  Version,
			CategoryFilter: categoryFilter,
			CollectedAt:    collectedAt.UTC(),
		},
		Records: map[ElementID]ElementRecord{},
	}
}

// Add normalizes rec and stores it under its id.
func (s *RecordSet) Add(rec ElementRecord) {
	if s.Records == nil {
		s.Records = map[ElementID]ElementRecord{}
	}
	s.Records[rec.ElementID] = rec.Normalize()
}

// IDs returns all element ids in CompareElementIDs order.
func (s RecordSet) IDs() []ElementID {
	ids := make([]ElementID, 0, len(s.Records))
	for id := range s.Records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return CompareElementIDs(ids[i], ids[j]) < 0 })
	return ids
}

// Normalize normalizes every record and the metadata slices in place.
func (s *RecordSet) Normalize() {
	if s.Metadata.CategoryFilter == nil {
		s.Metadata.CategoryFilter = []string{}
	}
	if s.Records == nil {
		s.Records = map[ElementID]ElementRecord{}
	}
	for id, rec := range s.Records {
		if rec.ElementID == "" {
			rec.ElementID = id
		}
		s.Records[id] = rec.Normalize()
	}
}
