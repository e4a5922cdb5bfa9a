package stage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"outlierscan/internal/diag"
	"outlierscan/internal/exchange"
	"outlierscan/internal/schema"
)

// Statistics recorded in the diagnostics block.
const (
	StatRecordsIn          = "records_in"
	StatRecordsValid       = "records_valid"
	StatRecordsExcluded    = "records_excluded"
	StatHierarchyDefaulted = "hierarchy_defaulted"
	StatNullsDropped       = "null_parameters_dropped"
	StatCohorts            = "cohorts"
	StatCohortsExcluded    = "cohorts_excluded"
	StatUniqueCombinations = "unique_combinations"
	StatUnsummarized       = "parameters_unsummarized"
)

// ValidateRecords turns the raw records of env into a typed record set.
// Records failing structural checks are left out and reported on rep.
func ValidateRecords(env exchange.Envelope, rep *diag.Report) schema.RecordSet {
	rs := schema.RecordSet{Metadata: env.Metadata, Records: make(map[schema.ElementID]schema.ElementRecord, len(env.Records))}
	rs.Normalize()

	keys := make([]string, 0, len(env.Records))
	for k := range env.Records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return schema.CompareElementIDs(schema.ElementID(keys[i]), schema.ElementID(keys[j])) < 0
	})

	rep.Count(StatRecordsIn, len(keys))
	for _, key := range keys {
		rec, err := validateRecord(key, env.Records[key], rep)
		if err != nil {
			rep.Warn(diag.TypeRecordValidation, diag.ElementLocator(key), "record excluded: %v", err)
			rep.Count(StatRecordsExcluded, 1)
			continue
		}
		rs.Records[rec.ElementID] = rec
	}
	rep.Count(StatRecordsValid, len(rs.Records))
	return rs
}

func validateRecord(key string, raw json.RawMessage, rep *diag.Report) (schema.ElementRecord, error) {
	if key == "" {
		return schema.ElementRecord{}, errors.New("empty element id")
	}
	if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '{' {
		return schema.ElementRecord{}, errors.New("record is not a JSON object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return schema.ElementRecord{}, fmt.Errorf("record is malformed: %v", err)
	}

	rec := schema.ElementRecord{ElementID: schema.ElementID(key)}
	if v, ok := fields["element_id"]; ok && !isNull(v) {
		var id schema.ElementID
		if err := json.Unmarshal(v, &id); err != nil {
			return schema.ElementRecord{}, fmt.Errorf("element_id: %v", err)
		}
		if id != rec.ElementID {
			return schema.ElementRecord{}, fmt.Errorf("element_id %q does not match record key", id)
		}
	}

	h, defaulted, err := validateHierarchy(fields["hierarchy"])
	if err != nil {
		return schema.ElementRecord{}, err
	}
	rec.Hierarchy = h
	rep.Count(StatHierarchyDefaulted, defaulted)

	for _, b := range schema.Buckets {
		params, err := validateBucket(key, b, fields[string(b)], rep)
		if err != nil {
			return schema.ElementRecord{}, err
		}
		switch b {
		case schema.BucketBuiltIn:
			rec.BuiltInParameters = params
		case schema.BucketShared:
			rec.SharedParameters = params
		case schema.BucketProject:
			rec.ProjectParameters = params
		}
	}
	return rec.Normalize(), nil
}

// validateHierarchy defaults absent or blank components to schema.Unknown
// and returns how many were defaulted.
func validateHierarchy(raw json.RawMessage) (schema.Hierarchy, int, error) {
	var comps map[string]json.RawMessage
	if len(raw) != 0 && !isNull(raw) {
		if t := bytes.TrimSpace(raw); t[0] != '{' {
			return schema.Hierarchy{}, 0, errors.New("hierarchy is not an object")
		}
		if err := json.Unmarshal(raw, &comps); err != nil {
			return schema.Hierarchy{}, 0, fmt.Errorf("hierarchy is malformed: %v", err)
		}
	}

	var h schema.Hierarchy
	defaulted := 0
	for _, c := range []struct {
		name string
		dst  *string
	}{{"category", &h.Category}, {"family", &h.Family}, {"type", &h.Type}} {
		v, ok := comps[c.name]
		if !ok || isNull(v) {
			defaulted++
			continue
		}
		if err := json.Unmarshal(v, c.dst); err != nil {
			return schema.Hierarchy{}, 0, fmt.Errorf("hierarchy.%s must be a string", c.name)
		}
		if strings.TrimSpace(*c.dst) == "" {
			defaulted++
		}
	}
	return h.Normalize(), defaulted, nil
}

func validateBucket(key string, b schema.Bucket, raw json.RawMessage, rep *diag.Report) (schema.Parameters, error) {
	params := schema.Parameters{}
	if len(raw) == 0 || isNull(raw) {
		return params, nil
	}
	if t := bytes.TrimSpace(raw); t[0] != '{' {
		return nil, fmt.Errorf("%s is not an object", b)
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%s is malformed: %v", b, err)
	}

	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		var v schema.Value
		err := json.Unmarshal(values[name], &v)
		switch {
		case err == nil:
			params[name] = v
		case schema.IsNull(err):
			rep.Count(StatNullsDropped, 1)
		default:
			return nil, fmt.Errorf("%s: %v", diag.ParameterLocator(key, string(b), name), err)
		}
	}
	return params, nil
}
