// Package exchange serializes record sets and stage artifacts to durable
// JSON files and validates their structure on the way back in.
package exchange

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"outlierscan/internal/diag"
	"outlierscan/internal/fsutil"
	"outlierscan/internal/schema"
)

// recordSetDoc is the on-disk form of a typed RecordSet.
type recordSetDoc struct {
	Metadata    schema.Metadata                           `json:"metadata"`
	Records     map[schema.ElementID]schema.ElementRecord `json:"records"`
	Diagnostics *diag.Report                              `json:"diagnostics,omitempty"`
}

// Encode writes rs to path and returns path.
func Encode(path string, rs schema.RecordSet) (string, error) {
	return EncodeWithDiagnostics(path, rs, nil)
}

// EncodeWithDiagnostics writes rs together with the diagnostics gathered so
// far in the run.
//
// Non-finite numbers are rejected with a *ValueError before anything is
// written.
func EncodeWithDiagnostics(path string, rs schema.RecordSet, d *diag.Report) (string, error) {
	if err := CheckFinite(rs); err != nil {
		return "", err
	}
	out := schema.RecordSet{Metadata: rs.Metadata, Records: make(map[schema.ElementID]schema.ElementRecord, len(rs.Records))}
	for id, rec := range rs.Records {
		out.Records[id] = rec
	}
	out.Normalize()
	doc := recordSetDoc{Metadata: out.Metadata, Records: out.Records, Diagnostics: d}
	if err := WriteArtifact(path, doc); err != nil {
		return "", err
	}
	return path, nil
}

// Decode reads a typed RecordSet, checking its schema version.
func Decode(path string) (schema.RecordSet, error) {
	rs, _, err := DecodeWithDiagnostics(path)
	return rs, err
}

// DecodeWithDiagnostics is Decode returning the carried diagnostics as well.
func DecodeWithDiagnostics(path string) (schema.RecordSet, *diag.Report, error) {
	var doc recordSetDoc
	if err := ReadArtifact(path, &doc); err != nil {
		return schema.RecordSet{}, nil, err
	}
	if err := CheckVersion(path, doc.Metadata); err != nil {
		return schema.RecordSet{}, nil, err
	}
	if doc.Records == nil {
		return schema.RecordSet{}, nil, schemaf(path, nil, "records object is missing")
	}
	for id, rec := range doc.Records {
		if rec.ElementID != "" && rec.ElementID != id {
			return schema.RecordSet{}, nil, schemaf(path, nil, "record key %q does not match element_id %q", id, rec.ElementID)
		}
	}
	rs := schema.RecordSet{Metadata: doc.Metadata, Records: doc.Records}
	rs.Normalize()
	return rs, doc.Diagnostics.Normalize(), nil
}

// CheckVersion returns a *VersionError unless md carries schema.Version.
func CheckVersion(path string, md schema.Metadata) error {
	if md.SchemaVersion != schema.Version {
		return &VersionError{Path: path, Got: md.SchemaVersion, Want: schema.Version}
	}
	return nil
}

// CheckFinite returns the first non-finite numeric parameter of rs, in
// element-id, bucket and parameter-name order.
func CheckFinite(rs schema.RecordSet) error {
	for _, id := range rs.IDs() {
		rec := rs.Records[id]
		for _, b := range schema.Buckets {
			params := rec.Bucket(b)
			for _, name := range params.Names() {
				v := params[name]
				if v.IsNumber() && !v.Finite() {
					f, _ := v.Float()
					return &ValueError{ElementID: string(id), Bucket: string(b), Parameter: name, Value: f}
				}
			}
		}
	}
	return nil
}

// WriteArtifact marshals v as indented JSON and writes it atomically.
func WriteArtifact(path string, v any) error {
	err := fsutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	})
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	return nil
}

// ReadArtifact strictly decodes the JSON artifact at path into dst.
//
// Unknown fields and trailing content are schema errors; a missing or
// unreadable file is reported with the underlying os error.
func ReadArtifact(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return schemaf(path, err, "invalid JSON")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return schemaf(path, nil, "trailing content after JSON document")
	}
	return nil
}
