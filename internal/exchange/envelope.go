package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"outlierscan/internal/diag"
	"outlierscan/internal/schema"
)

// Envelope is the boundary form of a record set: metadata is typed but each
// record is kept as raw JSON until it has been validated.
//
// Stage 1 and Stage 2 read envelopes so that one malformed record cannot make
// the whole file unreadable.
type Envelope struct {
	Metadata    schema.Metadata            `json:"metadata"`
	Records     map[string]json.RawMessage `json:"records"`
	Diagnostics *diag.Report               `json:"diagnostics,omitempty"`
}

// DecodeEnvelope reads a record-set file leniently. The file must be a JSON
// object with a "records" object; unknown top-level keys are ignored and the
// schema version is not checked here.
func DecodeEnvelope(path string) (Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, fmt.Errorf("read record set %s: %w", path, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Envelope{}, schemaf(path, nil, "file is empty")
	}
	if data[0] != '{' {
		return Envelope{}, schemaf(path, nil, "top-level value must be a JSON object")
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Envelope{}, schemaf(path, err, "invalid JSON")
	}

	var env Envelope
	if raw, ok := top["metadata"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &env.Metadata); err != nil {
			return Envelope{}, schemaf(path, err, "metadata is malformed")
		}
	}
	raw, ok := top["records"]
	if !ok || isNull(raw) {
		return Envelope{}, schemaf(path, nil, "records object is missing")
	}
	if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '{' {
		return Envelope{}, schemaf(path, nil, "records must be a JSON object keyed by element id")
	}
	if err := json.Unmarshal(raw, &env.Records); err != nil {
		return Envelope{}, schemaf(path, err, "records object is malformed")
	}
	if raw, ok := top["diagnostics"]; ok && !isNull(raw) {
		env.Diagnostics = diag.NewReport()
		if err := json.Unmarshal(raw, env.Diagnostics); err != nil {
			return Envelope{}, schemaf(path, err, "diagnostics block is malformed")
		}
	}
	if env.Metadata.CategoryFilter == nil {
		env.Metadata.CategoryFilter = []string{}
	}
	return env, nil
}

// WriteEnvelope writes env atomically.
func WriteEnvelope(path string, env Envelope) error {
	if env.Records == nil {
		env.Records = map[string]json.RawMessage{}
	}
	return WriteArtifact(path, env)
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
