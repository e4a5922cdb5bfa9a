// Package trace records the logical course of a pipeline run: which stages
// ran, which succeeded, where the run stopped and which stages never ran.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// RunTrace is the canonical record of one pipeline run.
//
// It carries logical transitions only. No timestamps, durations, absolute
// paths or error text, so two runs over the same input that take the same
// path produce byte-identical traces.
type RunTrace struct {
	InputDigest string
	Events      []Event
}

// EventKind is the stable discriminator of an Event. The string values are
// part of the canonical bytes; do not rename.
type EventKind string

const (
	EventPreflightPassed EventKind = "PreflightPassed"
	EventPreflightFailed EventKind = "PreflightFailed"
	EventStageSucceeded  EventKind = "StageSucceeded"
	EventStageFailed     EventKind = "StageFailed"
	EventStageTimedOut   EventKind = "StageTimedOut"
	EventStageNotRun     EventKind = "StageNotRun"
)

// Event is a single logical transition. Stage is 0 for pre-flight events.
//
// Reason is a stable code such as "ExitCode2", "MalformedMarker" or
// "UpstreamFailed". Artifact is the base name of the file a stage produced.
type Event struct {
	Kind     EventKind
	Stage    int
	Reason   string
	Artifact string
}

// Validate checks basic invariants and returns a descriptive error.
func (t *RunTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.InputDigest == "" {
		return errors.New("inputDigest is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if isStageEvent(e.Kind) && (e.Stage < 1 || e.Stage > 5) {
			return fmt.Errorf("events[%d].stage %d out of range for kind %q", i, e.Stage, e.Kind)
		}
	}
	return nil
}

func isStageEvent(kind EventKind) bool {
	switch kind {
	case EventPreflightPassed, EventPreflightFailed:
		return false
	}
	return true
}

// Canonicalize sorts events by (stage, kind, reason, artifact).
func (t *RunTrace) Canonicalize() {
	if t == nil {
		return
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return a.Artifact < b.Artifact
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventPreflightPassed:
		return 10
	case EventPreflightFailed:
		return 20
	case EventStageSucceeded:
		return 30
	case EventStageFailed:
		return 40
	case EventStageTimedOut:
		return 50
	case EventStageNotRun:
		return 60
	default:
		return 1000
	}
}

// CanonicalJSON returns the canonical JSON encoding of a sorted copy of t.
func (t RunTrace) CanonicalJSON() ([]byte, error) {
	c := RunTrace{InputDigest: t.InputDigest, Events: make([]Event, len(t.Events))}
	copy(c.Events, t.Events)
	c.Canonicalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&c)
}

// Hash returns the sha256 hex digest of the canonical JSON bytes.
func (t RunTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeHash(b), nil
}

// MarshalJSON fixes field order.
func (t RunTrace) MarshalJSON() ([]byte, error) {
	if t.InputDigest == "" {
		return nil, errors.New("inputDigest is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"inputDigest":`)
	d, _ := json.Marshal(t.InputDigest)
	buf.Write(d)
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (t *RunTrace) UnmarshalJSON(data []byte) error {
	var doc struct {
		InputDigest string  `json:"inputDigest"`
		Events      []Event `json:"events"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	t.InputDigest = doc.InputDigest
	t.Events = doc.Events
	return nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)
	if e.Stage != 0 {
		fmt.Fprintf(&buf, `,"stage":%d`, e.Stage)
	}
	if e.Reason != "" {
		buf.WriteString(`,"reason":`)
		rb, _ := json.Marshal(e.Reason)
		buf.Write(rb)
	}
	if e.Artifact != "" {
		buf.WriteString(`,"artifact":`)
		ab, _ := json.Marshal(e.Artifact)
		buf.Write(ab)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var doc struct {
		Kind     EventKind `json:"kind"`
		Stage    int       `json:"stage"`
		Reason   string    `json:"reason"`
		Artifact string    `json:"artifact"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*e = Event(doc)
	return nil
}
