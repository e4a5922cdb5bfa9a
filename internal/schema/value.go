package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ValueKind discriminates the two admissible parameter value shapes.
type ValueKind uint8

const (
	KindInvalid ValueKind = iota
	KindNumber
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// ErrUnsupportedValue is returned when a parameter value is neither a JSON
// number nor a JSON string (objects, arrays, booleans).
var ErrUnsupportedValue = errors.New("unsupported parameter value")

// errNullValue marks a JSON null. Callers treat it as an absent parameter.
var errNullValue = errors.New("null parameter value")

// IsNull reports whether err came from decoding a JSON null.
func IsNull(err error) bool { return errors.Is(err, errNullValue) }

// Value is a parameter value: a float64 or a string, never both.
//
// The zero Value is invalid and fails to marshal.
type Value struct {
	kind ValueKind
	num  float64
	str  string
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Text returns a string Value.
func Text(s string) Value { return Value{kind: KindString, str: s} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsNumber() bool { return v.kind == KindNumber }

// Float returns the numeric payload and whether v is a number.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Str returns the string payload and whether v is a string.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Finite reports whether v is a string or a finite number.
func (v Value) Finite() bool {
	if v.kind != KindNumber {
		return v.kind == KindString
	}
	return !math.IsNaN(v.num) && !math.IsInf(v.num, 0)
}

// Equal is used by go-cmp and by round-trip checks.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	default:
		return true
	}
}

// String renders the value for CSV cells and messages.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	default:
		return "<invalid>"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if !v.Finite() {
			return nil, fmt.Errorf("%w: non-finite number %v", ErrUnsupportedValue, v.num)
		}
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	default:
		return nil, fmt.Errorf("%w: zero value", ErrUnsupportedValue)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", ErrUnsupportedValue)
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	case 'n':
		if string(data) == "null" {
			return errNullValue
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		*v = Number(f)
		return nil
	case '{':
		return fmt.Errorf("%w: nested object", ErrUnsupportedValue)
	case '[':
		return fmt.Errorf("%w: nested array", ErrUnsupportedValue)
	case 't', 'f':
		return fmt.Errorf("%w: boolean", ErrUnsupportedValue)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedValue, truncate(string(data), 32))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
