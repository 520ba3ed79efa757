package fieldmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ValueKind tags one payload value. Payloads arrive as JSON field bags; each
// value is classified into a known kind at the boundary instead of being
// passed around untyped.
type ValueKind string

const (
	KindNull      ValueKind = "null"
	KindString    ValueKind = "string"
	KindNumber    ValueKind = "number"
	KindBool      ValueKind = "bool"
	KindTimestamp ValueKind = "timestamp"
)

// FieldValue is the tagged union of payload value kinds.
type FieldValue struct {
	Kind ValueKind
	Str  string
	Num  decimal.Decimal
	Bool bool
	Time time.Time
}

func NullValue() FieldValue              { return FieldValue{Kind: KindNull} }
func StringValue(s string) FieldValue    { return FieldValue{Kind: KindString, Str: s} }
func BoolValue(b bool) FieldValue        { return FieldValue{Kind: KindBool, Bool: b} }
func NumberValue(d decimal.Decimal) FieldValue {
	return FieldValue{Kind: KindNumber, Num: d}
}
func TimestampValue(t time.Time) FieldValue {
	return FieldValue{Kind: KindTimestamp, Time: t}
}

// timestampLayouts are the formats payload timestamps arrive in. RFC3339 is
// what our own producers write; the rest cover upstream CRM exports.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DecodePayload decodes a JSON field bag into tagged values. Strings that
// parse as timestamps become KindTimestamp; numbers keep full precision via
// decimal. Nested objects/arrays are rejected: change-event payloads are flat
// field snapshots by contract.
func DecodePayload(raw []byte) (map[string]FieldValue, error) {
	if len(raw) == 0 {
		return map[string]FieldValue{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var bag map[string]interface{}
	if err := dec.Decode(&bag); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}

	out := make(map[string]FieldValue, len(bag))
	for field, v := range bag {
		fv, err := classifyValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		out[field] = fv
	}
	return out, nil
}

func classifyValue(v interface{}) (FieldValue, error) {
	switch val := v.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(val), nil
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return FieldValue{}, fmt.Errorf("invalid number %q", val.String())
		}
		return NumberValue(d), nil
	case string:
		if t, ok := parseTimestamp(val); ok {
			return TimestampValue(t), nil
		}
		return StringValue(val), nil
	default:
		return FieldValue{}, fmt.Errorf("unsupported value type %T (payloads must be flat)", v)
	}
}

// ApplyTransformation converts a value per the closed transformation set.
// Null passes through every transform unchanged. A value that cannot be
// converted is a permanent validation failure for its record.
func ApplyTransformation(v FieldValue, t Transformation) (FieldValue, error) {
	if v.Kind == KindNull {
		return v, nil
	}

	switch t {
	case TransformToNumber:
		switch v.Kind {
		case KindNumber:
			return v, nil
		case KindString:
			d, err := decimal.NewFromString(v.Str)
			if err != nil {
				return FieldValue{}, fmt.Errorf("cannot convert %q to number", v.Str)
			}
			return NumberValue(d), nil
		case KindBool:
			if v.Bool {
				return NumberValue(decimal.NewFromInt(1)), nil
			}
			return NumberValue(decimal.Zero), nil
		}

	case TransformToString:
		switch v.Kind {
		case KindString:
			return v, nil
		case KindNumber:
			return StringValue(v.Num.String()), nil
		case KindBool:
			if v.Bool {
				return StringValue("true"), nil
			}
			return StringValue("false"), nil
		case KindTimestamp:
			return StringValue(v.Time.UTC().Format(time.RFC3339)), nil
		}

	case TransformToBoolean:
		switch v.Kind {
		case KindBool:
			return v, nil
		case KindNumber:
			return BoolValue(!v.Num.IsZero()), nil
		case KindString:
			switch v.Str {
			case "true", "1", "yes", "y", "sim":
				return BoolValue(true), nil
			case "false", "0", "no", "n", "nao", "não", "":
				return BoolValue(false), nil
			}
			return FieldValue{}, fmt.Errorf("cannot convert %q to boolean", v.Str)
		}

	case TransformToDate:
		switch v.Kind {
		case KindTimestamp:
			return TimestampValue(v.Time.Truncate(24 * time.Hour)), nil
		case KindString:
			if t, ok := parseTimestamp(v.Str); ok {
				return TimestampValue(t.Truncate(24 * time.Hour)), nil
			}
			return FieldValue{}, fmt.Errorf("cannot convert %q to date", v.Str)
		}

	case TransformToTimestamp:
		switch v.Kind {
		case KindTimestamp:
			return v, nil
		case KindString:
			if t, ok := parseTimestamp(v.Str); ok {
				return TimestampValue(t), nil
			}
			return FieldValue{}, fmt.Errorf("cannot convert %q to timestamp", v.Str)
		}
	}

	return FieldValue{}, fmt.Errorf("transformation %q does not apply to %s value", t, v.Kind)
}

// SQLValue renders the tagged value as a driver-friendly Go value for a
// column write.
func (v FieldValue) SQLValue() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindTimestamp:
		return v.Time
	}
	return nil
}

// MatchesType reports whether the value kind fits a column type without any
// transformation, per the type family table. Used to validate payloads at the
// boundary before they are assumed correct downstream.
func (v FieldValue) MatchesType(columnType string) bool {
	if v.Kind == KindNull {
		return true
	}
	switch familyOf(columnType) {
	case familyText, familyJSON:
		return v.Kind == KindString || v.Kind == KindTimestamp
	case familyInteger, familyDecimal:
		return v.Kind == KindNumber
	case familyBoolean:
		return v.Kind == KindBool
	case familyDate, familyTimestamp:
		return v.Kind == KindTimestamp
	}
	return false
}
