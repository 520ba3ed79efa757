package fieldmap

import "strings"

// Transformation is the closed set of automatic type conversions the pipeline
// knows how to apply. Anything outside this set requires a manual mapping.
type Transformation string

const (
	TransformToNumber    Transformation = "to_number"
	TransformToString    Transformation = "to_string"
	TransformToBoolean   Transformation = "to_boolean"
	TransformToDate      Transformation = "to_date"
	TransformToTimestamp Transformation = "to_timestamp"
)

// ParseTransformation maps a stored mapping-row value back to a known
// transformation. Unknown values are rejected rather than ignored, since a
// typo in a mapping row must not silently become a no-op.
func ParseTransformation(v string) (Transformation, bool) {
	switch Transformation(strings.TrimSpace(v)) {
	case TransformToNumber:
		return TransformToNumber, true
	case TransformToString:
		return TransformToString, true
	case TransformToBoolean:
		return TransformToBoolean, true
	case TransformToDate:
		return TransformToDate, true
	case TransformToTimestamp:
		return TransformToTimestamp, true
	}
	return "", false
}

type typeFamily string

const (
	familyInteger   typeFamily = "integer"
	familyDecimal   typeFamily = "decimal"
	familyText      typeFamily = "text"
	familyBoolean   typeFamily = "boolean"
	familyDate      typeFamily = "date"
	familyTimestamp typeFamily = "timestamp"
	familyJSON      typeFamily = "json"
	familyUnknown   typeFamily = "unknown"
)

var typeFamilies = map[string]typeFamily{
	"int":       familyInteger,
	"integer":   familyInteger,
	"bigint":    familyInteger,
	"smallint":  familyInteger,
	"mediumint": familyInteger,
	"serial":    familyInteger,

	"decimal": familyDecimal,
	"numeric": familyDecimal,
	"float":   familyDecimal,
	"double":  familyDecimal,
	"real":    familyDecimal,
	"money":   familyDecimal,

	"varchar":    familyText,
	"char":       familyText,
	"text":       familyText,
	"tinytext":   familyText,
	"mediumtext": familyText,
	"longtext":   familyText,
	"string":     familyText,
	"uuid":       familyText,
	"enum":       familyText,

	"bool":    familyBoolean,
	"boolean": familyBoolean,

	"date": familyDate,

	"datetime":    familyTimestamp,
	"timestamp":   familyTimestamp,
	"timestamptz": familyTimestamp,

	"json":  familyJSON,
	"jsonb": familyJSON,
}

// normalizeTypeName strips the size/precision suffix and lower-cases, so
// "VARCHAR(255)" and "varchar" land on the same family. MySQL's tinyint(1)
// convention is kept as boolean.
func normalizeTypeName(t string) string {
	s := strings.ToLower(strings.TrimSpace(t))
	if s == "tinyint(1)" {
		return "boolean"
	}
	if idx := strings.IndexByte(s, '('); idx > 0 {
		s = s[:idx]
	}
	if s == "tinyint" {
		return "boolean"
	}
	return s
}

func familyOf(t string) typeFamily {
	if f, ok := typeFamilies[normalizeTypeName(t)]; ok {
		return f
	}
	return familyUnknown
}

// AreTypesCompatible reports whether values of t1 can be stored as t2 without
// transformation. Symmetric; identical types are always compatible. The
// integer and decimal families are mutually compatible (one numeric family).
func AreTypesCompatible(t1, t2 string) bool {
	if normalizeTypeName(t1) == normalizeTypeName(t2) {
		return true
	}
	f1 := familyOf(t1)
	f2 := familyOf(t2)
	if f1 == familyUnknown || f2 == familyUnknown {
		return false
	}
	if f1 == f2 {
		return true
	}
	if (f1 == familyInteger && f2 == familyDecimal) || (f1 == familyDecimal && f2 == familyInteger) {
		return true
	}
	return false
}

// transformTable keys on (source family, target family). Absence means no
// automatic conversion exists and the mapping needs manual handling.
var transformTable = map[[2]typeFamily]Transformation{
	{familyText, familyInteger}:      TransformToNumber,
	{familyText, familyDecimal}:      TransformToNumber,
	{familyBoolean, familyInteger}:   TransformToNumber,
	{familyInteger, familyText}:      TransformToString,
	{familyDecimal, familyText}:      TransformToString,
	{familyBoolean, familyText}:      TransformToString,
	{familyDate, familyText}:         TransformToString,
	{familyTimestamp, familyText}:    TransformToString,
	{familyJSON, familyText}:         TransformToString,
	{familyText, familyBoolean}:      TransformToBoolean,
	{familyInteger, familyBoolean}:   TransformToBoolean,
	{familyText, familyDate}:         TransformToDate,
	{familyTimestamp, familyDate}:    TransformToDate,
	{familyText, familyTimestamp}:    TransformToTimestamp,
	{familyDate, familyTimestamp}:    TransformToTimestamp,
}

// SuggestTransformation returns the conversion to apply when writing a
// sourceType value into a targetType column. ok=false with already-compatible
// types means "nothing to do"; ok=false with incompatible types means the
// pair is unsupported and the caller must treat the mapping as manual.
func SuggestTransformation(sourceType, targetType string) (Transformation, bool) {
	if AreTypesCompatible(sourceType, targetType) {
		return "", false
	}
	t, ok := transformTable[[2]typeFamily{familyOf(sourceType), familyOf(targetType)}]
	return t, ok
}
