// Package datatypes maps between the semantic field types of the generated
// operation surface and native PostgreSQL column types.
package datatypes

import "regexp"

// Semantic type names as they appear in the generated type definitions.
const (
	TypeString   = "String"
	TypeInt      = "Int"
	TypeFloat    = "Float"
	TypeDate     = "Date"
	TypeTime     = "Time"
	TypeDateTime = "DateTime"
	TypeBoolean  = "Boolean"
)

var typesMap = map[string]string{
	TypeString:   "text",
	TypeInt:      "integer",
	TypeFloat:    "double precision",
	TypeDate:     "date",
	TypeTime:     "time without time zone",
	TypeDateTime: "timestamp without time zone",
	TypeBoolean:  "boolean",
}

var characterLike = regexp.MustCompile(`date|time|character`)
var bigIntegerLike = regexp.MustCompile(`bigint`)

// ToNativeType returns the native column type for a semantic type. It is
// total over the semantic type set; an unknown semantic type returns the
// empty string and is a caller bug.
func ToNativeType(semantic string) string {
	return typesMap[semantic]
}

// ToSemanticType is the inverse of ToNativeType. It returns the empty string
// for natives outside the fixed table.
func ToSemanticType(native string) string {
	for semantic, n := range typesMap {
		if n == native {
			return semantic
		}
	}
	return ""
}

// ToFieldType classifies an arbitrary native column type into a semantic
// field type. Date, time, and character-like natives collapse to String and
// big integers to Int; everything else falls back to the fixed table.
func ToFieldType(native string) string {
	if characterLike.MatchString(native) {
		return TypeString
	}
	if bigIntegerLike.MatchString(native) {
		return TypeInt
	}
	return ToSemanticType(native)
}
