package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToNativeType(t *testing.T) {
	assert.Equal(t, "text", ToNativeType(TypeString))
	assert.Equal(t, "integer", ToNativeType(TypeInt))
	assert.Equal(t, "double precision", ToNativeType(TypeFloat))
	assert.Equal(t, "date", ToNativeType(TypeDate))
	assert.Equal(t, "time without time zone", ToNativeType(TypeTime))
	assert.Equal(t, "timestamp without time zone", ToNativeType(TypeDateTime))
	assert.Equal(t, "boolean", ToNativeType(TypeBoolean))
	assert.Equal(t, "", ToNativeType("Json"))
}

func TestToSemanticTypeRoundTrip(t *testing.T) {
	for _, semantic := range []string{TypeString, TypeInt, TypeFloat, TypeDate, TypeTime, TypeDateTime, TypeBoolean} {
		assert.Equal(t, semantic, ToSemanticType(ToNativeType(semantic)))
	}
	assert.Equal(t, "", ToSemanticType("jsonb"))
}

func TestToFieldTypeHeuristics(t *testing.T) {
	// date/time/character-like natives collapse to String
	assert.Equal(t, TypeString, ToFieldType("character varying"))
	assert.Equal(t, TypeString, ToFieldType("timestamp with time zone"))
	assert.Equal(t, TypeString, ToFieldType("date"))
	assert.Equal(t, TypeString, ToFieldType("time without time zone"))
	// big integers collapse to Int
	assert.Equal(t, TypeInt, ToFieldType("bigint"))
	// everything else goes through the fixed table
	assert.Equal(t, TypeInt, ToFieldType("integer"))
	assert.Equal(t, TypeBoolean, ToFieldType("boolean"))
	assert.Equal(t, TypeFloat, ToFieldType("double precision"))
	assert.Equal(t, "", ToFieldType("jsonb"))
}
