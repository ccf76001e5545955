package jsonrepair

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndFixAlreadyValid(t *testing.T) {
	res := ValidateAndFix(`{"a":1}`)
	assert.True(t, res.Valid)
	assert.Equal(t, `{"a":1}`, res.Fixed)
	assert.Empty(t, res.Suggestions)
}

func TestValidateAndFixTrailingComma(t *testing.T) {
	res := ValidateAndFix(`{"a":1,"b":2,}`)
	require.True(t, res.Valid)
	assert.True(t, json.Valid([]byte(res.Fixed)))
	assert.Contains(t, res.Suggestions, "remove-trailing-commas")
}

func TestValidateAndFixUnquotedKeys(t *testing.T) {
	res := ValidateAndFix(`{a:1, b:2}`)
	require.True(t, res.Valid)
	assert.True(t, json.Valid([]byte(res.Fixed)))
}

func TestValidateAndFixMissingClosers(t *testing.T) {
	res := ValidateAndFix(`{"a":[1,2,3`)
	require.True(t, res.Valid)
	assert.True(t, json.Valid([]byte(res.Fixed)))
}

func TestValidateAndFixUnterminatedString(t *testing.T) {
	res := ValidateAndFix(`{"a":"hello`)
	require.True(t, res.Valid)
	assert.True(t, json.Valid([]byte(res.Fixed)))
}

func TestValidateAndFixUnrepairableProducesSkeleton(t *testing.T) {
	res := ValidateAndFix(`not json at all {{{ [[[`)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Error)
	// The object-shaped skeleton is used since input (after trimming) does
	// not start with '[' and the repair pipeline gave up.
	assert.True(t, json.Valid([]byte(res.Fixed)) || res.Fixed == `"<content>"`)
}

func TestSafeTruncationPointArray(t *testing.T) {
	text := "[\n1,\n2,\n3,\n4,\n5\n]"
	pt := SafeTruncationPoint(text, 100)
	assert.True(t, pt.CanTruncate)
}

func TestSafeTruncationPointObject(t *testing.T) {
	text := `{"a":1,"b":2,"c":3}`
	pt := SafeTruncationPoint(text, 1000)
	assert.True(t, pt.CanTruncate)
}

func TestSafeTruncationPointRejectsNonContainer(t *testing.T) {
	pt := SafeTruncationPoint(`"just a string"`, 100)
	assert.False(t, pt.CanTruncate)
}

func TestSafeTruncationPointRejectsBadInput(t *testing.T) {
	pt := SafeTruncationPoint("", 100)
	assert.False(t, pt.CanTruncate)

	pt2 := SafeTruncationPoint("[1,2,3]", 0)
	assert.False(t, pt2.CanTruncate)
}
