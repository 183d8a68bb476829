package schemas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ScoreResponse(t *testing.T) {
	tests := []struct {
		name     string
		document string
		valid    bool
	}{
		{"valid with reasoning", `{"score": 7.5, "reasoning": "solid release notes"}`, true},
		{"valid score only", `{"score": 0}`, true},
		{"valid max score", `{"score": 10}`, true},
		{"score above range", `{"score": 11}`, false},
		{"score below range", `{"score": -1}`, false},
		{"score wrong type", `{"score": "7"}`, false},
		{"missing score", `{"reasoning": "no score"}`, false},
		{"extra field", `{"score": 5, "confidence": 0.9}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("score_response.json", []byte(tt.document))
			if tt.valid {
				assert.NoError(t, err)
			} else {
				var ve *ValidationError
				require.Error(t, err)
				assert.True(t, errors.As(err, &ve), "expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestValidate_CategoriesResponse(t *testing.T) {
	err := Validate("categories_response.json", []byte(`{"categories": ["ai", "engineering"]}`))
	assert.NoError(t, err)

	err = Validate("categories_response.json", []byte(`{"categories": []}`))
	assert.Error(t, err)

	err = Validate("categories_response.json", []byte(`{"categories": ["a", "b", "c", "d"]}`))
	assert.Error(t, err)
}

func TestValidate_UnknownSchema(t *testing.T) {
	err := Validate("missing.json", []byte(`{}`))
	require.Error(t, err)

	var le *SchemaLoadError
	assert.True(t, errors.As(err, &le), "expected *SchemaLoadError, got %T", err)
}

func TestValidationError_Message(t *testing.T) {
	err := Validate("score_response.json", []byte(`{"score": 42}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, err.Error(), "score")
}
