package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commandBody struct {
	Text   string `json:"text" validate:"required,max=20"`
	Module string `json:"module,omitempty" validate:"omitempty,oneof=academics finance hr"`
	Limit  int    `json:"limit" validate:"gte=0,lte=500"`
	ID     string `json:"actionLogId" validate:"omitempty,uuid"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name       string
		input      commandBody
		wantFields map[string]string
	}{
		{
			name:  "valid",
			input: commandBody{Text: "list courses", Module: "academics", Limit: 10},
		},
		{
			name:       "missing text",
			input:      commandBody{},
			wantFields: map[string]string{"text": "text is required"},
		},
		{
			name:       "text too long",
			input:      commandBody{Text: "flag every single student"},
			wantFields: map[string]string{"text": "text must be at most 20"},
		},
		{
			name:       "unknown module",
			input:      commandBody{Text: "x", Module: "sports"},
			wantFields: map[string]string{"module": "module must be one of: academics finance hr"},
		},
		{
			name:  "several failures",
			input: commandBody{Limit: 501, ID: "nope"},
			wantFields: map[string]string{
				"text":        "text is required",
				"limit":       "limit must be less than or equal to 500",
				"actionLogId": "actionLogId must be a valid UUID",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			if tt.wantFields == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Equal(t, "Validation failed", err.Error())
			assert.Equal(t, tt.wantFields, GetValidationFields(err))
		})
	}
}

func TestValidateStruct_NotAStruct(t *testing.T) {
	err := ValidateStruct("text")
	require.Error(t, err)
	assert.False(t, IsValidationError(err))
}

func TestGetValidationFields_OtherError(t *testing.T) {
	assert.Nil(t, GetValidationFields(errors.New("boom")))
	assert.False(t, IsValidationError(errors.New("boom")))
}

func TestParseUUID(t *testing.T) {
	id, err := ParseUUID("9b2f5c1e-3f0a-4b7e-8c61-2d4f0e9a7b13", "actionLogId")
	require.NoError(t, err)
	assert.Equal(t, "9b2f5c1e-3f0a-4b7e-8c61-2d4f0e9a7b13", id.String())

	_, err = ParseUUID("42", "actionLogId")
	assert.EqualError(t, err, "actionLogId must be a valid UUID")
}
