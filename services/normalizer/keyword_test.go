package normalizer

import (
	"context"
	"testing"

	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordExtractor_Extract(t *testing.T) {
	k := NewKeywordExtractor(schema.Default())

	tests := []struct {
		name       string
		text       string
		module     string
		entity     string
		operation  models.OpKind
		filters    []models.RawFilter
		values     map[string]any
		confidence float64
	}{
		{
			name:      "flag at-risk students",
			text:      "Flag students in semester 3 with CGPA below 7 as at-risk",
			entity:    "student",
			operation: models.OpUpdate,
			filters: []models.RawFilter{
				{Field: "semester", Operator: "eq", Value: int64(3)},
				{Field: "cgpa", Operator: "lt", Value: int64(7)},
			},
			values:     map[string]any{"at_risk": true},
			confidence: 0.95,
		},
		{
			name:       "read with bare field value",
			text:       "list courses in semester 5",
			entity:     "course",
			operation:  models.OpRead,
			filters:    []models.RawFilter{{Field: "semester", Operator: "eq", Value: int64(5)}},
			values:     map[string]any{},
			confidence: 0.95,
		},
		{
			name:       "analyze with foreign key shorthand",
			text:       "how many attendance records for student 12",
			entity:     "attendance",
			operation:  models.OpAnalyze,
			filters:    []models.RawFilter{{Field: "student_id", Operator: "eq", Value: int64(12)}},
			values:     map[string]any{},
			confidence: 0.95,
		},
		{
			name:      "create with quoted and bare values",
			text:      "create course with code CS501, name 'Compilers', department 2, semester 5",
			entity:    "course",
			operation: models.OpCreate,
			values: map[string]any{
				"code":          "CS501",
				"name":          "Compilers",
				"department_id": int64(2),
				"semester":      int64(5),
			},
			confidence: 0.95,
		},
		{
			name:       "delete with quoted string",
			text:       `delete payments where status is "failed"`,
			entity:     "payment",
			operation:  models.OpDelete,
			filters:    []models.RawFilter{{Field: "status", Operator: "eq", Value: "failed"}},
			values:     map[string]any{},
			confidence: 0.95,
		},
		{
			name:       "in list",
			text:       "show students with id in (1, 2, 3)",
			entity:     "student",
			operation:  models.OpRead,
			filters:    []models.RawFilter{{Field: "id", Operator: "in", Value: []any{int64(1), int64(2), int64(3)}}},
			values:     map[string]any{},
			confidence: 0.95,
		},
		{
			name:      "set assignment with filter",
			text:      "update student with roll number CSE001 set section to 'B'",
			entity:    "student",
			operation: models.OpUpdate,
			filters:   []models.RawFilter{{Field: "roll_number", Operator: "eq", Value: "CSE001"}},
			values:    map[string]any{"section": "B"},
			confidence: 0.95,
		},
		{
			name:      "bare flag filter",
			text:      "show at-risk students in semester 3",
			entity:    "student",
			operation: models.OpRead,
			filters: []models.RawFilter{
				{Field: "semester", Operator: "eq", Value: int64(3)},
				{Field: "at_risk", Operator: "eq", Value: true},
			},
			values:     map[string]any{},
			confidence: 0.95,
		},
		{
			name:      "comparison words and symbols",
			text:      "find invoices with amount due at least 5000 and due date < 2024-06-30",
			entity:    "invoice",
			operation: models.OpRead,
			filters: []models.RawFilter{
				{Field: "amount_due", Operator: "gte", Value: int64(5000)},
				{Field: "due_date", Operator: "lt", Value: "2024-06-30"},
			},
			values:     map[string]any{},
			confidence: 0.95,
		},
		{
			name:      "inclusive range",
			text:      "Flag students in semester 3 with CGPA between 6 and 7 as at-risk",
			entity:    "student",
			operation: models.OpUpdate,
			filters: []models.RawFilter{
				{Field: "semester", Operator: "eq", Value: int64(3)},
				{Field: "cgpa", Operator: "gte", Value: int64(6)},
				{Field: "cgpa", Operator: "lte", Value: int64(7)},
			},
			values:     map[string]any{"at_risk": true},
			confidence: 0.95,
		},
		{
			name:      "of at least",
			text:      "Flag students in semester 3 with CGPA of at least 7 as at-risk",
			entity:    "student",
			operation: models.OpUpdate,
			filters: []models.RawFilter{
				{Field: "semester", Operator: "eq", Value: int64(3)},
				{Field: "cgpa", Operator: "gte", Value: int64(7)},
			},
			values:     map[string]any{"at_risk": true},
			confidence: 0.95,
		},
		{
			name:      "no more than",
			text:      "Flag students in semester 3 with CGPA no more than 6 as at-risk",
			entity:    "student",
			operation: models.OpUpdate,
			filters: []models.RawFilter{
				{Field: "semester", Operator: "eq", Value: int64(3)},
				{Field: "cgpa", Operator: "lte", Value: int64(6)},
			},
			values:     map[string]any{"at_risk": true},
			confidence: 0.95,
		},
		{
			name:      "negated comparison",
			text:      "Flag students in semester 3 whose CGPA is not above 6 as at-risk",
			entity:    "student",
			operation: models.OpUpdate,
			filters: []models.RawFilter{
				{Field: "semester", Operator: "eq", Value: int64(3)},
				{Field: "cgpa", Operator: "lte", Value: int64(6)},
			},
			values:     map[string]any{"at_risk": true},
			confidence: 0.95,
		},
		{
			name:       "alias resolves entity",
			text:       "show salaries for employee 4",
			entity:     "salary_record",
			operation:  models.OpRead,
			filters:    []models.RawFilter{{Field: "employee_id", Operator: "eq", Value: int64(4)}},
			values:     map[string]any{},
			confidence: 0.95,
		},
		{
			name:       "delete without filters is ambiguous",
			text:       "delete students",
			entity:     "student",
			operation:  models.OpDelete,
			values:     map[string]any{},
			confidence: 0.6,
		},
		{
			name:       "no verb defaults to read",
			text:       "students",
			entity:     "student",
			operation:  models.OpRead,
			values:     map[string]any{},
			confidence: 0.7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := k.Extract(context.Background(), ExtractRequest{Text: tt.text, Module: tt.module})
			require.NoError(t, err)
			assert.Equal(t, tt.entity, raw.Entity)
			assert.Equal(t, string(tt.operation), raw.Operation)
			assert.ElementsMatch(t, tt.filters, raw.Filters)
			assert.Equal(t, tt.values, raw.Values)
			assert.InDelta(t, tt.confidence, raw.Confidence, 1e-9)
			assert.Equal(t, "keyword", raw.Source)
		})
	}
}

func TestKeywordExtractor_AmbiguityAsksQuestion(t *testing.T) {
	raw, err := NewKeywordExtractor(schema.Default()).Extract(context.Background(), ExtractRequest{Text: "update courses"})
	require.NoError(t, err)
	assert.Contains(t, raw.Question, "Which course records")
	assert.Contains(t, raw.Question, "Which values")
	assert.Less(t, raw.Confidence, DefaultConfidenceThreshold)
}

func TestKeywordExtractor_UnreadableCondition(t *testing.T) {
	k := NewKeywordExtractor(schema.Default())

	tests := []struct {
		name  string
		text  string
		field string
	}{
		{"number word", "Flag students in semester 3 with CGPA below seven as at-risk", "cgpa"},
		{"range of words", "Flag students in semester 3 with CGPA between six and seven as at-risk", "cgpa"},
		{"vague value", "delete payments where amount is large", "amount"},
		{"read keeps asking", "show students with cgpa between 6 and high", "cgpa"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := k.Extract(context.Background(), ExtractRequest{Text: tt.text})
			require.NoError(t, err)
			assert.Zero(t, raw.Confidence)
			assert.Contains(t, raw.Question, "condition on "+tt.field)
		})
	}
}

func TestKeywordExtractor_AnalyzeMayNameFields(t *testing.T) {
	raw, err := NewKeywordExtractor(schema.Default()).Extract(context.Background(),
		ExtractRequest{Text: "average cgpa of students in semester 3"})
	require.NoError(t, err)
	assert.Equal(t, string(models.OpAnalyze), raw.Operation)
	assert.Greater(t, raw.Confidence, DefaultConfidenceThreshold)
}

func TestKeywordExtractor_ParseFailure(t *testing.T) {
	k := NewKeywordExtractor(schema.Default())

	tests := []struct {
		name   string
		text   string
		module string
	}{
		{"no entity", "reticulate the splines", ""},
		{"entity outside module hint", "list departments", "finance"},
		{"entity only inside quotes", `find "students"`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := k.Extract(context.Background(), ExtractRequest{Text: tt.text, Module: tt.module})
			require.Error(t, err)
			assert.Equal(t, services.ErrorTypeParseFailure, services.GetErrorType(err))
		})
	}
}

func TestKeywordExtractor_QuotedVerbIsIgnored(t *testing.T) {
	raw, err := NewKeywordExtractor(schema.Default()).Extract(context.Background(),
		ExtractRequest{Text: `show courses named "New Horizons"`})
	require.NoError(t, err)
	assert.Equal(t, string(models.OpRead), raw.Operation)
}
