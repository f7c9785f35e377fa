package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OpKind is the kind of operation a command asks for
type OpKind string

const (
	OpRead    OpKind = "READ"
	OpCreate  OpKind = "CREATE"
	OpUpdate  OpKind = "UPDATE"
	OpDelete  OpKind = "DELETE"
	OpAnalyze OpKind = "ANALYZE"
)

// AllOpKinds lists every operation kind in a stable order
var AllOpKinds = []OpKind{OpRead, OpCreate, OpUpdate, OpDelete, OpAnalyze}

// ParseOpKind parses an operation kind case-insensitively
func ParseOpKind(s string) (OpKind, bool) {
	op := OpKind(strings.ToUpper(strings.TrimSpace(s)))
	for _, k := range AllOpKinds {
		if k == op {
			return k, true
		}
	}
	return "", false
}

// IsMutation reports whether the operation changes stored rows
func (o OpKind) IsMutation() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete
}

// Operator is a filter comparison operator
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
)

// operatorAliases maps the spellings accepted from extractors to operators
var operatorAliases = map[string]Operator{
	"eq": OpEq, "=": OpEq, "==": OpEq, "equals": OpEq, "is": OpEq,
	"ne": OpNe, "!=": OpNe, "<>": OpNe, "not": OpNe,
	"lt": OpLt, "<": OpLt, "below": OpLt, "under": OpLt, "less than": OpLt,
	"lte": OpLte, "<=": OpLte, "at most": OpLte,
	"gt": OpGt, ">": OpGt, "above": OpGt, "over": OpGt, "greater than": OpGt, "more than": OpGt,
	"gte": OpGte, ">=": OpGte, "at least": OpGte,
	"in": OpIn,
	"contains": OpContains, "like": OpContains,
}

// ParseOperator resolves an operator spelling
func ParseOperator(s string) (Operator, bool) {
	op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(s))]
	return op, ok
}

// Filter is a typed predicate on one field
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Row is the field-level state of one stored record, keyed by column name
type Row map[string]any

// ID returns the row's primary key as int64
func (r Row) ID() (int64, bool) {
	switch v := r["id"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Clone returns a shallow copy of the row
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Role is the caller's application role
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleFaculty Role = "faculty"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleFaculty, RoleStudent:
		return true
	}
	return false
}

// Identity is the verified caller triple supplied by authentication
type Identity struct {
	UserID       string `json:"userId"`
	Role         Role   `json:"role"`
	DepartmentID *int64 `json:"departmentId,omitempty"`
}

// IsAdmin reports whether the identity has the admin role
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// RawFilter is an unvalidated filter expression from an extractor
type RawFilter struct {
	Field    string `json:"field"`
	Operator string `json:"op"`
	Value    any    `json:"value"`
}

// RawIntent is the unvalidated output of language understanding
type RawIntent struct {
	Entity     string         `json:"entity"`
	Operation  string         `json:"operation"`
	Filters    []RawFilter    `json:"filters"`
	Values     map[string]any `json:"values"`
	Confidence float64        `json:"confidence"`
	Question   string         `json:"question,omitempty"`
	Source     string         `json:"source"`
}

// Plan is the validated executable representation of a command
type Plan struct {
	ID          uuid.UUID      `json:"id"`
	Text        string         `json:"text"`
	Module      string         `json:"module,omitempty"`
	Entity      string         `json:"entity"`
	Operation   OpKind         `json:"operation"`
	Filters     []Filter       `json:"filters"`
	Values      map[string]any `json:"values,omitempty"`
	Identity    Identity       `json:"identity"`
	ScopeDeptID *int64         `json:"scopeDepartmentId,omitempty"`
	// Restore holds exact row images for compensating plans built by rollback.
	Restore   []Row     `json:"restore,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewPlan creates a new Plan for the given identity
func NewPlan(text, module string, identity Identity) *Plan {
	return &Plan{
		ID:        uuid.New(),
		Text:      text,
		Module:    module,
		Identity:  identity,
		Values:    make(map[string]any),
		CreatedAt: time.Now().UTC(),
	}
}

// HasFilter reports whether the plan carries field op value
func (p *Plan) HasFilter(field string, op Operator, value any) bool {
	for _, f := range p.Filters {
		if f.Field == field && f.Operator == op && sameScalar(f.Value, value) {
			return true
		}
	}
	return false
}

// ChangedFields returns the value fields in a stable order
func (p *Plan) ChangedFields() []string {
	fields := make([]string, 0, len(p.Values))
	for k := range p.Values {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func sameScalar(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
