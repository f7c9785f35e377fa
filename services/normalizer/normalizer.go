// Package normalizer converts free-text commands into validated plans. The
// language understanding step is untrusted; every intent it yields is
// resolved against the schema registry before a Plan exists.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/campusiq/opsgovernor/internal/predicate"
	"github.com/campusiq/opsgovernor/internal/prompt"
	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/services"
	"go.uber.org/zap"
)

// DefaultConfidenceThreshold is the lowest confidence accepted without
// clarification
const DefaultConfidenceThreshold = 0.75

var ambiguousQualifier = regexp.MustCompile(`(?i)(?:\b(?:around|about|approximately|approx|roughly|nearly|circa)\s*~?\s*|~\s*)-?\d`)

// Config tunes the normalizer
type Config struct {
	ConfidenceThreshold float64
	ScopeLimitedRoles   []models.Role
}

// DefaultConfig returns the campus defaults
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		ScopeLimitedRoles:   []models.Role{models.RoleStudent, models.RoleFaculty},
	}
}

// Request is one command to normalize
type Request struct {
	Text     string
	Module   string
	Identity models.Identity
}

// Normalizer builds plans from text
type Normalizer struct {
	extractor Extractor
	registry  *schema.Registry
	config    Config
	scoped    map[models.Role]bool
	logger    *zap.Logger
}

// NewNormalizer creates a normalizer
func NewNormalizer(extractor Extractor, registry *schema.Registry, config Config, logger *zap.Logger) *Normalizer {
	scoped := make(map[models.Role]bool, len(config.ScopeLimitedRoles))
	for _, r := range config.ScopeLimitedRoles {
		scoped[r] = true
	}
	return &Normalizer{
		extractor: extractor,
		registry:  registry,
		config:    config,
		scoped:    scoped,
		logger:    logger,
	}
}

// Normalize interprets req.Text. On failures after extraction the partial
// plan is returned together with the error.
func (n *Normalizer) Normalize(ctx context.Context, req Request) (*models.Plan, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, services.NewDomainError(services.ErrorTypeParseFailure, "command is empty", nil)
	}
	if found := prompt.DetectSecrets(text); len(found) > 0 {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "command contains a credential and was not processed", nil).
			WithDetail("secretType", string(found[0].Type))
	}

	raw, err := n.extractor.Extract(ctx, ExtractRequest{Text: text, Module: req.Module})
	if err != nil {
		if services.GetErrorType(err) == services.ErrorTypeParseFailure {
			return nil, err
		}
		return nil, services.NewDomainError(services.ErrorTypeParseFailure, "command could not be interpreted", err)
	}

	plan := models.NewPlan(text, req.Module, req.Identity)
	plan.Entity = raw.Entity
	if op, ok := models.ParseOpKind(raw.Operation); ok {
		plan.Operation = op
	}

	n.logger.Debug("intent extracted",
		zap.String("plan_id", plan.ID.String()),
		zap.String("source", raw.Source),
		zap.String("entity", raw.Entity),
		zap.String("operation", raw.Operation),
		zap.Float64("confidence", raw.Confidence))

	if m := ambiguousQualifier.FindString(text); m != "" {
		return plan, clarification(raw, fmt.Sprintf("%q is not an exact value. Which number did you mean?", strings.TrimSpace(m)))
	}
	if raw.Confidence < n.config.ConfidenceThreshold {
		question := raw.Question
		if question == "" {
			question = "Could you rephrase the command more precisely?"
		}
		return plan, clarification(raw, question)
	}

	if err := n.resolve(plan, raw); err != nil {
		return plan, err
	}
	if err := checkShape(plan); err != nil {
		return plan, err
	}
	if err := n.ApplyScope(plan); err != nil {
		return plan, err
	}
	return plan, nil
}

func clarification(raw *models.RawIntent, question string) error {
	return services.NewDomainError(services.ErrorTypeLowConfidence, "command needs clarification", nil).
		WithDetail("question", question).
		WithDetail("interpretation", raw).
		WithDetail("confidence", raw.Confidence)
}

func schemaViolation(format string, args ...any) *services.DomainError {
	return services.NewDomainError(services.ErrorTypeSchemaViolation, fmt.Sprintf(format, args...), nil)
}

// resolve maps the raw intent onto registry names and canonical values
func (n *Normalizer) resolve(plan *models.Plan, raw *models.RawIntent) error {
	entity, ok := n.registry.Resolve(raw.Entity)
	if !ok {
		return schemaViolation("unknown record type %q", raw.Entity)
	}
	plan.Entity = entity.Name

	op, ok := models.ParseOpKind(raw.Operation)
	if !ok {
		return schemaViolation("unknown operation %q", raw.Operation)
	}
	plan.Operation = op

	filters := make([]models.Filter, 0, len(raw.Filters))
	for _, rf := range raw.Filters {
		field, ok := entity.Field(rf.Field)
		if !ok {
			return schemaViolation("%s has no field %q", entity.Name, rf.Field).WithDetail("field", rf.Field)
		}
		operator, ok := models.ParseOperator(rf.Operator)
		if !ok {
			return schemaViolation("unknown operator %q", rf.Operator).WithDetail("field", field.Name)
		}
		if !field.Allows(operator) {
			return schemaViolation("operator %s is not allowed on %s.%s", operator, entity.Name, field.Name).
				WithDetail("field", field.Name)
		}
		value, err := field.Coerce(operator, rf.Value)
		if err != nil {
			return services.NewDomainError(services.ErrorTypeSchemaViolation, err.Error(), err).WithDetail("field", field.Name)
		}
		filters = append(filters, models.Filter{Field: field.Name, Operator: operator, Value: value})
	}
	plan.Filters = filters

	values := make(map[string]any, len(raw.Values))
	for name, v := range raw.Values {
		field, ok := entity.Field(name)
		if !ok {
			return schemaViolation("%s has no field %q", entity.Name, name).WithDetail("field", name)
		}
		if !field.Mutable {
			return schemaViolation("%s.%s cannot be assigned", entity.Name, field.Name).WithDetail("field", field.Name)
		}
		if v == nil {
			if field.Required {
				return schemaViolation("%s.%s cannot be empty", entity.Name, field.Name).WithDetail("field", field.Name)
			}
			values[field.Name] = nil
			continue
		}
		value, err := field.CoerceValue(v)
		if err != nil {
			return services.NewDomainError(services.ErrorTypeSchemaViolation, err.Error(), err).WithDetail("field", field.Name)
		}
		values[field.Name] = value
	}
	plan.Values = values
	return nil
}

func checkShape(plan *models.Plan) error {
	switch plan.Operation {
	case models.OpRead, models.OpAnalyze:
		if len(plan.Values) > 0 {
			return schemaViolation("%s takes no values", plan.Operation)
		}
	case models.OpUpdate:
		if len(plan.Filters) == 0 {
			return schemaViolation("UPDATE needs at least one filter")
		}
		if len(plan.Values) == 0 {
			return schemaViolation("UPDATE needs at least one value")
		}
	case models.OpDelete:
		if len(plan.Filters) == 0 {
			return schemaViolation("DELETE needs at least one filter")
		}
		if len(plan.Values) > 0 {
			return schemaViolation("DELETE takes no values")
		}
	case models.OpCreate:
		if len(plan.Filters) > 0 {
			return schemaViolation("CREATE takes no filters")
		}
		if len(plan.Values) == 0 {
			return schemaViolation("CREATE needs at least one value")
		}
	}
	return nil
}

// IsScopeLimited reports whether role is confined to its own department
func (n *Normalizer) IsScopeLimited(role models.Role) bool {
	return n.scoped[role]
}

var errOutOfScope = errors.New("outside own department")

func scopeViolation(format string, args ...any) error {
	return services.NewDomainError(services.ErrorTypeScopeViolation, fmt.Sprintf(format, args...), errOutOfScope)
}

// ApplyScope confines a plan of a scope-limited identity to its department.
// It is applied to compensating plans as well as normalized ones.
func (n *Normalizer) ApplyScope(plan *models.Plan) error {
	if !n.scoped[plan.Identity.Role] {
		return nil
	}
	entity, ok := n.registry.Resolve(plan.Entity)
	if !ok || entity.ScopeField == "" {
		return nil
	}
	if plan.Identity.DepartmentID == nil {
		return scopeViolation("%s identity has no department", plan.Identity.Role)
	}
	dept := *plan.Identity.DepartmentID
	scope := entity.ScopeField

	hasScope := false
	for i, f := range plan.Filters {
		if f.Field != scope {
			continue
		}
		switch {
		case f.Operator == models.OpEq && sameValue(f.Value, dept):
			hasScope = true
		case f.Operator == models.OpIn && singleton(f.Value, dept):
			plan.Filters[i] = models.Filter{Field: scope, Operator: models.OpEq, Value: dept}
			hasScope = true
		default:
			return scopeViolation("filter on %s must be your own department %d", scope, dept)
		}
	}

	if v, ok := plan.Values[scope]; ok && !sameValue(v, dept) {
		return scopeViolation("%s can only be set to your own department %d", scope, dept)
	}
	for _, row := range plan.Restore {
		if v, ok := row[scope]; ok && !sameValue(v, dept) {
			return scopeViolation("restored %s rows belong to another department", entity.Name)
		}
	}

	switch plan.Operation {
	case models.OpCreate:
		if _, ok := plan.Values[scope]; !ok && len(plan.Restore) == 0 && scope != "id" {
			plan.Values[scope] = dept
		}
	default:
		if !hasScope {
			plan.Filters = append(plan.Filters, models.Filter{Field: scope, Operator: models.OpEq, Value: dept})
		}
	}
	plan.ScopeDeptID = &dept
	return nil
}

func sameValue(v any, dept int64) bool {
	c, ok := predicate.Compare(v, dept)
	return ok && c == 0
}

func singleton(v any, dept int64) bool {
	list, ok := v.([]any)
	return ok && len(list) == 1 && sameValue(list[0], dept)
}
