package permission

import (
	"fmt"

	"github.com/campusiq/opsgovernor/internal/predicate"
	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"go.uber.org/zap"
)

// Rule ids for decisions that do not come from a matrix entry
const (
	RuleDefaultDeny     = "default-deny"
	RuleScopeUnverified = "scope-unverified"
)

// Gate authorizes plans against a Matrix
type Gate struct {
	matrix   *Matrix
	registry *schema.Registry
	logger   *zap.Logger
}

// NewGate creates a new permission gate
func NewGate(matrix *Matrix, registry *schema.Registry, logger *zap.Logger) *Gate {
	return &Gate{
		matrix:   matrix,
		registry: registry,
		logger:   logger,
	}
}

func ruleID(role models.Role, op models.OpKind, entity string, effect models.Effect) string {
	return fmt.Sprintf("%s:%s:%s:%s", role, op, entity, effect)
}

func deny(rule string) models.PermissionDecision {
	return models.PermissionDecision{Decision: models.DecisionDeny, RuleID: rule}
}

// Authorize returns ALLOW or DENY for the plan's identity. It has no side
// effects and never consults the store.
func (g *Gate) Authorize(plan *models.Plan) models.PermissionDecision {
	id := plan.Identity
	effect, ok := g.matrix.Lookup(id.Role, plan.Operation, plan.Entity)
	if !ok {
		g.logger.Debug("no matrix entry",
			zap.String("role", string(id.Role)),
			zap.String("operation", string(plan.Operation)),
			zap.String("entity", plan.Entity))
		return deny(RuleDefaultDeny)
	}

	rule := ruleID(id.Role, plan.Operation, plan.Entity, effect)
	switch effect {
	case models.EffectAllow:
		return models.PermissionDecision{Decision: models.DecisionAllow, RuleID: rule}
	case models.EffectAllowScoped:
		if !g.scopeVerified(plan) {
			return deny(RuleScopeUnverified)
		}
		return models.PermissionDecision{Decision: models.DecisionAllow, RuleID: rule}
	}
	return deny(rule)
}

// scopeVerified checks that the plan is confined to the caller's department
func (g *Gate) scopeVerified(plan *models.Plan) bool {
	entity, ok := g.registry.Resolve(plan.Entity)
	if !ok || entity.ScopeField == "" || plan.Identity.DepartmentID == nil {
		return false
	}
	dept := *plan.Identity.DepartmentID

	if plan.Operation == models.OpCreate {
		rows := plan.Restore
		if len(rows) == 0 {
			rows = []models.Row{plan.Values}
		}
		for _, r := range rows {
			if c, ok := predicate.Compare(r[entity.ScopeField], dept); !ok || c != 0 {
				return false
			}
		}
		return true
	}
	return plan.HasFilter(entity.ScopeField, models.OpEq, dept)
}
