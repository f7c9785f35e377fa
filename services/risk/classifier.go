// Package risk estimates how many rows a plan touches and classifies its
// impact into LOW, MEDIUM or HIGH.
package risk

import (
	"context"
	"time"

	"github.com/campusiq/opsgovernor/internal/schema"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/repositories"
	"github.com/campusiq/opsgovernor/services"
	"go.uber.org/zap"
)

// Rule ids reported with an assessment
const (
	RuleReadOnly        = "read-only"
	RuleCreate          = "create"
	RuleSensitiveCreate = "sensitive-entity-create"
	RuleDeleteFloor     = "delete-floor"
	RuleSensitiveField  = "sensitive-field-floor"
	RuleBulkMedium      = "bulk-medium"
	RuleBulkHigh        = "bulk-high"
	RuleDefaultLow      = "default-low"
)

// Config holds the classifier thresholds
type Config struct {
	MediumImpactCount int64
	HighImpactCount   int64
	StoreTimeout      time.Duration
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		MediumImpactCount: 10,
		HighImpactCount:   50,
		StoreTimeout:      5 * time.Second,
	}
}

// Classifier assesses plans
type Classifier struct {
	store    repositories.RecordStore
	registry *schema.Registry
	config   Config
	logger   *zap.Logger
}

// NewClassifier creates a new risk classifier
func NewClassifier(store repositories.RecordStore, registry *schema.Registry, config Config, logger *zap.Logger) *Classifier {
	return &Classifier{
		store:    store,
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// Assess estimates the affected row count and assigns a tier. The count uses
// the same store predicate evaluation as the mutation that follows.
func (c *Classifier) Assess(ctx context.Context, plan *models.Plan) (*models.RiskAssessment, error) {
	entity, ok := c.registry.Resolve(plan.Entity)
	if !ok {
		return nil, services.NewDomainError(services.ErrorTypeEstimationFailure, "unknown entity "+plan.Entity, nil)
	}

	count, err := c.estimate(ctx, plan)
	if err != nil {
		return nil, err
	}

	tier, rule := classify(plan, entity, count, c.config)
	c.logger.Debug("plan assessed",
		zap.String("plan_id", plan.ID.String()),
		zap.Int64("affected", count),
		zap.String("tier", string(tier)),
		zap.String("rule", rule))

	return &models.RiskAssessment{Tier: tier, AffectedCount: count, RuleID: rule}, nil
}

func (c *Classifier) estimate(ctx context.Context, plan *models.Plan) (int64, error) {
	if plan.Operation == models.OpCreate {
		if n := len(plan.Restore); n > 0 {
			return int64(n), nil
		}
		return 1, nil
	}

	if c.config.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.StoreTimeout)
		defer cancel()
	}
	n, err := c.store.Count(ctx, plan.Entity, plan.Filters)
	if err != nil {
		return 0, services.NewDomainError(services.ErrorTypeEstimationFailure, "could not count affected records", err)
	}
	return n, nil
}

func raise(tier models.RiskTier, rule string, to models.RiskTier, toRule string) (models.RiskTier, string) {
	if to.Rank() > tier.Rank() {
		return to, toRule
	}
	return tier, rule
}

func classify(plan *models.Plan, entity *schema.Entity, count int64, cfg Config) (models.RiskTier, string) {
	tier, rule := models.RiskLow, RuleDefaultLow

	switch plan.Operation {
	case models.OpRead, models.OpAnalyze:
		return models.RiskLow, RuleReadOnly
	case models.OpCreate:
		rule = RuleCreate
		if entity.Sensitive {
			tier, rule = models.RiskMedium, RuleSensitiveCreate
		}
	case models.OpDelete:
		tier, rule = models.RiskMedium, RuleDeleteFloor
	case models.OpUpdate:
		if touchesSensitive(plan, entity) {
			tier, rule = models.RiskMedium, RuleSensitiveField
		}
	}

	if plan.Operation != models.OpCreate && count > cfg.MediumImpactCount {
		tier, rule = raise(tier, rule, models.RiskMedium, RuleBulkMedium)
	}
	if count > cfg.HighImpactCount {
		tier, rule = raise(tier, rule, models.RiskHigh, RuleBulkHigh)
	}
	return tier, rule
}

// touchesSensitive reports whether an UPDATE assigns a sensitive field or
// any field of a sensitive entity. Restore rows count as assignments.
func touchesSensitive(plan *models.Plan, entity *schema.Entity) bool {
	if entity.Sensitive {
		return true
	}
	fields := plan.ChangedFields()
	for _, r := range plan.Restore {
		for k := range r {
			fields = append(fields, k)
		}
	}
	for _, name := range fields {
		if f, ok := entity.Field(name); ok && f.Sensitive {
			return true
		}
	}
	return false
}
