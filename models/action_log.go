package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal state of one pipeline invocation
type Outcome string

const (
	OutcomeCommitted  Outcome = "COMMITTED"
	OutcomeDenied     Outcome = "DENIED"
	OutcomeFailed     Outcome = "FAILED"
	OutcomeRolledBack Outcome = "ROLLED_BACK"
)

// Effect is a permission matrix entry
type Effect string

const (
	EffectAllow       Effect = "ALLOW"
	EffectAllowScoped Effect = "ALLOW_SCOPED"
	EffectDeny        Effect = "DENY"
)

// Decision is the outcome of the permission gate
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionDeny  Decision = "DENY"
)

// PermissionDecision is the gate's verdict plus the rule that produced it
type PermissionDecision struct {
	Decision Decision `json:"decision"`
	RuleID   string   `json:"ruleId"`
}

// Allowed reports whether the decision is ALLOW
func (d PermissionDecision) Allowed() bool {
	return d.Decision == DecisionAllow
}

// RiskTier is the coarse impact classification of a plan
type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

// Rank orders tiers so a floor can be applied with max
func (t RiskTier) Rank() int {
	switch t {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return 0
}

// RiskAssessment is the classifier's estimate for a plan
type RiskAssessment struct {
	Tier          RiskTier `json:"tier"`
	AffectedCount int64    `json:"affectedCount"`
	RuleID        string   `json:"ruleId"`
}

// StageTimes records when each pipeline stage finished
type StageTimes struct {
	Received   time.Time  `json:"received"`
	Normalized *time.Time `json:"normalized,omitempty"`
	Authorized *time.Time `json:"authorized,omitempty"`
	Assessed   *time.Time `json:"assessed,omitempty"`
	Executed   *time.Time `json:"executed,omitempty"`
	Recorded   *time.Time `json:"recorded,omitempty"`
}

// Mark stamps a stage with the current time
func Mark(stage **time.Time) {
	now := time.Now().UTC()
	*stage = &now
}

// ActionLog is the immutable audit record of one pipeline invocation
type ActionLog struct {
	ID            uuid.UUID           `json:"id" db:"id"`
	PlanID        uuid.UUID           `json:"planId" db:"plan_id"`
	Plan          *Plan               `json:"plan" db:"plan"`
	Actor         string              `json:"actor" db:"actor"`
	ActorRole     Role                `json:"actorRole" db:"actor_role"`
	Entity        string              `json:"entity" db:"entity"`
	Operation     OpKind              `json:"operation" db:"operation"`
	Decision      *PermissionDecision `json:"decision,omitempty" db:"decision"`
	Risk          *RiskAssessment     `json:"risk,omitempty" db:"risk"`
	Outcome       Outcome             `json:"outcome" db:"outcome"`
	FailureType   string              `json:"failureType,omitempty" db:"failure_type"`
	Reason        string              `json:"reason,omitempty" db:"reason"`
	AffectedCount int64               `json:"affectedCount" db:"affected_count"`
	Before        []Row               `json:"before,omitempty" db:"before_snapshot"`
	After         []Row               `json:"after,omitempty" db:"after_snapshot"`
	Stages        StageTimes          `json:"stages" db:"stages"`
	RollsBack     *uuid.UUID          `json:"rollsBack,omitempty" db:"rolls_back"`
	CreatedAt     time.Time           `json:"createdAt" db:"created_at"`
}

// TableName returns the table name for the ActionLog model
func (ActionLog) TableName() string {
	return "action_logs"
}

// NewActionLog creates an ActionLog for a plan and outcome
func NewActionLog(plan *Plan, outcome Outcome) *ActionLog {
	return &ActionLog{
		ID:        uuid.New(),
		PlanID:    plan.ID,
		Plan:      plan,
		Actor:     plan.Identity.UserID,
		ActorRole: plan.Identity.Role,
		Entity:    plan.Entity,
		Operation: plan.Operation,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}
}

// WithDecision sets the permission decision
func (a *ActionLog) WithDecision(d PermissionDecision) *ActionLog {
	a.Decision = &d
	return a
}

// WithRisk sets the risk assessment
func (a *ActionLog) WithRisk(r *RiskAssessment) *ActionLog {
	a.Risk = r
	return a
}

// WithFailure sets the typed failure reason
func (a *ActionLog) WithFailure(failureType, reason string) *ActionLog {
	a.FailureType = failureType
	a.Reason = reason
	return a
}

// WithSnapshots sets the before and after row images
func (a *ActionLog) WithSnapshots(before, after []Row) *ActionLog {
	a.Before = before
	a.After = after
	return a
}

// WithRollbackOf links the record to the entry it reverses
func (a *ActionLog) WithRollbackOf(id uuid.UUID) *ActionLog {
	a.RollsBack = &id
	return a
}

// WithStages sets the stage timestamps
func (a *ActionLog) WithStages(s StageTimes) *ActionLog {
	a.Stages = s
	return a
}

// IsRollback reports whether the record is a compensating entry
func (a *ActionLog) IsRollback() bool {
	return a.RollsBack != nil
}

// ActionLogFilter selects ActionLogs for the audit query
type ActionLogFilter struct {
	Actor   string
	Entity  string
	Outcome Outcome
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

// ActionLogSummary is the list view of an ActionLog
type ActionLogSummary struct {
	ID            uuid.UUID  `json:"id"`
	PlanID        uuid.UUID  `json:"planId"`
	Actor         string     `json:"actor"`
	Entity        string     `json:"entity"`
	Operation     OpKind     `json:"operation"`
	Outcome       Outcome    `json:"outcome"`
	RiskLevel     RiskTier   `json:"riskLevel,omitempty"`
	AffectedCount int64      `json:"affectedCount"`
	Reason        string     `json:"reason,omitempty"`
	RollsBack     *uuid.UUID `json:"rollsBack,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Summary returns the list view of the record
func (a *ActionLog) Summary() ActionLogSummary {
	s := ActionLogSummary{
		ID:            a.ID,
		PlanID:        a.PlanID,
		Actor:         a.Actor,
		Entity:        a.Entity,
		Operation:     a.Operation,
		Outcome:       a.Outcome,
		AffectedCount: a.AffectedCount,
		Reason:        a.Reason,
		RollsBack:     a.RollsBack,
		CreatedAt:     a.CreatedAt,
	}
	if a.Risk != nil {
		s.RiskLevel = a.Risk.Tier
	}
	return s
}

// ActionLogPage is one page of audit results
type ActionLogPage struct {
	Items  []ActionLogSummary `json:"items"`
	Total  int64              `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// OpsStats aggregates ledger entries by outcome and risk tier
type OpsStats struct {
	Total     int64              `json:"total"`
	ByOutcome map[Outcome]int64  `json:"byOutcome"`
	ByRisk    map[RiskTier]int64 `json:"byRisk"`
}

// FieldStats summarises a numeric field for ANALYZE
type FieldStats struct {
	Count int64    `json:"count"`
	Avg   *float64 `json:"avg,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}
