// Package governor runs the command pipeline: normalize, authorize, assess,
// execute and record. Every invocation that gets past language understanding
// leaves exactly one ActionLog.
package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/repositories"
	"github.com/campusiq/opsgovernor/services"
	"github.com/campusiq/opsgovernor/services/executor"
	"github.com/campusiq/opsgovernor/services/normalizer"
	"github.com/campusiq/opsgovernor/services/ratelimit"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RuleScopeViolation is the denial reason for plans outside the caller's department
const RuleScopeViolation = "scope-violation"

// Normalizer turns text into a scoped plan
type Normalizer interface {
	Normalize(ctx context.Context, req normalizer.Request) (*models.Plan, error)
	ApplyScope(plan *models.Plan) error
}

// Authorizer is the permission gate
type Authorizer interface {
	Authorize(plan *models.Plan) models.PermissionDecision
}

// Assessor estimates impact
type Assessor interface {
	Assess(ctx context.Context, plan *models.Plan) (*models.RiskAssessment, error)
}

// Executor applies a plan inside the transaction carried by ctx
type Executor interface {
	Execute(ctx context.Context, plan *models.Plan, estimate int64) (*executor.Result, error)
}

// Ledger is the audit trail
type Ledger interface {
	Record(ctx context.Context, log *models.ActionLog) (*models.ActionLog, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ActionLog, error)
	Query(ctx context.Context, filter models.ActionLogFilter) (*models.ActionLogPage, error)
	Stats(ctx context.Context, filter models.ActionLogFilter) (*models.OpsStats, error)
	Inverse(ctx context.Context, original *models.ActionLog, requester models.Identity) (*models.Plan, error)
}

// Limiter throttles callers
type Limiter interface {
	CheckLimit(ctx context.Context, key string) (*ratelimit.RateLimitResult, error)
}

// Notifier receives recorded entries after commit
type Notifier interface {
	Notify(log *models.ActionLog) error
}

// Config is fixed at construction
type Config struct {
	ParseTimeout time.Duration
}

// DefaultConfig returns the default pipeline settings
func DefaultConfig() Config {
	return Config{ParseTimeout: 25 * time.Second}
}

// Components are the pipeline stages. Limiter and Notifier are optional.
type Components struct {
	Normalizer Normalizer
	Gate       Authorizer
	Risk       Assessor
	Executor   Executor
	Ledger     Ledger
	TxManager  repositories.TransactionManager
	Limiter    Limiter
	Notifier   Notifier
}

// Governor is the command pipeline
type Governor struct {
	c      Components
	config Config
	logger *zap.Logger
}

// NewGovernor creates a governor
func NewGovernor(c Components, config Config, logger *zap.Logger) *Governor {
	return &Governor{c: c, config: config, logger: logger}
}

// CommandRequest is one natural-language command
type CommandRequest struct {
	Text     string
	Module   string
	Identity models.Identity
}

// Failure describes why a recorded command did not commit
type Failure struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// CommandResult is what the caller learns about a command
type CommandResult struct {
	PlanID        uuid.UUID       `json:"planId"`
	ActionLogID   uuid.UUID       `json:"actionLogId"`
	Outcome       models.Outcome  `json:"outcome"`
	RiskLevel     models.RiskTier `json:"riskLevel,omitempty"`
	AffectedCount int64           `json:"affectedCount"`
	// EstimatedCount is the assessed impact. It differs from AffectedCount
	// only when execution failed.
	EstimatedCount int64                        `json:"estimatedCount,omitempty"`
	DenialReason   string                       `json:"denialReason,omitempty"`
	Failure        *Failure                     `json:"failure,omitempty"`
	Preview        []models.Row                 `json:"preview,omitempty"`
	Aggregates     map[string]models.FieldStats `json:"aggregates,omitempty"`
}

// RollbackRequest asks for the reversal of a committed entry
type RollbackRequest struct {
	ActionLogID uuid.UUID
	Identity    models.Identity
}

// RollbackResult reports the compensating entry
type RollbackResult struct {
	ActionLogID   uuid.UUID       `json:"actionLogId"`
	Outcome       models.Outcome  `json:"outcome"`
	RollsBack     uuid.UUID       `json:"rollsBack"`
	RiskLevel     models.RiskTier `json:"riskLevel,omitempty"`
	AffectedCount int64           `json:"affectedCount"`
}

func resultOf(log *models.ActionLog) *CommandResult {
	r := &CommandResult{
		PlanID:        log.PlanID,
		ActionLogID:   log.ID,
		Outcome:       log.Outcome,
		AffectedCount: log.AffectedCount,
	}
	if log.Risk != nil {
		r.RiskLevel = log.Risk.Tier
		r.EstimatedCount = log.Risk.AffectedCount
	}
	if log.Outcome == models.OutcomeDenied && log.Decision != nil {
		r.DenialReason = log.Decision.RuleID
	}
	if log.FailureType != "" && log.Outcome != models.OutcomeDenied {
		r.Failure = &Failure{Type: log.FailureType, Message: log.Reason}
	}
	return r
}

// annotate returns err as a fresh DomainError carrying the ledger reference
func annotate(err error, log *models.ActionLog) error {
	var de *services.DomainError
	if !errors.As(err, &de) {
		de = services.NewDomainError(services.ErrorTypeExecutionFailure, "execution failed", nil)
	}
	out := services.NewDomainError(de.Type, de.Message, err)
	for k, v := range de.Details {
		out.WithDetail(k, v)
	}
	return out.WithDetail("actionLogId", log.ID.String()).WithDetail("outcome", string(log.Outcome))
}

func failureType(err error) string {
	if t := services.GetErrorType(err); t != "" {
		return string(t)
	}
	return string(services.ErrorTypeExecutionFailure)
}

func failureMessage(err error) string {
	var de *services.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

func (g *Governor) throttle(ctx context.Context, id models.Identity) error {
	if g.c.Limiter == nil {
		return nil
	}
	res, err := g.c.Limiter.CheckLimit(ctx, id.UserID)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return services.NewDomainError(services.ErrorTypeRateLimit, res.ViolationReason, nil).
			WithDetail("retryAfterSeconds", res.RetryAfter.Seconds())
	}
	return nil
}

// record appends a non-committed entry in its own transaction
func (g *Governor) record(ctx context.Context, log *models.ActionLog) (*models.ActionLog, error) {
	recorded, err := services.WithTransactionResult(ctx, g.c.TxManager,
		func(txCtx context.Context, _ repositories.Transaction) (*models.ActionLog, error) {
			return g.c.Ledger.Record(txCtx, log)
		})
	if err != nil {
		return nil, err
	}
	g.notify(recorded)
	return recorded, nil
}

func (g *Governor) notify(log *models.ActionLog) {
	if g.c.Notifier == nil {
		return
	}
	if err := g.c.Notifier.Notify(log); err != nil {
		g.logger.Warn("action log notification skipped",
			zap.String("action_log_id", log.ID.String()),
			zap.Error(err))
	}
}

// refuse records a DENIED or FAILED entry and returns the caller's error
func (g *Governor) refuse(ctx context.Context, log *models.ActionLog, cause error) (*CommandResult, error) {
	recorded, err := g.record(ctx, log)
	if err != nil {
		return nil, err
	}
	g.logger.Info("command refused",
		zap.String("action_log_id", recorded.ID.String()),
		zap.String("outcome", string(recorded.Outcome)),
		zap.String("reason", recorded.Reason))
	return resultOf(recorded), annotate(cause, recorded)
}

type executed struct {
	log    *models.ActionLog
	result *executor.Result
}

// executeAndRecord mutates and appends the ledger entry in one transaction.
// A failed mutation is recorded as FAILED in a separate transaction.
func (g *Governor) executeAndRecord(ctx context.Context, plan *models.Plan, decision models.PermissionDecision,
	risk *models.RiskAssessment, stages models.StageTimes, outcome models.Outcome, rollsBack *uuid.UUID) (*executed, error) {

	done, err := services.WithTransactionResult(ctx, g.c.TxManager,
		func(txCtx context.Context, _ repositories.Transaction) (*executed, error) {
			res, err := g.c.Executor.Execute(txCtx, plan, risk.AffectedCount)
			if err != nil {
				return nil, err
			}
			st := stages
			models.Mark(&st.Executed)

			log := models.NewActionLog(plan, outcome).
				WithDecision(decision).
				WithRisk(risk).
				WithSnapshots(res.Before, res.After).
				WithStages(st)
			log.AffectedCount = res.AffectedCount
			if rollsBack != nil {
				log.WithRollbackOf(*rollsBack)
			}
			recorded, err := g.c.Ledger.Record(txCtx, log)
			if err != nil {
				return nil, err
			}
			return &executed{log: recorded, result: res}, nil
		})
	if err == nil {
		g.notify(done.log)
		return done, nil
	}
	if services.IsLedgerWriteFailure(err) {
		return nil, err
	}

	g.logger.Warn("execution rolled back",
		zap.String("plan_id", plan.ID.String()),
		zap.String("failure_type", failureType(err)),
		zap.Error(err))
	failed := models.NewActionLog(plan, models.OutcomeFailed).
		WithDecision(decision).
		WithRisk(risk).
		WithFailure(failureType(err), failureMessage(err)).
		WithStages(stages)
	if rollsBack != nil {
		failed.WithRollbackOf(*rollsBack)
	}
	recorded, recErr := g.record(ctx, failed)
	if recErr != nil {
		return nil, recErr
	}
	return &executed{log: recorded}, annotate(err, recorded)
}

// HandleCommand runs one command through the pipeline
func (g *Governor) HandleCommand(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	if err := g.throttle(ctx, req.Identity); err != nil {
		return nil, err
	}
	stages := models.StageTimes{Received: time.Now().UTC()}

	pctx := ctx
	if g.config.ParseTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, g.config.ParseTimeout)
		defer cancel()
	}
	plan, err := g.c.Normalizer.Normalize(pctx, normalizer.Request{Text: req.Text, Module: req.Module, Identity: req.Identity})
	if err != nil {
		if plan == nil || services.IsClarificationError(err) {
			g.logger.Debug("command not understood", zap.String("actor", req.Identity.UserID), zap.Error(err))
			return nil, err
		}
		switch services.GetErrorType(err) {
		case services.ErrorTypeScopeViolation:
			log := models.NewActionLog(plan, models.OutcomeDenied).
				WithDecision(models.PermissionDecision{Decision: models.DecisionDeny, RuleID: RuleScopeViolation}).
				WithFailure(failureType(err), failureMessage(err)).
				WithStages(stages)
			return g.refuse(ctx, log, err)
		case services.ErrorTypeSchemaViolation:
			log := models.NewActionLog(plan, models.OutcomeFailed).
				WithFailure(failureType(err), failureMessage(err)).
				WithStages(stages)
			return g.refuse(ctx, log, err)
		}
		return nil, err
	}
	models.Mark(&stages.Normalized)
	g.logger.Debug("command normalized",
		zap.String("plan_id", plan.ID.String()),
		zap.String("entity", plan.Entity),
		zap.String("operation", string(plan.Operation)))

	decision := g.c.Gate.Authorize(plan)
	models.Mark(&stages.Authorized)
	if !decision.Allowed() {
		log := models.NewActionLog(plan, models.OutcomeDenied).
			WithDecision(decision).
			WithFailure(string(services.ErrorTypePermissionDenied), "denied by "+decision.RuleID).
			WithStages(stages)
		return g.refuse(ctx, log, services.NewDomainError(services.ErrorTypePermissionDenied,
			fmt.Sprintf("%s may not %s %s records", plan.Identity.Role, plan.Operation, plan.Entity), nil).
			WithDetail("denialReason", decision.RuleID))
	}

	risk, err := g.c.Risk.Assess(ctx, plan)
	if err != nil {
		log := models.NewActionLog(plan, models.OutcomeFailed).
			WithDecision(decision).
			WithFailure(failureType(err), failureMessage(err)).
			WithStages(stages)
		return g.refuse(ctx, log, err)
	}
	models.Mark(&stages.Assessed)
	g.logger.Debug("command assessed",
		zap.String("plan_id", plan.ID.String()),
		zap.String("tier", string(risk.Tier)),
		zap.Int64("estimate", risk.AffectedCount))

	done, err := g.executeAndRecord(ctx, plan, decision, risk, stages, models.OutcomeCommitted, nil)
	if err != nil {
		if done == nil {
			return nil, err
		}
		return resultOf(done.log), err
	}

	result := resultOf(done.log)
	result.Preview = done.result.Preview
	result.Aggregates = done.result.Aggregates
	g.logger.Info("command committed",
		zap.String("action_log_id", done.log.ID.String()),
		zap.String("actor", req.Identity.UserID),
		zap.String("entity", plan.Entity),
		zap.String("operation", string(plan.Operation)),
		zap.String("tier", string(risk.Tier)),
		zap.Int64("affected", done.log.AffectedCount))
	return result, nil
}

// Rollback reverses a committed entry. The requester must be allowed to run
// the compensating plan in their own right.
func (g *Governor) Rollback(ctx context.Context, req RollbackRequest) (*RollbackResult, error) {
	if err := g.throttle(ctx, req.Identity); err != nil {
		return nil, err
	}
	stages := models.StageTimes{Received: time.Now().UTC()}

	original, err := g.c.Ledger.Get(ctx, req.ActionLogID)
	if err != nil {
		return nil, err
	}
	inverse, err := g.c.Ledger.Inverse(ctx, original, req.Identity)
	if err != nil {
		if !services.IsRollbackFailure(err) {
			return nil, err
		}
		log := models.NewActionLog(refusedRollback(original, req.Identity), models.OutcomeFailed).
			WithFailure(failureType(err), failureMessage(err)).
			WithStages(stages).
			WithRollbackOf(original.ID)
		_, err := g.refuse(ctx, log, err)
		return nil, err
	}

	denied := func(decision models.PermissionDecision, cause error) (*RollbackResult, error) {
		log := models.NewActionLog(inverse, models.OutcomeDenied).
			WithDecision(decision).
			WithFailure(failureType(cause), failureMessage(cause)).
			WithStages(stages).
			WithRollbackOf(original.ID)
		_, err := g.refuse(ctx, log, cause)
		return nil, err
	}

	if err := g.c.Normalizer.ApplyScope(inverse); err != nil {
		return denied(models.PermissionDecision{Decision: models.DecisionDeny, RuleID: RuleScopeViolation}, err)
	}
	models.Mark(&stages.Normalized)

	decision := g.c.Gate.Authorize(inverse)
	models.Mark(&stages.Authorized)
	if !decision.Allowed() {
		return denied(decision, services.NewDomainError(services.ErrorTypePermissionDenied,
			fmt.Sprintf("%s may not %s %s records", inverse.Identity.Role, inverse.Operation, inverse.Entity), nil).
			WithDetail("denialReason", decision.RuleID))
	}

	risk, err := g.c.Risk.Assess(ctx, inverse)
	if err != nil {
		log := models.NewActionLog(inverse, models.OutcomeFailed).
			WithDecision(decision).
			WithFailure(failureType(err), failureMessage(err)).
			WithStages(stages).
			WithRollbackOf(original.ID)
		_, err := g.refuse(ctx, log, err)
		return nil, err
	}
	models.Mark(&stages.Assessed)

	done, err := g.executeAndRecord(ctx, inverse, decision, risk, stages, models.OutcomeRolledBack, &original.ID)
	if err != nil {
		return nil, err
	}

	g.logger.Info("action rolled back",
		zap.String("action_log_id", done.log.ID.String()),
		zap.String("rolls_back", original.ID.String()),
		zap.String("actor", req.Identity.UserID),
		zap.Int64("affected", done.log.AffectedCount))
	return &RollbackResult{
		ActionLogID:   done.log.ID,
		Outcome:       done.log.Outcome,
		RollsBack:     original.ID,
		RiskLevel:     risk.Tier,
		AffectedCount: done.log.AffectedCount,
	}, nil
}

// refusedRollback stands in for an inverse plan that could not be built
func refusedRollback(original *models.ActionLog, requester models.Identity) *models.Plan {
	module := ""
	if original.Plan != nil {
		module = original.Plan.Module
	}
	plan := models.NewPlan(fmt.Sprintf("rollback of %s", original.ID), module, requester)
	plan.Entity = original.Entity
	plan.Operation = original.Operation
	return plan
}

// restrict confines non-admin identities to their own entries
func restrict(id models.Identity, filter models.ActionLogFilter) models.ActionLogFilter {
	if !id.IsAdmin() {
		filter.Actor = id.UserID
	}
	return filter
}

// QueryAudit returns a page of ledger summaries visible to id
func (g *Governor) QueryAudit(ctx context.Context, id models.Identity, filter models.ActionLogFilter) (*models.ActionLogPage, error) {
	return g.c.Ledger.Query(ctx, restrict(id, filter))
}

// GetAudit returns one full entry visible to id
func (g *Governor) GetAudit(ctx context.Context, id models.Identity, actionLogID uuid.UUID) (*models.ActionLog, error) {
	log, err := g.c.Ledger.Get(ctx, actionLogID)
	if err != nil {
		return nil, err
	}
	if !id.IsAdmin() && log.Actor != id.UserID {
		return nil, services.ErrActionLogNotFound
	}
	return log, nil
}

// Stats counts ledger entries visible to id
func (g *Governor) Stats(ctx context.Context, id models.Identity, filter models.ActionLogFilter) (*models.OpsStats, error) {
	return g.c.Ledger.Stats(ctx, restrict(id, filter))
}
