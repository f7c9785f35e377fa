package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/campusiq/opsgovernor/internal/observability"
	"github.com/campusiq/opsgovernor/middleware"
	"github.com/campusiq/opsgovernor/models"
	"github.com/campusiq/opsgovernor/services"
	"github.com/campusiq/opsgovernor/services/governor"
	"github.com/campusiq/opsgovernor/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OpsService is the governor surface used by the HTTP layer
type OpsService interface {
	HandleCommand(ctx context.Context, req governor.CommandRequest) (*governor.CommandResult, error)
	Rollback(ctx context.Context, req governor.RollbackRequest) (*governor.RollbackResult, error)
	QueryAudit(ctx context.Context, id models.Identity, filter models.ActionLogFilter) (*models.ActionLogPage, error)
	GetAudit(ctx context.Context, id models.Identity, actionLogID uuid.UUID) (*models.ActionLog, error)
	Stats(ctx context.Context, id models.Identity, filter models.ActionLogFilter) (*models.OpsStats, error)
}

// CommandBody is the body of POST /commands
type CommandBody struct {
	Text   string `json:"text" validate:"required,max=2000"`
	Module string `json:"module,omitempty" validate:"omitempty,max=32"`
}

// RollbackBody is the body of POST /rollbacks
type RollbackBody struct {
	ActionLogID string `json:"actionLogId" validate:"required,uuid"`
}

// auditQuery holds the parsed audit listing parameters
type auditQuery struct {
	Actor   string `json:"actor" validate:"omitempty,max=128"`
	Entity  string `json:"entity" validate:"omitempty,max=64"`
	Outcome string `json:"outcome" validate:"omitempty,oneof=COMMITTED DENIED FAILED ROLLED_BACK"`
	Limit   int    `json:"limit" validate:"gte=0,lte=500"`
	Offset  int    `json:"offset" validate:"gte=0"`
	From    *time.Time
	To      *time.Time
}

// OpsHandler serves the governor API
type OpsHandler struct {
	service OpsService
	logger  *zap.Logger
}

// NewOpsHandler creates a new OpsHandler
func NewOpsHandler(service OpsService, logger *zap.Logger) *OpsHandler {
	return &OpsHandler{
		service: service,
		logger:  logger,
	}
}

// identity returns the verified caller or writes 401
func (h *OpsHandler) identity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		h.logger.Error("identity not found in context",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())))
		_ = utils.WriteUnauthorized(w, "Authentication required")
	}
	return id, ok
}

// HandleCommand handles POST /commands
func (h *OpsHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var body CommandBody
	if err := utils.DecodeJSON(r, &body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.HandleCommand(ctx, governor.CommandRequest{
		Text:     body.Text,
		Module:   body.Module,
		Identity: id,
	})
	if err != nil {
		observability.ForRequest(ctx, h.logger).Info("command not committed",
			zap.String("error_type", string(services.GetErrorType(err))))
		handleServiceError(w, err, commandDetails(result), h.logger)
		return
	}
	observability.ForRequest(ctx, h.logger).Info("command committed",
		zap.String("action_log_id", result.ActionLogID.String()),
		zap.String("risk", string(result.RiskLevel)),
		zap.Int64("affected", result.AffectedCount))
	_ = utils.WriteOK(w, result)
}

// commandDetails flattens a refused or failed command for the error body
func commandDetails(result *governor.CommandResult) map[string]interface{} {
	if result == nil {
		return nil
	}
	details := map[string]interface{}{
		"planId":        result.PlanID.String(),
		"actionLogId":   result.ActionLogID.String(),
		"outcome":       string(result.Outcome),
		"affectedCount": result.AffectedCount,
	}
	if result.RiskLevel != "" {
		details["riskLevel"] = string(result.RiskLevel)
	}
	if result.EstimatedCount > 0 {
		details["estimatedCount"] = result.EstimatedCount
	}
	if result.DenialReason != "" {
		details["denialReason"] = result.DenialReason
	}
	if result.Failure != nil {
		details["failure"] = result.Failure
	}
	return details
}

// HandleRollback handles POST /rollbacks
func (h *OpsHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var body RollbackBody
	if err := utils.DecodeJSON(r, &body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	actionLogID, err := utils.ParseUUID(body.ActionLogID, "actionLogId")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.Rollback(r.Context(), governor.RollbackRequest{ActionLogID: actionLogID, Identity: id})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, result)
}

// HandleListAudit handles GET /audit
func (h *OpsHandler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	q, err := parseAuditQuery(r.URL.Query())
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	page, err := h.service.QueryAudit(r.Context(), id, models.ActionLogFilter{
		Actor:   q.Actor,
		Entity:  q.Entity,
		Outcome: models.Outcome(q.Outcome),
		From:    q.From,
		To:      q.To,
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, page)
}

// HandleGetAudit handles GET /audit/{id}
func (h *OpsHandler) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	actionLogID, err := utils.ParseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	log, err := h.service.GetAudit(r.Context(), id, actionLogID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, log)
}

// HandleStats handles GET /stats
func (h *OpsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	values := r.URL.Query()
	from, err := parseTime(values, "from")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	to, err := parseTime(values, "to")
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	stats, err := h.service.Stats(r.Context(), id, models.ActionLogFilter{From: from, To: to})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, stats)
}

func parseAuditQuery(values url.Values) (*auditQuery, error) {
	q := &auditQuery{
		Actor:   values.Get("actor"),
		Entity:  values.Get("entity"),
		Outcome: values.Get("outcome"),
	}
	var err error
	if q.Limit, err = parseInt(values, "limit"); err != nil {
		return nil, err
	}
	if q.Offset, err = parseInt(values, "offset"); err != nil {
		return nil, err
	}
	if q.From, err = parseTime(values, "from"); err != nil {
		return nil, err
	}
	if q.To, err = parseTime(values, "to"); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(q); err != nil {
		return nil, err
	}
	return q, nil
}

func parseInt(values url.Values, key string) (int, error) {
	raw := values.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &utils.ValidationError{
			Message: "Validation failed",
			Fields:  map[string]string{key: key + " must be an integer"},
		}
	}
	return n, nil
}

func parseTime(values url.Values, key string) (*time.Time, error) {
	raw := values.Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, &utils.ValidationError{
			Message: "Validation failed",
			Fields:  map[string]string{key: key + " must be an RFC3339 timestamp"},
		}
	}
	return &t, nil
}
