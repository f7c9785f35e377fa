package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/campusiq/opsgovernor/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// LedgerHealth reports unrecorded-write alarms
type LedgerHealth interface {
	Failures() int64
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db     *sql.DB
	ledger LedgerHealth
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db is nil for the memory store.
func NewHealthHandler(db *sql.DB, ledger LedgerHealth, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		ledger: ledger,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz. A ledger write failure keeps the
// instance unready until it is restarted and the cause investigated.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	switch err := h.checkDatabase(ctx); {
	case h.db == nil:
		checks["database"] = "memory"
	case err != nil:
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	default:
		checks["database"] = "healthy"
	}

	if h.ledger != nil {
		if n := h.ledger.Failures(); n > 0 {
			h.logger.Error("ledger alarm raised", zap.Int64("failures", n))
			checks["ledger"] = "alarm"
			allHealthy = false
		} else {
			checks["ledger"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}
	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
