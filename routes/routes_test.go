package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/campusiq/opsgovernor/app"
	"github.com/campusiq/opsgovernor/config"
	"github.com/campusiq/opsgovernor/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T) (*app.Dependencies, http.Handler) {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			RequestTimeout: 10 * time.Second,
			CORSOrigins:    []string{"https://ops.campusiq.edu"},
		},
		Store: config.StoreConfig{Driver: config.DriverMemory},
		Auth:  config.AuthConfig{JWTSecret: config.DevJWTSecret, Issuer: "opsgovernor"},
		LLM:   config.LLMConfig{Provider: config.ProviderNone},
		Governor: config.GovernorConfig{
			ConfidenceThreshold: 0.7,
			MediumImpactCount:   10,
			HighImpactCount:     50,
			MaxPreviewRows:      50,
			MaxSnapshotRows:     500,
			ParseTimeout:        5 * time.Second,
			StoreTimeout:        time.Second,
			ScopeLimitedRoles:   []string{"student", "faculty"},
		},
		RateLimit:     config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
		Notifications: config.NotificationConfig{BufferSize: 10, WorkerCount: 1, PublishTimeout: time.Second},
		Observability: config.ObservabilityConfig{LogLevel: "info"},
	}

	deps, err := app.NewDependencies(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	require.NoError(t, deps.MemoryDB.Seed(context.Background(), "department",
		models.Row{"id": int64(1), "name": "Computer Science", "code": "CSE"},
		models.Row{"id": int64(2), "name": "Electronics", "code": "ECE"},
	))
	return deps, SetupRoutes(deps)
}

func bearer(t *testing.T, deps *app.Dependencies, id models.Identity) string {
	t.Helper()
	token, err := deps.Validator.Issue(id, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestSetupRoutes_Probes(t *testing.T) {
	_, router := setup(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NotEmpty(t, w.Header().Get("Content-Type"))
	}
}

func TestSetupRoutes_NotFound(t *testing.T) {
	_, router := setup(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/anything", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "endpoint not found")
}

func TestSetupRoutes_RequiresBearer(t *testing.T) {
	_, router := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ops/commands", strings.NewReader(`{"text":"show departments"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSetupRoutes_CommandAndAudit(t *testing.T) {
	deps, router := setup(t)
	admin := bearer(t, deps, models.Identity{UserID: "admin-1", Role: models.RoleAdmin})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ops/commands", strings.NewReader(`{"text":"show departments"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", admin)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var command struct {
		Data struct {
			ActionLogID   string `json:"actionLogId"`
			Outcome       string `json:"outcome"`
			AffectedCount int64  `json:"affectedCount"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &command))
	assert.Equal(t, "COMMITTED", command.Data.Outcome)
	assert.Equal(t, int64(2), command.Data.AffectedCount)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ops/audit/"+command.Data.ActionLogID, nil)
	req.Header.Set("Authorization", admin)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ops/stats", nil)
	req.Header.Set("Authorization", admin)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestSetupRoutes_RejectsNonJSONBody(t *testing.T) {
	deps, router := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ops/commands", strings.NewReader("text=show departments"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", bearer(t, deps, models.Identity{UserID: "admin-1", Role: models.RoleAdmin}))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestSetupRoutes_CORS(t *testing.T) {
	_, router := setup(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ops/commands", nil)
	req.Header.Set("Origin", "https://ops.campusiq.edu")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "https://ops.campusiq.edu", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSetupRoutes_FailedCommandReportsAssessment(t *testing.T) {
	deps, router := setup(t)
	require.NoError(t, deps.MemoryDB.Seed(context.Background(), "student",
		models.Row{"id": int64(1), "roll_number": "CSE001", "department_id": int64(1), "semester": int64(3), "cgpa": 7.5},
	))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ops/commands", strings.NewReader(`{"text":"delete department with id 1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, deps, models.Identity{UserID: "admin-1", Role: models.RoleAdmin}))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	var response struct {
		Details map[string]interface{} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "constraint_violation", response.Details["type"])
	assert.Equal(t, "FAILED", response.Details["outcome"])
	assert.Equal(t, "MEDIUM", response.Details["riskLevel"])
	assert.Equal(t, float64(1), response.Details["estimatedCount"])
	assert.NotEmpty(t, response.Details["planId"])
	assert.NotEmpty(t, response.Details["actionLogId"])
}
