package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLedger struct{ failures int64 }

func (f fakeLedger) Failures() int64 { return f.failures }

func readiness(t *testing.T, h *HealthHandler) (int, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w.Code, response["data"].(map[string]interface{})
}

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler(nil, nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
	assert.NotEmpty(t, data["timestamp"])
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	t.Run("healthy when database is available", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		code, data := readiness(t, NewHealthHandler(db, fakeLedger{}, logger))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", data["status"])
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["database"])
		assert.Equal(t, "healthy", checks["ledger"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(sql.ErrConnDone)

		code, data := readiness(t, NewHealthHandler(db, fakeLedger{}, logger))
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", data["status"])
		assert.Equal(t, "unhealthy", data["checks"].(map[string]interface{})["database"])
	})

	t.Run("unhealthy after a ledger alarm", func(t *testing.T) {
		code, data := readiness(t, NewHealthHandler(nil, fakeLedger{failures: 1}, logger))
		assert.Equal(t, http.StatusServiceUnavailable, code)
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "alarm", checks["ledger"])
		assert.Equal(t, "memory", checks["database"])
	})

	t.Run("memory store is ready", func(t *testing.T) {
		code, data := readiness(t, NewHealthHandler(nil, fakeLedger{}, logger))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", data["status"])
	})
}
