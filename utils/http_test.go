package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusOK, map[string]string{"message": "test"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteJSON(w, http.StatusNoContent, nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteOK(w, map[string]string{"outcome": "COMMITTED"}))
	assert.Equal(t, http.StatusOK, w.Code)

	var response SuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "COMMITTED", response.Data.(map[string]interface{})["outcome"])
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteCreated(w, map[string]string{"id": "123"}))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestErrorWriters(t *testing.T) {
	details := map[string]interface{}{"field": "cgpa"}

	tests := []struct {
		name        string
		write       func(w http.ResponseWriter) error
		wantStatus  int
		wantCode    string
		wantMessage string
		wantDetails bool
	}{
		{"bad request", func(w http.ResponseWriter) error { return WriteBadRequest(w, "bad", details) },
			http.StatusBadRequest, "bad_request", "bad", true},
		{"unauthorized default", func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") },
			http.StatusUnauthorized, "unauthorized", "Authentication required", false},
		{"forbidden default", func(w http.ResponseWriter) error { return WriteForbidden(w, "", nil) },
			http.StatusForbidden, "forbidden", "Access forbidden", false},
		{"forbidden with details", func(w http.ResponseWriter) error { return WriteForbidden(w, "no", details) },
			http.StatusForbidden, "forbidden", "no", true},
		{"not found default", func(w http.ResponseWriter) error { return WriteNotFound(w, "") },
			http.StatusNotFound, "not_found", "Resource not found", false},
		{"conflict", func(w http.ResponseWriter) error { return WriteConflict(w, "already done", details) },
			http.StatusConflict, "conflict", "already done", true},
		{"unprocessable", func(w http.ResponseWriter) error { return WriteUnprocessable(w, "which one?", details) },
			http.StatusUnprocessableEntity, "unprocessable", "which one?", true},
		{"too many requests default", func(w http.ResponseWriter) error { return WriteTooManyRequests(w, "", nil) },
			http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit exceeded", false},
		{"internal default", func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") },
			http.StatusInternalServerError, "internal_error", "Internal server error", false},
		{"unavailable", func(w http.ResponseWriter) error { return WriteError(w, http.StatusServiceUnavailable, "down", nil) },
			http.StatusServiceUnavailable, "unavailable", "down", false},
		{"unmapped status", func(w http.ResponseWriter) error { return WriteError(w, http.StatusTeapot, "tea", nil) },
			http.StatusTeapot, "internal_error", "tea", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))
			assert.Equal(t, tt.wantStatus, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.wantCode, response.Error)
			assert.Equal(t, tt.wantMessage, response.Message)
			if tt.wantDetails {
				assert.Equal(t, "cgpa", response.Details["field"])
			} else {
				assert.Nil(t, response.Details)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Text string `json:"text"`
	}

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"valid", `{"text":"list courses"}`, ""},
		{"empty", ``, "empty"},
		{"unknown field", `{"text":"x","sql":"drop table"}`, "malformed"},
		{"trailing object", `{"text":"x"}{"text":"y"}`, "single JSON object"},
		{"not json", `text=x`, "malformed"},
		{"too large", `{"text":"` + strings.Repeat("a", MaxBodyBytes) + `"}`, "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			var dst body
			err := DecodeJSON(req, &dst)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "list courses", dst.Text)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
