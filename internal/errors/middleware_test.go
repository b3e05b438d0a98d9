package errors

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantLevel  string
	}{
		{
			name:       "success",
			handler:    func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) },
			wantStatus: http.StatusOK,
			wantLevel:  "INFO",
		},
		{
			name:       "client error",
			handler:    func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) },
			wantStatus: http.StatusBadRequest,
			wantLevel:  "WARN",
		},
		{
			name:       "panic",
			handler:    func(w http.ResponseWriter, r *http.Request) { panic("merge exploded") },
			wantStatus: http.StatusInternalServerError,
			wantLevel:  "ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&logs, nil))
			mw := NewErrorMiddleware(NewErrorHandler(logger, false), logger)

			rec := httptest.NewRecorder()
			mw.Handler(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=5", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)

			lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
			var entry map[string]any
			require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
			assert.Equal(t, "http request", entry["msg"])
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, float64(tt.wantStatus), entry["status"])
			assert.Equal(t, "limit=5", entry["query"])
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := NewErrorHandler(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), false)
	wrapped := RecoveryMiddleware(h)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), TypeInternal)
	assert.NotContains(t, rec.Body.String(), "boom")
}
