package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(buf *bytes.Buffer, includeStack bool) *ErrorHandler {
	return NewErrorHandler(slog.New(slog.NewJSONHandler(buf, nil)), includeStack)
}

func TestErrorToProblem(t *testing.T) {
	h := newTestHandler(&bytes.Buffer{}, false)
	r := httptest.NewRequest(http.MethodGet, "/api/v1/runs/abc", nil)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantDetail string
	}{
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout, ""},
		{"canceled wrapped", fmt.Errorf("assemble: %w", context.Canceled), http.StatusGatewayTimeout, TypeTimeout, ""},
		{"max bytes", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, TypePayloadTooLarge, ""},
		{"api run not found", ErrRunNotFound, http.StatusNotFound, TypeRunNotFound, "Comparison run not found"},
		{"api validation", ErrValidation("mode", "unknown"), http.StatusBadRequest, TypeValidation, ""},
		{"api not comparable", ErrNotComparable, http.StatusUnprocessableEntity, TypeNotComparable, ""},
		{"app validation", NewAppValidationError("unknown grouping mode \"CELL\""), http.StatusBadRequest, TypeValidation, "unknown grouping mode \"CELL\""},
		{"app not found", NewNotFoundError("run abc"), http.StatusNotFound, TypeNotFound, "run abc not found"},
		{"app not comparable", NewNotComparableError("5G"), http.StatusUnprocessableEntity, TypeNotComparable, ""},
		{"app parsing", NewParsingError("failed to read records", nil), http.StatusUnprocessableEntity, TypeDataUnparseable, ""},
		{"app conflict", NewConflictError("run is still processing"), http.StatusConflict, TypeConflict, ""},
		{"app storage hides message", NewStorageError("open /secret/path", nil), http.StatusInternalServerError, TypeStorage, "The server could not read or write run data"},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError, TypeInternal, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := h.ErrorToProblem(tt.err, r)
			assert.Equal(t, tt.wantStatus, problem.Status)
			assert.Equal(t, tt.wantType, problem.Type)
			assert.Equal(t, "/api/v1/runs/abc", problem.Instance)
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, problem.Detail)
			}
		})
	}
}

func TestErrorToProblem_ContextExtensions(t *testing.T) {
	h := newTestHandler(&bytes.Buffer{}, false)
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	client := h.ErrorToProblem(NewAppValidationError("bad start").WithContext("value", "2024-13-01"), r)
	assert.Equal(t, "2024-13-01", client.Extensions["value"])
	assert.Equal(t, "VALIDATION", client.Extensions["error_type"])

	server := h.ErrorToProblem(NewStorageError("disk", nil).WithContext("path", "/var/data"), r)
	assert.NotContains(t, server.Extensions, "path")
}

func TestHandleError(t *testing.T) {
	var logs bytes.Buffer
	h := newTestHandler(&logs, false)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		h.HandleError(w, r, NewNotFoundError("run "+chi.URLParam(r, "id")))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/r1", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run r1 not found", body["detail"])
	assert.NotEmpty(t, body["trace_id"])
	assert.NotContains(t, body, "stack")

	assert.Contains(t, logs.String(), `"level":"WARN"`)
	assert.Contains(t, logs.String(), "request failed")

	// nil errors write nothing
	rec = httptest.NewRecorder()
	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Zero(t, rec.Body.Len())
}

func TestHandleError_IncludeStack(t *testing.T) {
	h := newTestHandler(&bytes.Buffer{}, true)

	rec := httptest.NewRecorder()
	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("boom"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(http.StatusInternalServerError), body["status"])
	assert.NotEmpty(t, body["stack"])
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	h := newTestHandler(&bytes.Buffer{}, false)

	router := chi.NewRouter()
	router.NotFound(h.NotFound)
	router.MethodNotAllowed(h.MethodNotAllowed)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), TypeMethodNotAllowed)
}
