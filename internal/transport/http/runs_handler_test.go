package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kpicompare/internal/config"
	apierrors "kpicompare/internal/errors"
	"kpicompare/internal/middleware"
	"kpicompare/internal/operations"
	"kpicompare/internal/services"
	ws "kpicompare/internal/websocket"
	"kpicompare/pkg/contracts/domain"
)

// MockRunService is a mock implementation of RunService
type MockRunService struct {
	mock.Mock
}

func (m *MockRunService) SubmitArchive(ctx context.Context, r io.ReaderAt, size int64, req services.ArchiveRequest) (*domain.Run, error) {
	args := m.Called(ctx, r, size, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Run), args.Error(1)
}

func (m *MockRunService) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Run), args.Error(1)
}

func (m *MockRunService) ListRuns(ctx context.Context, filter operations.RunFilter) []*domain.Run {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*domain.Run)
}

func (m *MockRunService) DeleteRun(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRunService) Family(ctx context.Context, runID, family string) (*domain.FamilyResult, error) {
	args := m.Called(ctx, runID, family)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FamilyResult), args.Error(1)
}

func (m *MockRunService) Table(ctx context.Context, q services.TableQuery) (*domain.Table, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Table), args.Error(1)
}

func (m *MockRunService) Chart(ctx context.Context, q services.TableQuery) ([]domain.ChartSeries, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ChartSeries), args.Error(1)
}

func (m *MockRunService) Rank(ctx context.Context, q services.RankQuery) (*domain.Ranking, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Ranking), args.Error(1)
}

func (m *MockRunService) ExportWorkbook(ctx context.Context, runID string, w io.Writer) error {
	return m.Called(ctx, runID, w).Error(0)
}

func (m *MockRunService) ExportCSV(ctx context.Context, q services.TableQuery, w io.Writer) error {
	return m.Called(ctx, q, w).Error(0)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupRunsRouter mounts a runs handler backed by a mock service
func setupRunsRouter(t *testing.T, hub *ws.Hub) (chi.Router, *MockRunService) {
	t.Helper()
	service := &MockRunService{}
	logger := quietLogger()
	handler := NewRunsHandler(service, hub, middleware.NewValidator(logger),
		apierrors.NewErrorHandler(logger, false), RunsHandlerOptions{MaxUploadBytes: 1 << 20}, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Mount(config.RunsEndpoint, handler.Routes())

	t.Cleanup(func() { service.AssertExpectations(t) })
	return r, service
}

func completedRun() *domain.Run {
	done := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &domain.Run{
		ID:          "0123456789abcdef",
		Status:      domain.RunStatusCompleted,
		Source:      "logs.zip",
		BeforeStart: domain.NoStart,
		AfterStart:  domain.NoStart,
		Progress:    100,
		CreatedAt:   done.Add(-time.Minute),
		CompletedAt: &done,
		Families: map[string]*domain.FamilyResult{
			"LTE": {
				Family:     domain.Family{Name: "LTE", Prefix: "GREP_KPI_LTE"},
				Before:     &domain.Table{Columns: []string{"NODENAME", "Object"}, Rows: [][]string{{"A", "o"}}},
				Comparable: true,
				Datetimes:  []string{"2024-01-01 00:00"},
				Counters:   []string{"pmA"},
				NodeNames:  []string{"A"},
			},
		},
	}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func archiveUpload(t *testing.T, fields map[string]string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if content != nil {
		part, err := mw.CreateFormFile(archiveField, "logs.zip")
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestRunsHandler_SubmitRun(t *testing.T) {
	r, service := setupRunsRouter(t, nil)
	content := []byte("PK\x03\x04 pretend zip")

	want := services.ArchiveRequest{Source: "logs.zip", BeforeStart: "2024-01-01 00:10", AfterStart: domain.NoStart}
	service.On("SubmitArchive", mock.Anything, mock.Anything, int64(len(content)), want).
		Return(&domain.Run{ID: "run-1", Status: domain.RunStatusPending, Source: "logs.zip"}, nil)

	body, contentType := archiveUpload(t, map[string]string{
		"before_start": "2024-01-01 00:10",
		"after_start":  "NO_START",
	}, content)
	req := httptest.NewRequest(http.MethodPost, config.RunsEndpoint, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, config.RunsEndpoint+"/run-1", rec.Header().Get("Location"))
	resp := decodeJSON(t, rec)
	assert.Equal(t, "run-1", resp["id"])
	assert.Equal(t, "pending", resp["status"])
}

func TestRunsHandler_SubmitRun_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		content  []byte
		wantCode int
		wantErr  string
	}{
		{"missing archive", nil, nil, http.StatusBadRequest, "MISSING_ARCHIVE"},
		{"bad start", map[string]string{"before_start": "last tuesday"}, []byte("PK"), http.StatusBadRequest, "VALIDATION_FAILED"},
		{"too large", nil, bytes.Repeat([]byte("x"), 2<<20), http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := setupRunsRouter(t, nil)

			body, contentType := archiveUpload(t, tt.fields, tt.content)
			req := httptest.NewRequest(http.MethodPost, config.RunsEndpoint, body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeJSON(t, rec)["error_code"])
		})
	}
}

func TestRunsHandler_SubmitRun_ServiceClosed(t *testing.T) {
	r, service := setupRunsRouter(t, nil)
	service.On("SubmitArchive", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, services.ErrServiceClosed)

	body, contentType := archiveUpload(t, nil, []byte("PK"))
	req := httptest.NewRequest(http.MethodPost, config.RunsEndpoint, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunsHandler_ListRuns(t *testing.T) {
	r, service := setupRunsRouter(t, nil)
	service.On("ListRuns", mock.Anything, operations.RunFilter{Status: domain.RunStatusCompleted, Limit: 5}).
		Return([]*domain.Run{completedRun()})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"?status=COMPLETED&limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON(t, rec)
	assert.EqualValues(t, 1, resp["count"])
	runs := resp["runs"].([]interface{})
	first := runs[0].(map[string]interface{})
	assert.Equal(t, "0123456789abcdef", first["id"])
	assert.Contains(t, first["families"], "LTE")

	for _, query := range []string{"?status=paused", "?limit=0", "?limit=many"} {
		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestRunsHandler_GetAndDeleteRun(t *testing.T) {
	r, service := setupRunsRouter(t, nil)
	service.On("GetRun", mock.Anything, "0123456789abcdef").Return(completedRun(), nil)
	service.On("GetRun", mock.Anything, "missing").Return(nil, apierrors.NewNotFoundError("run missing"))
	service.On("DeleteRun", mock.Anything, "0123456789abcdef").Return(nil)
	service.On("DeleteRun", mock.Anything, "busy").Return(apierrors.NewConflictError("run busy has not finished"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"/0123456789abcdef", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decodeJSON(t, rec)["status"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decodeJSON(t, rec)["trace_id"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, config.RunsEndpoint+"/0123456789abcdef", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, config.RunsEndpoint+"/busy", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunsHandler_GetFamily(t *testing.T) {
	r, service := setupRunsRouter(t, nil)
	service.On("Family", mock.Anything, "r1", "lte").Return(completedRun().Families["LTE"], nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"/r1/families/lte", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON(t, rec)
	assert.Equal(t, true, resp["comparable"])
	assert.EqualValues(t, 1, resp["before_rows"])
	assert.EqualValues(t, 0, resp["after_rows"])
	assert.Equal(t, []interface{}{"pmA"}, resp["counters"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"/r1/families/no-such%20family", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func intPtr(v int) *int { return &v }

func TestRunsHandler_GetTable(t *testing.T) {
	table := &domain.Table{
		Columns: []string{"NODENAME", "Object", "Counter", "2024-01-01 00:00"},
		Rows:    [][]string{{"A", "ALL", "pmA", "1.5"}},
	}

	tests := []struct {
		name      string
		query     string
		want      *services.TableQuery
		wantCode  int
		serviceFn func(*MockRunService, services.TableQuery)
	}{
		{
			name:  "aggregated",
			query: "phase=before&counter=pmA&nodes=A,B&nodes=C&from=0&to=1&mode=nodename&method=sum",
			want: &services.TableQuery{
				RunID: "r1", Family: "LTE", Phase: "BEFORE", Counter: "pmA",
				Nodes: []string{"A", "B", "C"}, From: intPtr(0), To: intPtr(1),
				Mode: "NODENAME", Method: "SUM",
			},
			wantCode: http.StatusOK,
		},
		{
			name:     "compare",
			query:    "phase=compare",
			want:     &services.TableQuery{RunID: "r1", Family: "LTE", Phase: "COMPARE"},
			wantCode: http.StatusOK,
		},
		{name: "missing phase", query: "counter=pmA", wantCode: http.StatusBadRequest},
		{name: "bad phase", query: "phase=during", wantCode: http.StatusBadRequest},
		{name: "bad mode", query: "phase=after&mode=cell", wantCode: http.StatusBadRequest},
		{name: "bad index", query: "phase=after&from=first", wantCode: http.StatusBadRequest},
		{name: "negative index", query: "phase=after&to=-1", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, service := setupRunsRouter(t, nil)
			if tt.want != nil {
				service.On("Table", mock.Anything, *tt.want).Return(table, nil)
			}

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"/r1/families/LTE/table?"+tt.query, nil))

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				resp := decodeJSON(t, rec)
				assert.EqualValues(t, 1, resp["count"])
				assert.Len(t, resp["columns"], 4)
			}
		})
	}
}

func TestRunsHandler_GetTable_NotComparable(t *testing.T) {
	r, service := setupRunsRouter(t, nil)
	service.On("Table", mock.Anything, mock.Anything).Return(nil, apierrors.NewNotComparableError("5G"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"/r1/families/5G/table?phase=COMPARE", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRunsHandler_GetChart(t *testing.T) {
	r, service := setupRunsRouter(t, nil)
	v := 2.5
	series := []domain.ChartSeries{{
		NodeName: "ALL", Object: "ALL", Counter: "pmA",
		Points: []domain.ChartPoint{{Datetime: "2024-01-01 00:00", Value: &v}, {Datetime: "2024-01-01 00:15"}},
	}}
	service.On("Chart", mock.Anything, services.TableQuery{
		RunID: "r1", Family: "LTE", Phase: "BEFORE", Counter: "pmA",
	}).Return(series, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"/r1/families/LTE/chart?counter=pmA", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON(t, rec)
	assert.Equal(t, "BEFORE", resp["phase"])
	points := resp["series"].([]interface{})[0].(map[string]interface{})["points"].([]interface{})
	assert.Nil(t, points[1].(map[string]interface{})["value"])
}

func TestRunsHandler_GetRank(t *testing.T) {
	r, service := setupRunsRouter(t, nil)
	service.On("Rank", mock.Anything, services.RankQuery{
		RunID: "r1", Family: "LTE", Phase: "AFTER", Counter: "pmA",
		Datetime: "2024-01-01 00:00", Nodes: []string{"A", "B"}, N: 3,
	}).Return(&domain.Ranking{
		Counter: "pmA", Datetime: "2024-01-01 00:00", Phase: domain.PhaseAfter,
		Lowest:  []domain.RankEntry{{NodeName: "A", Value: 1}},
		Highest: []domain.RankEntry{{NodeName: "B", Value: 9}},
	}, nil)

	query := url.Values{
		"phase":    {"after"},
		"counter":  {"pmA"},
		"datetime": {"2024-01-01 00:00"},
		"nodes":    {"A,B"},
		"n":        {"3"},
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"/r1/families/LTE/rank?"+query.Encode(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON(t, rec)
	assert.Equal(t, "AFTER", resp["phase"])
	assert.Len(t, resp["highest"], 1)

	for _, q := range []string{"datetime=x", "counter=pmA", "counter=pmA&datetime=x&n=0", "counter=pmA&datetime=x&n=lots"} {
		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"/r1/families/LTE/rank?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRunsHandler_Exports(t *testing.T) {
	r, service := setupRunsRouter(t, nil)
	service.On("ExportWorkbook", mock.Anything, "0123456789abcdef", mock.Anything).
		Run(func(args mock.Arguments) {
			_, _ = args.Get(2).(io.Writer).Write([]byte("xlsx-bytes"))
		}).Return(nil)
	service.On("ExportWorkbook", mock.Anything, "pending", mock.Anything).
		Return(apierrors.NewConflictError("run pending has not completed"))
	service.On("ExportCSV", mock.Anything, services.TableQuery{RunID: "0123456789abcdef", Family: "LTE", Phase: "COMPARE"}, mock.Anything).
		Run(func(args mock.Arguments) {
			_, _ = args.Get(2).(io.Writer).Write([]byte("NODENAME\n"))
		}).Return(nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"/0123456789abcdef/export.xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeXLSX, rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="kpi_compare_01234567.xlsx"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "xlsx-bytes", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"/pending/export.xlsx", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "json")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"/0123456789abcdef/families/LTE/table.csv?phase=compare", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeCSV, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "kpi_LTE_compare_01234567.csv")
	assert.Equal(t, "NODENAME\n", rec.Body.String())
}

func TestRunsHandler_Progress(t *testing.T) {
	hub := ws.NewHub(quietLogger(), nil)
	hub.Start()
	t.Cleanup(hub.Stop)

	r, service := setupRunsRouter(t, hub)
	running := &domain.Run{ID: "r1", Status: domain.RunStatusRunning, Progress: 40}
	service.On("GetRun", mock.Anything, "r1").Return(running, nil)
	service.On("GetRun", mock.Anything, "missing").Return(nil, apierrors.NewNotFoundError("run missing"))

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + config.RunsEndpoint

	_, resp, err := gorillaws.DefaultDialer.Dial(wsURL+"/missing/progress", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL+"/r1/progress", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() ws.Message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg ws.Message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	assert.Equal(t, ws.TypeConnection, read().Type)
	status := read()
	assert.Equal(t, ws.TypeRunStatus, status.Type)
	assert.Equal(t, "r1", status.RunID)

	hub.Publish("other-run", ws.TypeRunProgress, map[string]int{"progress": 10})
	hub.Publish("r1", ws.TypeRunProgress, map[string]int{"progress": 60})

	progress := read()
	assert.Equal(t, ws.TypeRunProgress, progress.Type)
	assert.EqualValues(t, 60, progress.Data.(map[string]interface{})["progress"])
}

func TestRunsHandler_Progress_NoHub(t *testing.T) {
	r, _ := setupRunsRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, config.RunsEndpoint+"/r1/progress", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
