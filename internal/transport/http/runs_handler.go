package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	gorillaws "github.com/gorilla/websocket"

	"kpicompare/internal/config"
	apierrors "kpicompare/internal/errors"
	"kpicompare/internal/infrastructure"
	"kpicompare/internal/middleware"
	"kpicompare/internal/operations"
	"kpicompare/internal/services"
	ws "kpicompare/internal/websocket"
	"kpicompare/pkg/contracts/domain"
)

// archiveField is the multipart field carrying the zip upload
const archiveField = "archive"

// multipartMemory is how much of an upload is held in memory before
// spilling to a temp file
const multipartMemory = 8 << 20

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeCSV  = "text/csv; charset=utf-8"
)

// RunService is the part of services.ComparisonService the runs API uses
type RunService interface {
	SubmitArchive(ctx context.Context, r io.ReaderAt, size int64, req services.ArchiveRequest) (*domain.Run, error)
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context, filter operations.RunFilter) []*domain.Run
	DeleteRun(ctx context.Context, id string) error
	Family(ctx context.Context, runID, family string) (*domain.FamilyResult, error)
	Table(ctx context.Context, q services.TableQuery) (*domain.Table, error)
	Chart(ctx context.Context, q services.TableQuery) ([]domain.ChartSeries, error)
	Rank(ctx context.Context, q services.RankQuery) (*domain.Ranking, error)
	ExportWorkbook(ctx context.Context, runID string, w io.Writer) error
	ExportCSV(ctx context.Context, q services.TableQuery, w io.Writer) error
}

// RunsHandlerOptions configures the runs handler
type RunsHandlerOptions struct {
	MaxUploadBytes  int64
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
}

// RunsHandler serves comparison runs: archive submission, run status,
// per-family tables, charts and rankings, exports and live progress
type RunsHandler struct {
	service      RunService
	hub          *ws.Hub
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	upgrader     gorillaws.Upgrader
	maxUpload    int64
	logger       *slog.Logger
}

// NewRunsHandler creates a new runs handler. hub may be nil, in which case
// the progress endpoint answers 503.
func NewRunsHandler(service RunService, hub *ws.Hub, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, opts RunsHandlerOptions, logger *slog.Logger) *RunsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = middleware.NewValidator(logger)
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = config.DefaultMaxUploadBytes
	}

	origins := opts.AllowedOrigins
	return &RunsHandler{
		service:      service,
		hub:          hub,
		validator:    validator,
		errorHandler: errorHandler,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.OriginAllowed(origins, origin)
			},
		},
		maxUpload: opts.MaxUploadBytes,
		logger:    logger.With(slog.String("component", "runs_handler")),
	}
}

// Routes returns the runs router, mounted at config.RunsEndpoint
func (h *RunsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.SubmitRun)
	r.Get("/", h.ListRuns)

	r.Route("/{runID}", func(r chi.Router) {
		r.Get("/", h.GetRun)
		r.Delete("/", h.DeleteRun)
		r.Get("/progress", h.Progress)
		r.Get("/export.xlsx", h.ExportWorkbook)

		r.Route("/families/{family}", func(r chi.Router) {
			r.Use(h.familyCtx)
			r.Get("/", h.GetFamily)
			r.Get("/table", h.GetTable)
			r.Get("/table.csv", h.ExportCSV)
			r.Get("/chart", h.GetChart)
			r.Get("/rank", h.GetRank)
		})
	})

	return r
}

// familyCtx rejects family path segments that cannot name a family
func (h *RunsHandler) familyCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		family := struct {
			Name string `json:"family" validate:"family"`
		}{Name: chi.URLParam(r, "family")}
		if err := h.validator.ValidateStruct(family); err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SubmitRun handles POST /api/v1/runs. The body is a multipart form with
// the zip archive in "archive" and optional before_start and after_start
// fields. The run executes asynchronously; 202 points at its status.
func (h *RunsHandler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(archiveField)
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrMissingArchive)
		return
	}
	defer file.Close()

	req := services.ArchiveRequest{
		Source:      header.Filename,
		BeforeStart: strings.TrimSpace(r.FormValue("before_start")),
		AfterStart:  strings.TrimSpace(r.FormValue("after_start")),
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	size, err := uploadSize(file, header)
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	h.logger.InfoContext(ctx, "archive received",
		slog.String("request_id", middleware.GetRequestID(ctx)),
		slog.String("filename", header.Filename),
		slog.Int64("size", size),
	)

	run, err := h.service.SubmitArchive(ctx, file, size, req)
	if err != nil {
		if errors.Is(err, services.ErrServiceClosed) {
			err = apierrors.ErrServiceUnavailable
		}
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("%s/%s", config.RunsEndpoint, run.ID))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, services.RunSummary(run))
}

// uploadSize returns the size of an uploaded file, seeking to the end when
// the header does not record it
func uploadSize(file multipart.File, header *multipart.FileHeader) (int64, error) {
	if header.Size > 0 {
		return header.Size, nil
	}
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	_, err = file.Seek(0, io.SeekStart)
	return end, err
}

// ListRuns handles GET /api/v1/runs?status=&limit=
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := operations.RunFilter{}

	if status := query.Get("status"); status != "" {
		switch s := domain.RunStatus(strings.ToLower(status)); s {
		case domain.RunStatusPending, domain.RunStatusRunning, domain.RunStatusCompleted, domain.RunStatusFailed:
			filter.Status = s
		default:
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("status", "status must be one of: pending, running, completed, failed"))
			return
		}
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("limit", "limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}

	runs := h.service.ListRuns(r.Context(), filter)
	summaries := make([]map[string]interface{}, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, services.RunSummary(run))
	}

	render.JSON(w, r, map[string]interface{}{
		"runs":  summaries,
		"count": len(summaries),
	})
}

// GetRun handles GET /api/v1/runs/{runID}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, services.RunSummary(run))
}

// DeleteRun handles DELETE /api/v1/runs/{runID}
func (h *RunsHandler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := h.service.DeleteRun(r.Context(), runID); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "run deleted", slog.String("run_id", runID))
	render.NoContent(w, r)
}

// GetFamily handles GET /api/v1/runs/{runID}/families/{family}. Tables are
// served by the table endpoints; this returns what can be selected.
func (h *RunsHandler) GetFamily(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Family(r.Context(), chi.URLParam(r, "runID"), chi.URLParam(r, "family"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"family":      result.Family,
		"comparable":  result.Comparable,
		"datetimes":   result.Datetimes,
		"counters":    result.Counters,
		"node_names":  result.NodeNames,
		"before_rows": result.Before.Len(),
		"after_rows":  result.After.Len(),
	})
}

// GetTable handles GET .../families/{family}/table?phase=&counter=&nodes=&from=&to=&mode=&method=
func (h *RunsHandler) GetTable(w http.ResponseWriter, r *http.Request) {
	q, err := h.tableQuery(r, "")
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	table, err := h.service.Table(r.Context(), q)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"phase":   q.Phase,
		"columns": table.Columns,
		"rows":    table.Rows,
		"count":   table.Len(),
	})
}

// ExportCSV handles GET .../families/{family}/table.csv with the table query
func (h *RunsHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	q, err := h.tableQuery(r, "")
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := h.service.ExportCSV(r.Context(), q, &buf); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	filename := fmt.Sprintf("kpi_%s_%s_%s.csv", strings.ToUpper(q.Family), strings.ToLower(q.Phase), shortID(q.RunID))
	writeAttachment(w, contentTypeCSV, filename, buf.Bytes())
}

// GetChart handles GET .../families/{family}/chart?counter=&phase=&mode=&method=
func (h *RunsHandler) GetChart(w http.ResponseWriter, r *http.Request) {
	q, err := h.tableQuery(r, string(domain.PhaseBefore))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	series, err := h.service.Chart(r.Context(), q)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"counter": q.Counter,
		"phase":   q.Phase,
		"series":  series,
	})
}

// GetRank handles GET .../families/{family}/rank?counter=&datetime=&phase=&n=&nodes=
func (h *RunsHandler) GetRank(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := services.RankQuery{
		RunID:    chi.URLParam(r, "runID"),
		Family:   chi.URLParam(r, "family"),
		Phase:    strings.ToUpper(defaultString(query.Get("phase"), string(domain.PhaseBefore))),
		Counter:  query.Get("counter"),
		Datetime: query.Get("datetime"),
		Nodes:    splitList(query["nodes"]),
	}
	if n := query.Get("n"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil || v < 1 {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("n", "n must be a positive integer"))
			return
		}
		q.N = v
	}
	if err := h.validator.ValidateStruct(q); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ranking, err := h.service.Rank(r.Context(), q)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, ranking)
}

// ExportWorkbook handles GET /api/v1/runs/{runID}/export.xlsx
func (h *RunsHandler) ExportWorkbook(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var buf bytes.Buffer
	if err := h.service.ExportWorkbook(r.Context(), runID, &buf); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "workbook exported",
		slog.String("run_id", runID),
		slog.Int("bytes", buf.Len()))
	writeAttachment(w, contentTypeXLSX, fmt.Sprintf("kpi_compare_%s.xlsx", shortID(runID)), buf.Bytes())
}

// Progress handles GET /api/v1/runs/{runID}/progress as a websocket. The
// client first receives the run's current status, then every event the run
// publishes until the connection closes.
func (h *RunsHandler) Progress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "runID")

	if h.hub == nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrServiceUnavailable)
		return
	}

	run, err := h.service.GetRun(ctx, runID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	// Upgrade writes its own HTTP error on failure
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()))
		return
	}

	client := ws.NewClient(h.hub, conn, runID, infrastructure.GetTraceID(ctx), h.logger)
	client.Enqueue(ws.TypeConnection, map[string]interface{}{
		"client_id": client.ID(),
		"run_id":    runID,
	})
	client.Enqueue(ws.TypeRunStatus, services.RunSummary(run))
	switch run.Status {
	case domain.RunStatusCompleted:
		client.Enqueue(ws.TypeRunComplete, services.RunSummary(run))
	case domain.RunStatusFailed:
		client.Enqueue(ws.TypeRunFailed, map[string]interface{}{"error": run.Error})
	}
	client.Start()

	h.logger.DebugContext(ctx, "progress client connected",
		slog.String("run_id", runID),
		slog.String("client_id", client.ID()))
}

// tableQuery builds a validated TableQuery from the path and query string.
// defaultPhase applies when the phase parameter is absent; an empty
// defaultPhase makes it required.
func (h *RunsHandler) tableQuery(r *http.Request, defaultPhase string) (services.TableQuery, error) {
	query := r.URL.Query()
	q := services.TableQuery{
		RunID:   chi.URLParam(r, "runID"),
		Family:  chi.URLParam(r, "family"),
		Phase:   strings.ToUpper(defaultString(query.Get("phase"), defaultPhase)),
		Counter: query.Get("counter"),
		Nodes:   splitList(query["nodes"]),
		Mode:    strings.ToUpper(query.Get("mode")),
		Method:  strings.ToUpper(query.Get("method")),
	}

	for _, p := range []struct {
		name string
		dst  **int
	}{{"from", &q.From}, {"to", &q.To}} {
		raw := query.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return q, apierrors.ErrValidation(p.name, fmt.Sprintf("%s must be a valid integer", p.name))
		}
		*p.dst = &v
	}

	if err := h.validator.ValidateStruct(q); err != nil {
		return q, err
	}
	return q, nil
}

// splitList flattens repeated and comma-separated query values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
