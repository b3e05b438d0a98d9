package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"kpicompare/internal/config"
	"kpicompare/internal/dataprocessing"
	apperrors "kpicompare/internal/errors"
	"kpicompare/internal/exporter"
	"kpicompare/internal/files"
	"kpicompare/internal/infrastructure"
	"kpicompare/internal/operations"
	ws "kpicompare/internal/websocket"
	"kpicompare/pkg/contracts/domain"
)

// TracerName is the instrumentation scope of comparison runs
const TracerName = "kpicompare.services"

// PhaseCompare selects the merged comparison table of a family
const PhaseCompare = "COMPARE"

// CompareRequest describes a comparison over two snapshot directories
type CompareRequest struct {
	BeforeDir   string
	AfterDir    string
	BeforeStart string
	AfterStart  string
	Source      string
}

// ArchiveRequest describes a comparison over an uploaded zip archive
type ArchiveRequest struct {
	Source      string `json:"source"`
	BeforeStart string `json:"before_start" validate:"omitempty,startbound"`
	AfterStart  string `json:"after_start" validate:"omitempty,startbound"`
}

// TableQuery selects, filters and optionally aggregates one table of a
// finished run. From and To are inclusive datetime column indexes.
type TableQuery struct {
	RunID   string   `json:"run_id" validate:"required"`
	Family  string   `json:"family" validate:"required"`
	Phase   string   `json:"phase" validate:"required,oneof=BEFORE AFTER COMPARE"`
	Counter string   `json:"counter,omitempty"`
	Nodes   []string `json:"nodes,omitempty"`
	From    *int     `json:"from,omitempty" validate:"omitempty,gte=0"`
	To      *int     `json:"to,omitempty" validate:"omitempty,gte=0"`
	Mode    string   `json:"mode,omitempty" validate:"omitempty,oneof=ALL NODENAME OBJECT"`
	Method  string   `json:"method,omitempty" validate:"omitempty,oneof=AVERAGE MAX MIN SUM"`
}

// RankQuery selects the counter, datetime and nodes of a ranking
type RankQuery struct {
	RunID    string   `json:"run_id" validate:"required"`
	Family   string   `json:"family" validate:"required"`
	Phase    string   `json:"phase" validate:"required,oneof=BEFORE AFTER"`
	Counter  string   `json:"counter" validate:"required"`
	Datetime string   `json:"datetime" validate:"required"`
	Nodes    []string `json:"nodes,omitempty"`
	N        int      `json:"n,omitempty" validate:"omitempty,gte=1,lte=1000"`
}

// ComparisonService runs BEFORE/AFTER comparisons and serves their results
type ComparisonService struct {
	cfg       config.PipelineConfig
	assembler *dataprocessing.Assembler
	files     *files.Manager
	store     operations.RunStore
	publisher ws.Publisher
	workbooks *exporter.WorkbookExporter
	metrics   *infrastructure.BusinessMetrics
	logger    *slog.Logger
	tracer    trace.Tracer

	closing context.Context
	close   context.CancelFunc
	wg      sync.WaitGroup
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, string, interface{}) {}

// NewComparisonService creates the comparison service. publisher and
// metrics may be nil.
func NewComparisonService(
	cfg config.PipelineConfig,
	fm *files.Manager,
	store operations.RunStore,
	publisher ws.Publisher,
	metrics *infrastructure.BusinessMetrics,
	logger *slog.Logger,
) *ComparisonService {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if fm == nil {
		fm = files.NewManager("", cfg.MaxExtractedBytes, logger)
	}
	if len(cfg.Families) == 0 {
		cfg.Families = config.FamilyList(domain.DefaultFamilies())
	}

	closing, cancel := context.WithCancel(context.Background())
	return &ComparisonService{
		cfg: cfg,
		assembler: dataprocessing.NewAssembler(dataprocessing.AssemblerConfig{
			MaxROP:    cfg.MaxROP,
			Extension: cfg.LogExtension,
		}, logger),
		files:     fm,
		store:     store,
		publisher: publisher,
		workbooks: exporter.NewWorkbookExporter(logger),
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "comparison_service")),
		tracer:    otel.Tracer(TracerName),
		closing:   closing,
		close:     cancel,
	}
}

// Compare runs a comparison over two directories and waits for it to finish.
// A run that fails is kept in the store with its error.
func (s *ComparisonService) Compare(ctx context.Context, req CompareRequest) (*domain.Run, error) {
	for _, dir := range []string{req.BeforeDir, req.AfterDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, apperrors.NewAppValidationError(fmt.Sprintf("snapshot directory %q does not exist", dir)).
				WithContext("dir", dir)
		}
	}

	run, err := s.newRun(req.Source, req.BeforeStart, req.AfterStart)
	if err != nil {
		return nil, err
	}

	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	if err := s.execute(ctx, run, req.BeforeDir, req.AfterDir); err != nil {
		return s.snapshot(run.ID), err
	}
	return s.snapshot(run.ID), nil
}

// SubmitArchive extracts a zip holding Before/ and After/ snapshot folders
// and starts a run over it in the background. The returned copy reflects
// the run at submission time.
func (s *ComparisonService) SubmitArchive(ctx context.Context, r io.ReaderAt, size int64, req ArchiveRequest) (*domain.Run, error) {
	if s.closing.Err() != nil {
		return nil, ErrServiceClosed
	}

	workspace, err := s.files.CreateWorkspace("run")
	if err != nil {
		return nil, err
	}

	if err := s.files.ExtractZip(ctx, r, size, workspace); err != nil {
		s.files.RemoveWorkspace(workspace)
		return nil, err
	}
	beforeDir, afterDir, err := s.files.SnapshotDirs(workspace)
	if err != nil {
		s.files.RemoveWorkspace(workspace)
		return nil, err
	}

	run, err := s.newRun(req.Source, req.BeforeStart, req.AfterStart)
	if err != nil {
		s.files.RemoveWorkspace(workspace)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ArchiveBytes.Add(ctx, size)
	}

	// the run outlives the upload request but keeps its trace
	runCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if s.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, s.cfg.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}
	stop := context.AfterFunc(s.closing, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.files.RemoveWorkspace(workspace)
		defer cancel()
		defer stop()

		_ = s.execute(runCtx, run, beforeDir, afterDir)
	}()

	return s.snapshot(run.ID), nil
}

// Shutdown cancels runs in flight and waits for them to record their outcome
func (s *ComparisonService) Shutdown(ctx context.Context) error {
	s.close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ComparisonService) newRun(source, beforeStart, afterStart string) (*domain.Run, error) {
	if beforeStart == "" {
		beforeStart = s.cfg.BeforeStart
	}
	if afterStart == "" {
		afterStart = s.cfg.AfterStart
	}

	before, err := dataprocessing.ParseStartBound(beforeStart)
	if err != nil {
		return nil, err
	}
	after, err := dataprocessing.ParseStartBound(afterStart)
	if err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:          uuid.New().String(),
		Status:      domain.RunStatusPending,
		Source:      source,
		BeforeStart: before.String(),
		AfterStart:  after.String(),
		Families:    make(map[string]*domain.FamilyResult),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Create(run); err != nil {
		return nil, err
	}
	return run, nil
}

type snapshotJob struct {
	family domain.Family
	phase  domain.Phase
	dir    string
	start  dataprocessing.StartBound
}

func (j snapshotJob) part() string {
	return j.family.Name + "/" + string(j.phase)
}

// execute assembles the BEFORE and AFTER snapshot of every family
// concurrently, then merges each family's pair
func (s *ComparisonService) execute(ctx context.Context, run *domain.Run, beforeDir, afterDir string) (err error) {
	ctx = infrastructure.WithRunID(ctx, run.ID)
	ctx, span := s.tracer.Start(ctx, "comparison.run",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("run.before_start", run.BeforeStart),
			attribute.String("run.after_start", run.AfterStart),
		),
	)
	defer span.End()

	start := time.Now()
	if s.metrics != nil {
		s.metrics.ActiveRuns.Add(ctx, 1)
		defer s.metrics.ActiveRuns.Add(ctx, -1)
	}

	defer func() {
		infrastructure.RecordRunMetrics(ctx, s.metrics, time.Since(start), err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "run failed")
			s.fail(ctx, run.ID, start, err)
		}
	}()

	// bounds were validated when the run was created
	beforeBound, _ := dataprocessing.ParseStartBound(run.BeforeStart)
	afterBound, _ := dataprocessing.ParseStartBound(run.AfterStart)

	var jobs []snapshotJob
	for _, fam := range s.cfg.Families {
		jobs = append(jobs,
			snapshotJob{family: fam, phase: domain.PhaseBefore, dir: beforeDir, start: beforeBound},
			snapshotJob{family: fam, phase: domain.PhaseAfter, dir: afterDir, start: afterBound},
		)
	}
	parts := make([]string, len(jobs))
	for i, job := range jobs {
		parts[i] = job.part()
	}

	tracker := operations.NewProgressTracker(parts, s.progressNotifier(run.ID))

	if _, err := s.store.Update(run.ID, func(r *domain.Run) {
		r.Status = domain.RunStatusRunning
	}); err != nil {
		return err
	}
	s.publisher.Publish(run.ID, ws.TypeRunStatus, map[string]interface{}{"status": domain.RunStatusRunning})

	s.logger.InfoContext(ctx, "comparison run started",
		slog.String("run_id", run.ID),
		slog.String("before_dir", beforeDir),
		slog.String("after_dir", afterDir),
		slog.Any("families", s.cfg.Families.Names()))

	tracker.AssembleStarted()

	snapshots := make([]*dataprocessing.Snapshot, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		g.Go(func() error {
			t0 := time.Now()
			snap, err := s.assembler.Assemble(gctx, job.dir, job.family.Prefix, job.start,
				func(done, total int, file string) {
					tracker.FileDone(job.part(), done, total, file)
				})
			if err != nil {
				return fmt.Errorf("%s: %w", job.part(), err)
			}
			snapshots[i] = snap

			infrastructure.RecordSnapshotMetrics(gctx, s.metrics, infrastructure.SnapshotStats{
				Family:               job.family.Name,
				Phase:                string(job.phase),
				Files:                snap.Files,
				Rows:                 snap.Table.Len(),
				MalformedLines:       snap.Diagnostics.MalformedLines,
				ValueCountMismatches: snap.Diagnostics.ValueCountMismatches,
				HeaderVariants:       snap.Diagnostics.HeaderVariants,
				Duration:             time.Since(t0),
			})
			s.publisher.Publish(run.ID, ws.TypeSnapshotDone, map[string]interface{}{
				"family":      job.family.Name,
				"phase":       job.phase,
				"files":       snap.Files,
				"nodes":       snap.Nodes,
				"rows":        snap.Table.Len(),
				"datetimes":   len(snap.Table.DatetimeColumns()),
				"diagnostics": snap.Diagnostics,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	tracker.MergeStarted()

	results := make(map[string]*domain.FamilyResult, len(s.cfg.Families))
	var warnings []string
	for i := 0; i < len(jobs); i += 2 {
		fam := jobs[i].family
		before, after := snapshots[i], snapshots[i+1]

		for _, side := range []struct {
			job  snapshotJob
			snap *dataprocessing.Snapshot
		}{{jobs[i], before}, {jobs[i+1], after}} {
			warnings = append(warnings, snapshotWarnings(side.job.part(), side.snap)...)
		}

		result := summarize(fam, before.Table, after.Table)
		infrastructure.RecordComparison(ctx, s.metrics, fam.Name, result.Comparable)
		if !result.Comparable {
			warnings = append(warnings, fmt.Sprintf("%s: %v", fam.Name, ErrNotComparable))
		}
		results[fam.Name] = result
	}

	tracker.Complete("comparison complete")

	completed := time.Now().UTC()
	final, err := s.store.Update(run.ID, func(r *domain.Run) {
		r.Status = domain.RunStatusCompleted
		r.Families = results
		r.Warnings = warnings
		r.CompletedAt = &completed
		r.Duration = time.Since(start)
	})
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.Int("run.warnings", len(warnings)))
	s.publisher.Publish(run.ID, ws.TypeRunComplete, RunSummary(final))

	s.logger.InfoContext(ctx, "comparison run completed",
		slog.String("run_id", run.ID),
		slog.Duration("duration", final.Duration),
		slog.Int("warnings", len(warnings)))
	return nil
}

func (s *ComparisonService) fail(ctx context.Context, runID string, start time.Time, cause error) {
	completed := time.Now().UTC()
	_, _ = s.store.Update(runID, func(r *domain.Run) {
		r.Status = domain.RunStatusFailed
		r.Error = cause.Error()
		r.CompletedAt = &completed
		r.Duration = time.Since(start)
	})

	s.publisher.Publish(runID, ws.TypeRunFailed, map[string]interface{}{
		"status": domain.RunStatusFailed,
		"error":  cause.Error(),
	})

	s.logger.ErrorContext(ctx, "comparison run failed",
		slog.String("run_id", runID),
		slog.String("error", cause.Error()),
		slog.String("error_type", string(apperrors.TypeOf(cause))))
}

// progressNotifier mirrors tracker events into the store and the hub
func (s *ComparisonService) progressNotifier(runID string) func(operations.ProgressEvent) {
	return func(ev operations.ProgressEvent) {
		_, _ = s.store.Update(runID, func(r *domain.Run) {
			r.Stage = ev.Stage
			r.Progress = ev.Percent
		})
		s.publisher.Publish(runID, ws.TypeRunProgress, ev)
	}
}

func snapshotWarnings(part string, snap *dataprocessing.Snapshot) []string {
	var out []string
	if snap.Files == 0 {
		out = append(out, fmt.Sprintf("%s: no log files found", part))
	} else if snap.Table.IsEmpty() {
		out = append(out, fmt.Sprintf("%s: no lines carried the family prefix", part))
	}
	d := snap.Diagnostics
	if !d.Clean() {
		out = append(out, fmt.Sprintf("%s: %d malformed lines, %d value count mismatches, %d header variants",
			part, d.MalformedLines, d.ValueCountMismatches, d.HeaderVariants))
	}
	return out
}

// summarize merges one family and lists its datetimes, counters and nodes.
// Datetimes come from the BEFORE snapshot unless it has none.
func summarize(fam domain.Family, before, after *domain.Table) *domain.FamilyResult {
	comparison, ok := dataprocessing.Merge(before, after)

	datetimes := before.DatetimeColumns()
	if len(datetimes) == 0 {
		datetimes = after.DatetimeColumns()
	}

	var counters []string
	seen := make(map[string]bool)
	for _, t := range []*domain.Table{before, after} {
		for _, c := range t.Distinct(domain.ColCounter) {
			if !seen[c] {
				seen[c] = true
				counters = append(counters, c)
			}
		}
	}

	nodeSet := make(map[string]bool)
	for _, t := range []*domain.Table{before, after} {
		for _, n := range t.Distinct(domain.ColNodeName) {
			nodeSet[n] = true
		}
	}
	nodes := make([]string, 0, len(nodeSet))
	for n := range nodeSet {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	if datetimes == nil {
		datetimes = []string{}
	}
	if counters == nil {
		counters = []string{}
	}

	return &domain.FamilyResult{
		Family:     fam,
		Before:     before,
		After:      after,
		Comparison: comparison,
		Comparable: ok,
		Datetimes:  datetimes,
		Counters:   counters,
		NodeNames:  nodes,
	}
}

// RunSummary is a run without its tables, for listings and events
func RunSummary(run *domain.Run) map[string]interface{} {
	families := make(map[string]interface{}, len(run.Families))
	for _, name := range run.FamilyNames() {
		r := run.Families[name]
		families[name] = map[string]interface{}{
			"comparable":  r.Comparable,
			"datetimes":   r.Datetimes,
			"counters":    r.Counters,
			"node_names":  r.NodeNames,
			"before_rows": r.Before.Len(),
			"after_rows":  r.After.Len(),
		}
	}

	summary := map[string]interface{}{
		"id":           run.ID,
		"status":       run.Status,
		"source":       run.Source,
		"before_start": run.BeforeStart,
		"after_start":  run.AfterStart,
		"stage":        run.Stage,
		"progress":     run.Progress,
		"families":     families,
		"warnings":     run.Warnings,
		"created_at":   run.CreatedAt,
		"duration":     run.Duration.String(),
	}
	if run.CompletedAt != nil {
		summary["completed_at"] = *run.CompletedAt
	}
	if run.Error != "" {
		summary["error"] = run.Error
	}
	return summary
}

func (s *ComparisonService) snapshot(id string) *domain.Run {
	run, err := s.store.Get(id)
	if err != nil {
		return nil
	}
	return run
}

// GetRun returns a run by ID
func (s *ComparisonService) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	run, err := s.store.Get(id)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrTypeNotFound) {
			return nil, runNotFound(id)
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first
func (s *ComparisonService) ListRuns(ctx context.Context, filter operations.RunFilter) []*domain.Run {
	return s.store.List(filter)
}

// DeleteRun removes a finished run
func (s *ComparisonService) DeleteRun(ctx context.Context, id string) error {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if !run.IsFinished() {
		return runNotReady(id)
	}
	return s.store.Delete(id)
}

// Family returns the result of one family of a completed run
func (s *ComparisonService) Family(ctx context.Context, runID, family string) (*domain.FamilyResult, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunStatusCompleted {
		return nil, runNotReady(runID)
	}
	for name, result := range run.Families {
		if strings.EqualFold(name, family) {
			return result, nil
		}
	}
	return nil, familyNotFound(runID, family)
}

// Table returns one table of a family after filtering and aggregation.
// Datetime ranges and aggregation apply to snapshots only.
func (s *ComparisonService) Table(ctx context.Context, q TableQuery) (*domain.Table, error) {
	_, span := s.tracer.Start(ctx, "comparison.table",
		trace.WithAttributes(
			attribute.String("run.id", q.RunID),
			attribute.String("family", q.Family),
			attribute.String("phase", q.Phase),
		),
	)
	defer span.End()

	result, err := s.Family(ctx, q.RunID, q.Family)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(q.Phase, PhaseCompare) {
		if q.From != nil || q.To != nil || q.Mode != "" || q.Method != "" {
			return nil, apperrors.NewAppValidationError("datetime ranges and aggregation apply to BEFORE and AFTER tables only")
		}
		if !result.Comparable || result.Comparison == nil {
			return nil, notComparable(result.Family.Name)
		}
		return compareColumns(result.Comparison, q.Counter).FilterNodes(q.Nodes), nil
	}

	table, err := phaseTable(result, q.Phase)
	if err != nil {
		return nil, err
	}

	if q.Counter != "" {
		table = table.FilterCounter(q.Counter)
	}
	table = table.FilterNodes(q.Nodes)

	if q.From != nil || q.To != nil {
		from, to := 0, len(table.DatetimeColumns())-1
		if q.From != nil {
			from = *q.From
		}
		if q.To != nil {
			to = *q.To
		}
		if from > to {
			return nil, apperrors.NewAppValidationError(fmt.Sprintf("invalid datetime range %d..%d", from, to))
		}
		table = table.SliceDatetimes(from, to)
	}

	if q.Mode != "" || q.Method != "" {
		mode, method, err := parseAggregation(q.Mode, q.Method)
		if err != nil {
			return nil, err
		}
		if q.Counter != "" {
			return dataprocessing.Aggregate(table, mode, method), nil
		}
		// without a counter an ALL row could mix counters under one label
		return dataprocessing.AggregateStrict(table, mode, method)
	}
	return table, nil
}

// Chart returns the per-row time series of a counter, aggregated with the
// query's mode and method (ALL and AVERAGE when omitted)
func (s *ComparisonService) Chart(ctx context.Context, q TableQuery) ([]domain.ChartSeries, error) {
	if q.Counter == "" {
		return nil, apperrors.NewAppValidationError("a counter is required for chart series")
	}
	if strings.EqualFold(q.Phase, PhaseCompare) {
		return nil, apperrors.NewAppValidationError("chart series are built from BEFORE or AFTER tables")
	}
	if q.Mode == "" {
		q.Mode = string(domain.GroupAll)
	}
	if q.Method == "" {
		q.Method = string(domain.MethodAverage)
	}

	table, err := s.Table(ctx, q)
	if err != nil {
		return nil, err
	}
	return dataprocessing.BuildChartSeries(table), nil
}

// Rank lists the lowest and highest nodes of a counter at one datetime
func (s *ComparisonService) Rank(ctx context.Context, q RankQuery) (*domain.Ranking, error) {
	result, err := s.Family(ctx, q.RunID, q.Family)
	if err != nil {
		return nil, err
	}
	table, err := phaseTable(result, q.Phase)
	if err != nil {
		return nil, err
	}

	n := q.N
	if n <= 0 {
		n = s.cfg.RankSize
	}

	selected := table.FilterCounter(q.Counter).FilterNodes(q.Nodes)
	lowest, highest, err := dataprocessing.Rank(selected, q.Datetime, n)
	if err != nil {
		return nil, err
	}

	return &domain.Ranking{
		Counter:  q.Counter,
		Datetime: q.Datetime,
		Phase:    domain.Phase(strings.ToUpper(q.Phase)),
		Lowest:   lowest,
		Highest:  highest,
	}, nil
}

// ExportWorkbook writes the xlsx workbook of a completed run to w
func (s *ComparisonService) ExportWorkbook(ctx context.Context, runID string, w io.Writer) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != domain.RunStatusCompleted {
		return runNotReady(runID)
	}
	if err := s.workbooks.Write(w, run); err != nil {
		return apperrors.NewStorageError("failed to export workbook", err).WithContext("run_id", runID)
	}
	return nil
}

// SaveWorkbook writes the xlsx workbook of a completed run to path
func (s *ComparisonService) SaveWorkbook(ctx context.Context, runID, path string) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != domain.RunStatusCompleted {
		return runNotReady(runID)
	}
	if err := s.workbooks.Save(path, run); err != nil {
		return apperrors.NewStorageError("failed to save workbook", err).WithContext("path", path)
	}
	return nil
}

// ExportCSV writes one selected table as CSV. Comparison tables keep their
// three-row header.
func (s *ComparisonService) ExportCSV(ctx context.Context, q TableQuery, w io.Writer) error {
	table, err := s.Table(ctx, q)
	if err != nil {
		return err
	}
	return exporter.WriteTable(w, table, exporter.WriteOptions{
		BOMPrefix:    true,
		Hierarchical: strings.EqualFold(q.Phase, PhaseCompare),
	})
}

// ActiveRuns counts runs that have not finished
func (s *ComparisonService) ActiveRuns() int {
	active := 0
	for _, run := range s.store.List(operations.RunFilter{}) {
		if !run.IsFinished() {
			active++
		}
	}
	return active
}

func phaseTable(result *domain.FamilyResult, phase string) (*domain.Table, error) {
	var table *domain.Table
	switch domain.Phase(strings.ToUpper(phase)) {
	case domain.PhaseBefore:
		table = result.Before
	case domain.PhaseAfter:
		table = result.After
	default:
		return nil, apperrors.NewAppValidationError(fmt.Sprintf("unknown phase %q", phase))
	}
	if table == nil {
		table = domain.NewTable(domain.KeyColumns)
	}
	return table, nil
}

func parseAggregation(modeName, methodName string) (domain.GroupMode, domain.Method, error) {
	if modeName == "" {
		modeName = string(domain.GroupAll)
	}
	if methodName == "" {
		methodName = string(domain.MethodAverage)
	}
	mode, err := dataprocessing.ParseGroupMode(modeName)
	if err != nil {
		return "", "", err
	}
	method, err := dataprocessing.ParseMethod(methodName)
	if err != nil {
		return "", "", err
	}
	return mode, method, nil
}

// compareColumns keeps the NODENAME and Object columns plus the columns of
// counter; an empty counter keeps everything
func compareColumns(t *domain.Table, counter string) *domain.Table {
	if counter == "" {
		return t
	}
	var cols []string
	for _, c := range t.Columns {
		if domain.IsKeyColumn(c) {
			cols = append(cols, c)
			continue
		}
		if _, _, cc := dataprocessing.SplitColumnName(c); cc == counter {
			cols = append(cols, c)
		}
	}
	return t.Reindex(cols)
}
