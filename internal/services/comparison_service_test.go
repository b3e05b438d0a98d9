package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"kpicompare/internal/config"
	apperrors "kpicompare/internal/errors"
	"kpicompare/internal/files"
	"kpicompare/internal/operations"
	ws "kpicompare/internal/websocket"
	"kpicompare/pkg/contracts/domain"
)

const (
	d0 = "2024-01-01 00:00"
	d1 = "2024-01-01 00:15"
	d2 = "2024-01-02 00:00"
)

type published struct {
	runID   string
	msgType string
	data    interface{}
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
}

func (p *recordingPublisher) Publish(runID, msgType string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{runID, msgType, data})
}

func (p *recordingPublisher) ofType(msgType string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.messages {
		if m.msgType == msgType {
			out = append(out, m)
		}
	}
	return out
}

var fixture = map[string]string{
	"Before/NodeA.log": strings.Join([]string{
		"GREP_KPI_5G; Object; Counter; " + d0 + "; " + d1 + ";",
		"GREP_KPI_5G; Cell=1; pmA; 1; 2;",
		"GREP_KPI_LTE; Object; Counter; " + d0 + ";",
		"GREP_KPI_LTE; Cell=9; pmL; 5;",
	}, "\n"),
	"Before/NodeB.log": strings.Join([]string{
		"GREP_KPI_5G; Object; Counter; " + d0 + "; " + d1 + ";",
		"GREP_KPI_5G; Cell=1; pmA; 3; 4;",
	}, "\n"),
	"After/NodeA.log": strings.Join([]string{
		"GREP_KPI_5G; Object; Counter; " + d2 + ";",
		"GREP_KPI_5G; Cell=1; pmA; 7;",
		"GREP_KPI_5G; Cell=1",
	}, "\n"),
}

func writeFixture(t *testing.T) (before, after string) {
	t.Helper()
	root := t.TempDir()
	for name, content := range fixture {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content+"\n"), 0644))
	}
	return filepath.Join(root, "Before"), filepath.Join(root, "After")
}

func zipFixture(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create("logs/" + name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testPipelineConfig() config.PipelineConfig {
	cfg := config.Default().Pipeline
	cfg.Families = config.FamilyList{
		{Name: "5G", Prefix: "GREP_KPI_5G"},
		{Name: "LTE", Prefix: "GREP_KPI_LTE"},
		{Name: "NR", Prefix: "GREP_KPI_NR"},
	}
	cfg.RunTimeout = time.Minute
	return cfg
}

func newTestService(t *testing.T) (*ComparisonService, *recordingPublisher, *operations.MemoryRunStore) {
	t.Helper()
	pub := &recordingPublisher{}
	store := operations.NewMemoryRunStore(0)
	cfg := testPipelineConfig()
	svc := NewComparisonService(cfg, files.NewManager(t.TempDir(), cfg.MaxExtractedBytes, nil), store, pub, nil, nil)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc, pub, store
}

func completedRun(t *testing.T, svc *ComparisonService) *domain.Run {
	t.Helper()
	before, after := writeFixture(t)
	run, err := svc.Compare(context.Background(), CompareRequest{BeforeDir: before, AfterDir: after, Source: "fixture"})
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, run.Status)
	return run
}

func intPtr(i int) *int { return &i }

func TestCompare(t *testing.T) {
	svc, pub, _ := newTestService(t)
	run := completedRun(t, svc)

	assert.Equal(t, "fixture", run.Source)
	assert.Equal(t, domain.NoStart, run.BeforeStart)
	assert.Equal(t, 100, run.Progress)
	assert.Equal(t, operations.StageComplete, run.Stage)
	assert.NotNil(t, run.CompletedAt)
	assert.Equal(t, []string{"5G", "LTE", "NR"}, run.FamilyNames())

	fiveG := run.Families["5G"]
	assert.True(t, fiveG.Comparable)
	assert.Equal(t, []string{d0, d1}, fiveG.Datetimes)
	assert.Equal(t, []string{"pmA"}, fiveG.Counters)
	assert.Equal(t, []string{"NodeA", "NodeB"}, fiveG.NodeNames)
	assert.Equal(t, 2, fiveG.Before.Len())
	assert.Equal(t, 1, fiveG.After.Len())
	assert.Contains(t, fiveG.Comparison.Columns, d0+"_BEFORE_pmA")
	assert.Contains(t, fiveG.Comparison.Columns, d2+"_AFTER_pmA")

	lte := run.Families["LTE"]
	assert.True(t, lte.Comparable)
	assert.Equal(t, []string{"pmL"}, lte.Counters)
	assert.Equal(t, 0, lte.After.Len())

	nr := run.Families["NR"]
	assert.False(t, nr.Comparable)
	assert.Nil(t, nr.Comparison)
	assert.Empty(t, nr.Counters)

	assert.Contains(t, run.Warnings, "NR: snapshots have no counters to compare")
	assert.Contains(t, run.Warnings, "NR/BEFORE: no lines carried the family prefix")
	assert.Contains(t, run.Warnings, "5G/AFTER: 1 malformed lines, 0 value count mismatches, 0 header variants")

	assert.Len(t, pub.ofType(ws.TypeSnapshotDone), 6)
	assert.Len(t, pub.ofType(ws.TypeRunComplete), 1)
	progress := pub.ofType(ws.TypeRunProgress)
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1].data.(operations.ProgressEvent)
	assert.Equal(t, 100, last.Percent)
	for _, m := range pub.messages {
		assert.Equal(t, run.ID, m.runID)
	}
}

func TestCompare_StartBound(t *testing.T) {
	svc, _, _ := newTestService(t)
	before, after := writeFixture(t)

	run, err := svc.Compare(context.Background(), CompareRequest{
		BeforeDir:   before,
		AfterDir:    after,
		BeforeStart: "2024-01-01 00:15",
	})
	require.NoError(t, err)

	assert.Equal(t, "2024-01-01 00:15", run.BeforeStart)
	assert.Equal(t, []string{d1}, run.Families["5G"].Datetimes)
	assert.Equal(t, []string{"NODENAME", "Object", "Counter", d1}, run.Families["5G"].Before.Columns)
}

func TestCompare_Validation(t *testing.T) {
	svc, _, store := newTestService(t)
	before, _ := writeFixture(t)

	_, err := svc.Compare(context.Background(), CompareRequest{BeforeDir: before, AfterDir: filepath.Join(before, "missing")})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	_, err = svc.Compare(context.Background(), CompareRequest{BeforeDir: before, AfterDir: before, AfterStart: "yesterday"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	assert.Empty(t, store.List(operations.RunFilter{}))
}

func TestCompare_Canceled(t *testing.T) {
	svc, pub, _ := newTestService(t)
	before, after := writeFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := svc.Compare(ctx, CompareRequest{BeforeDir: before, AfterDir: after})
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)
	assert.Len(t, pub.ofType(ws.TypeRunFailed), 1)
}

func TestGetRunAndFamily(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()
	run := completedRun(t, svc)

	_, err := svc.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))

	result, err := svc.Family(ctx, run.ID, "lte")
	require.NoError(t, err)
	assert.Equal(t, "LTE", result.Family.Name)

	_, err = svc.Family(ctx, run.ID, "UMTS")
	assert.True(t, errors.Is(err, ErrFamilyNotFound))

	require.NoError(t, store.Create(&domain.Run{ID: "busy", Status: domain.RunStatusRunning, CreatedAt: time.Now()}))
	_, err = svc.Family(ctx, "busy", "5G")
	assert.True(t, errors.Is(err, ErrRunNotReady))
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConflict))

	assert.True(t, errors.Is(svc.DeleteRun(ctx, "busy"), ErrRunNotReady))
	require.NoError(t, svc.DeleteRun(ctx, run.ID))
	_, err = svc.GetRun(ctx, run.ID)
	assert.True(t, errors.Is(err, ErrRunNotFound))

	assert.Equal(t, 1, svc.ActiveRuns())
}

func TestTable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	run := completedRun(t, svc)

	tests := []struct {
		name        string
		query       TableQuery
		wantColumns []string
		wantRows    [][]string
		wantErrType apperrors.ErrorType
	}{
		{
			name:        "node filter",
			query:       TableQuery{Phase: "BEFORE", Counter: "pmA", Nodes: []string{"NodeB"}},
			wantColumns: []string{"NODENAME", "Object", "Counter", d0, d1},
			wantRows:    [][]string{{"NodeB", "Cell=1", "pmA", "3", "4"}},
		},
		{
			name:        "aggregate all sum",
			query:       TableQuery{Phase: "before", Counter: "pmA", Mode: "ALL", Method: "SUM"},
			wantColumns: []string{"NODENAME", "Object", "Counter", d0, d1},
			wantRows:    [][]string{{"ALL", "Cell=1", "pmA", "4", "6"}},
		},
		{
			name:        "datetime range",
			query:       TableQuery{Phase: "BEFORE", Counter: "pmA", From: intPtr(1), Mode: "NODENAME", Method: "MAX"},
			wantColumns: []string{"NODENAME", "Object", "Counter", d1},
			wantRows:    [][]string{{"NodeA", "Cell=1", "pmA", "2"}, {"NodeB", "Cell=1", "pmA", "4"}},
		},
		{
			name:        "comparison counter columns",
			query:       TableQuery{Phase: "COMPARE", Counter: "pmA", Nodes: []string{"NodeA"}},
			wantColumns: nil,
		},
		{
			name:        "aggregate all without counter",
			query:       TableQuery{Phase: "BEFORE", Mode: "ALL", Method: "SUM"},
			wantColumns: []string{"NODENAME", "Object", "Counter", d0, d1},
			wantRows:    [][]string{{"ALL", "Cell=1", "pmA", "4", "6"}},
		},
		{
			name:        "inverted range",
			query:       TableQuery{Phase: "BEFORE", From: intPtr(1), To: intPtr(0)},
			wantErrType: apperrors.ErrTypeValidation,
		},
		{
			name:        "aggregation on comparison",
			query:       TableQuery{Phase: "COMPARE", Mode: "ALL"},
			wantErrType: apperrors.ErrTypeValidation,
		},
		{
			name:        "unknown phase",
			query:       TableQuery{Phase: "DURING"},
			wantErrType: apperrors.ErrTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.query
			q.RunID, q.Family = run.ID, "5G"

			table, err := svc.Table(ctx, q)
			if tt.wantErrType != "" {
				assert.True(t, apperrors.IsType(err, tt.wantErrType), "got %v", err)
				return
			}
			require.NoError(t, err)
			if tt.wantColumns != nil {
				assert.Equal(t, tt.wantColumns, table.Columns)
				assert.Equal(t, tt.wantRows, table.Rows)
			}
		})
	}

	t.Run("not comparable family", func(t *testing.T) {
		_, err := svc.Table(ctx, TableQuery{RunID: run.ID, Family: "NR", Phase: "COMPARE"})
		assert.True(t, errors.Is(err, ErrNotComparable))
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotComparable))
	})

	t.Run("comparison keeps key and counter columns", func(t *testing.T) {
		table, err := svc.Table(ctx, TableQuery{RunID: run.ID, Family: "5G", Phase: "COMPARE", Counter: "pmA", Nodes: []string{"NodeA"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"NODENAME", "Object"}, table.Columns[:2])
		for _, c := range table.Columns[2:] {
			assert.True(t, strings.HasSuffix(c, "_pmA"), c)
		}
		require.Equal(t, 1, table.Len())
		assert.Equal(t, "NodeA", table.Rows[0][0])
	})
}

func TestChart(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	run := completedRun(t, svc)

	series, err := svc.Chart(ctx, TableQuery{RunID: run.ID, Family: "5G", Phase: "BEFORE", Counter: "pmA"})
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, domain.AggregatedAllNode, series[0].NodeName)
	require.Len(t, series[0].Points, 2)
	assert.Equal(t, 2.0, *series[0].Points[0].Value)
	assert.Equal(t, 3.0, *series[0].Points[1].Value)

	_, err = svc.Chart(ctx, TableQuery{RunID: run.ID, Family: "5G", Phase: "BEFORE"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	_, err = svc.Chart(ctx, TableQuery{RunID: run.ID, Family: "5G", Phase: "COMPARE", Counter: "pmA"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestRank(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	run := completedRun(t, svc)

	ranking, err := svc.Rank(ctx, RankQuery{RunID: run.ID, Family: "5G", Phase: "before", Counter: "pmA", Datetime: d0})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseBefore, ranking.Phase)
	assert.Equal(t, []domain.RankEntry{{NodeName: "NodeA", Value: 1}, {NodeName: "NodeB", Value: 3}}, ranking.Lowest)
	assert.Equal(t, []domain.RankEntry{{NodeName: "NodeB", Value: 3}, {NodeName: "NodeA", Value: 1}}, ranking.Highest)

	ranking, err = svc.Rank(ctx, RankQuery{RunID: run.ID, Family: "5G", Phase: "BEFORE", Counter: "pmA", Datetime: d1, N: 1, Nodes: []string{"NodeA"}})
	require.NoError(t, err)
	assert.Equal(t, []domain.RankEntry{{NodeName: "NodeA", Value: 2}}, ranking.Lowest)

	_, err = svc.Rank(ctx, RankQuery{RunID: run.ID, Family: "5G", Phase: "BEFORE", Counter: "pmA", Datetime: d2})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
}

func TestExports(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()
	run := completedRun(t, svc)

	var xlsx bytes.Buffer
	require.NoError(t, svc.ExportWorkbook(ctx, run.ID, &xlsx))
	f, err := excelize.OpenReader(&xlsx)
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), "Compare_5G")
	assert.NotContains(t, f.GetSheetList(), "Compare_NR")

	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, svc.SaveWorkbook(ctx, run.ID, path))
	assert.FileExists(t, path)

	var out bytes.Buffer
	require.NoError(t, svc.ExportCSV(ctx, TableQuery{RunID: run.ID, Family: "5G", Phase: "COMPARE"}, &out))
	records, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(out.Bytes(), []byte{0xEF, 0xBB, 0xBF}))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, "pmA", records[0][2])

	require.NoError(t, store.Create(&domain.Run{ID: "pending", Status: domain.RunStatusPending, CreatedAt: time.Now()}))
	err = svc.ExportWorkbook(ctx, "pending", &bytes.Buffer{})
	assert.True(t, errors.Is(err, ErrRunNotReady))
}

func TestSubmitArchive(t *testing.T) {
	svc, pub, _ := newTestService(t)
	ctx := context.Background()
	archive := zipFixture(t, fixture)

	run, err := svc.SubmitArchive(ctx, bytes.NewReader(archive), int64(len(archive)), ArchiveRequest{Source: "logs.zip"})
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "logs.zip", run.Source)

	require.Eventually(t, func() bool {
		got, err := svc.GetRun(ctx, run.ID)
		return err == nil && got.IsFinished()
	}, 5*time.Second, 10*time.Millisecond)

	got, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status, got.Error)
	assert.Equal(t, []string{"NodeA", "NodeB"}, got.Families["5G"].NodeNames)
	assert.Len(t, pub.ofType(ws.TypeRunComplete), 1)
}

func TestSubmitArchive_Rejected(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	onlyBefore := zipFixture(t, map[string]string{"Before/NodeA.log": fixture["Before/NodeA.log"]})
	_, err := svc.SubmitArchive(ctx, bytes.NewReader(onlyBefore), int64(len(onlyBefore)), ArchiveRequest{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	archive := zipFixture(t, fixture)
	_, err = svc.SubmitArchive(ctx, bytes.NewReader(archive), int64(len(archive)), ArchiveRequest{BeforeStart: "soon"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	assert.Empty(t, store.List(operations.RunFilter{}))

	require.NoError(t, svc.Shutdown(ctx))
	_, err = svc.SubmitArchive(ctx, bytes.NewReader(archive), int64(len(archive)), ArchiveRequest{})
	assert.ErrorIs(t, err, ErrServiceClosed)
}

func TestRunSummary(t *testing.T) {
	svc, _, _ := newTestService(t)
	run := completedRun(t, svc)

	summary := RunSummary(run)
	assert.Equal(t, run.ID, summary["id"])
	assert.NotContains(t, summary, "error")

	families := summary["families"].(map[string]interface{})
	fiveG := families["5G"].(map[string]interface{})
	assert.Equal(t, 2, fiveG["before_rows"])
	assert.Equal(t, true, fiveG["comparable"])
}
