package exporter

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"kpicompare/internal/dataprocessing"
	"kpicompare/pkg/contracts/domain"
)

// SummarySheet is the first sheet of every workbook
const SummarySheet = "Summary"

// SnapshotSheetName returns the sheet name of one family snapshot
func SnapshotSheetName(family string, phase domain.Phase) string {
	return fmt.Sprintf("KPI_%s_%s", family, phase)
}

// CompareSheetName returns the sheet name of a family comparison
func CompareSheetName(family string) string {
	return "Compare_" + family
}

// WorkbookExporter renders a finished run as an xlsx workbook
type WorkbookExporter struct {
	logger *slog.Logger
}

// NewWorkbookExporter creates a workbook exporter
func NewWorkbookExporter(logger *slog.Logger) *WorkbookExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkbookExporter{logger: logger.With(slog.String("component", "exporter.xlsx"))}
}

type sheetStyles struct {
	header int
}

// Build lays out the workbook of run: a summary sheet, the BEFORE and
// AFTER snapshot of every family, and the comparison of every family
// whose snapshots could be merged.
func (e *WorkbookExporter) Build(run *domain.Run) (*excelize.File, error) {
	if run == nil {
		return nil, fmt.Errorf("no run to export")
	}

	f := excelize.NewFile()
	styleID, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	styles := sheetStyles{header: styleID}

	if err := f.SetSheetName(f.GetSheetName(0), SummarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename default sheet: %w", err)
	}
	if err := writeSummary(f, run, styles); err != nil {
		f.Close()
		return nil, err
	}

	for _, name := range run.FamilyNames() {
		result := run.Families[name]
		if result == nil {
			continue
		}
		for _, side := range []struct {
			phase domain.Phase
			table *domain.Table
		}{
			{domain.PhaseBefore, result.Before},
			{domain.PhaseAfter, result.After},
		} {
			if side.table == nil {
				continue
			}
			if err := writeTableSheet(f, SnapshotSheetName(name, side.phase), side.table, false, styles); err != nil {
				f.Close()
				return nil, err
			}
		}
		if result.Comparable && result.Comparison != nil {
			if err := writeTableSheet(f, CompareSheetName(name), result.Comparison, true, styles); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

// Write streams the workbook of run to w
func (e *WorkbookExporter) Write(w io.Writer, run *domain.Run) error {
	f, err := e.Build(run)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Save writes the workbook of run to path
func (e *WorkbookExporter) Save(path string, run *domain.Run) error {
	start := time.Now()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := e.Build(run)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}

	e.logger.Info("Workbook saved",
		slog.String("run_id", run.ID),
		slog.String("path", path),
		slog.Int("sheets", f.SheetCount),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func writeSummary(f *excelize.File, run *domain.Run, styles sheetStyles) error {
	completed := ""
	if run.CompletedAt != nil {
		completed = run.CompletedAt.Format(time.RFC3339)
	}

	rows := [][]interface{}{
		{"Run ID", run.ID},
		{"Status", string(run.Status)},
		{"Source", run.Source},
		{"Before start", run.BeforeStart},
		{"After start", run.AfterStart},
		{"Created", run.CreatedAt.Format(time.RFC3339)},
		{"Completed", completed},
		{},
		{"Family", "Comparable", "Datetimes", "Counters", "Nodes", "Before rows", "After rows"},
	}
	familyHeader := len(rows)

	for _, name := range run.FamilyNames() {
		r := run.Families[name]
		if r == nil {
			continue
		}
		rows = append(rows, []interface{}{
			name,
			r.Comparable,
			len(r.Datetimes),
			len(r.Counters),
			len(r.NodeNames),
			r.Before.Len(),
			r.After.Len(),
		})
	}

	if len(run.Warnings) > 0 {
		rows = append(rows, []interface{}{}, []interface{}{"Warnings"})
		for _, w := range run.Warnings {
			rows = append(rows, []interface{}{w})
		}
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}

	last, err := excelize.CoordinatesToCellName(7, familyHeader)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SummarySheet, fmt.Sprintf("A%d", familyHeader), last, styles.header); err != nil {
		return err
	}
	return f.SetColWidth(SummarySheet, "A", "A", 16)
}

// writeTableSheet writes t with a stream writer. Comparison sheets get
// the three header rows with merged counter and phase cells.
func writeTableSheet(f *excelize.File, sheet string, t *domain.Table, hierarchical bool, styles sheetStyles) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("failed to open sheet %s: %w", sheet, err)
	}

	header := HeaderRows(t, hierarchical)
	if err := sw.SetPanes(&excelize.Panes{
		Freeze:      true,
		YSplit:      len(header),
		TopLeftCell: fmt.Sprintf("A%d", len(header)+1),
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}
	if len(t.Columns) > 0 {
		if err := sw.SetColWidth(1, min(len(t.Columns), len(domain.KeyColumns)), 18); err != nil {
			return err
		}
	}

	for i, names := range header {
		cells := make([]interface{}, len(names))
		for j, name := range names {
			cells[j] = excelize.Cell{StyleID: styles.header, Value: name}
		}
		if err := sw.SetRow(fmt.Sprintf("A%d", i+1), cells); err != nil {
			return fmt.Errorf("failed to write header of %s: %w", sheet, err)
		}
	}

	for i, row := range t.Rows {
		cells := make([]interface{}, len(row))
		for j, value := range row {
			cells[j] = cellValue(t.Columns[j], value)
		}
		if err := sw.SetRow(fmt.Sprintf("A%d", len(header)+i+1), cells); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", i+1, sheet, err)
		}
	}

	if hierarchical {
		for _, span := range headerMerges(header) {
			if err := sw.MergeCell(span[0], span[1]); err != nil {
				return err
			}
		}
	}

	return sw.Flush()
}

// cellValue writes numeric samples as numbers so the sheet can be charted
func cellValue(column, value string) interface{} {
	if domain.IsKeyColumn(column) {
		return value
	}
	if v, ok := dataprocessing.ParseNumeric(value); ok {
		return v
	}
	return value
}

// headerMerges returns the cell ranges to merge in the hierarchical header:
// NODENAME spans all three rows, a counter spans its columns on the first
// row and a phase spans its columns under the same counter on the second.
func headerMerges(header [][]string) [][2]string {
	if len(header) < 3 {
		return nil
	}
	counters, phases := header[0], header[1]

	var spans [][2]string
	add := func(c1, r1, c2, r2 int) {
		if c1 == c2 && r1 == r2 {
			return
		}
		from, _ := excelize.CoordinatesToCellName(c1+1, r1)
		to, _ := excelize.CoordinatesToCellName(c2+1, r2)
		spans = append(spans, [2]string{from, to})
	}

	for i, name := range counters {
		if name == domain.ColNodeName {
			add(i, 1, i, len(header))
		}
	}

	for start := 0; start < len(counters); {
		end := start
		for end+1 < len(counters) && counters[end+1] == counters[start] {
			end++
		}
		if counters[start] != "" && counters[start] != domain.ColNodeName {
			add(start, 1, end, 1)

			for p := start; p <= end; {
				q := p
				for q+1 <= end && phases[q+1] == phases[p] {
					q++
				}
				if strings.TrimSpace(phases[p]) != "" {
					add(p, 2, q, 2)
				}
				p = q + 1
			}
		}
		start = end + 1
	}
	return spans
}
