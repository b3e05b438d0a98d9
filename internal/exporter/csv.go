package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"kpicompare/internal/config"
	"kpicompare/internal/dataprocessing"
	"kpicompare/pkg/contracts/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVWriter provides CSV export functionality
type CSVWriter struct {
	paths  *config.Paths
	logger *slog.Logger
}

// NewCSVWriter creates a new CSV writer instance
func NewCSVWriter(paths *config.Paths, logger *slog.Logger) *CSVWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVWriter{
		paths:  paths,
		logger: logger.With(slog.String("component", "exporter.csv")),
	}
}

// WriteOptions configures CSV writing behavior
type WriteOptions struct {
	// Hierarchical writes the three header rows of a comparison table
	// instead of the flat column names.
	Hierarchical bool
	BOMPrefix    bool // Add UTF-8 BOM for Excel compatibility
}

// HeaderRows returns the header rows written for t
func HeaderRows(t *domain.Table, hierarchical bool) [][]string {
	if hierarchical {
		return dataprocessing.HierarchicalHeader(t.Columns)
	}
	return [][]string{t.Columns}
}

// WriteTable writes t to w
func WriteTable(w io.Writer, t *domain.Table, options WriteOptions) error {
	if t == nil {
		return fmt.Errorf("no table to write")
	}

	if options.BOMPrefix {
		if _, err := w.Write(utf8BOM); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(w)
	for _, header := range HeaderRows(t, options.Hierarchical) {
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}
	}

	for i, record := range t.Rows {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteTableFile writes t to filePath and returns the resolved path.
// Relative paths land in the reports directory.
func (w *CSVWriter) WriteTableFile(filePath string, t *domain.Table, options WriteOptions) (string, error) {
	fullPath := w.resolvePath(filePath)

	w.logger.Info("Writing CSV file",
		slog.String("file_path", filePath),
		slog.String("full_path", fullPath),
		slog.Int("record_count", t.Len()))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	if err := WriteTable(file, t, options); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return fullPath, nil
}

func (w *CSVWriter) resolvePath(filePath string) string {
	if filepath.IsAbs(filePath) || w.paths == nil {
		return filePath
	}
	return w.paths.GetReportPath(filePath)
}
