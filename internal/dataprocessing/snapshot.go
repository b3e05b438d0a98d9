package dataprocessing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "kpicompare/internal/errors"
	"kpicompare/internal/files"
	"kpicompare/pkg/contracts/domain"
)

// TracerName is the instrumentation scope of the snapshot pipeline
const TracerName = "kpicompare.dataprocessing"

// StartBound is the optional lower bound on snapshot datetime columns
type StartBound struct {
	at    time.Time
	isSet bool
}

// NoStartBound disables time-window filtering
var NoStartBound = StartBound{}

// ParseStartBound parses "NO_START" (or an empty string) as no bound, anything
// else as a "YYYY-MM-DD HH:MM" timestamp
func ParseStartBound(s string) (StartBound, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == domain.NoStart {
		return NoStartBound, nil
	}
	t, ok := parseLenientDatetime(s)
	if !ok {
		return StartBound{}, apperrors.NewAppValidationError(
			fmt.Sprintf("invalid start time %q: expected %s or YYYY-MM-DD HH:MM", s, domain.NoStart))
	}
	return StartBound{at: t, isSet: true}, nil
}

// IsSet reports whether the bound filters anything
func (b StartBound) IsSet() bool { return b.isSet }

// String renders the bound the way it is accepted by ParseStartBound
func (b StartBound) String() string {
	if !b.isSet {
		return domain.NoStart
	}
	return b.at.Format(domain.DatetimeLayout)
}

// Admits reports whether a datetime column survives the bound
func (b StartBound) Admits(column string) bool {
	if !b.isSet {
		return true
	}
	t, ok := domain.ParseDatetime(column)
	return ok && !t.Before(b.at)
}

// SelectDatetimes picks the snapshot datetime columns: the discovered columns
// admitted by start, sorted ascending and truncated to maxROP entries
func SelectDatetimes(discovered map[string]bool, start StartBound, maxROP int) []string {
	var selected []string
	for _, dt := range domain.SortedDatetimes(discovered) {
		if start.Admits(dt) {
			selected = append(selected, dt)
		}
	}
	if maxROP > 0 && len(selected) > maxROP {
		selected = selected[:maxROP]
	}
	return selected
}

// ProgressFunc is notified after each log file of a snapshot has been processed
type ProgressFunc func(done, total int, file string)

// AssemblerConfig configures snapshot assembly
type AssemblerConfig struct {
	MaxROP    int
	Extension string
}

// DefaultAssemblerConfig returns the standard ROP cap and log extension
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		MaxROP:    domain.MaxROP,
		Extension: files.DefaultLogExtension,
	}
}

// Snapshot is the assembled table of one snapshot directory
type Snapshot struct {
	Table       *domain.Table `json:"table"`
	Files       int           `json:"files"`
	Nodes       int           `json:"nodes"`
	Discovered  int           `json:"discovered_datetimes"`
	Diagnostics Diagnostics   `json:"diagnostics"`
}

// Assembler unions the per-node tables of a snapshot directory
type Assembler struct {
	cfg       AssemblerConfig
	discovery *files.Discovery
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewAssembler creates a snapshot assembler
func NewAssembler(cfg AssemblerConfig, logger *slog.Logger) *Assembler {
	if cfg.MaxROP <= 0 {
		cfg.MaxROP = domain.MaxROP
	}
	if cfg.Extension == "" {
		cfg.Extension = files.DefaultLogExtension
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		cfg:       cfg,
		discovery: files.NewDiscovery(""),
		logger:    logger.With(slog.String("component", "snapshot_assembler")),
		tracer:    otel.Tracer(TracerName),
	}
}

// Assemble builds the snapshot table of dir from the lines carrying prefix.
// Files are read smallest first. A directory without usable data yields an
// empty table with key column headers; only file-system failures are errors.
func (a *Assembler) Assemble(ctx context.Context, dir, prefix string, start StartBound, progress ProgressFunc) (*Snapshot, error) {
	ctx, span := a.tracer.Start(ctx, "snapshot.assemble",
		trace.WithAttributes(
			attribute.String("snapshot.dir", dir),
			attribute.String("snapshot.prefix", prefix),
			attribute.String("snapshot.start", start.String()),
		),
	)
	defer span.End()

	logFiles, err := a.discovery.FindLogFiles(dir, a.cfg.Extension)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		return nil, apperrors.NewStorageError("failed to list snapshot directory", err).WithContext("dir", dir)
	}

	snap := &Snapshot{Files: len(logFiles)}
	var tables []*domain.Table
	discovered := make(map[string]bool)

	for i, f := range logFiles {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return nil, err
		}

		table, diag, err := a.buildFile(f.Path, prefix)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "read failed")
			return nil, err
		}
		snap.Diagnostics.Add(diag)

		if !diag.Clean() {
			a.logger.WarnContext(ctx, "irregular counter log",
				slog.String("file", f.Name),
				slog.Int("malformed_lines", diag.MalformedLines),
				slog.Int("value_count_mismatches", diag.ValueCountMismatches),
				slog.Int("header_variants", diag.HeaderVariants))
		}

		if table != nil {
			tables = append(tables, table)
			for _, dt := range table.DatetimeColumns() {
				discovered[dt] = true
			}
		}

		if progress != nil {
			progress(i+1, len(logFiles), f.Name)
		}
	}

	selected := SelectDatetimes(discovered, start, a.cfg.MaxROP)
	columns := append(append([]string{}, domain.KeyColumns...), selected...)

	union := domain.NewTable(columns)
	for _, t := range tables {
		union.Rows = append(union.Rows, t.Reindex(columns).Rows...)
	}

	snap.Table = union
	snap.Nodes = len(tables)
	snap.Discovered = len(discovered)

	span.SetAttributes(
		attribute.Int("snapshot.files", snap.Files),
		attribute.Int("snapshot.nodes", snap.Nodes),
		attribute.Int("snapshot.rows", union.Len()),
		attribute.Int("snapshot.datetimes", len(selected)),
	)

	a.logger.InfoContext(ctx, "snapshot assembled",
		slog.String("dir", dir),
		slog.String("prefix", prefix),
		slog.Int("files", snap.Files),
		slog.Int("nodes", snap.Nodes),
		slog.Int("rows", union.Len()),
		slog.Int("datetimes", len(selected)),
		slog.Int("discovered_datetimes", snap.Discovered))

	return snap, nil
}

func (a *Assembler) buildFile(path, prefix string) (*domain.Table, Diagnostics, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Diagnostics{}, apperrors.NewStorageError("failed to open counter log", err).WithContext("path", path)
	}
	defer f.Close()

	records, diag, err := ParseRecords(f, prefix)
	if err != nil {
		return nil, diag, apperrors.NewParsingError("failed to read counter log", err).WithContext("path", path)
	}

	table, buildDiag := BuildNodeTable(NodeNameFromPath(path), records)
	diag.Add(buildDiag)
	return table, diag, nil
}
