package dataprocessing

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"kpicompare/pkg/contracts/domain"
)

const (
	fieldSeparator = "; "
	headerObject   = "Object"
	headerCounter  = "Counter"

	// counter exports can carry several thousand values on one line
	maxLineBytes = 64 * 1024 * 1024
)

// Diagnostics counts format irregularities seen while parsing one or more files.
// None of them change the shape of the produced tables.
type Diagnostics struct {
	// MalformedLines are prefixed data lines too short to carry Object and Counter
	MalformedLines int `json:"malformed_lines"`
	// ValueCountMismatches are data lines whose value count differs from the
	// number of datetimes declared for their file
	ValueCountMismatches int `json:"value_count_mismatches"`
	// HeaderVariants are header lines whose datetime list differs from the
	// first header line of the same file
	HeaderVariants int `json:"header_variants"`
}

// Add accumulates other into d
func (d *Diagnostics) Add(other Diagnostics) {
	d.MalformedLines += other.MalformedLines
	d.ValueCountMismatches += other.ValueCountMismatches
	d.HeaderVariants += other.HeaderVariants
}

// Clean reports whether no irregularity was recorded
func (d Diagnostics) Clean() bool {
	return d == Diagnostics{}
}

// ParseLine classifies one log line. Lines that do not start with prefix are
// ignored and return ok=false, as do data lines without Object and Counter fields.
func ParseLine(line, prefix string) (domain.Record, bool) {
	if !strings.HasPrefix(line, prefix) {
		return domain.Record{}, false
	}

	parts := splitFields(line)

	if slices.Contains(parts, headerObject) && slices.Contains(parts, headerCounter) {
		var datetimes []string
		if len(parts) > 3 {
			datetimes = append(datetimes, parts[3:]...)
		}
		return domain.Record{Kind: domain.RecordHeader, Datetimes: datetimes}, true
	}

	// field 0 is the line tag and carries nothing used downstream
	if len(parts) < 3 {
		return domain.Record{}, false
	}

	values := make([]string, len(parts)-3)
	copy(values, parts[3:])
	return domain.Record{
		Kind:    domain.RecordData,
		Object:  parts[1],
		Counter: parts[2],
		Values:  values,
	}, true
}

// splitFields strips surrounding whitespace and trailing ';' then splits on "; "
func splitFields(line string) []string {
	trimmed := strings.TrimRight(strings.TrimSpace(line), ";")
	return strings.Split(trimmed, fieldSeparator)
}

// ParseRecords reads every line of r and returns the records matching prefix
// in file order.
func ParseRecords(r io.Reader, prefix string) ([]domain.Record, Diagnostics, error) {
	var (
		records []domain.Record
		diag    Diagnostics
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		rec, ok := ParseLine(line, prefix)
		if !ok {
			if strings.HasPrefix(line, prefix) {
				diag.MalformedLines++
			}
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, diag, fmt.Errorf("failed to scan log lines: %w", err)
	}

	return records, diag, nil
}
