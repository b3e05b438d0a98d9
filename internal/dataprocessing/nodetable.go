package dataprocessing

import (
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"kpicompare/pkg/contracts/domain"
)

// lenientDatetimeLayout accepts non zero-padded fields, canonicalized to domain.DatetimeLayout
const lenientDatetimeLayout = "2006-1-2 15:4"

// NodeNameFromPath derives NODENAME from a log file path (base name, extension stripped)
func NodeNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// CanonicalDatetime returns the canonical "YYYY-MM-DD HH:MM" form of s and
// whether s parses as a timestamp at all
func CanonicalDatetime(s string) (string, bool) {
	t, ok := parseLenientDatetime(s)
	if !ok {
		return s, false
	}
	return t.Format(domain.DatetimeLayout), true
}

func parseLenientDatetime(s string) (time.Time, bool) {
	t, err := time.Parse(lenientDatetimeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// BuildNodeTable assembles the records of one log file into a table with
// columns NODENAME, Object, Counter followed by the sorted union of every
// datetime declared by the file's header records.
//
// Values are aligned to datetimes by position, not by label: the i-th value of
// a data record lands in the i-th sorted datetime. Extra values are dropped and
// short records leave trailing N/A cells. Irregular files are reported through
// Diagnostics without changing the output shape.
//
// It returns nil when the records hold no data rows.
func BuildNodeTable(nodeName string, records []domain.Record) (*domain.Table, Diagnostics) {
	var diag Diagnostics

	declared := make(map[string]bool)
	var firstHeader []string
	seenHeader := false
	var data []domain.Record

	for _, rec := range records {
		switch rec.Kind {
		case domain.RecordHeader:
			if !seenHeader {
				firstHeader = rec.Datetimes
				seenHeader = true
			} else if !slices.Equal(firstHeader, rec.Datetimes) {
				diag.HeaderVariants++
			}
			for _, dt := range rec.Datetimes {
				declared[dt] = true
			}
		case domain.RecordData:
			data = append(data, rec)
		}
	}

	if len(data) == 0 {
		return nil, diag
	}

	raw := make([]string, 0, len(declared))
	for dt := range declared {
		raw = append(raw, dt)
	}
	sort.Strings(raw)

	// canonical names, collapsing raw spellings of the same instant onto the first one
	columns := append([]string{}, domain.KeyColumns...)
	target := make([]int, len(raw))
	position := make(map[string]int)
	for i, dt := range raw {
		name, _ := CanonicalDatetime(dt)
		if pos, ok := position[name]; ok {
			target[i] = pos
			continue
		}
		position[name] = len(columns)
		target[i] = len(columns)
		columns = append(columns, name)
	}

	table := domain.NewTable(columns)
	for _, rec := range data {
		if len(rec.Values) != len(raw) {
			diag.ValueCountMismatches++
		}

		row := make([]string, len(columns))
		row[0] = nodeName
		row[1] = rec.Object
		row[2] = rec.Counter
		for i := 3; i < len(row); i++ {
			row[i] = domain.NotAvailable
		}
		for i, v := range rec.Values {
			if i >= len(raw) {
				break
			}
			col := target[i]
			if row[col] == domain.NotAvailable {
				row[col] = v
			}
		}
		table.Rows = append(table.Rows, row)
	}

	return table, diag
}
