package dataprocessing

import (
	"regexp"

	"kpicompare/pkg/contracts/domain"
)

// Counter names must not contain "_BEFORE_" or "_AFTER_" for composite names
// to split back into the parts they were built from.
var compositeColumn = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2})_(BEFORE|AFTER)_(.+)$`)

// ComposeColumnName builds the comparison column name of a counter sample
func ComposeColumnName(datetime string, phase domain.Phase, counter string) string {
	return datetime + "_" + string(phase) + "_" + counter
}

// SplitColumnName decomposes "<datetime>_<BEFORE|AFTER>_<counter>".
// Names that do not match come back as (name, "", "").
func SplitColumnName(name string) (datetime, phase, counter string) {
	m := compositeColumn.FindStringSubmatch(name)
	if m == nil {
		return name, "", ""
	}
	return m[1], m[2], m[3]
}

// HierarchicalHeader returns the three presentation header rows of a
// comparison table: counter names, BEFORE/AFTER tags and datetimes.
// NODENAME is repeated on every row; other key columns only label the
// datetime row.
func HierarchicalHeader(columns []string) [][]string {
	counters := make([]string, len(columns))
	phases := make([]string, len(columns))
	datetimes := make([]string, len(columns))

	for i, c := range columns {
		if c == domain.ColNodeName {
			counters[i], phases[i], datetimes[i] = c, c, c
			continue
		}
		datetimes[i], phases[i], counters[i] = SplitColumnName(c)
	}

	return [][]string{counters, phases, datetimes}
}
