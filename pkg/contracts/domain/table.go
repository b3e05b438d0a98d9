package domain

import (
	"sort"
	"time"
)

// Key column names shared by every counter table
const (
	ColNodeName = "NODENAME"
	ColObject   = "Object"
	ColCounter  = "Counter"
)

// NotAvailable is the missing-value marker propagated through every output table.
// Consumers must treat it as missing, not as text.
const NotAvailable = "N/A"

// DatetimeLayout is the canonical form of a datetime column name ("YYYY-MM-DD HH:MM")
const DatetimeLayout = "2006-01-02 15:04"

// KeyColumns lists the non-datetime columns in their canonical order
var KeyColumns = []string{ColNodeName, ColObject, ColCounter}

// IsKeyColumn reports whether name is one of NODENAME, Object or Counter
func IsKeyColumn(name string) bool {
	return name == ColNodeName || name == ColObject || name == ColCounter
}

// ParseDatetime parses a column name in the canonical datetime layout
func ParseDatetime(s string) (time.Time, bool) {
	t, err := time.Parse(DatetimeLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Table is a rectangular, column-ordered string table.
// Tables are value objects: producers build new tables and never mutate
// a table they did not create.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// NewTable creates an empty table with the given columns
func NewTable(columns []string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols, Rows: [][]string{}}
}

// Len returns the number of rows
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// IsEmpty reports whether the table is nil or has no rows
func (t *Table) IsEmpty() bool {
	return t.Len() == 0
}

// Index returns the position of the named column or -1
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the table has the named column
func (t *Table) HasColumn(name string) bool {
	return t.Index(name) >= 0
}

// Cell returns the value at row i for the named column, or NotAvailable
func (t *Table) Cell(i int, name string) string {
	idx := t.Index(name)
	if idx < 0 || i < 0 || i >= len(t.Rows) || idx >= len(t.Rows[i]) {
		return NotAvailable
	}
	return t.Rows[i][idx]
}

// Column returns a copy of the named column's values in row order
func (t *Table) Column(name string) []string {
	idx := t.Index(name)
	if idx < 0 {
		return nil
	}
	values := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			values[i] = row[idx]
		} else {
			values[i] = NotAvailable
		}
	}
	return values
}

// ColumnMap exposes the table as column name -> ordered value sequence
func (t *Table) ColumnMap() map[string][]string {
	m := make(map[string][]string, len(t.Columns))
	for _, c := range t.Columns {
		m[c] = t.Column(c)
	}
	return m
}

// DatetimeColumns returns every column that is not a key column, in table order
func (t *Table) DatetimeColumns() []string {
	var cols []string
	for _, c := range t.Columns {
		if !IsKeyColumn(c) {
			cols = append(cols, c)
		}
	}
	return cols
}

// Distinct returns the distinct values of a column in first-seen order
func (t *Table) Distinct(name string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range t.Column(name) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Reindex projects the table onto columns, filling cells of columns the
// table does not have with NotAvailable
func (t *Table) Reindex(columns []string) *Table {
	out := NewTable(columns)
	src := make([]int, len(columns))
	for i, c := range columns {
		src[i] = t.Index(c)
	}
	for _, row := range t.Rows {
		nr := make([]string, len(columns))
		for i, idx := range src {
			if idx >= 0 && idx < len(row) {
				nr[i] = row[idx]
			} else {
				nr[i] = NotAvailable
			}
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// SelectRows returns a new table holding the rows for which keep returns true
func (t *Table) SelectRows(keep func(row []string) bool) *Table {
	out := NewTable(t.Columns)
	for _, row := range t.Rows {
		if keep(row) {
			nr := make([]string, len(row))
			copy(nr, row)
			out.Rows = append(out.Rows, nr)
		}
	}
	return out
}

// FilterCounter keeps the rows reporting the given counter
func (t *Table) FilterCounter(counter string) *Table {
	idx := t.Index(ColCounter)
	return t.SelectRows(func(row []string) bool {
		return idx >= 0 && row[idx] == counter
	})
}

// FilterNodes keeps the rows whose NODENAME is in nodes.
// An empty node list keeps every row.
func (t *Table) FilterNodes(nodes []string) *Table {
	if len(nodes) == 0 {
		return t.Clone()
	}
	allowed := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		allowed[n] = true
	}
	idx := t.Index(ColNodeName)
	return t.SelectRows(func(row []string) bool {
		return idx >= 0 && allowed[row[idx]]
	})
}

// SliceDatetimes keeps the key columns plus the datetime columns in the
// inclusive index range [from, to]. Out-of-range bounds are clamped.
func (t *Table) SliceDatetimes(from, to int) *Table {
	dts := t.DatetimeColumns()
	if from < 0 {
		from = 0
	}
	if to >= len(dts) {
		to = len(dts) - 1
	}
	var cols []string
	for _, c := range t.Columns {
		if IsKeyColumn(c) {
			cols = append(cols, c)
		}
	}
	if from <= to {
		cols = append(cols, dts[from:to+1]...)
	}
	return t.Reindex(cols)
}

// Clone returns a deep copy of the table
func (t *Table) Clone() *Table {
	return t.SelectRows(func([]string) bool { return true })
}

// SortedDatetimes returns the canonical datetime names sorted ascending.
// The layout sorts lexically in time order.
func SortedDatetimes(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for dt := range set {
		out = append(out, dt)
	}
	sort.Strings(out)
	return out
}
