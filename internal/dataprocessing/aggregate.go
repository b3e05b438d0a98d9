package dataprocessing

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	apperrors "kpicompare/internal/errors"
	"kpicompare/pkg/contracts/domain"
)

// ParseGroupMode parses ALL, NODENAME or OBJECT (case-insensitive)
func ParseGroupMode(s string) (domain.GroupMode, error) {
	switch m := domain.GroupMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case domain.GroupAll, domain.GroupNodeName, domain.GroupObject:
		return m, nil
	}
	return "", apperrors.NewAppValidationError(fmt.Sprintf("unknown group mode %q", s))
}

// ParseMethod parses AVERAGE, MAX, MIN or SUM (case-insensitive)
func ParseMethod(s string) (domain.Method, error) {
	switch m := domain.Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case domain.MethodAverage, domain.MethodMax, domain.MethodMin, domain.MethodSum:
		return m, nil
	}
	return "", apperrors.NewAppValidationError(fmt.Sprintf("unknown aggregation method %q", s))
}

// ParseNumeric coerces a cell to a number. The sentinel and any other
// non-numeric text are missing.
func ParseNumeric(cell string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// FormatNumeric renders a reduced value, NaN as the sentinel
func FormatNumeric(v float64) string {
	if math.IsNaN(v) {
		return domain.NotAvailable
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Reduce applies method to the present values. SUM of nothing is 0, every
// other reducer of nothing is NaN.
func Reduce(values []float64, method domain.Method) float64 {
	if len(values) == 0 {
		if method == domain.MethodSum {
			return 0
		}
		return math.NaN()
	}

	switch method {
	case domain.MethodMax:
		out := values[0]
		for _, v := range values[1:] {
			out = math.Max(out, v)
		}
		return out
	case domain.MethodMin:
		out := values[0]
		for _, v := range values[1:] {
			out = math.Min(out, v)
		}
		return out
	case domain.MethodSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	default:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	}
}

func validMethod(m domain.Method) bool {
	_, err := ParseMethod(string(m))
	return err == nil
}

// Aggregate reduces the datetime columns of t per group.
//
//	ALL      one row; NODENAME is "ALL", Object and Counter come from the first row
//	NODENAME one row per (NODENAME, Object, Counter)
//	OBJECT   one row per (Object, Counter); NODENAME is "AGGREGATED_BY_OBJECT"
//
// Groups are emitted in key order. An empty table, an unknown mode or an
// unknown method returns t unchanged.
func Aggregate(t *domain.Table, mode domain.GroupMode, method domain.Method) *domain.Table {
	if t.IsEmpty() || !validMethod(method) {
		return t
	}

	var keyOf func(i int) []string
	switch mode {
	case domain.GroupAll:
		first := []string{domain.AggregatedAllNode, t.Cell(0, domain.ColObject), t.Cell(0, domain.ColCounter)}
		keyOf = func(int) []string { return first }
	case domain.GroupNodeName:
		keyOf = func(i int) []string {
			return []string{t.Cell(i, domain.ColNodeName), t.Cell(i, domain.ColObject), t.Cell(i, domain.ColCounter)}
		}
	case domain.GroupObject:
		keyOf = func(i int) []string {
			return []string{domain.AggregatedByObjectNode, t.Cell(i, domain.ColObject), t.Cell(i, domain.ColCounter)}
		}
	default:
		return t
	}

	datetimes := t.DatetimeColumns()
	dtIdx := indexes(t, datetimes)

	type group struct {
		key    []string
		values [][]float64
	}
	groups := make(map[string]*group)
	for i, row := range t.Rows {
		key := keyOf(i)
		k := strings.Join(key, "\x00")
		g, ok := groups[k]
		if !ok {
			g = &group{key: key, values: make([][]float64, len(datetimes))}
			groups[k] = g
		}
		for j, idx := range dtIdx {
			if idx >= len(row) {
				continue
			}
			if v, ok := ParseNumeric(row[idx]); ok {
				g.values[j] = append(g.values[j], v)
			}
		}
	}

	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return strings.Join(ordered[i].key, "\x00") < strings.Join(ordered[j].key, "\x00")
	})

	out := domain.NewTable(append(append([]string{}, domain.KeyColumns...), datetimes...))
	for _, g := range ordered {
		row := append([]string{}, g.key...)
		for _, vals := range g.values {
			row = append(row, FormatNumeric(Reduce(vals, method)))
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// AggregateStrict is Aggregate with the ALL mode restricted to tables holding
// a single (Object, Counter) pair, so the copied labels describe every row.
func AggregateStrict(t *domain.Table, mode domain.GroupMode, method domain.Method) (*domain.Table, error) {
	if mode == domain.GroupAll && !t.IsEmpty() {
		object, counter := t.Cell(0, domain.ColObject), t.Cell(0, domain.ColCounter)
		for i := 1; i < t.Len(); i++ {
			if t.Cell(i, domain.ColObject) != object || t.Cell(i, domain.ColCounter) != counter {
				return nil, apperrors.NewAppValidationError(
					"ALL aggregation requires a table filtered to a single object and counter")
			}
		}
	}
	return Aggregate(t, mode, method), nil
}
