package dataprocessing

import (
	"slices"
	"sort"
	"strings"

	"kpicompare/pkg/contracts/domain"
)

var (
	tripleKey = []string{domain.ColNodeName, domain.ColObject, domain.ColCounter}
	pairKey   = []string{domain.ColNodeName, domain.ColObject}
)

// Merge pivots a BEFORE and an AFTER snapshot into one comparison table with
// a row per (NODENAME, Object) and columns named <datetime>_<BEFORE|AFTER>_<counter>.
//
// The snapshots are outer-joined on (NODENAME, Object, Counter), then every
// distinct counter, in first-seen order, is folded onto the result on
// (NODENAME, Object). It returns ok=false when neither snapshot holds a
// counter, which is distinct from an empty comparison.
func Merge(before, after *domain.Table) (*domain.Table, bool) {
	if before == nil {
		before = domain.NewTable(domain.KeyColumns)
	}
	if after == nil {
		after = domain.NewTable(domain.KeyColumns)
	}

	joined := outerJoin(
		withPhaseSuffix(before, domain.PhaseBefore),
		withPhaseSuffix(after, domain.PhaseAfter),
		tripleKey, "")

	counters := joined.Distinct(domain.ColCounter)
	if len(counters) == 0 {
		return nil, false
	}

	var (
		result     *domain.Table
		firstAdded map[string]bool
	)
	for _, counter := range counters {
		slice := dropColumn(joined.FilterCounter(counter), domain.ColCounter)
		if result == nil {
			result = slice
			firstAdded = make(map[string]bool)
			for _, c := range slice.Columns {
				if !slices.Contains(pairKey, c) {
					firstAdded[c] = true
				}
			}
			continue
		}
		result = outerJoin(result, slice, pairKey, "_"+counter)
	}

	// only the first counter's columns still lack a counter qualifier
	suffix := "_" + counters[0]
	for i, c := range result.Columns {
		if firstAdded[c] {
			result.Columns[i] = c + suffix
		}
	}

	return result, true
}

func withPhaseSuffix(t *domain.Table, phase domain.Phase) *domain.Table {
	out := t.Clone()
	for i, c := range out.Columns {
		if !domain.IsKeyColumn(c) {
			out.Columns[i] = c + "_" + string(phase)
		}
	}
	return out
}

func dropColumn(t *domain.Table, name string) *domain.Table {
	var cols []string
	for _, c := range t.Columns {
		if c != name {
			cols = append(cols, c)
		}
	}
	return t.Reindex(cols)
}

// outerJoin joins left and right on keys, emitting rows sorted by key.
// Duplicate keys produce every left x right pairing. Right-hand value
// columns whose name is already taken get collisionSuffix appended.
func outerJoin(left, right *domain.Table, keys []string, collisionSuffix string) *domain.Table {
	leftKeyIdx := indexes(left, keys)
	rightKeyIdx := indexes(right, keys)

	var leftVals, rightVals []int
	for i, c := range left.Columns {
		if !slices.Contains(keys, c) {
			leftVals = append(leftVals, i)
		}
	}

	columns := append([]string{}, keys...)
	for _, i := range leftVals {
		columns = append(columns, left.Columns[i])
	}
	taken := make(map[string]bool, len(columns))
	for _, c := range columns {
		taken[c] = true
	}
	for i, c := range right.Columns {
		if slices.Contains(keys, c) {
			continue
		}
		rightVals = append(rightVals, i)
		if taken[c] {
			c += collisionSuffix
		}
		taken[c] = true
		columns = append(columns, c)
	}

	leftGroups, leftKeys := groupRows(left, leftKeyIdx)
	rightGroups, rightKeys := groupRows(right, rightKeyIdx)

	allKeys := make(map[string][]string, len(leftKeys)+len(rightKeys))
	for k, v := range leftKeys {
		allKeys[k] = v
	}
	for k, v := range rightKeys {
		allKeys[k] = v
	}
	order := make([]string, 0, len(allKeys))
	for k := range allKeys {
		order = append(order, k)
	}
	sort.Slice(order, func(i, j int) bool {
		return slices.Compare(allKeys[order[i]], allKeys[order[j]]) < 0
	})

	out := domain.NewTable(columns)
	for _, k := range order {
		keyVals := allKeys[k]
		ls := leftGroups[k]
		rs := rightGroups[k]
		if len(ls) == 0 {
			ls = [][]string{nil}
		}
		if len(rs) == 0 {
			rs = [][]string{nil}
		}
		for _, l := range ls {
			for _, r := range rs {
				row := make([]string, 0, len(columns))
				row = append(row, keyVals...)
				row = appendCells(row, l, leftVals)
				row = appendCells(row, r, rightVals)
				out.Rows = append(out.Rows, row)
			}
		}
	}
	return out
}

func indexes(t *domain.Table, names []string) []int {
	idx := make([]int, len(names))
	for i, n := range names {
		idx[i] = t.Index(n)
	}
	return idx
}

// groupRows buckets rows by their key tuple
func groupRows(t *domain.Table, keyIdx []int) (map[string][][]string, map[string][]string) {
	groups := make(map[string][][]string)
	keys := make(map[string][]string)
	for _, row := range t.Rows {
		vals := make([]string, len(keyIdx))
		for i, idx := range keyIdx {
			if idx >= 0 && idx < len(row) {
				vals[i] = row[idx]
			} else {
				vals[i] = domain.NotAvailable
			}
		}
		k := strings.Join(vals, "\x00")
		groups[k] = append(groups[k], row)
		keys[k] = vals
	}
	return groups, keys
}

func appendCells(dst, row []string, cols []int) []string {
	for _, i := range cols {
		if row == nil || i >= len(row) {
			dst = append(dst, domain.NotAvailable)
		} else {
			dst = append(dst, row[i])
		}
	}
	return dst
}
