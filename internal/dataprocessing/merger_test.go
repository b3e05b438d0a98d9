package dataprocessing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpicompare/pkg/contracts/domain"
)

const (
	t0 = "2024-01-01 00:00"
	t1 = "2024-01-01 00:15"
)

func snapshotTable(rows ...[]string) *domain.Table {
	table := domain.NewTable([]string{"NODENAME", "Object", "Counter", t0, t1})
	table.Rows = append(table.Rows, rows...)
	return table
}

func TestMerge(t *testing.T) {
	t.Run("pivots counters into qualified columns", func(t *testing.T) {
		before := snapshotTable(
			[]string{"A", "Cell=1", "pmA", "1", "2"},
			[]string{"A", "Cell=1", "pmB", "3", "4"},
			[]string{"B", "Cell=1", "pmA", "5", "6"},
		)
		after := snapshotTable(
			[]string{"A", "Cell=1", "pmA", "7", "8"},
			[]string{"C", "Cell=1", "pmB", "9", "9"},
		)

		got, ok := Merge(before, after)
		require.True(t, ok)

		assert.Equal(t, []string{
			"NODENAME", "Object",
			t0 + "_BEFORE_pmA", t1 + "_BEFORE_pmA", t0 + "_AFTER_pmA", t1 + "_AFTER_pmA",
			t0 + "_BEFORE_pmB", t1 + "_BEFORE_pmB", t0 + "_AFTER_pmB", t1 + "_AFTER_pmB",
		}, got.Columns)

		assert.Equal(t, [][]string{
			{"A", "Cell=1", "1", "2", "7", "8", "3", "4", "N/A", "N/A"},
			{"B", "Cell=1", "5", "6", "N/A", "N/A", "N/A", "N/A", "N/A", "N/A"},
			{"C", "Cell=1", "N/A", "N/A", "N/A", "N/A", "N/A", "N/A", "9", "9"},
		}, got.Rows)

		// inputs are untouched
		assert.Equal(t, t0, before.Columns[3])
		assert.Equal(t, "Counter", after.Columns[2])
	})

	t.Run("one row per node and object of either side", func(t *testing.T) {
		before := snapshotTable(
			[]string{"N1", "Cell=1", "pmA", "1", "1"},
			[]string{"N1", "Cell=2", "pmA", "1", "1"},
			[]string{"N2", "Cell=1", "pmB", "1", "1"},
		)
		after := snapshotTable(
			[]string{"N3", "Cell=1", "pmA", "1", "1"},
			[]string{"N1", "Cell=1", "pmC", "1", "1"},
		)

		got, ok := Merge(before, after)
		require.True(t, ok)

		pairs := make(map[[2]string]int)
		for i := range got.Rows {
			pairs[[2]string{got.Cell(i, "NODENAME"), got.Cell(i, "Object")}]++
		}
		assert.Equal(t, map[[2]string]int{
			{"N1", "Cell=1"}: 1,
			{"N1", "Cell=2"}: 1,
			{"N2", "Cell=1"}: 1,
			{"N3", "Cell=1"}: 1,
		}, pairs)

		for _, c := range got.Columns {
			if c == "NODENAME" || c == "Object" {
				continue
			}
			dt, phase, counter := SplitColumnName(c)
			assert.NotEmpty(t, phase, c)
			assert.Contains(t, []string{"pmA", "pmB", "pmC"}, counter)
			assert.Equal(t, c, ComposeColumnName(dt, domain.Phase(phase), counter))
		}
	})

	t.Run("first counter follows join order", func(t *testing.T) {
		before := snapshotTable(
			[]string{"Z", "Cell=1", "pmFirstInFile", "1", "1"},
			[]string{"A", "Cell=1", "pmSorted", "2", "2"},
		)

		got, ok := Merge(before, domain.NewTable(domain.KeyColumns))
		require.True(t, ok)
		assert.Equal(t, []string{
			"NODENAME", "Object",
			t0 + "_BEFORE_pmSorted", t1 + "_BEFORE_pmSorted",
			t0 + "_BEFORE_pmFirstInFile", t1 + "_BEFORE_pmFirstInFile",
		}, got.Columns)
	})

	t.Run("one-sided snapshot", func(t *testing.T) {
		after := snapshotTable([]string{"A", "Cell=1", "pmA", "1", "2"})

		got, ok := Merge(nil, after)
		require.True(t, ok)
		assert.Equal(t, []string{"NODENAME", "Object", t0 + "_AFTER_pmA", t1 + "_AFTER_pmA"}, got.Columns)
		assert.Equal(t, [][]string{{"A", "Cell=1", "1", "2"}}, got.Rows)
	})

	t.Run("no counters is not comparable", func(t *testing.T) {
		got, ok := Merge(snapshotTable(), snapshotTable())
		assert.False(t, ok)
		assert.Nil(t, got)

		got, ok = Merge(nil, nil)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("duplicate keys pair every row", func(t *testing.T) {
		before := snapshotTable(
			[]string{"A", "Cell=1", "pmA", "1", "1"},
			[]string{"A", "Cell=1", "pmA", "2", "2"},
		)
		after := snapshotTable([]string{"A", "Cell=1", "pmA", "3", "3"})

		got, ok := Merge(before, after)
		require.True(t, ok)
		assert.Equal(t, [][]string{
			{"A", "Cell=1", "1", "1", "3", "3"},
			{"A", "Cell=1", "2", "2", "3", "3"},
		}, got.Rows)
	})
}
