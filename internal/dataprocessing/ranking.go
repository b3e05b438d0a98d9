package dataprocessing

import (
	"fmt"
	"sort"

	apperrors "kpicompare/internal/errors"
	"kpicompare/pkg/contracts/domain"
)

// DefaultRankSize is the number of nodes listed on each side of a ranking
const DefaultRankSize = 10

// Rank lists the n lowest and n highest numeric values of the datetime column
// of t. Rows whose cell is not numeric are skipped; ties keep table order.
func Rank(t *domain.Table, datetime string, n int) (lowest, highest []domain.RankEntry, err error) {
	if n <= 0 {
		n = DefaultRankSize
	}
	if t.IsEmpty() {
		return []domain.RankEntry{}, []domain.RankEntry{}, nil
	}
	if !t.HasColumn(datetime) || domain.IsKeyColumn(datetime) {
		return nil, nil, apperrors.NewAppValidationError(fmt.Sprintf("unknown datetime column %q", datetime))
	}

	var entries []domain.RankEntry
	for i := range t.Rows {
		v, ok := ParseNumeric(t.Cell(i, datetime))
		if !ok {
			continue
		}
		entries = append(entries, domain.RankEntry{NodeName: t.Cell(i, domain.ColNodeName), Value: v})
	}

	asc := append([]domain.RankEntry{}, entries...)
	sort.SliceStable(asc, func(i, j int) bool { return asc[i].Value < asc[j].Value })
	desc := append([]domain.RankEntry{}, entries...)
	sort.SliceStable(desc, func(i, j int) bool { return desc[i].Value > desc[j].Value })

	return head(asc, n), head(desc, n), nil
}

func head(entries []domain.RankEntry, n int) []domain.RankEntry {
	if len(entries) > n {
		entries = entries[:n]
	}
	if entries == nil {
		return []domain.RankEntry{}
	}
	return entries
}

// BuildChartSeries turns every row of t into one time series over its
// datetime columns. Missing cells become points without a value.
func BuildChartSeries(t *domain.Table) []domain.ChartSeries {
	series := make([]domain.ChartSeries, 0, t.Len())
	if t.IsEmpty() {
		return series
	}

	datetimes := t.DatetimeColumns()
	for i := range t.Rows {
		s := domain.ChartSeries{
			NodeName: t.Cell(i, domain.ColNodeName),
			Object:   t.Cell(i, domain.ColObject),
			Counter:  t.Cell(i, domain.ColCounter),
			Points:   make([]domain.ChartPoint, len(datetimes)),
		}
		for j, dt := range datetimes {
			s.Points[j] = domain.ChartPoint{Datetime: dt}
			if v, ok := ParseNumeric(t.Cell(i, dt)); ok {
				s.Points[j].Value = &v
			}
		}
		series = append(series, s)
	}
	return series
}
