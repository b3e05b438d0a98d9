package domain

import (
	"sort"
	"time"
)

// NoStart disables the start-time filter of a snapshot
const NoStart = "NO_START"

// MaxROP is the return-of-period cap: the maximum number of datetime
// columns one snapshot may hold
const MaxROP = 68

// Phase names one side of a comparison window
type Phase string

const (
	PhaseBefore Phase = "BEFORE"
	PhaseAfter  Phase = "AFTER"
)

// GroupMode selects the aggregation granularity
type GroupMode string

const (
	GroupAll      GroupMode = "ALL"
	GroupNodeName GroupMode = "NODENAME"
	GroupObject   GroupMode = "OBJECT"
)

// Method selects the numeric reducer used by aggregation
type Method string

const (
	MethodAverage Method = "AVERAGE"
	MethodMax     Method = "MAX"
	MethodMin     Method = "MIN"
	MethodSum     Method = "SUM"
)

// Literal NODENAME values written by aggregation
const (
	AggregatedAllNode      = "ALL"
	AggregatedByObjectNode = "AGGREGATED_BY_OBJECT"
)

// Family is one counter family distinguished by its line prefix
type Family struct {
	Name   string `json:"name" yaml:"name"`
	Prefix string `json:"prefix" yaml:"prefix"`
}

// DefaultFamilies returns the 5G and LTE families
func DefaultFamilies() []Family {
	return []Family{
		{Name: "5G", Prefix: "GREP_KPI_5G"},
		{Name: "LTE", Prefix: "GREP_KPI_LTE"},
	}
}

// FamilyResult holds the snapshots and comparison of one family
type FamilyResult struct {
	Family     Family   `json:"family"`
	Before     *Table   `json:"before"`
	After      *Table   `json:"after"`
	Comparison *Table   `json:"comparison,omitempty"`
	Comparable bool     `json:"comparable"`
	Datetimes  []string `json:"datetimes"`
	Counters   []string `json:"counters"`
	NodeNames  []string `json:"node_names"`
}

// RunStatus represents the status of a comparison run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one BEFORE/AFTER comparison over every configured family
type Run struct {
	ID          string                   `json:"id"`
	Status      RunStatus                `json:"status"`
	Source      string                   `json:"source,omitempty"`
	BeforeStart string                   `json:"before_start"`
	AfterStart  string                   `json:"after_start"`
	Stage       string                   `json:"stage,omitempty"`
	Progress    int                      `json:"progress"`
	Families    map[string]*FamilyResult `json:"families,omitempty"`
	Warnings    []string                 `json:"warnings,omitempty"`
	Error       string                   `json:"error,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	Duration    time.Duration            `json:"duration"`
}

// IsFinished reports whether the run reached a terminal status
func (r *Run) IsFinished() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// FamilyNames returns the run's family names in sorted order
func (r *Run) FamilyNames() []string {
	names := make([]string, 0, len(r.Families))
	for name := range r.Families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RankEntry is one node's value at a ranked datetime
type RankEntry struct {
	NodeName string  `json:"nodename"`
	Value    float64 `json:"value"`
}

// Ranking holds the lowest and highest nodes of a counter at one datetime
type Ranking struct {
	Counter  string      `json:"counter"`
	Datetime string      `json:"datetime"`
	Phase    Phase       `json:"phase"`
	Lowest   []RankEntry `json:"lowest"`
	Highest  []RankEntry `json:"highest"`
}

// ChartPoint is one numeric sample of a chart series; Value is nil when missing
type ChartPoint struct {
	Datetime string   `json:"datetime"`
	Value    *float64 `json:"value"`
}

// ChartSeries is the time series of one row of an aggregated table
type ChartSeries struct {
	NodeName string       `json:"nodename"`
	Object   string       `json:"object"`
	Counter  string       `json:"counter"`
	Points   []ChartPoint `json:"points"`
}
