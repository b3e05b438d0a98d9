package operations

import (
	"fmt"
	"sync"
	"time"
)

// Run stages reported in progress events
const (
	StageExtract  = "extract"
	StageAssemble = "assemble"
	StageMerge    = "merge"
	StageComplete = "complete"
)

// Percent bands of the stages
const (
	assembleFrom = 10
	assembleTo   = 80
)

// ProgressEvent is one percent-complete notification for a run
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
	Part    string `json:"part,omitempty"`
	File    string `json:"file,omitempty"`
	Elapsed string `json:"elapsed"`
	ETA     string `json:"eta,omitempty"`
}

// ProgressTracker aggregates the file progress of a run's snapshots into a
// single monotonic percentage. Each snapshot is one equally weighted part.
type ProgressTracker struct {
	mu        sync.Mutex
	index     map[string]int
	fractions []float64
	percent   int
	stage     string
	startTime time.Time
	notify    func(ProgressEvent)
}

// NewProgressTracker creates a tracker over the named parts. notify may be nil.
func NewProgressTracker(parts []string, notify func(ProgressEvent)) *ProgressTracker {
	index := make(map[string]int, len(parts))
	for i, part := range parts {
		index[part] = i
	}
	if notify == nil {
		notify = func(ProgressEvent) {}
	}
	return &ProgressTracker{
		index:     index,
		fractions: make([]float64, len(parts)),
		startTime: time.Now(),
		notify:    notify,
	}
}

// SetStage moves the run to a new stage at the given percent
func (p *ProgressTracker) SetStage(stage string, percent int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	if percent > p.percent {
		p.percent = percent
	}
	p.notify(p.eventLocked(message, "", ""))
}

// FileDone records that done of total files of part are assembled.
// An event is emitted only when the overall percent grows.
func (p *ProgressTracker) FileDone(part string, done, total int, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.index[part]
	if !ok || total <= 0 {
		return
	}
	p.fractions[i] = float64(done) / float64(total)

	sum := 0.0
	for _, f := range p.fractions {
		sum += f
	}
	percent := assembleFrom + int(float64(assembleTo-assembleFrom)*sum/float64(len(p.fractions)))
	if percent <= p.percent {
		return
	}

	p.stage = StageAssemble
	p.percent = percent
	p.notify(p.eventLocked(fmt.Sprintf("%s: %d/%d files", part, done, total), part, file))
}

// AssembleStarted marks the start of snapshot assembly
func (p *ProgressTracker) AssembleStarted() {
	p.SetStage(StageAssemble, assembleFrom, "assembling snapshots")
}

// MergeStarted marks the end of snapshot assembly
func (p *ProgressTracker) MergeStarted() {
	p.SetStage(StageMerge, assembleTo, "merging snapshots")
}

// Complete reports 100 percent
func (p *ProgressTracker) Complete(message string) {
	p.SetStage(StageComplete, 100, message)
}

// Percent returns the current overall percentage
func (p *ProgressTracker) Percent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent
}

// Stage returns the current stage
func (p *ProgressTracker) Stage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

func (p *ProgressTracker) eventLocked(message, part, file string) ProgressEvent {
	return ProgressEvent{
		Stage:   p.stage,
		Percent: p.percent,
		Message: message,
		Part:    part,
		File:    file,
		Elapsed: formatDuration(time.Since(p.startTime)),
		ETA:     p.etaLocked(),
	}
}

// etaLocked extrapolates the remaining time from the percent reached so far
func (p *ProgressTracker) etaLocked() string {
	if p.percent <= 0 || p.percent >= 100 {
		return ""
	}
	elapsed := time.Since(p.startTime)
	remaining := time.Duration(float64(elapsed) * float64(100-p.percent) / float64(p.percent))
	return formatDuration(remaining)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1f minutes", d.Minutes())
	default:
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
}
