package operations

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recorder) notify(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) percents() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Percent)
	}
	return out
}

func TestProgressTracker(t *testing.T) {
	rec := &recorder{}
	tracker := NewProgressTracker([]string{"LTE/BEFORE", "LTE/AFTER"}, rec.notify)

	tracker.SetStage(StageExtract, 5, "extracting archive")
	tracker.FileDone("LTE/BEFORE", 1, 2, "a.log")
	tracker.FileDone("LTE/BEFORE", 2, 2, "b.log")
	tracker.FileDone("LTE/AFTER", 1, 1, "c.log")
	tracker.MergeStarted()
	tracker.Complete("done")

	assert.Equal(t, []int{5, 27, 45, 80, 80, 100}, rec.percents())

	rec.mu.Lock()
	first := rec.events[1]
	last := rec.events[len(rec.events)-1]
	rec.mu.Unlock()

	assert.Equal(t, StageAssemble, first.Stage)
	assert.Equal(t, "LTE/BEFORE", first.Part)
	assert.Equal(t, "a.log", first.File)
	assert.Equal(t, "LTE/BEFORE: 1/2 files", first.Message)
	assert.Equal(t, StageComplete, last.Stage)
	assert.Empty(t, last.ETA)

	assert.Equal(t, 100, tracker.Percent())
	assert.Equal(t, StageComplete, tracker.Stage())
}

func TestProgressTracker_IgnoresUnknownAndStale(t *testing.T) {
	rec := &recorder{}
	tracker := NewProgressTracker([]string{"5G/BEFORE"}, rec.notify)

	tracker.FileDone("unknown", 1, 1, "x.log")
	tracker.FileDone("5G/BEFORE", 1, 0, "x.log")
	assert.Empty(t, rec.percents())

	tracker.FileDone("5G/BEFORE", 1, 1, "x.log")
	tracker.FileDone("5G/BEFORE", 1, 1, "x.log")
	tracker.SetStage(StageExtract, 3, "lower percent never goes backwards")

	assert.Equal(t, []int{80, 80}, rec.percents())
}

func TestProgressTracker_NilNotifyAndConcurrency(t *testing.T) {
	parts := []string{"a", "b", "c", "d"}
	tracker := NewProgressTracker(parts, nil)

	var wg sync.WaitGroup
	for _, part := range parts {
		wg.Add(1)
		go func(part string) {
			defer wg.Done()
			for i := 1; i <= 10; i++ {
				tracker.FileDone(part, i, 10, "f.log")
			}
		}(part)
	}
	wg.Wait()

	assert.Equal(t, assembleTo, tracker.Percent())
}

func TestFormatDuration(t *testing.T) {
	require.Equal(t, "5 seconds", formatDuration(5*time.Second))
	assert.Equal(t, "1.5 minutes", formatDuration(90*time.Second))
	assert.Equal(t, "2.0 hours", formatDuration(2*time.Hour))
}

func TestProgressTracker_AssembleStarted(t *testing.T) {
	rec := &recorder{}
	tracker := NewProgressTracker([]string{"LTE/BEFORE"}, rec.notify)

	tracker.AssembleStarted()

	assert.Equal(t, []int{assembleFrom}, rec.percents())
	assert.Equal(t, StageAssemble, tracker.Stage())
}
