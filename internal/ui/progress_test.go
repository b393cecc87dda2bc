package ui

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_StageAndCounts(t *testing.T) {
	p := NewProgressTracker()

	stats := p.Stats()
	assert.Equal(t, StageScanning, stats.Stage)
	assert.Zero(t, stats.Current)

	p.SetStage(StageEmbedding, 100)
	p.Update(25, "internal/query/engine.go")

	stats = p.Stats()
	assert.Equal(t, StageEmbedding, stats.Stage)
	assert.Equal(t, 25, stats.Current)
	assert.Equal(t, 100, stats.Total)
	assert.Equal(t, "internal/query/engine.go", stats.CurrentFile)
	assert.InDelta(t, 0.25, stats.Progress, 1e-9)

	// An empty file string keeps the previous one.
	p.Update(26, "")
	assert.Equal(t, "internal/query/engine.go", p.Stats().CurrentFile)
}

func TestProgressTracker_ProgressClamps(t *testing.T) {
	p := NewProgressTracker()

	assert.Zero(t, p.Progress(), "unknown total reads as zero")

	p.SetStage(StageEmbedding, 10)
	p.Update(15, "")
	assert.Equal(t, 1.0, p.Progress(), "overshoot clamps to 1")
}

func TestProgressTracker_StageChangeResets(t *testing.T) {
	p := NewProgressTracker()
	p.SetStage(StageEmbedding, 50)
	p.Update(40, "deep/file.go")

	p.SetStage(StageIndexing, 10)
	stats := p.Stats()
	assert.Equal(t, StageIndexing, stats.Stage)
	assert.Zero(t, stats.Current)
	assert.Empty(t, stats.CurrentFile)
	assert.Zero(t, stats.Speed.Peak, "speed state resets per stage")
}

func TestProgressTracker_ErrorsAndWarnings(t *testing.T) {
	p := NewProgressTracker()

	p.AddError(ErrorEvent{File: "a.go", Err: errors.New("boom")})
	p.AddError(ErrorEvent{File: "b.go", Err: errors.New("meh"), IsWarn: true})
	p.AddError(ErrorEvent{File: "c.go", Err: errors.New("boom2")})

	stats := p.Stats()
	assert.Equal(t, 2, stats.ErrorCount)
	assert.Equal(t, 1, stats.WarnCount)
	assert.Len(t, p.Errors(), 2)
	assert.Len(t, p.Warnings(), 1)

	// The returned slices are copies, not views.
	errs := p.Errors()
	errs[0] = ErrorEvent{}
	assert.Equal(t, "a.go", p.Errors()[0].File)
}

func TestProgressTracker_ETA(t *testing.T) {
	p := NewProgressTracker()

	// No progress yet: no estimate.
	assert.Zero(t, p.ETA())

	p.SetStage(StageEmbedding, 100)
	time.Sleep(20 * time.Millisecond)
	p.Update(50, "")

	eta := p.ETA()
	assert.Greater(t, eta, time.Duration(0))
	// Half done after ~20ms means roughly 20ms remain; anything wildly
	// above that would mean the estimate ignored elapsed time.
	assert.Less(t, eta, time.Second)

	assert.Greater(t, p.Elapsed(), time.Duration(0))
}

func TestProgressTracker_SpeedSampling(t *testing.T) {
	p := NewProgressTracker()
	p.SetStage(StageEmbedding, 10000)

	p.Update(100, "")
	// Force the 500ms sampling window to elapse.
	p.lastSpeedCalc = time.Now().Add(-time.Second)
	p.Update(600, "")

	speed := p.SpeedStats()
	assert.Greater(t, speed.Current, 0.0)
	assert.Greater(t, speed.Avg, 0.0)
	assert.GreaterOrEqual(t, speed.Peak, speed.Current)

	assert.NotEmpty(t, p.RenderSparkline(20))
}

func TestSparkline(t *testing.T) {
	s := NewSparkline(5)
	assert.Zero(t, s.Count())

	// Empty sparkline renders baseline bars at full width.
	assert.Len(t, []rune(s.Render()), 5)

	for _, v := range []float64{1, 2, 8, 4, 2} {
		s.Add(v)
	}
	assert.Equal(t, 5, s.Count())
	assert.Equal(t, 8.0, s.Max())

	out := []rune(s.Render())
	assert.Len(t, out, 5)
	// The max sample renders the tallest block.
	assert.Contains(t, string(out), string(SparklineChars[len(SparklineChars)-1]))

	narrow := []rune(s.RenderWithWidth(3))
	assert.Len(t, narrow, 3)

	s.Clear()
	assert.Zero(t, s.Count())
	assert.Zero(t, s.Max())
}

func TestSparkline_RingWrap(t *testing.T) {
	s := NewSparkline(4)
	for i := 1; i <= 10; i++ {
		s.Add(float64(i))
	}
	// After wrapping, rendering still emits exactly width runes and
	// max tracks the surviving window.
	assert.Len(t, []rune(s.Render()), 4)
	assert.GreaterOrEqual(t, s.Max(), 7.0)
}
