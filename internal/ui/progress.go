package ui

import (
	"sync"
	"time"
)

// ProgressTracker is the shared state behind both renderers: stage,
// counts, errors, a smoothed ETA, and asitop-style speed metrics
// feeding the sparkline. Safe for concurrent use; the renderer's
// update goroutine and bubbletea's render loop both read it.
type ProgressTracker struct {
	mu          sync.RWMutex
	stage       Stage
	current     int
	total       int
	currentFile string
	startTime   time.Time
	stageStart  time.Time
	errors      []ErrorEvent
	warnings    []ErrorEvent

	// lastETA carries the exponential smoothing between estimates
	lastETA time.Duration

	// Speed tracking
	lastCurrent   int
	lastSpeedCalc time.Time
	currentSpeed  float64
	avgSpeed      float64
	peakSpeed     float64
	speedSamples  int
	sparkline     *Sparkline
}

// SpeedStats is the current/average/peak items-per-second triple.
type SpeedStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// ProgressStats is one consistent snapshot for a render frame.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	CurrentFile string
	ErrorCount  int
	WarnCount   int
	Speed       SpeedStats
}

// NewProgressTracker starts a tracker in the scanning stage.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:         StageScanning,
		startTime:     now,
		stageStart:    now,
		lastSpeedCalc: now,
		sparkline:     NewSparkline(60), // one minute at a sample per second
	}
}

// SetStage resets counts, ETA smoothing, and speed state for a new
// stage; cross-stage speed comparisons would be meaningless.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.currentFile = ""
	p.stageStart = time.Now()
	p.lastETA = 0
	p.lastCurrent = 0
	p.lastSpeedCalc = time.Now()
	p.currentSpeed = 0
	p.avgSpeed = 0
	p.peakSpeed = 0
	p.speedSamples = 0
	p.sparkline.Clear()
}

// Update advances the count. Speed samples at most twice a second so
// bursty per-file updates do not read as throughput spikes.
func (p *ProgressTracker) Update(current int, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if file != "" {
		p.currentFile = file
	}

	now := time.Now()
	elapsed := now.Sub(p.lastSpeedCalc)
	if elapsed >= 500*time.Millisecond {
		delta := current - p.lastCurrent
		if delta > 0 && elapsed > 0 {
			speed := float64(delta) / elapsed.Seconds()
			p.currentSpeed = speed

			p.speedSamples++
			if p.speedSamples == 1 {
				p.avgSpeed = speed
			} else {
				p.avgSpeed = 0.2*speed + 0.8*p.avgSpeed
			}

			if speed > p.peakSpeed {
				p.peakSpeed = speed
			}

			p.sparkline.Add(speed)
		}

		p.lastCurrent = current
		p.lastSpeedCalc = now
	}
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Progress is the stage's completion fraction, clamped to [0, 1].
func (p *ProgressTracker) Progress() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.total == 0 {
		return 0.0
	}

	progress := float64(p.current) / float64(p.total)
	if progress > 1.0 {
		return 1.0
	}
	return progress
}

// ETA estimates remaining stage time. Write lock: the smoothing state
// mutates on every estimate.
func (p *ProgressTracker) ETA() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.calculateETA()
}

// Elapsed is time since the tracker started.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return time.Since(p.startTime)
}

// Stats captures one frame's worth of state. Write lock: the ETA
// smoothing mutates.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	progress := 0.0
	if p.total > 0 {
		progress = float64(p.current) / float64(p.total)
		if progress > 1.0 {
			progress = 1.0
		}
	}

	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Progress:    progress,
		ETA:         p.calculateETA(),
		CurrentFile: p.currentFile,
		ErrorCount:  len(p.errors),
		WarnCount:   len(p.warnings),
		Speed: SpeedStats{
			Current: p.currentSpeed,
			Avg:     p.avgSpeed,
			Peak:    p.peakSpeed,
		},
	}
}

// etaSmoothingFactor weights fresh estimates against history; batch
// embedding variance makes raw estimates jump wildly otherwise.
const etaSmoothingFactor = 0.3

// calculateETA must be called with the lock held.
func (p *ProgressTracker) calculateETA() time.Duration {
	if p.current == 0 || p.total == 0 {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	progress := float64(p.current) / float64(p.total)

	if progress <= 0 || progress >= 1.0 {
		return 0
	}

	totalEstimate := time.Duration(float64(elapsed) / progress)
	rawRemaining := totalEstimate - elapsed

	if rawRemaining < 0 {
		return 0
	}

	if p.lastETA == 0 {
		p.lastETA = rawRemaining
		return rawRemaining
	}

	smoothed := time.Duration(
		etaSmoothingFactor*float64(rawRemaining) +
			(1-etaSmoothingFactor)*float64(p.lastETA),
	)
	p.lastETA = smoothed

	return smoothed
}

// Errors copies out the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]ErrorEvent, len(p.errors))
	copy(result, p.errors)
	return result
}

// Warnings copies out the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]ErrorEvent, len(p.warnings))
	copy(result, p.warnings)
	return result
}

// RenderSparkline renders the throughput history at width.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.sparkline == nil {
		return ""
	}

	if width <= 0 {
		return p.sparkline.Render()
	}
	return p.sparkline.RenderWithWidth(width)
}

// SpeedStats reads the current speed triple.
func (p *ProgressTracker) SpeedStats() SpeedStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return SpeedStats{
		Current: p.currentSpeed,
		Avg:     p.avgSpeed,
		Peak:    p.peakSpeed,
	}
}
