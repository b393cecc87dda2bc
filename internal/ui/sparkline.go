package ui

import (
	"strings"
)

// Sparkline is a ring buffer of throughput samples rendered as a row
// of Unicode block characters (asitop-style). Scaling is relative to
// the window maximum, recomputed periodically so a one-off spike does
// not flatten the rest of the run forever.
type Sparkline struct {
	samples []float64
	width   int
	head    int
	count   int
	max     float64
}

// SparklineChars are the eight block heights.
var SparklineChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// NewSparkline sizes the ring; non-positive widths take the default.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{
		samples: make([]float64, width),
		width:   width,
		head:    0,
		count:   0,
		max:     0,
	}
}

// Add records one sample, refreshing the window max each full lap of
// the ring.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % s.width
	s.count++

	if value > s.max {
		s.max = value
	}

	if s.count%s.width == 0 {
		s.recalculateMax()
	}
}

// recalculateMax rescans the ring; a floor of 1 avoids dividing by
// zero on an all-zero window.
func (s *Sparkline) recalculateMax() {
	s.max = 0
	for _, v := range s.samples {
		if v > s.max {
			s.max = v
		}
	}
	if s.max < 1 {
		s.max = 1
	}
}

// Render draws the full-width sparkline, oldest sample first; slots
// not yet reached render as spaces.
func (s *Sparkline) Render() string {
	if s.count == 0 {
		return strings.Repeat(string(SparklineChars[0]), s.width)
	}

	// Ensure we have a valid max
	if s.max <= 0 {
		s.recalculateMax()
	}

	var sb strings.Builder
	sb.Grow(s.width * 3) // UTF-8 chars can be up to 3 bytes

	// Render from oldest to newest
	numSamples := min(s.count, s.width)
	start := 0
	if s.count >= s.width {
		start = s.head
	}

	for i := 0; i < s.width; i++ {
		idx := (start + i) % s.width
		value := s.samples[idx]

		// Scale value to 0-7 range for character selection
		var charIdx int
		if s.max > 0 {
			scaled := value / s.max
			charIdx = int(scaled * float64(len(SparklineChars)-1))
			if charIdx < 0 {
				charIdx = 0
			}
			if charIdx >= len(SparklineChars) {
				charIdx = len(SparklineChars) - 1
			}
		}

		// Show empty for samples we haven't reached yet
		if i >= numSamples && s.count < s.width {
			sb.WriteRune(' ')
		} else {
			sb.WriteRune(SparklineChars[charIdx])
		}
	}

	return sb.String()
}

// RenderWithWidth draws only the newest samples that fit a narrower
// terminal.
func (s *Sparkline) RenderWithWidth(width int) string {
	if width <= 0 || width >= s.width {
		return s.Render()
	}

	// Render only the most recent 'width' samples
	if s.count == 0 {
		return strings.Repeat(string(SparklineChars[0]), width)
	}

	if s.max <= 0 {
		s.recalculateMax()
	}

	var sb strings.Builder
	sb.Grow(width * 3)

	numSamples := min(s.count, s.width)
	skipCount := 0
	if numSamples > width {
		skipCount = numSamples - width
	}

	start := 0
	if s.count >= s.width {
		start = s.head
	}

	rendered := 0
	for i := 0; i < s.width && rendered < width; i++ {
		if i < skipCount {
			continue
		}

		idx := (start + i) % s.width
		value := s.samples[idx]

		var charIdx int
		if s.max > 0 {
			scaled := value / s.max
			charIdx = int(scaled * float64(len(SparklineChars)-1))
			if charIdx < 0 {
				charIdx = 0
			}
			if charIdx >= len(SparklineChars) {
				charIdx = len(SparklineChars) - 1
			}
		}

		if i >= numSamples && s.count < s.width {
			sb.WriteRune(' ')
		} else {
			sb.WriteRune(SparklineChars[charIdx])
		}
		rendered++
	}

	// Pad with spaces if we don't have enough samples
	for rendered < width {
		sb.WriteRune(' ')
		rendered++
	}

	return sb.String()
}

// Clear zeroes the ring for a new stage.
func (s *Sparkline) Clear() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
	s.max = 0
}

// Count is the total samples recorded.
func (s *Sparkline) Count() int {
	return s.count
}

// Max is the current scaling maximum.
func (s *Sparkline) Max() float64 {
	return s.max
}
