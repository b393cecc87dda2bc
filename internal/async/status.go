// Package async runs the initial sync off the serving goroutine and
// tracks its progress, so an agent client connecting to a cold store
// gets an index_status answer ("indexing, 40%") instead of a blocked
// handshake.
package async

import (
	"sync"
	"time"
)

// IndexingStatus is the coarse tri-state a client switches on.
type IndexingStatus string

const (
	// StatusIndexing indicates indexing is in progress.
	StatusIndexing IndexingStatus = "indexing"
	// StatusReady indicates indexing is complete and search is available.
	StatusReady IndexingStatus = "ready"
	// StatusError indicates indexing failed with an error.
	StatusError IndexingStatus = "error"
)

// IndexingStage names the pipeline phase for display.
type IndexingStage string

const (
	// StageScanning indicates the file discovery phase.
	StageScanning IndexingStage = "scanning"
	// StageChunking indicates the code/text chunking phase.
	StageChunking IndexingStage = "chunking"
	// StageEmbedding indicates the embedding generation phase.
	StageEmbedding IndexingStage = "embedding"
	// StageIndexing indicates the index building phase.
	StageIndexing IndexingStage = "indexing"
)

// IndexProgressSnapshot is one JSON-ready reading of the progress;
// clients poll it rather than holding any live reference.
type IndexProgressSnapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	FilesTotal     int     `json:"files_total"`
	FilesProcessed int     `json:"files_processed"`
	ChunksTotal    int     `json:"chunks_total"`
	ChunksIndexed  int     `json:"chunks_indexed"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// IndexProgress is the mutable tracker the indexing goroutine writes
// and tool handlers read.
type IndexProgress struct {
	mu sync.RWMutex

	status         IndexingStatus
	stage          IndexingStage
	filesTotal     int
	filesProcessed int
	chunksTotal    int
	chunksIndexed  int
	startTime      time.Time
	errorMessage   string
}

// NewIndexProgress starts in the scanning stage with status indexing.
func NewIndexProgress() *IndexProgress {
	return &IndexProgress{
		status:    StatusIndexing,
		stage:     StageScanning,
		startTime: time.Now(),
	}
}

// SetStage moves to a new stage with its file total.
func (p *IndexProgress) SetStage(stage IndexingStage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.filesTotal = total
}

// UpdateFiles records files completed in the current stage.
func (p *IndexProgress) UpdateFiles(processed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.filesProcessed = processed
}

// SetChunksTotal records the chunk workload once known.
func (p *IndexProgress) SetChunksTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chunksTotal = total
}

// UpdateChunks records chunks written so far.
func (p *IndexProgress) UpdateChunks(indexed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chunksIndexed = indexed
}

// SetError transitions to the error state; the message surfaces
// verbatim in index_status.
func (p *IndexProgress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMessage = message
}

// SetReady transitions to ready; queries can be served.
func (p *IndexProgress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
}

// IsIndexing reports whether the pass is still running.
func (p *IndexProgress) IsIndexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusIndexing
}

// Snapshot reads everything under one lock so the percentages are
// mutually consistent.
func (p *IndexProgress) Snapshot() IndexProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var progressPct float64
	if p.filesTotal > 0 {
		progressPct = float64(p.filesProcessed) / float64(p.filesTotal) * 100.0
	}

	return IndexProgressSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		FilesTotal:     p.filesTotal,
		FilesProcessed: p.filesProcessed,
		ChunksTotal:    p.chunksTotal,
		ChunksIndexed:  p.chunksIndexed,
		ProgressPct:    progressPct,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}
