// Package sync wires change detection, chunking, and embedding into a
// single incremental write: detect what moved on disk since the active
// snapshot, turn each touched path into chunk rows or a tombstone, and
// publish the result as one new snapshot generation.
package sync

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ggrep/ggrep/internal/change"
	"github.com/ggrep/ggrep/internal/chunk"
	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/embed"
	ggreperrors "github.com/ggrep/ggrep/internal/errors"
	"github.com/ggrep/ggrep/internal/identity"
	"github.com/ggrep/ggrep/internal/lease"
	"github.com/ggrep/ggrep/internal/scanner"
	"github.com/ggrep/ggrep/internal/snapshot"
)

// ChunkerVersion is stamped into every chunk_id this package mints.
// Bump it whenever chunk construction changes in a way that should
// force re-chunking rather than reusing cached rows.
const ChunkerVersion = "sync-v1"

const embeddingBatchSize = 32

// Chunkers selects a chunk.Chunker by the scanner's detected content
// type.
type Chunkers struct {
	Code     chunk.Chunker
	Markdown chunk.Chunker
}

func (c Chunkers) forContentType(ct scanner.ContentType) chunk.Chunker {
	switch ct {
	case scanner.ContentTypeCode:
		return c.Code
	case scanner.ContentTypeMarkdown:
		return c.Markdown
	default:
		return nil
	}
}

// Syncer owns one store's write path: it must run with the writer lease
// held for the lifetime of a Sync call.
type Syncer struct {
	Layout   snapshot.Layout
	Segments snapshot.SegmentStore
	Lease    *lease.Manager
	Detector *change.Detector
	Chunkers Chunkers
	Embedder embed.Embedder
	Config   *config.Config
	Identity identity.Identity

	// InterBatchDelay pauses between embedding batches so sustained
	// indexing does not thermally throttle the GPU; zero disables it.
	InterBatchDelay time.Duration

	// DetectRenames enables content-hash-based rename pairing
	// (internal/change/rename.go) instead of reporting a delete+add pair.
	DetectRenames bool

	// AllowDegraded publishes past per-file indexing failures: a file
	// that cannot be read, chunked, or embedded is skipped and
	// enumerated in the manifest's error list with degraded=true,
	// instead of aborting the whole publish. Strict mode (the default)
	// keeps the first failure fatal and leaves the last-good snapshot
	// active.
	AllowDegraded bool

	// Progress, when set, receives (processed, total, pathKey) after
	// each change-set record is turned into rows or a tombstone; the
	// CLI's progress renderer hangs off it.
	Progress func(done, total int, pathKey string)

	// EmbedRetry overrides the per-batch retry schedule; the zero
	// value takes the default bounded backoff. Tests shrink it.
	EmbedRetry ggreperrors.RetryConfig

	// embedBreaker fails embedding fast once the backend has failed
	// repeatedly within one sync, instead of timing out batch by batch.
	embedBreaker *ggreperrors.CircuitBreaker
}

func (s *Syncer) embedRetryConfig() ggreperrors.RetryConfig {
	if s.EmbedRetry.InitialDelay > 0 || s.EmbedRetry.MaxRetries > 0 {
		return s.EmbedRetry
	}
	return ggreperrors.DefaultRetryConfig()
}

func (s *Syncer) breaker() *ggreperrors.CircuitBreaker {
	if s.embedBreaker == nil {
		s.embedBreaker = ggreperrors.NewCircuitBreaker("embedder")
	}
	return s.embedBreaker
}

// Result summarizes one Sync call.
type Result struct {
	ChangeSet       *change.ChangeSet
	Manifest        *snapshot.Manifest // nil when there was nothing to publish
	RowsEmbedded    int
	FilesTombstoned int

	// FilesFailed lists the path_keys skipped under AllowDegraded; the
	// same failures appear, with their causes, in Manifest.Errors.
	FilesFailed []string
}

// Sync runs one full detect -> chunk -> embed -> publish cycle against
// root. A ChangeSet with no records is not an error: Result.Manifest is
// nil and the active snapshot is left untouched.
func (s *Syncer) Sync(ctx context.Context, root string) (*Result, error) {
	if err := s.Lease.VerifyOwnership(); err != nil {
		return nil, fmt.Errorf("sync: lease preflight: %w", err)
	}

	parent, err := openParent(s.Layout, s.Segments)
	if err != nil {
		return nil, fmt.Errorf("sync: open parent snapshot: %w", err)
	}

	prevIndex, err := buildPrevIndex(s.Layout, s.Segments, parent)
	if err != nil {
		return nil, fmt.Errorf("sync: build previous file index: %w", err)
	}

	changeSet, err := s.Detector.Detect(ctx, root, s.Config, prevIndex, s.DetectRenames)
	if err != nil {
		return nil, fmt.Errorf("sync: detect: %w", err)
	}
	result := &Result{ChangeSet: changeSet}
	if changeSet.IsEmpty() {
		return result, nil
	}

	changes := make([]snapshot.FileChange, 0, len(changeSet.Records))
	var degradedErrs []string

	// failFile decides one failed record's fate: fatal under strict
	// publish, enumerated-and-skipped under AllowDegraded. Skipping
	// never tombstones the failed path, so a modified file whose
	// re-embed failed keeps serving its previous rows rather than
	// vanishing.
	failFile := func(rec change.Record, err error) error {
		// Cancellation is never a degraded condition; a half-cancelled
		// sync must abort, not publish whatever it got to.
		if !s.AllowDegraded || ctx.Err() != nil {
			return err
		}
		degradedErrs = append(degradedErrs, fmt.Sprintf("%s: %v", rec.PathKey, err))
		result.FilesFailed = append(result.FilesFailed, rec.PathKey)
		return nil
	}

	for i, rec := range changeSet.Records {
		switch rec.Kind {
		case change.KindDelete:
			reason := snapshot.ReasonDelete
			changes = append(changes, snapshot.FileChange{PathKey: rec.PathKey, Tombstone: &reason})
			result.FilesTombstoned++

		case change.KindRename:
			fc, err := s.chunkAndEmbed(ctx, rec)
			if err != nil {
				// The old path's tombstone is withheld on failure so
				// the rename's source content stays live instead of
				// both sides disappearing.
				if ferr := failFile(rec, err); ferr != nil {
					return nil, ferr
				}
				break
			}
			reason := snapshot.ReasonRenameFrom
			changes = append(changes, snapshot.FileChange{PathKey: rec.OldPathKey, Tombstone: &reason})
			result.FilesTombstoned++
			changes = append(changes, fc)
			result.RowsEmbedded += len(fc.Rows)

		case change.KindAdd, change.KindModify:
			fc, err := s.chunkAndEmbed(ctx, rec)
			if err != nil {
				if ferr := failFile(rec, err); ferr != nil {
					return nil, ferr
				}
				break
			}
			changes = append(changes, fc)
			result.RowsEmbedded += len(fc.Rows)

		default:
			return nil, fmt.Errorf("sync: unknown change kind %q for %s", rec.Kind, rec.PathKey)
		}
		if s.Progress != nil {
			s.Progress(i+1, len(changeSet.Records), rec.PathKey)
		}
	}

	if len(changes) == 0 && len(degradedErrs) == 0 {
		return result, nil
	}

	writer := snapshot.NewWriter(s.Layout, s.Segments, s.Lease)
	// The scanner (gitignore-respecting) always folds non-ignored
	// untracked files into the change set alongside tracked ones.
	git := change.ReadGitInfo(root, true)
	snapshotIdentity := snapshot.Identity{
		CanonicalRoot:     s.Identity.CanonicalRoot,
		StoreID:           s.Identity.StoreID,
		ConfigFingerprint: s.Identity.ConfigFingerprint,
		IgnoreFingerprint: s.Identity.IgnoreFingerprint,
	}
	var manifest *snapshot.Manifest
	if len(degradedErrs) > 0 {
		sort.Strings(degradedErrs)
		manifest, err = writer.PublishDegraded(parent, snapshotIdentity, changes, git, degradedErrs)
	} else {
		manifest, err = writer.Publish(parent, snapshotIdentity, changes, git)
	}
	if err != nil {
		return nil, fmt.Errorf("sync: publish: %w", err)
	}
	result.Manifest = manifest
	return result, nil
}

// chunkAndEmbed turns one add/modify/rename-destination record into its
// FileChange: read the file, chunk it with the content-type-appropriate
// chunker, embed every chunk's text in batches, and assign deterministic
// row identifiers.
func (s *Syncer) chunkAndEmbed(ctx context.Context, rec change.Record) (snapshot.FileChange, error) {
	language := rec.Language
	contentType := scanner.DetectContentType(language)
	chunker := s.Chunkers.forContentType(contentType)
	if chunker == nil {
		return snapshot.FileChange{}, fmt.Errorf("sync: no chunker registered for content type %q (%s)", contentType, rec.PathKey)
	}

	content, err := readFileBytes(rec.AbsPath)
	if err != nil {
		return snapshot.FileChange{}, fmt.Errorf("sync: read %s: %w", rec.PathKey, err)
	}

	chunks, err := chunker.Chunk(ctx, &chunk.FileInput{Path: rec.PathKey, Content: content, Language: language})
	if err != nil {
		return snapshot.FileChange{}, fmt.Errorf("sync: chunk %s: %w", rec.PathKey, err)
	}
	if len(chunks) == 0 {
		reason := snapshot.ReasonReplace
		return snapshot.FileChange{PathKey: rec.PathKey, Tombstone: &reason}, nil
	}

	rows, err := s.embedChunks(ctx, rec, chunks)
	if err != nil {
		return snapshot.FileChange{}, err
	}
	return snapshot.FileChange{PathKey: rec.PathKey, Rows: rows}, nil
}

// embedChunks assigns row identifiers and fills in embeddings in
// batches of embeddingBatchSize, with an optional inter-batch cooling
// delay. Each batch retries transient backend failures under a bounded
// backoff; repeated failures trip the circuit breaker so the remaining
// batches fail fast instead of each waiting out its own timeouts.
func (s *Syncer) embedChunks(ctx context.Context, rec change.Record, chunks []*chunk.Chunk) ([]snapshot.ChunkRow, error) {
	pathKeyCI := identity.PathKeyCI(rec.PathKey)
	rows := make([]snapshot.ChunkRow, len(chunks))
	for i, c := range chunks {
		hash := snapshot.ChunkHash(c.Content)
		kind := snapshot.KindText
		chunkID := snapshot.ChunkID(hash, ChunkerVersion, kind)
		rows[i] = snapshot.ChunkRow{
			RowID:          snapshot.RowID(rec.PathKey, chunkID, i),
			ChunkID:        chunkID,
			PathKey:        rec.PathKey,
			PathKeyCI:      pathKeyCI,
			Ordinal:        i,
			FileHash:       rec.ContentHash,
			ChunkHash:      hash,
			ChunkerVersion: ChunkerVersion,
			Kind:           kind,
			Text:           c.Content,
			StartLine:      c.StartLine,
			EndLine:        c.EndLine,
			Language:       c.Language,
		}
	}

	for start := 0; start < len(rows); start += embeddingBatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		end := start + embeddingBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		texts := make([]string, end-start)
		for i := range texts {
			texts[i] = rows[start+i].Text
		}
		breaker := s.breaker()
		if !breaker.Allow() {
			return nil, fmt.Errorf("sync: embed batch %d-%d for %s: %w", start, end, rec.PathKey, ggreperrors.ErrCircuitOpen)
		}
		vectors, err := ggreperrors.RetryWithResult(ctx, s.embedRetryConfig(), func() ([][]float32, error) {
			return s.Embedder.EmbedBatch(ctx, texts)
		})
		if err != nil {
			breaker.RecordFailure()
			return nil, fmt.Errorf("sync: embed batch %d-%d for %s: %w", start, end, rec.PathKey, err)
		}
		breaker.RecordSuccess()
		for i, v := range vectors {
			rows[start+i].Embedding = v
		}
		if s.InterBatchDelay > 0 && end < len(rows) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.InterBatchDelay):
			}
		}
	}
	return rows, nil
}

func readFileBytes(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// openParent returns the store's current active manifest, or (nil, nil)
// for a store that has never published a snapshot. Any other failure from
// OpenLatestValid is real corruption and is propagated.
func openParent(layout snapshot.Layout, segments snapshot.SegmentStore) (*snapshot.Manifest, error) {
	m, err := snapshot.OpenLatestValid(layout, segments)
	if err == nil {
		return m, nil
	}
	ids, listErr := snapshot.ListSnapshotIDs(layout)
	if listErr == nil && len(ids) == 0 {
		return nil, nil
	}
	return nil, err
}

// buildPrevIndex reconstructs the change detector's previously-indexed
// state from the parent manifest's live rows: one FileMeta per live
// path_key, keyed by the full-content hash already recorded on its rows.
// Size and ModTime are intentionally left zero, which only disables the
// detector's mtime/size fast path (change.Detector falls back to a full
// content hash for every path); correctness does not depend on it, since
// manifests do not additionally persist raw filesystem metadata.
func buildPrevIndex(layout snapshot.Layout, segments snapshot.SegmentStore, parent *snapshot.Manifest) (map[string]change.FileMeta, error) {
	out := map[string]change.FileMeta{}
	if parent == nil {
		return out, nil
	}
	index, err := snapshot.ReadSegmentFileIndex(layout, parent.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("sync: read segment file index for %d: %w", parent.SnapshotID, err)
	}
	bySegment := map[string][]string{}
	for _, e := range index {
		bySegment[e.SegmentID] = append(bySegment[e.SegmentID], e.PathKey)
	}
	for segID, paths := range bySegment {
		want := make(map[string]bool, len(paths))
		for _, pk := range paths {
			want[pk] = true
		}
		rows, err := segments.Scan(segID)
		if err != nil {
			return nil, fmt.Errorf("sync: scan segment %s: %w", segID, err)
		}
		for _, r := range rows {
			if want[r.PathKey] {
				out[r.PathKey] = change.FileMeta{ContentHash: r.FileHash}
			}
		}
	}
	return out, nil
}
