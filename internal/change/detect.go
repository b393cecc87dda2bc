package change

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/identity"
	"github.com/ggrep/ggrep/internal/scanner"
)

// Detector computes the change set between a working tree and the
// previously indexed file metadata.
type Detector struct {
	scan *scanner.Scanner
}

// NewDetector returns a Detector backed by a fresh scanner.
func NewDetector() (*Detector, error) {
	s, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("change: new scanner: %w", err)
	}
	return &Detector{scan: s}, nil
}

// Detect walks root under cfg's path rules, compares every eligible file
// against prevIndex (keyed by path_key), and returns the ordered change set.
// prevIndex is not mutated. detectRenames controls whether deleted/added
// pairs with matching content hashes are folded into KindRename records;
// daemon-driven incremental syncs pass true, a first full index passes
// false (nothing to rename against).
func (d *Detector) Detect(ctx context.Context, root string, cfg *config.Config, prevIndex map[string]FileMeta, detectRenames bool) (*ChangeSet, error) {
	root = filepath.Clean(root)
	handle, err := openRootDir(root)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	opts := &scanner.ScanOptions{
		RootDir:          root,
		IncludePatterns:  cfg.Paths.Include,
		ExcludePatterns:  cfg.Paths.Exclude,
		RespectGitignore: true,
		MaxFileSize:      cfg.Store.MaxFileSizeBytes,
		Submodules:       &cfg.Submodules,
	}

	results, err := d.scan.Scan(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("change: scan: %w", err)
	}

	seen := make(map[string]bool, len(prevIndex))
	var records []Record
	var scanErrs []error

	for res := range results {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if res.Error != nil {
			scanErrs = append(scanErrs, res.Error)
			continue
		}
		fi := res.File
		if fi.ContentType != scanner.ContentTypeCode && fi.ContentType != scanner.ContentTypeMarkdown {
			continue
		}

		pathKey, err := identity.PathKey(root, fi.AbsPath)
		if err != nil {
			scanErrs = append(scanErrs, fmt.Errorf("change: path_key for %s: %w", fi.AbsPath, err))
			continue
		}
		seen[pathKey] = true

		prev, existed := prevIndex[pathKey]
		modTimeTrunc := fi.ModTime.Truncate(time.Second)

		if existed && prev.Size == fi.Size && prev.ModTime.Equal(modTimeTrunc) {
			// Metadata unchanged: trust the cache, no read needed.
			continue
		}

		data, info, err := readStable(handle, relOf(root, fi.AbsPath))
		if err != nil {
			scanErrs = append(scanErrs, fmt.Errorf("change: %s: %w", pathKey, err))
			continue
		}

		if existed {
			// Size/mtime moved but content may not have (touch, checkout).
			// Only a full-content comparison can rule the file unchanged.
			full := fullHash(data)
			if full == prev.ContentHash {
				continue
			}
			records = append(records, Record{
				Kind:        KindModify,
				PathKey:     pathKey,
				AbsPath:     fi.AbsPath,
				Size:        info.Size(),
				ModTime:     info.ModTime().Truncate(time.Second),
				ContentHash: full,
				Language:    fi.Language,
			})
			continue
		}

		records = append(records, Record{
			Kind:        KindAdd,
			PathKey:     pathKey,
			AbsPath:     fi.AbsPath,
			Size:        info.Size(),
			ModTime:     info.ModTime().Truncate(time.Second),
			ContentHash: fullHash(data),
			Language:    fi.Language,
		})
	}

	for pathKey := range prevIndex {
		if !seen[pathKey] {
			records = append(records, Record{Kind: KindDelete, PathKey: pathKey, ContentHash: prevIndex[pathKey].ContentHash})
		}
	}

	if detectRenames {
		records = foldRenames(records)
	}

	orderRecords(records)
	return &ChangeSet{Records: records, ScanErrors: scanErrs}, nil
}

// relOf returns abs's path relative to root, slash-normalized, for use with
// a rootHandle (which expects the same form openat(2) was given).
func relOf(root, abs string) string {
	pk, err := identity.PathKey(root, abs)
	if err != nil {
		return abs
	}
	return pk
}

// orderRecords sorts in the deterministic delete -> modify -> rename -> add
// ordering, lexicographic by path_key within each group. Deletes must
// precede modifications and additions so a rename landing on a path a
// delete just vacated never collides.
func orderRecords(records []Record) {
	rank := func(k Kind) int {
		switch k {
		case KindDelete:
			return 0
		case KindModify:
			return 1
		case KindRename:
			return 2
		default:
			return 3
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := rank(records[i].Kind), rank(records[j].Kind)
		if ri != rj {
			return ri < rj
		}
		return records[i].PathKey < records[j].PathKey
	})
}
