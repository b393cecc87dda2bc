package embed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Local GGUF model acquisition. The model file identity (name, file,
// dimensions) feeds the config fingerprint; changing any of these is a
// new store, never an in-place reinterpretation of existing vectors.
const (
	DefaultModelName = "nomic-embed-text-v1.5"
	DefaultModelFile = "nomic-embed-text-v1.5.Q8_0.gguf"
	DefaultModelURL  = "https://huggingface.co/nomic-ai/nomic-embed-text-v1.5-GGUF/resolve/main/nomic-embed-text-v1.5.Q8_0.gguf"

	// DefaultModelSize (~146 MiB) seeds progress reporting when the
	// server omits Content-Length.
	DefaultModelSize = 146 * 1024 * 1024

	NomicEmbedDimensions = 768

	ModelDownloadTimeout = 30 * time.Minute
)

// ModelManager downloads and caches model files under the per-user
// models directory. Concurrent processes coordinate through a file
// lock so a model downloads once, not once per daemon.
type ModelManager struct {
	modelsDir string
	lock      *FileLock
	mu        sync.Mutex
}

// NewModelManager returns a manager rooted at modelsDir.
func NewModelManager(modelsDir string) *ModelManager {
	return &ModelManager{modelsDir: modelsDir}
}

// ModelPath is where the default model file lives once cached.
func (m *ModelManager) ModelPath() string {
	return filepath.Join(m.modelsDir, DefaultModelFile)
}

// EnsureModel returns the cached model path, downloading first if
// needed. The existence check runs again after the cross-process lock
// is held, because another process may have finished the download
// while this one waited.
func (m *ModelManager) EnsureModel(ctx context.Context, progressFn func(downloaded, total int64)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	modelPath := m.ModelPath()
	if info, err := os.Stat(modelPath); err == nil && info.Size() > 0 {
		return modelPath, nil
	}

	if err := os.MkdirAll(m.modelsDir, 0755); err != nil {
		return "", fmt.Errorf("embed: create models dir: %w", err)
	}

	m.lock = NewFileLock(m.modelsDir)
	if err := m.lock.Lock(); err != nil {
		return "", fmt.Errorf("embed: acquire download lock: %w", err)
	}
	defer func() { _ = m.lock.Unlock() }()

	if info, err := os.Stat(modelPath); err == nil && info.Size() > 0 {
		return modelPath, nil
	}

	if err := m.downloadModel(ctx, modelPath, progressFn); err != nil {
		return "", fmt.Errorf("embed: download model: %w", err)
	}
	return modelPath, nil
}

// downloadModel streams the model to a temp file and renames it into
// place, so a crashed download never leaves a plausible-looking
// partial model where EnsureModel's size check would accept it.
func (m *ModelManager) downloadModel(ctx context.Context, destPath string, progressFn func(downloaded, total int64)) error {
	tmpPath := destPath + ".tmp"
	defer os.Remove(tmpPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, DefaultModelURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "ggrep/1.0")

	client := &http.Client{Timeout: ModelDownloadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: status %s", resp.Status)
	}

	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer file.Close()

	totalSize := resp.ContentLength
	if totalSize <= 0 {
		totalSize = DefaultModelSize
	}

	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("write: %w", writeErr)
			}
			downloaded += int64(n)
			if progressFn != nil {
				progressFn(downloaded, totalSize)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ModelExists reports whether a non-empty cached model is present.
func (m *ModelManager) ModelExists() bool {
	info, err := os.Stat(m.ModelPath())
	return err == nil && info.Size() > 0
}

// DeleteModel removes the cached model file.
func (m *ModelManager) DeleteModel() error {
	return os.Remove(m.ModelPath())
}

// DefaultModelsDir is ~/.ggrep/models.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".ggrep", "models")
}
