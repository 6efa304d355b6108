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

	"github.com/gofrs/flock"

	msrlerrors "github.com/Aman-CERP/msrl/internal/errors"
)

// The static embedder needs no model file. This file bootstraps a
// downloadable transformer model for deployments that plug in a real
// Embedder behind the same interface (the model itself is a replaceable
// dependency the core treats opaquely).
const (
	// DefaultModelName identifies the default downloadable embedding model.
	DefaultModelName = "msrl-embed-1024"

	// DefaultModelFile is the quantized model file to download.
	DefaultModelFile = "msrl-embed-1024.Q8_0.gguf"

	// DefaultModelURL is where the default model is published.
	DefaultModelURL = "https://huggingface.co/msrl/msrl-embed-1024-GGUF/resolve/main/msrl-embed-1024.Q8_0.gguf"

	// DefaultModelSize is the approximate size of the Q8_0 model in bytes.
	DefaultModelSize = 280 * 1024 * 1024

	// ModelDownloadTimeout is the maximum time to wait for model download.
	ModelDownloadTimeout = 30 * time.Minute
)

// ModelManager downloads and caches the embedding model file, guarding
// concurrent downloads with an inter-process file lock.
type ModelManager struct {
	modelsDir string
	mu        sync.Mutex
}

// NewModelManager creates a model manager rooted at modelsDir (typically
// ~/.msrl/models/).
func NewModelManager(modelsDir string) *ModelManager {
	return &ModelManager{modelsDir: modelsDir}
}

// ModelPath returns the path to the model file.
func (m *ModelManager) ModelPath() string {
	return filepath.Join(m.modelsDir, DefaultModelFile)
}

// EnsureModel ensures the embedding model is available, downloading it if
// necessary, and returns its path.
func (m *ModelManager) EnsureModel(ctx context.Context, progressFn func(downloaded, total int64)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	modelPath := m.ModelPath()
	if info, err := os.Stat(modelPath); err == nil && info.Size() > 0 {
		return modelPath, nil
	}

	if err := os.MkdirAll(m.modelsDir, 0o755); err != nil {
		return "", msrlerrors.IOError(m.modelsDir, "mkdir", err)
	}

	lockPath := filepath.Join(m.modelsDir, ".download.lock")
	fl := flock.New(lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, ModelDownloadTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(lockCtx, 500*time.Millisecond)
	if err != nil || !locked {
		return "", msrlerrors.ModelDownloadFailed(DefaultModelURL, "could not acquire download lock")
	}
	defer fl.Unlock()

	// Re-check after acquiring the lock: another process may have finished.
	if info, err := os.Stat(modelPath); err == nil && info.Size() > 0 {
		return modelPath, nil
	}

	if err := m.downloadModel(ctx, modelPath, progressFn); err != nil {
		return "", msrlerrors.ModelDownloadFailed(DefaultModelURL, err.Error())
	}
	return modelPath, nil
}

func (m *ModelManager) downloadModel(ctx context.Context, destPath string, progressFn func(downloaded, total int64)) error {
	tmpPath := destPath + ".tmp"
	defer os.Remove(tmpPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, DefaultModelURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "msrl/1.0")

	client := &http.Client{Timeout: ModelDownloadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
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

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("write: %w", writeErr)
			}
			downloaded += int64(n)
			if progressFn != nil {
				progressFn(downloaded, totalSize)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return os.Rename(tmpPath, destPath)
}

// ModelExists reports whether the model file is already cached.
func (m *ModelManager) ModelExists() bool {
	info, err := os.Stat(m.ModelPath())
	return err == nil && info.Size() > 0
}

// DeleteModel removes the cached model file.
func (m *ModelManager) DeleteModel() error {
	return os.Remove(m.ModelPath())
}

// DefaultModelsDir returns the default models directory path.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".msrl", "models")
}
