package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/feichai0017/ocr-batch/pkg/logger"
)

// Sink writes results under a base directory, mirroring the item key's
// relative layout.
type Sink struct {
	baseDir string
	logger  logger.Logger
}

func NewSink(baseDir string, log logger.Logger) (*Sink, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Sink{baseDir: baseDir, logger: log}, nil
}

// Store implements sink.Sink.
func (s *Sink) Store(ctx context.Context, key string, reader io.Reader) (string, error) {
	target := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("failed to create result directory: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create result file: %w", err)
	}

	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write result file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close result file: %w", err)
	}

	return target, nil
}
