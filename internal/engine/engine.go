package engine

import (
	"context"
	"fmt"

	"github.com/feichai0017/ocr-batch/config"
	"github.com/feichai0017/ocr-batch/internal/engine/pdftext"
	"github.com/feichai0017/ocr-batch/internal/engine/tesseract"
	"github.com/feichai0017/ocr-batch/internal/engine/textract"
	"github.com/feichai0017/ocr-batch/internal/models"
	"github.com/feichai0017/ocr-batch/pkg/logger"
)

// Engine is a ready-to-use OCR handle. Each instance is expensive to create
// and exclusively owned by one batch chunk: the processor acquires a fresh
// one at the start of a chunk and must Close it on every exit path.
type Engine interface {
	// Recognize runs inference on one file and returns the recognized text.
	Recognize(ctx context.Context, path string) (*models.Result, error)

	// Close releases the handle's resources.
	Close() error
}

// Factory creates a fresh Engine. Errors from the factory abort the whole
// run (wrapped as models.ErrEngineInit by the processor).
type Factory func(ctx context.Context) (Engine, error)

// Engine backend names
const (
	EngineTesseract = "tesseract"
	EngineTextract  = "textract"
	EnginePDFText   = "pdftext"
)

// NewFactory returns a factory for the named backend.
func NewFactory(name string, cfg *config.BatchConfig, log logger.Logger) (Factory, error) {
	switch name {
	case EngineTesseract:
		return func(ctx context.Context) (Engine, error) {
			return tesseract.NewEngine(&tesseract.Options{
				Languages: cfg.Languages,
			}, log)
		}, nil
	case EngineTextract:
		return func(ctx context.Context) (Engine, error) {
			tc := config.GetTextractConfig()
			return textract.NewEngine(ctx, &textract.Options{
				Region:    tc.Region,
				AccessKey: tc.AccessKey,
				SecretKey: tc.SecretKey,
			}, log)
		}, nil
	case EnginePDFText:
		return func(ctx context.Context) (Engine, error) {
			return pdftext.NewEngine(log), nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported engine: %s", name)
	}
}
