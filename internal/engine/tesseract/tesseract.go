package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/ocr-batch/internal/models"
	"github.com/feichai0017/ocr-batch/pkg/logger"
)

// Options 配置 Tesseract 引擎
type Options struct {
	Languages     []string
	PageSegMode   gosseract.PageSegMode
	MinConfidence float64
	// MaxDimension caps the longer image side before recognition. Large
	// scans make the engine over-allocate; downscaling keeps memory bounded
	// with little accuracy loss.
	MaxDimension int
	Preprocess   bool
}

// Engine wraps one gosseract client. One Engine serves one batch chunk and
// is closed when the chunk ends.
type Engine struct {
	client *gosseract.Client
	opts   *Options
	logger logger.Logger
}

// NewEngine creates a tesseract-backed engine with its own client.
func NewEngine(opts *Options, log logger.Logger) (*Engine, error) {
	if opts == nil {
		opts = &Options{}
	}
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"eng"}
	}
	if opts.MinConfidence == 0 {
		opts.MinConfidence = 60.0
	}
	if opts.MaxDimension == 0 {
		opts.MaxDimension = 2000
	}

	client := gosseract.NewClient()

	if err := client.SetLanguage(strings.Join(opts.Languages, "+")); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(opts.PageSegMode); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	return &Engine{
		client: client,
		opts:   opts,
		logger: log,
	}, nil
}

// Recognize implements engine.Engine.
func (e *Engine) Recognize(ctx context.Context, path string) (*models.Result, error) {
	start := time.Now()

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}

	img = e.prepare(img)

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxesVerbose()
	if err != nil {
		return nil, fmt.Errorf("failed to recognize %s: %w", path, err)
	}

	lines := make([]models.TextLine, 0, len(boxes))
	for _, box := range boxes {
		if box.Confidence < e.opts.MinConfidence {
			continue
		}
		lines = append(lines, models.TextLine{
			Text:       box.Word,
			Confidence: box.Confidence,
			X:          box.Box.Min.X,
			Y:          box.Box.Min.Y,
			Width:      box.Box.Max.X - box.Box.Min.X,
			Height:     box.Box.Max.Y - box.Box.Min.Y,
		})
	}

	elapsed := time.Since(start)
	e.logger.Debug("tesseract recognition finished",
		logger.String("path", path),
		logger.Int("lines", len(lines)),
		logger.Duration("elapsed", elapsed),
	)

	return &models.Result{
		Source:      "tesseract",
		Lines:       lines,
		ProcessedAt: time.Now().UTC(),
		Elapsed:     elapsed,
		Metadata: map[string]interface{}{
			"languages": strings.Join(e.opts.Languages, "+"),
		},
	}, nil
}

// prepare applies the preprocessing pipeline: downscale, grayscale,
// contrast stretch.
func (e *Engine) prepare(img image.Image) image.Image {
	bounds := img.Bounds()
	if w, h := bounds.Dx(), bounds.Dy(); w > e.opts.MaxDimension || h > e.opts.MaxDimension {
		if w >= h {
			img = imaging.Resize(img, e.opts.MaxDimension, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, e.opts.MaxDimension, imaging.Lanczos)
		}
	}

	if e.opts.Preprocess {
		img = imaging.Grayscale(img)
		img = imaging.AdjustContrast(img, 15)
		img = imaging.Sharpen(img, 0.5)
	}

	return img
}

// Close releases the tesseract client.
func (e *Engine) Close() error {
	return e.client.Close()
}
