package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/ocr-batch/internal/models"
	"github.com/feichai0017/ocr-batch/pkg/logger"
)

// Engine extracts the embedded text layer of PDF files without running any
// OCR. Useful for batches mixing scans with born-digital documents.
type Engine struct {
	logger logger.Logger
}

func NewEngine(log logger.Logger) *Engine {
	return &Engine{logger: log}
}

type pageText struct {
	page int
	text string
}

// Recognize implements engine.Engine. Pages are extracted concurrently with
// a bounded worker count; results are reassembled in page order.
func (e *Engine) Recognize(ctx context.Context, path string) (*models.Result, error) {
	start := time.Now()

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %s: %w", path, err)
	}

	numPages := pdfReader.NumPage()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	pageChan := make(chan pageText, numPages)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}

			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
			}

			pageChan <- pageText{page: pageNum, text: text}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(pageChan)

	pages := make([]pageText, 0, numPages)
	for pt := range pageChan {
		pages = append(pages, pt)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].page < pages[j].page })

	var lines []models.TextLine
	for _, pt := range pages {
		for _, line := range strings.Split(pt.text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			// Embedded text carries no recognition uncertainty.
			lines = append(lines, models.TextLine{Text: line, Confidence: 100})
		}
	}

	elapsed := time.Since(start)
	e.logger.Debug("pdf text extraction finished",
		logger.String("path", path),
		logger.Int("pages", numPages),
		logger.Duration("elapsed", elapsed),
	)

	return &models.Result{
		Source:      "pdftext",
		Lines:       lines,
		ProcessedAt: time.Now().UTC(),
		Elapsed:     elapsed,
		Metadata: map[string]interface{}{
			"pages": numPages,
		},
	}, nil
}

func (e *Engine) Close() error {
	return nil
}
