package textract

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/ocr-batch/internal/models"
	"github.com/feichai0017/ocr-batch/pkg/logger"
)

// Options 配置 Textract 引擎
type Options struct {
	Region        string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
}

// Engine calls AWS Textract for recognition. The client itself is cheap,
// but it still follows the chunk-scoped handle lifecycle so every backend
// behaves the same to the processor.
type Engine struct {
	client *textract.Client
	opts   *Options
	logger logger.Logger
}

func NewEngine(ctx context.Context, opts *Options, log logger.Logger) (*Engine, error) {
	if opts == nil {
		return nil, fmt.Errorf("textract options are required")
	}
	if opts.MinConfidence == 0 {
		opts.MinConfidence = 80.0
	}

	creds := credentials.NewStaticCredentialsProvider(
		opts.AccessKey,
		opts.SecretKey,
		"",
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &Engine{
		client: textract.NewFromConfig(awsCfg),
		opts:   opts,
		logger: log,
	}, nil
}

// Recognize implements engine.Engine.
func (e *Engine) Recognize(ctx context.Context, path string) (*models.Result, error) {
	start := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	input := &textract.DetectDocumentTextInput{
		Document: &types.Document{
			Bytes: data,
		},
	}

	out, err := e.client.DetectDocumentText(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to detect document text: %w", err)
	}

	var lines []models.TextLine
	for _, block := range out.Blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		var confidence float32
		if block.Confidence != nil {
			confidence = *block.Confidence
		}
		if confidence < e.opts.MinConfidence {
			continue
		}
		lines = append(lines, models.TextLine{
			Text:       *block.Text,
			Confidence: float64(confidence),
		})
	}

	elapsed := time.Since(start)
	e.logger.Debug("textract recognition finished",
		logger.String("path", path),
		logger.Int("lines", len(lines)),
		logger.Duration("elapsed", elapsed),
	)

	return &models.Result{
		Source:      "textract",
		Lines:       lines,
		ProcessedAt: time.Now().UTC(),
		Elapsed:     elapsed,
		Metadata: map[string]interface{}{
			"region": e.opts.Region,
		},
	}, nil
}

func (e *Engine) Close() error {
	// The SDK client holds no exclusive resources.
	return nil
}
