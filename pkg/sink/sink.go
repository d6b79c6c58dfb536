package sink

import (
	"context"
	"fmt"
	"io"

	"github.com/feichai0017/ocr-batch/pkg/logger"
	"github.com/feichai0017/ocr-batch/pkg/sink/local"
	"github.com/feichai0017/ocr-batch/pkg/sink/minio"
	"github.com/feichai0017/ocr-batch/pkg/sink/s3"
)

// SinkType 定义输出存储类型
type SinkType string

const (
	SinkTypeLocal SinkType = "local"
	SinkTypeS3    SinkType = "s3"
	SinkTypeMinio SinkType = "minio"
)

// Sink 接口定义：按 key 持久化一个识别结果
type Sink interface {
	// Store writes one result payload under key and returns its location.
	Store(ctx context.Context, key string, reader io.Reader) (string, error)
}

// NewSink 创建输出存储实例的工厂方法
func NewSink(sinkType SinkType, outputDir string, logger logger.Logger) (Sink, error) {
	switch sinkType {
	case SinkTypeLocal:
		return local.NewSink(outputDir, logger)
	case SinkTypeS3:
		return s3.GetClient(logger)
	case SinkTypeMinio:
		return minio.GetClient(logger)
	default:
		return nil, fmt.Errorf("unsupported sink type: %s", sinkType)
	}
}
