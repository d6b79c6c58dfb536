package handlers

import (
	"github.com/feichai0017/ocr-batch/config"
	"github.com/feichai0017/ocr-batch/pkg/logger"
	"github.com/feichai0017/ocr-batch/pkg/queue"
)

type Handlers struct {
	Batch *BatchHandler
}

func NewHandlers(
	q queue.Queue,
	batchCfg *config.BatchConfig,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Batch: NewBatchHandler(q, batchCfg, logger),
	}
}
