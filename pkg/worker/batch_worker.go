package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/ocr-batch/config"
	"github.com/feichai0017/ocr-batch/internal/batch"
	"github.com/feichai0017/ocr-batch/internal/engine"
	"github.com/feichai0017/ocr-batch/internal/enumerate"
	"github.com/feichai0017/ocr-batch/internal/guard"
	"github.com/feichai0017/ocr-batch/internal/ledger"
	"github.com/feichai0017/ocr-batch/internal/models"
	"github.com/feichai0017/ocr-batch/pkg/logger"
	"github.com/feichai0017/ocr-batch/pkg/queue"
	"github.com/feichai0017/ocr-batch/pkg/sink"
)

// BatchWorker consumes partition tasks. Each task runs a full sequential
// batch over its slice of the enumeration; partitions share progress
// through the Redis ledger, nothing else.
type BatchWorker struct {
	BaseWorker
	queue    queue.Queue
	batchCfg *config.BatchConfig
}

func NewBatchWorker(cfg *Config, q queue.Queue, batchCfg *config.BatchConfig, log logger.Logger) (*BatchWorker, error) {
	if cfg.Concurrency <= 0 {
		// One partition at a time per process: concurrent engine instances
		// multiply the memory problem this runner exists to contain.
		cfg.Concurrency = 1
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
		},
	)

	w := &BatchWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		queue:    q,
		batchCfg: batchCfg,
	}

	w.registerHandlers()
	return w, nil
}

func (w *BatchWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeBatchPartition, w.handlePartition)
}

func (w *BatchWorker) handlePartition(ctx context.Context, t *asynq.Task) error {
	var task queue.PartitionTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal partition task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal partition task: %v: %w", err, asynq.SkipRetry)
	}

	if task.RunID == "" || task.Root == "" || task.Partitions <= 0 ||
		task.Partition < 0 || task.Partition >= task.Partitions {
		return fmt.Errorf("invalid partition task: missing required fields: %w", asynq.SkipRetry)
	}

	log := w.logger.With(
		logger.String("runId", task.RunID),
		logger.Int("partition", task.Partition),
	)
	log.Info("Processing batch partition", logger.String("root", task.Root))

	summary, err := w.runPartition(ctx, &task, log)
	if err != nil {
		record, _ := w.queue.GetRunRecord(ctx, task.RunID)
		if record != nil {
			record.Status = models.StatusAborted
			record.Error = err.Error()
			if saveErr := w.queue.SaveRunRecord(ctx, record); saveErr != nil {
				log.Error("Failed to record aborted run", logger.Error(saveErr))
			}
		}
		if permanentFailure(err) {
			// Environment problems a retry will not fix: re-running would
			// also flip the aborted record back to running.
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	record, err := w.queue.CompletePartition(ctx, task.RunID, summary)
	if err != nil {
		return fmt.Errorf("failed to complete partition: %w", err)
	}

	log.Info("Partition finished",
		logger.Int("processed", summary.Processed),
		logger.Int("skipped", summary.Skipped),
		logger.Int("failed", summary.Failed),
		logger.String("runStatus", string(record.Status)),
	)
	return nil
}

// permanentFailure reports whether the error class is one that retrying the
// task cannot fix.
func permanentFailure(err error) bool {
	return errors.Is(err, models.ErrEngineInit) ||
		errors.Is(err, models.ErrLedgerCorrupt) ||
		errors.Is(err, models.ErrRootNotFound) ||
		errors.Is(err, models.ErrNotDirectory)
}

func (w *BatchWorker) runPartition(ctx context.Context, task *queue.PartitionTask, log logger.Logger) (*models.Summary, error) {
	extensions := make(map[string]struct{}, len(task.Extensions))
	for _, ext := range task.Extensions {
		extensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	items, err := enumerate.Enumerate(task.Root, extensions)
	if err != nil {
		return nil, err
	}
	part := enumerate.Partition(items, task.Partitions)[task.Partition]

	led, err := ledger.NewRedisLedger(w.queue.Redis(), task.RunID, 24*time.Hour)
	if err != nil {
		return nil, err
	}

	resourceGuard, err := guard.NewProcessGuard()
	if err != nil {
		return nil, err
	}

	factory, err := engine.NewFactory(task.Engine, w.batchCfg, log)
	if err != nil {
		return nil, err
	}

	var snk sink.Sink
	if task.Sink != "" && task.Sink != "none" {
		snk, err = sink.NewSink(sink.SinkType(task.Sink), task.OutputDir, log)
		if err != nil {
			return nil, err
		}
	}

	processor, err := batch.NewProcessor(
		batch.Config{
			BatchSize:            w.batchCfg.BatchSize,
			ChunkSize:            w.batchCfg.ChunkSize,
			MemoryThresholdBytes: w.batchCfg.MemoryThresholdBytes(),
			ItemTimeout:          time.Duration(w.batchCfg.ItemTimeout),
		},
		factory, led, resourceGuard, snk, log,
	)
	if err != nil {
		return nil, err
	}

	return processor.Run(ctx, part, func(ctx context.Context, eng engine.Engine, item models.Item) (*models.Result, error) {
		return eng.Recognize(ctx, item.Path)
	})
}

func (w *BatchWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}
