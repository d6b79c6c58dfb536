package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/ocr-batch/internal/engine"
	"github.com/feichai0017/ocr-batch/internal/guard"
	"github.com/feichai0017/ocr-batch/internal/ledger"
	"github.com/feichai0017/ocr-batch/internal/models"
	"github.com/feichai0017/ocr-batch/pkg/logger"
	"github.com/feichai0017/ocr-batch/pkg/sink"
)

// ProcessFunc runs the external capability on one item with the chunk's
// engine handle.
type ProcessFunc func(ctx context.Context, eng engine.Engine, item models.Item) (*models.Result, error)

// Config 批处理器配置
type Config struct {
	// BatchSize is the number of items between memory checks.
	BatchSize int
	// ChunkSize is the number of items sharing one engine handle.
	ChunkSize int
	// MemoryThresholdBytes triggers forced reclamation. Zero disables it.
	MemoryThresholdBytes uint64
	// ItemTimeout bounds one engine call. Zero disables the timeout; expiry
	// counts as that item's failure, not a run failure.
	ItemTimeout time.Duration
}

// Processor drives a run: items are grouped into chunks that each own one
// engine handle, batches within a chunk bound how long memory can grow
// unchecked, and the ledger is flushed after every completed item.
//
// Processing is strictly sequential with one in-flight item. The wrapped
// engines are memory-fragile; parallelism belongs in separate OS processes
// over disjoint partitions, coordinating through a shared ledger.
type Processor struct {
	cfg     Config
	factory engine.Factory
	ledger  ledger.Ledger
	guard   guard.Guard
	sink    sink.Sink
	logger  logger.Logger
}

// NewProcessor assembles a processor. The sink may be nil when the caller
// only wants completion tracking.
func NewProcessor(
	cfg Config,
	factory engine.Factory,
	led ledger.Ledger,
	g guard.Guard,
	snk sink.Sink,
	log logger.Logger,
) (*Processor, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if factory == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	if led == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if g == nil {
		return nil, fmt.Errorf("resource guard is required")
	}

	return &Processor{
		cfg:     cfg,
		factory: factory,
		ledger:  led,
		guard:   g,
		sink:    snk,
		logger:  log,
	}, nil
}

// Run processes items in enumeration order and returns the run summary.
// Only infrastructure failures propagate as errors: ledger load failure,
// engine creation failure, ledger write failure. Per-item failures land in
// the summary and the run continues.
func (p *Processor) Run(ctx context.Context, items []models.Item, processOne ProcessFunc) (*models.Summary, error) {
	summary := &models.Summary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := p.logger.With(logger.String("runId", summary.RunID))

	progress, err := p.ledger.Load(ctx)
	if err != nil {
		return nil, err
	}

	log.Info("batch run starting",
		logger.Int("items", len(items)),
		logger.Int("alreadyDone", len(progress)),
		logger.Int("batchSize", p.cfg.BatchSize),
		logger.Int("chunkSize", p.cfg.ChunkSize),
	)

	for start := 0; start < len(items); start += p.cfg.ChunkSize {
		end := start + p.cfg.ChunkSize
		if end > len(items) {
			end = len(items)
		}

		cancelled, err := p.runChunk(ctx, items[start:end], progress, processOne, summary, log)
		if err != nil {
			return nil, err
		}
		if cancelled {
			summary.Cancelled = true
			break
		}
	}

	summary.FinishedAt = time.Now().UTC()
	log.Info("batch run finished",
		logger.Int("processed", summary.Processed),
		logger.Int("skipped", summary.Skipped),
		logger.Int("failed", summary.Failed),
		logger.Bool("cancelled", summary.Cancelled),
		logger.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)

	return summary, nil
}

// runChunk processes one chunk with one engine handle. The handle is
// acquired on the first item that actually needs processing and released on
// every exit path.
func (p *Processor) runChunk(
	ctx context.Context,
	chunk []models.Item,
	progress ledger.Progress,
	processOne ProcessFunc,
	summary *models.Summary,
	log logger.Logger,
) (cancelled bool, err error) {
	var eng engine.Engine
	defer func() {
		if eng == nil {
			return
		}
		if cerr := eng.Close(); cerr != nil {
			log.Error("failed to release engine handle", logger.Error(cerr))
		}
	}()

	inChunk := 0
	inBatch := 0
	for _, item := range chunk {
		select {
		case <-ctx.Done():
			return true, nil
		default:
		}

		inChunk++
		inBatch++

		if progress.IsDone(item.Key) {
			summary.Skipped++
		} else {
			if eng == nil {
				eng, err = p.factory(ctx)
				if err != nil {
					return false, fmt.Errorf("%w: %v", models.ErrEngineInit, err)
				}
			}

			result, perr := p.processItem(ctx, eng, item, processOne)
			if perr == nil && p.sink != nil {
				perr = p.persistResult(ctx, item, result)
			}
			if perr != nil {
				summary.Failed++
				summary.Failures = append(summary.Failures, models.ItemFailure{
					Key:   item.Key,
					Path:  item.Path,
					Error: perr.Error(),
				})
				log.Warn("item failed",
					logger.String("key", item.Key),
					logger.Error(perr),
				)
			} else {
				// The flush happens before the next item starts, so a crash
				// loses at most the in-flight item. A ledger that can no
				// longer persist invalidates resumability, which makes this
				// the one mid-run fatal error.
				if err := p.ledger.MarkDone(ctx, progress, item.Key); err != nil {
					return false, err
				}
				summary.Processed++
			}
		}

		if inBatch >= p.cfg.BatchSize {
			inBatch = 0
			p.checkMemory(log)
		}

		if p.guard.ShouldRecycleHandle(inChunk, p.cfg.ChunkSize) {
			break
		}
	}

	if inBatch > 0 {
		p.checkMemory(log)
	}

	return false, nil
}

// processItem invokes the external capability, applying the per-item
// timeout and converting panics from a misbehaving engine into that item's
// failure.
func (p *Processor) processItem(
	ctx context.Context,
	eng engine.Engine,
	item models.Item,
	processOne ProcessFunc,
) (result *models.Result, err error) {
	if p.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ItemTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked processing %s: %v", item.Path, r)
		}
	}()

	return processOne(ctx, eng, item)
}

// persistResult writes the item's payload to the configured sink.
func (p *Processor) persistResult(ctx context.Context, item models.Item, result *models.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	key := item.Key + ".json"
	if _, err := p.sink.Store(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to persist result for %s: %w", item.Key, err)
	}
	return nil
}

// checkMemory samples process memory at a batch boundary and forces a
// reclamation pass when over threshold.
func (p *Processor) checkMemory(log logger.Logger) {
	sample, err := p.guard.Sample()
	if err != nil {
		log.Warn("failed to sample process memory", logger.Error(err))
		return
	}

	if p.guard.ShouldReclaim(sample, p.cfg.MemoryThresholdBytes) {
		log.Info("memory threshold exceeded, reclaiming",
			logger.Uint64("residentBytes", sample.ResidentBytes),
			logger.Uint64("thresholdBytes", p.cfg.MemoryThresholdBytes),
		)
		p.guard.Reclaim()
	}
}
