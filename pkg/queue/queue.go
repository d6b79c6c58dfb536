// pkg/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/ocr-batch/internal/models"
)

// TaskTypeBatchPartition 分区批处理任务类型
const TaskTypeBatchPartition = "batch:partition"

// PartitionTask describes one disjoint slice of a directory run. Workers
// own their partition exclusively; runs coordinate only through the shared
// progress ledger in Redis.
type PartitionTask struct {
	RunID      string    `json:"runId"`
	Root       string    `json:"root"`
	Extensions []string  `json:"extensions"`
	Engine     string    `json:"engine"`
	Sink       string    `json:"sink"`
	OutputDir  string    `json:"outputDir"`
	Partition  int       `json:"partition"`
	Partitions int       `json:"partitions"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RunRecord 保存在 Redis 中的运行状态
type RunRecord struct {
	RunID      string           `json:"runId"`
	Status     models.RunStatus `json:"status"`
	Partitions int              `json:"partitions"`
	Completed  int              `json:"completed"`
	Processed  int              `json:"processed"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// MergeSummary folds one finished partition into the record and derives the
// run status from the completion count.
func (r *RunRecord) MergeSummary(summary *models.Summary) {
	r.Completed++
	r.Processed += summary.Processed
	r.Skipped += summary.Skipped
	r.Failed += summary.Failed

	switch {
	case r.Completed >= r.Partitions && r.Failed > 0:
		r.Status = models.StatusFailed
	case r.Completed >= r.Partitions:
		r.Status = models.StatusCompleted
	default:
		r.Status = models.StatusRunning
	}
}

// Queue 接口定义
type Queue interface {
	EnqueueRun(ctx context.Context, tasks []*PartitionTask) error
	GetRunRecord(ctx context.Context, runID string) (*RunRecord, error)
	SaveRunRecord(ctx context.Context, record *RunRecord) error
	CompletePartition(ctx context.Context, runID string, summary *models.Summary) (*RunRecord, error)
	Redis() *redis.Client
	Close() error
}

// Config 队列配置
type Config struct {
	RedisAddr  string
	RedisDB    int
	MaxRetries int
	Timeout    time.Duration
	RecordTTL  time.Duration
}

// AsynqQueue 实现
type AsynqQueue struct {
	client *asynq.Client
	redis  *redis.Client
	cfg    *Config
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg *Config) (*AsynqQueue, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 6 * time.Hour
	}
	if cfg.RecordTTL == 0 {
		cfg.RecordTTL = 24 * time.Hour
	}

	redisOpt := asynq.RedisClientOpt{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}

	return &AsynqQueue{
		client: asynq.NewClient(redisOpt),
		redis: redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		}),
		cfg: cfg,
	}, nil
}

// EnqueueRun fans out one run's partition tasks and records the pending run.
func (q *AsynqQueue) EnqueueRun(ctx context.Context, tasks []*PartitionTask) error {
	if len(tasks) == 0 {
		return fmt.Errorf("no partition tasks to enqueue")
	}

	record := &RunRecord{
		RunID:      tasks[0].RunID,
		Status:     models.StatusPending,
		Partitions: len(tasks),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := q.SaveRunRecord(ctx, record); err != nil {
		return err
	}

	for _, task := range tasks {
		payload, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal partition task: %w", err)
		}

		opts := []asynq.Option{
			asynq.MaxRetry(q.cfg.MaxRetries),
			asynq.Timeout(q.cfg.Timeout),
			asynq.TaskID(fmt.Sprintf("%s:%d", task.RunID, task.Partition)),
		}

		t := asynq.NewTask(TaskTypeBatchPartition, payload, opts...)
		if _, err := q.client.EnqueueContext(ctx, t); err != nil {
			return fmt.Errorf("failed to enqueue partition %d: %w", task.Partition, err)
		}
	}

	return nil
}

func runRecordKey(runID string) string {
	return fmt.Sprintf("batch_run:%s", runID)
}

// GetRunRecord 获取运行状态
func (q *AsynqQueue) GetRunRecord(ctx context.Context, runID string) (*RunRecord, error) {
	data, err := q.redis.Get(ctx, runRecordKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run record: %w", err)
	}

	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run record: %w", err)
	}
	return &record, nil
}

// SaveRunRecord 保存运行状态
func (q *AsynqQueue) SaveRunRecord(ctx context.Context, record *RunRecord) error {
	record.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	if err := q.redis.Set(ctx, runRecordKey(record.RunID), data, q.cfg.RecordTTL).Err(); err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}
	return nil
}

// maxCompleteRetries bounds the optimistic-lock retry loop in
// CompletePartition.
const maxCompleteRetries = 10

// CompletePartition merges one partition's summary into the run record. The
// read-modify-write runs under WATCH: when two workers finish partitions of
// the same run at once, the losing transaction fails instead of overwriting
// the winner's increment, and is retried on the fresh record.
func (q *AsynqQueue) CompletePartition(ctx context.Context, runID string, summary *models.Summary) (*RunRecord, error) {
	key := runRecordKey(runID)
	var record *RunRecord

	merge := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("run not found: %s", runID)
		}
		if err != nil {
			return fmt.Errorf("failed to get run record: %w", err)
		}

		record = &RunRecord{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal run record: %w", err)
		}

		record.MergeSummary(summary)
		record.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal run record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, q.cfg.RecordTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxCompleteRetries; i++ {
		err := q.redis.Watch(ctx, merge, key)
		if err == nil {
			return record, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("failed to complete partition for run %s: record contention", runID)
}

// Redis exposes the shared client for the redis-backed ledger.
func (q *AsynqQueue) Redis() *redis.Client {
	return q.redis
}

func (q *AsynqQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.redis.Close()
}
