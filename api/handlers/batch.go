package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/ocr-batch/config"
	"github.com/feichai0017/ocr-batch/internal/models"
	"github.com/feichai0017/ocr-batch/pkg/converters"
	"github.com/feichai0017/ocr-batch/pkg/logger"
	"github.com/feichai0017/ocr-batch/pkg/queue"
)

type BatchHandler struct {
	queue    queue.Queue
	batchCfg *config.BatchConfig
	logger   logger.Logger
}

// SubmitRequest 定义提交批处理请求结构
type SubmitRequest struct {
	Root       string   `json:"root" binding:"required"`
	Extensions []string `json:"extensions"`
	Engine     string   `json:"engine"`
	Sink       string   `json:"sink"`
	OutputDir  string   `json:"outputDir"`
	Partitions int      `json:"partitions"`
}

// SubmitResponse 定义提交响应结构
type SubmitResponse struct {
	RunID      string `json:"runId"`
	Status     string `json:"status"`
	Partitions int    `json:"partitions"`
	CreatedAt  string `json:"createdAt"`
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewBatchHandler(q queue.Queue, batchCfg *config.BatchConfig, log logger.Logger) *BatchHandler {
	return &BatchHandler{
		queue:    q,
		batchCfg: batchCfg,
		logger:   log,
	}
}

// SubmitBatch fans a directory run out into partition tasks.
func (h *BatchHandler) SubmitBatch(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Partitions <= 0 {
		req.Partitions = 1
	}
	if len(req.Extensions) == 0 {
		req.Extensions = h.batchCfg.Extensions
	}
	if req.Engine == "" {
		req.Engine = h.batchCfg.Engine
	}
	if req.Sink == "" {
		req.Sink = h.batchCfg.Sink
	}
	if req.OutputDir == "" {
		req.OutputDir = h.batchCfg.OutputDir
	}

	runID := uuid.NewString()
	now := time.Now().UTC()

	tasks := make([]*queue.PartitionTask, req.Partitions)
	for i := 0; i < req.Partitions; i++ {
		tasks[i] = &queue.PartitionTask{
			RunID:      runID,
			Root:       req.Root,
			Extensions: req.Extensions,
			Engine:     req.Engine,
			Sink:       req.Sink,
			OutputDir:  req.OutputDir,
			Partition:  i,
			Partitions: req.Partitions,
			CreatedAt:  now,
		}
	}

	if err := h.queue.EnqueueRun(c.Request.Context(), tasks); err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to enqueue run", err)
		return
	}

	c.JSON(http.StatusOK, SubmitResponse{
		RunID:      runID,
		Status:     "pending",
		Partitions: req.Partitions,
		CreatedAt:  now.Format(time.RFC3339),
	})
}

// GetStatus 获取运行状态
func (h *BatchHandler) GetStatus(c *gin.Context) {
	runID := c.Param("runId")
	if runID == "" {
		h.handleError(c, http.StatusBadRequest, "Run ID is required", nil)
		return
	}

	record, err := h.queue.GetRunRecord(c.Request.Context(), runID)
	if err != nil {
		h.handleError(c, http.StatusNotFound, "Failed to get run status", err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetReport renders the aggregated run report across all partitions.
func (h *BatchHandler) GetReport(c *gin.Context) {
	runID := c.Param("runId")
	if runID == "" {
		h.handleError(c, http.StatusBadRequest, "Run ID is required", nil)
		return
	}

	record, err := h.queue.GetRunRecord(c.Request.Context(), runID)
	if err != nil {
		h.handleError(c, http.StatusNotFound, "Failed to get run record", err)
		return
	}

	report, err := converters.NewReportConverter().Convert(&models.Summary{
		RunID:      record.RunID,
		Processed:  record.Processed,
		Skipped:    record.Skipped,
		Failed:     record.Failed,
		StartedAt:  record.CreatedAt,
		FinishedAt: record.UpdatedAt,
	})
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to build report", err)
		return
	}
	// The record knows whether partitions are still outstanding.
	report.Status = string(record.Status)

	c.JSON(http.StatusOK, report)
}

// handleError 统一错误处理
func (h *BatchHandler) handleError(c *gin.Context, status int, message string, err error) {
	h.logger.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.JSON(status, response)
}
