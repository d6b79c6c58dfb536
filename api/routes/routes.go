package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/ocr-batch/api/handlers"
	"github.com/feichai0017/ocr-batch/api/middleware"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	v1 := r.Group("/api/v1")

	batches := v1.Group("/batches")
	{
		batches.POST("", h.Batch.SubmitBatch)
		batches.GET("/:runId/status", h.Batch.GetStatus)
		batches.GET("/:runId/report", h.Batch.GetReport)
	}
}
