package converters

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/feichai0017/ocr-batch/internal/models"
)

// Report 汇总报告结构
type Report struct {
	RunID       string               `json:"runId"`
	Status      string               `json:"status"`
	Totals      ReportTotals         `json:"totals"`
	SuccessRate string               `json:"successRate"`
	Failures    []models.ItemFailure `json:"failures,omitempty"`
	StartedAt   time.Time            `json:"startedAt"`
	FinishedAt  time.Time            `json:"finishedAt"`
	ElapsedMs   int64                `json:"elapsedMs"`
}

// ReportTotals 汇总计数
type ReportTotals struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ReportConverter 将 Summary 转换为报告
type ReportConverter struct{}

func NewReportConverter() *ReportConverter {
	return &ReportConverter{}
}

// Convert builds the report for one run summary.
func (c *ReportConverter) Convert(summary *models.Summary) (*Report, error) {
	if summary == nil {
		return nil, fmt.Errorf("no summary to convert")
	}

	total := summary.Total()
	rate := "N/A"
	attempted := summary.Processed + summary.Failed
	if attempted > 0 {
		rate = fmt.Sprintf("%.1f%%", float64(summary.Processed)/float64(attempted)*100)
	}

	return &Report{
		RunID:  summary.RunID,
		Status: string(summary.Status()),
		Totals: ReportTotals{
			Total:     total,
			Processed: summary.Processed,
			Skipped:   summary.Skipped,
			Failed:    summary.Failed,
		},
		SuccessRate: rate,
		Failures:    summary.Failures,
		StartedAt:   summary.StartedAt,
		FinishedAt:  summary.FinishedAt,
		ElapsedMs:   summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	}, nil
}

// ToJSON serializes the report for the sink or the CLI.
func (c *ReportConverter) ToJSON(report *Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}
