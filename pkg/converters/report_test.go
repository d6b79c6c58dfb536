package converters

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/ocr-batch/internal/models"
)

func TestConvertSummary(t *testing.T) {
	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	summary := &models.Summary{
		RunID:     "run-1",
		Processed: 17,
		Skipped:   2,
		Failed:    3,
		Failures: []models.ItemFailure{
			{Key: "03.png", Path: "/images/03.png", Error: "unreadable image"},
		},
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
	}

	report, err := NewReportConverter().Convert(summary)
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "failed", report.Status)
	assert.Equal(t, 22, report.Totals.Total)
	assert.Equal(t, "85.0%", report.SuccessRate)
	assert.Equal(t, int64(90000), report.ElapsedMs)
	assert.Len(t, report.Failures, 1)
}

func TestConvertCleanRun(t *testing.T) {
	summary := &models.Summary{RunID: "run-2", Processed: 5}

	report, err := NewReportConverter().Convert(summary)
	require.NoError(t, err)
	assert.Equal(t, "completed", report.Status)
	assert.Equal(t, "100.0%", report.SuccessRate)
}

func TestConvertNothingAttempted(t *testing.T) {
	summary := &models.Summary{RunID: "run-3", Skipped: 4}

	report, err := NewReportConverter().Convert(summary)
	require.NoError(t, err)
	assert.Equal(t, "N/A", report.SuccessRate)
}

func TestConvertNilSummary(t *testing.T) {
	_, err := NewReportConverter().Convert(nil)
	assert.Error(t, err)
}

func TestToJSONRoundTrip(t *testing.T) {
	summary := &models.Summary{RunID: "run-4", Processed: 1, Cancelled: true}
	converter := NewReportConverter()

	report, err := converter.Convert(summary)
	require.NoError(t, err)

	data, err := converter.ToJSON(report)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "cancelled", decoded.Status)
}
