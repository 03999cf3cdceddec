package provider

import (
	"time"

	"github.com/spherical/ocr-bench/internal/domain"
)

// Metrics accumulates counters for one adapter over one run. Pages are
// processed sequentially, so there is a single writer and no locking.
type Metrics struct {
	now func() time.Time

	startTime     time.Time
	totalTokens   int
	inputTokens   int
	outputTokens  int
	requestsMade  int
	responseTimes []float64
	errors        []domain.ErrorRecord
}

// NewMetrics starts a new accumulator. A nil clock means time.Now.
func NewMetrics(now func() time.Time) *Metrics {
	if now == nil {
		now = time.Now
	}
	return &Metrics{
		now:       now,
		startTime: now(),
	}
}

// RecordSuccess adds one successful call.
func (m *Metrics) RecordSuccess(responseTime float64, usage domain.Usage) {
	m.requestsMade++
	m.totalTokens += usage.TotalTokens
	m.inputTokens += usage.InputTokens
	m.outputTokens += usage.OutputTokens
	m.responseTimes = append(m.responseTimes, responseTime)
}

// RecordError adds one failed call.
func (m *Metrics) RecordError(pageNumber int, err error, responseTime float64) {
	m.requestsMade++
	m.errors = append(m.errors, domain.ErrorRecord{
		PageNumber:   pageNumber,
		Error:        err.Error(),
		Status:       domain.StatusError,
		ResponseTime: responseTime,
	})
}

// Snapshot copies the counters and computes total_time as of now.
func (m *Metrics) Snapshot() domain.MetricsSnapshot {
	return domain.MetricsSnapshot{
		TotalTokens:   m.totalTokens,
		InputTokens:   m.inputTokens,
		OutputTokens:  m.outputTokens,
		RequestsMade:  m.requestsMade,
		ResponseTimes: append([]float64(nil), m.responseTimes...),
		Errors:        append([]domain.ErrorRecord(nil), m.errors...),
		StartTime:     m.startTime,
		TotalTime:     m.now().Sub(m.startTime).Seconds(),
	}
}
