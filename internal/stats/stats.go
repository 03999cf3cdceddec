// Package stats folds page results into per-run statistics and per-provider
// lifetime aggregates. Every function here is pure.
package stats

import (
	"math"

	"github.com/spherical/ocr-bench/internal/domain"
)

// CalculateStatistics summarizes one provider's results for one run.
// Performance figures cover successful pages only; every ratio is 0 when
// its denominator is 0.
func CalculateStatistics(results []domain.PageResult, metrics domain.MetricsSnapshot) domain.RunStatistics {
	var (
		successful int
		sum        float64
		minTime    = math.Inf(1)
		maxTime    float64
		details    = []domain.ErrorDetail{}
	)

	for _, r := range results {
		if r.Succeeded() {
			successful++
			sum += r.ResponseTime
			minTime = math.Min(minTime, r.ResponseTime)
			maxTime = math.Max(maxTime, r.ResponseTime)
			continue
		}
		details = append(details, domain.ErrorDetail{
			PageNumber: r.PageNumber,
			Error:      r.Error,
			Status:     domain.StatusError,
		})
	}

	total := len(results)
	failed := total - successful

	out := domain.RunStatistics{
		Summary: domain.Summary{
			TotalPages:      total,
			SuccessfulPages: successful,
			FailedPages:     failed,
			SuccessRate:     ratio(successful, total) * 100,
		},
		Performance: domain.Performance{
			TotalProcessingTime: metrics.TotalTime,
		},
		TokenUsage: domain.TokenUsage{
			TotalTokens:          metrics.TotalTokens,
			InputTokens:          metrics.InputTokens,
			OutputTokens:         metrics.OutputTokens,
			AverageTokensPerPage: ratio(metrics.TotalTokens, successful),
		},
		Errors: domain.ErrorSummary{
			TotalErrors:  failed,
			ErrorDetails: details,
		},
	}

	if successful > 0 {
		out.Performance.AverageResponseTime = mean(sum, successful, minTime, maxTime)
		out.Performance.MinResponseTime = minTime
		out.Performance.MaxResponseTime = maxTime
	}

	return out
}

// mean divides sum by n and clamps the result into [lo, hi] so rounding
// never breaks min <= avg <= max.
func mean(sum float64, n int, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, sum/float64(n)))
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
