package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/spherical/ocr-bench/internal/domain"
)

// Aggregate rebuilds every provider's lifetime statistics from the full
// history. Providers listed in known but absent from history get zero
// aggregates. Malformed history is reported, never skipped.
func Aggregate(history []domain.HistoryRecord, known []string) (map[string]domain.AggregateStatistics, error) {
	acc := NewAccumulator()
	for _, rec := range history {
		if err := acc.Add(rec); err != nil {
			return nil, err
		}
	}
	return acc.Result(known), nil
}

// Accumulator folds history one run at a time. Folding runs one by one
// produces exactly what Aggregate produces for the same sequence.
type Accumulator struct {
	providers map[string]*running
}

type running struct {
	runs         int
	total        int
	successful   int
	sumTime      float64
	minTime      float64
	maxTime      float64
	totalTokens  int
	inputTokens  int
	outputTokens int
	errors       []domain.ErrorDetail
}

func newRunning() *running {
	return &running{minTime: math.Inf(1), errors: []domain.ErrorDetail{}}
}

// NewAccumulator returns an empty fold.
func NewAccumulator() *Accumulator {
	return &Accumulator{providers: map[string]*running{}}
}

// Add folds one historical run. The record is validated in full before any
// state changes, so a rejected record leaves the accumulator untouched.
func (a *Accumulator) Add(rec domain.HistoryRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	for _, name := range sortedKeys(rec.Results) {
		r, ok := a.providers[name]
		if !ok {
			r = newRunning()
			a.providers[name] = r
		}
		r.runs++

		for _, page := range rec.Results[name] {
			r.total++
			if page.Succeeded() {
				r.successful++
				r.sumTime += page.ResponseTime
				r.minTime = math.Min(r.minTime, page.ResponseTime)
				r.maxTime = math.Max(r.maxTime, page.ResponseTime)
				r.totalTokens += page.TokensUsed
				r.inputTokens += page.InputTokens
				r.outputTokens += page.OutputTokens
				continue
			}
			r.errors = append(r.errors, domain.ErrorDetail{
				RunID:      rec.RunID,
				PageNumber: page.PageNumber,
				Error:      page.Error,
				Status:     page.Status,
			})
		}
	}
	return nil
}

// Result returns the current aggregates. The accumulator can keep folding
// afterwards.
func (a *Accumulator) Result(known []string) map[string]domain.AggregateStatistics {
	out := make(map[string]domain.AggregateStatistics, len(a.providers)+len(known))
	for _, name := range known {
		out[name] = domain.AggregateStatistics{
			Provider: name,
			Errors:   domain.ErrorSummary{ErrorDetails: []domain.ErrorDetail{}},
		}
	}
	for name, r := range a.providers {
		out[name] = r.snapshot(name)
	}
	return out
}

func (r *running) snapshot(name string) domain.AggregateStatistics {
	failed := r.total - r.successful
	agg := domain.AggregateStatistics{
		Provider:    name,
		RunsCounted: r.runs,
		Summary: domain.Summary{
			TotalPages:      r.total,
			SuccessfulPages: r.successful,
			FailedPages:     failed,
			SuccessRate:     ratio(r.successful, r.total) * 100,
		},
		Performance: domain.Performance{
			TotalResponseTime: r.sumTime,
		},
		TokenUsage: domain.TokenUsage{
			TotalTokens:          r.totalTokens,
			InputTokens:          r.inputTokens,
			OutputTokens:         r.outputTokens,
			AverageTokensPerPage: ratio(r.totalTokens, r.successful),
		},
		Errors: domain.ErrorSummary{
			TotalErrors:  failed,
			ErrorDetails: append([]domain.ErrorDetail{}, r.errors...),
		},
	}

	// The +Inf seed means no successes; report 0 instead.
	if r.successful > 0 {
		agg.Performance.AverageResponseTime = mean(r.sumTime, r.successful, r.minTime, r.maxTime)
		agg.Performance.MinResponseTime = r.minTime
		agg.Performance.MaxResponseTime = r.maxTime
	}
	return agg
}

func validateRecord(rec domain.HistoryRecord) error {
	if rec.RunID == "" {
		return domain.AggregationError("history record has no run id", nil)
	}
	for name, pages := range rec.Results {
		if name == "" {
			return domain.AggregationError(fmt.Sprintf("run %s has results with no provider name", rec.RunID), nil)
		}
		if _, ok := rec.Statistics[name]; !ok {
			return domain.AggregationError(fmt.Sprintf("run %s has results for %s but no statistics", rec.RunID, name), nil)
		}
		for i, page := range pages {
			if err := validatePage(page); err != nil {
				return domain.AggregationError(fmt.Sprintf("run %s provider %s result %d", rec.RunID, name, i), err)
			}
		}
	}
	return nil
}

func validatePage(p domain.PageResult) error {
	switch {
	case !p.Status.Valid():
		return fmt.Errorf("unknown status %q", p.Status)
	case p.PageNumber < 0:
		return fmt.Errorf("negative page number %d", p.PageNumber)
	case p.ResponseTime < 0 || math.IsNaN(p.ResponseTime) || math.IsInf(p.ResponseTime, 0):
		return fmt.Errorf("invalid response time %v", p.ResponseTime)
	case p.TokensUsed < 0 || p.InputTokens < 0 || p.OutputTokens < 0:
		return fmt.Errorf("negative token count")
	}
	return nil
}

func sortedKeys(m map[string][]domain.PageResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
