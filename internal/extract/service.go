// Package extract drives the pages of one document through one provider.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/spherical/ocr-bench/internal/domain"
	"github.com/spherical/ocr-bench/internal/observability"
	"github.com/spherical/ocr-bench/internal/provider"
)

// DefaultPagePause is the fixed delay inserted between pages
const DefaultPagePause = 100 * time.Millisecond

// ProgressFunc receives the page count after each page completes
type ProgressFunc func(done, total int)

// Recorder observes every page result, e.g. for metrics export
type Recorder interface {
	ObservePage(providerName string, result domain.PageResult)
}

// Processor runs a document's pages sequentially through a provider
type Processor struct {
	pause    time.Duration
	logger   *observability.Logger
	recorder Recorder
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Processor
type Option func(*Processor)

// WithRecorder attaches a page observer.
func WithRecorder(r Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

// NewProcessor creates a processor that waits pause between pages.
// A negative pause selects DefaultPagePause.
func NewProcessor(pause time.Duration, logger *observability.Logger, opts ...Option) *Processor {
	if pause < 0 {
		pause = DefaultPagePause
	}
	if logger == nil {
		logger = observability.Nop()
	}
	p := &Processor{
		pause:  pause,
		logger: logger.WithComponent("extract"),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DocumentFailure is the single synthetic result emitted when the document
// itself cannot be read.
func DocumentFailure(err error) domain.PageResult {
	return domain.PageResult{
		PageNumber: 0,
		Status:     domain.StatusError,
		Error:      err.Error(),
	}
}

// ProcessPath opens path through src and processes it. A document-level
// failure yields exactly one synthetic page-0 result.
func (p *Processor) ProcessPath(ctx context.Context, src domain.DocumentSource, path string, prov provider.Provider, onProgress ProgressFunc, eventCh chan<- domain.StreamEvent) []domain.PageResult {
	doc, err := src.Open(ctx, path)
	if err != nil {
		p.emitError(eventCh, prov.Name(), err)
		return []domain.PageResult{DocumentFailure(err)}
	}
	defer doc.Close()

	return p.Process(ctx, doc, prov, onProgress, eventCh)
}

// Process sends every page of doc to prov in page order and returns one
// result per page attempted. A failing page never stops later pages; only
// cancellation of ctx does.
func (p *Processor) Process(ctx context.Context, doc domain.Document, prov provider.Provider, onProgress ProgressFunc, eventCh chan<- domain.StreamEvent) []domain.PageResult {
	name := prov.Name()
	logger := p.logger.WithContext(ctx).WithProvider(name)

	if doc == nil || doc.PageCount() <= 0 {
		err := domain.DocumentError("document has no pages", nil)
		p.emitError(eventCh, name, err)
		return []domain.PageResult{DocumentFailure(err)}
	}

	total := doc.PageCount()
	startTime := time.Now()

	p.emitEvent(eventCh, domain.StreamEvent{
		Type:       domain.EventStart,
		Provider:   name,
		TotalPages: total,
		Payload:    fmt.Sprintf("Starting %d pages", total),
		Timestamp:  time.Now(),
	})

	results := make([]domain.PageResult, 0, total)
	failCount := 0

	for pageNumber := 1; pageNumber <= total; pageNumber++ {
		if pageNumber > 1 {
			if err := p.sleep(ctx, p.pause); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		p.emitEvent(eventCh, domain.StreamEvent{
			Type:       domain.EventPageProcessing,
			Provider:   name,
			PageNumber: pageNumber,
			TotalPages: total,
			Payload:    fmt.Sprintf("Processing page %d", pageNumber),
			Timestamp:  time.Now(),
		})

		result := p.processPage(ctx, doc, prov, pageNumber)
		results = append(results, result)
		if p.recorder != nil {
			p.recorder.ObservePage(name, result)
		}

		if result.Succeeded() {
			p.emitEvent(eventCh, domain.StreamEvent{
				Type:       domain.EventPageComplete,
				Provider:   name,
				PageNumber: pageNumber,
				TotalPages: total,
				Payload:    fmt.Sprintf("Completed page %d", pageNumber),
				Timestamp:  time.Now(),
			})
		} else {
			failCount++
			logger.Warn().Int("page", pageNumber).Str("error", result.Error).Msg("page failed")
			p.emitEvent(eventCh, domain.StreamEvent{
				Type:       domain.EventError,
				Provider:   name,
				PageNumber: pageNumber,
				TotalPages: total,
				Payload:    result.Error,
				Timestamp:  time.Now(),
			})
		}

		if onProgress != nil {
			onProgress(pageNumber, total)
		}
	}

	p.emitEvent(eventCh, domain.StreamEvent{
		Type:     domain.EventComplete,
		Provider: name,
		Payload: fmt.Sprintf("Processed %d/%d pages, %d failed, in %v",
			len(results), total, failCount, time.Since(startTime).Round(time.Millisecond)),
		TotalPages: total,
		Timestamp:  time.Now(),
	})

	logger.Info().
		Int("pages", len(results)).
		Int("failed", failCount).
		Dur("elapsed", time.Since(startTime)).
		Msg("document processed")

	return results
}

// processPage extracts and sends one page. Extraction failures are reported
// as an error result for that page.
func (p *Processor) processPage(ctx context.Context, doc domain.Document, prov provider.Provider, pageNumber int) domain.PageResult {
	content, err := doc.Page(ctx, pageNumber)
	if err != nil {
		return domain.PageResult{
			PageNumber: pageNumber,
			Status:     domain.StatusError,
			Error:      err.Error(),
		}
	}
	if content.PageNumber == 0 {
		content.PageNumber = pageNumber
	}
	return prov.ProcessPage(ctx, content)
}

// Percent converts a page count into a 0-100 progress value.
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return done * 100 / total
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// emitEvent safely emits an event to the channel
func (p *Processor) emitEvent(eventCh chan<- domain.StreamEvent, event domain.StreamEvent) {
	if eventCh != nil {
		select {
		case eventCh <- event:
		default:
			p.logger.Warn().Str("event", string(event.Type)).Msg("event channel full, dropping event")
		}
	}
}

// emitError emits an error event
func (p *Processor) emitError(eventCh chan<- domain.StreamEvent, providerName string, err error) {
	p.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventError,
		Provider:  providerName,
		Payload:   err.Error(),
		Timestamp: time.Now(),
	})
}
