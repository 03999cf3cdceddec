// Package provider adapts heterogeneous OCR backends to one page-level
// contract. Backend failures never escape ProcessPage; they come back as
// error results and are counted in the adapter's metrics.
package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"golang.org/x/oauth2"

	"github.com/spherical/ocr-bench/internal/domain"
	"github.com/spherical/ocr-bench/internal/llm"
	"github.com/spherical/ocr-bench/internal/observability"
)

// Provider is the capability every backend variant exposes
type Provider interface {
	Name() string
	ProcessPage(ctx context.Context, page domain.PageContent) domain.PageResult
	Metrics() domain.MetricsSnapshot
}

// Backend performs one recognition call against one service
type Backend interface {
	Recognize(ctx context.Context, page domain.PageContent) (string, domain.Usage, error)
}

// Options carries construction-time dependencies shared by all variants.
// Zero values select production defaults.
type Options struct {
	HTTPClient      *http.Client
	Retry           *llm.RetryConfig
	Timeout         time.Duration
	Logger          *observability.Logger
	Clock           func() time.Time
	TokenCredential azcore.TokenCredential // azure with use_entra_id
	TokenSource     oauth2.TokenSource     // gcp; bypasses service account parsing
}

func (o Options) logger() *observability.Logger {
	if o.Logger == nil {
		return observability.Nop()
	}
	return o.Logger
}

func (o Options) clock() func() time.Time {
	if o.Clock == nil {
		return time.Now
	}
	return o.Clock
}

func (o Options) llmClient(extra ...llm.Option) *llm.Client {
	opts := []llm.Option{llm.WithRetry(o.Retry), llm.WithLogger(o.logger())}
	if o.HTTPClient != nil {
		opts = append(opts, llm.WithHTTPClient(o.HTTPClient))
	}
	return llm.NewClient(append(opts, extra...)...)
}

// Adapter wraps a Backend with timing, metrics and failure normalization
type Adapter struct {
	name       string
	backend    Backend
	metrics    *Metrics
	timeout    time.Duration
	now        func() time.Time
	logger     *observability.Logger
	warnedText bool
}

// NewAdapter wraps backend under the given provider name.
func NewAdapter(name string, backend Backend, opts Options) *Adapter {
	clock := opts.clock()
	return &Adapter{
		name:    name,
		backend: backend,
		metrics: NewMetrics(clock),
		timeout: opts.Timeout,
		now:     clock,
		logger:  opts.logger().WithProvider(name),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return a.name
}

// ProcessPage sends one page to the backend. It always returns a result.
func (a *Adapter) ProcessPage(ctx context.Context, page domain.PageContent) domain.PageResult {
	if !page.HasImage() && !a.warnedText {
		a.warnedText = true
		a.logger.Warn().
			Int("page", page.PageNumber).
			Msg("page content is text, not an image; results measure transcription of the text layer")
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := a.now()
	text, usage, err := a.backend.Recognize(ctx, page)
	elapsed := a.now().Sub(start).Seconds()

	if err != nil {
		if !domain.IsType(err, domain.ErrorTypeProviderCall) {
			err = domain.ProviderCallError("backend call failed", err)
		}
		a.metrics.RecordError(page.PageNumber, err, elapsed)
		a.logger.Debug().Int("page", page.PageNumber).Err(err).Msg("page failed")
		return domain.PageResult{
			PageNumber:   page.PageNumber,
			Status:       domain.StatusError,
			ResponseTime: elapsed,
			Error:        err.Error(),
		}
	}

	a.metrics.RecordSuccess(elapsed, usage)
	return domain.PageResult{
		PageNumber:   page.PageNumber,
		Status:       domain.StatusSuccess,
		Text:         text,
		ResponseTime: elapsed,
		TokensUsed:   usage.TotalTokens,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}
}

// Metrics returns a snapshot of the adapter's counters.
func (a *Adapter) Metrics() domain.MetricsSnapshot {
	return a.metrics.Snapshot()
}

// Close releases the backend client if it holds resources.
func (a *Adapter) Close() error {
	if c, ok := a.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var errNoImage = errors.New("page has no image content")
