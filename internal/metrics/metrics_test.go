package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/ocr-bench/internal/domain"
)

func TestObservePage(t *testing.T) {
	c := NewCollector()

	c.ObservePage("azure", domain.PageResult{Status: domain.StatusSuccess, ResponseTime: 1.2, InputTokens: 30, OutputTokens: 12})
	c.ObservePage("azure", domain.PageResult{Status: domain.StatusError, ResponseTime: 0.3})
	c.ObservePage("gcp", domain.PageResult{Status: domain.StatusSuccess, ResponseTime: 0.4})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.pages.WithLabelValues("azure", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pages.WithLabelValues("azure", "error")))
	assert.Equal(t, 30.0, testutil.ToFloat64(c.tokens.WithLabelValues("azure", "input")))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.tokens.WithLabelValues("azure", "output")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.pageDuration))
}

func TestRunLifecycle(t *testing.T) {
	c := NewCollector()

	c.RunStarted()
	c.RunStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.activeRuns))

	c.RunFinished(domain.RunCompleted)
	c.RunFinished(domain.RunFailed)
	assert.Zero(t, testutil.ToFloat64(c.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("completed")))

	c.AggregateRecomputed(nil)
	c.AggregateRecomputed(errors.New("malformed"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recomputes.WithLabelValues("error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.ObservePage("tesseract", domain.PageResult{Status: domain.StatusSuccess, ResponseTime: 0.1})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ocrbench_pages_total{provider="tesseract",status="success"} 1`)
}
