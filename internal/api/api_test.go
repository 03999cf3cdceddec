package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/ocr-bench/internal/cache"
	"github.com/spherical/ocr-bench/internal/domain"
	"github.com/spherical/ocr-bench/internal/extract"
	"github.com/spherical/ocr-bench/internal/metrics"
	"github.com/spherical/ocr-bench/internal/observability"
	"github.com/spherical/ocr-bench/internal/orchestrator"
	"github.com/spherical/ocr-bench/internal/provider"
	"github.com/spherical/ocr-bench/internal/storage"
)

type fixedDocument struct{ pages int }

func (d fixedDocument) PageCount() int { return d.pages }

func (d fixedDocument) Page(_ context.Context, n int) (domain.PageContent, error) {
	return domain.PageContent{PageNumber: n, Image: []byte{0xff, 0xd8}, MIMEType: "image/jpeg"}, nil
}

func (d fixedDocument) Close() error { return nil }

type fixedSource map[string]int

func (s fixedSource) Open(_ context.Context, path string) (domain.Document, error) {
	pages, ok := s[path]
	if !ok {
		return nil, domain.DocumentError("failed to open PDF", errors.New("no such file"))
	}
	return fixedDocument{pages: pages}, nil
}

type echoBackend struct{}

func (echoBackend) Recognize(_ context.Context, _ domain.PageContent) (string, domain.Usage, error) {
	return "text", domain.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, nil
}

type testServer struct {
	ts     *httptest.Server
	stores *storage.Stores
	jobs   *orchestrator.Jobs
	cache  *cache.MemoryClient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := storage.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := provider.NewRegistry()
	reg.Register(provider.Variant{
		Name: "echo",
		Validate: func(cfg domain.ProviderConfig) error {
			if cfg.APIKey == "" {
				return errors.New("missing required fields: api_key")
			}
			return nil
		},
		New: func(domain.ProviderConfig, provider.Options) (provider.Backend, error) {
			return echoBackend{}, nil
		},
	})

	stores := storage.NewStores(db)
	mem := cache.NewMemoryClient(0)
	t.Cleanup(func() { mem.Close() })
	collector := metrics.NewCollector()

	orch := orchestrator.New(orchestrator.Deps{
		Registry:   reg,
		Source:     fixedSource{"doc.pdf": 2},
		Processor:  extract.NewProcessor(0, nil, extract.WithRecorder(collector)),
		Config:     stores.Config,
		Tasks:      stores.Tasks,
		History:    stores.History,
		Statistics: stores.Statistics,
		Cache:      mem,
		Metrics:    collector,
	})
	jobs := orchestrator.NewJobs(orch)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jobs.Shutdown(ctx)
	})

	ts := httptest.NewServer(NewRouter(Deps{
		Orchestrator: orch,
		Jobs:         jobs,
		Registry:     reg,
		Config:       stores.Config,
		Tasks:        stores.Tasks,
		History:      stores.History,
		Statistics:   stores.Statistics,
		Cache:        mem,
		Metrics:      collector.Handler(),
	}))
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, stores: stores, jobs: jobs, cache: mem}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.ts.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestConfigRoundTripRedactsSecrets(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPut, "/api/config", domain.Configuration{
		"echo": {Enabled: true, APIKey: "secret"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.Configuration
	decode(t, resp, &got)
	assert.Equal(t, redacted, got["echo"].APIKey)

	// Sending the redacted value back keeps the stored key.
	resp = s.do(t, http.MethodPut, "/api/config", got)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := s.stores.Config.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret", stored["echo"].APIKey)
}

func TestPutConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{name: "unknown provider", body: domain.Configuration{"nope": {Enabled: true}}},
		{name: "missing credentials", body: domain.Configuration{"echo": {Enabled: true}}},
		{name: "malformed body", body: "not a map"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			resp := s.do(t, http.MethodPut, "/api/config", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body map[string]string
			decode(t, resp, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSubmitAndPollRun(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.stores.Config.Save(context.Background(), domain.Configuration{
		"echo": {Enabled: true, APIKey: "k"},
	}))

	resp := s.do(t, http.MethodPost, "/api/runs/", SubmitRunRequest{DocumentPath: "doc.pdf"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var submitted RunStatusResponse
	decode(t, resp, &submitted)
	require.NotEmpty(t, submitted.RunID)

	job, ok := s.jobs.Get(submitted.RunID)
	require.True(t, ok)
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	resp = s.do(t, http.MethodGet, "/api/runs/"+submitted.RunID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var polled RunStatusResponse
	decode(t, resp, &polled)
	assert.Equal(t, domain.RunCompleted, polled.Status)
	assert.Equal(t, 100, polled.Progress)
	require.NotNil(t, polled.Outcome)
	assert.Equal(t, 2, polled.Outcome.Statistics["echo"].Summary.TotalPages)

	resp = s.do(t, http.MethodGet, "/api/runs/"+submitted.RunID+"/statistics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var latest map[string]domain.RunStatistics
	decode(t, resp, &latest)
	assert.Equal(t, 100.0, latest["echo"].Summary.SuccessRate)

	resp = s.do(t, http.MethodGet, "/api/statistics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var aggs map[string]domain.AggregateStatistics
	decode(t, resp, &aggs)
	assert.Equal(t, 1, aggs["echo"].RunsCounted)

	resp = s.do(t, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []HistorySummary
	decode(t, resp, &history)
	require.Len(t, history, 1)
	assert.Equal(t, submitted.RunID, history[0].RunID)

	resp = s.do(t, http.MethodGet, "/api/history/"+submitted.RunID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec domain.HistoryRecord
	decode(t, resp, &rec)
	assert.Len(t, rec.Results["echo"], 2)

	resp = s.do(t, http.MethodDelete, "/api/runs/"+submitted.RunID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRunStatisticsFallsBackToHistory(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.stores.Config.Save(context.Background(), domain.Configuration{
		"echo": {Enabled: true, APIKey: "k"},
	}))

	resp := s.do(t, http.MethodPost, "/api/runs/", SubmitRunRequest{DocumentPath: "doc.pdf"})
	var submitted RunStatusResponse
	decode(t, resp, &submitted)
	job, _ := s.jobs.Get(submitted.RunID)
	<-job.Done()

	require.NoError(t, s.cache.Delete(context.Background(), cache.LatestStatsKey(submitted.RunID)))

	resp = s.do(t, http.MethodGet, "/api/runs/"+submitted.RunID+"/statistics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var latest map[string]domain.RunStatistics
	decode(t, resp, &latest)
	assert.Equal(t, 2, latest["echo"].Summary.TotalPages)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/runs/missing", "/api/history/missing", "/api/runs/missing/statistics"} {
		t.Run(path, func(t *testing.T) {
			resp := s.do(t, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	}

	resp := s.do(t, http.MethodDelete, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitRunRequiresDocument(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/runs/", SubmitRunRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecomputeOnEmptyHistory(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/statistics/recompute", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var aggs map[string]domain.AggregateStatistics
	decode(t, resp, &aggs)
	assert.Contains(t, aggs, "echo")
	assert.Equal(t, 0, aggs["echo"].RunsCounted)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDomainErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NotFoundError("run x"), http.StatusNotFound},
		{domain.ValidationError("bad", nil), http.StatusBadRequest},
		{domain.ConfigurationError("bad", nil), http.StatusUnprocessableEntity},
		{domain.AggregationError("bad", nil), http.StatusInternalServerError},
		{domain.StorageError("db down", nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	h := &Handler{logger: observability.Nop()}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.writeDomainError(rec, tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}
