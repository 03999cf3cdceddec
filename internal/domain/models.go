package domain

import (
	"encoding/json"
	"time"
)

// PageStatus is the outcome of one page call
type PageStatus string

const (
	StatusSuccess PageStatus = "success"
	StatusError   PageStatus = "error"
)

// Valid reports whether s is one of the known page statuses.
func (s PageStatus) Valid() bool {
	return s == StatusSuccess || s == StatusError
}

// ContentMode selects what a document source hands to providers
type ContentMode string

const (
	ContentImage ContentMode = "image"
	ContentText  ContentMode = "text"
)

// PageContent is one page of a document in the unit a provider consumes
type PageContent struct {
	PageNumber int
	Image      []byte // JPEG unless MIMEType says otherwise
	MIMEType   string
	Text       string
}

// HasImage reports whether the page carries image bytes.
func (p PageContent) HasImage() bool {
	return len(p.Image) > 0
}

// PageResult is the uniform outcome of sending one page to one provider.
// Text is set only on success and Error only on failure.
type PageResult struct {
	PageNumber   int        `json:"page_number"`
	Status       PageStatus `json:"status"`
	Text         string     `json:"text,omitempty"`
	ResponseTime float64    `json:"response_time"`
	TokensUsed   int        `json:"tokens_used"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	Error        string     `json:"error,omitempty"`
}

// Succeeded reports whether the page call succeeded.
func (r PageResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Usage is the token count reported by a backend for one call
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ErrorRecord is one failed call recorded by a provider's metrics
type ErrorRecord struct {
	PageNumber   int        `json:"page_number"`
	Error        string     `json:"error"`
	Status       PageStatus `json:"status"`
	ResponseTime float64    `json:"response_time"`
}

// MetricsSnapshot is a point-in-time copy of a provider's counters
type MetricsSnapshot struct {
	TotalTokens   int           `json:"total_tokens"`
	InputTokens   int           `json:"input_tokens"`
	OutputTokens  int           `json:"output_tokens"`
	RequestsMade  int           `json:"requests_made"`
	ResponseTimes []float64     `json:"response_times"`
	Errors        []ErrorRecord `json:"errors"`
	StartTime     time.Time     `json:"start_time"`
	TotalTime     float64       `json:"total_time"`
}

// ErrorDetail is one failed page listed in statistics
type ErrorDetail struct {
	RunID      string     `json:"run_id,omitempty"`
	PageNumber int        `json:"page_number"`
	Error      string     `json:"error"`
	Status     PageStatus `json:"status"`
}

type Summary struct {
	TotalPages      int     `json:"total_pages"`
	SuccessfulPages int     `json:"successful_pages"`
	FailedPages     int     `json:"failed_pages"`
	SuccessRate     float64 `json:"success_rate"`
}

type Performance struct {
	AverageResponseTime float64 `json:"average_response_time"`
	MinResponseTime     float64 `json:"min_response_time"`
	MaxResponseTime     float64 `json:"max_response_time"`
	TotalProcessingTime float64 `json:"total_processing_time,omitempty"`
	TotalResponseTime   float64 `json:"total_response_time,omitempty"`
}

type TokenUsage struct {
	TotalTokens          int     `json:"total_tokens"`
	InputTokens          int     `json:"input_tokens"`
	OutputTokens         int     `json:"output_tokens"`
	AverageTokensPerPage float64 `json:"average_tokens_per_page"`
}

type ErrorSummary struct {
	TotalErrors  int           `json:"total_errors"`
	ErrorDetails []ErrorDetail `json:"error_details"`
}

// RunStatistics summarizes one provider's results for one run
type RunStatistics struct {
	Summary     Summary      `json:"summary"`
	Performance Performance  `json:"performance"`
	TokenUsage  TokenUsage   `json:"token_usage"`
	Errors      ErrorSummary `json:"errors"`
}

// AggregateStatistics is the lifetime rollup of one provider over all history
type AggregateStatistics struct {
	Provider    string       `json:"provider"`
	RunsCounted int          `json:"runs_counted"`
	Summary     Summary      `json:"summary"`
	Performance Performance  `json:"performance"`
	TokenUsage  TokenUsage   `json:"token_usage"`
	Errors      ErrorSummary `json:"errors"`
}

// ProviderConfig holds the enable flag and credentials for one provider.
// Which fields are required depends on the provider.
type ProviderConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled"`
	APIKey             string   `json:"api_key,omitempty" yaml:"api_key"`
	Endpoint           string   `json:"endpoint,omitempty" yaml:"endpoint"`
	APIVersion         string   `json:"api_version,omitempty" yaml:"api_version"`
	DeploymentName     string   `json:"deployment_name,omitempty" yaml:"deployment_name"`
	UseEntraID         bool     `json:"use_entra_id,omitempty" yaml:"use_entra_id"`
	ProjectID          string   `json:"project_id,omitempty" yaml:"project_id"`
	Location           string   `json:"location,omitempty" yaml:"location"`
	EndpointID         string   `json:"endpoint_id,omitempty" yaml:"endpoint_id"`
	ServiceAccountJSON string   `json:"service_account_json,omitempty" yaml:"service_account_json"`
	ServiceAccountPath string   `json:"service_account_path,omitempty" yaml:"service_account_path"`
	Model              string   `json:"model,omitempty" yaml:"model"`
	BaseURL            string   `json:"base_url,omitempty" yaml:"base_url"`
	Languages          []string `json:"languages,omitempty" yaml:"languages"`
}

// Configuration maps provider names to their settings
type Configuration map[string]ProviderConfig

// Enabled returns the names of enabled providers in the given order.
func (c Configuration) Enabled(order []string) []string {
	var names []string
	for _, name := range order {
		if pc, ok := c[name]; ok && pc.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// RunStatus is a state of the run state machine
type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// RunRecord is the polled view of a run kept by the task store
type RunRecord struct {
	RunID     string          `json:"run_id"`
	Status    RunStatus       `json:"status"`
	Progress  int             `json:"progress"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HistoryRecord is one completed run as persisted for aggregation
type HistoryRecord struct {
	RunID        string                   `json:"run_id"`
	DocumentName string                   `json:"document_name"`
	Providers    []string                 `json:"providers"`
	Results      map[string][]PageResult  `json:"results"`
	Statistics   map[string]RunStatistics `json:"statistics"`
	CreatedAt    time.Time                `json:"created_at"`
}

// EventType represents the type of processing event
type EventType string

const (
	EventStart          EventType = "start"
	EventPageProcessing EventType = "page_processing"
	EventPageComplete   EventType = "page_complete"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// StreamEvent represents an event emitted during page processing
type StreamEvent struct {
	Type       EventType `json:"type"`
	Provider   string    `json:"provider,omitempty"`
	PageNumber int       `json:"page_number,omitempty"`
	TotalPages int       `json:"total_pages,omitempty"`
	Payload    string    `json:"payload"`
	Timestamp  time.Time `json:"timestamp"`
}
