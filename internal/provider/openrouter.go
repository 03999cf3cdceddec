package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spherical/ocr-bench/internal/domain"
	"github.com/spherical/ocr-bench/internal/llm"
)

const (
	openRouterURL          = "https://openrouter.ai/api/v1/chat/completions"
	defaultOpenRouterModel = "google/gemini-2.5-flash-preview-09-2025"
)

type openRouterBackend struct {
	client *llm.Client
	url    string
	model  string
}

func openRouterVariant() Variant {
	return Variant{
		Name:     OpenRouter,
		Validate: validateOpenRouter,
		New:      newOpenRouterBackend,
	}
}

func validateOpenRouter(cfg domain.ProviderConfig) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("missing required fields: api_key")
	}
	return nil
}

func newOpenRouterBackend(cfg domain.ProviderConfig, opts Options) (Backend, error) {
	model := cfg.Model
	if model == "" {
		model = defaultOpenRouterModel
	}
	endpoint := openRouterURL
	if cfg.BaseURL != "" {
		endpoint = strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	}

	return &openRouterBackend{
		client: opts.llmClient(
			llm.WithAuthorizer(llm.BearerAuthorizer(cfg.APIKey)),
			llm.WithHeader("HTTP-Referer", "https://github.com/spherical/ocr-bench"),
			llm.WithHeader("X-Title", "OCR Bench"),
		),
		url:   endpoint,
		model: model,
	}, nil
}

func (b *openRouterBackend) Recognize(ctx context.Context, page domain.PageContent) (string, domain.Usage, error) {
	req := llm.Request{
		Model:         b.model,
		Messages:      llm.BuildOCRMessages(page),
		Stream:        true,
		StreamOptions: &llm.StreamOptions{IncludeUsage: true},
	}

	text, usage, err := b.client.Stream(ctx, b.url, req)
	if err != nil {
		return "", domain.Usage{}, err
	}
	if text == "" && usage == nil {
		return "", domain.Usage{}, domain.ProviderCallError("malformed response", errors.New("empty stream"))
	}
	return text, usage.Domain(), nil
}
