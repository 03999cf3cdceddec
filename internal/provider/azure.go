package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/spherical/ocr-bench/internal/domain"
	"github.com/spherical/ocr-bench/internal/llm"
)

const (
	defaultAzureAPIVersion = "2024-02-15-preview"
	cognitiveServicesScope = "https://cognitiveservices.azure.com/.default"
	azureMaxTokens         = 4000
	azureTemperature       = 0.1
)

type azureBackend struct {
	client *llm.Client
	url    string
}

func azureVariant() Variant {
	return Variant{
		Name:     Azure,
		Validate: validateAzure,
		New:      newAzureBackend,
	}
}

func validateAzure(cfg domain.ProviderConfig) error {
	var missing []string
	if cfg.APIKey == "" && !cfg.UseEntraID {
		missing = append(missing, "api_key")
	}
	if cfg.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if cfg.DeploymentName == "" {
		missing = append(missing, "deployment_name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	return nil
}

func newAzureBackend(cfg domain.ProviderConfig, opts Options) (Backend, error) {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAzureAPIVersion
	}

	authorize := llm.HeaderAuthorizer("api-key", cfg.APIKey)
	if cfg.UseEntraID {
		cred := opts.TokenCredential
		if cred == nil {
			dac, err := azidentity.NewDefaultAzureCredential(nil)
			if err != nil {
				return nil, fmt.Errorf("create azure credential: %w", err)
			}
			cred = dac
		}
		authorize = entraAuthorizer(cred)
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	return &azureBackend{
		client: opts.llmClient(llm.WithAuthorizer(authorize)),
		url: fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			endpoint, url.PathEscape(cfg.DeploymentName), url.QueryEscape(apiVersion)),
	}, nil
}

func entraAuthorizer(cred azcore.TokenCredential) llm.Authorizer {
	return func(ctx context.Context, req *http.Request) error {
		tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{cognitiveServicesScope}})
		if err != nil {
			return fmt.Errorf("acquire entra token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok.Token)
		return nil
	}
}

func (b *azureBackend) Recognize(ctx context.Context, page domain.PageContent) (string, domain.Usage, error) {
	temperature := azureTemperature
	req := llm.Request{
		Messages:    llm.BuildOCRMessages(page),
		MaxTokens:   azureMaxTokens,
		Temperature: &temperature,
	}

	var resp llm.Response
	if err := b.client.PostJSON(ctx, b.url, req, &resp); err != nil {
		return "", domain.Usage{}, err
	}

	text, ok := resp.FirstContent()
	if !ok {
		return "", domain.Usage{}, domain.ProviderCallError("malformed response", errors.New("no choices returned"))
	}
	return text, resp.Usage.Domain(), nil
}
