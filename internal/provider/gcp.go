package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/spherical/ocr-bench/internal/domain"
	"github.com/spherical/ocr-bench/internal/llm"
)

const (
	defaultGCPLocation = "us-central1"
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

type gcpBackend struct {
	client *llm.Client
	url    string
}

type vertexImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
}

type vertexInstance struct {
	Prompt string       `json:"prompt"`
	Image  *vertexImage `json:"image,omitempty"`
	Text   string       `json:"text,omitempty"`
}

type vertexRequest struct {
	Instances []vertexInstance `json:"instances"`
}

type vertexResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
}

func gcpVariant() Variant {
	return Variant{
		Name:     GCP,
		Validate: validateGCP,
		New:      newGCPBackend,
	}
}

func validateGCP(cfg domain.ProviderConfig) error {
	var missing []string
	if cfg.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	if cfg.EndpointID == "" {
		missing = append(missing, "endpoint_id")
	}
	if cfg.ServiceAccountJSON == "" && cfg.ServiceAccountPath == "" {
		missing = append(missing, "service_account_json or service_account_path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func newGCPBackend(cfg domain.ProviderConfig, opts Options) (Backend, error) {
	location := cfg.Location
	if location == "" {
		location = defaultGCPLocation
	}

	ts := opts.TokenSource
	if ts == nil {
		var err error
		ts, err = serviceAccountTokenSource(cfg)
		if err != nil {
			return nil, err
		}
	}

	base := http.DefaultTransport
	if opts.HTTPClient != nil && opts.HTTPClient.Transport != nil {
		base = opts.HTTPClient.Transport
	}
	opts.HTTPClient = &http.Client{Transport: &oauth2.Transport{Source: ts, Base: base}}

	host := cfg.BaseURL
	if host == "" {
		host = fmt.Sprintf("https://%s-aiplatform.googleapis.com", location)
	}

	return &gcpBackend{
		client: opts.llmClient(),
		url: fmt.Sprintf("%s/v1/projects/%s/locations/%s/endpoints/%s:predict",
			strings.TrimRight(host, "/"), cfg.ProjectID, location, cfg.EndpointID),
	}, nil
}

func serviceAccountTokenSource(cfg domain.ProviderConfig) (oauth2.TokenSource, error) {
	data := []byte(cfg.ServiceAccountJSON)
	if len(data) == 0 {
		var err error
		data, err = os.ReadFile(cfg.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	}

	creds, err := google.CredentialsFromJSON(context.Background(), data, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}
	return creds.TokenSource, nil
}

func (b *gcpBackend) Recognize(ctx context.Context, page domain.PageContent) (string, domain.Usage, error) {
	instance := vertexInstance{Prompt: llm.OCRPrompt}
	if page.HasImage() {
		instance.Image = &vertexImage{BytesBase64Encoded: base64.StdEncoding.EncodeToString(page.Image)}
	} else {
		instance.Prompt = llm.TextPrompt
		instance.Text = page.Text
	}

	var resp vertexResponse
	if err := b.client.PostJSON(ctx, b.url, vertexRequest{Instances: []vertexInstance{instance}}, &resp); err != nil {
		return "", domain.Usage{}, err
	}

	if len(resp.Predictions) == 0 {
		return "", domain.Usage{}, domain.ProviderCallError("malformed response", errors.New("no predictions returned"))
	}

	text, err := predictionText(resp.Predictions[0])
	if err != nil {
		return "", domain.Usage{}, domain.ProviderCallError("malformed response", err)
	}
	// Vertex endpoints do not report token usage.
	return text, domain.Usage{}, nil
}

// predictionText accepts either a bare string or an object with a text field.
func predictionText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("unexpected prediction shape: %w", err)
	}
	for _, key := range []string{"text", "content", "generated_text"} {
		if v, ok := obj[key].(string); ok {
			return v, nil
		}
	}
	return "", errors.New("prediction has no text field")
}
