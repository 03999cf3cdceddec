package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/spherical/ocr-bench/internal/domain"
)

// tesseractBackend runs OCR locally. The gosseract client is not safe for
// concurrent use; one adapter processes its pages sequentially.
type tesseractBackend struct {
	client *gosseract.Client
}

func tesseractVariant() Variant {
	return Variant{
		Name:     Tesseract,
		Validate: func(domain.ProviderConfig) error { return nil },
		New:      newTesseractBackend,
	}
}

func newTesseractBackend(cfg domain.ProviderConfig, _ Options) (Backend, error) {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(langs...); err != nil {
		client.Close()
		return nil, fmt.Errorf("set tesseract languages: %w", err)
	}
	return &tesseractBackend{client: client}, nil
}

func (b *tesseractBackend) Recognize(ctx context.Context, page domain.PageContent) (string, domain.Usage, error) {
	if !page.HasImage() {
		return "", domain.Usage{}, domain.ProviderCallError("tesseract requires an image", errNoImage)
	}
	if err := ctx.Err(); err != nil {
		return "", domain.Usage{}, err
	}

	if err := b.client.SetImageFromBytes(page.Image); err != nil {
		return "", domain.Usage{}, domain.ProviderCallError("failed to load page image", err)
	}
	text, err := b.client.Text()
	if err != nil {
		return "", domain.Usage{}, domain.ProviderCallError("tesseract recognition failed", err)
	}
	return strings.TrimSpace(text), domain.Usage{}, nil
}

func (b *tesseractBackend) Close() error {
	return b.client.Close()
}
