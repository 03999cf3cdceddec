package provider

import (
	"fmt"
	"sort"

	"github.com/spherical/ocr-bench/internal/domain"
)

const (
	Azure      = "azure"
	GCP        = "gcp"
	OpenRouter = "openrouter"
	Tesseract  = "tesseract"
)

// Variant describes how to validate and build one backend
type Variant struct {
	Name string
	// Validate reports missing or inconsistent fields
	Validate func(cfg domain.ProviderConfig) error
	New      func(cfg domain.ProviderConfig, opts Options) (Backend, error)
}

// Registry is the closed set of known backend variants
type Registry struct {
	variants map[string]Variant
	order    []string
}

// NewRegistry returns a registry with every built-in variant.
func NewRegistry() *Registry {
	r := &Registry{variants: map[string]Variant{}}
	r.Register(azureVariant())
	r.Register(gcpVariant())
	r.Register(openRouterVariant())
	r.Register(tesseractVariant())
	return r
}

// Register adds or replaces a variant.
func (r *Registry) Register(v Variant) {
	if _, exists := r.variants[v.Name]; !exists {
		r.order = append(r.order, v.Name)
	}
	r.variants[v.Name] = v
}

// Names returns the registered variant names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Validate checks cfg against the named variant's required fields.
func (r *Registry) Validate(name string, cfg domain.ProviderConfig) error {
	v, ok := r.variants[name]
	if !ok {
		return domain.ConfigurationError(fmt.Sprintf("unknown provider %q", name), nil)
	}
	if !cfg.Enabled {
		return domain.ConfigurationError(fmt.Sprintf("provider %q is not enabled", name), nil)
	}
	if err := v.Validate(cfg); err != nil {
		return domain.ConfigurationError(fmt.Sprintf("provider %q is misconfigured", name), err)
	}
	return nil
}

// Build validates cfg and constructs an adapter for the named provider.
func (r *Registry) Build(name string, cfg domain.ProviderConfig, opts Options) (*Adapter, error) {
	if err := r.Validate(name, cfg); err != nil {
		return nil, err
	}
	backend, err := r.variants[name].New(cfg, opts)
	if err != nil {
		return nil, domain.ConfigurationError(fmt.Sprintf("failed to initialize provider %q", name), err)
	}
	return NewAdapter(name, backend, opts), nil
}

// BuildAll builds every requested provider. Names that fail validation or
// construction are returned in the error map and never invoked. An empty
// selection means every enabled provider in cfg.
func (r *Registry) BuildAll(cfg domain.Configuration, selected []string, opts Options) (map[string]*Adapter, map[string]error) {
	if len(selected) == 0 {
		selected = cfg.Enabled(r.order)
		for name, pc := range cfg {
			if _, known := r.variants[name]; !known && pc.Enabled {
				selected = append(selected, name)
			}
		}
	}

	adapters := map[string]*Adapter{}
	failures := map[string]error{}
	for _, name := range dedupe(selected) {
		pc, ok := cfg[name]
		if !ok {
			failures[name] = domain.ConfigurationError(fmt.Sprintf("provider %q has no configuration", name), nil)
			continue
		}
		adapter, err := r.Build(name, pc, opts)
		if err != nil {
			failures[name] = err
			continue
		}
		adapters[name] = adapter
	}
	return adapters, failures
}

func dedupe(names []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// SortedNames returns the keys of an adapter map in a stable order.
func SortedNames(adapters map[string]*Adapter) []string {
	names := make([]string, 0, len(adapters))
	for n := range adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
