package llm

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-rubric/internal/ports"
)

// Registry resolves judge identifiers to cached clients. An identifier is
// either a bare model name ("gemini-2.5-pro"), a provider name ("google",
// meaning its default model), or "provider/model"
// ("openrouter/anthropic/claude-3.5-sonnet").
type Registry struct {
	providers         map[string]ProviderConfig
	clients           map[string]ports.LLMClient
	defaultProvider   string
	defaultMiddleware []Middleware
	defaultTimeout    time.Duration
	getenv            func(string) string
	mu                sync.RWMutex
}

// ProviderConfig describes one provider the registry can build clients for.
type ProviderConfig struct {
	// Type is the registered provider factory name.
	Type string
	// EnvVars lists environment variables holding the API key; the first
	// non-empty one wins.
	EnvVars []string
	// DefaultModel is used when a spec names only the provider.
	DefaultModel string
	// SupportedModels restricts the models accepted for this provider and
	// lets bare model names resolve to it. Empty accepts any model but
	// only through "provider/model" specs.
	SupportedModels []string
	// BaseURL overrides the provider endpoint.
	BaseURL string
	// Middleware is applied after the registry defaults.
	Middleware []Middleware
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Providers         map[string]ProviderConfig
	DefaultProvider   string
	DefaultTimeout    time.Duration
	DefaultMiddleware []Middleware
	// Getenv looks up API keys. Defaults to os.Getenv.
	Getenv func(string) string
}

// DefaultProviders lists the providers available to grading judges.
var DefaultProviders = map[string]ProviderConfig{
	"google": {
		Type:         "google",
		EnvVars:      []string{"GOOGLE_API_KEY", "GEMINI_API_KEY", "GOOGLE_GENERATIVE_AI_API_KEY"},
		DefaultModel: "gemini-2.5-flash",
		SupportedModels: []string{
			"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.5-flash-lite",
			"gemini-2.0-flash", "gemini-2.0-flash-lite",
		},
	},
	"openai": {
		Type:         "openai",
		EnvVars:      []string{"OPENAI_API_KEY"},
		DefaultModel: "gpt-4.1-mini",
		SupportedModels: []string{
			"gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano",
			"gpt-4o", "gpt-4o-mini",
			"o4-mini", "o3", "o3-mini",
		},
	},
	"anthropic": {
		Type:         "anthropic",
		EnvVars:      []string{"ANTHROPIC_API_KEY"},
		DefaultModel: "claude-sonnet-4-20250514",
		SupportedModels: []string{
			"claude-opus-4-1-20250805", "claude-opus-4-20250514",
			"claude-sonnet-4-20250514", "claude-3-7-sonnet-latest",
			"claude-3-5-haiku-latest",
		},
	},
	"openrouter": {
		Type:         "openrouter",
		EnvVars:      []string{"OPENROUTER_API_KEY"},
		DefaultModel: OpenRouterDefaultModel,
	},
}

// NewRegistry creates a registry. DefaultProvider must be one of
// Providers.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DefaultProvider == "" {
		return nil, fmt.Errorf("default provider cannot be empty")
	}
	if _, exists := config.Providers[config.DefaultProvider]; !exists {
		return nil, fmt.Errorf("default provider %q not found in providers configuration", config.DefaultProvider)
	}

	getenv := config.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	return &Registry{
		providers:         config.Providers,
		clients:           make(map[string]ports.LLMClient),
		defaultProvider:   config.DefaultProvider,
		defaultMiddleware: config.DefaultMiddleware,
		defaultTimeout:    config.DefaultTimeout,
		getenv:            getenv,
	}, nil
}

// GetDefaultClient returns a client for the default provider's default
// model.
func (r *Registry) GetDefaultClient() (ports.LLMClient, error) {
	return r.GetClient(r.defaultProvider)
}

// GetClient returns the cached client for spec, creating it on first use.
func (r *Registry) GetClient(spec string) (ports.LLMClient, error) {
	provider, model, err := r.Resolve(spec)
	if err != nil {
		return nil, err
	}
	key := provider + "/" + model

	r.mu.RLock()
	client, exists := r.clients[key]
	r.mu.RUnlock()
	if exists {
		return client, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, exists := r.clients[key]; exists {
		return client, nil
	}

	client, err = r.createClient(provider, model)
	if err != nil {
		return nil, err
	}
	r.clients[key] = client
	return client, nil
}

// Resolve maps spec to a provider and model without creating a client.
func (r *Registry) Resolve(spec string) (provider, model string, err error) {
	return ResolveSpec(r.providers, spec)
}

// ResolveSpec maps spec to a provider and model using providers.
func ResolveSpec(providers map[string]ProviderConfig, spec string) (provider, model string, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", "", fmt.Errorf("model specification cannot be empty")
	}

	if name, rest, found := strings.Cut(spec, "/"); found {
		cfg, ok := providers[name]
		if !ok {
			return "", "", fmt.Errorf("unknown provider %q in %q", name, spec)
		}
		if rest == "" {
			return "", "", fmt.Errorf("model missing in %q", spec)
		}
		if len(cfg.SupportedModels) > 0 && !slices.Contains(cfg.SupportedModels, rest) {
			return "", "", fmt.Errorf("model %q is not supported by provider %q; supported models: %v",
				rest, name, cfg.SupportedModels)
		}
		return name, rest, nil
	}

	if cfg, ok := providers[spec]; ok {
		return spec, cfg.DefaultModel, nil
	}

	// Iterate in a fixed order so a model listed twice resolves stably.
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if slices.Contains(providers[name].SupportedModels, spec) {
			return name, spec, nil
		}
	}

	return "", "", fmt.Errorf("unknown model %q", spec)
}

// RegisterClient installs client under spec, replacing any cached client.
func (r *Registry) RegisterClient(spec string, client ports.LLMClient) error {
	provider, model, err := r.Resolve(spec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[provider+"/"+model] = client
	return nil
}

// RegisterCore wraps core with the registry and provider middleware and
// installs it under spec. Tests use it to put fake providers behind the
// production middleware chain.
func (r *Registry) RegisterCore(spec string, core CoreLLM) error {
	provider, _, err := r.Resolve(spec)
	if err != nil {
		return err
	}

	r.mu.RLock()
	mw := r.middlewareFor(provider)
	r.mu.RUnlock()

	return r.RegisterClient(spec, NewClientFromCore(core, ClientConfig{Middleware: mw}))
}

func (r *Registry) createClient(provider, model string) (ports.LLMClient, error) {
	providerConfig := r.providers[provider]

	var apiKey string
	for _, name := range providerConfig.EnvVars {
		if apiKey = r.getenv(name); apiKey != "" {
			break
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("none of %v is set for provider %q: %w",
			providerConfig.EnvVars, provider, ports.ErrConfigNotFound)
	}

	client, err := NewClient(providerConfig.Type, ClientConfig{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    providerConfig.BaseURL,
		Timeout:    r.defaultTimeout,
		Middleware: r.middlewareFor(provider),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", provider, err)
	}
	return client, nil
}

// middlewareFor returns a fresh slice so callers can't alias the defaults.
// Callers hold r.mu.
func (r *Registry) middlewareFor(provider string) []Middleware {
	mw := append([]Middleware{}, r.defaultMiddleware...)
	return append(mw, r.providers[provider].Middleware...)
}

// UpdateDefaultMiddleware appends middleware for clients created from now
// on. Existing clients keep their chain.
func (r *Registry) UpdateDefaultMiddleware(middleware ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultMiddleware = append(r.defaultMiddleware, middleware...)
}

// SetDefaultTimeout sets the HTTP timeout for clients created from now on.
func (r *Registry) SetDefaultTimeout(timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultTimeout = timeout
}
