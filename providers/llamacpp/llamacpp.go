// Package llamacpp provides a llama.cpp provider implementation and the
// language model that drives it for extraction pipelines.
//
// llama.cpp's server (llama-server) exposes an OpenAI-compatible API, so the
// provider embeds openai.CompatibleProvider. Model builds on top of it and
// implements inference.LanguageModel; importing this package registers it in
// inference.DefaultRegistry for model IDs starting with "llama".
package llamacpp

import (
	"github.com/mozilla-ai/langextract-llamacpp/config"
	"github.com/mozilla-ai/langextract-llamacpp/providers"
	"github.com/mozilla-ai/langextract-llamacpp/providers/openai"
)

// Provider configuration constants.
const (
	defaultAPIKey  = "EMPTY" // llama-server accepts any key unless started with --api-key.
	defaultBaseURL = "http://127.0.0.1:8080/v1"
	envAPIKey      = "LLAMACPP_API_KEY"
	envBaseURL     = "LLAMACPP_API_BASE"
	providerName   = "llamacpp"
)

// Ensure Provider implements the required interfaces.
var (
	_ providers.CapabilityProvider = (*Provider)(nil)
	_ providers.ErrorConverter     = (*Provider)(nil)
	_ providers.ModelLister        = (*Provider)(nil)
	_ providers.Provider           = (*Provider)(nil)
)

// Provider implements the providers.Provider interface for llama.cpp.
type Provider struct {
	*openai.CompatibleProvider
}

// New creates a new llama.cpp provider.
//
// The API key resolves from config.WithAPIKey, then LLAMACPP_API_KEY, then "EMPTY".
// The base URL resolves from config.WithBaseURL, then LLAMACPP_API_BASE, then
// http://127.0.0.1:8080/v1.
func New(opts ...config.Option) (*Provider, error) {
	base, err := openai.NewCompatible(openai.CompatibleConfig{
		APIKeyEnvVar:   envAPIKey,
		BaseURLEnvVar:  envBaseURL,
		Capabilities:   llamacppCapabilities(),
		DefaultAPIKey:  defaultAPIKey,
		DefaultBaseURL: defaultBaseURL,
		Name:           providerName,
		RequireAPIKey:  false,
	}, opts...)
	if err != nil {
		return nil, err
	}

	return &Provider{CompatibleProvider: base}, nil
}

func llamacppCapabilities() providers.Capabilities {
	return providers.Capabilities{
		Completion:          true,
		CompletionStreaming: false, // Model consumes whole completions only.
		Embedding:           false,
		ListModels:          true,
		StructuredOutput:    true, // response_format json_schema is translated to a grammar.
	}
}
