package llamacpp

import (
	"context"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/mozilla-ai/langextract-llamacpp/config"
	"github.com/mozilla-ai/langextract-llamacpp/errors"
	"github.com/mozilla-ai/langextract-llamacpp/inference"
)

// Registry configuration.
const registryPriority = 10

// RegistryPatterns are the model ID patterns the package registers.
var RegistryPatterns = []string{`^llamacpp`, `^llama`}

func init() {
	inference.DefaultRegistry.MustRegister(inference.Entry{
		Name:     providerName,
		Patterns: RegistryPatterns,
		Priority: registryPriority,
		Factory:  Factory,
	})
}

// kwargs is the decoded form of inference.ModelConfig.ProviderKwargs.
type kwargs struct {
	APIKey       string         `mapstructure:"api_key"`
	APIBase      string         `mapstructure:"api_base"`
	BaseURL      string         `mapstructure:"base_url"`
	SystemPrompt string         `mapstructure:"system_prompt"`
	Temperature  *float64       `mapstructure:"temperature"`
	MaxTokens    *int           `mapstructure:"max_tokens"`
	Timeout      time.Duration  `mapstructure:"timeout"`
	Extra        map[string]any `mapstructure:",remain"`
}

// Factory builds a Model from a registry ModelConfig. Provider kwargs are decoded
// with weak typing, so "0.2" is accepted for temperature and "30s" for timeout.
// Unknown keys become extras.
func Factory(ctx context.Context, cfg inference.ModelConfig) (inference.LanguageModel, error) {
	opts, err := optionsFromKwargs(cfg.ProviderKwargs)
	if err != nil {
		return nil, errors.NewInferenceConfigError(providerName, "decoding provider kwargs", err)
	}
	if cfg.ModelID != "" {
		opts = append(opts, WithModelID(cfg.ModelID))
	}

	m, err := NewModel(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func optionsFromKwargs(raw map[string]any) ([]ModelOption, error) {
	var k kwargs
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           &k,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, err
	}

	var opts []ModelOption
	if k.APIKey != "" {
		opts = append(opts, WithAPIKey(k.APIKey))
	}
	// api_base wins over base_url when both are set.
	switch {
	case k.APIBase != "":
		opts = append(opts, WithBaseURL(k.APIBase))
	case k.BaseURL != "":
		opts = append(opts, WithBaseURL(k.BaseURL))
	}
	if k.SystemPrompt != "" {
		opts = append(opts, WithSystemPrompt(k.SystemPrompt))
	}
	if k.Temperature != nil {
		opts = append(opts, WithTemperature(*k.Temperature))
	}
	if k.MaxTokens != nil {
		opts = append(opts, WithMaxTokens(*k.MaxTokens))
	}
	if k.Timeout > 0 {
		opts = append(opts, WithProviderOptions(config.WithTimeout(k.Timeout)))
	}
	if len(k.Extra) > 0 {
		opts = append(opts, WithExtra(k.Extra))
	}
	return opts, nil
}
