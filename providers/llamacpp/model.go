package llamacpp

import (
	"context"
	stderrors "errors"
	"iter"
	"maps"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mozilla-ai/langextract-llamacpp/config"
	"github.com/mozilla-ai/langextract-llamacpp/errors"
	"github.com/mozilla-ai/langextract-llamacpp/inference"
	"github.com/mozilla-ai/langextract-llamacpp/providers"
)

// Generation defaults.
const (
	defaultMaxTokens   = 32768
	defaultTemperature = 0.6
)

// Extra keys that seed the schema fields at construction.
const (
	extraEnableStructuredOutput = "enable_structured_output"
	extraResponseSchema         = inference.ConfigKeyResponseSchema
	extraStructuredOutput       = inference.ConfigKeyStructuredOutput
)

const headerRequestID = "X-Request-Id"

var (
	errContentFiltered = stderrors.New("response withheld by content filter")
	errNoChoices       = stderrors.New("response contained no choices")
)

// Ensure Model implements the required interfaces.
var (
	_ inference.LanguageModel = (*Model)(nil)
	_ inference.SchemaApplier = (*Model)(nil)
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Settings is the resolved configuration of a Model.
type Settings struct {
	ModelID          string
	APIKey           string
	BaseURL          string `validate:"omitempty,url"`
	SystemPrompt     string
	Temperature      float64 `validate:"gte=0,lte=2"`
	MaxTokens        int     `validate:"gt=0"`
	ResponseSchema   map[string]any
	StructuredOutput bool
	// Extra holds construction parameters this package does not interpret.
	// They are stored for callers and never sent to the server.
	Extra map[string]any
}

// ModelOption configures a Model.
type ModelOption func(*modelOptions)

type modelOptions struct {
	settings     Settings
	providerOpts []config.Option
	logger       *zerolog.Logger
}

// WithModelID sets the model ID. Without it the first model served is used.
func WithModelID(id string) ModelOption {
	return func(o *modelOptions) { o.settings.ModelID = id }
}

// WithAPIKey sets the API key, overriding LLAMACPP_API_KEY.
func WithAPIKey(key string) ModelOption {
	return func(o *modelOptions) { o.settings.APIKey = key }
}

// WithBaseURL sets the server base URL, overriding LLAMACPP_API_BASE.
func WithBaseURL(baseURL string) ModelOption {
	return func(o *modelOptions) { o.settings.BaseURL = baseURL }
}

// WithSystemPrompt sets a system message sent before every prompt.
func WithSystemPrompt(prompt string) ModelOption {
	return func(o *modelOptions) { o.settings.SystemPrompt = prompt }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) ModelOption {
	return func(o *modelOptions) { o.settings.Temperature = t }
}

// WithMaxTokens sets the default maximum number of generated tokens.
func WithMaxTokens(n int) ModelOption {
	return func(o *modelOptions) { o.settings.MaxTokens = n }
}

// WithExtra stores additional parameters. The keys "response_schema",
// "structured_output" and "enable_structured_output" seed the schema fields.
func WithExtra(extra map[string]any) ModelOption {
	return func(o *modelOptions) {
		if o.settings.Extra == nil {
			o.settings.Extra = make(map[string]any, len(extra))
		}
		for k, v := range extra {
			o.settings.Extra[k] = v
		}
	}
}

// WithProviderOptions passes client options (timeout, HTTP client, headers, retries)
// to the underlying provider.
func WithProviderOptions(opts ...config.Option) ModelOption {
	return func(o *modelOptions) { o.providerOpts = append(o.providerOpts, opts...) }
}

// WithLogger sets the logger. The default is the logger attached to the
// construction context, see zerolog.Ctx.
func WithLogger(l zerolog.Logger) ModelOption {
	return func(o *modelOptions) { o.logger = &l }
}

// Model is a language model served by llama.cpp.
//
// Infer sends one chat completion per prompt, sequentially. The only state that
// changes after construction is the schema, through ApplySchema.
type Model struct {
	provider *Provider
	settings Settings
	logger   zerolog.Logger

	mu               sync.RWMutex
	responseSchema   map[string]any
	structuredOutput bool
}

// NewModel creates a Model. When no model ID is given, the server's model list is
// queried and its first entry is used.
//
// All failures are returned as *errors.InferenceConfigError.
func NewModel(ctx context.Context, opts ...ModelOption) (*Model, error) {
	o := modelOptions{
		settings: Settings{
			MaxTokens:   defaultMaxTokens,
			Temperature: defaultTemperature,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	settings := o.settings
	applyExtra(&settings)

	if err := validate.Struct(settings); err != nil {
		return nil, errors.NewInferenceConfigError(providerName, "invalid settings", err)
	}

	cfgOpts := make([]config.Option, 0, len(o.providerOpts)+2)
	if settings.APIKey != "" {
		cfgOpts = append(cfgOpts, config.WithAPIKey(settings.APIKey))
	}
	if settings.BaseURL != "" {
		cfgOpts = append(cfgOpts, config.WithBaseURL(settings.BaseURL))
	}
	cfgOpts = append(cfgOpts, o.providerOpts...)

	provider, err := New(cfgOpts...)
	if err != nil {
		return nil, errors.NewInferenceConfigError(providerName, "creating client", err)
	}
	settings.APIKey = provider.APIKey()
	settings.BaseURL = provider.BaseURL()

	if settings.ModelID == "" {
		id, err := resolveModelID(ctx, provider)
		if err != nil {
			return nil, err
		}
		settings.ModelID = id
	}

	logger := zerolog.Ctx(ctx)
	if o.logger != nil {
		logger = o.logger
	}

	m := &Model{
		provider:         provider,
		settings:         settings,
		logger:           logger.With().Str("provider", providerName).Str("model", settings.ModelID).Logger(),
		responseSchema:   settings.ResponseSchema,
		structuredOutput: settings.StructuredOutput,
	}
	m.settings.ResponseSchema = nil
	m.settings.StructuredOutput = false

	m.logger.Debug().Str("base_url", settings.BaseURL).Msg("llama.cpp model ready")
	return m, nil
}

// resolveModelID returns the first model served by the provider.
func resolveModelID(ctx context.Context, p *Provider) (string, error) {
	models, err := p.ListModels(ctx)
	if err != nil {
		return "", errors.NewInferenceConfigError(providerName, "listing models", err)
	}
	if len(models.Data) == 0 {
		return "", errors.NewInferenceConfigError(providerName, "no models available from server", nil)
	}
	return models.Data[0].ID, nil
}

// applyExtra seeds the schema fields from well-known extra keys.
func applyExtra(s *Settings) {
	if v, ok := s.Extra[extraResponseSchema].(map[string]any); ok {
		s.ResponseSchema = cloneDefinition(v)
	}
	if v, ok := s.Extra[extraStructuredOutput].(bool); ok {
		s.StructuredOutput = v
	}
	if v, ok := s.Extra[extraEnableStructuredOutput].(bool); ok {
		s.StructuredOutput = v
	}
}

// ModelID returns the resolved model ID.
func (m *Model) ModelID() string {
	return m.settings.ModelID
}

// Provider returns the underlying provider.
func (m *Model) Provider() *Provider {
	return m.provider
}

// Settings returns a copy of the model settings, including the current schema.
// Changing the returned maps does not affect the model.
func (m *Model) Settings() Settings {
	s := m.settings
	s.Extra = maps.Clone(m.settings.Extra)

	m.mu.RLock()
	s.ResponseSchema = cloneDefinition(m.responseSchema)
	s.StructuredOutput = m.structuredOutput
	m.mu.RUnlock()

	return s
}

// SchemaFactory returns the constructor of the schema type this model accepts.
func (m *Model) SchemaFactory() inference.SchemaFactory {
	return newInferenceSchema
}

// ApplySchema sets the structured output schema, or clears it when s is nil.
func (m *Model) ApplySchema(s inference.Schema) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s == nil {
		m.responseSchema = nil
		m.structuredOutput = false
		return
	}

	cfg := s.ToProviderConfig()
	schema, _ := cfg[inference.ConfigKeyResponseSchema].(map[string]any)
	m.responseSchema = cloneDefinition(schema)
	m.structuredOutput, _ = cfg[inference.ConfigKeyStructuredOutput].(bool)
}

// Infer runs each prompt through the server and yields one result list per prompt.
//
// Call options override the construction defaults for this call only. The first
// failure is yielded as *errors.InferenceRuntimeError wrapping the cause, and no
// further prompts are sent.
func (m *Model) Infer(
	ctx context.Context,
	prompts []string,
	opts ...inference.InferOption,
) iter.Seq2[[]inference.ScoredOutput, error] {
	overrides := inference.NewInferParams(opts...)

	return func(yield func([]inference.ScoredOutput, error) bool) {
		params := m.completionParams(overrides)
		log := m.logger.With().Str("batch_id", uuid.NewString()).Logger()

		for i, prompt := range prompts {
			output, err := m.complete(ctx, params, prompt)
			if err != nil {
				log.Error().Err(err).Int("prompt_index", i).Msg("inference failed")
				yield(nil, errors.NewInferenceRuntimeError(providerName, err))
				return
			}

			log.Debug().Int("prompt_index", i).Int("output_len", len(output)).Msg("inference completed")
			if !yield([]inference.ScoredOutput{{Score: inference.DefaultScore, Output: output}}, nil) {
				return
			}
		}
	}
}

// completionParams merges the construction defaults with call overrides and the
// current schema. Messages are filled in per prompt.
func (m *Model) completionParams(overrides inference.InferParams) providers.CompletionParams {
	temperature := m.settings.Temperature
	if overrides.Temperature != nil {
		temperature = *overrides.Temperature
	}
	maxTokens := m.settings.MaxTokens
	if overrides.MaxOutputTokens != nil {
		maxTokens = *overrides.MaxOutputTokens
	}

	params := providers.CompletionParams{
		Model:       m.settings.ModelID,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		TopP:        overrides.TopP,
	}

	m.mu.RLock()
	schema, enabled := m.responseSchema, m.structuredOutput
	m.mu.RUnlock()

	if enabled && schema != nil {
		params.ResponseFormat = &providers.ResponseFormat{
			Type: providers.ResponseFormatJSONSchema,
			JSONSchema: &providers.JSONSchemaFormat{
				Name:   schemaName,
				Schema: schema,
			},
		}
	}

	return params
}

// messages builds the chat messages for a prompt.
func (m *Model) messages(prompt string) []providers.Message {
	msgs := make([]providers.Message, 0, 2)
	if m.settings.SystemPrompt != "" {
		msgs = append(msgs, providers.Message{Role: providers.RoleSystem, Content: m.settings.SystemPrompt})
	}
	return append(msgs, providers.Message{Role: providers.RoleUser, Content: prompt})
}

// complete sends one prompt and returns the trimmed text of the first choice.
func (m *Model) complete(ctx context.Context, params providers.CompletionParams, prompt string) (string, error) {
	params.Messages = m.messages(prompt)
	params.Headers = map[string]string{headerRequestID: uuid.NewString()}

	resp, err := m.provider.Completion(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.NewProviderError(providerName, errNoChoices)
	}

	choice := resp.Choices[0]
	switch choice.FinishReason {
	case providers.FinishReasonContentFilter:
		return "", errors.NewContentFilterError(providerName, errContentFiltered)
	case providers.FinishReasonLength:
		m.logger.Warn().Int("max_tokens", *params.MaxTokens).Msg("output truncated at max tokens")
	}

	return strings.TrimSpace(choice.Message.Content), nil
}
