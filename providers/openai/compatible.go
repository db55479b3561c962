// Package openai provides a base provider for backends that expose an
// OpenAI-compatible chat completions API.
//
// Backend packages embed CompatibleProvider and only supply their defaults
// (name, base URL, API key handling and capabilities).
package openai

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/mozilla-ai/langextract-llamacpp/config"
	"github.com/mozilla-ai/langextract-llamacpp/errors"
	"github.com/mozilla-ai/langextract-llamacpp/providers"
)

// Object type constants for API responses.
const (
	objectChatCompletion = "chat.completion"
	objectList           = "list"
	objectModel          = "model"
)

// Error classification markers for 400 responses.
const (
	errCodeContextLength = "context_length_exceeded"
	errMsgContext        = "context"
)

// Ensure CompatibleProvider implements the required interfaces.
var (
	_ providers.CapabilityProvider = (*CompatibleProvider)(nil)
	_ providers.ErrorConverter     = (*CompatibleProvider)(nil)
	_ providers.ModelLister        = (*CompatibleProvider)(nil)
	_ providers.Provider           = (*CompatibleProvider)(nil)
)

// CompatibleConfig describes the defaults of an OpenAI-compatible backend.
type CompatibleConfig struct {
	// APIKeyEnvVar is consulted when no API key option is given. Empty disables the lookup.
	APIKeyEnvVar string
	// BaseURLEnvVar is consulted when no base URL option is given. Empty disables the lookup.
	BaseURLEnvVar string
	Capabilities  providers.Capabilities
	// DefaultAPIKey is used when neither the option nor the env var supplies a key.
	DefaultAPIKey  string
	DefaultBaseURL string
	Name           string
	// RequireAPIKey makes construction fail when no key can be resolved.
	RequireAPIKey bool
}

// CompatibleProvider talks to an OpenAI-compatible server.
type CompatibleProvider struct {
	apiKey       string
	baseURL      string
	capabilities providers.Capabilities
	client       openaisdk.Client
	name         string
}

// NewCompatible creates a provider for an OpenAI-compatible backend.
func NewCompatible(cc CompatibleConfig, opts ...config.Option) (*CompatibleProvider, error) {
	cfg, err := config.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	apiKey := cfg.ResolveAPIKey(cc.APIKeyEnvVar)
	if apiKey == "" {
		apiKey = cc.DefaultAPIKey
	}
	if apiKey == "" && cc.RequireAPIKey {
		return nil, errors.NewMissingAPIKeyError(cc.Name, cc.APIKeyEnvVar)
	}

	baseURL := cfg.ResolveBaseURL(cc.BaseURLEnvVar)
	if baseURL == "" {
		baseURL = cc.DefaultBaseURL
	}

	clientOpts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(cfg.HTTPClient()),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	for k, v := range cfg.Headers {
		clientOpts = append(clientOpts, option.WithHeader(k, v))
	}

	return &CompatibleProvider{
		apiKey:       apiKey,
		baseURL:      baseURL,
		capabilities: cc.Capabilities,
		client:       openaisdk.NewClient(clientOpts...),
		name:         cc.Name,
	}, nil
}

// Name returns the provider name.
func (p *CompatibleProvider) Name() string {
	return p.name
}

// BaseURL returns the resolved base URL.
func (p *CompatibleProvider) BaseURL() string {
	return p.baseURL
}

// APIKey returns the resolved API key.
func (p *CompatibleProvider) APIKey() string {
	return p.apiKey
}

// Capabilities returns the provider's capabilities.
func (p *CompatibleProvider) Capabilities() providers.Capabilities {
	return p.capabilities
}

// Completion performs a chat completion request.
func (p *CompatibleProvider) Completion(
	ctx context.Context,
	params providers.CompletionParams,
) (*providers.ChatCompletion, error) {
	req, err := convertParams(params)
	if err != nil {
		return nil, errors.NewInvalidRequestError(p.name, err)
	}

	opts := make([]option.RequestOption, 0, len(params.Extra)+len(params.Headers))
	for k, v := range params.Extra {
		opts = append(opts, option.WithJSONSet(k, v))
	}
	for k, v := range params.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	resp, err := p.client.Chat.Completions.New(ctx, req, opts...)
	if err != nil {
		return nil, p.ConvertError(err)
	}

	return convertResponse(resp), nil
}

// ListModels lists the models served by the backend.
func (p *CompatibleProvider) ListModels(ctx context.Context) (*providers.ModelsResponse, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, p.ConvertError(err)
	}

	models := make([]providers.Model, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, providers.Model{
			ID:      m.ID,
			Object:  objectModel,
			Created: m.Created,
			OwnedBy: m.OwnedBy,
		})
	}

	return &providers.ModelsResponse{
		Object: objectList,
		Data:   models,
	}, nil
}

// ConvertError converts an openai-go error to a unified error type.
func (p *CompatibleProvider) ConvertError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openaisdk.Error
	if !stderrors.As(err, &apiErr) {
		return errors.NewProviderError(p.name, err)
	}

	switch apiErr.StatusCode {
	case 401, 403:
		return errors.NewAuthenticationError(p.name, err)
	case 404:
		return errors.NewModelNotFoundError(p.name, err)
	case 429:
		return errors.NewRateLimitError(p.name, err)
	case 400:
		if isContextLengthError(apiErr) {
			return errors.NewContextLengthError(p.name, err)
		}
		return errors.NewInvalidRequestError(p.name, err)
	default:
		return errors.NewProviderError(p.name, err)
	}
}

// isContextLengthError reports whether a 400 response was caused by an oversized prompt.
// llama.cpp reports "exceed_context_size_error"; OpenAI reports "context_length_exceeded".
func isContextLengthError(apiErr *openaisdk.Error) bool {
	if apiErr.Code == errCodeContextLength {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Type), errMsgContext) ||
		strings.Contains(strings.ToLower(apiErr.Message), errMsgContext)
}

// convertParams maps CompletionParams to the openai-go request type.
func convertParams(params providers.CompletionParams) (openaisdk.ChatCompletionNewParams, error) {
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(params.Messages))
	for i, msg := range params.Messages {
		switch msg.Role {
		case providers.RoleSystem:
			messages = append(messages, openaisdk.SystemMessage(msg.Content))
		case providers.RoleUser:
			messages = append(messages, openaisdk.UserMessage(msg.Content))
		case providers.RoleAssistant:
			messages = append(messages, openaisdk.AssistantMessage(msg.Content))
		default:
			return openaisdk.ChatCompletionNewParams{}, fmt.Errorf("message %d: unsupported role %q", i, msg.Role)
		}
	}

	req := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(params.Model),
		Messages: messages,
	}
	if params.Temperature != nil {
		req.Temperature = openaisdk.Float(*params.Temperature)
	}
	if params.TopP != nil {
		req.TopP = openaisdk.Float(*params.TopP)
	}
	if params.MaxTokens != nil {
		req.MaxTokens = openaisdk.Int(int64(*params.MaxTokens))
	}

	if params.ResponseFormat != nil {
		rf, err := convertResponseFormat(params.ResponseFormat)
		if err != nil {
			return openaisdk.ChatCompletionNewParams{}, err
		}
		req.ResponseFormat = rf
	}

	return req, nil
}

// convertResponseFormat maps a ResponseFormat to the openai-go union type.
func convertResponseFormat(rf *providers.ResponseFormat) (openaisdk.ChatCompletionNewParamsResponseFormatUnion, error) {
	switch rf.Type {
	case providers.ResponseFormatText:
		return openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfText: &shared.ResponseFormatTextParam{},
		}, nil
	case providers.ResponseFormatJSONObject:
		return openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}, nil
	case providers.ResponseFormatJSONSchema:
		if rf.JSONSchema == nil {
			return openaisdk.ChatCompletionNewParamsResponseFormatUnion{}, stderrors.New("json_schema response format requires a schema")
		}
		js := shared.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   rf.JSONSchema.Name,
			Schema: rf.JSONSchema.Schema,
		}
		if rf.JSONSchema.Description != "" {
			js.Description = openaisdk.String(rf.JSONSchema.Description)
		}
		if rf.JSONSchema.Strict != nil {
			js.Strict = openaisdk.Bool(*rf.JSONSchema.Strict)
		}
		return openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{JSONSchema: js},
		}, nil
	default:
		return openaisdk.ChatCompletionNewParamsResponseFormatUnion{}, fmt.Errorf("unsupported response format %q", rf.Type)
	}
}

// convertResponse maps the openai-go response to a ChatCompletion.
func convertResponse(resp *openaisdk.ChatCompletion) *providers.ChatCompletion {
	choices := make([]providers.Choice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, providers.Choice{
			Index: int(c.Index),
			Message: providers.Message{
				Role:    providers.RoleAssistant,
				Content: c.Message.Content,
			},
			FinishReason: string(c.FinishReason),
		})
	}

	object := string(resp.Object)
	if object == "" {
		object = objectChatCompletion
	}

	return &providers.ChatCompletion{
		ID:      resp.ID,
		Object:  object,
		Created: resp.Created,
		Model:   resp.Model,
		Choices: choices,
		Usage: &providers.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
}
