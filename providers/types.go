// Package providers defines the backend-neutral chat completion types and the
// interfaces that every provider implements.
package providers

import "context"

// Message roles.
const (
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleUser      = "user"
)

// Finish reasons.
const (
	FinishReasonContentFilter = "content_filter"
	FinishReasonLength        = "length"
	FinishReasonStop          = "stop"
)

// Response format types.
const (
	ResponseFormatJSONObject = "json_object"
	ResponseFormatJSONSchema = "json_schema"
	ResponseFormatText       = "text"
)

// Provider is the minimal interface every backend implements.
type Provider interface {
	Name() string
	Completion(ctx context.Context, params CompletionParams) (*ChatCompletion, error)
}

// CapabilityProvider reports which features a provider supports.
type CapabilityProvider interface {
	Capabilities() Capabilities
}

// ModelLister lists the models served by a backend.
type ModelLister interface {
	ListModels(ctx context.Context) (*ModelsResponse, error)
}

// ErrorConverter maps backend SDK errors to the types in the errors package.
type ErrorConverter interface {
	ConvertError(err error) error
}

// Capabilities describes the features a provider supports.
type Capabilities struct {
	Completion          bool
	CompletionStreaming bool
	Embedding           bool
	ListModels          bool
	StructuredOutput    bool
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// CompletionParams are the inputs of a chat completion request.
// Nil pointer fields are left to the server default.
type CompletionParams struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// Extra holds provider-specific fields merged into the request body as-is.
	Extra map[string]any `json:"-"`
	// Headers are sent with this request only.
	Headers map[string]string `json:"-"`
}

// ResponseFormat constrains the shape of the model output.
type ResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *JSONSchemaFormat `json:"json_schema,omitempty"`
}

// JSONSchemaFormat is the schema attached to a json_schema response format.
type JSONSchemaFormat struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema"`
	Strict      *bool          `json:"strict,omitempty"`
}

// ChatCompletion is the response of a chat completion request.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one generated alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelsResponse is the response of a model listing request.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Model describes a model served by a backend.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
