package openai

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"testing"

	openaisdk "github.com/openai/openai-go"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/langextract-llamacpp/config"
	"github.com/mozilla-ai/langextract-llamacpp/errors"
	"github.com/mozilla-ai/langextract-llamacpp/internal/testutil"
	"github.com/mozilla-ai/langextract-llamacpp/providers"
)

const (
	testProviderName  = "compat-test"
	testAPIKeyEnvVar  = "COMPAT_TEST_API_KEY"
	testBaseURLEnvVar = "COMPAT_TEST_BASE_URL"
)

func testConfig() CompatibleConfig {
	return CompatibleConfig{
		APIKeyEnvVar:   testAPIKeyEnvVar,
		BaseURLEnvVar:  testBaseURLEnvVar,
		Capabilities:   providers.Capabilities{Completion: true, ListModels: true},
		DefaultAPIKey:  "",
		DefaultBaseURL: "http://127.0.0.1:8080/v1",
		Name:           testProviderName,
		RequireAPIKey:  true,
	}
}

func TestNewCompatible(t *testing.T) {
	// Note: Not using t.Parallel() here because child tests use t.Setenv.

	t.Run("returns error when API key is missing", func(t *testing.T) {
		t.Setenv(testAPIKeyEnvVar, "")

		p, err := NewCompatible(testConfig())
		require.Nil(t, p)

		var missingKeyErr *errors.MissingAPIKeyError
		require.ErrorAs(t, err, &missingKeyErr)
		require.Equal(t, testProviderName, missingKeyErr.Provider)
		require.Equal(t, testAPIKeyEnvVar, missingKeyErr.EnvVar)
	})

	t.Run("uses default API key when not required", func(t *testing.T) {
		t.Setenv(testAPIKeyEnvVar, "")

		cc := testConfig()
		cc.RequireAPIKey = false
		cc.DefaultAPIKey = "EMPTY"

		p, err := NewCompatible(cc)
		require.NoError(t, err)
		require.Equal(t, "EMPTY", p.APIKey())
	})

	t.Run("resolves API key and base URL from environment", func(t *testing.T) {
		t.Setenv(testAPIKeyEnvVar, "env-key")
		t.Setenv(testBaseURLEnvVar, "http://env-host:9000/v1")

		p, err := NewCompatible(testConfig())
		require.NoError(t, err)
		require.Equal(t, "env-key", p.APIKey())
		require.Equal(t, "http://env-host:9000/v1", p.BaseURL())
	})

	t.Run("options take precedence over environment", func(t *testing.T) {
		t.Setenv(testAPIKeyEnvVar, "env-key")
		t.Setenv(testBaseURLEnvVar, "http://env-host:9000/v1")

		p, err := NewCompatible(testConfig(),
			config.WithAPIKey("option-key"),
			config.WithBaseURL("http://option-host:9000/v1"),
		)
		require.NoError(t, err)
		require.Equal(t, "option-key", p.APIKey())
		require.Equal(t, "http://option-host:9000/v1", p.BaseURL())
	})

	t.Run("falls back to default base URL", func(t *testing.T) {
		t.Setenv(testBaseURLEnvVar, "")

		p, err := NewCompatible(testConfig(), config.WithAPIKey("key"))
		require.NoError(t, err)
		require.Equal(t, "http://127.0.0.1:8080/v1", p.BaseURL())
		require.Equal(t, testProviderName, p.Name())
		require.True(t, p.Capabilities().Completion)
	})

	t.Run("returns error for invalid options", func(t *testing.T) {
		p, err := NewCompatible(testConfig(), config.WithBaseURL("not a url"))
		require.Nil(t, p)
		require.ErrorContains(t, err, "invalid options")
	})
}

func TestCompletion(t *testing.T) {
	t.Parallel()

	t.Run("sends messages and generation parameters", func(t *testing.T) {
		t.Parallel()

		srv := testutil.NewChatServer(t, testutil.WithReplies("Hello World"))
		p, err := NewCompatible(testConfig(),
			config.WithAPIKey("secret"),
			config.WithBaseURL(srv.BaseURL()),
			config.WithHeaders(map[string]string{"X-Client": "test"}),
		)
		require.NoError(t, err)

		temperature := 0.0
		topP := 0.9
		maxTokens := 64
		resp, err := p.Completion(context.Background(), providers.CompletionParams{
			Model:       "llama-test",
			Messages:    testutil.MessagesWithSystem(),
			Temperature: &temperature,
			TopP:        &topP,
			MaxTokens:   &maxTokens,
			Extra:       map[string]any{"n_probs": 2},
			Headers:     map[string]string{"X-Request-Id": "req-1"},
		})
		require.NoError(t, err)

		require.Equal(t, "chatcmpl-test", resp.ID)
		require.Equal(t, objectChatCompletion, resp.Object)
		require.Len(t, resp.Choices, 1)
		require.Equal(t, "Hello World", resp.Choices[0].Message.Content)
		require.Equal(t, providers.RoleAssistant, resp.Choices[0].Message.Role)
		require.Equal(t, providers.FinishReasonStop, resp.Choices[0].FinishReason)
		require.Equal(t, 4, resp.Usage.TotalTokens)

		reqs := srv.Requests()
		require.Len(t, reqs, 1)
		body := reqs[0].Body

		require.Equal(t, "llama-test", body["model"])
		require.Equal(t, 0.0, body["temperature"])
		require.Equal(t, 0.9, body["top_p"])
		require.Equal(t, 64.0, body["max_tokens"])
		require.Equal(t, 2.0, body["n_probs"])
		require.NotContains(t, body, "response_format")

		messages, ok := body["messages"].([]any)
		require.True(t, ok)
		require.Len(t, messages, 2)
		require.Equal(t, "system", messages[0].(map[string]any)["role"])
		require.Equal(t, "user", messages[1].(map[string]any)["role"])

		require.Equal(t, "Bearer secret", reqs[0].Header.Get("Authorization"))
		require.Equal(t, "test", reqs[0].Header.Get("X-Client"))
		require.Equal(t, "req-1", reqs[0].Header.Get("X-Request-Id"))
	})

	t.Run("attaches json schema response format", func(t *testing.T) {
		t.Parallel()

		srv := testutil.NewChatServer(t, testutil.WithReplies(`{"answer":"4"}`))
		p, err := NewCompatible(testConfig(), config.WithAPIKey("key"), config.WithBaseURL(srv.BaseURL()))
		require.NoError(t, err)

		_, err = p.Completion(context.Background(), providers.CompletionParams{
			Model:    "llama-test",
			Messages: testutil.SimpleMessages(),
			ResponseFormat: &providers.ResponseFormat{
				Type: providers.ResponseFormatJSONSchema,
				JSONSchema: &providers.JSONSchemaFormat{
					Name:   "schema",
					Schema: testutil.TestSchema,
				},
			},
		})
		require.NoError(t, err)

		reqs := srv.Requests()
		require.Len(t, reqs, 1)

		rf, ok := reqs[0].Body["response_format"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, providers.ResponseFormatJSONSchema, rf["type"])

		js, ok := rf["json_schema"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "schema", js["name"])
		require.Equal(t, "object", js["schema"].(map[string]any)["type"])
	})

	t.Run("converts HTTP errors", func(t *testing.T) {
		t.Parallel()

		srv := testutil.NewChatServer(t, testutil.WithChatError(1, http.StatusInternalServerError, "kaboom"))
		p, err := NewCompatible(testConfig(), config.WithAPIKey("key"), config.WithBaseURL(srv.BaseURL()))
		require.NoError(t, err)

		_, err = p.Completion(context.Background(), providers.CompletionParams{
			Model:    "llama-test",
			Messages: testutil.SimpleMessages(),
		})
		require.ErrorIs(t, err, errors.ErrProvider)
		require.Contains(t, err.Error(), "["+testProviderName+"]")
		require.Len(t, srv.Requests(), 1, "failed requests must not be retried")
	})

	t.Run("rejects unsupported roles before sending", func(t *testing.T) {
		t.Parallel()

		srv := testutil.NewChatServer(t)
		p, err := NewCompatible(testConfig(), config.WithAPIKey("key"), config.WithBaseURL(srv.BaseURL()))
		require.NoError(t, err)

		_, err = p.Completion(context.Background(), providers.CompletionParams{
			Model:    "llama-test",
			Messages: []providers.Message{{Role: "tool", Content: "x"}},
		})
		require.ErrorIs(t, err, errors.ErrInvalidRequest)
		require.Empty(t, srv.Requests())
	})
}

func TestListModels(t *testing.T) {
	t.Parallel()

	srv := testutil.NewChatServer(t, testutil.WithModels("llama-a", "llama-b"))
	p, err := NewCompatible(testConfig(), config.WithAPIKey("key"), config.WithBaseURL(srv.BaseURL()))
	require.NoError(t, err)

	resp, err := p.ListModels(context.Background())
	require.NoError(t, err)
	require.Equal(t, objectList, resp.Object)
	require.Len(t, resp.Data, 2)
	require.Equal(t, "llama-a", resp.Data[0].ID)
	require.Equal(t, "llama-b", resp.Data[1].ID)
	require.Equal(t, 1, srv.ModelCalls())
}

func TestConvertResponseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rf      *providers.ResponseFormat
		wantErr bool
	}{
		{name: "text", rf: &providers.ResponseFormat{Type: providers.ResponseFormatText}},
		{name: "json object", rf: &providers.ResponseFormat{Type: providers.ResponseFormatJSONObject}},
		{
			name: "json schema",
			rf: &providers.ResponseFormat{
				Type:       providers.ResponseFormatJSONSchema,
				JSONSchema: &providers.JSONSchemaFormat{Name: "schema", Schema: testutil.TestSchema},
			},
		},
		{name: "json schema without schema", rf: &providers.ResponseFormat{Type: providers.ResponseFormatJSONSchema}, wantErr: true},
		{name: "unknown type", rf: &providers.ResponseFormat{Type: "grammar"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := convertResponseFormat(tc.rf)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConvertError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		err          error
		wantSentinel error
	}{
		{
			name:         "nil error returns nil",
			err:          nil,
			wantSentinel: nil,
		},
		{
			name:         "non-API error becomes ProviderError",
			err:          stderrors.New("network timeout"),
			wantSentinel: errors.ErrProvider,
		},
		{
			name:         "401 status becomes AuthenticationError",
			err:          newTestAPIError(t, 401, ""),
			wantSentinel: errors.ErrAuthentication,
		},
		{
			name:         "403 status becomes AuthenticationError",
			err:          newTestAPIError(t, 403, ""),
			wantSentinel: errors.ErrAuthentication,
		},
		{
			name:         "404 status becomes ModelNotFoundError",
			err:          newTestAPIError(t, 404, ""),
			wantSentinel: errors.ErrModelNotFound,
		},
		{
			name:         "429 status becomes RateLimitError",
			err:          newTestAPIError(t, 429, ""),
			wantSentinel: errors.ErrRateLimit,
		},
		{
			name:         "400 status becomes InvalidRequestError",
			err:          newTestAPIError(t, 400, "bad request"),
			wantSentinel: errors.ErrInvalidRequest,
		},
		{
			name:         "400 with context message becomes ContextLengthError",
			err:          newTestAPIError(t, 400, "the request exceeds the available context size"),
			wantSentinel: errors.ErrContextLength,
		},
		{
			name:         "500 status becomes ProviderError",
			err:          newTestAPIError(t, 500, ""),
			wantSentinel: errors.ErrProvider,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := &CompatibleProvider{name: testProviderName}
			result := p.ConvertError(tc.err)

			if tc.wantSentinel == nil {
				require.Nil(t, result)
				return
			}

			require.NotNil(t, result)
			require.True(t, stderrors.Is(result, tc.wantSentinel), "expected error to match %v", tc.wantSentinel)
			require.True(t, stderrors.Is(result, tc.err), "expected original error to be wrapped")
		})
	}
}

// newTestAPIError creates an openai-go API error for testing.
func newTestAPIError(t *testing.T, statusCode int, message string) *openaisdk.Error {
	t.Helper()

	testURL, _ := url.Parse("http://127.0.0.1:8080/v1/chat/completions")
	return &openaisdk.Error{
		Message:    message,
		StatusCode: statusCode,
		Request:    &http.Request{Method: http.MethodPost, URL: testURL},
		Response:   &http.Response{StatusCode: statusCode},
	}
}
