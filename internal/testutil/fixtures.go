// Package testutil provides testing utilities and fixtures for the llama.cpp provider.
package testutil

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/mozilla-ai/langextract-llamacpp/providers"
)

// Local server defaults used by integration tests.
const (
	LocalBaseURL      = "http://127.0.0.1:8080/v1"
	EnvIntegrationURL = "LLAMACPP_TEST_BASE_URL"

	availabilityTimeout = 5 * time.Second
)

// TestSchema is a small JSON schema for structured output tests.
var TestSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"answer": map[string]any{"type": "string"},
	},
	"required": []any{"answer"},
}

// SimpleMessages returns a simple test message.
func SimpleMessages() []providers.Message {
	return []providers.Message{
		{Role: providers.RoleUser, Content: "Say 'Hello World' exactly, nothing else."},
	}
}

// MessagesWithSystem returns messages with a system prompt.
func MessagesWithSystem() []providers.Message {
	return []providers.Message{
		{Role: providers.RoleSystem, Content: "You are a helpful assistant that follows instructions exactly."},
		{Role: providers.RoleUser, Content: "Say 'Hello World' exactly, nothing else."},
	}
}

// IntegrationBaseURL returns the llama.cpp server URL for integration tests.
func IntegrationBaseURL() string {
	if v := os.Getenv(EnvIntegrationURL); v != "" {
		return v
	}
	return LocalBaseURL
}

// SkipIfServerUnavailable skips the test unless a llama.cpp server answers at baseURL.
func SkipIfServerUnavailable(t *testing.T, baseURL string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), availabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/models", nil)
	if err != nil {
		t.Skipf("llama.cpp not available: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Skip("llama.cpp not available: server not responding at " + baseURL)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Skipf("llama.cpp not available: %s returned %d", baseURL, resp.StatusCode)
	}
}
