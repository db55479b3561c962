package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RecordedRequest is a chat completion request received by a ChatServer.
type RecordedRequest struct {
	Header http.Header
	Body   map[string]any
}

// ServerOption configures a ChatServer.
type ServerOption func(*ChatServer)

// WithModels sets the model IDs returned by the models endpoint.
func WithModels(ids ...string) ServerOption {
	return func(s *ChatServer) { s.models = ids }
}

// WithReplies sets the assistant content returned for successive chat calls.
// The last reply is repeated once the list is exhausted.
func WithReplies(replies ...string) ServerOption {
	return func(s *ChatServer) { s.replies = replies }
}

// WithChatError makes chat calls from the given 1-based call number onwards fail
// with status and an OpenAI-style error body carrying message.
func WithChatError(fromCall int, status int, message string) ServerOption {
	return func(s *ChatServer) {
		s.failFrom = fromCall
		s.failStatus = status
		s.failMessage = message
	}
}

// WithFinishReason sets the finish_reason of every chat reply. The default is "stop".
func WithFinishReason(reason string) ServerOption {
	return func(s *ChatServer) { s.finishReason = reason }
}

// WithRawChatResponse makes every chat call answer 200 with body verbatim.
func WithRawChatResponse(body string) ServerOption {
	return func(s *ChatServer) { s.rawBody = body }
}

// WithModelsStatus makes the models endpoint answer with status and an error body.
func WithModelsStatus(status int) ServerOption {
	return func(s *ChatServer) { s.modelsStatus = status }
}

// ChatServer is a fake OpenAI-compatible server that records chat requests.
type ChatServer struct {
	*httptest.Server

	mu           sync.Mutex
	requests     []RecordedRequest
	modelCalls   int
	models       []string
	replies      []string
	rawBody      string
	finishReason string
	failFrom     int
	failStatus   int
	failMessage  string
	modelsStatus int
}

// NewChatServer starts a ChatServer that is closed when the test ends.
func NewChatServer(t *testing.T, opts ...ServerOption) *ChatServer {
	t.Helper()

	s := &ChatServer{
		models:       []string{"llama-test"},
		replies:      []string{"ok"},
		finishReason: "stop",
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChat)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

// BaseURL returns the OpenAI-compatible base URL of the server.
func (s *ChatServer) BaseURL() string {
	return s.URL + "/v1"
}

// Requests returns the chat requests received so far.
func (s *ChatServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// ModelCalls returns how many times the models endpoint was called.
func (s *ChatServer) ModelCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelCalls
}

func (s *ChatServer) handleModels(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.modelCalls++
	s.mu.Unlock()

	if s.modelsStatus != 0 {
		writeError(w, s.modelsStatus, "models unavailable")
		return
	}

	data := make([]map[string]any, 0, len(s.models))
	for _, id := range s.models {
		data = append(data, map[string]any{
			"id":       id,
			"object":   "model",
			"created":  0,
			"owned_by": "llamacpp",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (s *ChatServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{Header: r.Header.Clone(), Body: body})
	call := len(s.requests)
	s.mu.Unlock()

	if s.failFrom > 0 && call >= s.failFrom {
		writeError(w, s.failStatus, s.failMessage)
		return
	}

	if s.rawBody != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(s.rawBody))
		return
	}

	reply := s.replies[len(s.replies)-1]
	if call <= len(s.replies) {
		reply = s.replies[call-1]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1,
		"model":   body["model"],
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": reply},
			"finish_reason": s.finishReason,
		}},
		"usage": map[string]any{
			"prompt_tokens":     3,
			"completion_tokens": 1,
			"total_tokens":      4,
		},
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "server_error",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
