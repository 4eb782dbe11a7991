package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

var testSchema = json.RawMessage(`{
	"name":"audit_report_batch",
	"strict":true,
	"schema":{
		"type":"object",
		"properties":{"a.pptx":{"type":"object"}},
		"required":["a.pptx"],
		"additionalProperties":false
	}
}`)

// chatServer replies with the given contents in order, one per request, and
// records the decoded request bodies.
type chatServer struct {
	t        *testing.T
	mu       sync.Mutex
	replies  []string
	payloads []map[string]any
}

func (s *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/chat/completions" {
		s.t.Errorf("unexpected path: %s", r.URL.Path)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.t.Errorf("read body: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		s.t.Errorf("unmarshal body: %v", err)
	}

	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	idx := len(s.payloads) - 1
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	reply := s.replies[idx]
	s.mu.Unlock()

	resp := map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-5-mini-2025",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": reply},
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *chatServer) requests() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloads
}

func newTestClient(url string, repair int) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{
		APIKey:         "test-key",
		BaseURL:        url,
		Model:          "gpt-5-mini",
		RepairAttempts: repair,
	})
}

func structuredRequest() *ChatRequest {
	return &ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "extract"},
			{Role: RoleUser, Content: "[[START_FILE: a.pptx]]\n...\n[[END_FILE]]\n"},
		},
		ResponseFormat: &ResponseFormat{Type: "json_schema", JSONSchema: testSchema},
	}
}

func TestOpenAIChat_StructuredSuccess(t *testing.T) {
	srv := &chatServer{t: t, replies: []string{`{"a.pptx":{"report_title":"T"}}`}}
	server := httptest.NewServer(srv)
	defer server.Close()

	result, err := newTestClient(server.URL, 1).Chat(context.Background(), structuredRequest())
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !result.Success || result.Attempts != 1 {
		t.Fatalf("unexpected result: success=%v attempts=%d", result.Success, result.Attempts)
	}
	if result.TotalTokens != 15 || result.ModelUsed != "gpt-5-mini-2025" {
		t.Errorf("unexpected usage/model: %d %q", result.TotalTokens, result.ModelUsed)
	}
	if string(result.ParsedJSON) != `{"a.pptx":{"report_title":"T"}}` {
		t.Errorf("ParsedJSON = %s", result.ParsedJSON)
	}

	payload := srv.requests()[0]
	if got, _ := payload["model"].(string); got != "gpt-5-mini" {
		t.Errorf("model = %q", got)
	}
	rf, _ := payload["response_format"].(map[string]any)
	if got, _ := rf["type"].(string); got != "json_schema" {
		t.Errorf("response_format.type = %q", got)
	}
	js, _ := rf["json_schema"].(map[string]any)
	if got, _ := js["name"].(string); got != "audit_report_batch" {
		t.Errorf("json_schema.name = %q", got)
	}
	if strict, _ := js["strict"].(bool); !strict {
		t.Error("expected strict schema")
	}
	if msgs, _ := payload["messages"].([]any); len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %d", len(msgs))
	}
}

func TestOpenAIChat_RepairsInvalidOutput(t *testing.T) {
	srv := &chatServer{t: t, replies: []string{
		"Here you go:\n```json\n{\"b.pptx\": {}}\n```",
		`{"a.pptx":{}}`,
	}}
	server := httptest.NewServer(srv)
	defer server.Close()

	result, err := newTestClient(server.URL, 1).Chat(context.Background(), structuredRequest())
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if result.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", result.Attempts)
	}
	if result.ErrorType != "" {
		t.Errorf("ErrorType = %q, want empty after repair", result.ErrorType)
	}
	if result.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want usage summed over attempts", result.TotalTokens)
	}

	reqs := srv.requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	msgs, _ := reqs[1]["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("repair request should carry 4 messages, got %d", len(msgs))
	}
	last, _ := msgs[3].(map[string]any)
	if role, _ := last["role"].(string); role != "user" {
		t.Errorf("repair message role = %q", role)
	}
}

func TestOpenAIChat_SchemaMismatchWithoutRepair(t *testing.T) {
	srv := &chatServer{t: t, replies: []string{`{"a.pptx":{},"extra.pptx":{},}`}}
	server := httptest.NewServer(srv)
	defer server.Close()

	result, err := newTestClient(server.URL, 0).Chat(context.Background(), structuredRequest())
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if result.ErrorType != ErrorTypeSchemaMismatch {
		t.Errorf("ErrorType = %q, want %q", result.ErrorType, ErrorTypeSchemaMismatch)
	}
	var parsed map[string]any
	if err := json.Unmarshal(result.ParsedJSON, &parsed); err != nil {
		t.Fatalf("ParsedJSON not decodable: %v", err)
	}
	if len(parsed) != 2 {
		t.Errorf("expected best-effort parse with 2 keys, got %v", parsed)
	}
	if len(srv.requests()) != 1 {
		t.Errorf("expected a single request with repair disabled")
	}
}

func TestOpenAIChat_Unparsable(t *testing.T) {
	srv := &chatServer{t: t, replies: []string{"I cannot help with that."}}
	server := httptest.NewServer(srv)
	defer server.Close()

	result, err := newTestClient(server.URL, 1).Chat(context.Background(), structuredRequest())
	if !errors.Is(err, ErrUnparsableOutput) {
		t.Fatalf("expected ErrUnparsableOutput, got %v", err)
	}
	if result.Success || result.ErrorType != ErrorTypeJSONParse {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
}

func TestOpenAIChat_PlainText(t *testing.T) {
	srv := &chatServer{t: t, replies: []string{"hello"}}
	server := httptest.NewServer(srv)
	defer server.Close()

	result, err := newTestClient(server.URL, 1).Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if result.Content != "hello" || result.ParsedJSON != nil {
		t.Errorf("unexpected result: %+v", result)
	}
	if _, ok := srv.requests()[0]["response_format"]; ok {
		t.Error("response_format should be omitted for plain chat")
	}
}

func TestOpenAIChat_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit","type":"rate_limit_error","param":"","code":"rate_limit"}}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL, 1).Chat(context.Background(), structuredRequest())
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	rle, ok := IsRateLimitError(err)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T: %v", err, err)
	}
	if rle.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rle.StatusCode)
	}
	if rle.RetryAfter != 3*time.Second || result.RetryAfter != 3*time.Second {
		t.Errorf("expected RetryAfter=3s, got %v / %v", rle.RetryAfter, result.RetryAfter)
	}
	if result.ErrorType != ErrorTypeRateLimit {
		t.Errorf("ErrorType = %q", result.ErrorType)
	}
}

func TestOpenAIChat_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL, 1).Chat(context.Background(), structuredRequest())
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if _, ok := IsRateLimitError(err); ok {
		t.Error("500 should not be a rate limit error")
	}
	if result.ErrorType != ErrorTypeHTTP {
		t.Errorf("ErrorType = %q", result.ErrorType)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"-1", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
