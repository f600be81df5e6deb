package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "OpenMCP-Pay/internal/errors"
	"OpenMCP-Pay/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestGenerateSuccess(t *testing.T) {
	var captured struct {
		APIKey  string
		Version string
		Body    map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.APIKey = r.Header.Get("x-api-key")
		captured.Version = r.Header.Get("anthropic-version")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "你好，"},
				{"type": "tool_use", "id": "toolu_01", "name": "get_user_balance", "input": map[string]any{}},
			},
			"stop_reason": "tool_use",
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{
		System:   "system prompt",
		Messages: []llm.Message{llm.UserMessage("查余额")},
		Tools: []llm.ToolDescriptor{
			{Name: "get_user_balance", Description: "查询余额", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Text() != "你好，" {
		t.Fatalf("unexpected text: %q", resp.Text())
	}
	uses := resp.ToolUses()
	if len(uses) != 1 || uses[0].Name != "get_user_balance" || uses[0].ID != "toolu_01" {
		t.Fatalf("unexpected tool uses: %+v", uses)
	}
	if resp.StopReason != "tool_use" {
		t.Fatalf("unexpected stop reason: %q", resp.StopReason)
	}

	if captured.APIKey != "test" {
		t.Fatalf("api key header missing: %q", captured.APIKey)
	}
	if captured.Version == "" {
		t.Fatalf("version header missing")
	}
	if captured.Body["system"] != "system prompt" {
		t.Fatalf("system field missing in request")
	}
	if _, ok := captured.Body["tools"]; !ok {
		t.Fatalf("tools field missing in request")
	}
}

func TestGenerateOverloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusOverloaded)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "overloaded_error", "message": "Overloaded"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	_, err = client.Generate(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
	if apperrors.CodeOf(err) != apperrors.CodeLLMOverloaded {
		t.Fatalf("expected LLM_OVERLOADED, got %v", err)
	}
	if !apperrors.RetryableError(err) {
		t.Fatalf("expected overloaded error to be retryable")
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	_, err = client.Generate(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
	if err == nil {
		t.Fatalf("expected error when http status is not success")
	}
	if apperrors.RetryableError(err) {
		t.Fatalf("expected 400 error to be non-retryable")
	}
}
