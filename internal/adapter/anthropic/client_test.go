package anthropic_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mhylle/multi-agent-coding-system/internal/adapter/anthropic"
	"github.com/mhylle/multi-agent-coding-system/internal/port/llm"
)

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := anthropic.NewClient(anthropic.Config{}); !errors.Is(err, anthropic.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "sk-test" {
			t.Errorf("api key header = %q", r.Header.Get("X-Api-Key"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["model"] != "claude-test" {
			t.Errorf("model = %v", body["model"])
		}
		if system, _ := body["system"].([]any); len(system) != 1 {
			t.Errorf("system = %v", body["system"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "{\"ok\":"}, {"type": "text", "text": "true}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 11, "output_tokens": 3}
		}`))
	}))
	defer srv.Close()

	c, err := anthropic.NewClient(anthropic.Config{
		APIKey:       "sk-test",
		BaseURL:      srv.URL,
		DefaultModel: "claude-test",
		Timeout:      time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := c.Generate(context.Background(), llm.Request{Prompt: "hi", SystemPrompt: "sys", MaxTokens: 64})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != `{"ok":true}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 14 || resp.Provider != anthropic.ProviderName {
		t.Errorf("response = %+v", resp)
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`))
	}))
	defer srv.Close()

	c, err := anthropic.NewClient(anthropic.Config{APIKey: "sk-bad", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Generate(context.Background(), llm.Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected error")
	}
}
