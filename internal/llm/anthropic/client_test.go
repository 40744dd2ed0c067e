package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/L7Shift/l7shift-website-sub000/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestGenerateConvertsConversation(t *testing.T) {
	var captured struct {
		Path   string
		APIKey string
		Body   map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.APIKey = r.Header.Get("X-Api-Key")
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [
				{"type": "text", "text": "The task moved to done."},
				{"type": "tool_use", "id": "toolu_1", "name": "log_activity", "input": {"action": "task_completed", "description": "t1 done"}}
			],
			"stop_reason": "tool_use",
			"stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL, Timeout: time.Second, MaxRetries: -1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := client.Generate(context.Background(), llm.Request{
		System: "policy",
		Messages: []llm.Message{
			llm.UserMessage(`UPDATE on "tasks"`),
			{Role: llm.RoleAssistant, Text: "Thinking", ToolCalls: []llm.ToolCall{{ID: "toolu_0", Name: "think", Arguments: map[string]any{"thought": "x"}}}},
			{Role: llm.RoleTool, ToolResults: []llm.ToolResult{{CallID: "toolu_0", Content: `{"error":"Unknown tool: x"}`, IsError: true}}},
		},
		Tools: []llm.Tool{{
			Name:        "think",
			Description: "reason",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"thought": map[string]any{"type": "string"}},
				"required":   []any{"thought"},
			},
		}},
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.StopReason != llm.StopToolUse {
		t.Fatalf("unexpected stop reason: %s", resp.StopReason)
	}
	if len(resp.Texts) != 1 || resp.Texts[0] != "The task moved to done." {
		t.Fatalf("unexpected texts: %v", resp.Texts)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "toolu_1" || resp.ToolCalls[0].Arguments["action"] != "task_completed" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}

	if captured.Path != "/v1/messages" {
		t.Fatalf("unexpected path: %s", captured.Path)
	}
	if captured.APIKey != "sk-test" {
		t.Fatalf("unexpected api key header: %q", captured.APIKey)
	}
	if captured.Body["max_tokens"] != float64(256) {
		t.Fatalf("unexpected max_tokens: %v", captured.Body["max_tokens"])
	}
	messages, _ := captured.Body["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("expected three messages, got %d", len(messages))
	}
	last := messages[2].(map[string]any)
	content := last["content"].([]any)[0].(map[string]any)
	if last["role"] != "user" || content["type"] != "tool_result" || content["tool_use_id"] != "toolu_0" {
		t.Fatalf("tool results must be sent back as a user message: %v", last)
	}
	if content["is_error"] != true {
		t.Fatalf("is_error flag must be forwarded: %v", content)
	}
	parts, _ := content["content"].([]any)
	if len(parts) != 1 {
		t.Fatalf("expected one text part in the tool result: %v", content)
	}
	part := parts[0].(map[string]any)
	if part["type"] != "text" || part["text"] != `{"error":"Unknown tool: x"}` {
		t.Fatalf("tool result content must be forwarded verbatim: %v", part)
	}
	tools := captured.Body["tools"].([]any)
	schema := tools[0].(map[string]any)["input_schema"].(map[string]any)
	if req, _ := schema["required"].([]any); len(req) != 1 || req[0] != "thought" {
		t.Fatalf("required fields must be forwarded: %v", schema)
	}
}

func TestGenerateEndTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_2","type":"message","role":"assistant","model":"m","content":[{"type":"text","text":"Done."}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL, MaxRetries: -1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := client.Generate(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StopReason != llm.StopCompleted || len(resp.ToolCalls) != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL, MaxRetries: -1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.Generate(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}}); err == nil {
		t.Fatalf("expected error on 400 response")
	}
}

func TestGenerateKeepsToolCallWithMalformedInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_3","type":"message","role":"assistant","model":"m","content":[{"type":"tool_use","id":"toolu_9","name":"query_records","input":[1,2]}],"stop_reason":"tool_use","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL, MaxRetries: -1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := client.Generate(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
	if err != nil {
		t.Fatalf("malformed tool input must not abort the run: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "query_records" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if args := resp.ToolCalls[0].Arguments; args == nil || len(args) != 0 {
		t.Fatalf("expected empty arguments, got %v", args)
	}
}
