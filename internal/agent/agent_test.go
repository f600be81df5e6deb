package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	apperrors "OpenMCP-Pay/internal/errors"
	"OpenMCP-Pay/internal/llm"
	"OpenMCP-Pay/internal/retry"
)

type stubLLM struct {
	responses []*llm.Response
	errs      []error
	calls     int
	requests  []llm.Request
}

func (s *stubLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx < len(s.responses) && s.responses[idx] != nil {
		return s.responses[idx], nil
	}
	if len(s.responses) > 0 {
		return s.responses[len(s.responses)-1], nil
	}
	return &llm.Response{Content: []llm.ContentBlock{llm.TextBlock("done")}}, nil
}

type stubRouter struct {
	manifest   []llm.ToolDescriptor
	dispatch   func(name string, input json.RawMessage) (string, error)
	dispatched []string
}

func (s *stubRouter) Manifest() []llm.ToolDescriptor {
	return s.manifest
}

func (s *stubRouter) Dispatch(_ context.Context, _, name string, input json.RawMessage) (string, error) {
	s.dispatched = append(s.dispatched, name)
	if s.dispatch != nil {
		return s.dispatch(name, input)
	}
	return "result-" + name, nil
}

func noDelayPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Sleep: func(context.Context, time.Duration) error {
			return nil
		},
	}
}

func textResponse(texts ...string) *llm.Response {
	blocks := make([]llm.ContentBlock, 0, len(texts))
	for _, text := range texts {
		blocks = append(blocks, llm.TextBlock(text))
	}
	return &llm.Response{Content: blocks, StopReason: "end_turn"}
}

func toolUseResponse(blocks ...llm.ContentBlock) *llm.Response {
	return &llm.Response{Content: blocks, StopReason: "tool_use"}
}

func toolUse(id, name string) llm.ContentBlock {
	return llm.ContentBlock{
		Type:  llm.BlockTypeToolUse,
		ID:    id,
		Name:  name,
		Input: json.RawMessage(`{}`),
	}
}

func TestRunReturnsTextWithoutToolCalls(t *testing.T) {
	client := &stubLLM{responses: []*llm.Response{textResponse("Hello", "world")}}
	router := &stubRouter{}
	ag := New(client, router, WithRetryPolicy(noDelayPolicy()))

	out, err := ag.Run(context.Background(), "hi", AccountContext{Identity: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Hello\nworld" {
		t.Fatalf("unexpected output: %q", out)
	}
	if client.calls != 1 {
		t.Fatalf("expected single model call, got %d", client.calls)
	}
	if len(client.requests[0].Messages) != 1 {
		t.Fatalf("expected conversation of 1 message, got %d", len(client.requests[0].Messages))
	}
	if len(router.dispatched) != 0 {
		t.Fatalf("no tools should run, got %v", router.dispatched)
	}
}

func TestRunRejectsEmptyQuery(t *testing.T) {
	ag := New(&stubLLM{}, &stubRouter{}, WithRetryPolicy(noDelayPolicy()))
	if _, err := ag.Run(context.Background(), "  ", AccountContext{}); err == nil {
		t.Fatalf("expected error for empty query")
	}
}

func TestRunProcessesToolCallsInOrder(t *testing.T) {
	client := &stubLLM{responses: []*llm.Response{
		toolUseResponse(
			llm.TextBlock("let me check"),
			toolUse("call-1", "get_user_balance"),
			toolUse("call-2", "get_user_stats"),
		),
		textResponse("all done"),
	}}
	router := &stubRouter{}
	ag := New(client, router, WithRetryPolicy(noDelayPolicy()))

	out, err := ag.Run(context.Background(), "check my account", AccountContext{Identity: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "all done" {
		t.Fatalf("unexpected output: %q", out)
	}
	if len(router.dispatched) != 2 || router.dispatched[0] != "get_user_balance" || router.dispatched[1] != "get_user_stats" {
		t.Fatalf("tools not dispatched in request order: %v", router.dispatched)
	}

	// 第二轮会话：user + assistant + 两条 tool_result。
	second := client.requests[1].Messages
	if len(second) != 4 {
		t.Fatalf("expected 4 messages in second turn, got %d", len(second))
	}
	if second[1].Role != llm.RoleAssistant || len(second[1].Content) != 3 {
		t.Fatalf("assistant turn must carry the whole response: %+v", second[1])
	}
	first := second[2].Content[0]
	if first.Type != llm.BlockTypeToolResult || first.ToolUseID != "call-1" || first.Content != "result-get_user_balance" {
		t.Fatalf("unexpected first tool result: %+v", first)
	}
	next := second[3].Content[0]
	if next.ToolUseID != "call-2" {
		t.Fatalf("tool results out of order: %+v", next)
	}
}

func TestRunFlagsFailedToolResult(t *testing.T) {
	client := &stubLLM{responses: []*llm.Response{
		toolUseResponse(toolUse("call-1", "broken"), toolUse("call-2", "working")),
		textResponse("recovered"),
	}}
	router := &stubRouter{
		dispatch: func(name string, _ json.RawMessage) (string, error) {
			if name == "broken" {
				return "", apperrors.New(apperrors.CodeToolFailure, "boom")
			}
			return "ok", nil
		},
	}
	ag := New(client, router, WithRetryPolicy(noDelayPolicy()))

	out, err := ag.Run(context.Background(), "do things", AccountContext{Identity: "user-1"})
	if err != nil {
		t.Fatalf("a failing tool must not abort the loop: %v", err)
	}
	if out != "recovered" {
		t.Fatalf("unexpected output: %q", out)
	}

	second := client.requests[1].Messages
	errResult := second[2].Content[0]
	if !errResult.IsError || errResult.ToolUseID != "call-1" {
		t.Fatalf("expected error-flagged result for call-1: %+v", errResult)
	}
	okResult := second[3].Content[0]
	if okResult.IsError || okResult.Content != "ok" {
		t.Fatalf("unexpected second result: %+v", okResult)
	}
}

func TestRunStopsAtTurnBudget(t *testing.T) {
	loop := toolUseResponse(toolUse("call-1", "endless"))
	client := &stubLLM{responses: []*llm.Response{loop}}
	router := &stubRouter{}
	ag := New(client, router, WithRetryPolicy(noDelayPolicy()))

	out, err := ag.Run(context.Background(), "loop forever", AccountContext{Identity: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != TurnLimitMessage {
		t.Fatalf("unexpected output: %q", out)
	}
	if client.calls != 5 {
		t.Fatalf("expected exactly 5 model calls, got %d", client.calls)
	}
}

func TestRunRetriesOverloadedModel(t *testing.T) {
	overloaded := apperrors.New(apperrors.CodeLLMOverloaded, "")
	client := &stubLLM{
		errs:      []error{overloaded, overloaded, overloaded},
		responses: []*llm.Response{nil, nil, nil, textResponse("finally")},
	}
	ag := New(client, &stubRouter{}, WithRetryPolicy(noDelayPolicy()))

	out, err := ag.Run(context.Background(), "hi", AccountContext{Identity: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "finally" {
		t.Fatalf("unexpected output: %q", out)
	}
	if client.calls != 4 {
		t.Fatalf("expected 4 model calls, got %d", client.calls)
	}
}

func TestRunPropagatesExhaustedRetries(t *testing.T) {
	overloaded := apperrors.New(apperrors.CodeLLMOverloaded, "")
	client := &stubLLM{errs: []error{overloaded, overloaded, overloaded, overloaded, overloaded}}
	ag := New(client, &stubRouter{}, WithRetryPolicy(noDelayPolicy()))

	_, err := ag.Run(context.Background(), "hi", AccountContext{Identity: "user-1"})
	if apperrors.CodeOf(err) != apperrors.CodeRetriesExhausted {
		t.Fatalf("expected RETRIES_EXHAUSTED, got %v", err)
	}
	if client.calls != 4 {
		t.Fatalf("expected 4 model calls before giving up, got %d", client.calls)
	}
}

func TestRunPropagatesNonRetryableModelFailure(t *testing.T) {
	failure := apperrors.New(apperrors.CodeLLMFailure, "bad request")
	client := &stubLLM{errs: []error{failure}}
	ag := New(client, &stubRouter{}, WithRetryPolicy(noDelayPolicy()))

	_, err := ag.Run(context.Background(), "hi", AccountContext{Identity: "user-1"})
	if apperrors.CodeOf(err) != apperrors.CodeLLMFailure {
		t.Fatalf("expected LLM_FAILURE, got %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected single model call, got %d", client.calls)
	}
}

func TestSystemPromptCarriesAccountContext(t *testing.T) {
	client := &stubLLM{responses: []*llm.Response{textResponse("hi")}}
	router := &stubRouter{manifest: []llm.ToolDescriptor{
		{Name: "get_user_balance", Description: "查询余额"},
	}}
	ag := New(client, router, WithRetryPolicy(noDelayPolicy()))

	account := AccountContext{Identity: "user-1", Address: "addr-1", Balance: 42.5}
	if _, err := ag.Run(context.Background(), "hi", account); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	system := client.requests[0].System
	for _, fragment := range []string{"user-1", "addr-1", "42.5000", "get_user_balance"} {
		if !strings.Contains(system, fragment) {
			t.Fatalf("system prompt missing %q", fragment)
		}
	}
	if len(client.requests[0].Tools) != 1 {
		t.Fatalf("tool manifest not passed to the model")
	}
}
