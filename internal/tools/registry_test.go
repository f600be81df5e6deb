package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	apperrors "OpenMCP-Pay/internal/errors"
	"OpenMCP-Pay/internal/mcp"
)

type stubRemote struct {
	tools    []mcp.Tool
	listErr  error
	lastName string
	lastArgs map[string]any
	result   *mcp.CallResult
	callErr  error
}

func (s *stubRemote) ListTools(context.Context) ([]mcp.Tool, error) {
	return s.tools, s.listErr
}

func (s *stubRemote) CallTool(_ context.Context, name string, args map[string]any) (*mcp.CallResult, error) {
	s.lastName = name
	s.lastArgs = args
	if s.callErr != nil {
		return nil, s.callErr
	}
	if s.result != nil {
		return s.result, nil
	}
	return &mcp.CallResult{Content: []mcp.ContentItem{{Type: "text", Text: "remote-result"}}}, nil
}

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echo tool",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				identityArgument: {Type: "string"},
			},
			Required: []string{identityArgument},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	}
}

func TestManifestLocalWinsCollision(t *testing.T) {
	remote := &stubRemote{tools: []mcp.Tool{
		{Name: "get_balance", Description: "remote balance"},
		{Name: "echo", Description: "remote echo"},
	}}
	registry, err := NewRegistry(remote, []*Tool{echoTool("echo"), echoTool("ping")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := registry.RefreshRemote(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	manifest := registry.Manifest()
	if len(manifest) != 3 {
		t.Fatalf("expected 3 manifest entries, got %d", len(manifest))
	}
	seen := make(map[string]int)
	for _, entry := range manifest {
		seen[entry.Name]++
	}
	if seen["echo"] != 1 {
		t.Fatalf("colliding name must appear exactly once, got %d", seen["echo"])
	}
	// 本地工具排在前面。
	if manifest[0].Name != "echo" || manifest[0].Description != "echo tool" {
		t.Fatalf("local version must win the collision: %+v", manifest[0])
	}
}

func TestManifestTruncatesDescriptions(t *testing.T) {
	long := strings.Repeat("x", 500)
	remote := &stubRemote{tools: []mcp.Tool{{Name: "verbose", Description: long}}}
	registry, err := NewRegistry(remote, []*Tool{{
		Name:        "local_verbose",
		Description: long,
		Handler:     func(context.Context, map[string]any) (any, error) { return nil, nil },
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := registry.RefreshRemote(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, entry := range registry.Manifest() {
		if len(entry.Description) > maxDescriptionLength {
			t.Fatalf("description of %s not truncated: %d chars", entry.Name, len(entry.Description))
		}
	}
}

func TestTruncateDescriptionKeepsRuneBoundary(t *testing.T) {
	long := strings.Repeat("转账并收费。", 20)
	if len(long) <= maxDescriptionLength {
		t.Fatalf("fixture must exceed the truncation length, got %d bytes", len(long))
	}

	got := truncateDescription(long)
	if len(got) > maxDescriptionLength {
		t.Fatalf("description not truncated: %d bytes", len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncated description is not valid UTF-8: %q", got)
	}
	if !strings.HasPrefix(long, got) {
		t.Fatalf("truncated description must be a prefix of the original")
	}
}

func TestDispatchInjectsIdentity(t *testing.T) {
	registry, err := NewRegistry(nil, []*Tool{echoTool("echo")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := registry.Dispatch(context.Background(), "user-1", "echo", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var echoed map[string]any
	if err := json.Unmarshal([]byte(out), &echoed); err != nil {
		t.Fatalf("unexpected output: %q", out)
	}
	if echoed[identityArgument] != "user-1" {
		t.Fatalf("identity not injected: %+v", echoed)
	}

	// 参数中已有身份时不覆盖。
	out, err = registry.Dispatch(context.Background(), "user-1", "echo",
		json.RawMessage(`{"user_id":"explicit"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = json.Unmarshal([]byte(out), &echoed)
	if echoed[identityArgument] != "explicit" {
		t.Fatalf("explicit identity must be preserved: %+v", echoed)
	}
}

func TestDispatchFallsBackToRemote(t *testing.T) {
	remote := &stubRemote{}
	registry, err := NewRegistry(remote, []*Tool{echoTool("echo")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := registry.Dispatch(context.Background(), "user-1", "get_balance",
		json.RawMessage(`{"address":"addr1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "remote-result" {
		t.Fatalf("unexpected output: %q", out)
	}
	if remote.lastName != "get_balance" {
		t.Fatalf("call not forwarded: %q", remote.lastName)
	}
	if remote.lastArgs["address"] != "addr1" {
		t.Fatalf("arguments not forwarded verbatim: %+v", remote.lastArgs)
	}
	if _, ok := remote.lastArgs[identityArgument]; ok {
		t.Fatalf("identity must not be injected into remote calls: %+v", remote.lastArgs)
	}
}

func TestDispatchUnknownToolWithoutRemote(t *testing.T) {
	registry, err := NewRegistry(nil, []*Tool{echoTool("echo")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.Dispatch(context.Background(), "user-1", "nope", nil); err == nil {
		t.Fatalf("expected error for unknown tool")
	}
}

func TestDispatchValidatesSchema(t *testing.T) {
	tool := &Tool{
		Name:        "typed",
		Description: "typed tool",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				identityArgument: {Type: "string"},
				"amount":         {Type: "string"},
			},
			Required: []string{identityArgument, "amount"},
		},
		Handler: func(context.Context, map[string]any) (any, error) { return "ok", nil },
	}
	registry, err := NewRegistry(nil, []*Tool{tool})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := registry.Dispatch(context.Background(), "user-1", "typed", json.RawMessage(`{}`)); apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for missing field, got %v", err)
	}
	if _, err := registry.Dispatch(context.Background(), "user-1", "typed",
		json.RawMessage(`{"amount":40}`)); apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for wrong type, got %v", err)
	}
	if out, err := registry.Dispatch(context.Background(), "user-1", "typed",
		json.RawMessage(`{"amount":"40"}`)); err != nil || out != "ok" {
		t.Fatalf("unexpected result: %q %v", out, err)
	}
}

func TestRefreshRemoteKeepsOldListOnFailure(t *testing.T) {
	remote := &stubRemote{tools: []mcp.Tool{{Name: "get_balance"}}}
	registry, err := NewRegistry(remote, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := registry.RefreshRemote(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	remote.listErr = apperrors.New(apperrors.CodeToolFailure, "down")
	if err := registry.RefreshRemote(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if len(registry.Manifest()) != 1 {
		t.Fatalf("previous manifest must survive a failed refresh")
	}
}
