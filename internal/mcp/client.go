package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "OpenMCP-Pay/internal/errors"
)

const (
	defaultTimeout = 30 * time.Second
)

// Config 描述远端 MCP 服务的连接信息。
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Tool 是远端服务声明的一个工具。
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ContentItem 是工具调用结果中的单个内容项。
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult 是一次 tools/call 的结果。
type CallResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError"`
}

// Text 拼接结果中全部文本内容。
func (r *CallResult) Text() string {
	if r == nil {
		return ""
	}
	var out strings.Builder
	for _, item := range r.Content {
		if item.Type == "text" {
			out.WriteString(item.Text)
		}
	}
	return out.String()
}

// Client 通过 HTTP 调用远端 MCP 服务。
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient 根据配置创建 MCP 客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("未提供 MCP 服务地址")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// ListTools 拉取远端工具清单。
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var decoded struct {
		Tools []Tool `json:"tools"`
	}
	if err := c.post(ctx, "tools/list", nil, &decoded); err != nil {
		return nil, err
	}
	return decoded.Tools, nil
}

// CallTool 调用远端工具。远端以 isError 标记的失败同样以错误返回。
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*CallResult, error) {
	params := map[string]any{
		"name":      name,
		"arguments": arguments,
	}
	var result CallResult
	if err := c.post(ctx, "tools/call", params, &result); err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, apperrors.New(apperrors.CodeToolFailure, result.Text(),
			apperrors.WithMetadata("tool", name))
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, method string, params map[string]any, out any) error {
	body := map[string]any{"method": method}
	if params != nil {
		body["params"] = params
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化 MCP 请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构建 MCP 请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeToolFailure, err, "请求 MCP 服务失败",
			apperrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return apperrors.New(apperrors.CodeToolFailure,
			fmt.Sprintf("MCP 服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidResponse, err, "解析 MCP 响应失败")
	}
	return nil
}
