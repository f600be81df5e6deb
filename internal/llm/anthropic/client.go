package anthropic

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
	"OpenMCP-Pay/internal/llm"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultModelName = "claude-sonnet-4-20250514"
	defaultVersion   = "2023-06-01"
	defaultMaxTokens = 2048
	defaultTimeout   = 120 * time.Second

	// Anthropic 使用 529 表示服务过载。
	statusOverloaded = 529
)

// Config 描述了调用 Anthropic Messages API 所需的信息。
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Version   string
	MaxTokens int
	Timeout   time.Duration
}

// Client 通过 HTTP 调用 Anthropic 提供的大模型能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	version    string
	maxTokens  int
	httpClient *http.Client
}

// NewClient 根据配置创建 Anthropic 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Anthropic API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = defaultVersion
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:    apiKey,
		baseURL:   baseURL,
		model:     model,
		version:   version,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Generate 调用 Messages API 并返回助手消息的全部内容块。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 Anthropic 请求失败: %w", err)
	}

	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", c.version)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLLMFailure, err, "请求 Anthropic 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeAPIError(resp)
	}

	var decoded struct {
		Content    []llm.ContentBlock `json:"content"`
		StopReason string             `json:"stop_reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidResponse, err, "解析 Anthropic 响应失败")
	}
	if len(decoded.Content) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidResponse, "Anthropic 响应中没有内容块")
	}

	return &llm.Response{
		Content:    decoded.Content,
		StopReason: decoded.StopReason,
	}, nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var decoded struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &decoded)

	if resp.StatusCode == statusOverloaded || decoded.Error.Type == "overloaded_error" {
		return apperrors.New(apperrors.CodeLLMOverloaded, "Anthropic 服务过载",
			apperrors.WithMetadata("status", fmt.Sprintf("%d", resp.StatusCode)))
	}

	message := strings.TrimSpace(decoded.Error.Message)
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	return apperrors.New(apperrors.CodeLLMFailure,
		fmt.Sprintf("Anthropic 返回错误状态 %d: %s", resp.StatusCode, message))
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	body := map[string]any{
		"model":      c.model,
		"max_tokens": maxTokens,
		"messages":   req.Messages,
	}
	if strings.TrimSpace(req.System) != "" {
		body["system"] = req.System
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 Anthropic 请求失败: %w", err)
	}
	return encoded, nil
}
