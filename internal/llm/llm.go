package llm

import (
	"context"
	"encoding/json"
)

// 内容块类型。
const (
	BlockTypeText       = "text"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// 对话角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentBlock 是模型消息中的单个内容块。
// Type 为 text 时使用 Text；为 tool_use 时使用 ID/Name/Input；
// 为 tool_result 时使用 ToolUseID/Content/IsError。
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// TextBlock 构造纯文本内容块。
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// ToolResultBlock 构造与一次工具调用对应的结果块。
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{
		Type:      BlockTypeToolResult,
		ToolUseID: toolUseID,
		Content:   content,
		IsError:   isError,
	}
}

// Message 是对话中的一条消息。
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserMessage 构造单个文本块的用户消息。
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// ToolDescriptor 描述提供给模型的一个工具。
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request 是一次模型调用的完整输入。
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolDescriptor
	MaxTokens int
}

// Response 是模型返回的一条助手消息。
type Response struct {
	Content    []ContentBlock
	StopReason string
}

// Text 拼接响应中全部文本块。
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	var out string
	for _, block := range r.Content {
		if block.Type == BlockTypeText {
			out += block.Text
		}
	}
	return out
}

// ToolUses 返回响应中的全部工具调用块，保持原始顺序。
func (r *Response) ToolUses() []ContentBlock {
	if r == nil {
		return nil
	}
	var uses []ContentBlock
	for _, block := range r.Content {
		if block.Type == BlockTypeToolUse {
			uses = append(uses, block)
		}
	}
	return uses
}

// AssistantMessage 将响应内容原样转为一条助手消息，供下一轮对话使用。
func (r *Response) AssistantMessage() Message {
	return Message{Role: RoleAssistant, Content: r.Content}
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
