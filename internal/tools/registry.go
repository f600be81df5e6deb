package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	apperrors "OpenMCP-Pay/internal/errors"
	"OpenMCP-Pay/internal/llm"
	"OpenMCP-Pay/internal/mcp"
	"OpenMCP-Pay/pkg/logger"
)

// maxDescriptionLength 是工具描述进入模型清单前的截断长度，用于控制提示词体积。
const maxDescriptionLength = 200

// identityArgument 是本地工具统一的身份参数名。
// 其值始终来自已认证的请求上下文，模型无法凭空注入其他身份。
const identityArgument = "user_id"

// Handler 是本地工具的执行函数。
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Property 描述输入参数的类型与用途。
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema 是工具输入的 JSON Schema 描述。
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Tool 是注册表中的一个本地工具。
type Tool struct {
	Name        string
	Description string
	InputSchema Schema
	Handler     Handler
}

// RemoteCaller 抽象远端协议服务。
type RemoteCaller interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallResult, error)
}

// Registry 维护本地与远端工具的统一视图。
// 名称冲突时本地工具优先，分发时也先匹配本地。
type Registry struct {
	caller RemoteCaller

	mu     sync.RWMutex
	local  []*Tool
	byName map[string]*Tool
	remote []mcp.Tool
}

// NewRegistry 创建注册表并注册本地工具。
func NewRegistry(caller RemoteCaller, local []*Tool) (*Registry, error) {
	r := &Registry{
		caller: caller,
		byName: make(map[string]*Tool),
	}
	for _, tool := range local {
		if tool == nil || strings.TrimSpace(tool.Name) == "" {
			return nil, fmt.Errorf("本地工具缺少名称")
		}
		if _, ok := r.byName[tool.Name]; ok {
			return nil, fmt.Errorf("本地工具名称重复: %s", tool.Name)
		}
		r.local = append(r.local, tool)
		r.byName[tool.Name] = tool
	}
	return r, nil
}

// RefreshRemote 拉取远端工具清单。远端不可用时保留上一次的清单。
func (r *Registry) RefreshRemote(ctx context.Context) error {
	if r.caller == nil {
		return nil
	}
	remote, err := r.caller.ListTools(ctx)
	if err != nil {
		logger.Named("tools").Warn("拉取远端工具清单失败", "error", err)
		return err
	}
	r.mu.Lock()
	r.remote = remote
	r.mu.Unlock()
	logger.Named("tools").Info("远端工具清单已更新", "count", len(remote))
	return nil
}

// Manifest 生成提供给模型的完整工具清单。
// 本地工具在前；与本地同名的远端工具被剔除，保证名称全局唯一。
func (r *Registry) Manifest() []llm.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	manifest := make([]llm.ToolDescriptor, 0, len(r.local)+len(r.remote))
	for _, tool := range r.local {
		schema, _ := json.Marshal(tool.InputSchema)
		manifest = append(manifest, llm.ToolDescriptor{
			Name:        tool.Name,
			Description: truncateDescription(tool.Description),
			InputSchema: schema,
		})
	}
	for _, tool := range r.remote {
		if _, ok := r.byName[tool.Name]; ok {
			continue
		}
		schema := tool.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		manifest = append(manifest, llm.ToolDescriptor{
			Name:        tool.Name,
			Description: truncateDescription(tool.Description),
			InputSchema: schema,
		})
	}
	return manifest
}

// Dispatch 执行一次工具调用并返回文本结果。
// 本地工具先按 schema 校验参数并注入请求者身份；
// 未注册为本地的名称原样转发远端，只保留远端结果的文本内容。
func (r *Registry) Dispatch(ctx context.Context, identity, name string, input json.RawMessage) (string, error) {
	args := make(map[string]any)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return "", apperrors.Wrap(apperrors.CodeInvalidArgument, err, "工具参数不是合法的 JSON 对象")
		}
	}

	r.mu.RLock()
	tool, isLocal := r.byName[name]
	r.mu.RUnlock()

	if isLocal {
		if _, ok := args[identityArgument]; !ok {
			args[identityArgument] = identity
		}
		if err := validateArgs(tool.InputSchema, args); err != nil {
			return "", err
		}
		result, err := tool.Handler(ctx, args)
		if err != nil {
			return "", err
		}
		return encodeResult(result)
	}

	if r.caller == nil {
		return "", apperrors.New(apperrors.CodeToolFailure, "未知工具: "+name)
	}
	result, err := r.caller.CallTool(ctx, name, args)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

func encodeResult(result any) (string, error) {
	switch typed := result.(type) {
	case string:
		return typed, nil
	default:
		encoded, err := json.Marshal(result)
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeToolFailure, err, "序列化工具结果失败")
		}
		return string(encoded), nil
	}
}

func validateArgs(schema Schema, args map[string]any) error {
	for _, required := range schema.Required {
		if _, ok := args[required]; !ok {
			return apperrors.New(apperrors.CodeInvalidArgument, "缺少必填参数: "+required)
		}
	}
	for key, value := range args {
		prop, ok := schema.Properties[key]
		if !ok {
			continue
		}
		if !matchesType(prop.Type, value) {
			return apperrors.New(apperrors.CodeInvalidArgument,
				fmt.Sprintf("参数 %s 类型应为 %s", key, prop.Type))
		}
	}
	return nil
}

func matchesType(expected string, value any) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		_, ok := value.(float64)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	default:
		return true
	}
}

// truncateDescription 截断过长的工具描述，且不会切断多字节字符。
func truncateDescription(description string) string {
	if len(description) <= maxDescriptionLength {
		return description
	}
	cut := maxDescriptionLength
	for cut > 0 && !utf8.RuneStart(description[cut]) {
		cut--
	}
	return description[:cut]
}
