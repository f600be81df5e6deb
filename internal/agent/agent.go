package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	xerrors "OpenMCP-Pay/internal/errors"
	"OpenMCP-Pay/internal/llm"
	"OpenMCP-Pay/internal/retry"
	"OpenMCP-Pay/pkg/logger"
)

// TurnLimitMessage 是达到轮次上限时返回的固定回复。
const TurnLimitMessage = "I've reached my processing limit. Please try asking your question differently."

// defaultMaxTurns 是一次请求允许的最大模型调用轮数，防止工具调用链失控。
const defaultMaxTurns = 5

// AccountContext 是注入系统提示词的账户上下文。
// Identity 始终来自已认证的请求，不由模型提供。
type AccountContext struct {
	Identity string
	Address  string
	Balance  float64
}

// ToolRouter 抽象工具清单与分发能力。
type ToolRouter interface {
	Manifest() []llm.ToolDescriptor
	Dispatch(ctx context.Context, identity, name string, input json.RawMessage) (string, error)
}

// Agent 驱动一次有界的多轮工具调用会话，是系统的业务核心。
type Agent struct {
	llmClient llm.Client
	router    ToolRouter
	maxTurns  int
	retry     retry.Policy
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithMaxTurns 设置单次请求允许的最大模型调用轮数。
func WithMaxTurns(turns int) Option {
	return func(a *Agent) {
		a.maxTurns = turns
	}
}

// WithRetryPolicy 覆盖模型过载时的重试策略。
func WithRetryPolicy(policy retry.Policy) Option {
	return func(a *Agent) {
		a.retry = policy
	}
}

// New 创建一个 Agent。
func New(llmClient llm.Client, router ToolRouter, opts ...Option) *Agent {
	ag := &Agent{
		llmClient: llmClient,
		router:    router,
		maxTurns:  defaultMaxTurns,
		retry:     retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.maxTurns <= 0 {
		ag.maxTurns = defaultMaxTurns
	}
	return ag
}

// Run 执行一次完整的会话：用户提问进入，最终文本回复返回。
// 每一轮把完整工具清单和会话状态交给模型；模型不再请求工具时立即返回；
// 轮次耗尽时返回固定的上限提示。
func (a *Agent) Run(ctx context.Context, query string, account AccountContext) (string, error) {
	if a.llmClient == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if a.router == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置工具注册表")
	}
	if strings.TrimSpace(query) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "用户提问不能为空")
	}

	log := logger.Named("agent")
	conversation := []llm.Message{llm.UserMessage(query)}
	manifest := a.router.Manifest()
	system := buildSystemPrompt(account, manifest)

	for turn := 0; turn < a.maxTurns; turn++ {
		response, err := a.invokeModel(ctx, llm.Request{
			System:   system,
			Messages: conversation,
			Tools:    manifest,
		})
		if err != nil {
			return "", err
		}

		toolUses := response.ToolUses()
		if len(toolUses) == 0 {
			log.Info("会话正常结束", "identity", account.Identity, "turns", turn+1)
			return joinTextBlocks(response), nil
		}

		// 整条助手消息原样入会话，保证模型自身的一轮保持完整。
		conversation = append(conversation, response.AssistantMessage())

		// 按模型请求的顺序逐个执行，每个调用恰好对应一条结果。
		for _, use := range toolUses {
			started := time.Now()
			content, err := a.router.Dispatch(ctx, account.Identity, use.Name, use.Input)
			if err != nil {
				log.Warn("工具执行失败",
					"tool", use.Name, "identity", account.Identity, "error", err)
				conversation = append(conversation, llm.Message{
					Role: llm.RoleUser,
					Content: []llm.ContentBlock{
						llm.ToolResultBlock(use.ID, fmt.Sprintf("Error calling tool: %v", err), true),
					},
				})
				continue
			}
			log.Info("工具执行完成",
				"tool", use.Name, "identity", account.Identity,
				"elapsed", time.Since(started).String())
			conversation = append(conversation, llm.Message{
				Role: llm.RoleUser,
				Content: []llm.ContentBlock{
					llm.ToolResultBlock(use.ID, content, false),
				},
			})
		}
	}

	log.Warn("达到轮次上限", "identity", account.Identity, "max_turns", a.maxTurns)
	return TurnLimitMessage, nil
}

// invokeModel 调用模型，过载信号按指数退避重试。
func (a *Agent) invokeModel(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var response *llm.Response
	err := a.retry.Do(ctx, "invoke_model", func(ctx context.Context) error {
		var err error
		response, err = a.llmClient.Generate(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func joinTextBlocks(response *llm.Response) string {
	var parts []string
	for _, block := range response.Content {
		if block.Type == llm.BlockTypeText {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func buildSystemPrompt(account AccountContext, manifest []llm.ToolDescriptor) string {
	var builder strings.Builder
	builder.WriteString("You are an AI agent with access to Amadeus blockchain tools AND user account tools.\n\n")

	builder.WriteString("CURRENT USER CONTEXT:\n")
	builder.WriteString(fmt.Sprintf("- User ID: %s\n", account.Identity))
	builder.WriteString(fmt.Sprintf("- Wallet Address: %s\n", account.Address))
	builder.WriteString(fmt.Sprintf("- Current Balance: %.4f AMA\n\n", account.Balance))

	builder.WriteString("Available tools:\n")
	for _, tool := range manifest {
		builder.WriteString(fmt.Sprintf("- %s: %s\n", tool.Name, tool.Description))
	}
	builder.WriteString("\n")

	builder.WriteString("CRITICAL PAYMENT TOOLS:\n")
	builder.WriteString("- validate_balance_for_transfer: Check if user has funds for fee + transfer\n")
	builder.WriteString("- transfer_with_fee: Execute fee + transfer in ONE BATCH. ONLY after validation confirms sufficient.\n\n")

	builder.WriteString("WORKFLOW FOR TRANSFERS:\n")
	builder.WriteString("1. Call validate_balance_for_transfer(user_id, amount)\n")
	builder.WriteString("2. If sufficient: Call transfer_with_fee(user_id, recipient, amount) - handles EVERYTHING\n")
	builder.WriteString("3. If insufficient: Tell user they need more funds\n\n")

	builder.WriteString("Do NOT use \"create_transaction\" or \"transfer_ama\" for transfers. Use transfer_with_fee for batch execution.\n")
	builder.WriteString("When user asks \"my balance\" or \"my wallet\", use get_user_balance.\n")
	builder.WriteString("When user asks \"my stats\" or \"my info\", use get_user_stats.\n")
	builder.WriteString("Always pass the user's user_id when using account tools.\n\n")

	builder.WriteString("RESPONSE FORMATTING (CRITICAL):\n")
	builder.WriteString("SUCCESS transfers: \"✅ Sent X AMA to [address]. Total cost: Y AMA.\"\n")
	builder.WriteString("- NO \"batch\", NO \"fee breakdown\", NO \"parallel processing\"\n")
	builder.WriteString("FAILED transfers: \"❌ Insufficient balance. Need X AMA, have Y AMA. Use /deposit to add funds.\"\n")
	builder.WriteString("- NO fee breakdown in error messages\n")
	builder.WriteString("Keep ALL responses under 100 words and user-friendly.")

	return builder.String()
}
