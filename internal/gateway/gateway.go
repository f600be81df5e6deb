package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"OpenMCP-Pay/internal/agent"
	"OpenMCP-Pay/internal/chain"
	apperrors "OpenMCP-Pay/internal/errors"
	"OpenMCP-Pay/internal/wallet"
	"OpenMCP-Pay/pkg/logger"
)

// faucetAmount 是测试网水龙头单次发放的数量。
const faucetAmount = 100

// GenericErrorMessage 是内部失败时返回给终端用户的统一提示。
const GenericErrorMessage = "Sorry, something went wrong! Please try again."

// Runner 抽象出处理付费查询的智能体循环。
type Runner interface {
	Run(ctx context.Context, query string, account agent.AccountContext) (string, error)
}

// FaucetCaller 抽象出测试网水龙头的申领入口。
type FaucetCaller interface {
	ClaimFaucet(ctx context.Context, address string) (*chain.FaucetResult, error)
}

// Gateway 把终端用户的一条消息路由到免费命令或付费的智能体循环。
type Gateway struct {
	accounts *wallet.Service
	faucet   FaucetCaller
	runner   Runner
}

// New 创建网关。
func New(accounts *wallet.Service, faucet FaucetCaller, runner Runner) (*Gateway, error) {
	if accounts == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "未提供账户服务")
	}
	if runner == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "未提供智能体执行器")
	}
	return &Gateway{accounts: accounts, faucet: faucet, runner: runner}, nil
}

// Handle 处理一条用户消息：优先匹配免费命令，其余交给付费的智能体循环。
// 任何内部失败都会被替换成统一的用户提示，细节只进日志。
func (g *Gateway) Handle(ctx context.Context, identity, displayName, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "查询内容不能为空")
	}

	log := logger.Named("gateway").With("identity", identity)

	account, err := g.accounts.GetOrCreate(ctx, identity, displayName)
	if err != nil {
		log.Error("账户准备失败", "error", err)
		return GenericErrorMessage, nil
	}

	lowered := strings.ToLower(query)
	switch {
	case query == "/balance" || lowered == "balance":
		return g.replyBalance(ctx, account), nil
	case query == "/deposit" || lowered == "deposit":
		return g.replyDeposit(account), nil
	case query == "/stats" || lowered == "stats":
		return g.replyStats(ctx, account), nil
	case strings.Contains(lowered, "faucet") || strings.Contains(lowered, "claim"):
		return g.replyFaucet(ctx, account), nil
	}

	// 付费路径：余额随系统提示一并交给模型，由支付工具完成实际扣费。
	balance, err := g.accounts.RefreshBalance(ctx, identity)
	if err != nil {
		balance = account.Balance
	}

	answer, err := g.runner.Run(ctx, query, agent.AccountContext{
		Identity: account.Identity,
		Address:  account.Address,
		Balance:  balance,
	})
	if err != nil {
		log.Error("智能体处理失败", "error", err)
		return GenericErrorMessage, nil
	}
	return answer, nil
}

// replyBalance 对应免费的 balance 命令。
func (g *Gateway) replyBalance(ctx context.Context, account *wallet.Account) string {
	balance, err := g.accounts.RefreshBalance(ctx, account.Identity)
	if err != nil {
		balance = account.Balance
	}
	return fmt.Sprintf("Balance for your wallet - %s is %.4f AMA", account.Address, balance)
}

// replyDeposit 对应免费的 deposit 命令。
func (g *Gateway) replyDeposit(account *wallet.Account) string {
	return fmt.Sprintf(
		"Send AMA from any wallet or faucet to:\n%s\n\nUse /balance to check your balance.",
		account.Address,
	)
}

// replyStats 对应免费的 stats 命令。
func (g *Gateway) replyStats(ctx context.Context, account *wallet.Account) string {
	stats, err := g.accounts.Stats(ctx, account.Identity)
	if err != nil {
		logger.Named("gateway").Error("查询账户统计失败", "identity", account.Identity, "error", err)
		return GenericErrorMessage
	}
	memberSince := time.Unix(stats.MemberSince, 0).UTC().Format("2006-01-02")
	return fmt.Sprintf(
		"Current Balance: %.4f AMA\nTotal Requests: %d\nTotal Spent: %.4f AMA\nMember Since: %s",
		stats.Balance, stats.TotalRequests, stats.TotalSpent, memberSince,
	)
}

// replyFaucet 申领测试网代币并刷新缓存余额。
func (g *Gateway) replyFaucet(ctx context.Context, account *wallet.Account) string {
	if g.faucet == nil {
		return GenericErrorMessage
	}
	result, err := g.faucet.ClaimFaucet(ctx, account.Address)
	if err != nil {
		logger.Named("gateway").Error("水龙头申领失败", "identity", account.Identity, "error", err)
		return fmt.Sprintf(
			"❌ Error claiming from faucet\n\n%v\n\nPlease try again later or contact support.",
			err,
		)
	}

	if _, err := g.accounts.RefreshBalance(ctx, account.Identity); err != nil {
		logger.Named("gateway").Warn("申领后刷新余额失败", "identity", account.Identity, "error", err)
	}

	if result.Claimed() {
		if err := g.accounts.RecordDeposit(ctx, account.Identity, faucetAmount, result.TxHash, "testnet faucet claim"); err != nil {
			logger.Named("gateway").Warn("记录入账流水失败", "identity", account.Identity, "error", err)
		}
		return fmt.Sprintf(
			"✅ Claim Successful!\n\nReceived: %d AMA\nTX Hash: %s\n\nUse /balance to check your updated balance.",
			faucetAmount, result.TxHash,
		)
	}

	message := result.Message
	if message == "" {
		message = "You may have already claimed from this wallet."
	}
	return fmt.Sprintf(
		"❌ Claim Failed\n\n%s\n\nNote: Faucet is limited to once per day.",
		message,
	)
}
