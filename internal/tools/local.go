package tools

import (
	"context"
	"fmt"
	"time"

	"OpenMCP-Pay/internal/chain"
	apperrors "OpenMCP-Pay/internal/errors"
	"OpenMCP-Pay/internal/wallet"
)

func stringArg(args map[string]any, key string) (string, error) {
	value, ok := args[key].(string)
	if !ok || value == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "缺少必填参数: "+key)
	}
	return value, nil
}

func amountArg(args map[string]any, key string) (float64, error) {
	raw, err := stringArg(args, key)
	if err != nil {
		return 0, err
	}
	amount, err := chain.ParseAmount(raw)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInvalidArgument, err, "金额无效")
	}
	return amount, nil
}

var identityProperty = Property{
	Type:        "string",
	Description: "发起请求的用户标识，由系统自动注入",
}

// NewLocalTools 构造全部本地工具。
func NewLocalTools(accounts *wallet.Service, txs *chain.Service) []*Tool {
	return []*Tool{
		{
			Name: "get_user_info",
			Description: "获取当前用户的账户信息，包括钱包地址、实时余额与使用统计。" +
				"当用户询问\"我的账户\"、\"我的信息\"或\"我是谁\"时使用。",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					identityArgument: identityProperty,
				},
				Required: []string{identityArgument},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				identity, err := stringArg(args, identityArgument)
				if err != nil {
					return nil, err
				}
				account, err := accounts.GetOrCreate(ctx, identity, "")
				if err != nil {
					return nil, err
				}
				balance, err := accounts.RefreshBalance(ctx, identity)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"user_id":        account.Identity,
					"display_name":   account.DisplayName,
					"wallet_address": account.Address,
					"balance_ama":    chain.FormatAMA(balance),
					"total_requests": account.TotalRequests,
					"total_spent":    chain.FormatAMA(account.TotalSpent),
					"member_since":   time.Unix(account.CreatedAt, 0).UTC().Format(time.RFC3339),
				}, nil
			},
		},
		{
			Name: "get_user_balance",
			Description: "实时查询用户钱包的 AMA 余额并刷新缓存。" +
				"当用户询问\"我的余额\"、\"我有多少 AMA\"或\"查一下钱包\"时使用。",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					identityArgument: identityProperty,
				},
				Required: []string{identityArgument},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				identity, err := stringArg(args, identityArgument)
				if err != nil {
					return nil, err
				}
				account, err := accounts.GetOrCreate(ctx, identity, "")
				if err != nil {
					return nil, err
				}
				balance, err := accounts.RefreshBalance(ctx, identity)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"wallet_address": account.Address,
					"balance_ama":    chain.FormatAMA(balance),
					"last_updated":   time.Now().UTC().Format(time.RFC3339),
				}, nil
			},
		},
		{
			Name: "get_user_stats",
			Description: "获取用户的使用统计：累计请求数、累计消费与实时余额。" +
				"当用户询问\"我的统计\"、\"我的用量\"或\"我花了多少\"时使用。",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					identityArgument: identityProperty,
				},
				Required: []string{identityArgument},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				identity, err := stringArg(args, identityArgument)
				if err != nil {
					return nil, err
				}
				stats, err := accounts.Stats(ctx, identity)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"wallet_address":      stats.Address,
					"current_balance_ama": chain.FormatAMA(stats.Balance),
					"total_requests":      stats.TotalRequests,
					"total_spent_ama":     chain.FormatAMA(stats.TotalSpent),
					"member_since":        time.Unix(stats.MemberSince, 0).UTC().Format(time.RFC3339),
				}, nil
			},
		},
		{
			Name: "validate_balance_for_transfer",
			Description: "校验用户余额能否覆盖服务费加转账金额。" +
				"任何转账之前必须先调用本工具，余额不足时向用户报告差额。",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					identityArgument: identityProperty,
					"amount": {
						Type:        "string",
						Description: "计划转账的 AMA 金额，如 \"40\"",
					},
				},
				Required: []string{identityArgument, "amount"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				identity, err := stringArg(args, identityArgument)
				if err != nil {
					return nil, err
				}
				amount, err := amountArg(args, "amount")
				if err != nil {
					return nil, err
				}
				account, err := accounts.GetOrCreate(ctx, identity, "")
				if err != nil {
					return nil, err
				}
				result := txs.ValidateTransfer(ctx, account.Address, amount)
				out := map[string]any{
					"sufficient":     result.Sufficient,
					"balance":        chain.FormatAMA(result.Balance),
					"required_total": chain.FormatAMA(result.RequiredTotal),
				}
				if !result.Sufficient {
					out["shortfall"] = chain.FormatAMA(result.Shortfall)
				}
				return out, nil
			},
		},
		{
			Name: "transfer_ama",
			Description: "从用户钱包向指定地址发送 AMA，不收取服务费。" +
				"本工具会自动完成签名与提交。",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					identityArgument: identityProperty,
					"recipient": {
						Type:        "string",
						Description: "收款方钱包地址",
					},
					"amount": {
						Type:        "string",
						Description: "转账的 AMA 金额，如 \"10\"",
					},
				},
				Required: []string{identityArgument, "recipient", "amount"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				identity, err := stringArg(args, identityArgument)
				if err != nil {
					return nil, err
				}
				recipient, err := stringArg(args, "recipient")
				if err != nil {
					return nil, err
				}
				amount, err := amountArg(args, "amount")
				if err != nil {
					return nil, err
				}
				account, err := accounts.GetOrCreate(ctx, identity, "")
				if err != nil {
					return nil, err
				}
				txHash, err := txs.Transfer(ctx, account.Address, account.EncryptedKey, recipient, amount)
				if err != nil {
					return nil, err
				}
				if err := accounts.RecordPayment(ctx, identity, amount, txHash,
					fmt.Sprintf("转账 %s AMA 至 %s", chain.FormatAMA(amount), recipient)); err != nil {
					return nil, err
				}
				return map[string]any{
					"success":    true,
					"tx_hash":    txHash,
					"from":       account.Address,
					"to":         recipient,
					"amount_ama": chain.FormatAMA(amount),
					"status":     "confirmed",
				}, nil
			},
		},
		{
			Name: "transfer_with_fee",
			Description: "从用户钱包向指定地址发送 AMA，同时收取固定服务费。" +
				"费用交易与转账交易作为一个批次并发执行，调用前必须先通过 validate_balance_for_transfer 校验余额。",
			InputSchema: Schema{
				Type: "object",
				Properties: map[string]Property{
					identityArgument: identityProperty,
					"recipient": {
						Type:        "string",
						Description: "收款方钱包地址",
					},
					"amount": {
						Type:        "string",
						Description: "转账的 AMA 金额，如 \"40\"",
					},
				},
				Required: []string{identityArgument, "recipient", "amount"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				identity, err := stringArg(args, identityArgument)
				if err != nil {
					return nil, err
				}
				recipient, err := stringArg(args, "recipient")
				if err != nil {
					return nil, err
				}
				amount, err := amountArg(args, "amount")
				if err != nil {
					return nil, err
				}
				account, err := accounts.GetOrCreate(ctx, identity, "")
				if err != nil {
					return nil, err
				}
				batch, err := txs.ExecuteBatch(ctx, account.Address, account.EncryptedKey, recipient, amount)
				if err != nil {
					return nil, err
				}
				if err := accounts.RecordPayment(ctx, identity, batch.TotalCost(), batch.TransferTxHash,
					fmt.Sprintf("转账 %s AMA 至 %s（含服务费 %s AMA）",
						chain.FormatAMA(amount), recipient, chain.FormatAMA(batch.FeeAmount))); err != nil {
					return nil, err
				}
				return map[string]any{
					"success":         true,
					"fee_tx_hash":     batch.FeeTxHash,
					"transfer_tx":     batch.TransferTxHash,
					"to":              recipient,
					"amount_ama":      chain.FormatAMA(amount),
					"total_cost_ama":  chain.FormatAMA(batch.TotalCost()),
					"service_fee_ama": chain.FormatAMA(batch.FeeAmount),
				}, nil
			},
		},
	}
}
