package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "OpenMCP-Pay/internal/errors"
	"OpenMCP-Pay/internal/mcp"
	"OpenMCP-Pay/internal/observability/alerting"
	"OpenMCP-Pay/pkg/logger"
)

// ToolCaller 抽象远端协议服务的工具调用能力。
type ToolCaller interface {
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallResult, error)
}

// BalanceSource 抽象余额查询能力。
type BalanceSource interface {
	Balance(ctx context.Context, address string) float64
}

// KeySigner 抽象托管私钥签名能力。
type KeySigner interface {
	Sign(encryptedKey string, payload []byte) (string, error)
	SignBatch(encryptedKey string, payloads [][]byte) ([]string, error)
}

// Config 描述交易服务的链上参数。
type Config struct {
	Network      string
	SystemWallet string
	ServiceFee   float64
}

// Service 负责交易的构造、签名与提交。
type Service struct {
	caller       ToolCaller
	signer       KeySigner
	oracle       BalanceSource
	network      string
	systemWallet string
	serviceFee   float64
	alerts       alerting.Dispatcher
}

// SetAlerts 配置批次部分失败等需要人工跟进的事件的告警通道。
func (s *Service) SetAlerts(dispatcher alerting.Dispatcher) {
	s.alerts = dispatcher
}

// NewService 创建交易服务。
func NewService(caller ToolCaller, signer KeySigner, oracle BalanceSource, cfg Config) (*Service, error) {
	if caller == nil {
		return nil, errors.New("未提供远端协议服务客户端")
	}
	if signer == nil {
		return nil, errors.New("未提供签名服务")
	}
	if oracle == nil {
		return nil, errors.New("未提供余额查询服务")
	}
	if strings.TrimSpace(cfg.SystemWallet) == "" {
		return nil, errors.New("未配置系统收款地址")
	}
	if cfg.ServiceFee <= 0 {
		return nil, errors.New("服务费必须为正数")
	}
	network := strings.TrimSpace(cfg.Network)
	if network == "" {
		network = "testnet"
	}
	return &Service{
		caller:       caller,
		signer:       signer,
		oracle:       oracle,
		network:      network,
		systemWallet: cfg.SystemWallet,
		serviceFee:   cfg.ServiceFee,
	}, nil
}

// ServiceFee 返回固定服务费。
func (s *Service) ServiceFee() float64 {
	return s.serviceFee
}

// SystemWallet 返回系统收款地址。
func (s *Service) SystemWallet() string {
	return s.systemWallet
}

// UnsignedTransaction 是远端构造的待签名交易。
type UnsignedTransaction struct {
	SigningPayload string `json:"signing_payload"`
	Blob           string `json:"blob"`
}

// CreateTransaction 请求远端构造一笔签名者到收款人的转账交易。
func (s *Service) CreateTransaction(ctx context.Context, signer, recipient string, atomic uint64) (*UnsignedTransaction, error) {
	result, err := s.caller.CallTool(ctx, "create_transaction", map[string]any{
		"signer":   signer,
		"contract": "Coin",
		"function": "transfer",
		"args": []any{
			map[string]any{"b58": recipient},
			strconv.FormatUint(atomic, 10),
			"AMA",
		},
	})
	if err != nil {
		return nil, err
	}

	var unsigned UnsignedTransaction
	if err := json.Unmarshal([]byte(result.Text()), &unsigned); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidResponse, err, "解析 create_transaction 响应失败")
	}
	if unsigned.SigningPayload == "" || unsigned.Blob == "" {
		return nil, apperrors.New(apperrors.CodeInvalidResponse, "create_transaction 响应缺少 signing_payload 或 blob")
	}
	return &unsigned, nil
}

// SubmitTransaction 提交已签名的交易并返回链上哈希。
func (s *Service) SubmitTransaction(ctx context.Context, blob, signature string) (string, error) {
	result, err := s.caller.CallTool(ctx, "submit_transaction", map[string]any{
		"transaction": blob,
		"signature":   signature,
		"network":     s.network,
	})
	if err != nil {
		return "", err
	}

	var decoded struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.Unmarshal([]byte(result.Text()), &decoded); err != nil {
		return "", apperrors.Wrap(apperrors.CodeInvalidResponse, err, "解析 submit_transaction 响应失败")
	}
	if decoded.TxHash == "" {
		return "", apperrors.New(apperrors.CodeInvalidResponse, "submit_transaction 响应缺少 tx_hash")
	}
	return decoded.TxHash, nil
}

func decodeSigningPayload(payload string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidResponse, err, "signing_payload 不是合法的十六进制")
	}
	return raw, nil
}

// Transfer 构造、签名并提交一笔单独的转账交易。
func (s *Service) Transfer(ctx context.Context, address, encryptedKey, recipient string, amount float64) (string, error) {
	unsigned, err := s.CreateTransaction(ctx, address, recipient, ToAtomic(amount))
	if err != nil {
		return "", err
	}
	payload, err := decodeSigningPayload(unsigned.SigningPayload)
	if err != nil {
		return "", err
	}
	signature, err := s.signer.Sign(encryptedKey, payload)
	if err != nil {
		return "", err
	}
	return s.SubmitTransaction(ctx, unsigned.Blob, signature)
}

// Charge 向系统地址收取固定服务费。提交前先做一次实时余额预检。
func (s *Service) Charge(ctx context.Context, address, encryptedKey string) (string, error) {
	balance := s.oracle.Balance(ctx, address)
	if balance < s.serviceFee {
		return "", apperrors.New(apperrors.CodeInsufficientBalance,
			fmt.Sprintf("余额不足: %s AMA，需要 %s AMA", FormatAMA(balance), FormatAMA(s.serviceFee)),
			apperrors.WithMetadata("address", address))
	}

	logger.Named("chain").Info("收取服务费", "address", address, "fee", s.serviceFee)
	return s.Transfer(ctx, address, encryptedKey, s.systemWallet, s.serviceFee)
}

// BatchResult 是一次费用加转账批次的执行结果。
type BatchResult struct {
	FeeTxHash      string
	TransferTxHash string
	FeeAmount      float64
	TransferAmount float64
}

// TotalCost 返回批次的总支出。
func (r *BatchResult) TotalCost() float64 {
	return r.FeeAmount + r.TransferAmount
}

type createOutcome struct {
	index    int
	unsigned *UnsignedTransaction
	err      error
}

type submitOutcome struct {
	index  int
	txHash string
	err    error
}

// ExecuteBatch 并发执行服务费与用户转账两笔交易。
// 两笔交易相互独立，构造与提交各自并发进行；私钥只解密一次，
// 两个签名负载就绪后一并签名。任一步骤失败都会使整个批次报错，
// 已到达链上的那笔交易不会被回滚。
func (s *Service) ExecuteBatch(ctx context.Context, address, encryptedKey, recipient string, transferAmount float64) (*BatchResult, error) {
	if transferAmount <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "转账金额必须为正数")
	}

	type order struct {
		recipient string
		atomic    uint64
	}
	orders := [2]order{
		{recipient: s.systemWallet, atomic: ToAtomic(s.serviceFee)},
		{recipient: recipient, atomic: ToAtomic(transferAmount)},
	}

	createCh := make(chan createOutcome, len(orders))
	for i, o := range orders {
		go func(idx int, o order) {
			unsigned, err := s.CreateTransaction(ctx, address, o.recipient, o.atomic)
			createCh <- createOutcome{index: idx, unsigned: unsigned, err: err}
		}(i, o)
	}

	var unsigned [2]*UnsignedTransaction
	var createErr error
	for range orders {
		outcome := <-createCh
		if outcome.err != nil && createErr == nil {
			createErr = outcome.err
		}
		unsigned[outcome.index] = outcome.unsigned
	}
	if createErr != nil {
		return nil, apperrors.Wrap(apperrors.CodeBatchFailure, createErr, "批次交易构造失败")
	}

	payloads := make([][]byte, len(orders))
	for i := range unsigned {
		payload, err := decodeSigningPayload(unsigned[i].SigningPayload)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeBatchFailure, err, "批次签名负载无效")
		}
		payloads[i] = payload
	}

	signatures, err := s.signer.SignBatch(encryptedKey, payloads)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBatchFailure, err, "批次签名失败")
	}

	submitCh := make(chan submitOutcome, len(orders))
	for i := range orders {
		go func(idx int) {
			txHash, err := s.SubmitTransaction(ctx, unsigned[idx].Blob, signatures[idx])
			submitCh <- submitOutcome{index: idx, txHash: txHash, err: err}
		}(i)
	}

	var hashes [2]string
	var submitErr error
	for range orders {
		outcome := <-submitCh
		if outcome.err != nil && submitErr == nil {
			submitErr = outcome.err
		}
		hashes[outcome.index] = outcome.txHash
	}
	if submitErr != nil {
		// 并发提交意味着另一笔可能已经上链，这里只能如实上报，不做补偿。
		logger.Named("chain").Error("批次提交部分失败",
			"address", address, "fee_tx", hashes[0], "transfer_tx", hashes[1], "error", submitErr)
		if s.alerts != nil {
			_ = s.alerts.Notify(ctx, alerting.Event{
				Code:     apperrors.CodeBatchFailure,
				Message:  submitErr.Error(),
				Severity: apperrors.SeverityCritical,
				Identity: address,
				Metadata: map[string]string{
					"fee_tx":      hashes[0],
					"transfer_tx": hashes[1],
				},
				OccurredAt: time.Now(),
			})
		}
		return nil, apperrors.Wrap(apperrors.CodeBatchFailure, submitErr, "批次交易提交失败",
			apperrors.WithMetadata("fee_tx", hashes[0]),
			apperrors.WithMetadata("transfer_tx", hashes[1]))
	}

	logger.Named("chain").Info("批次执行完成",
		"address", address, "fee_tx", hashes[0], "transfer_tx", hashes[1])
	return &BatchResult{
		FeeTxHash:      hashes[0],
		TransferTxHash: hashes[1],
		FeeAmount:      s.serviceFee,
		TransferAmount: transferAmount,
	}, nil
}

// FaucetResult 是一次测试网水龙头申领的结果。
type FaucetResult struct {
	Status  string `json:"status"`
	TxHash  string `json:"tx_hash"`
	Message string `json:"message"`
}

// Claimed 返回申领是否成功。
func (r *FaucetResult) Claimed() bool {
	return r != nil && r.Status == "success"
}

// ClaimFaucet 为地址申领测试网 AMA。申领频率限制由远端执行。
func (s *Service) ClaimFaucet(ctx context.Context, address string) (*FaucetResult, error) {
	result, err := s.caller.CallTool(ctx, "claim_testnet_ama", map[string]any{
		"address": address,
	})
	if err != nil {
		return nil, err
	}
	var decoded FaucetResult
	if err := json.Unmarshal([]byte(result.Text()), &decoded); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidResponse, err, "解析 claim_testnet_ama 响应失败")
	}
	return &decoded, nil
}

// ValidateTransfer 校验账户余额能否覆盖服务费加转账金额。
type ValidationResult struct {
	Sufficient    bool    `json:"sufficient"`
	Balance       float64 `json:"balance"`
	RequiredTotal float64 `json:"required_total"`
	Shortfall     float64 `json:"shortfall,omitempty"`
}

// ValidateTransfer 做转账前的余额充足性校验，返回结构化结果而非错误。
func (s *Service) ValidateTransfer(ctx context.Context, address string, transferAmount float64) *ValidationResult {
	balance := s.oracle.Balance(ctx, address)
	required := s.serviceFee + transferAmount
	result := &ValidationResult{
		Balance:       balance,
		RequiredTotal: required,
	}
	if balance >= required {
		result.Sufficient = true
		return result
	}
	result.Shortfall = required - balance
	return result
}
