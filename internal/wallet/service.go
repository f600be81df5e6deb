package wallet

import (
	"context"
	"errors"
	"strings"
	"time"

	"OpenMCP-Pay/internal/chain"
	apperrors "OpenMCP-Pay/internal/errors"
	"OpenMCP-Pay/internal/secrets"
	"OpenMCP-Pay/pkg/logger"
)

// Stats 是账户的使用统计视图。
type Stats struct {
	Identity      string  `json:"identity"`
	Address       string  `json:"address"`
	Balance       float64 `json:"balance"`
	TotalRequests int64   `json:"total_requests"`
	TotalSpent    float64 `json:"total_spent"`
	MemberSince   int64   `json:"member_since"`
}

// Service 管理托管钱包账户的完整生命周期。
type Service struct {
	store  Store
	cipher *secrets.Cipher
	oracle chain.BalanceSource
	now    func() time.Time
}

// NewService 创建账户服务。
func NewService(store Store, cipher *secrets.Cipher, oracle chain.BalanceSource) (*Service, error) {
	if store == nil {
		return nil, errors.New("未提供账户存储")
	}
	if cipher == nil {
		return nil, errors.New("未提供私钥加解密组件")
	}
	if oracle == nil {
		return nil, errors.New("未提供余额查询服务")
	}
	return &Service{store: store, cipher: cipher, oracle: oracle, now: time.Now}, nil
}

// GetOrCreate 查询账户，不存在时惰性创建一个新钱包。
// 新钱包的私钥生成后立即加密入库，明文不落地。
func (s *Service) GetOrCreate(ctx context.Context, identity, displayName string) (*Account, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "账户标识不能为空")
	}

	account, err := s.store.Get(ctx, identity)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询账户失败")
	}

	pair, err := chain.GenerateKeyPair()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSigningFailure, err, "生成钱包密钥失败")
	}
	encrypted, err := s.cipher.Encrypt(pair.PrivateKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSigningFailure, err, "加密钱包私钥失败")
	}

	account = &Account{
		Identity:     identity,
		DisplayName:  displayName,
		Address:      pair.Address,
		EncryptedKey: encrypted,
		CreatedAt:    s.now().Unix(),
	}
	if err := s.store.Create(ctx, account); err != nil {
		// 并发首次访问时另一个请求可能先建好了账户。
		if errors.Is(err, ErrAccountExists) {
			existing, getErr := s.store.Get(ctx, identity)
			if getErr == nil {
				return existing, nil
			}
		}
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "创建账户失败")
	}

	logger.Named("wallet").Info("创建托管钱包", "identity", identity, "address", account.Address)
	return account, nil
}

// RefreshBalance 从预言机刷新缓存余额并返回最新值。
func (s *Service) RefreshBalance(ctx context.Context, identity string) (float64, error) {
	account, err := s.store.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return 0, apperrors.Wrap(apperrors.CodeNotFound, err, "账户不存在")
		}
		return 0, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询账户失败")
	}

	balance := s.oracle.Balance(ctx, account.Address)
	if err := s.store.UpdateBalance(ctx, identity, balance); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageFailure, err, "刷新余额失败")
	}
	return balance, nil
}

// RecordPayment 记录一次成功的付费请求：流水加统计一起更新。
func (s *Service) RecordPayment(ctx context.Context, identity string, amount float64, txHash, description string) error {
	record := TransactionRecord{
		Kind:        KindPayment,
		Amount:      amount,
		TxHash:      txHash,
		Description: description,
		CreatedAt:   s.now().Unix(),
	}
	if err := s.store.AppendTransaction(ctx, identity, record); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "记录账户流水失败")
	}
	if err := s.store.IncrementUsage(ctx, identity, amount); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "更新使用统计失败")
	}
	logger.Audit().Info("记录付费流水",
		"identity", identity, "amount", amount, "tx_hash", txHash, "description", description)
	return nil
}

// RecordDeposit 记录一笔入账（如水龙头申领）。
func (s *Service) RecordDeposit(ctx context.Context, identity string, amount float64, txHash, description string) error {
	record := TransactionRecord{
		Kind:        KindDeposit,
		Amount:      amount,
		TxHash:      txHash,
		Description: description,
		CreatedAt:   s.now().Unix(),
	}
	if err := s.store.AppendTransaction(ctx, identity, record); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "记录账户流水失败")
	}
	logger.Audit().Info("记录入账流水",
		"identity", identity, "amount", amount, "tx_hash", txHash, "description", description)
	return nil
}

// Stats 返回账户的使用统计，余额取实时预言机读数。
func (s *Service) Stats(ctx context.Context, identity string) (*Stats, error) {
	account, err := s.store.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, apperrors.Wrap(apperrors.CodeNotFound, err, "账户不存在")
		}
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询账户失败")
	}
	return &Stats{
		Identity:      account.Identity,
		Address:       account.Address,
		Balance:       s.oracle.Balance(ctx, account.Address),
		TotalRequests: account.TotalRequests,
		TotalSpent:    account.TotalSpent,
		MemberSince:   account.CreatedAt,
	}, nil
}

// Transactions 返回账户最近的流水。
func (s *Service) Transactions(ctx context.Context, identity string, limit int) ([]TransactionRecord, error) {
	records, err := s.store.ListTransactions(ctx, identity, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询账户流水失败")
	}
	return records, nil
}
