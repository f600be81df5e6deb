package wallet

import (
	"context"
	"errors"
)

// TransactionKind 标识一条账户流水的类型。
type TransactionKind string

const (
	KindPayment TransactionKind = "payment"
	KindDeposit TransactionKind = "deposit"
	KindRefund  TransactionKind = "refund"
)

// Account 是一个托管钱包账户。
// Address 与 EncryptedKey 在创建后不可变；Balance 只是预言机读数的缓存，
// 永远以覆盖写的方式刷新，不做本地增减。
type Account struct {
	Identity      string  `json:"identity"`
	DisplayName   string  `json:"display_name"`
	Address       string  `json:"address"`
	EncryptedKey  string  `json:"encrypted_key"`
	Balance       float64 `json:"balance"`
	TotalRequests int64   `json:"total_requests"`
	TotalSpent    float64 `json:"total_spent"`
	CreatedAt     int64   `json:"created_at"`
}

// TransactionRecord 是账户流水中的一条追加记录。
type TransactionRecord struct {
	Kind        TransactionKind `json:"kind"`
	Amount      float64         `json:"amount"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   int64           `json:"created_at"`
}

// ErrAccountNotFound 表示账户不存在。
var ErrAccountNotFound = errors.New("账户不存在")

// ErrAccountExists 表示账户已存在，创建操作应当失败。
var ErrAccountExists = errors.New("账户已存在")

// Store 抽象账户数据的持久化接口。
type Store interface {
	Get(ctx context.Context, identity string) (*Account, error)
	Create(ctx context.Context, account *Account) error
	UpdateBalance(ctx context.Context, identity string, balance float64) error
	IncrementUsage(ctx context.Context, identity string, spent float64) error
	AppendTransaction(ctx context.Context, identity string, record TransactionRecord) error
	ListTransactions(ctx context.Context, identity string, limit int) ([]TransactionRecord, error)
	Close() error
}
