package wallet

import (
	"context"
	"sync"
)

// MemoryStore 在内存中维护账户数据，主要用于本地开发与测试。
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*Account
	transactions map[string][]TransactionRecord
}

// NewMemoryStore 创建内存账户存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*Account),
		transactions: make(map[string][]TransactionRecord),
	}
}

// Get 查询账户。
func (m *MemoryStore) Get(_ context.Context, identity string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[identity]
	if !ok {
		return nil, ErrAccountNotFound
	}
	clone := *account
	return &clone, nil
}

// Create 创建账户，若已存在则报错。
func (m *MemoryStore) Create(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.Identity]; ok {
		return ErrAccountExists
	}
	clone := *account
	m.accounts[account.Identity] = &clone
	return nil
}

// UpdateBalance 覆盖写缓存余额。
func (m *MemoryStore) UpdateBalance(_ context.Context, identity string, balance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[identity]
	if !ok {
		return ErrAccountNotFound
	}
	account.Balance = balance
	return nil
}

// IncrementUsage 累加请求计数与累计消费。
func (m *MemoryStore) IncrementUsage(_ context.Context, identity string, spent float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[identity]
	if !ok {
		return ErrAccountNotFound
	}
	account.TotalRequests++
	account.TotalSpent += spent
	return nil
}

// AppendTransaction 追加一条账户流水。
func (m *MemoryStore) AppendTransaction(_ context.Context, identity string, record TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[identity]; !ok {
		return ErrAccountNotFound
	}
	m.transactions[identity] = append(m.transactions[identity], record)
	return nil
}

// ListTransactions 返回最近的流水记录，按时间倒序排列。
func (m *MemoryStore) ListTransactions(_ context.Context, identity string, limit int) ([]TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.transactions[identity]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	results := make([]TransactionRecord, 0, limit)
	for i := len(records) - 1; i >= len(records)-limit; i-- {
		results = append(results, records[i])
	}
	return results, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error {
	return nil
}
