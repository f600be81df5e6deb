package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// SQLStore 使用 MySQL 持久化账户数据。
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore 创建连接池并应用数据库迁移。
func NewSQLStore(dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}

	store := &SQLStore{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

// Get 根据身份标识查询账户。
func (s *SQLStore) Get(ctx context.Context, identity string) (*Account, error) {
	const stmt = `SELECT identity, display_name, address, encrypted_key, balance, total_requests, total_spent, created_at
        FROM accounts WHERE identity = ?`

	var account Account
	err := s.db.QueryRowContext(ctx, stmt, identity).Scan(
		&account.Identity,
		&account.DisplayName,
		&account.Address,
		&account.EncryptedKey,
		&account.Balance,
		&account.TotalRequests,
		&account.TotalSpent,
		&account.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询账户失败: %w", err)
	}
	return &account, nil
}

// Create 写入新账户。
func (s *SQLStore) Create(ctx context.Context, account *Account) error {
	const stmt = `INSERT INTO accounts
        (identity, display_name, address, encrypted_key, balance, total_requests, total_spent, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		account.Identity,
		account.DisplayName,
		account.Address,
		account.EncryptedKey,
		account.Balance,
		account.TotalRequests,
		account.TotalSpent,
		account.CreatedAt,
	); err != nil {
		if isDuplicateEntry(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("创建账户失败: %w", err)
	}
	return nil
}

// isDuplicateEntry 判断是否为 MySQL 唯一键冲突（错误码 1062）。
func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// UpdateBalance 覆盖写缓存余额。
func (s *SQLStore) UpdateBalance(ctx context.Context, identity string, balance float64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE identity = ?`, balance, identity)
	if err != nil {
		return fmt.Errorf("更新余额失败: %w", err)
	}
	return ensureRowAffected(result)
}

// IncrementUsage 累加请求计数与累计消费。
func (s *SQLStore) IncrementUsage(ctx context.Context, identity string, spent float64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET total_requests = total_requests + 1, total_spent = total_spent + ? WHERE identity = ?`,
		spent, identity)
	if err != nil {
		return fmt.Errorf("更新使用统计失败: %w", err)
	}
	return ensureRowAffected(result)
}

// AppendTransaction 追加一条账户流水。
func (s *SQLStore) AppendTransaction(ctx context.Context, identity string, record TransactionRecord) error {
	const stmt = `INSERT INTO account_transactions
        (identity, kind, amount, tx_hash, description, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		identity,
		string(record.Kind),
		record.Amount,
		record.TxHash,
		record.Description,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入账户流水失败: %w", err)
	}
	return nil
}

// ListTransactions 查询最近的流水记录。
func (s *SQLStore) ListTransactions(ctx context.Context, identity string, limit int) ([]TransactionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, amount, tx_hash, description, created_at
        FROM account_transactions WHERE identity = ? ORDER BY id DESC LIMIT ?`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("查询账户流水失败: %w", err)
	}
	defer rows.Close()

	var records []TransactionRecord
	for rows.Next() {
		var record TransactionRecord
		var kind string
		if err := rows.Scan(&kind, &record.Amount, &record.TxHash, &record.Description, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析账户流水失败: %w", err)
		}
		record.Kind = TransactionKind(kind)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历账户流水失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取更新结果失败: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
