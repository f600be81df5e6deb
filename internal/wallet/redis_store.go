package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStoreConfig 描述 Redis 账户存储的连接参数。
type RedisStoreConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore 使用 Redis 持久化账户数据。
// 账户本体存为 JSON 字符串，流水存为按时间追加的 list。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 创建 Redis 账户存储。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "openpay"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (r *RedisStore) accountKey(identity string) string {
	return r.prefix + ":account:" + identity
}

func (r *RedisStore) transactionsKey(identity string) string {
	return r.prefix + ":transactions:" + identity
}

// Get 查询账户。
func (r *RedisStore) Get(ctx context.Context, identity string) (*Account, error) {
	raw, err := r.client.Get(ctx, r.accountKey(identity)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询账户失败: %w", err)
	}
	var account Account
	if err := json.Unmarshal([]byte(raw), &account); err != nil {
		return nil, fmt.Errorf("解析账户数据失败: %w", err)
	}
	return &account, nil
}

// Create 创建账户，若已存在则报错。
func (r *RedisStore) Create(ctx context.Context, account *Account) error {
	encoded, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("序列化账户失败: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.accountKey(account.Identity), encoded, 0).Result()
	if err != nil {
		return fmt.Errorf("创建账户失败: %w", err)
	}
	if !ok {
		return ErrAccountExists
	}
	return nil
}

func (r *RedisStore) update(ctx context.Context, identity string, apply func(*Account)) error {
	account, err := r.Get(ctx, identity)
	if err != nil {
		return err
	}
	apply(account)
	encoded, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("序列化账户失败: %w", err)
	}
	if err := r.client.Set(ctx, r.accountKey(identity), encoded, 0).Err(); err != nil {
		return fmt.Errorf("更新账户失败: %w", err)
	}
	return nil
}

// UpdateBalance 覆盖写缓存余额。
func (r *RedisStore) UpdateBalance(ctx context.Context, identity string, balance float64) error {
	return r.update(ctx, identity, func(a *Account) {
		a.Balance = balance
	})
}

// IncrementUsage 累加请求计数与累计消费。
func (r *RedisStore) IncrementUsage(ctx context.Context, identity string, spent float64) error {
	return r.update(ctx, identity, func(a *Account) {
		a.TotalRequests++
		a.TotalSpent += spent
	})
}

// AppendTransaction 追加一条账户流水。
func (r *RedisStore) AppendTransaction(ctx context.Context, identity string, record TransactionRecord) error {
	if _, err := r.Get(ctx, identity); err != nil {
		return err
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化账户流水失败: %w", err)
	}
	if err := r.client.LPush(ctx, r.transactionsKey(identity), encoded).Err(); err != nil {
		return fmt.Errorf("写入账户流水失败: %w", err)
	}
	return nil
}

// ListTransactions 返回最近的流水记录，按时间倒序排列。
func (r *RedisStore) ListTransactions(ctx context.Context, identity string, limit int) ([]TransactionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	raws, err := r.client.LRange(ctx, r.transactionsKey(identity), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("查询账户流水失败: %w", err)
	}
	records := make([]TransactionRecord, 0, len(raws))
	for _, raw := range raws {
		var record TransactionRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Close 关闭 Redis 连接。
func (r *RedisStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
