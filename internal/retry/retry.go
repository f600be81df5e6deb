package retry

import (
	"context"
	"time"

	apperrors "OpenMCP-Pay/internal/errors"
)

// Policy 描述指数退避重试策略。
type Policy struct {
	// MaxRetries 是首次调用之外允许的最大重试次数。
	MaxRetries int
	// BaseDelay 是首次重试前的等待时间，之后每次翻倍。
	BaseDelay time.Duration
	// Retryable 判断错误是否值得重试。为 nil 时使用统一错误码判断。
	Retryable func(error) bool
	// Sleep 可在测试中替换。为 nil 时使用可取消的真实等待。
	Sleep func(context.Context, time.Duration) error
}

// DefaultPolicy 返回模型调用使用的默认策略。
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  4 * time.Second,
	}
}

// Do 执行 fn，失败且可重试时按指数退避重试。
// 重试耗尽后返回 RETRIES_EXHAUSTED，并保留最后一次错误。
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = apperrors.RetryableError
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt >= p.MaxRetries {
			return apperrors.Wrap(apperrors.CodeRetriesExhausted, lastErr, op+" 重试次数已耗尽",
				apperrors.WithMetadata("operation", op))
		}
		if err := sleep(ctx, delay); err != nil {
			return apperrors.Wrap(apperrors.CodeTimeout, err, op+" 等待重试时被取消")
		}
		delay *= 2
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
