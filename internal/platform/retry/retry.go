// Package retry 提供统一的有界重试策略。
//
// 客户端层（指数退避）与 worker 层（线性退避）使用同一个 Policy 类型，
// 只是 Backoff 与 Retryable 不同。
package retry

import (
	"context"
	"errors"
	"time"

	applog "ragworker/internal/platform/log"
)

// ErrInvalidMaxAttempts MaxAttempts <= 0。
var ErrInvalidMaxAttempts = errors.New("retry: max attempts must be > 0")

// BackoffFunc 返回第 attempt 次失败后（attempt 从 1 开始）的等待时长。
type BackoffFunc func(attempt int) time.Duration

// Policy 有界重试策略。
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	// Retryable 为 nil 时所有错误都重试。
	Retryable func(error) bool
	// OnRetry 可选，每次决定重试前回调（日志/统计）。
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Linear attempt × unit：500ms, 1000ms, ...
func Linear(unit time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * unit
	}
}

// Exponential base × 2^(attempt-1)：base=1s 时为 1s, 2s, 4s。
func Exponential(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
		}
		return d
	}
}

// Do 执行 fn，直到成功、遇到不可重试错误或次数用尽。
// 返回实际尝试次数与最后一次错误；最后一次尝试之后不再等待。
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	if p.MaxAttempts <= 0 {
		return 0, ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			if attempt > 1 {
				applog.Debug("[Retry] Succeeded after retry", "attempt", attempt)
			}
			return attempt, nil
		}

		if p.Retryable != nil && !p.Retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == p.MaxAttempts {
			return attempt, lastErr
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return attempt, lastErr
		}
	}
	return p.MaxAttempts, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
