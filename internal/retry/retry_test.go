package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "OpenMCP-Pay/internal/errors"
)

func newTestPolicy(retries int, delays *[]time.Duration) Policy {
	return Policy{
		MaxRetries: retries,
		BaseDelay:  4 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			*delays = append(*delays, d)
			return nil
		},
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	policy := newTestPolicy(3, &delays)

	calls := 0
	err := policy.Do(context.Background(), "invoke_model", func(context.Context) error {
		calls++
		if calls <= 3 {
			return apperrors.New(apperrors.CodeLLMOverloaded, "")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
	want := []time.Duration{4 * time.Second, 8 * time.Second, 16 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %d", len(want), len(delays))
	}
	for i, d := range want {
		if delays[i] != d {
			t.Fatalf("sleep %d: expected %v, got %v", i, d, delays[i])
		}
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	var delays []time.Duration
	policy := newTestPolicy(3, &delays)

	calls := 0
	err := policy.Do(context.Background(), "invoke_model", func(context.Context) error {
		calls++
		return apperrors.New(apperrors.CodeLLMOverloaded, "")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if apperrors.CodeOf(err) != apperrors.CodeRetriesExhausted {
		t.Fatalf("expected RETRIES_EXHAUSTED, got %s", apperrors.CodeOf(err))
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
	var typed *apperrors.Error
	if !errors.As(err, &typed) {
		t.Fatal("expected unified error type")
	}
	if apperrors.CodeOf(typed.Unwrap()) != apperrors.CodeLLMOverloaded {
		t.Fatalf("expected wrapped cause to keep original code, got %v", typed.Unwrap())
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	var delays []time.Duration
	policy := newTestPolicy(3, &delays)

	calls := 0
	err := policy.Do(context.Background(), "invoke_model", func(context.Context) error {
		calls++
		return apperrors.New(apperrors.CodeInvalidResponse, "")
	})
	if apperrors.CodeOf(err) != apperrors.CodeInvalidResponse {
		t.Fatalf("expected INVALID_RESPONSE, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single call, got %d", calls)
	}
	if len(delays) != 0 {
		t.Fatalf("expected no sleeps, got %d", len(delays))
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}
	err := policy.Do(ctx, "invoke_model", func(context.Context) error {
		return apperrors.New(apperrors.CodeLLMOverloaded, "")
	})
	if apperrors.CodeOf(err) != apperrors.CodeTimeout {
		t.Fatalf("expected TIMEOUT on cancellation, got %v", err)
	}
}
