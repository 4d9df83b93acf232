package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), "test", RetryConfig{}, func() (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("got = %d, want 42", got)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	got, err := Retry(context.Background(), "test", cfg, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errTest
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got = %q, want ok", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	_, err := Retry(context.Background(), "test", cfg, func() (int, error) {
		calls++
		return 0, errTest
	})
	if err == nil {
		t.Fatal("want error, got nil")
	}
	if !errors.Is(err, errTest) {
		t.Errorf("error = %v, want wrapping errTest", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_StopsEarlyWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}
	_, err := Retry(ctx, "test", cfg, func() (int, error) {
		calls++
		return 0, errTest
	})
	if err == nil {
		t.Fatal("want error, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want wrapping context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 (context already cancelled before first attempt)", calls)
	}
}
