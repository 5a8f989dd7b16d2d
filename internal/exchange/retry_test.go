package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/skalibog/emacross/internal/config"
)

var fastRetry = config.RetryConfig{
	Attempts:   3,
	BaseDelay:  time.Millisecond,
	MaxDelay:   2 * time.Millisecond,
	Multiplier: 2,
}

func TestRetryRecoversFromTransient(t *testing.T) {
	p := NewRetryPolicy(fastRetry)
	calls := 0
	err := p.Do(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{Status: 429}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d", calls)
	}
}

func TestRetryExhaustion(t *testing.T) {
	p := NewRetryPolicy(fastRetry)
	calls := 0
	err := p.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return &StatusError{Status: 503}
	})
	if calls != 3 {
		t.Errorf("calls = %d", calls)
	}
	if !errors.Is(err, ErrFetch) {
		t.Errorf("exhaustion must surface ErrFetch, got %v", err)
	}
	if !errors.Is(err, ErrTransient) {
		t.Errorf("last transient cause must be kept, got %v", err)
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	p := NewRetryPolicy(fastRetry)
	calls := 0
	err := p.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return fmt.Errorf("%w: bad request", ErrFetch)
	})
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
	if !errors.Is(err, ErrFetch) {
		t.Errorf("got %v", err)
	}
}

func TestRetryHonoursCancellation(t *testing.T) {
	p := NewRetryPolicy(config.RetryConfig{Attempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2})
	ctx, cancel := context.WithCancel(context.Background())
	err := p.Do(ctx, "test", func(context.Context) error {
		cancel()
		return ErrTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}

func TestStatusErrorClass(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !errors.Is(&StatusError{Status: code}, ErrTransient) {
			t.Errorf("%d must be transient", code)
		}
	}
	for _, code := range []int{400, 401, 404} {
		err := &StatusError{Status: code}
		if errors.Is(err, ErrTransient) || !errors.Is(err, ErrFetch) {
			t.Errorf("%d must be a fetch error", code)
		}
	}
}
