package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/kgrag/pkg/utils/httpclient"
)

var errBoom = errors.New("boom")

func newBreaker(maxFailures int) (*CircuitBreaker, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "test",
		MaxFailures:      maxFailures,
		OpenTimeout:      time.Second,
		HalfOpenMaxCalls: 1,
	})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newBreaker(3)
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitBreakerOpen)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newBreaker(2)
	_ = cb.Execute(func() error { return errBoom })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name  string
		probe error
		want  State
	}{
		{"probe succeeds", nil, StateClosed},
		{"probe fails", errBoom, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var transitions []string
			cb, now := newBreaker(1)
			cb.config.OnStateChange = func(_ string, from, to State) {
				transitions = append(transitions, from.String()+"->"+to.String())
			}

			_ = cb.Execute(func() error { return errBoom })
			require.Equal(t, StateOpen, cb.State())

			*now = now.Add(2 * time.Second)
			_ = cb.Execute(func() error { return tt.probe })
			assert.Equal(t, tt.want, cb.State())
			assert.Equal(t, "closed->open", transitions[0])
			assert.Equal(t, "open->half-open", transitions[1])
		})
	}
}

func TestCircuitBreaker_IgnoresCancellation(t *testing.T) {
	cb, _ := newBreaker(1)
	_ = cb.Execute(func() error { return fmt.Errorf("wrapped: %w", context.Canceled) })
	assert.Equal(t, StateClosed, cb.State())
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2, Retryable: func(error) bool { return true }}

	var calls int32
	err := RetryWithBackoff(context.Background(), cfg, func() error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)

	calls = 0
	err = RetryWithBackoff(context.Background(), cfg, func() error {
		atomic.AddInt32(&calls, 1)
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, int32(3), calls)
}

func TestRetryWithBackoff_StopsOnNonRetryable(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, Multiplier: 2}
	var calls int
	err := RetryWithBackoff(context.Background(), cfg, func() error {
		calls++
		return &httpclient.StatusError{StatusCode: http.StatusUnauthorized}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrCircuitBreakerOpen, false},
		{context.DeadlineExceeded, false},
		{&httpclient.StatusError{StatusCode: 503}, true},
		{&httpclient.StatusError{StatusCode: 429}, true},
		{&httpclient.StatusError{StatusCode: 400}, false},
		{errBoom, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	cb, _ := newBreaker(3)
	v, err := Call(context.Background(), DefaultRetryConfig(), cb, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
