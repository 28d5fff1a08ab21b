package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-relay/internal/config"
)

type flaky struct{ transient bool }

func (f flaky) Error() string   { return "flaky" }
func (f flaky) Transient() bool { return f.transient }

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestDoVal_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	val, err := DoVal(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", flaky{transient: true}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoVal_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(5), func(context.Context) (int, error) {
		calls++
		return 0, flaky{transient: false}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(3), func(context.Context) (int, error) {
		calls++
		return 0, flaky{transient: true}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoVal_CustomShouldRetry(t *testing.T) {
	sentinel := errors.New("retry me")
	cfg := fastRetry(4)
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, sentinel) }

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 4, calls)
}

func TestDoVal_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	cfg.OnRetry = func(int, error) { cancel() }

	calls := 0
	start := time.Now()
	_, err := DoVal(ctx, cfg, func(context.Context) (int, error) {
		calls++
		return 0, flaky{transient: true}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDo(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(2), func(context.Context) error {
		calls++
		if calls == 1 {
			return flaky{transient: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, backoff(1, cfg))
	assert.Equal(t, 200*time.Millisecond, backoff(2, cfg))
	assert.Equal(t, 300*time.Millisecond, backoff(3, cfg))
	assert.Equal(t, 300*time.Millisecond, backoff(10, cfg))

	cfg.JitterFraction = 0.5
	for range 50 {
		d := backoff(1, cfg)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := withDefaults(RetryConfig{JitterFraction: -1})
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Zero(t, cfg.JitterFraction)
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(config.RetryConfig{
		MaxAttempts:      4,
		InitialBackoffMs: 250,
		MaxBackoffMs:     1000,
		Multiplier:       3,
		JitterFraction:   0,
	})
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, time.Second, cfg.MaxBackoff)
	assert.Equal(t, 3.0, cfg.Multiplier)
	assert.Zero(t, cfg.JitterFraction)

	def := FromRetryConfig(config.RetryConfig{JitterFraction: -1})
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, def.MaxAttempts)
	assert.Equal(t, DefaultRetryConfig().JitterFraction, def.JitterFraction)
}

func TestRetryLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		RetryLogger("get_lead")(1, errors.New("boom"))
	})
}
