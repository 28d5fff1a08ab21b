package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-relay/internal/config"
)

var errUpstream = errors.New("upstream down")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(cfg)
	cb.clockFunc = clock.Now
	return cb, clock
}

func fail(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errUpstream })
	}
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb, _ := newTestBreaker(DefaultCircuitBreakerConfig())

	val, err := ExecuteVal(context.Background(), cb, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, val)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	fail(cb, 2)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 2, cb.Failures())

	fail(cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	fail(cb, 2)
	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, 0, cb.Failures())

	fail(cb, 2)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})

	fail(cb, 1)
	require.Equal(t, CircuitOpen, cb.State())

	clock.Advance(10 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: 10 * time.Second})

	fail(cb, 2)
	clock.Advance(11 * time.Second)
	fail(cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())

	clock.Advance(5 * time.Second)
	assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return nil }), ErrCircuitOpen)
}

func TestCircuitBreaker_ShouldTripFiltersErrors(t *testing.T) {
	ignored := errors.New("not found")
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return errors.Is(err, errUpstream) },
	})

	err := cb.Execute(context.Background(), func(context.Context) error { return ignored })
	assert.ErrorIs(t, err, ignored)
	assert.Equal(t, CircuitClosed, cb.State())

	fail(cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	fail(cb, 1)
	clock.Advance(time.Second)
	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	fail(cb, 1)
	cb.Reset()

	assert.Equal(t, []string{
		"closed->open",
		"open->half-open",
		"half-open->closed",
		"closed->open",
		"open->closed",
	}, transitions)
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(context.Context) error {
				if i%2 == 0 {
					return errUpstream
				}
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

func TestFromCircuitConfig(t *testing.T) {
	cfg := FromCircuitConfig(config.CircuitConfig{FailureThreshold: 2, ResetTimeoutSecs: 45})
	assert.Equal(t, 2, cfg.FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.ResetTimeout)

	def := FromCircuitConfig(config.CircuitConfig{})
	assert.Equal(t, 5, def.FailureThreshold)
	assert.Equal(t, 30*time.Second, def.ResetTimeout)
}

func TestStateLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		log := StateLogger("crm")
		log(CircuitClosed, CircuitOpen)
		log(CircuitOpen, CircuitHalfOpen)
	})
}
