package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrait/storefront/internal/config"
)

func newTestAdmissionController(t *testing.T, limit int, window time.Duration) *AdmissionController {
	t.Helper()

	cfg := &config.RateLimitConfig{
		Window: window,
		Prefixes: []config.PrefixBudget{
			{Prefix: "/api/generate", Limit: limit},
			{Prefix: "/api/upload", Limit: limit * 2},
		},
	}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return NewAdmissionController(cfg, logger)
}

func TestAdmissionController_Check(t *testing.T) {
	t.Run("allows up to the limit and denies the next request", func(t *testing.T) {
		ac := newTestAdmissionController(t, 3, time.Minute)

		for i := 0; i < 3; i++ {
			decision := ac.Check("10.0.0.1", "/api/generate")
			assert.True(t, decision.Allowed, "request %d should be admitted", i+1)
			assert.Equal(t, 3-i-1, decision.Remaining)
		}

		decision := ac.Check("10.0.0.1", "/api/generate")
		assert.False(t, decision.Allowed)
		assert.Equal(t, 0, decision.Remaining)
		assert.GreaterOrEqual(t, decision.RetryAfterSeconds, 1)
		assert.LessOrEqual(t, decision.RetryAfterSeconds, 60)
	})

	t.Run("resets the count when the window elapses", func(t *testing.T) {
		ac := newTestAdmissionController(t, 2, time.Minute)

		current := time.Now()
		ac.now = func() time.Time { return current }

		assert.True(t, ac.Check("10.0.0.1", "/api/generate").Allowed)
		assert.True(t, ac.Check("10.0.0.1", "/api/generate").Allowed)
		assert.False(t, ac.Check("10.0.0.1", "/api/generate").Allowed)

		current = current.Add(time.Minute)

		decision := ac.Check("10.0.0.1", "/api/generate")
		assert.True(t, decision.Allowed)
		assert.Equal(t, 1, decision.Remaining, "elapsed window starts a fresh count")
	})

	t.Run("isolates counters by client IP", func(t *testing.T) {
		ac := newTestAdmissionController(t, 1, time.Minute)

		assert.True(t, ac.Check("10.0.0.1", "/api/generate").Allowed)
		assert.False(t, ac.Check("10.0.0.1", "/api/generate").Allowed)

		assert.True(t, ac.Check("10.0.0.2", "/api/generate").Allowed,
			"a different client keeps its own budget")
	})

	t.Run("isolates counters by path prefix", func(t *testing.T) {
		ac := newTestAdmissionController(t, 1, time.Minute)

		assert.True(t, ac.Check("10.0.0.1", "/api/generate").Allowed)
		assert.False(t, ac.Check("10.0.0.1", "/api/generate").Allowed)

		assert.True(t, ac.Check("10.0.0.1", "/api/upload").Allowed,
			"exhausting one prefix does not touch another")
	})

	t.Run("ungated paths bypass the limiter", func(t *testing.T) {
		ac := newTestAdmissionController(t, 1, time.Minute)

		for i := 0; i < 50; i++ {
			assert.True(t, ac.Check("10.0.0.1", "/health").Allowed)
		}
	})

	t.Run("retry-after is clamped to at least one second", func(t *testing.T) {
		ac := newTestAdmissionController(t, 1, time.Minute)

		current := time.Now()
		ac.now = func() time.Time { return current }

		assert.True(t, ac.Check("10.0.0.1", "/api/generate").Allowed)

		// 100ms before the window ends the naive computation truncates to 0.
		current = current.Add(time.Minute - 100*time.Millisecond)

		decision := ac.Check("10.0.0.1", "/api/generate")
		assert.False(t, decision.Allowed)
		assert.Equal(t, 1, decision.RetryAfterSeconds)
	})
}

func TestAdmissionController_ConcurrentChecks(t *testing.T) {
	const limit = 50
	ac := newTestAdmissionController(t, limit, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < limit*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ac.Check("10.0.0.1", "/api/generate").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowed, "exactly the budget is admitted under contention")
}

func TestAdmissionController_Sweep(t *testing.T) {
	ac := newTestAdmissionController(t, 5, time.Minute)

	current := time.Now()
	ac.now = func() time.Time { return current }

	for i := 0; i < 10; i++ {
		ac.Check(fmt.Sprintf("10.0.0.%d", i), "/api/generate")
	}
	require.Equal(t, 0, ac.Sweep(), "live windows are kept")

	current = current.Add(2 * time.Minute)
	assert.Equal(t, 10, ac.Sweep(), "stale windows are evicted")
}

func TestAdmissionController_MatchPrefix(t *testing.T) {
	ac := newTestAdmissionController(t, 5, time.Minute)

	budget, ok := ac.MatchPrefix("/api/generate")
	require.True(t, ok)
	assert.Equal(t, "/api/generate", budget.Prefix)

	budget, ok = ac.MatchPrefix("/api/generate/extra")
	require.True(t, ok, "prefix matching covers sub-paths")
	assert.Equal(t, "/api/generate", budget.Prefix)

	_, ok = ac.MatchPrefix("/auth/login")
	assert.False(t, ok)
}
