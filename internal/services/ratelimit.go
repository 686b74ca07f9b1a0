package services

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/config"
)

// AdmissionController gates mutating routes with a fixed-window counter per
// (client IP, path prefix). Counters live in process memory only; a restart
// resets all limits. That tradeoff is acceptable for a single-instance
// deployment and would need an external counter store otherwise.
type AdmissionController struct {
	mu      sync.Mutex
	windows map[admissionKey]*rateWindow

	budgets []config.PrefixBudget
	window  time.Duration
	now     func() time.Time

	logger *logrus.Logger
	denied *prometheus.CounterVec
}

type admissionKey struct {
	IP     string
	Prefix string
}

type rateWindow struct {
	start time.Time
	count int
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
	Limit             int
	Remaining         int
	Prefix            string
}

func NewAdmissionController(cfg *config.RateLimitConfig, logger *logrus.Logger) *AdmissionController {
	ac := &AdmissionController{
		windows: make(map[admissionKey]*rateWindow),
		budgets: cfg.Prefixes,
		window:  cfg.Window,
		now:     time.Now,
		logger:  logger,
	}

	ac.denied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_denied_total",
		Help: "Requests denied by the rate limiter, by path prefix",
	}, []string{"prefix"})

	if err := prometheus.Register(ac.denied); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			ac.denied = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			logger.WithError(err).Warn("Failed to register admission_denied_total metric")
		}
	}

	return ac
}

// MatchPrefix returns the configured budget for a path, if any. Paths with
// no matching prefix bypass admission control entirely.
func (ac *AdmissionController) MatchPrefix(path string) (config.PrefixBudget, bool) {
	for _, b := range ac.budgets {
		if len(path) >= len(b.Prefix) && path[:len(b.Prefix)] == b.Prefix {
			return b, true
		}
	}
	return config.PrefixBudget{}, false
}

// Check performs the atomic read-modify-write for one request. Two
// simultaneous requests on the same key cannot both take the last slot.
func (ac *AdmissionController) Check(clientIP, path string) Decision {
	budget, ok := ac.MatchPrefix(path)
	if !ok {
		return Decision{Allowed: true}
	}

	key := admissionKey{IP: clientIP, Prefix: budget.Prefix}
	now := ac.now()

	ac.mu.Lock()
	defer ac.mu.Unlock()

	w, exists := ac.windows[key]
	if !exists || now.Sub(w.start) >= ac.window {
		// New window: the window is reset, not accumulated.
		ac.windows[key] = &rateWindow{start: now, count: 1}
		return Decision{
			Allowed:   true,
			Limit:     budget.Limit,
			Remaining: budget.Limit - 1,
			Prefix:    budget.Prefix,
		}
	}

	w.count++
	if w.count > budget.Limit {
		retry := int(w.start.Add(ac.window).Sub(now).Seconds())
		if retry < 1 {
			retry = 1
		}
		ac.denied.WithLabelValues(budget.Prefix).Inc()
		return Decision{
			Allowed:           false,
			RetryAfterSeconds: retry,
			Limit:             budget.Limit,
			Remaining:         0,
			Prefix:            budget.Prefix,
		}
	}

	return Decision{
		Allowed:   true,
		Limit:     budget.Limit,
		Remaining: budget.Limit - w.count,
		Prefix:    budget.Prefix,
	}
}

// Sweep drops windows idle for at least one full window span. Called
// periodically; correctness does not depend on it since Check resets
// elapsed windows on access.
func (ac *AdmissionController) Sweep() int {
	now := ac.now()

	ac.mu.Lock()
	defer ac.mu.Unlock()

	removed := 0
	for key, w := range ac.windows {
		if now.Sub(w.start) >= ac.window {
			delete(ac.windows, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on an interval until stop is closed.
func (ac *AdmissionController) StartSweeper(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(ac.window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := ac.Sweep(); n > 0 {
					ac.logger.WithField("evicted", n).Debug("Swept stale rate windows")
				}
			case <-stop:
				return
			}
		}
	}()
}
