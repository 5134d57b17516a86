package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mikeboe/research-orchestrator/pkg/metrics"
)

// callPolicy bounds a single backend call.
type callPolicy struct {
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	stats          *backendStats
}

func newPolicy(cfg Config, stats *backendStats) callPolicy {
	return callPolicy{
		timeout:        cfg.CallTimeout,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.RetryInitialBackoff,
		stats:          stats,
	}
}

// backendStats counts, per backend, the calls that reached it and the calls
// that never did during one run.
type backendStats struct {
	mu      sync.Mutex
	reached map[string]int
	failed  map[string]int
}

func (s *backendStats) record(backend string, err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reached == nil {
		s.reached = make(map[string]int)
		s.failed = make(map[string]int)
	}
	switch {
	case err == nil || IsMalformed(err):
		s.reached[backend]++
	case errors.Is(err, context.Canceled):
	default:
		s.failed[backend]++
	}
}

// unavailable reports whether both backends were called and none answered.
func (s *backendStats) unavailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range []string{backendGeneration, backendSearch} {
		if s.failed[b] == 0 || s.reached[b] > 0 {
			return false
		}
	}
	return true
}

func (p callPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialBackoff
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0 // bounded by retry count instead
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.maxRetries)), ctx)
}

// callWithRetry runs fn with a per-attempt timeout, retrying transient failures
// with exponential backoff. Malformed responses and caller cancellation stop
// immediately. Once the retry budget is spent the last error is wrapped in a
// BudgetExhaustedError.
func callWithRetry[T any](ctx context.Context, p callPolicy, backend string, logger *slog.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result   T
		attempts int
	)

	op := func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		out, err := fn(callCtx)
		if err == nil {
			result = out
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("Retrying backend call", "backend", backend, "attempt", attempts+1, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, p.backOff(ctx), notify)
	p.stats.record(backend, err)
	switch {
	case err == nil:
		metrics.BackendCalls.WithLabelValues(backend, "ok").Inc()
		return result, nil
	case ctx.Err() != nil:
		metrics.BackendCalls.WithLabelValues(backend, "cancelled").Inc()
		return result, fmt.Errorf("%s call cancelled: %w", backend, ctx.Err())
	case IsMalformed(err):
		metrics.BackendCalls.WithLabelValues(backend, "malformed").Inc()
		return result, err
	case IsTransient(err):
		metrics.BackendCalls.WithLabelValues(backend, "exhausted").Inc()
		return result, &BudgetExhaustedError{Backend: backend, Attempts: attempts, Err: err}
	default:
		metrics.BackendCalls.WithLabelValues(backend, "error").Inc()
		return result, err
	}
}
