package research

import (
	"context"
	"errors"
	"fmt"
)

// ErrBackendUnavailable is reported when neither the generation nor the
// search backend answered a single call during a run.
var ErrBackendUnavailable = errors.New("research: generation and search backends unavailable")

// TransientBackendError wraps a failure that is worth retrying (network, timeout, 5xx).
type TransientBackendError struct {
	Backend string
	Err     error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("%s backend: transient error: %v", e.Backend, e.Err)
}

func (e *TransientBackendError) Unwrap() error { return e.Err }

// MalformedResponseError means the backend answered but the answer could not
// be used. It is never retried; callers fall back to their heuristic instead.
type MalformedResponseError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend: malformed response: %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s backend: malformed response: %s", e.Backend, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// BudgetExhaustedError is returned once every retry of a call has been used.
type BudgetExhaustedError struct {
	Backend  string
	Attempts int
	Err      error
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("%s backend: gave up after %d attempts: %v", e.Backend, e.Attempts, e.Err)
}

func (e *BudgetExhaustedError) Unwrap() error { return e.Err }

// FatalConfigurationError rejects an invalid configuration before any work starts.
type FatalConfigurationError struct {
	Field  string
	Reason string
}

func (e *FatalConfigurationError) Error() string {
	return fmt.Sprintf("invalid research configuration: %s: %s", e.Field, e.Reason)
}

// IsMalformed reports whether err carries a MalformedResponseError.
func IsMalformed(err error) bool {
	var m *MalformedResponseError
	return errors.As(err, &m)
}

// IsTransient reports whether err should be retried. Unclassified errors are
// treated as transient; cancellation of the caller's context never is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsMalformed(err) {
		return false
	}
	var fatal *FatalConfigurationError
	return !errors.As(err, &fatal)
}
