package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitState is one breaker's current mode.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitOpenError is returned instead of calling through when a breaker is
// open — per §7, the caller must fail fast rather than block behind a
// service that's already failing.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %s", e.Service, e.RetryAfter.Round(time.Second))
}

// CircuitBreaker trips after FailureThreshold consecutive failures and
// stays open for Timeout before allowing SuccessThreshold consecutive
// probe successes to close it again. One instance guards one logical
// service (the spec names "external" for the Runtime Port / object store
// and "internal" for Postgres/Redis).
type CircuitBreaker struct {
	Service          string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration

	mu              sync.Mutex
	state           CircuitState
	consecutiveFail int
	consecutiveOK   int
	openedAt        time.Time
}

func NewCircuitBreaker(service string, failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		Service:          service,
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		Timeout:          timeout,
		state:            CircuitClosed,
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Call runs fn if the breaker admits it, else returns *CircuitOpenError
// without invoking fn at all.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.openedAt) >= cb.Timeout {
		cb.state = CircuitHalfOpen
		cb.consecutiveOK = 0
	}
	if cb.state == CircuitOpen {
		return &CircuitOpenError{Service: cb.Service, RetryAfter: cb.Timeout - time.Since(cb.openedAt)}
	}
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.consecutiveFail = 0
		if cb.state == CircuitHalfOpen {
			cb.consecutiveOK++
			if cb.consecutiveOK >= cb.SuccessThreshold {
				cb.state = CircuitClosed
			}
		}
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
		return
	}

	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.FailureThreshold {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
	}
}
