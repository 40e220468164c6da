package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("external", 2, 1, time.Minute)
	fail := func(ctx context.Context) error { return errors.New("down") }

	require.Error(t, cb.Call(context.Background(), fail))
	require.Equal(t, CircuitClosed, cb.State())

	require.Error(t, cb.Call(context.Background(), fail))
	require.Equal(t, CircuitOpen, cb.State())

	err := cb.Call(context.Background(), func(ctx context.Context) error { return nil })
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	require.Equal(t, "external", openErr.Service)
}

func TestCircuitHalfOpenAfterTimeoutThenCloses(t *testing.T) {
	cb := NewCircuitBreaker("external", 1, 2, 10*time.Millisecond)
	require.Error(t, cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("down") }))
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(15 * time.Millisecond)

	require.NoError(t, cb.Call(context.Background(), func(ctx context.Context) error { return nil }))
	require.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Call(context.Background(), func(ctx context.Context) error { return nil }))
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitHalfOpenReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker("external", 1, 2, 10*time.Millisecond)
	require.Error(t, cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("down") }))
	time.Sleep(15 * time.Millisecond)

	require.Error(t, cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("still down") }))
	require.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitResetsFailureCountOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("external", 3, 1, time.Minute)
	fail := func(ctx context.Context) error { return errors.New("down") }
	ok := func(ctx context.Context) error { return nil }

	require.Error(t, cb.Call(context.Background(), fail))
	require.Error(t, cb.Call(context.Background(), fail))
	require.NoError(t, cb.Call(context.Background(), ok))
	require.Error(t, cb.Call(context.Background(), fail))
	require.Error(t, cb.Call(context.Background(), fail))
	require.Equal(t, CircuitClosed, cb.State(), "success should have reset the consecutive-failure count")
}
