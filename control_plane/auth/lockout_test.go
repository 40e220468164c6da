package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoginLockoutAllowsUntilThreshold(t *testing.T) {
	l := NewLoginLockout(5, time.Minute)
	for i := 0; i < 4; i++ {
		require.True(t, l.Allow("alice"))
		l.RecordFailure("alice")
	}
	require.True(t, l.Allow("alice"), "4 failures must not lock out a 5-failure threshold")
}

func TestLoginLockoutLocksAfterThreshold(t *testing.T) {
	l := NewLoginLockout(5, time.Minute)
	for i := 0; i < 5; i++ {
		l.RecordFailure("alice")
	}
	require.False(t, l.Allow("alice"))
}

func TestLoginLockoutSuccessResetsStreak(t *testing.T) {
	l := NewLoginLockout(5, time.Minute)
	for i := 0; i < 4; i++ {
		l.RecordFailure("alice")
	}
	l.RecordSuccess("alice")
	l.RecordFailure("alice")
	require.True(t, l.Allow("alice"), "success must reset the consecutive-failure streak")
}

func TestLoginLockoutExpiresAfterDuration(t *testing.T) {
	l := NewLoginLockout(5, -time.Second) // already-expired lockout window
	for i := 0; i < 5; i++ {
		l.RecordFailure("alice")
	}
	require.True(t, l.Allow("alice"), "lockout window in the past must already be expired")
}

func TestLoginLockoutIsolatesUsernames(t *testing.T) {
	l := NewLoginLockout(5, time.Minute)
	for i := 0; i < 5; i++ {
		l.RecordFailure("alice")
	}
	require.False(t, l.Allow("alice"))
	require.True(t, l.Allow("bob"))
}
