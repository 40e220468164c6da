package proxy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codehub/controlplane/control_plane/domain"
)

func TestDecideWSAllowsRunning(t *testing.T) {
	result := DecideWS(&domain.Workspace{Phase: domain.PhaseRunning})
	require.Equal(t, DecisionAllow, result.Decision)
}

func TestDecideWSClosesNonRunning(t *testing.T) {
	for _, phase := range []domain.Phase{domain.PhaseStandby, domain.PhaseArchived, domain.PhasePending, domain.PhaseError} {
		result := DecideWS(&domain.Workspace{Phase: phase})
		require.Equal(t, DecisionWSClose, result.Decision)
		require.Equal(t, 1008, result.WSCloseCode)
	}
}
