package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestJudge_ContainerWithoutVolumeIsInvariantViolation(t *testing.T) {
	c := Conditions{Container: &ContainerCondition{Running: true, Healthy: true}}
	out := Judge(c, nil, "")
	require.Equal(t, PhaseError, out.Phase)
	require.Equal(t, ErrorContainerWithoutVolume, out.ErrorReason)
}

func TestJudge_InvariantViolationBeatsArchiveReason(t *testing.T) {
	c := Conditions{
		Container:     &ContainerCondition{Running: true, Healthy: true},
		ArchiveReason: ErrorArchiveCorrupted,
	}
	out := Judge(c, nil, "")
	require.Equal(t, ErrorContainerWithoutVolume, out.ErrorReason, "step 1 must win over step 2")
}

func TestJudge_ResourcePyramid(t *testing.T) {
	cases := []struct {
		name  string
		cond  Conditions
		phase Phase
	}{
		{
			"running",
			Conditions{Container: &ContainerCondition{Running: true, Healthy: true}, Volume: &VolumeCondition{Exists: true}},
			PhaseRunning,
		},
		{"standby", Conditions{Volume: &VolumeCondition{Exists: true}}, PhaseStandby},
		{"archived", Conditions{Archive: &ArchiveCondition{Exists: true, ArchiveKey: "k"}}, PhaseArchived},
		{"pending", Conditions{}, PhasePending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Judge(tc.cond, nil, "")
			require.Equal(t, tc.phase, out.Phase)
		})
	}
}

func TestJudge_DeletionObservedResourcesStillPresent(t *testing.T) {
	c := Conditions{Volume: &VolumeCondition{Exists: true}}
	out := Judge(c, boolPtr(true), "")
	require.Equal(t, PhaseDeleting, out.Phase)
}

func TestJudge_DeletionNothingObserved(t *testing.T) {
	out := Judge(Conditions{}, boolPtr(true), "")
	require.Equal(t, PhaseDeleted, out.Phase)
}

func TestJudge_FallbackTransientArchiveFailureStaysArchived(t *testing.T) {
	c := Conditions{ArchiveReason: ErrorArchiveTimeout}
	out := Judge(c, nil, "codehub-ws-W1/op1/home.tar.zst")
	require.Equal(t, PhaseArchived, out.Phase)
	require.False(t, out.Healthy)
	require.Equal(t, ErrorArchiveTimeout, out.ErrorReason)
}

func TestJudge_FallbackNonTransientReasonIsError(t *testing.T) {
	out := Judge(Conditions{}, nil, "codehub-ws-W1/op1/home.tar.zst")
	require.Equal(t, PhaseError, out.Phase)
	require.Equal(t, ErrorUnknown, out.ErrorReason)
}

// Purity: identical inputs always produce identical output, across repeated
// invocations, for a representative spread of fixtures.
func TestJudge_Purity(t *testing.T) {
	fixtures := []struct {
		c          Conditions
		deletedAt  *bool
		archiveKey string
	}{
		{Conditions{}, nil, ""},
		{Conditions{Volume: &VolumeCondition{Exists: true}}, nil, ""},
		{Conditions{Archive: &ArchiveCondition{Exists: true}}, boolPtr(false), "key"},
		{Conditions{ArchiveReason: ErrorArchiveExpired}, nil, "key"},
	}
	for _, f := range fixtures {
		first := Judge(f.c, f.deletedAt, f.archiveKey)
		for i := 0; i < 5; i++ {
			require.Equal(t, first, Judge(f.c, f.deletedAt, f.archiveKey))
		}
	}
}
