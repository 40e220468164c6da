package domain

// JudgeOutput is the result of evaluating a workspace's conditions.
type JudgeOutput struct {
	Phase       Phase
	Healthy     bool
	ErrorReason ErrorReason
}

// Judge is pure: for a fixed (conditions, deletedAt, archiveKey) it always
// returns the same output. It never reads the clock, never generates ids,
// never reads anything but its arguments.
//
// Evaluation order is fixed and significant — invariant violations are
// checked first, then deletion, then the resource pyramid, then the
// archive-key fallback, then PENDING.
func Judge(c Conditions, deletedAt *bool, storedArchiveKey string) JudgeOutput {
	containerReady := c.containerReady()
	volumeReady := c.volumeReady()
	archiveReady := c.archiveReady()

	// 1. Invariant violation takes absolute priority.
	if containerReady && !volumeReady {
		return JudgeOutput{Phase: PhaseError, Healthy: false, ErrorReason: ErrorContainerWithoutVolume}
	}

	// 2. A declared archive corruption/expiry/not-found is always ERROR.
	switch c.ArchiveReason {
	case ErrorArchiveCorrupted, ErrorArchiveExpired, ErrorArchiveNotFound:
		return JudgeOutput{Phase: PhaseError, Healthy: false, ErrorReason: c.ArchiveReason}
	}

	// 3. Deletion in progress.
	if deletedAt != nil && *deletedAt {
		if containerReady || volumeReady || archiveReady {
			return JudgeOutput{Phase: PhaseDeleting, Healthy: true}
		}
		return JudgeOutput{Phase: PhaseDeleted, Healthy: true}
	}

	// 4. Resource pyramid, descending specificity.
	switch {
	case containerReady && volumeReady:
		return JudgeOutput{Phase: PhaseRunning, Healthy: true}
	case volumeReady:
		return JudgeOutput{Phase: PhaseStandby, Healthy: true}
	case archiveReady:
		return JudgeOutput{Phase: PhaseArchived, Healthy: true}
	}

	// 5. Fallback: nothing observed, but a committed archive_key is on file.
	if storedArchiveKey != "" {
		if transientArchiveFailures[c.ArchiveReason] {
			return JudgeOutput{Phase: PhaseArchived, Healthy: false, ErrorReason: c.ArchiveReason}
		}
		reason := c.ArchiveReason
		if reason == ErrorNone {
			reason = ErrorUnknown
		}
		return JudgeOutput{Phase: PhaseError, Healthy: false, ErrorReason: reason}
	}

	// 6. Nothing observed, nothing on file.
	return JudgeOutput{Phase: PhasePending, Healthy: true}
}
