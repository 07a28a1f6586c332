// Package domain contains core business types and rules.
//
// This file defines the lifecycle states of a submission attempt.
package domain

// =============================================================================
// Attempt State
// =============================================================================

// AttemptState represents the lifecycle state of a submission attempt.
type AttemptState string

const (
	// AttemptIdle means no attempt is in progress.
	AttemptIdle AttemptState = "idle"

	// AttemptAdmitting means the plan and credit checks are running.
	// No network work has happened yet.
	AttemptAdmitting AttemptState = "admitting"

	// AttemptUploading means the media is being sent to storage.
	AttemptUploading AttemptState = "uploading"

	// AttemptSubmitting means the stored media is being analyzed.
	AttemptSubmitting AttemptState = "submitting"

	// AttemptFinalizing means credit and history are being recorded, or the
	// result is held back for the plan's display delay.
	AttemptFinalizing AttemptState = "finalizing"

	// AttemptComplete means the report is available.
	AttemptComplete AttemptState = "complete"

	// AttemptRejected means admission failed. Nothing was uploaded or charged.
	AttemptRejected AttemptState = "rejected"

	// AttemptFailed means upload or analysis failed. Nothing was charged.
	AttemptFailed AttemptState = "failed"
)

// String returns the string representation of the state.
func (s AttemptState) String() string {
	return string(s)
}

// IsValid returns true if the state is a recognized value.
func (s AttemptState) IsValid() bool {
	switch s {
	case AttemptIdle, AttemptAdmitting, AttemptUploading, AttemptSubmitting,
		AttemptFinalizing, AttemptComplete, AttemptRejected, AttemptFailed:
		return true
	}
	return false
}

// IsTerminal returns true for states that only a new submission or a reset
// can leave.
func (s AttemptState) IsTerminal() bool {
	return s == AttemptComplete || s == AttemptRejected || s == AttemptFailed
}

// IsActive returns true while an attempt occupies the pipeline.
func (s AttemptState) IsActive() bool {
	return s != AttemptIdle && !s.IsTerminal()
}

// CanTransitionTo checks if an attempt may move to the target state.
//
// Valid transitions:
// - idle -> admitting
// - admitting -> uploading | rejected
// - uploading -> submitting | failed
// - submitting -> finalizing | failed
// - finalizing -> complete
// - any -> idle (reset)
func (s AttemptState) CanTransitionTo(target AttemptState) bool {
	if target == AttemptIdle {
		return true
	}

	switch s {
	case AttemptIdle, AttemptComplete, AttemptRejected, AttemptFailed:
		return target == AttemptAdmitting
	case AttemptAdmitting:
		return target == AttemptUploading || target == AttemptRejected
	case AttemptUploading:
		return target == AttemptSubmitting || target == AttemptFailed
	case AttemptSubmitting:
		return target == AttemptFinalizing || target == AttemptFailed
	case AttemptFinalizing:
		return target == AttemptComplete
	}

	return false
}
