package metrics

import "time"

// SubmissionStarted should be called when an attempt is admitted.
func SubmissionStarted() {
	SubmissionsInFlight.Inc()
}

// SubmissionEnded balances SubmissionStarted.
func SubmissionEnded() {
	SubmissionsInFlight.Dec()
}

// SubmissionCompleted records a completed attempt.
func SubmissionCompleted() {
	SubmissionsTotal.WithLabelValues("complete", "").Inc()
}

// SubmissionRejected records an admission rejection with its error code.
func SubmissionRejected(code string) {
	SubmissionsTotal.WithLabelValues("rejected", code).Inc()
}

// SubmissionFailed records a pipeline failure with its error code.
func SubmissionFailed(code string) {
	SubmissionsTotal.WithLabelValues("failed", code).Inc()
}

// SubmissionCanceled records an attempt discarded by a reset.
func SubmissionCanceled() {
	SubmissionsTotal.WithLabelValues("canceled", "").Inc()
}

// ExternalCall records the latency of an upload or analyze call.
func ExternalCall(call string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ExternalCallDuration.WithLabelValues(call, status).Observe(duration.Seconds())
}
