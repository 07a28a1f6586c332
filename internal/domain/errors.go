package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID  = "invalid"   // Invalid input or validation failure
	ENOTFOUND = "not_found" // Resource not found
	EINTERNAL = "internal"  // Internal error
	ECANCELED = "canceled"  // Attempt discarded before it finished

	// Admission-time failures. No network work has been performed.
	ENOTAUTHENTICATED = "not_authenticated"
	EQUOTAEXHAUSTED   = "quota_exhausted"
	EFEATURELOCKED    = "feature_locked"
	EBUSY             = "busy"

	// Pipeline failures. The attempt is aborted and no credit is charged.
	EUPLOAD   = "upload_failed"
	EANALYSIS = "analysis_failed"

	// Entitlement contract violations.
	EUNKNOWNPLAN         = "unknown_plan"
	EINSUFFICIENTCREDITS = "insufficient_credits"

	// Non-fatal, raised alongside a completed attempt.
	EPERSISTENCE = "persistence_warning"
)

// Sentinel errors for matching with errors.Is. Any *Error with the same code
// matches its sentinel regardless of Op or Message.
var (
	ErrNotAuthenticated    = &Error{Code: ENOTAUTHENTICATED, Message: "sign in to run a scan"}
	ErrQuotaExhausted      = &Error{Code: EQUOTAEXHAUSTED, Message: "no credits remaining today"}
	ErrFeatureLocked       = &Error{Code: EFEATURELOCKED, Message: "media type not included in plan"}
	ErrBusy                = &Error{Code: EBUSY, Message: "a scan is already in progress"}
	ErrUpload              = &Error{Code: EUPLOAD, Message: "upload failed"}
	ErrAnalysis            = &Error{Code: EANALYSIS, Message: "analysis failed"}
	ErrUnknownPlan         = &Error{Code: EUNKNOWNPLAN, Message: "unknown plan"}
	ErrInsufficientCredits = &Error{Code: EINSUFFICIENTCREDITS, Message: "insufficient credits"}
	ErrPersistence         = &Error{Code: EPERSISTENCE, Message: "result saved with warnings"}
	ErrCanceled            = &Error{Code: ECANCELED, Message: "scan discarded"}
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "entitlement.debit")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		// For internal errors, return generic message
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NotAuthenticated creates an admission error for a missing identity.
func NotAuthenticated(op string) *Error {
	return &Error{Code: ENOTAUTHENTICATED, Op: op, Message: ErrNotAuthenticated.Message}
}

// QuotaExhausted creates an admission error for an empty credit balance.
func QuotaExhausted(op string, plan PlanID) *Error {
	return &Error{
		Code:    EQUOTAEXHAUSTED,
		Op:      op,
		Message: fmt.Sprintf("daily quota for plan %q is used up", plan),
	}
}

// FeatureLocked creates an admission error for a media kind the plan excludes.
func FeatureLocked(op string, plan PlanID, kind MediaKind) *Error {
	return &Error{
		Code:    EFEATURELOCKED,
		Op:      op,
		Message: fmt.Sprintf("plan %q does not include %s analysis", plan, kind),
	}
}

// Busy creates an admission error for a second concurrent submission.
func Busy(op string) *Error {
	return &Error{Code: EBUSY, Op: op, Message: ErrBusy.Message}
}

// UploadFailed wraps a storage failure.
func UploadFailed(err error, op string) *Error {
	return Wrap(err, EUPLOAD, op, ErrUpload.Message)
}

// AnalysisFailed wraps an analysis service failure.
func AnalysisFailed(err error, op string) *Error {
	return Wrap(err, EANALYSIS, op, ErrAnalysis.Message)
}

// UnknownPlan creates an error for a plan id missing from the catalog.
func UnknownPlan(op string, id PlanID) *Error {
	return &Error{
		Code:    EUNKNOWNPLAN,
		Op:      op,
		Message: fmt.Sprintf("unknown plan %q", id),
	}
}

// InsufficientCredits creates an error for a debit larger than the balance.
func InsufficientCredits(op string, have, want int) *Error {
	return &Error{
		Code:    EINSUFFICIENTCREDITS,
		Op:      op,
		Message: fmt.Sprintf("cannot debit %d credits from balance %d", want, have),
	}
}

// PersistenceWarning wraps a failed ledger or history write.
func PersistenceWarning(err error, op, message string) *Error {
	return Wrap(err, EPERSISTENCE, op, message)
}

// Canceled creates an error for an attempt discarded while in flight.
func Canceled(op string) *Error {
	return &Error{Code: ECANCELED, Op: op, Message: ErrCanceled.Message}
}
