// Package fault defines the error taxonomy shared by every core operation.
// Callers branch on Kind and Code rather than matching message strings.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for caller-side branching.
type Kind int

const (
	// KindValidation: the request was malformed; rejected before any lock.
	KindValidation Kind = iota
	// KindNotFound: the named occurrence, session, or person does not exist.
	KindNotFound
	// KindConflict: state no longer matches the precondition. Expected under
	// concurrency; reported, not retried.
	KindConflict
	// KindPolicy: the operation is valid but a household rule forbids it.
	KindPolicy
	// KindTransient: storage contention that survived bounded retries.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPolicy:
		return "policy"
	case KindTransient:
		return "transient"
	}
	return "unknown"
}

// Reason codes surfaced to callers. The notification collaborator and UIs
// branch on these, so they are part of the contract.
const (
	CodeOccurrenceNotOpen    = "occurrence_not_open"
	CodeOccurrenceTaken      = "occurrence_taken"
	CodeAlreadyCompleted     = "already_completed"
	CodeAlreadyUndone        = "already_undone"
	CodeDailyClaimLimit      = "daily_claim_limit"
	CodeUndoWindowExpired    = "undo_window_expired"
	CodeAdminOnly            = "admin_only"
	CodeSelfJudge            = "self_judge"
	CodeNotSessionOwner      = "not_session_owner"
	CodeBadPIN               = "bad_pin"
	CodeSessionActiveElse    = "session_already_active"
	CodeSessionNotStopped    = "session_not_stopped"
	CodeSessionNotActive     = "session_not_active"
	CodeSessionNotDenied     = "session_not_denied"
	CodeSessionTerminal      = "session_terminal"
	CodePersonNotAssignable  = "person_not_assignable"
	CodePersonNotActive      = "person_not_active"
	CodeSweepRunning         = "sweep_running"
	CodeLockTimeout          = "lock_timeout"
	CodeStorageContention    = "storage_contention"
)

// Error carries a kind, a stable reason code, and a human message.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Code: "invalid", Msg: fmt.Sprintf(format, args...)}
}

func NotFound(what string, id any) error {
	return &Error{Kind: KindNotFound, Code: "not_found", Msg: fmt.Sprintf("%s %v not found", what, id)}
}

func Conflict(code, format string, args ...any) error {
	return &Error{Kind: KindConflict, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Policy(code, format string, args ...any) error {
	return &Error{Kind: KindPolicy, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Transient(code string, err error) error {
	return &Error{Kind: KindTransient, Code: code, Msg: "storage contention", Err: err}
}

// Is reports whether err is a fault.Error of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// CodeOf returns the reason code of err, or "" when err is not a fault.Error.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
