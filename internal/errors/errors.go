package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// Family groups error kinds the way operators reason about them.
type Family string

const (
	FamilyPolicy    Family = "PolicyError"
	FamilyClock     Family = "ClockError"
	FamilyEscrow    Family = "EscrowError"
	FamilyBackend   Family = "BackendError"
	FamilyRetrieval Family = "RetrievalError"
	FamilyEngine    Family = "EngineError"
)

// Kind identifies a specific failure of the rotation engine or one of its
// collaborators. Every failed outcome carries exactly one Kind.
type Kind string

const (
	KindUnsatisfiable        Kind = "Unsatisfiable"
	KindConversionOverflow   Kind = "ConversionOverflow"
	KindNotFound             Kind = "NotFound"
	KindAccessDenied         Kind = "AccessDenied"
	KindUnreachable          Kind = "Unreachable"
	KindSchemaNotProvisioned Kind = "SchemaNotProvisioned"
	KindNoWritableReplica    Kind = "NoWritableReplica"
	KindApplyRejected        Kind = "ApplyRejected"
	KindPartialRotation      Kind = "PartialRotation"
	KindPreconditionFailed   Kind = "PreconditionFailed"
	KindVerificationFailed   Kind = "VerificationFailed"
	KindConcurrentRun        Kind = "ConcurrentRunDetected"
	KindUnknown              Kind = "Unknown"
)

var kindFamilies = map[Kind]Family{
	KindUnsatisfiable:        FamilyPolicy,
	KindConversionOverflow:   FamilyClock,
	KindNotFound:             FamilyEscrow,
	KindAccessDenied:         FamilyEscrow,
	KindUnreachable:          FamilyBackend,
	KindSchemaNotProvisioned: FamilyBackend,
	KindNoWritableReplica:    FamilyBackend,
	KindApplyRejected:        FamilyBackend,
	KindPartialRotation:      FamilyBackend,
	KindPreconditionFailed:   FamilyBackend,
	KindVerificationFailed:   FamilyRetrieval,
	KindConcurrentRun:        FamilyEngine,
}

// Family returns the error family the kind belongs to.
func (k Kind) Family() Family {
	if f, ok := kindFamilies[k]; ok {
		return f
	}
	return FamilyEngine
}

// String renders the kind as "Family: Kind", e.g. "BackendError: NoWritableReplica".
func (k Kind) String() string {
	return fmt.Sprintf("%s: %s", k.Family(), string(k))
}

// Error is the typed error returned by every rotation component.
type Error struct {
	Kind    Kind
	Op      string // Operation: "generate", "land", "bind", "apply", "publish", ...
	Message string
	Err     error
}

// New creates an Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an Error of the given kind around a cause.
func Wrap(kind Kind, op string, err error, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, errors.New(KindNotFound, "", "")) matches any NotFound.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Suggestion returns operator remediation for a kind.
func Suggestion(kind Kind) string {
	switch kind {
	case KindUnsatisfiable:
		return "Lower the required character counts or remove exclusions in the password section of the config"
	case KindConversionOverflow:
		return "The directory holds an expiration time outside the representable range; clear the expiration attribute and rerun"
	case KindNotFound:
		return "No escrowed password exists yet. Run 'laps rotate' first"
	case KindAccessDenied:
		return "Run as root so the system secure store can be read and written"
	case KindUnreachable:
		return "Check network access to a domain controller and the directory.servers / directory.domain settings"
	case KindSchemaNotProvisioned:
		return "Extend the directory schema for LAPS (legacy or Windows LAPS) and grant this computer write access"
	case KindNoWritableReplica:
		return "Only read-only replicas are reachable. Retry when a writable domain controller is available"
	case KindApplyRejected:
		return "The local account store refused the new password; check the account exists and password policy on the host"
	case KindPartialRotation:
		return "The local password was changed but not published. The next run retries the publish automatically"
	case KindPreconditionFailed:
		return "The supplied first-time password does not match the account's current password"
	case KindVerificationFailed:
		return "The escrowed password no longer matches the account. Run 'laps rotate --reset' to resynchronize"
	case KindConcurrentRun:
		return "Another laps run holds the lock. Wait for it to finish"
	}
	return ""
}

// ExitCode maps a kind to the process exit status.
func ExitCode(kind Kind) int {
	switch kind.Family() {
	case FamilyPolicy, FamilyClock:
		return 3
	case FamilyEscrow:
		return 4
	case FamilyBackend:
		if kind == KindPartialRotation {
			return 6
		}
		return 5
	case FamilyRetrieval:
		return 7
	}
	if kind == KindConcurrentRun {
		return 8
	}
	return 1
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var ue UserError
	if errors.As(err, &ue) {
		return err
	}
	var ce ConfigError
	if errors.As(err, &ce) {
		return err
	}
	var de *Error
	if errors.As(err, &de) {
		return UserError{
			Message:    de.Error(),
			Suggestion: Suggestion(de.Kind),
			Err:        err,
		}
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Run laps as root",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
