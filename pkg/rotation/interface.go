package rotation

import (
	"context"
	"time"

	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/escrow"
	"github.com/systmms/laps/pkg/credential"
)

// Backend names as they appear in configuration.
const (
	BackendLocal     = "local"
	BackendDirectory = "directory"
)

// DecisionKind classifies whether a run rotates.
type DecisionKind int

const (
	NotDue DecisionKind = iota
	DueNormal
	DueForced
	FailedPrecondition
)

func (k DecisionKind) String() string {
	switch k {
	case NotDue:
		return "NotDue"
	case DueNormal:
		return "DueNormal"
	case DueForced:
		return "DueForced"
	case FailedPrecondition:
		return "FailedPrecondition"
	}
	return "Unknown"
}

// Decision is the outcome of the Deciding state.
type Decision struct {
	Kind   DecisionKind
	Reason string
}

// Due reports whether the decision calls for a rotation.
func (d Decision) Due() bool {
	return d.Kind == DueNormal || d.Kind == DueForced
}

func (d Decision) String() string {
	if d.Reason == "" {
		return d.Kind.String()
	}
	return d.Kind.String() + " (" + d.Reason + ")"
}

// Result is the terminal result reported to the caller.
type Result string

const (
	ResultSkipped   Result = "Skipped"
	ResultRotated   Result = "Rotated"
	ResultRetrieved Result = "Retrieved"
	ResultFailed    Result = "Failed"
)

// State is a state of the engine's state machine.
type State string

const (
	StateIdle              State = "Idle"
	StateDeciding          State = "Deciding"
	StateSkipped           State = "Skipped"
	StateRotatingLocal     State = "RotatingLocal"
	StateRotatingDirectory State = "RotatingDirectory"
	StateDone              State = "Done"
	StateFailed            State = "Failed"
)

// Outcome is what one engine invocation reports.
type Outcome struct {
	Result   Result
	Decision Decision
	Backend  string
	Schema   credential.Schema

	// ExpiresAt is the existing expiration for Skipped, the new one for
	// Rotated and the escrowed one for Retrieved.
	ExpiresAt time.Time

	// Credential is set only for Retrieved. The caller must Destroy it.
	Credential *credential.Credential
	// Handle is the export the retrieved password was landed under.
	Handle escrow.Handle

	// Republished is true when a password staged by an earlier run was
	// published before deciding.
	Republished bool

	Err error
}

// Kind returns the error kind of a failed outcome, or "" on success.
func (o *Outcome) Kind() dserrors.Kind {
	if o == nil {
		return ""
	}
	return dserrors.KindOf(o.Err)
}

// RotateInput is the credential a backend applies and publishes.
type RotateInput struct {
	Credential *credential.Credential
	ExpiresAt  time.Time
	// FirstPass marks an operator-supplied password that the account is
	// expected to already hold. It must verify before anything is published
	// and is never set on the account.
	FirstPass bool
}

// Backend is the capability every escrow variant provides. Implementations
// are selected once at startup.
type Backend interface {
	// Name returns BackendLocal or BackendDirectory.
	Name() string

	// Schema returns the directory schema in use, SchemaNone for local.
	Schema() credential.Schema

	// Open prepares the backend for one run.
	Open(ctx context.Context) error

	// CurrentExpiration returns the recorded expiration. A missing record
	// yields a zero ExpiresAt, which is always due.
	CurrentExpiration(ctx context.Context) (credential.ExpirationRecord, error)

	// Rotate applies in.Credential to the local account and then publishes it.
	Rotate(ctx context.Context, in RotateInput) (credential.ExpirationRecord, error)

	// Republish publishes a credential the account already holds.
	Republish(ctx context.Context, cred *credential.Credential, rec credential.ExpirationRecord) error

	Close() error
}

// Settings configure the engine. They are built once from configuration.
type Settings struct {
	Account            string
	DaysTillExpiration int
	LockPath           string
}

// RunRequest carries the operator's flags for one scheduled or forced run.
type RunRequest struct {
	// Force rotates regardless of the recorded expiration.
	Force bool
	// FirstPass, when set, is escrowed instead of a generated password after
	// it verifies against the account. Implies Force. The caller owns it.
	FirstPass *credential.Credential
}
