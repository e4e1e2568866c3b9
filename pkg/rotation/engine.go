package rotation

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systmms/laps/internal/account"
	"github.com/systmms/laps/internal/clock"
	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/escrow"
	"github.com/systmms/laps/internal/logging"
	"github.com/systmms/laps/internal/metrics"
	"github.com/systmms/laps/internal/policy"
	rotationstorage "github.com/systmms/laps/internal/rotation/storage"
	"github.com/systmms/laps/internal/runlock"
	"github.com/systmms/laps/pkg/credential"
)

// Engine drives one account through Idle → Deciding → {Skipped, RotatingLocal,
// RotatingDirectory} → Done | Failed.
type Engine struct {
	settings  Settings
	backend   Backend
	generator *policy.Generator
	accounts  account.Store
	escrow    *escrow.Escrow
	clock     clock.Clock
	logger    *logging.Logger

	history      rotationstorage.Storage
	metrics      *metrics.RotationMetrics
	textfilePath string

	mu    sync.Mutex
	state State
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock sets the engine clock.
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithHistory records every run's status and history entry in s.
func WithHistory(s rotationstorage.Storage) EngineOption {
	return func(e *Engine) { e.history = s }
}

// WithMetrics records run metrics in m and, when textfilePath is set, writes
// them for the node_exporter textfile collector after every run.
func WithMetrics(m *metrics.RotationMetrics, textfilePath string) EngineOption {
	return func(e *Engine) {
		e.metrics = m
		e.textfilePath = textfilePath
	}
}

// NewEngine creates an engine for one account and backend.
func NewEngine(settings Settings, backend Backend, generator *policy.Generator, accounts account.Store,
	esc *escrow.Escrow, logger *logging.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		settings:  settings,
		backend:   backend,
		generator: generator,
		accounts:  accounts,
		escrow:    esc,
		clock:     clock.System{},
		logger:    logger,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.logger.Debug("Engine state: %s", s)
}

// Run performs one scheduled or forced rotation. The returned outcome is never
// nil; on failure err is also returned.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Outcome, error) {
	start := e.clock.Now()
	outcome := &Outcome{Backend: e.backend.Name()}

	lock, err := runlock.Acquire(e.settings.LockPath)
	if err != nil {
		outcome.Decision = failedPrecondition("another run is in progress")
		return e.finish("rotate", start, outcome, err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			e.logger.Warn("%v", err)
		}
	}()

	e.setState(StateDeciding)
	force := req.Force || req.FirstPass != nil

	// Open reclaims the prior export, which must happen on every run.
	if err := e.backend.Open(ctx); err != nil {
		outcome.Decision = failedPrecondition("backend unavailable")
		return e.finish("rotate", start, outcome, err)
	}
	defer func() {
		if err := e.backend.Close(); err != nil {
			e.logger.Debug("Closing %s backend: %v", e.backend.Name(), err)
		}
	}()
	outcome.Schema = e.backend.Schema()

	if err := e.checkAccount(ctx); err != nil {
		outcome.Decision = failedPrecondition(err.Error())
		return e.finish("rotate", start, outcome, err)
	}

	republished, err := e.resumePending(ctx, force)
	outcome.Republished = republished
	if err != nil {
		outcome.Decision = failedPrecondition("staged password could not be published")
		return e.finish("rotate", start, outcome, err)
	}

	rec, err := e.backend.CurrentExpiration(ctx)
	if err != nil {
		outcome.Decision = failedPrecondition("current expiration unreadable")
		return e.finish("rotate", start, outcome, err)
	}

	now := e.clock.Now()
	outcome.Decision = Decide(now, rec, force)
	e.logger.Debug("Decision for %s: %s", e.settings.Account, outcome.Decision)

	if !outcome.Decision.Due() {
		outcome.ExpiresAt = rec.ExpiresAt
		return e.finish("rotate", start, outcome, nil)
	}

	if e.backend.Name() == BackendDirectory {
		e.setState(StateRotatingDirectory)
	} else {
		e.setState(StateRotatingLocal)
	}

	in, err := e.newInput(now, req)
	if err != nil {
		return e.finish("rotate", start, outcome, err)
	}
	if req.FirstPass == nil {
		defer in.Credential.Destroy()
	}

	newRec, err := e.backend.Rotate(ctx, in)
	if err != nil {
		return e.finish("rotate", start, outcome, err)
	}
	outcome.Result = ResultRotated
	outcome.ExpiresAt = newRec.ExpiresAt
	return e.finish("rotate", start, outcome, nil)
}

func (e *Engine) checkAccount(ctx context.Context) error {
	exists, err := e.accounts.Exists(ctx, e.settings.Account)
	if err != nil {
		return fmt.Errorf("failed to look up account %s: %w", e.settings.Account, err)
	}
	if !exists {
		return dserrors.New(dserrors.KindPreconditionFailed, "decide",
			fmt.Sprintf("local account %s does not exist", e.settings.Account))
	}
	return nil
}

// newInput builds the credential to rotate to. A first-time password is
// escrowed with a forced expiration so that the next run replaces it.
func (e *Engine) newInput(now time.Time, req RunRequest) (RotateInput, error) {
	if req.FirstPass != nil {
		return RotateInput{
			Credential: req.FirstPass,
			ExpiresAt:  clock.ForcedExpiration(now),
			FirstPass:  true,
		}, nil
	}

	password, err := e.generator.Generate()
	if err != nil {
		return RotateInput{}, err
	}
	cred, err := credential.New(e.settings.Account, password)
	if err != nil {
		return RotateInput{}, err
	}
	return RotateInput{
		Credential: cred,
		ExpiresAt:  clock.NextExpiration(now, e.settings.DaysTillExpiration),
	}, nil
}

// resumePending publishes a password a previous run applied but did not
// publish. A staged password the account does not hold was never applied and
// is discarded.
func (e *Engine) resumePending(ctx context.Context, force bool) (bool, error) {
	cred, rec, ok, err := e.escrow.Pending()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer cred.Destroy()

	plaintext, err := cred.Plaintext()
	if err != nil {
		return false, err
	}
	verified, err := e.accounts.Verify(ctx, e.settings.Account, plaintext)
	if err != nil {
		if force {
			e.logger.Warn("Discarding staged password that cannot be verified: %v", err)
			return false, e.escrow.ClearPending()
		}
		return false, dserrors.Wrap(dserrors.KindPartialRotation, "resume", err,
			"a staged password exists but could not be verified against the account")
	}
	if !verified {
		e.logger.Warn("Discarding staged password for %s that was never applied", e.settings.Account)
		return false, e.escrow.ClearPending()
	}

	e.logger.Warn("Previous run changed the password for %s without publishing it; publishing now", e.settings.Account)
	if err := e.backend.Republish(ctx, cred, rec); err != nil {
		return false, dserrors.Wrap(dserrors.KindPartialRotation, "republish", err,
			fmt.Sprintf("password for %s is still not published", e.settings.Account))
	}
	if err := e.escrow.ClearPending(); err != nil {
		e.logger.Warn("Failed to clear the pending password journal: %v", err)
	}
	return true, nil
}

// finish sets the terminal state, records the run and logs the outcome.
func (e *Engine) finish(action string, start time.Time, outcome *Outcome, err error) (*Outcome, error) {
	outcome.Err = err
	switch {
	case err != nil:
		outcome.Result = ResultFailed
		e.setState(StateFailed)
	case outcome.Result == "":
		outcome.Result = ResultSkipped
		e.setState(StateSkipped)
	default:
		e.setState(StateDone)
	}

	finished := e.clock.Now()
	e.record(action, start, finished, outcome)
	e.report(outcome)
	return outcome, err
}

func (e *Engine) report(outcome *Outcome) {
	account := e.settings.Account
	switch outcome.Result {
	case ResultSkipped:
		e.logger.Info("Password for %s is not due; expires %s", account, formatTime(outcome.ExpiresAt))
	case ResultRotated:
		e.logger.Info("Rotated password for %s via %s backend; expires %s", account, outcome.Backend, formatTime(outcome.ExpiresAt))
	case ResultRetrieved:
		e.logger.Info("Retrieved escrowed password for %s", account)
	case ResultFailed:
		kind := outcome.Kind()
		if kind == dserrors.KindPartialRotation {
			e.logger.Error("%s: %v", kind, outcome.Err)
			return
		}
		e.logger.Error("%s for %s failed (%s): %v", outcome.Decision.Kind, account, kind, outcome.Err)
	}
}

func (e *Engine) record(action string, start, finished time.Time, outcome *Outcome) {
	duration := finished.Sub(start)
	errorKind := ""
	errMsg := ""
	if outcome.Err != nil {
		errorKind = string(outcome.Kind())
		errMsg = outcome.Err.Error()
	}
	var expiresAt *time.Time
	if !outcome.ExpiresAt.IsZero() {
		t := outcome.ExpiresAt
		expiresAt = &t
	}

	status := &rotationstorage.RotationStatus{Account: e.settings.Account}
	if e.history != nil {
		if prior, err := e.history.GetStatus(e.settings.Account); err == nil {
			status = prior
		}

		entry := &rotationstorage.HistoryEntry{
			ID:        uuid.New().String(),
			Timestamp: finished,
			Account:   e.settings.Account,
			Backend:   outcome.Backend,
			Action:    action,
			Decision:  outcome.Decision.Kind.String(),
			Result:    string(outcome.Result),
			ErrorKind: errorKind,
			Error:     errMsg,
			ExpiresAt: expiresAt,
			Duration:  duration,
			User:      os.Getenv("USER"),
		}
		if outcome.Republished {
			entry.Metadata = map[string]string{"republished": "true"}
		}
		if err := e.history.SaveHistory(entry); err != nil {
			e.logger.Warn("Failed to save run history: %v", err)
		}
	}

	status.Backend = outcome.Backend
	if outcome.Schema != credential.SchemaNone {
		status.Schema = outcome.Schema.String()
	}
	status.LastRun = finished
	status.LastResult = string(outcome.Result)
	status.LastDecision = outcome.Decision.Kind.String()
	status.LastErrorKind = errorKind
	status.LastError = errMsg
	status.PendingPublish = outcome.Kind() == dserrors.KindPartialRotation
	status.RunCount++
	switch outcome.Result {
	case ResultRotated:
		status.RotationCount++
		status.LastRotation = &finished
		status.ExpiresAt = expiresAt
	case ResultSkipped:
		status.ExpiresAt = expiresAt
	case ResultFailed:
		status.FailureCount++
	}

	if e.history != nil {
		if err := e.history.SaveStatus(status); err != nil {
			e.logger.Warn("Failed to save run status: %v", err)
		}
	}

	if e.metrics == nil {
		return
	}
	run := metrics.Run{
		Account:       e.settings.Account,
		Backend:       outcome.Backend,
		Result:        string(outcome.Result),
		ErrorKind:     errorKind,
		Finished:      finished,
		Duration:      duration,
		RotationCount: status.RotationCount,
		FailureCount:  status.FailureCount,
	}
	if status.ExpiresAt != nil {
		run.ExpiresAt = *status.ExpiresAt
	}
	e.metrics.ObserveRun(run)
	if e.textfilePath != "" {
		if err := e.metrics.WriteTextfile(e.textfilePath); err != nil {
			e.logger.Warn("Failed to write metrics textfile: %v", err)
		}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
