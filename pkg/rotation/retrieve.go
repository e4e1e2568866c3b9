package rotation

import (
	"context"
	"fmt"

	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/runlock"
)

// Retrieve hands out the escrowed password on demand. It is only available
// with the local backend: the prior export is reclaimed, the escrowed password
// is verified against the live account, and only a verified password is landed
// under a fresh single-use handle. The caller must Destroy outcome.Credential.
func (e *Engine) Retrieve(ctx context.Context) (*Outcome, error) {
	start := e.clock.Now()
	outcome := &Outcome{Backend: e.backend.Name(), Decision: Decision{Kind: NotDue, Reason: "on-demand retrieval"}}

	if e.backend.Name() != BackendLocal {
		outcome.Decision = failedPrecondition("retrieval requires the local backend")
		return e.finish("retrieve", start, outcome, dserrors.New(dserrors.KindPreconditionFailed, "retrieve",
			fmt.Sprintf("on-demand retrieval is not available with the %s backend", e.backend.Name())))
	}

	lock, err := runlock.Acquire(e.settings.LockPath)
	if err != nil {
		outcome.Decision = failedPrecondition("another run is in progress")
		return e.finish("retrieve", start, outcome, err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			e.logger.Warn("%v", err)
		}
	}()
	e.setState(StateDeciding)

	if _, err := e.escrow.ReclaimPrior(); err != nil {
		return e.finish("retrieve", start, outcome, err)
	}

	cred, rec, err := e.escrow.Current()
	if err != nil {
		return e.finish("retrieve", start, outcome, err)
	}

	plaintext, err := cred.Plaintext()
	if err != nil {
		cred.Destroy()
		return e.finish("retrieve", start, outcome, err)
	}
	ok, err := e.accounts.Verify(ctx, e.settings.Account, plaintext)
	if err != nil {
		cred.Destroy()
		return e.finish("retrieve", start, outcome, dserrors.Wrap(dserrors.KindVerificationFailed, "verify", err,
			fmt.Sprintf("could not verify the escrowed password for %s", e.settings.Account)))
	}
	if !ok {
		cred.Destroy()
		return e.finish("retrieve", start, outcome, dserrors.New(dserrors.KindVerificationFailed, "verify",
			fmt.Sprintf("escrowed password does not match the live account %s", e.settings.Account)))
	}

	h, err := e.escrow.Land(cred, rec)
	if err != nil {
		cred.Destroy()
		return e.finish("retrieve", start, outcome, err)
	}

	outcome.Result = ResultRetrieved
	outcome.Credential = cred
	outcome.Handle = h
	outcome.ExpiresAt = rec.ExpiresAt
	return e.finish("retrieve", start, outcome, nil)
}
