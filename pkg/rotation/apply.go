package rotation

import (
	"context"
	"fmt"

	"github.com/systmms/laps/internal/account"
	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/escrow"
	"github.com/systmms/laps/internal/logging"
	"github.com/systmms/laps/pkg/credential"
)

// applier runs the apply-then-publish sequence shared by both backends.
type applier struct {
	accounts account.Store
	journal  *escrow.Escrow
	logger   *logging.Logger
}

type applyRequest struct {
	account     string
	cred        *credential.Credential
	rec         credential.ExpirationRecord
	oldPassword string
	firstPass   bool
	// publish writes the credential to the backend. It runs only after the
	// account holds the new password.
	publish func(ctx context.Context) error
}

func (a *applier) run(ctx context.Context, req applyRequest) error {
	plaintext, err := req.cred.Plaintext()
	if err != nil {
		return fmt.Errorf("failed to read new credential: %w", err)
	}

	if req.firstPass {
		return a.firstPass(ctx, req, plaintext)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.journal.Stage(req.cred, req.rec); err != nil {
		return fmt.Errorf("failed to stage new password: %w", err)
	}

	// From here on the run completes or lands in ApplyRejected/PartialRotation.
	ctx = context.WithoutCancel(ctx)

	old := a.usableOldPassword(ctx, req.account, req.oldPassword)
	a.logger.Debug("Setting password for %s (old %s, new %s)", req.account, logging.Secret(old), logging.Secret(plaintext))
	if err := a.accounts.SetPassword(ctx, req.account, old, plaintext); err != nil {
		if rerr := a.rejected(ctx, req.account, plaintext, err); rerr != nil {
			return rerr
		}
		a.logger.Warn("Account store reported an error for %s but the new password is in effect: %v", req.account, err)
	}

	ok, err := a.accounts.Verify(ctx, req.account, plaintext)
	switch {
	case err != nil:
		a.logger.Warn("Could not verify the new password for %s after setting it: %v", req.account, err)
	case !ok:
		a.clearJournal()
		return dserrors.New(dserrors.KindApplyRejected, "apply",
			fmt.Sprintf("account store accepted the change but the new password does not verify for %s", req.account))
	}
	a.logger.Debug("Applied new password to %s", req.account)

	if err := req.publish(ctx); err != nil {
		return dserrors.Wrap(dserrors.KindPartialRotation, "publish", err,
			fmt.Sprintf("password for %s was changed locally but not published; the next run retries the publish", req.account))
	}
	a.clearJournal()
	return nil
}

// firstPass publishes an operator-supplied password the account already holds.
func (a *applier) firstPass(ctx context.Context, req applyRequest, plaintext string) error {
	ok, err := a.accounts.Verify(ctx, req.account, plaintext)
	if err != nil {
		return dserrors.Wrap(dserrors.KindPreconditionFailed, "verify", err,
			fmt.Sprintf("could not verify the supplied password for %s", req.account))
	}
	if !ok {
		return dserrors.New(dserrors.KindPreconditionFailed, "verify",
			fmt.Sprintf("the supplied password is not the current password of %s", req.account))
	}

	if err := req.publish(ctx); err != nil {
		if dserrors.KindOf(err) == dserrors.KindUnknown {
			return dserrors.Wrap(dserrors.KindUnreachable, "publish", err, "failed to publish the first-time password")
		}
		return err
	}
	return nil
}

// usableOldPassword returns old only if the account still accepts it.
func (a *applier) usableOldPassword(ctx context.Context, name, old string) string {
	if old == "" {
		return ""
	}
	ok, err := a.accounts.Verify(ctx, name, old)
	if err != nil || !ok {
		a.logger.Debug("Escrowed password no longer matches %s; resetting without it", name)
		return ""
	}
	return old
}

// rejected classifies a SetPassword failure. The journal is dropped only when
// the account provably still has its old password.
func (a *applier) rejected(ctx context.Context, name, plaintext string, setErr error) error {
	ok, err := a.accounts.Verify(ctx, name, plaintext)
	switch {
	case err != nil:
		a.logger.Warn("Keeping staged password for %s: could not confirm the rejected change: %v", name, err)
	case ok:
		return nil
	default:
		a.clearJournal()
	}
	return dserrors.Wrap(dserrors.KindApplyRejected, "apply", setErr,
		fmt.Sprintf("local account store rejected the new password for %s", name))
}

func (a *applier) clearJournal() {
	if err := a.journal.ClearPending(); err != nil {
		a.logger.Warn("Failed to clear the pending password journal: %v", err)
	}
}
