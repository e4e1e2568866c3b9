package rotation

import (
	"fmt"
	"time"

	"github.com/systmms/laps/internal/clock"
	"github.com/systmms/laps/pkg/credential"
)

// Decide classifies a run from the recorded expiration. It does not touch any
// backend.
func Decide(now time.Time, rec credential.ExpirationRecord, force bool) Decision {
	if force {
		return Decision{Kind: DueForced, Reason: "rotation forced by operator"}
	}
	if rec.ExpiresAt.IsZero() {
		return Decision{Kind: DueNormal, Reason: "no recorded expiration"}
	}
	if clock.IsDue(rec.ExpiresAt, now) {
		return Decision{Kind: DueNormal, Reason: fmt.Sprintf("expired at %s", rec.ExpiresAt.UTC().Format(time.RFC3339))}
	}
	return Decision{Kind: NotDue, Reason: fmt.Sprintf("expires at %s", rec.ExpiresAt.UTC().Format(time.RFC3339))}
}

func failedPrecondition(reason string) Decision {
	return Decision{Kind: FailedPrecondition, Reason: reason}
}
