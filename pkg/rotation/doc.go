// Package rotation rotates one local administrator account's password and
// escrows it in the configured backend.
//
// # Architecture Overview
//
//	┌──────────────────────────────────────────────┐
//	│                 laps CLI                     │
//	│             (cmd/laps/commands)              │
//	└──────────────────────┬───────────────────────┘
//	                       │
//	┌──────────────────────▼───────────────────────┐
//	│               Rotation Engine                │
//	│   lock → decide → rotate → record outcome    │
//	└──────────┬───────────────────────┬───────────┘
//	           │                       │
//	┌──────────▼──────────┐ ┌──────────▼───────────┐
//	│    LocalBackend     │ │   DirectoryBackend   │
//	│  secure store only  │ │   LDAP computer obj  │
//	└──────────┬──────────┘ └──────────┬───────────┘
//	           │                       │
//	┌──────────▼───────────────────────▼───────────┐
//	│   account.Store (dscl / shadow + chpasswd)   │
//	└──────────────────────────────────────────────┘
//
// # Ordering
//
// Every rotation path applies the new password to the local account before
// publishing it anywhere. A publish that fails after the account was changed
// is reported as BackendError PartialRotation and never masked. The staged
// password stays in the pending journal so that the next run can verify it
// against the account and retry only the publish.
//
// # Decisions
//
// Before rotating the engine classifies the run:
//
//   - NotDue: the recorded expiration is not before now; the run is skipped.
//   - DueNormal: the recorded expiration has passed, or none exists.
//   - DueForced: the operator asked for a reset.
//   - FailedPrecondition: the account or backend is not usable.
//
// # Usage Example
//
//	esc := escrow.New(escrow.NewKeyringStore("com.systmms.laps"), "ladmin", markerPath, logger)
//	backend := rotation.NewLocalBackend(esc, accounts, "ladmin", logger, true)
//	engine := rotation.NewEngine(settings, backend, generator, accounts, esc, logger,
//	    rotation.WithHistory(storage.NewFileStorage(stateDir)))
//
//	outcome, err := engine.Run(ctx, rotation.RunRequest{})
//	if err != nil {
//	    return fmt.Errorf("rotation failed: %w", err)
//	}
//	fmt.Printf("%s, expires %s\n", outcome.Result, outcome.ExpiresAt)
//
// # Security Considerations
//
// Passwords only travel inside credential.Credential values, which keep the
// plaintext in protected memory and redact it when formatted. Nothing in this
// package passes a password to the logger.
package rotation
