// Package fakes provides test doubles for the laps collaborator interfaces.
//
// Fakes are manually implemented (not generated) to provide precise control
// over test behavior: the local account store, the OS secure store, the
// keychain client and the directory service.
//
// Usage:
//
//	accounts := fakes.NewFakeAccountStore()
//	accounts.SetPassword(ctx, "ladmin", "", "Initial1!")
//	store := fakes.NewFakeSecureStore()
//	esc := escrow.New(store, "ladmin", markerPath, logger)
//	backend := rotation.NewLocalBackend(esc, accounts, "ladmin", logger, true)
package fakes
