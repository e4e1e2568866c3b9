// Package secure keeps passwords out of ordinary heap memory while laps holds them.
//
// Every generated, supplied or retrieved password lives in a memguard enclave:
//
//   - Encrypted at rest in memory (XSalsa20Poly1305)
//   - Protected from swapping via mlock
//   - Securely wiped when no longer needed
//
// Plaintext only leaves the enclave at the edges that require a Go string:
// the local account store, the secure credential store and the directory write.
//
// It does NOT protect against:
//
//   - Attackers with root access to the running process
//   - Copies made by the operating system tools laps invokes
package secure
