package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/laps/internal/clock"
	"github.com/systmms/laps/internal/config"
	"github.com/systmms/laps/internal/directory"
	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/escrow"
	"github.com/systmms/laps/internal/logging"
	"github.com/systmms/laps/internal/rotation/storage"
	"github.com/systmms/laps/pkg/credential"
	"github.com/systmms/laps/tests/fakes"
	"github.com/systmms/laps/tests/testutil"
)

const (
	cliAccount  = "ladmin"
	cliPassword = "Old-Passw0rd!"
)

type cli struct {
	stateDir   string
	configPath string
	accounts   *fakes.FakeAccountStore
	store      *fakes.FakeSecureStore
	directory  *fakes.FakeDirectory
	logger     *testutil.TestLogger
	env        *Environment
}

// newCLI builds a local configuration for cliAccount, adjusted by configure.
func newCLI(t *testing.T, configure ...func(*testutil.TestConfigBuilder)) *cli {
	t.Helper()
	builder := testutil.NewTestConfig(t).WithAccount(cliAccount).WithPasswordLength(20)
	for _, f := range configure {
		f(builder)
	}

	c := &cli{
		stateDir:   builder.StateDir(),
		configPath: builder.Write(),
		accounts:   fakes.NewFakeAccountStore().WithAccount(cliAccount, cliPassword),
		store:      fakes.NewFakeSecureStore(),
		directory:  fakes.NewFakeDirectory(nil),
		logger:     testutil.NewTestLogger(t),
	}
	c.env = &Environment{
		Accounts:    c.accounts,
		SecureStore: func(string) escrow.SecureStore { return c.store },
		Keychain:    fakes.NewFakeKeychainClient(),
		Directory: func(directory.Settings, *logging.Logger) directory.Client {
			return c.directory
		},
		Clock: clock.System{},
	}
	return c
}

func withDirectory(settings map[string]any) func(*testutil.TestConfigBuilder) {
	return func(b *testutil.TestConfigBuilder) { b.WithDirectory(settings) }
}

func (c *cli) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cfg := &config.Config{Logger: c.logger.Logger()}
	root := NewRootCommand(cfg, c.env, "test")

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--config", c.configPath, "--non-interactive"))
	err := root.Execute()
	return out.String(), err
}

func TestRotate_LocalLifecycle(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	out, err := c.run(t, "", "rotate")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Rotated ladmin (local)")

	newPassword := c.accounts.Password(cliAccount)
	require.NotEqual(t, cliPassword, newPassword)
	assert.Len(t, newPassword, 20)

	out, err = c.run(t, "", "export")
	require.NoError(t, err)
	assert.Equal(t, newPassword, out)

	// Not due again. The export is reclaimed.
	out, err = c.run(t, "", "rotate")
	require.NoError(t, err)
	assert.Contains(t, out, "Skipped ladmin")
	assert.Equal(t, 1, c.accounts.SetCount())
	assert.Empty(t, c.store.HandlesWithPrefix("export."))

	out, err = c.run(t, "", "get", "--json")
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, cliAccount, got["account"])
	assert.Equal(t, newPassword, got["password"])
	assert.NotEmpty(t, got["handle"])
	assert.Len(t, c.store.HandlesWithPrefix("export."), 1, "get replaces the previous export")

	out, err = c.run(t, "", "status", "--format", "json")
	require.NoError(t, err)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "active", report.Status)
	assert.Equal(t, config.MethodLocal, report.Method)
	assert.Equal(t, 1, report.RotationCount)
	assert.Equal(t, 3, report.RunCount)
	require.NotNil(t, report.ExpiresAt)
	assert.True(t, report.ExpiresAt.After(time.Now().Add(59*24*time.Hour)))

	out, err = c.run(t, "", "history", "--format", "json")
	require.NoError(t, err)
	var entries []storage.HistoryEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "retrieve", entries[0].Action)
	assert.Equal(t, "Rotated", entries[2].Result)

	out, err = c.run(t, "", "history", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "retrieve")
	assert.NotContains(t, out, "Rotated")

	testutil.AssertNoSecretLeak(t, c.logger.GetOutput(), []string{cliPassword, newPassword})
}

func TestRotate_MetricsTextfile(t *testing.T) {
	t.Parallel()
	textfile := filepath.Join(t.TempDir(), "laps.prom")
	c := newCLI(t, func(b *testutil.TestConfigBuilder) { b.WithMetricsTextfile(textfile) })

	_, err := c.run(t, "", "rotate")
	require.NoError(t, err)

	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	testutil.AssertLinesContain(t, string(data), []string{
		"laps_password_expiration_timestamp_seconds",
		"laps_rotations_total",
	})
	testutil.AssertNoSecretLeak(t, string(data), []string{c.accounts.Password(cliAccount)})
}

func TestRotate_FirstPassRequiresReset(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	_, err := c.run(t, "", "rotate", "--first-pass-file", "/nonexistent")
	testutil.AssertErrorContains(t, err, "--first-pass-file")
	var ue dserrors.UserError
	require.True(t, errors.As(err, &ue))
	assert.Contains(t, ue.Message, "--reset")
	assert.Zero(t, c.accounts.SetCount())
}

func TestRotate_FirstPassFromStdin(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	out, err := c.run(t, cliPassword+"\n", "rotate", "--reset", "--first-pass-file", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Rotated")
	assert.Zero(t, c.accounts.SetCount(), "a first-pass password is never set")
	assert.Equal(t, cliPassword, c.accounts.Password(cliAccount))

	out, err = c.run(t, "", "status", "--format", "json")
	require.NoError(t, err)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "needs_rotation", report.Status)

	// The next scheduled run replaces it.
	_, err = c.run(t, "", "rotate")
	require.NoError(t, err)
	assert.Equal(t, 1, c.accounts.SetCount())
	assert.Equal(t, cliPassword, c.accounts.SetCalls[0].OldPassword)
}

func TestRotate_FirstPassMismatch(t *testing.T) {
	t.Parallel()
	c := newCLI(t)
	pwFile := filepath.Join(t.TempDir(), "first")
	require.NoError(t, os.WriteFile(pwFile, []byte("Wrong-Passw0rd!\n"), 0o600))

	_, err := c.run(t, "", "rotate", "--reset", "--first-pass-file", pwFile)
	require.Error(t, err)
	assert.Equal(t, dserrors.KindPreconditionFailed, dserrors.KindOf(err))
	assert.Equal(t, 5, ExitCode(err))
	assert.False(t, c.store.Has(cliAccount+".current"))
}

func TestRotate_ApplyRejected(t *testing.T) {
	t.Parallel()
	c := newCLI(t)
	c.accounts.SetErr = errors.New("dscl: eDSAuthFailed")

	out, err := c.run(t, "", "rotate")
	require.Error(t, err)
	assert.Equal(t, dserrors.KindApplyRejected, dserrors.KindOf(err))
	assert.Equal(t, 5, ExitCode(err))
	assert.Contains(t, out, "ApplyRejected")
	assert.Equal(t, cliPassword, c.accounts.Password(cliAccount))
}

func TestRotate_DirectoryClassic(t *testing.T) {
	t.Parallel()
	c := newCLI(t, withDirectory(map[string]any{"domain": "corp.example.com"}))
	expired, err := clock.FormatDirectoryNative(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	c.directory.Attributes[credential.ClassicPasswordAttribute] = cliPassword
	c.directory.Attributes[credential.ClassicExpirationAttribute] = expired

	out, err := c.run(t, "", "rotate")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Rotated ladmin (directory, classic schema)")
	require.Equal(t, 1, c.directory.WriteCount())
	pw, _ := c.directory.Attribute(credential.ClassicPasswordAttribute)
	assert.Equal(t, c.accounts.Password(cliAccount), pw)

	_, err = c.run(t, "", "get")
	require.Error(t, err)
	assert.Equal(t, dserrors.KindPreconditionFailed, dserrors.KindOf(err))
}

func TestGet_NothingEscrowed(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	out, err := c.run(t, "", "get")
	require.Error(t, err)
	assert.Empty(t, out)
	assert.Equal(t, dserrors.KindNotFound, dserrors.KindOf(err))
	assert.Equal(t, 4, ExitCode(err))
}

func TestStatus_NeverRotated(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	out, err := c.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "ACCOUNT")
	assert.Contains(t, out, "Never Rotated")

	_, err = c.run(t, "", "status", "--format", "xml")
	require.Error(t, err)
}

func TestHistory_Empty(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	out, err := c.run(t, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded")
}

func TestDoctor(t *testing.T) {
	t.Parallel()

	t.Run("local", func(t *testing.T) {
		t.Parallel()
		c := newCLI(t)

		out, err := c.run(t, "", "doctor")
		require.NoError(t, err)
		testutil.AssertLinesContain(t, out, []string{"account ladmin", "nothing escrowed yet", "Summary:"})
	})

	t.Run("readable config", func(t *testing.T) {
		t.Parallel()
		c := newCLI(t)
		require.NoError(t, os.Chmod(c.configPath, 0644))

		out, err := c.run(t, "", "doctor", "--verbose")
		require.NoError(t, err, "a loose mode is a warning, not a failure")
		assert.Contains(t, out, "mode 0644")
		assert.Contains(t, out, "chmod 600")
	})

	t.Run("missing account", func(t *testing.T) {
		t.Parallel()
		c := newCLI(t)
		c.accounts = fakes.NewFakeAccountStore()
		c.env.Accounts = c.accounts

		out, err := c.run(t, "", "doctor", "--verbose")
		require.Error(t, err)
		assert.Contains(t, out, "account does not exist")
	})

	t.Run("directory", func(t *testing.T) {
		t.Parallel()
		c := newCLI(t, withDirectory(map[string]any{"domain": "corp.example.com", "schema": "extended"}))
		expires, err := clock.FormatDirectoryNative(time.Now().Add(24 * time.Hour))
		require.NoError(t, err)
		c.directory.Attributes[credential.ExtendedExpirationAttribute] = expires

		out, err := c.run(t, "", "doctor")
		require.NoError(t, err)
		assert.Contains(t, out, "extended schema")
		assert.Contains(t, out, "ldaps://dc1.corp.example.com")
		assert.Zero(t, c.directory.WriteCount(), "doctor never writes")
	})

	t.Run("no writable replica", func(t *testing.T) {
		t.Parallel()
		c := newCLI(t, withDirectory(map[string]any{"domain": "corp.example.com", "schema": "classic"}))
		c.directory.Replicas = []directory.Replica{{Address: "ldaps://rodc1", Reason: "read-only domain controller"}}

		out, err := c.run(t, "", "doctor")
		require.Error(t, err)
		assert.Contains(t, out, "read-only domain controller")
	})
}

func TestMissingConfig(t *testing.T) {
	t.Parallel()
	c := newCLI(t)
	require.NoError(t, os.Remove(c.configPath))

	_, err := c.run(t, "", "rotate")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 1},
		{"config", dserrors.ConfigError{Field: "account", Message: "missing"}, 2},
		{"unsatisfiable", dserrors.New(dserrors.KindUnsatisfiable, "policy", "x"), 3},
		{"escrow", dserrors.New(dserrors.KindAccessDenied, "store", "x"), 4},
		{"unreachable", dserrors.New(dserrors.KindUnreachable, "bind", "x"), 5},
		{"partial", dserrors.New(dserrors.KindPartialRotation, "publish", "x"), 6},
		{"verification", dserrors.New(dserrors.KindVerificationFailed, "verify", "x"), 7},
		{"concurrent", dserrors.New(dserrors.KindConcurrentRun, "lock", "x"), 8},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
