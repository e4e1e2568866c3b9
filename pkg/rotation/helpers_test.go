package rotation

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/systmms/laps/internal/clock"
	"github.com/systmms/laps/internal/escrow"
	"github.com/systmms/laps/internal/policy"
	rotationstorage "github.com/systmms/laps/internal/rotation/storage"
	"github.com/systmms/laps/pkg/credential"
	"github.com/systmms/laps/tests/fakes"
	"github.com/systmms/laps/tests/testutil"
)

const testAccount = "ladmin"

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// harness wires an engine to in-memory collaborators.
type harness struct {
	t        *testing.T
	dir      string
	accounts *fakes.FakeAccountStore
	store    *fakes.FakeSecureStore
	escrow   *escrow.Escrow
	history  *rotationstorage.FileStorage
	logger   *testutil.TestLogger
	settings Settings
	policy   policy.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		t:        t,
		dir:      dir,
		accounts: fakes.NewFakeAccountStore().WithAccount(testAccount, "Old-Passw0rd!"),
		store:    fakes.NewFakeSecureStore(),
		history:  rotationstorage.NewFileStorage(filepath.Join(dir, "state")),
		logger:   testutil.NewTestLogger(t),
		settings: Settings{
			Account:            testAccount,
			DaysTillExpiration: 30,
			LockPath:           filepath.Join(dir, "laps.lock"),
		},
		policy: policy.Config{
			Length: 12,
			Required: map[policy.Class]int{
				policy.ClassUpper:  1,
				policy.ClassLower:  1,
				policy.ClassDigit:  1,
				policy.ClassSymbol: 1,
			},
		},
	}
	seq := 0
	h.escrow = escrow.New(h.store, testAccount, filepath.Join(dir, "escrow", "handle"), h.logger.Logger(),
		escrow.WithClock(clock.Fixed(testNow)),
		escrow.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("export-%d", seq)
		}))
	return h
}

func (h *harness) engine(backend Backend, opts ...EngineOption) *Engine {
	h.t.Helper()
	gen, err := policy.NewGenerator(h.policy)
	require.NoError(h.t, err)
	opts = append([]EngineOption{WithClock(clock.Fixed(testNow)), WithHistory(h.history)}, opts...)
	return NewEngine(h.settings, backend, gen, h.accounts, h.escrow, h.logger.Logger(), opts...)
}

func (h *harness) localBackend(export bool) *LocalBackend {
	return NewLocalBackend(h.escrow, h.accounts, testAccount, h.logger.Logger(), export)
}

func (h *harness) directoryBackend(dir *fakes.FakeDirectory, override credential.Schema) *DirectoryBackend {
	return NewDirectoryBackend(dir, h.escrow, h.accounts, testAccount, override, h.logger.Logger(),
		WithDirectoryClock(clock.Fixed(testNow)))
}

// commit seeds the durable local record.
func (h *harness) commit(password string, expiresAt time.Time) {
	h.t.Helper()
	require.NoError(h.t, h.escrow.Commit(h.cred(password), credential.NewExpirationRecord(testAccount, expiresAt, credential.SchemaNone)))
}

func (h *harness) cred(password string) *credential.Credential {
	h.t.Helper()
	c, err := credential.New(testAccount, password)
	require.NoError(h.t, err)
	h.t.Cleanup(c.Destroy)
	return c
}

// escrowed returns the durable record's password.
func (h *harness) escrowed() string {
	h.t.Helper()
	c, _, err := h.escrow.Current()
	require.NoError(h.t, err)
	defer c.Destroy()
	pw, err := c.Plaintext()
	require.NoError(h.t, err)
	return pw
}

func (h *harness) hasPending() bool {
	return h.store.Has(testAccount + ".pending")
}

func mustFiletime(t *testing.T, ts time.Time) string {
	t.Helper()
	v, err := clock.FormatDirectoryNative(ts)
	require.NoError(t, err)
	return v
}
