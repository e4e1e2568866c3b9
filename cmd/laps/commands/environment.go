package commands

import (
	"errors"
	"time"

	"github.com/systmms/laps/internal/account"
	"github.com/systmms/laps/internal/clock"
	"github.com/systmms/laps/internal/config"
	"github.com/systmms/laps/internal/directory"
	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/escrow"
	"github.com/systmms/laps/internal/keychain"
	"github.com/systmms/laps/internal/logging"
	"github.com/systmms/laps/internal/metrics"
	"github.com/systmms/laps/internal/policy"
	"github.com/systmms/laps/internal/rotation/storage"
	"github.com/systmms/laps/pkg/exec"
	"github.com/systmms/laps/pkg/rotation"
)

// Environment holds the platform collaborators the commands are built from.
type Environment struct {
	Accounts    account.Store
	SecureStore func(service string) escrow.SecureStore
	Keychain    keychain.Client
	Directory   func(settings directory.Settings, logger *logging.Logger) directory.Client
	Clock       clock.Clock
}

// DefaultEnvironment wires the real account store, keyring and LDAP client.
func DefaultEnvironment() *Environment {
	return &Environment{
		Accounts: account.NewPlatformStore(exec.DefaultExecutor()),
		SecureStore: func(service string) escrow.SecureStore {
			return escrow.NewKeyringStore(service)
		},
		Keychain: keychain.NewClient(),
		Directory: func(settings directory.Settings, logger *logging.Logger) directory.Client {
			return directory.NewLDAPClient(settings, logger)
		},
		Clock: clock.System{},
	}
}

// runtime is everything one command invocation needs, built from a loaded
// configuration.
type runtime struct {
	def     *config.Definition
	logger  *logging.Logger
	escrow  *escrow.Escrow
	backend rotation.Backend
	history *storage.FileStorage
	engine  *rotation.Engine
}

func (env *Environment) open(cfg *config.Config) (*runtime, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	def := cfg.Definition
	logger := cfg.Logger

	generator, err := policy.NewGenerator(def.PolicyConfig())
	if err != nil {
		return nil, err
	}

	esc := escrow.New(env.SecureStore(def.Escrow.Service), def.Account, def.Escrow.Marker, logger,
		escrow.WithClock(env.Clock))

	backend, err := env.backend(def, esc, logger)
	if err != nil {
		return nil, err
	}

	history := storage.NewFileStorage(def.StateDir)
	opts := []rotation.EngineOption{
		rotation.WithClock(env.Clock),
		rotation.WithHistory(history),
	}
	if def.Metrics.Textfile != "" {
		opts = append(opts, rotation.WithMetrics(metrics.NewRotationMetrics(), def.Metrics.Textfile))
	}

	return &runtime{
		def:     def,
		logger:  logger,
		escrow:  esc,
		backend: backend,
		history: history,
		engine:  rotation.NewEngine(def.RotationSettings(), backend, generator, env.Accounts, esc, logger, opts...),
	}, nil
}

func (env *Environment) backend(def *config.Definition, esc *escrow.Escrow, logger *logging.Logger) (rotation.Backend, error) {
	switch def.Method {
	case config.MethodDirectory:
		settings, err := def.DirectorySettings(env.Keychain)
		if err != nil {
			return nil, err
		}
		return rotation.NewDirectoryBackend(env.Directory(settings, logger), esc, env.Accounts, def.Account,
			def.SchemaOverride(), logger, rotation.WithDirectoryClock(env.Clock)), nil
	default:
		return rotation.NewLocalBackend(esc, env.Accounts, def.Account, logger, def.ExportEnabled()), nil
	}
}

// pruneHistory drops history entries past the retention window.
func (r *runtime) pruneHistory() {
	retention := r.def.HistoryRetention()
	if retention <= 0 {
		return
	}
	if err := r.history.CleanupOldEntries(retention); err != nil {
		r.logger.Warn("Failed to prune run history: %v", err)
	}
}

// ExitCode maps an error returned by a command to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce dserrors.ConfigError
	if errors.As(err, &ce) {
		return 2
	}
	return dserrors.ExitCode(dserrors.KindOf(err))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
