package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/systmms/laps/internal/directory"
	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/keychain"
	"github.com/systmms/laps/internal/policy"
	"github.com/systmms/laps/pkg/credential"
	"github.com/systmms/laps/pkg/rotation"
)

// PolicyConfig converts the password section. Missing fields take the
// defaults of policy.DefaultConfig.
func (d *Definition) PolicyConfig() policy.Config {
	cfg := policy.DefaultConfig()
	if d.Password.Length != 0 {
		cfg.Length = d.Password.Length
	}
	if d.Password.Required != nil {
		cfg.Required = make(map[policy.Class]int, len(d.Password.Required))
		for class, min := range d.Password.Required {
			cfg.Required[policy.Class(class)] = min
		}
	}
	cfg.ExcludeChars = d.Password.ExcludeChars
	cfg.ExclusionSets = append([]string(nil), d.Password.ExclusionSets...)
	return cfg
}

// RotationSettings converts the engine settings.
func (d *Definition) RotationSettings() rotation.Settings {
	return rotation.Settings{
		Account:            d.Account,
		DaysTillExpiration: d.DaysTillExpiration,
		LockPath:           d.LockPath(),
	}
}

// SchemaOverride returns the configured directory schema, SchemaNone for auto.
func (d *Definition) SchemaOverride() credential.Schema {
	if d.Directory == nil {
		return credential.SchemaNone
	}
	schema, _ := credential.ParseSchema(d.Directory.Schema)
	return schema
}

// DirectorySettings converts the directory section, reading the bind password
// from its file or keychain item.
func (d *Definition) DirectorySettings(kc keychain.Client) (directory.Settings, error) {
	dir := d.Directory
	if dir == nil {
		return directory.Settings{}, dserrors.ConfigError{
			Field:   "directory",
			Message: "no directory section is configured",
		}
	}
	timeout, err := dir.timeout()
	if err != nil {
		return directory.Settings{}, err
	}
	password, err := dir.bindPassword(kc)
	if err != nil {
		return directory.Settings{}, err
	}

	discover := dir.Domain != ""
	if dir.DiscoverSRV != nil {
		discover = *dir.DiscoverSRV
	}

	return directory.Settings{
		Servers:            append([]string(nil), dir.Servers...),
		Domain:             dir.Domain,
		BaseDN:             dir.BaseDN,
		ComputerName:       dir.ComputerName,
		BindMethod:         dir.BindMethod,
		BindDN:             dir.BindDN,
		BindPassword:       password,
		StartTLS:           dir.StartTLS,
		InsecureSkipVerify: dir.InsecureSkipVerify,
		Timeout:            timeout,
		DiscoverSRV:        discover,
	}, nil
}

func (dir *DirectoryConfig) timeout() (time.Duration, error) {
	if dir.Timeout == "" {
		return DefaultDirectoryTimeout, nil
	}
	t, err := time.ParseDuration(dir.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", dir.Timeout, err)
	}
	if t <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", dir.Timeout)
	}
	return t, nil
}

func (dir *DirectoryConfig) bindPassword(kc keychain.Client) (string, error) {
	switch {
	case dir.BindPasswordFile != "":
		data, err := os.ReadFile(dir.BindPasswordFile)
		if err != nil {
			return "", dserrors.ConfigError{
				Field:      "directory.bind_password_file",
				Value:      dir.BindPasswordFile,
				Message:    "cannot read bind password: " + err.Error(),
				Suggestion: "Create the file readable by root only (chmod 600)",
			}
		}
		return strings.TrimRight(string(data), "\r\n"), nil

	case dir.BindPasswordKeychain != "":
		ref, err := keychain.ParseReference(dir.BindPasswordKeychain)
		if err != nil {
			return "", dserrors.ConfigError{Field: "directory.bind_password_keychain", Value: dir.BindPasswordKeychain, Message: err.Error()}
		}
		secret, err := kc.Query(ref.Service, ref.Account)
		if err != nil {
			return "", dserrors.ConfigError{
				Field:      "directory.bind_password_keychain",
				Value:      dir.BindPasswordKeychain,
				Message:    "cannot read bind password: " + err.Error(),
				Suggestion: "Store it with: security add-generic-password -s <service> -a <account> -w",
			}
		}
		return string(secret), nil
	}
	return "", nil
}
