// Package config loads laps.yaml and turns it into the immutable settings the
// rotation engine and its collaborators are built from.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/logging"
)

// Defaults applied to fields the file leaves out.
const (
	DefaultPath               = "/etc/laps/laps.yaml"
	DefaultStateDir           = "/var/db/laps"
	DefaultDaysTillExpiration = 60
	DefaultEscrowService      = "com.systmms.laps"
	DefaultDirectoryTimeout   = 15 * time.Second
	DefaultHistoryRetention   = 365
)

// Methods
const (
	MethodLocal     = "local"
	MethodDirectory = "directory"
)

// Config holds the runtime configuration
type Config struct {
	Path           string
	Logger         *logging.Logger
	NonInteractive bool
	Definition     *Definition
}

// Definition represents the laps.yaml structure
type Definition struct {
	Version            int              `yaml:"version"`
	Method             string           `yaml:"method,omitempty"`
	Account            string           `yaml:"account"`
	DaysTillExpiration int              `yaml:"days_till_expiration,omitempty"`
	StateDir           string           `yaml:"state_dir,omitempty"`
	Password           PasswordConfig   `yaml:"password,omitempty"`
	Escrow             EscrowConfig     `yaml:"escrow,omitempty"`
	Directory          *DirectoryConfig `yaml:"directory,omitempty"`
	Metrics            MetricsConfig    `yaml:"metrics,omitempty"`
	History            HistoryConfig    `yaml:"history,omitempty"`
}

// PasswordConfig is the password policy section
type PasswordConfig struct {
	Length        int            `yaml:"length,omitempty"`
	Required      map[string]int `yaml:"required,omitempty"`
	ExcludeChars  string         `yaml:"exclude_chars,omitempty"`
	ExclusionSets []string       `yaml:"exclusion_sets,omitempty"`
}

// EscrowConfig configures the OS secure store
type EscrowConfig struct {
	Service string `yaml:"service,omitempty"`
	// Export lands a one-time copy for an external poller after every rotation.
	Export *bool  `yaml:"export,omitempty"`
	Marker string `yaml:"marker,omitempty"`
}

// DirectoryConfig configures the directory backend
type DirectoryConfig struct {
	Servers              []string `yaml:"servers,omitempty"`
	Domain               string   `yaml:"domain,omitempty"`
	DiscoverSRV          *bool    `yaml:"discover_srv,omitempty"`
	BaseDN               string   `yaml:"base_dn,omitempty"`
	ComputerName         string   `yaml:"computer_name,omitempty"`
	BindMethod           string   `yaml:"bind_method,omitempty"`
	BindDN               string   `yaml:"bind_dn,omitempty"`
	BindPasswordFile     string   `yaml:"bind_password_file,omitempty"`
	BindPasswordKeychain string   `yaml:"bind_password_keychain,omitempty"`
	Schema               string   `yaml:"schema,omitempty"`
	StartTLS             bool     `yaml:"start_tls,omitempty"`
	InsecureSkipVerify   bool     `yaml:"insecure_skip_verify,omitempty"`
	Timeout              string   `yaml:"timeout,omitempty"`
}

// MetricsConfig configures the node_exporter textfile
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// HistoryConfig configures run history retention
type HistoryConfig struct {
	RetentionDays *int `yaml:"retention_days,omitempty"`
}

// Load reads, validates and parses the laps.yaml file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Copy laps.example.yaml to " + DefaultPath + " or pass --config",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}
	c.Definition = def
	return nil
}

// Parse validates raw YAML against the schema, applies defaults and checks
// the cross-field rules.
func Parse(data []byte) (*Definition, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "configuration does not match the expected structure",
			Suggestion: err.Error(),
		}
	}
	def.applyDefaults()
	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) applyDefaults() {
	if d.Method == "" {
		d.Method = MethodLocal
	}
	if d.DaysTillExpiration == 0 {
		d.DaysTillExpiration = DefaultDaysTillExpiration
	}
	if d.StateDir == "" {
		d.StateDir = DefaultStateDir
	}
	if d.Escrow.Service == "" {
		d.Escrow.Service = DefaultEscrowService
	}
	if d.Escrow.Marker == "" {
		d.Escrow.Marker = filepath.Join(d.StateDir, "escrow", "handle")
	}
	if d.Directory != nil && d.Directory.BindMethod == "" {
		d.Directory.BindMethod = "simple"
	}
}

// ExportEnabled reports whether one-time exports are landed. Default on.
func (d *Definition) ExportEnabled() bool {
	return d.Escrow.Export == nil || *d.Escrow.Export
}

// LockPath returns the run lock location.
func (d *Definition) LockPath() string {
	return filepath.Join(d.StateDir, "laps.lock")
}

// HistoryRetention returns how long run history is kept. Zero keeps everything.
func (d *Definition) HistoryRetention() time.Duration {
	days := DefaultHistoryRetention
	if d.History.RetentionDays != nil {
		days = *d.History.RetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}
