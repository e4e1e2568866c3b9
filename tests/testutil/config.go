// Package testutil provides test utilities and helpers for laps tests.
//
// This package contains shared test infrastructure including configuration
// builders, logger helpers, command executor mocks and output assertions.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

// TestConfigBuilder provides a fluent API for building laps.yaml files.
//
// The builder works on the raw YAML document rather than config.Definition so
// that packages imported by internal/config can use it too. Every written file
// points state_dir at a per-test temporary directory.
//
// Example usage:
//
//	path := NewTestConfig(t).
//	    WithPasswordLength(20).
//	    WithDirectory(map[string]any{"domain": "corp.example.com"}).
//	    Write()
type TestConfigBuilder struct {
	doc     map[string]any
	tempDir string
	t       *testing.T
}

// NewTestConfig creates a builder for a minimal valid local configuration
// managing the account "ladmin".
func NewTestConfig(t *testing.T) *TestConfigBuilder {
	t.Helper()

	tempDir := t.TempDir()
	return &TestConfigBuilder{
		doc: map[string]any{
			"version":   1,
			"account":   "ladmin",
			"state_dir": filepath.Join(tempDir, "state"),
		},
		tempDir: tempDir,
		t:       t,
	}
}

// StateDir returns the state directory the configuration points at.
func (b *TestConfigBuilder) StateDir() string {
	return b.doc["state_dir"].(string)
}

// WithAccount sets the managed account.
func (b *TestConfigBuilder) WithAccount(name string) *TestConfigBuilder {
	b.doc["account"] = name
	return b
}

// WithPasswordLength sets password.length, keeping any other password settings.
func (b *TestConfigBuilder) WithPasswordLength(length int) *TestConfigBuilder {
	b.section("password")["length"] = length
	return b
}

// WithDirectory switches to the directory method with the given section.
func (b *TestConfigBuilder) WithDirectory(settings map[string]any) *TestConfigBuilder {
	b.doc["method"] = "directory"
	b.doc["directory"] = settings
	return b
}

// WithMetricsTextfile enables the node_exporter textfile at path.
func (b *TestConfigBuilder) WithMetricsTextfile(path string) *TestConfigBuilder {
	b.section("metrics")["textfile"] = path
	return b
}

// Set sets an arbitrary top-level key, for cases the other methods miss.
func (b *TestConfigBuilder) Set(key string, value any) *TestConfigBuilder {
	b.doc[key] = value
	return b
}

func (b *TestConfigBuilder) section(name string) map[string]any {
	s, ok := b.doc[name].(map[string]any)
	if !ok {
		s = map[string]any{}
		b.doc[name] = s
	}
	return s
}

// Write writes the configuration to laps.yaml in the builder's temporary
// directory and returns the path.
func (b *TestConfigBuilder) Write() string {
	b.t.Helper()

	path := filepath.Join(b.tempDir, "laps.yaml")
	data, err := yaml.Marshal(b.doc)
	if err != nil {
		b.t.Fatalf("Failed to marshal test config: %v", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		b.t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

// WriteTestConfig writes a hand-written YAML string to a temporary laps.yaml.
//
// Example:
//
//	path := WriteTestConfig(t, `
//	version: 1
//	account: ladmin
//	`)
func WriteTestConfig(t *testing.T, yamlContent string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "laps.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}
