package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/pkg/credential"
)

//go:embed schema.json
var schemaJSON []byte

// validateSchema checks the decoded YAML document against schema.json.
func validateSchema(doc interface{}) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for validation: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var messages []string
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	first := result.Errors()[0]
	return dserrors.ConfigError{
		Field:      first.Field(),
		Value:      first.Value(),
		Message:    "configuration does not match the schema:\n  - " + strings.Join(messages, "\n  - "),
		Suggestion: "See laps.example.yaml for every supported setting",
	}
}

// validate checks rules the schema cannot express.
func (d *Definition) validate() error {
	if err := d.PolicyConfig().Check(); err != nil {
		return dserrors.ConfigError{
			Field:      "password",
			Message:    err.Error(),
			Suggestion: dserrors.Suggestion(dserrors.KindOf(err)),
		}
	}

	if d.Method != MethodDirectory {
		return nil
	}
	dir := d.Directory
	if dir == nil {
		return dserrors.ConfigError{
			Field:      "directory",
			Message:    "method is directory but no directory section is configured",
			Suggestion: "Add a directory section with servers or a domain",
		}
	}
	if len(dir.Servers) == 0 && dir.Domain == "" {
		return dserrors.ConfigError{
			Field:      "directory.servers",
			Message:    "no directory servers and no domain for discovery",
			Suggestion: "Set directory.servers or directory.domain",
		}
	}
	if dir.BaseDN == "" && dir.Domain == "" {
		return dserrors.ConfigError{
			Field:      "directory.base_dn",
			Message:    "cannot derive a search base",
			Suggestion: "Set directory.base_dn or directory.domain",
		}
	}
	if dir.BindPasswordFile != "" && dir.BindPasswordKeychain != "" {
		return dserrors.ConfigError{
			Field:      "directory.bind_password_file",
			Message:    "bind_password_file and bind_password_keychain are mutually exclusive",
			Suggestion: "Keep only one of them",
		}
	}
	if dir.BindDN != "" && dir.BindPasswordFile == "" && dir.BindPasswordKeychain == "" {
		return dserrors.ConfigError{
			Field:      "directory.bind_dn",
			Message:    "bind_dn is set without a password source",
			Suggestion: "Set directory.bind_password_file or directory.bind_password_keychain",
		}
	}
	if _, err := credential.ParseSchema(dir.Schema); err != nil {
		return dserrors.ConfigError{Field: "directory.schema", Value: dir.Schema, Message: err.Error()}
	}
	if _, err := dir.timeout(); err != nil {
		return dserrors.ConfigError{Field: "directory.timeout", Value: dir.Timeout, Message: err.Error()}
	}
	return nil
}
