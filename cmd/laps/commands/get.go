package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/laps/internal/config"
	"github.com/systmms/laps/internal/escrow"
	"github.com/systmms/laps/pkg/credential"
)

// NewGetCommand creates the get command
func NewGetCommand(cfg *config.Config, env *Environment) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Retrieve the escrowed password after verifying it",
		Long: `Retrieve the escrowed password for the managed account.

The escrowed password is verified against the live account first. Only a
password that verifies is printed and landed as a fresh one-time export; the
previous export is destroyed. Only available with the local method.`,
		Example: `  # Print the password
  laps get

  # Print the password with its expiration and export handle
  laps get --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.open(cfg)
			if err != nil {
				return err
			}
			defer rt.pruneHistory()

			outcome, err := rt.engine.Retrieve(context.Background())
			if err != nil {
				return err
			}
			defer outcome.Credential.Destroy()

			return printSecret(cmd.OutOrStdout(), outcome.Credential, outcome.ExpiresAt, outcome.Handle, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format with metadata")

	return cmd
}

// NewExportCommand creates the export command
func NewExportCommand(cfg *config.Config, env *Environment) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the one-time export landed by the last run",
		Long: `Print the password landed under the current one-time export handle.

This is what an external collector reads after a rotation. The export is not
verified and is destroyed by the next rotate or get.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.open(cfg)
			if err != nil {
				return err
			}

			cred, rec, handle, err := rt.escrow.Retrieve()
			if err != nil {
				return err
			}
			defer cred.Destroy()

			return printSecret(cmd.OutOrStdout(), cred, rec.ExpiresAt, handle, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format with metadata")

	return cmd
}

func printSecret(w io.Writer, cred *credential.Credential, expiresAt time.Time, handle escrow.Handle, jsonOutput bool) error {
	password, err := cred.Plaintext()
	if err != nil {
		return err
	}

	if !jsonOutput {
		_, err = fmt.Fprint(w, password)
		return err
	}

	output := map[string]interface{}{
		"account":    cred.Account,
		"password":   password,
		"expires_at": expiresAt.UTC(),
		"handle":     handle.ID,
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
