package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/laps/internal/config"
	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/pkg/credential"
	"github.com/systmms/laps/pkg/rotation"
)

// NewRotateCommand creates the rotate command
func NewRotateCommand(cfg *config.Config, env *Environment) *cobra.Command {
	var (
		reset         bool
		firstPassFile string
	)

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the managed account password when it is due",
		Long: `Rotate the managed local administrator password.

Without flags the password is only rotated when the escrowed expiration has
passed. A password staged by an interrupted run is published first.

--reset rotates regardless of the expiration. Together with --first-pass-file
the account's current password is escrowed as-is with an expiration in the
past, so the next run rotates it.`,
		Example: `  # Scheduled run (launchd / systemd timer)
  laps rotate --non-interactive

  # Force a rotation now
  laps rotate --reset

  # Adopt the password the account already has
  laps rotate --reset --first-pass-file /root/ladmin.txt
  laps rotate --reset --first-pass-file -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if firstPassFile != "" && !reset {
				return dserrors.UserError{
					Message:    "--first-pass-file requires --reset",
					Suggestion: "Run: laps rotate --reset --first-pass-file " + firstPassFile,
				}
			}

			rt, err := env.open(cfg)
			if err != nil {
				return err
			}
			defer rt.pruneHistory()

			req := rotation.RunRequest{Force: reset}
			if firstPassFile != "" {
				cred, err := readFirstPass(cmd, cfg, rt.def.Account, firstPassFile)
				if err != nil {
					return err
				}
				defer cred.Destroy()
				req.FirstPass = cred
			}

			outcome, err := rt.engine.Run(context.Background(), req)
			printOutcome(cmd.OutOrStdout(), rt.def.Account, outcome)
			return err
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Rotate even if the password has not expired")
	cmd.Flags().StringVar(&firstPassFile, "first-pass-file", "", "File holding the account's current password ('-' for stdin); requires --reset")

	return cmd
}

func readFirstPass(cmd *cobra.Command, cfg *config.Config, account, path string) (*credential.Credential, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		if !cfg.NonInteractive {
			fmt.Fprintf(cmd.ErrOrStderr(), "Current password for %s: ", account)
		}
		data, err = io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4096))
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, dserrors.UserError{
			Message:    "Failed to read the first-pass password",
			Details:    err.Error(),
			Suggestion: "Check the --first-pass-file path and its permissions",
			Err:        err,
		}
	}

	password := strings.TrimRight(string(data), "\r\n")
	for i := range data {
		data[i] = 0
	}
	if password == "" {
		return nil, dserrors.UserError{
			Message:    "The first-pass password is empty",
			Suggestion: "Write the account's current password to the file without extra lines",
		}
	}
	return credential.New(account, password)
}

func printOutcome(w io.Writer, account string, outcome *rotation.Outcome) {
	if outcome == nil {
		return
	}
	if outcome.Republished {
		fmt.Fprintf(w, "Published the password staged by an earlier run for %s\n", account)
	}
	switch outcome.Result {
	case rotation.ResultRotated:
		fmt.Fprintf(w, "✓ Rotated %s (%s", account, outcome.Backend)
		if outcome.Schema != credential.SchemaNone {
			fmt.Fprintf(w, ", %s schema", outcome.Schema)
		}
		fmt.Fprintf(w, "); expires %s\n", formatTime(outcome.ExpiresAt))
	case rotation.ResultSkipped:
		fmt.Fprintf(w, "Skipped %s: %s; expires %s\n", account, outcome.Decision.Reason, formatTime(outcome.ExpiresAt))
	case rotation.ResultFailed:
		fmt.Fprintf(w, "✗ %s: %s (%s)\n", account, outcome.Kind(), outcome.Decision)
	}
}
