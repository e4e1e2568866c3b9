package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/systmms/laps/internal/config"
	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/rotation/storage"
)

// statusReport is what status prints in every format.
type statusReport struct {
	Account        string     `json:"account" yaml:"account"`
	Method         string     `json:"method" yaml:"method"`
	Status         string     `json:"status" yaml:"status"`
	Schema         string     `json:"schema,omitempty" yaml:"schema,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	LastRun        *time.Time `json:"last_run,omitempty" yaml:"last_run,omitempty"`
	LastRotation   *time.Time `json:"last_rotation,omitempty" yaml:"last_rotation,omitempty"`
	LastResult     string     `json:"last_result,omitempty" yaml:"last_result,omitempty"`
	LastErrorKind  string     `json:"last_error_kind,omitempty" yaml:"last_error_kind,omitempty"`
	LastError      string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	RunCount       int        `json:"run_count" yaml:"run_count"`
	RotationCount  int        `json:"rotation_count" yaml:"rotation_count"`
	FailureCount   int        `json:"failure_count" yaml:"failure_count"`
	PendingPublish bool       `json:"pending_publish" yaml:"pending_publish"`
}

// NewStatusCommand creates the status command
func NewStatusCommand(cfg *config.Config, env *Environment) *cobra.Command {
	var (
		format  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the expiration and last run of the managed account",
		Long: `Display the rotation status of the managed account.

Shows information including:
- Current expiration and whether a rotation is due
- Last run and last successful rotation
- Result and error kind of the last run
- Whether a staged password is waiting to be published

With the local method the expiration is read from the escrowed record;
with the directory method it is the one recorded by the last run.`,
		Example: `  laps status
  laps status --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.open(cfg)
			if err != nil {
				return err
			}

			report, err := buildStatus(rt, env.Clock.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				return outputJSON(out, report)
			case "yaml":
				return outputYAML(out, report)
			case "table", "":
				return outputStatusTable(out, report, env.Clock.Now(), verbose)
			default:
				return dserrors.UserError{
					Message:    fmt.Sprintf("Unknown output format %q", format),
					Suggestion: "Use --format table, json or yaml",
				}
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show the last error in full")

	return cmd
}

func buildStatus(rt *runtime, now time.Time) (*statusReport, error) {
	report := &statusReport{
		Account: rt.def.Account,
		Method:  rt.def.Method,
		Status:  "never_rotated",
	}

	status, err := rt.history.GetStatus(rt.def.Account)
	switch {
	case err == nil:
		report.Schema = status.Schema
		report.LastRun = &status.LastRun
		report.LastRotation = status.LastRotation
		report.ExpiresAt = status.ExpiresAt
		report.LastResult = status.LastResult
		report.LastErrorKind = status.LastErrorKind
		report.LastError = status.LastError
		report.RunCount = status.RunCount
		report.RotationCount = status.RotationCount
		report.FailureCount = status.FailureCount
		report.PendingPublish = status.PendingPublish
	case !errors.Is(err, storage.ErrNoStatus):
		return nil, err
	}

	if rt.def.Method == config.MethodLocal {
		cred, rec, err := rt.escrow.Current()
		switch {
		case err == nil:
			cred.Destroy()
			expires := rec.ExpiresAt
			report.ExpiresAt = &expires
		case !dserrors.IsKind(err, dserrors.KindNotFound):
			rt.logger.Warn("Cannot read the escrowed record: %v", err)
		}
	}

	if staged, _, pending, err := rt.escrow.Pending(); err == nil && pending {
		staged.Destroy()
		report.PendingPublish = true
	}

	switch {
	case report.PendingPublish:
		report.Status = "pending_publish"
	case report.LastResult == "Failed":
		report.Status = "failed"
	case report.ExpiresAt == nil || report.ExpiresAt.IsZero():
		if report.LastRotation != nil {
			report.Status = "needs_rotation"
		}
	case !report.ExpiresAt.After(now):
		report.Status = "needs_rotation"
	default:
		report.Status = "active"
	}
	return report, nil
}

func outputStatusTable(w io.Writer, report *statusReport, now time.Time, verbose bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)

	fmt.Fprintln(tw, "ACCOUNT\tMETHOD\tSTATUS\tEXPIRES\tLAST ROTATION\tLAST RESULT")
	fmt.Fprintln(tw, "-------\t------\t------\t-------\t-------------\t-----------")

	expires := "Unknown"
	if report.ExpiresAt != nil && !report.ExpiresAt.IsZero() {
		expires = formatTimestamp(*report.ExpiresAt, now)
	}
	lastRotation := "Never"
	if report.LastRotation != nil && !report.LastRotation.IsZero() {
		lastRotation = formatTimestamp(*report.LastRotation, now)
	}
	result := "-"
	if report.LastResult != "" {
		result = formatResult(report.LastResult)
		if report.LastErrorKind != "" {
			result += " (" + report.LastErrorKind + ")"
		}
	}

	method := report.Method
	if report.Schema != "" && report.Schema != "none" {
		method += "/" + report.Schema
	}

	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
		report.Account, method, formatRotationStatus(report.Status), expires, lastRotation, result)

	if verbose && report.LastError != "" {
		fmt.Fprintf(tw, "  └─ Error: %s\n", report.LastError)
	}
	return tw.Flush()
}

func formatRotationStatus(status string) string {
	switch status {
	case "active":
		return "✅ Active"
	case "failed":
		return "❌ Failed"
	case "never_rotated":
		return "⚪ Never Rotated"
	case "needs_rotation":
		return "🟡 Needs Rotation"
	case "pending_publish":
		return "🔄 Pending Publish"
	default:
		return status
	}
}

func formatResult(result string) string {
	switch result {
	case "Rotated":
		return "✅ Rotated"
	case "Retrieved":
		return "✅ Retrieved"
	case "Skipped":
		return "⏭ Skipped"
	case "Failed":
		return "❌ Failed"
	default:
		return result
	}
}

func formatTimestamp(t time.Time, now time.Time) string {
	diff := now.Sub(t)

	// Future time
	if diff < 0 {
		diff = -diff
		if diff < time.Hour {
			return fmt.Sprintf("in %d min", int(diff.Minutes()))
		} else if diff < 24*time.Hour {
			return fmt.Sprintf("in %d hr", int(diff.Hours()))
		}
		return fmt.Sprintf("in %d days", int(diff.Hours()/24))
	}

	// Past time
	if diff < time.Minute {
		return "Just now"
	} else if diff < time.Hour {
		return fmt.Sprintf("%d min ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%d hr ago", int(diff.Hours()))
	} else if diff < 7*24*time.Hour {
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	}
	return t.Format("2006-01-02")
}

// outputJSON writes data as indented JSON
func outputJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// outputYAML writes data as YAML
func outputYAML(w io.Writer, data interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return err
	}
	return encoder.Close()
}
