package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/laps/internal/config"
	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/internal/rotation/storage"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand(cfg *config.Config, env *Environment) *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past rotation and retrieval runs",
		Long: `Display the run history of the managed account, newest first.

Every rotate and get invocation is recorded with its decision, result and
error kind. Entries older than history.retention_days are pruned.`,
		Example: `  # Last 20 runs
  laps history

  # Everything, as JSON
  laps history --limit 0 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.open(cfg)
			if err != nil {
				return err
			}

			entries, err := rt.history.GetHistory(rt.def.Account, limit)
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				return outputJSON(out, entries)
			case "yaml":
				return outputYAML(out, entries)
			case "table", "":
				return outputHistoryTable(out, entries)
			default:
				return dserrors.UserError{
					Message:    fmt.Sprintf("Unknown output format %q", format),
					Suggestion: "Use --format table, json or yaml",
				}
			}
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show (0 for all)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")

	return cmd
}

func outputHistoryTable(w io.Writer, entries []storage.HistoryEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tBACKEND\tDECISION\tRESULT\tERROR\tDURATION")
	fmt.Fprintln(tw, "----\t------\t-------\t--------\t------\t-----\t--------")
	for _, e := range entries {
		kind := "-"
		if e.ErrorKind != "" {
			kind = e.ErrorKind
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			e.Action,
			e.Backend,
			e.Decision,
			formatResult(e.Result),
			kind,
			e.Duration.Round(time.Millisecond),
		)
	}
	return tw.Flush()
}
