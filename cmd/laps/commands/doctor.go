package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/laps/internal/config"
	dserrors "github.com/systmms/laps/internal/errors"
	"github.com/systmms/laps/pkg/rotation"
)

// CheckResult is the outcome of one doctor check
type CheckResult struct {
	Name       string
	Status     string // healthy, warning, error
	Message    string
	Suggestion string
}

// NewDoctorCommand creates the doctor command
func NewDoctorCommand(cfg *config.Config, env *Environment) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the account, secure store and directory",
		Long: `Verify that laps can rotate the managed account.

This command checks:
- Configuration file validity and permissions
- Privileges and the managed account
- The system secure store and any staged password
- Directory connectivity, schema and writable replicas (directory method)

Nothing is changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Logger.Info("Checking laps configuration...")
			rt, err := env.open(cfg)
			if err != nil {
				cfg.Logger.Error("Configuration error: %v", err)
				return err
			}
			cfg.Logger.Info("✓ Configuration loaded from %s", cfg.Path)

			results := runChecks(context.Background(), cfg.Path, rt, env)
			out := cmd.OutOrStdout()
			displayCheckResults(out, results, verbose)

			failed := 0
			for _, r := range results {
				if r.Status == "error" {
					failed++
				}
			}
			fmt.Fprintf(out, "\nSummary: %d/%d checks passed\n", len(results)-failed, len(results))
			if failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}

			cfg.Logger.Info("✓ Ready to rotate")
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show suggestions for failed checks")

	return cmd
}

func runChecks(ctx context.Context, configPath string, rt *runtime, env *Environment) []CheckResult {
	results := []CheckResult{checkPrivileges()}
	results = append(results, checkFileMode("config file", configPath))
	if dir := rt.def.Directory; dir != nil && dir.BindPasswordFile != "" {
		results = append(results, checkFileMode("bind password file", dir.BindPasswordFile))
	}
	results = append(results, checkAccount(ctx, rt, env))
	results = append(results, checkEscrow(rt)...)
	if backend, ok := rt.backend.(*rotation.DirectoryBackend); ok {
		results = append(results, checkDirectory(ctx, backend)...)
	}
	return results
}

func checkPrivileges() CheckResult {
	if os.Geteuid() == 0 {
		return CheckResult{Name: "privileges", Status: "healthy", Message: "running as root"}
	}
	return CheckResult{
		Name:       "privileges",
		Status:     "warning",
		Message:    fmt.Sprintf("running as uid %d", os.Geteuid()),
		Suggestion: "Run laps as root; setting passwords and reading the system secure store require it",
	}
}

// checkFileMode warns when a file holding secrets is readable by anyone but
// its owner.
func checkFileMode(name, path string) CheckResult {
	info, err := os.Stat(path)
	if err != nil {
		return CheckResult{Name: name, Status: "error", Message: err.Error()}
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return CheckResult{
			Name:       name,
			Status:     "warning",
			Message:    fmt.Sprintf("%s has mode %04o", path, perm),
			Suggestion: fmt.Sprintf("chmod 600 %s", path),
		}
	}
	return CheckResult{Name: name, Status: "healthy", Message: path}
}

func checkAccount(ctx context.Context, rt *runtime, env *Environment) CheckResult {
	name := "account " + rt.def.Account
	exists, err := env.Accounts.Exists(ctx, rt.def.Account)
	switch {
	case err != nil:
		return CheckResult{Name: name, Status: "error", Message: err.Error(), Suggestion: dserrors.Suggestion(dserrors.KindOf(err))}
	case !exists:
		return CheckResult{Name: name, Status: "error", Message: "account does not exist", Suggestion: "Create the account or fix 'account' in the config"}
	}
	return CheckResult{Name: name, Status: "healthy", Message: "account exists"}
}

func checkEscrow(rt *runtime) []CheckResult {
	var results []CheckResult

	cred, rec, err := rt.escrow.Current()
	switch {
	case err == nil:
		cred.Destroy()
		results = append(results, CheckResult{Name: "secure store", Status: "healthy", Message: "escrowed record expires " + formatTime(rec.ExpiresAt)})
	case dserrors.IsKind(err, dserrors.KindNotFound):
		results = append(results, CheckResult{Name: "secure store", Status: "healthy", Message: "reachable, nothing escrowed yet"})
	default:
		results = append(results, CheckResult{Name: "secure store", Status: "error", Message: err.Error(), Suggestion: dserrors.Suggestion(dserrors.KindOf(err))})
		return results
	}

	staged, _, pending, err := rt.escrow.Pending()
	switch {
	case err != nil:
		results = append(results, CheckResult{Name: "staged password", Status: "error", Message: err.Error()})
	case pending:
		staged.Destroy()
		results = append(results, CheckResult{
			Name:       "staged password",
			Status:     "warning",
			Message:    "a password from an interrupted run is waiting to be published",
			Suggestion: dserrors.Suggestion(dserrors.KindPartialRotation),
		})
	}
	return results
}

func checkDirectory(ctx context.Context, backend *rotation.DirectoryBackend) []CheckResult {
	if err := backend.Open(ctx); err != nil {
		return []CheckResult{{Name: "directory", Status: "error", Message: err.Error(), Suggestion: dserrors.Suggestion(dserrors.KindOf(err))}}
	}
	defer backend.Close()

	results := []CheckResult{{Name: "directory", Status: "healthy", Message: fmt.Sprintf("bound, %s schema", backend.Schema())}}

	rec, err := backend.CurrentExpiration(ctx)
	if err != nil {
		results = append(results, CheckResult{Name: "expiration", Status: "error", Message: err.Error(), Suggestion: dserrors.Suggestion(dserrors.KindOf(err))})
	} else {
		results = append(results, CheckResult{Name: "expiration", Status: "healthy", Message: "expires " + formatTime(rec.ExpiresAt)})
	}

	replica, err := backend.VerifyWritableReplica(ctx)
	if err != nil {
		results = append(results, CheckResult{Name: "writable replica", Status: "error", Message: err.Error(), Suggestion: dserrors.Suggestion(dserrors.KindOf(err))})
	} else {
		results = append(results, CheckResult{Name: "writable replica", Status: "healthy", Message: replica.Address})
	}
	return results
}

// displayCheckResults shows check results in a formatted table
func displayCheckResults(w io.Writer, results []CheckResult, verbose bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(tw, "CHECK\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(tw, "-----\t------\t-------\n")

	for _, result := range results {
		status := result.Status
		switch result.Status {
		case "healthy":
			status = "✓ " + status
		case "warning":
			status = "! " + status
		case "error":
			status = "✗ " + status
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", result.Name, status, result.Message)
	}
	_ = tw.Flush()

	if !verbose {
		return
	}
	for _, result := range results {
		if result.Status != "healthy" && result.Suggestion != "" {
			_, _ = fmt.Fprintf(w, "\n%s:\n  • %s\n", result.Name, result.Suggestion)
		}
	}
}
