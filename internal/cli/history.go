package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contradeploy/internal/config"
	"github.com/pendergraft/contradeploy/internal/storage"
)

func createHistoryCmd() *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past runs or show one run",
		Long: `List recorded runs, newest first, or show the deployments, wiring calls and
verification outcomes of one run.

The addresses of a failed run can be copied into the plan as use-existing
entries so the next run continues where it stopped.

EXAMPLES:
  contradeploy history
  contradeploy history 3f0c9a8e-1c2d-4b5e-8f90-a1b2c3d4e5f6
  contradeploy history --json
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Storage.Type == "none" {
				return fmt.Errorf("run history is disabled (STORAGE_TYPE=none)")
			}
			logger := setupLogger(cfg, cmd.ErrOrStderr())

			store, err := openHistory(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				return showRun(cmd, store, args[0], jsonOutput)
			}
			return listRuns(cmd, store, limit, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func listRuns(cmd *cobra.Command, store storage.Store, limit int, jsonOutput bool) error {
	runs, err := store.ListRuns(cmd.Context(), storage.PaginationParams{Limit: limit})
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, runs)
	}

	if len(runs.Data) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNETWORK\tACCOUNT\tSTATUS\tSTARTED")
	for _, r := range runs.Data {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Network, r.Account, r.Status, r.StartedAt)
	}
	w.Flush()

	if runs.HasMore {
		fmt.Fprintf(out, "\nShowing %d runs, use --limit to see more\n", len(runs.Data))
	}
	return nil
}

type runDetail struct {
	Run           *storage.Run           `json:"run"`
	Deployments   []storage.Deployment   `json:"deployments"`
	WiringCalls   []storage.WiringCall   `json:"wiringCalls"`
	Verifications []storage.Verification `json:"verifications"`
}

func showRun(cmd *cobra.Command, store storage.Store, id string, jsonOutput bool) error {
	ctx := cmd.Context()
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}

	d := runDetail{Run: run}
	if d.Deployments, err = store.ListDeployments(ctx, id); err != nil {
		return err
	}
	if d.WiringCalls, err = store.ListWiringCalls(ctx, id); err != nil {
		return err
	}
	if d.Verifications, err = store.ListVerifications(ctx, id); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, d)
	}

	fmt.Fprintf(out, "Run:      %s\n", run.ID)
	fmt.Fprintf(out, "Network:  %s (chain %d)\n", run.Network, run.ChainID)
	fmt.Fprintf(out, "Account:  %s\n", run.Account)
	fmt.Fprintf(out, "Status:   %s\n", run.Status)
	fmt.Fprintf(out, "Started:  %s\n", run.StartedAt)
	if run.FinishedAt != "" {
		fmt.Fprintf(out, "Finished: %s\n", run.FinishedAt)
	}
	if run.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", run.Error)
	}

	if len(d.Deployments) > 0 {
		fmt.Fprintln(out, "\nDeployments:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CONTRACT\tADDRESS\tACTION\tTX")
		for _, dep := range d.Deployments {
			action, tx := "existing", "-"
			if dep.Fresh {
				action, tx = "deployed", dep.TxHash
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", dep.Contract, dep.Address, action, tx)
		}
		w.Flush()
	}

	if len(d.WiringCalls) > 0 {
		fmt.Fprintln(out, "\nWiring:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STEP\tSTATUS\tTX")
		for _, c := range d.WiringCalls {
			tx := c.TxHash
			if tx == "" {
				tx = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.Step, c.Status, tx)
		}
		w.Flush()
	}

	if len(d.Verifications) > 0 {
		fmt.Fprintln(out, "\nVerification:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CONTRACT\tADDRESS\tOUTCOME\tREASON")
		for _, v := range d.Verifications {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Contract, v.Address, v.Outcome, v.Reason)
		}
		w.Flush()
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
