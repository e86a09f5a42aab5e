package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/pendergraft/contradeploy/internal/config"
	"github.com/pendergraft/contradeploy/internal/suite"
)

func createPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Deployment plan commands",
	}

	cmd.AddCommand(createPlanInitCmd())
	cmd.AddCommand(createPlanShowCmd())

	return cmd
}

func createPlanInitCmd() *cobra.Command {
	var output string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a plan file",
		Long: `Create a plan file with every setting at its default and one deploy entry
per contract in the deployment order.

EXAMPLES:
  # Create contradeploy.toml
  contradeploy plan init

  # Create a YAML plan
  contradeploy plan init --output contradeploy.yaml

  # Overwrite an existing plan
  contradeploy plan init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = config.PlanFiles[0]
			}
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("plan file already exists at %s (use --force to overwrite)", output)
			}

			p := config.DefaultPlan()
			p.Contracts = config.Entries(suite.Synthetix(common.Address{}, p.Synths).Identifiers())
			if err := p.Encode(output); err != nil {
				return fmt.Errorf("failed to write plan: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n", output)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Next steps:")
			fmt.Fprintf(out, "  1. Set existing_instance and action = \"use-existing\" for contracts already deployed\n")
			fmt.Fprintln(out, "  2. Run 'contradeploy build' to check the sources compile")
			fmt.Fprintln(out, "  3. Run 'contradeploy run' to deploy")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "plan file to write (default: contradeploy.toml)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing plan")

	return cmd
}

func createPlanShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the resolved plan",
		Long: `Display the plan's settings and the action resolved for every contract in the
deployment order. Missing or invalid entries are reported without sending
anything.

EXAMPLES:
  contradeploy plan show
  contradeploy plan show --plan deploy/mainnet.yaml
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			p := e.plan

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan:      %s\n", e.planPath)
			fmt.Fprintf(out, "Network:   %s\n", p.Network)
			fmt.Fprintf(out, "Gas:       %d deploy, %d call, %s gwei\n", p.ContractDeploymentGasLimit, p.MethodCallGasLimit, p.GasPriceGwei)
			fmt.Fprintf(out, "Sources:   %s, %s\n", p.LibraryRoot, p.ContractRoot)
			fmt.Fprintf(out, "Synths:    %v\n", p.Synths)
			fmt.Fprintf(out, "Verify:    %t (skip %v)\n", p.VerifyContracts, p.SkipVerification)
			fmt.Fprintln(out)

			ids := suite.Synthetix(common.Address{}, p.Synths).Identifiers()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CONTRACT\tACTION\tADDRESS")
			for _, id := range ids {
				cfg, err := e.table.Resolve(id)
				if err != nil {
					fmt.Fprintf(w, "%s\t(missing)\t-\n", id)
					continue
				}
				addr := cfg.ExistingInstance
				if addr == "" {
					addr = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", id, cfg.Action, addr)
			}
			w.Flush()

			if err := e.table.Check(ids); err != nil {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Problems:")
				for _, line := range unjoin(err) {
					fmt.Fprintf(out, "  %s\n", line)
				}
				return errors.New("plan is incomplete")
			}
			return nil
		},
	}
}

// unjoin splits an errors.Join result into its messages.
func unjoin(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
