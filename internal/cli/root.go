package cli

import (
	"github.com/spf13/cobra"
)

var planFile string

// Execute runs the CLI
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "contradeploy",
		Short: "Build, deploy, wire and verify a smart contract suite",
		Long: `Contradeploy compiles a contract suite, deploys the contracts the plan marks
for deployment, wires them together and publishes their sources to a block
explorer.

Runtime settings (keys, endpoints, storage) come from the environment. The
deployment itself is described by a plan file (contradeploy.toml or
contradeploy.yaml).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&planFile, "plan", "", "plan file (default: contradeploy.toml, contradeploy.yaml)")

	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createBuildCmd())
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createHistoryCmd())
	rootCmd.AddCommand(createPlanCmd())

	return rootCmd
}
