package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/pendergraft/contradeploy/internal/pipeline"
	"github.com/pendergraft/contradeploy/internal/suite"
)

func createBuildCmd() *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Flatten and compile the sources",
		Long: `Flatten every first-party source file and compile the result, without
touching the chain. Useful to check a plan's roots and compiler before a run.

EXAMPLES:
  contradeploy build

  # Also write the flattened sources to the plan's folder
  contradeploy build --save
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			opts := e.pipelineOptions()
			opts.SaveFlattened = save
			s := suite.Synthetix(common.Address{}, e.plan.Synths)
			pl := pipeline.New(opts, e.table, s, e.compiler(), nil, nil, nil, e.logger)

			if err := pl.Build(cmd.Context()); err != nil {
				return err
			}
			if err := pl.SaveFlattened(); err != nil {
				return err
			}

			artifacts := pl.Artifacts()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CONTRACT\tSOURCE\tBYTECODE")
			for _, id := range s.Identifiers() {
				art, ok := artifacts[id.Name]
				if !ok {
					fmt.Fprintf(w, "%s\t-\tmissing\n", id)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%d bytes\n", id, art.SourcePath, len(strings.TrimPrefix(art.Bytecode, "0x"))/2)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "save the flattened sources")

	return cmd
}
