package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/pendergraft/contradeploy/internal/chains/evm"
	"github.com/pendergraft/contradeploy/internal/pipeline"
	"github.com/pendergraft/contradeploy/internal/plan"
	"github.com/pendergraft/contradeploy/internal/storage"
	"github.com/pendergraft/contradeploy/internal/suite"
	"github.com/pendergraft/contradeploy/internal/verification"
)

// ErrNothingToVerify is returned when no contract address is known.
var ErrNothingToVerify = errors.New("no deployed contracts to verify")

func createVerifyCmd() *cobra.Command {
	var runID string
	var local bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify already deployed contracts",
		Long: `Verify the contracts of an earlier run without deploying anything.

Addresses come from the plan's use-existing entries and from the run history
(the latest run unless --run is given). The sources are rebuilt so the
submitted code and linked bytecode match what was deployed.

With --local the runtime code at each address is compared with the compiled
code over JSON-RPC instead of asking the block explorer.

EXAMPLES:
  # Verify the latest run on the explorer
  ETHERSCAN_KEY=... contradeploy verify

  # Verify a specific run
  contradeploy verify --run 3f0c9a8e-...

  # Compare on-chain code only
  RPC_URL=http://localhost:8545 contradeploy verify --local
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runVerify(ctx, cmd, runID, local)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run ID from history (default: latest)")
	cmd.Flags().BoolVar(&local, "local", false, "compare on-chain code instead of using the explorer")

	return cmd
}

func runVerify(ctx context.Context, cmd *cobra.Command, runID string, local bool) error {
	e, err := loadEnv(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	addresses, err := knownAddresses(ctx, e, runID)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return ErrNothingToVerify
	}

	opts := e.pipelineOptions()
	opts.Verify.Enabled = true
	s := suite.Synthetix(common.Address{}, e.plan.Synths)
	pl := pipeline.New(opts, e.table, s, e.compiler(), nil, e.explorer(), nil, e.logger)

	if err := pl.Build(ctx); err != nil {
		return err
	}
	if err := pl.Bind(ctx, addresses); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if local {
		rpcURL, err := e.cfg.Chain.RPCURLFor(e.plan.Network)
		if err != nil {
			return err
		}
		reader, err := evm.DialCodeReader(ctx, rpcURL)
		if err != nil {
			return err
		}
		defer reader.Close()

		results := verification.CheckOnChain(ctx, reader, pl.Targets(), pl.Artifacts(), pl.Registry().Libraries(opts.Libraries))
		writeLocal(out, results)
		for _, r := range results {
			if !r.Match {
				return fmt.Errorf("%w: %s", verification.ErrUnverified, r.ID)
			}
		}
		return nil
	}

	records := pl.Verify(ctx)
	writeVerification(out, records)
	return verification.RequireVerified(records)
}

// knownAddresses collects use-existing entries from the plan, overlaid with
// the deployments of a recorded run.
func knownAddresses(ctx context.Context, e *env, runID string) (map[plan.Identifier]common.Address, error) {
	addresses := make(map[plan.Identifier]common.Address)
	for id, cfg := range e.table {
		if cfg.Action == plan.ActionUseExisting {
			addresses[id] = common.HexToAddress(cfg.ExistingInstance)
		}
	}

	store, err := openHistory(ctx, e.cfg, e.logger)
	if err != nil || store == nil {
		return addresses, err
	}
	defer store.Close()

	if runID == "" {
		runs, err := store.ListRuns(ctx, storage.PaginationParams{Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		if len(runs.Data) == 0 {
			return addresses, nil
		}
		runID = runs.Data[0].ID
	} else if _, err := store.GetRun(ctx, runID); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	deployments, err := store.ListDeployments(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("listing deployments of run %s: %w", runID, err)
	}
	for _, d := range deployments {
		id, err := plan.ParseIdentifier(d.Contract)
		if err != nil {
			return nil, err
		}
		addresses[id] = common.HexToAddress(d.Address)
	}
	e.logger.Info("addresses loaded from history", "run", runID, "deployments", len(deployments))
	return addresses, nil
}
