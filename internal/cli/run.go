package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/pendergraft/contradeploy/internal/chains/evm"
	"github.com/pendergraft/contradeploy/internal/pipeline"
	"github.com/pendergraft/contradeploy/internal/server"
	"github.com/pendergraft/contradeploy/internal/suite"
)

func createRunCmd() *cobra.Command {
	var skipVerify bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build, deploy, wire and verify the suite",
		Long: `Run the whole pipeline: flatten and compile the sources, deploy or bind every
contract in the deployment order, run the wiring calls that involve a freshly
deployed contract, save the flattened sources and verify every contract on
the block explorer.

Every contract in the deployment order must have an entry in the plan. All
entries are checked before the first transaction is sent.

EXAMPLES:
  # Run with contradeploy.toml from the current directory
  PRIVATE_KEY=... INFURA_KEY=... ETHERSCAN_KEY=... contradeploy run

  # Use a specific plan and skip verification
  contradeploy run --plan deploy/kovan.yaml --skip-verify

  # Expose the live registry while the run is in progress
  STATUS_ADDR=127.0.0.1:9090 contradeploy run
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRun(ctx, cmd, skipVerify)
		},
	}

	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "do not submit sources to the block explorer")

	return cmd
}

func runRun(ctx context.Context, cmd *cobra.Command, skipVerify bool) error {
	e, err := loadEnv(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	// surface configuration problems before asking for a key
	ids := suite.Synthetix(common.Address{}, e.plan.Synths).Identifiers()
	if err := e.table.Check(ids); err != nil {
		return err
	}

	key, err := privateKey(e.cfg, stdin, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	rpcURL, err := e.cfg.Chain.RPCURLFor(e.plan.Network)
	if err != nil {
		return err
	}
	gasPrice, err := e.plan.GasPriceWei()
	if err != nil {
		return err
	}

	eth, err := evm.DialLedger(ctx, rpcURL, key, e.cfg.Chain.ChainID, evm.GasParams{
		DeploymentGasLimit: e.plan.ContractDeploymentGasLimit,
		MethodCallGasLimit: e.plan.MethodCallGasLimit,
		GasPrice:           gasPrice,
	})
	if err != nil {
		return err
	}
	e.logger.Info("connected", "network", e.plan.Network, "chain_id", eth.ChainID(), "account", eth.Account().Hex())

	store, err := openHistory(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	var history pipeline.History
	if store != nil {
		defer store.Close()
		history = store
	}

	opts := e.pipelineOptions()
	opts.ChainID = eth.ChainID().Int64()
	opts.Account = eth.Account()
	if skipVerify {
		opts.Verify.Enabled = false
	}

	ledger := evm.LoggingLedger(e.logger)(eth)
	pl := pipeline.New(opts, e.table, suite.Synthetix(eth.Account(), e.plan.Synths), e.compiler(), ledger, e.explorer(), history, e.logger)

	stopStatus := startStatus(ctx, e.cfg.Status.Addr, pl, e.logger)
	defer stopStatus()

	report, runErr := pl.Run(ctx)

	out := cmd.OutOrStdout()
	if report.RunID != "" {
		fmt.Fprintf(out, "Run %s\n\n", report.RunID)
	}
	if len(report.Instances) > 0 {
		fmt.Fprintln(out, "Deployment:")
		writeInstances(out, report.Instances)
		fmt.Fprintln(out)
	}
	if len(report.Calls) > 0 {
		fmt.Fprintln(out, "Wiring:")
		writeCalls(out, report.Calls)
		fmt.Fprintln(out)
	}
	if len(report.Verification) > 0 {
		fmt.Fprintln(out, "Verification:")
		writeVerification(out, report.Verification)
	}
	return runErr
}

// startStatus serves the status API on addr until the returned function is
// called. An empty addr disables it.
func startStatus(ctx context.Context, addr string, state server.State, logger *slog.Logger) func() {
	if addr == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.New(state, logger).Serve(ctx, addr); err != nil {
			logger.Error("status server failed", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
