package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// creation code that copies a 5 byte runtime into memory and returns it
const creationPrefix = "6005600c60003960056000f3"

const (
	runtimeReturn = "60006000f3" // RETURN(0, 0)
	runtimeRevert = "60006000fd" // REVERT(0, 0)
)

const setTargetABI = `[{"type":"function","name":"setTarget","inputs":[{"name":"target","type":"address"}],"outputs":[],"stateMutability":"nonpayable"}]`

func newSimulatedLedger(t *testing.T) (*EthLedger, *simulated.Backend) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	sim := simulated.NewBackend(types.GenesisAlloc{
		from: {Balance: new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))},
	})
	t.Cleanup(func() { sim.Close() })

	ledger, err := NewEthLedger(context.Background(), sim.Client(), hex.EncodeToString(crypto.FromECDSA(key)), 0, GasParams{
		DeploymentGasLimit: 8_000_000,
		MethodCallGasLimit: 150_000,
		GasPrice:           big.NewInt(10_000_000_000),
	})
	require.NoError(t, err)
	assert.Equal(t, from, ledger.Account())
	return ledger, sim
}

// mine commits blocks until the returned stop function is called.
func mine(sim *simulated.Backend) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				sim.Commit()
			}
		}
	}()
	return func() { close(done) }
}

func TestEthLedgerDeployAndInvoke(t *testing.T) {
	ledger, sim := newSimulatedLedger(t)
	stop := mine(sim)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	code, err := hex.DecodeString(creationPrefix + runtimeReturn)
	require.NoError(t, err)
	parsed, err := abi.JSON(strings.NewReader(setTargetABI))
	require.NoError(t, err)

	receipt, err := ledger.Deploy(ctx, parsed, code)
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, receipt.Address)
	assert.NotEqual(t, common.Hash{}, receipt.TxHash)

	runtime, err := ledger.Code(ctx, receipt.Address)
	require.NoError(t, err)
	assert.Equal(t, runtimeReturn, hex.EncodeToString(runtime))

	call, err := ledger.Invoke(ctx, receipt.Address, parsed, "setTarget", common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, receipt.Address, call.Address)
}

func TestEthLedgerFailedTransaction(t *testing.T) {
	ledger, sim := newSimulatedLedger(t)
	stop := mine(sim)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	code, err := hex.DecodeString(creationPrefix + runtimeRevert)
	require.NoError(t, err)
	parsed, err := abi.JSON(strings.NewReader(setTargetABI))
	require.NoError(t, err)

	receipt, err := ledger.Deploy(ctx, parsed, code)
	require.NoError(t, err)

	_, err = ledger.Invoke(ctx, receipt.Address, parsed, "setTarget", common.HexToAddress("0x01"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransactionFailed))
}

func TestEthLedgerRejectsBadKey(t *testing.T) {
	sim := simulated.NewBackend(types.GenesisAlloc{})
	defer sim.Close()

	_, err := NewEthLedger(context.Background(), sim.Client(), "not-a-key", 1, GasParams{})
	assert.Error(t, err)
}

func TestLoggingLedgerPassesThrough(t *testing.T) {
	ledger, sim := newSimulatedLedger(t)
	stop := mine(sim)
	defer stop()

	logged := LoggingLedger(slog.New(slog.NewTextHandler(io.Discard, nil)))(ledger)

	code, err := hex.DecodeString(creationPrefix + runtimeReturn)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	receipt, err := logged.Deploy(ctx, abi.ABI{}, code)
	require.NoError(t, err)

	runtime, err := logged.Code(ctx, receipt.Address)
	require.NoError(t, err)
	assert.Len(t, runtime, 5)
}
