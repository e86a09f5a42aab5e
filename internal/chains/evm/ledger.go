// Package evm links, deploys and checks contracts on EVM chains.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrTransactionFailed is returned when a mined transaction has a failed
// status.
var ErrTransactionFailed = errors.New("transaction failed")

// Receipt is the confirmed result of a transaction.
type Receipt struct {
	Address     common.Address // created contract, or the call target
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Ledger submits transactions and waits for their confirmation.
type Ledger interface {
	Deploy(ctx context.Context, contract abi.ABI, bytecode []byte, args ...any) (*Receipt, error)
	Invoke(ctx context.Context, address common.Address, contract abi.ABI, method string, args ...any) (*Receipt, error)
	Code(ctx context.Context, address common.Address) ([]byte, error)
}

// GasParams are the fixed send parameters. Deployments and method calls
// use different limits.
type GasParams struct {
	DeploymentGasLimit uint64
	MethodCallGasLimit uint64
	GasPrice           *big.Int
}

// backend is the subset of ethclient.Client the ledger needs.
type backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// EthLedger signs with a single key and sends through a JSON-RPC node.
// Calls must not overlap: nonces are taken from the pending state.
type EthLedger struct {
	client  backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	gas     GasParams
}

// DialLedger connects to rpcURL. A zero chainID is read from the node.
func DialLedger(ctx context.Context, rpcURL, privateKeyHex string, chainID int64, gas GasParams) (*EthLedger, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", rpcURL, err)
	}
	return NewEthLedger(ctx, client, privateKeyHex, chainID, gas)
}

// NewEthLedger builds a ledger on an existing backend.
func NewEthLedger(ctx context.Context, client backend, privateKeyHex string, chainID int64, gas GasParams) (*EthLedger, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	id := big.NewInt(chainID)
	if chainID == 0 {
		id, err = client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading chain ID: %w", err)
		}
	}

	return &EthLedger{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: id,
		gas:     gas,
	}, nil
}

// Account returns the signing address.
func (l *EthLedger) Account() common.Address {
	return l.from
}

// ChainID returns the chain the ledger signs for.
func (l *EthLedger) ChainID() *big.Int {
	return new(big.Int).Set(l.chainID)
}

func (l *EthLedger) transactor(ctx context.Context, gasLimit uint64) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(l.key, l.chainID)
	if err != nil {
		return nil, fmt.Errorf("creating transactor: %w", err)
	}
	auth.Context = ctx
	auth.GasLimit = gasLimit
	if l.gas.GasPrice != nil {
		auth.GasPrice = new(big.Int).Set(l.gas.GasPrice)
	}
	return auth, nil
}

// Deploy sends a contract creation and waits until it is mined.
func (l *EthLedger) Deploy(ctx context.Context, contract abi.ABI, bytecode []byte, args ...any) (*Receipt, error) {
	auth, err := l.transactor(ctx, l.gas.DeploymentGasLimit)
	if err != nil {
		return nil, err
	}

	addr, tx, _, err := bind.DeployContract(auth, contract, bytecode, l.client, args...)
	if err != nil {
		return nil, fmt.Errorf("sending deployment: %w", err)
	}

	receipt, err := l.wait(ctx, tx)
	if err != nil {
		return nil, err
	}
	if receipt.ContractAddress != (common.Address{}) {
		addr = receipt.ContractAddress
	}
	return &Receipt{
		Address:     addr,
		TxHash:      tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

// Invoke sends a method call transaction and waits until it is mined.
func (l *EthLedger) Invoke(ctx context.Context, address common.Address, contract abi.ABI, method string, args ...any) (*Receipt, error) {
	auth, err := l.transactor(ctx, l.gas.MethodCallGasLimit)
	if err != nil {
		return nil, err
	}

	bound := bind.NewBoundContract(address, contract, l.client, l.client, l.client)
	tx, err := bound.Transact(auth, method, args...)
	if err != nil {
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}

	receipt, err := l.wait(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		Address:     address,
		TxHash:      tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

// Code returns the runtime code at address.
func (l *EthLedger) Code(ctx context.Context, address common.Address) ([]byte, error) {
	code, err := l.client.CodeAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("reading code at %s: %w", address.Hex(), err)
	}
	return code, nil
}

func (l *EthLedger) wait(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, l.client, tx)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("%w: %s", ErrTransactionFailed, tx.Hash().Hex())
	}
	return receipt, nil
}

// CodeReader reads runtime code without a signing key.
type CodeReader struct {
	client *ethclient.Client
}

// DialCodeReader connects a read-only client to rpcURL.
func DialCodeReader(ctx context.Context, rpcURL string) (*CodeReader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", rpcURL, err)
	}
	return &CodeReader{client: client}, nil
}

// Code returns the runtime code at address.
func (r *CodeReader) Code(ctx context.Context, address common.Address) ([]byte, error) {
	code, err := r.client.CodeAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("reading code at %s: %w", address.Hex(), err)
	}
	return code, nil
}

// Close closes the connection.
func (r *CodeReader) Close() {
	r.client.Close()
}
