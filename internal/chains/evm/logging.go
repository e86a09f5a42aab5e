package evm

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// LoggingLedger returns a ledger middleware that logs every transaction.
func LoggingLedger(logger *slog.Logger) func(Ledger) Ledger {
	return func(next Ledger) Ledger {
		return &loggingLedger{
			next:   next,
			logger: logger,
		}
	}
}

type loggingLedger struct {
	next   Ledger
	logger *slog.Logger
}

func (m *loggingLedger) Deploy(ctx context.Context, contract abi.ABI, bytecode []byte, args ...any) (*Receipt, error) {
	start := time.Now()
	receipt, err := m.next.Deploy(ctx, contract, bytecode, args...)
	attrs := []any{
		"bytes", len(bytecode),
		"args", len(args),
		"duration", time.Since(start),
	}
	if receipt != nil {
		attrs = append(attrs, "address", receipt.Address.Hex(), "tx", receipt.TxHash.Hex(), "gas_used", receipt.GasUsed)
	}
	m.log("Deploy", err, attrs...)
	return receipt, err
}

func (m *loggingLedger) Invoke(ctx context.Context, address common.Address, contract abi.ABI, method string, args ...any) (*Receipt, error) {
	start := time.Now()
	receipt, err := m.next.Invoke(ctx, address, contract, method, args...)
	attrs := []any{
		"target", address.Hex(),
		"method", method,
		"duration", time.Since(start),
	}
	if receipt != nil {
		attrs = append(attrs, "tx", receipt.TxHash.Hex(), "gas_used", receipt.GasUsed)
	}
	m.log("Invoke", err, attrs...)
	return receipt, err
}

func (m *loggingLedger) Code(ctx context.Context, address common.Address) ([]byte, error) {
	start := time.Now()
	code, err := m.next.Code(ctx, address)
	m.logger.Debug("Code",
		"address", address.Hex(),
		"bytes", len(code),
		"duration", time.Since(start),
		"error", err,
	)
	return code, err
}

func (m *loggingLedger) log(op string, err error, attrs ...any) {
	if err != nil {
		m.logger.Error(op, append(attrs, "error", err)...)
		return
	}
	m.logger.Info(op, attrs...)
}
