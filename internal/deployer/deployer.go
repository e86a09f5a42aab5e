// Package deployer resolves each contract identifier against the plan and
// either binds it to an existing instance or deploys it.
package deployer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/chains/evm"
	"github.com/pendergraft/contradeploy/internal/observability/metrics"
	"github.com/pendergraft/contradeploy/internal/plan"
	"github.com/pendergraft/contradeploy/internal/registry"
)

// ErrUnknownContract is returned when no artifact exists for an
// identifier's base name.
var ErrUnknownContract = errors.New("unknown contract")

// ContractCreator submits contract-creation transactions and waits for
// them to be mined.
type ContractCreator interface {
	Deploy(ctx context.Context, contract abi.ABI, bytecode []byte, args ...any) (*evm.Receipt, error)
}

// Step is one entry of the deployment order. Args is evaluated just before
// the step runs so it can read addresses registered by earlier steps.
type Step struct {
	ID   plan.Identifier
	Args func(r *registry.Registry) ([]any, error)
}

// Identifiers returns the identifiers of steps, in order.
func Identifiers(steps []Step) []plan.Identifier {
	ids := make([]plan.Identifier, 0, len(steps))
	for _, s := range steps {
		ids = append(ids, s.ID)
	}
	return ids
}

// Executor runs deploy steps against one registry.
type Executor struct {
	table     plan.Table
	artifacts map[string]chains.Artifact
	registry  *registry.Registry
	ledger    ContractCreator
	libraries []string
	logger    *slog.Logger
}

// New creates an executor. libraries names the contracts whose addresses
// are linked into later bytecode.
func New(table plan.Table, artifacts map[string]chains.Artifact, reg *registry.Registry, ledger ContractCreator, libraries []string, logger *slog.Logger) *Executor {
	return &Executor{
		table:     table,
		artifacts: artifacts,
		registry:  reg,
		ledger:    ledger,
		libraries: libraries,
		logger:    logger,
	}
}

// Deploy resolves id, links its artifact against the registry and binds or
// deploys it. The result is recorded in the registry under the full
// identifier.
func (e *Executor) Deploy(ctx context.Context, id plan.Identifier, args ...any) (registry.Instance, error) {
	cfg, err := e.table.Resolve(id)
	if err != nil {
		return registry.Instance{}, err
	}

	art, ok := e.artifacts[id.Name]
	if !ok {
		return registry.Instance{}, fmt.Errorf("contract %s: %w", id, ErrUnknownContract)
	}

	linked, err := evm.Link(art, e.registry.Libraries(e.libraries))
	if err != nil {
		return registry.Instance{}, fmt.Errorf("linking %s: %w", id, err)
	}

	parsed, err := parseABI(art.ABI)
	if err != nil {
		return registry.Instance{}, fmt.Errorf("parsing ABI of %s: %w", id, err)
	}

	inst := registry.Instance{
		ID:       id,
		ABI:      parsed,
		RawABI:   art.ABI,
		Bytecode: strings.TrimPrefix(linked, "0x"),
	}

	switch cfg.Action {
	case plan.ActionUseExisting:
		if err := cfg.Validate(id); err != nil {
			metrics.ContractDeploy(string(cfg.Action), false)
			return registry.Instance{}, err
		}
		inst.Address = common.HexToAddress(cfg.ExistingInstance)
		e.logger.Info("using existing instance", "contract", id.String(), "address", inst.Address.Hex())

	case plan.ActionDeploy:
		code, err := hex.DecodeString(inst.Bytecode)
		if err != nil {
			return registry.Instance{}, fmt.Errorf("decoding bytecode of %s: %w", id, err)
		}
		e.logger.Info("deploying", "contract", id.String(), "args", len(args))
		receipt, err := e.ledger.Deploy(ctx, parsed, code, args...)
		if err != nil {
			metrics.ContractDeploy(string(cfg.Action), false)
			return registry.Instance{}, fmt.Errorf("deploying %s: %w", id, err)
		}
		inst.Address = receipt.Address
		inst.TxHash = receipt.TxHash
		inst.Fresh = true
		e.logger.Info("deployed", "contract", id.String(), "address", inst.Address.Hex(), "tx", inst.TxHash.Hex())

	default:
		return registry.Instance{}, cfg.Validate(id)
	}

	if err := e.registry.Put(inst); err != nil {
		return registry.Instance{}, err
	}
	metrics.ContractDeploy(string(cfg.Action), true)
	return inst, nil
}

// Bind registers id at a known address. No transaction is sent and no
// constructor arguments are built. Bytecode whose libraries are not
// registered is kept unlinked.
func (e *Executor) Bind(id plan.Identifier, addr common.Address) (registry.Instance, error) {
	art, ok := e.artifacts[id.Name]
	if !ok {
		return registry.Instance{}, fmt.Errorf("contract %s: %w", id, ErrUnknownContract)
	}
	parsed, err := parseABI(art.ABI)
	if err != nil {
		return registry.Instance{}, fmt.Errorf("parsing ABI of %s: %w", id, err)
	}

	bytecode, err := evm.Link(art, e.registry.Libraries(e.libraries))
	if err != nil {
		e.logger.Warn("bytecode left unlinked", "contract", id.String(), "error", err)
		bytecode = art.Bytecode
	}

	inst := registry.Instance{
		ID:       id,
		ABI:      parsed,
		RawABI:   art.ABI,
		Bytecode: strings.TrimPrefix(bytecode, "0x"),
		Address:  addr,
	}
	if err := e.registry.Put(inst); err != nil {
		return registry.Instance{}, err
	}
	e.logger.Info("bound", "contract", id.String(), "address", addr.Hex())
	return inst, nil
}

// DeployAll runs steps in order and stops at the first error.
func (e *Executor) DeployAll(ctx context.Context, steps []Step) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		var args []any
		if step.Args != nil {
			var err error
			args, err = step.Args(e.registry)
			if err != nil {
				return fmt.Errorf("constructor arguments for %s: %w", step.ID, err)
			}
		}
		if _, err := e.Deploy(ctx, step.ID, args...); err != nil {
			return err
		}
	}
	return nil
}

func parseABI(raw []byte) (abi.ABI, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return abi.ABI{}, nil
	}
	return abi.JSON(bytes.NewReader(raw))
}
