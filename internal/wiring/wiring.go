// Package wiring issues the administrative calls that connect deployed
// contracts to each other.
package wiring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contradeploy/internal/chains/evm"
	"github.com/pendergraft/contradeploy/internal/observability/metrics"
	"github.com/pendergraft/contradeploy/internal/plan"
	"github.com/pendergraft/contradeploy/internal/registry"
)

// Invoker sends a method call transaction and waits for it to be mined.
type Invoker interface {
	Invoke(ctx context.Context, address common.Address, contract abi.ABI, method string, args ...any) (*evm.Receipt, error)
}

// Condition decides from the registry whether a step runs.
type Condition func(r *registry.Registry) bool

// AnyFresh holds when at least one of ids was deployed in this run.
func AnyFresh(ids ...plan.Identifier) Condition {
	return func(r *registry.Registry) bool {
		for _, id := range ids {
			if r.Fresh(id) {
				return true
			}
		}
		return false
	}
}

// Fresh holds when id was deployed in this run.
func Fresh(id plan.Identifier) Condition {
	return AnyFresh(id)
}

// Not negates c.
func Not(c Condition) Condition {
	return func(r *registry.Registry) bool { return !c(r) }
}

// And holds when every condition holds.
func And(conds ...Condition) Condition {
	return func(r *registry.Registry) bool {
		for _, c := range conds {
			if !c(r) {
				return false
			}
		}
		return true
	}
}

// Step is one wiring call on Target.
type Step struct {
	Target plan.Identifier
	Method string
	Args   func(r *registry.Registry) ([]any, error)
	// Endpoints are the contracts the call relates. Target is always one.
	Endpoints []plan.Identifier
	// When overrides the default condition, AnyFresh over Target and
	// Endpoints.
	When Condition
}

func (s Step) String() string {
	return s.Target.String() + "." + s.Method
}

func (s Step) condition() Condition {
	if s.When != nil {
		return s.When
	}
	return AnyFresh(append([]plan.Identifier{s.Target}, s.Endpoints...)...)
}

// Status of a wiring step.
type Status string

const (
	StatusInvoked Status = "invoked"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Call records what happened to one step.
type Call struct {
	Step   string      `json:"step"`
	Target string      `json:"target"`
	Method string      `json:"method"`
	Status Status      `json:"status"`
	TxHash common.Hash `json:"txHash,omitempty"`
}

// Engine runs wiring steps in order against one registry.
type Engine struct {
	invoker  Invoker
	registry *registry.Registry
	logger   *slog.Logger
}

// New creates an engine.
func New(invoker Invoker, reg *registry.Registry, logger *slog.Logger) *Engine {
	return &Engine{invoker: invoker, registry: reg, logger: logger}
}

// Run evaluates each step's condition and invokes the ones that hold, one
// at a time. The first failed call stops the run; the returned calls
// include it.
func (e *Engine) Run(ctx context.Context, steps []Step) ([]Call, error) {
	calls := make([]Call, 0, len(steps))
	for _, step := range steps {
		call := Call{Step: step.String(), Target: step.Target.String(), Method: step.Method}

		if !step.condition()(e.registry) {
			call.Status = StatusSkipped
			calls = append(calls, call)
			metrics.WiringCall(string(StatusSkipped))
			e.logger.Debug("wiring skipped", "step", call.Step)
			continue
		}

		receipt, err := e.invoke(ctx, step)
		if err != nil {
			call.Status = StatusFailed
			calls = append(calls, call)
			metrics.WiringCall(string(StatusFailed))
			return calls, fmt.Errorf("wiring %s: %w", step, err)
		}

		call.Status = StatusInvoked
		call.TxHash = receipt.TxHash
		calls = append(calls, call)
		metrics.WiringCall(string(StatusInvoked))
		e.logger.Info("wired", "step", call.Step, "tx", receipt.TxHash.Hex())
	}
	return calls, nil
}

func (e *Engine) invoke(ctx context.Context, step Step) (*evm.Receipt, error) {
	target, ok := e.registry.Get(step.Target)
	if !ok {
		return nil, fmt.Errorf("%s: %w", step.Target, registry.ErrNotFound)
	}

	var args []any
	if step.Args != nil {
		var err error
		if args, err = step.Args(e.registry); err != nil {
			return nil, err
		}
	}
	return e.invoker.Invoke(ctx, target.Address, target.ABI, step.Method, args...)
}
