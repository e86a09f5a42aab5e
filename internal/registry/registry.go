// Package registry tracks the contract instances resolved during a
// pipeline run.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contradeploy/internal/plan"
)

var (
	ErrDuplicate = errors.New("identifier already registered")
	ErrNotFound  = errors.New("identifier not registered")
)

// Instance is a resolved contract: either bound to an existing address or
// freshly deployed in this run.
type Instance struct {
	ID      plan.Identifier `json:"id"`
	Address common.Address  `json:"address"`
	ABI     abi.ABI         `json:"-"`
	RawABI  json.RawMessage `json:"-"`
	// Fresh is true when the instance was deployed by this run.
	Fresh  bool        `json:"fresh"`
	TxHash common.Hash `json:"txHash,omitempty"`
	// Bytecode is the linked creation code (hex, no prefix).
	Bytecode string `json:"-"`
}

// Registry is append-only. Writes come from the executor only; the status
// server and the verification job read concurrently.
type Registry struct {
	mu      sync.RWMutex
	order   []plan.Identifier
	entries map[plan.Identifier]Instance
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[plan.Identifier]Instance),
	}
}

// Put records an instance. An identifier can be registered once.
func (r *Registry) Put(inst Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[inst.ID]; ok {
		return fmt.Errorf("%s: %w", inst.ID, ErrDuplicate)
	}
	r.entries[inst.ID] = inst
	r.order = append(r.order, inst.ID)
	return nil
}

// Get returns the instance for id.
func (r *Registry) Get(id plan.Identifier) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.entries[id]
	return inst, ok
}

// Address returns the address registered for id.
func (r *Registry) Address(id plan.Identifier) (common.Address, error) {
	inst, ok := r.Get(id)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return inst.Address, nil
}

// Fresh reports whether id was deployed in this run. Unregistered
// identifiers are not fresh.
func (r *Registry) Fresh(id plan.Identifier) bool {
	inst, ok := r.Get(id)
	return ok && inst.Fresh
}

// Libraries returns the registered addresses for the named library
// contracts, skipping libraries not yet registered.
func (r *Registry) Libraries(names []string) map[string]common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	libs := make(map[string]common.Address, len(names))
	for _, name := range names {
		if inst, ok := r.entries[plan.ID(name)]; ok {
			libs[name] = inst.Address
		}
	}
	return libs
}

// All returns the instances in registration order.
func (r *Registry) All() []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Instance, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
