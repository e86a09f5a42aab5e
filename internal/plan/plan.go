// Package plan resolves contract identifiers against the deployment
// configuration table.
package plan

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pendergraft/contradeploy/internal/validation"
)

// Action is what the executor does with an identifier.
type Action string

const (
	ActionDeploy      Action = "deploy"
	ActionUseExisting Action = "use-existing"
)

// Configuration errors. All are fatal and are reported wrapped in a
// *ConfigError naming the identifier.
var (
	ErrNoConfiguration = errors.New("no configuration")
	ErrMissingAddress  = errors.New("use-existing without an existing instance address")
	ErrUnknownAction   = errors.New("unknown action")
	ErrInvalidAddress  = errors.New("invalid existing instance address")
	ErrDuplicate       = errors.New("duplicate configuration entry")
)

// Identifier names a contract instance. Namespace is empty for singletons
// and set for per-asset instances of a templated contract (Proxy.sUSD).
type Identifier struct {
	Name      string
	Namespace string
}

// ID returns an identifier without a namespace.
func ID(name string) Identifier {
	return Identifier{Name: name}
}

// NamespacedID returns an identifier for a namespaced instance.
func NamespacedID(name, namespace string) Identifier {
	return Identifier{Name: name, Namespace: namespace}
}

// String renders the identifier as Name or Name.Namespace.
func (id Identifier) String() string {
	if id.Namespace == "" {
		return id.Name
	}
	return id.Name + "." + id.Namespace
}

// ParseIdentifier parses Name or Name.Namespace.
func ParseIdentifier(s string) (Identifier, error) {
	name, ns, found := strings.Cut(s, ".")
	if name == "" || (found && ns == "") || strings.Contains(ns, ".") {
		return Identifier{}, fmt.Errorf("invalid contract identifier %q", s)
	}
	return Identifier{Name: name, Namespace: ns}, nil
}

// MarshalText implements encoding.TextMarshaler so identifiers can be used
// as JSON map keys.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentifier(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Configuration is the per-identifier deployment setting.
type Configuration struct {
	Action           Action
	ExistingInstance string
}

// ConfigError reports a configuration problem for one identifier.
type ConfigError struct {
	ID     Identifier
	Err    error
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("contract %s: %v: %s", e.ID, e.Err, e.Detail)
	}
	return fmt.Sprintf("contract %s: %v", e.ID, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Table is the flat configuration table keyed by identifier.
type Table map[Identifier]Configuration

// Add inserts an entry, rejecting duplicates.
func (t Table) Add(id Identifier, cfg Configuration) error {
	if _, ok := t[id]; ok {
		return &ConfigError{ID: id, Err: ErrDuplicate}
	}
	t[id] = cfg
	return nil
}

// Resolve returns the configuration for id.
func (t Table) Resolve(id Identifier) (Configuration, error) {
	cfg, ok := t[id]
	if !ok {
		return Configuration{}, &ConfigError{ID: id, Err: ErrNoConfiguration}
	}
	return cfg, nil
}

// Validate checks a single configuration entry.
func (c Configuration) Validate(id Identifier) error {
	switch c.Action {
	case ActionDeploy:
		return nil
	case ActionUseExisting:
		if c.ExistingInstance == "" {
			return &ConfigError{ID: id, Err: ErrMissingAddress}
		}
		if err := validation.ValidateAddress(c.ExistingInstance); err != nil {
			return &ConfigError{ID: id, Err: ErrInvalidAddress, Detail: err.Error()}
		}
		return nil
	default:
		return &ConfigError{ID: id, Err: ErrUnknownAction, Detail: string(c.Action)}
	}
}

// Check resolves and validates every identifier so configuration problems
// surface before any transaction is sent. All problems are returned joined.
func (t Table) Check(ids []Identifier) error {
	var errs []error
	for _, id := range ids {
		cfg, err := t.Resolve(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := cfg.Validate(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Identifiers returns the table keys in a stable order.
func (t Table) Identifiers() []Identifier {
	ids := make([]Identifier, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}
