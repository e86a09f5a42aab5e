package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/params"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/contradeploy/internal/plan"
	"github.com/pendergraft/contradeploy/internal/suite"
	"github.com/pendergraft/contradeploy/internal/validation"
)

// PlanFiles is the search order for deployment plan files
var PlanFiles = []string{"contradeploy.toml", "contradeploy.yaml", "contradeploy.yml"}

// Plan is the deployment plan file
type Plan struct {
	Network                    string   `toml:"network" yaml:"network"`
	ContractDeploymentGasLimit uint64   `toml:"contract_deployment_gas_limit" yaml:"contract_deployment_gas_limit"`
	MethodCallGasLimit         uint64   `toml:"method_call_gas_limit" yaml:"method_call_gas_limit"`
	GasPriceGwei               string   `toml:"gas_price_gwei" yaml:"gas_price_gwei"`
	StripExcessWhitespace      bool     `toml:"strip_excess_whitespace" yaml:"strip_excess_whitespace"`
	SaveFlattenedContracts     bool     `toml:"save_flattened_contracts" yaml:"save_flattened_contracts"`
	FlattenedContractsFolder   string   `toml:"flattened_contracts_folder" yaml:"flattened_contracts_folder"`
	VerifyContracts            bool     `toml:"verify_contracts" yaml:"verify_contracts"`
	LibraryRoot                string   `toml:"library_root" yaml:"library_root"`
	ContractRoot               string   `toml:"contract_root" yaml:"contract_root"`
	Synths                     []string `toml:"synths" yaml:"synths"`
	Libraries                  []string `toml:"libraries" yaml:"libraries"`
	SkipVerification           []string `toml:"skip_verification" yaml:"skip_verification"`
	// CompilerVersion overrides the version reported to the explorer.
	CompilerVersion string          `toml:"compiler_version,omitempty" yaml:"compiler_version,omitempty"`
	OptimizerRuns   int             `toml:"optimizer_runs" yaml:"optimizer_runs"`
	Contracts       []ContractEntry `toml:"contracts" yaml:"contracts"`
}

// ContractEntry is one row of the contract configuration table
type ContractEntry struct {
	Name             string `toml:"name" yaml:"name"`
	Namespace        string `toml:"namespace,omitempty" yaml:"namespace,omitempty"`
	Action           string `toml:"action" yaml:"action"`
	ExistingInstance string `toml:"existing_instance,omitempty" yaml:"existing_instance,omitempty"`
}

// DefaultPlan returns a plan with every setting at its default
func DefaultPlan() *Plan {
	return &Plan{
		Network:                    "kovan",
		ContractDeploymentGasLimit: 8_000_000,
		MethodCallGasLimit:         150_000,
		GasPriceGwei:               "10.0",
		StripExcessWhitespace:      true,
		SaveFlattenedContracts:     true,
		FlattenedContractsFolder:   "./flattened-contracts",
		VerifyContracts:            true,
		LibraryRoot:                "node_modules",
		ContractRoot:               "contracts",
		Synths:                     []string{"XDR", "sUSD", "sEUR", "sJPY", "sAUD", "sKRW", "sGBP", "sCHF"},
		Libraries:                  slices.Clone(suite.Libraries),
		SkipVerification:           slices.Clone(suite.SkipVerification),
		OptimizerRuns:              200,
	}
}

// FindPlan returns path if set, else the first plan file present in dir.
func FindPlan(dir, path string) (string, error) {
	if path != "" {
		return path, nil
	}
	for _, name := range PlanFiles {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no plan file (%s) in %s: %w", strings.Join(PlanFiles, ", "), dir, os.ErrNotExist)
}

// LoadPlan reads a plan file. The format follows the extension: .yaml and
// .yml are YAML, anything else is TOML. Unset settings keep their defaults.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	p := DefaultPlan()
	if isYAML(path) {
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	} else if _, err := toml.Decode(string(data), p); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.CompilerVersion != "" {
		// platform suffixes such as .Emscripten.clang are not accepted by explorers
		if p.CompilerVersion, err = validation.NormalizeCompilerVersion(p.CompilerVersion); err != nil {
			return nil, fmt.Errorf("%s: compiler_version: %w", path, err)
		}
	}
	return p, nil
}

// Validate checks the settings that do not depend on the contract table.
// Table entries are checked when the table is built and again before any
// transaction is sent.
func (p *Plan) Validate() error {
	var errs []error
	if p.Network == "" {
		errs = append(errs, errors.New("network is required"))
	}
	if p.ContractDeploymentGasLimit == 0 || p.MethodCallGasLimit == 0 {
		errs = append(errs, errors.New("gas limits must be positive"))
	}
	if _, err := p.GasPriceWei(); err != nil {
		errs = append(errs, err)
	}
	if p.OptimizerRuns <= 0 {
		errs = append(errs, fmt.Errorf("optimizer_runs must be positive, got %d", p.OptimizerRuns))
	}
	for _, key := range p.Synths {
		if err := validation.ValidateCurrencyKey(key); err != nil {
			errs = append(errs, fmt.Errorf("synth %q: %w", key, err))
		}
	}
	if p.CompilerVersion != "" {
		if err := validation.ValidateCompilerVersion(p.CompilerVersion); err != nil {
			errs = append(errs, fmt.Errorf("compiler_version: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GasPriceWei converts the configured gas price to wei.
func (p *Plan) GasPriceWei() (*big.Int, error) {
	wei, err := suite.ToWei(p.GasPriceGwei, params.GWei)
	if err != nil {
		return nil, fmt.Errorf("gas_price_gwei: %w", err)
	}
	return wei, nil
}

// Table builds the flat configuration table. Duplicate identifiers and
// malformed entries are rejected.
func (p *Plan) Table() (plan.Table, error) {
	t := make(plan.Table, len(p.Contracts))
	var errs []error
	for _, c := range p.Contracts {
		if c.Name == "" || strings.Contains(c.Name, ".") || strings.Contains(c.Namespace, ".") {
			errs = append(errs, fmt.Errorf("invalid contract entry %q/%q", c.Name, c.Namespace))
			continue
		}
		id := plan.NamespacedID(c.Name, c.Namespace)
		cfg := plan.Configuration{Action: plan.Action(c.Action), ExistingInstance: c.ExistingInstance}
		if err := t.Add(id, cfg); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := cfg.Validate(id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return t, nil
}

// Entries returns table rows deploying every identifier in ids. It seeds a
// new plan file.
func Entries(ids []plan.Identifier) []ContractEntry {
	out := make([]ContractEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, ContractEntry{Name: id.Name, Namespace: id.Namespace, Action: string(plan.ActionDeploy)})
	}
	return out
}

// Encode writes the plan to path, as YAML for .yaml and .yml and TOML
// otherwise.
func (p *Plan) Encode(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	}
	return toml.NewEncoder(f).Encode(p)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
