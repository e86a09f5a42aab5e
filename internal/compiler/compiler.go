// Package compiler drives solc through its standard JSON interface and
// turns the output into artifacts keyed by contract name.
package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/observability/metrics"
	"github.com/pendergraft/contradeploy/internal/validation"
)

// ErrCompilation is returned when the compiler reports at least one error.
var ErrCompilation = errors.New("compilation failed")

// DiagnosticsError carries the error diagnostics of a failed compilation.
type DiagnosticsError struct {
	Errors []chains.Diagnostic
}

func (e *DiagnosticsError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		msgs = append(msgs, d.String())
	}
	return fmt.Sprintf("%v: %d error(s):\n%s", ErrCompilation, len(e.Errors), strings.Join(msgs, "\n"))
}

func (e *DiagnosticsError) Unwrap() error {
	return ErrCompilation
}

// Toolchain runs a compiler binary.
type Toolchain interface {
	// Compile takes a standard JSON input document and returns the
	// standard JSON output document.
	Compile(ctx context.Context, input []byte) ([]byte, error)
	// Version returns the raw compiler version string.
	Version(ctx context.Context) (string, error)
}

// Settings configures the optimizer and target EVM.
type Settings struct {
	OptimizerRuns int
	EVMVersion    string
}

// Result is the outcome of a compilation that produced no errors.
type Result struct {
	Artifacts map[string]chains.Artifact
	Warnings  []chains.Diagnostic
	Version   string
}

// Names returns the artifact names, sorted.
func (r *Result) Names() []string {
	names := make([]string, 0, len(r.Artifacts))
	for name := range r.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compiler compiles flattened source units.
type Compiler struct {
	toolchain Toolchain
	settings  Settings
	logger    *slog.Logger
}

// New creates a compiler.
func New(tc Toolchain, settings Settings, logger *slog.Logger) *Compiler {
	if settings.OptimizerRuns <= 0 {
		settings.OptimizerRuns = 200
	}
	return &Compiler{toolchain: tc, settings: settings, logger: logger}
}

// Compile compiles units (path -> source) in one invocation. Warnings are
// returned with the result; any error diagnostic fails the whole build.
func (c *Compiler) Compile(ctx context.Context, units map[string]string) (*Result, error) {
	start := time.Now()

	rawVersion, err := c.toolchain.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying compiler version: %w", err)
	}
	version, err := validation.NormalizeCompilerVersion(rawVersion)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateCompilerVersion(version); err != nil {
		return nil, err
	}

	input, err := json.Marshal(c.input(units))
	if err != nil {
		return nil, fmt.Errorf("encoding compiler input: %w", err)
	}

	c.logger.Info("compiling", "units", len(units), "version", version)
	raw, err := c.toolchain.Compile(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("running compiler: %w", err)
	}

	var out standardJSONOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding compiler output: %w", err)
	}

	result := &Result{Artifacts: make(map[string]chains.Artifact), Version: version}
	var errs []chains.Diagnostic
	for _, d := range out.Errors {
		if d.Severity == chains.SeverityError {
			errs = append(errs, d)
			continue
		}
		result.Warnings = append(result.Warnings, d)
	}
	for _, w := range result.Warnings {
		c.logger.Warn("compiler warning", "message", w.String())
	}
	metrics.RecordCompile(len(errs) == 0, time.Since(start))
	if len(errs) > 0 {
		return nil, &DiagnosticsError{Errors: errs}
	}

	compilerInfo := chains.EVMCompiler{
		Version:    version,
		Optimizer:  chains.OptimizerConfig{Enabled: true, Runs: c.settings.OptimizerRuns},
		EVMVersion: c.settings.EVMVersion,
	}
	for sourcePath, contracts := range out.Contracts {
		name := strings.TrimSuffix(path.Base(sourcePath), ".sol")
		contract, ok := contracts[name]
		if !ok {
			c.logger.Debug("no contract named after source unit", "source", sourcePath)
			continue
		}
		result.Artifacts[name] = chains.Artifact{
			Name:             name,
			SourcePath:       sourcePath,
			ABI:              contract.ABI,
			Bytecode:         contract.EVM.Bytecode.Object,
			DeployedBytecode: contract.EVM.DeployedBytecode.Object,
			LinkReferences:   contract.EVM.Bytecode.LinkReferences,
			Compiler:         compilerInfo,
		}
	}

	c.logger.Info("compiled", "artifacts", len(result.Artifacts), "warnings", len(result.Warnings), "duration", time.Since(start))
	return result, nil
}

func (c *Compiler) input(units map[string]string) standardJSONInput {
	in := standardJSONInput{
		Language: "Solidity",
		Sources:  make(map[string]sourceContent, len(units)),
		Settings: standardJSONSettings{
			Optimizer:  optimizerSettings{Enabled: true, Runs: c.settings.OptimizerRuns},
			EVMVersion: c.settings.EVMVersion,
			OutputSelection: map[string]map[string][]string{
				"*": {"*": {"abi", "evm.bytecode", "evm.deployedBytecode"}},
			},
		},
	}
	for p, src := range units {
		in.Sources[p] = sourceContent{Content: src}
	}
	return in
}

type standardJSONInput struct {
	Language string                   `json:"language"`
	Sources  map[string]sourceContent `json:"sources"`
	Settings standardJSONSettings     `json:"settings"`
}

type sourceContent struct {
	Content string `json:"content"`
}

type standardJSONSettings struct {
	Optimizer       optimizerSettings              `json:"optimizer"`
	EVMVersion      string                         `json:"evmVersion,omitempty"`
	OutputSelection map[string]map[string][]string `json:"outputSelection"`
}

type optimizerSettings struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

type standardJSONOutput struct {
	Errors    []chains.Diagnostic                           `json:"errors"`
	Contracts map[string]map[string]standardJSONOutContract `json:"contracts"`
}

type standardJSONOutContract struct {
	ABI json.RawMessage `json:"abi"`
	EVM struct {
		Bytecode         bytecodeObject `json:"bytecode"`
		DeployedBytecode bytecodeObject `json:"deployedBytecode"`
	} `json:"evm"`
}

type bytecodeObject struct {
	Object         string                `json:"object"`
	LinkReferences chains.LinkReferences `json:"linkReferences"`
}
