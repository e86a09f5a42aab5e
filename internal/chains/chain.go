// Package chains holds the compiled contract types shared by the build,
// deploy and verification stages.
package chains

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Artifact is the compiler output for one contract. It is produced once
// and never mutated; linking produces a derived copy of Bytecode.
type Artifact struct {
	Name             string          `json:"name"`
	SourcePath       string          `json:"sourcePath"`
	ABI              json.RawMessage `json:"abi"`
	Bytecode         string          `json:"bytecode"` // hex creation code, may contain link placeholders
	DeployedBytecode string          `json:"deployedBytecode"`
	LinkReferences   LinkReferences  `json:"linkReferences,omitempty"`
	Compiler         EVMCompiler     `json:"compiler"`
}

// LinkReferences maps source unit -> library name -> placeholder offsets,
// as reported in evm.bytecode.linkReferences.
type LinkReferences map[string]map[string][]LinkReference

// LinkReference is a byte range in the creation code holding a library
// address placeholder.
type LinkReference struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// Libraries returns the library names referenced by the artifact.
func (l LinkReferences) Libraries() []string {
	var names []string
	for _, libs := range l {
		for name := range libs {
			names = append(names, name)
		}
	}
	return names
}

// EVMCompiler contains EVM compiler details
type EVMCompiler struct {
	Version    string          `json:"version"` // "0.4.25+commit.59dbf8f1"
	Optimizer  OptimizerConfig `json:"optimizer"`
	EVMVersion string          `json:"evmVersion,omitempty"`
}

// ExplorerVersion is the version string block explorers expect.
func (c EVMCompiler) ExplorerVersion() string {
	if c.Version == "" || strings.HasPrefix(c.Version, "v") {
		return c.Version
	}
	return "v" + c.Version
}

// OptimizerConfig contains optimizer settings
type OptimizerConfig struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

// Severity of a compiler diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one compiler message.
type Diagnostic struct {
	Severity         Severity        `json:"severity"`
	Type             string          `json:"type"`
	Component        string          `json:"component"`
	Message          string          `json:"message"`
	FormattedMessage string          `json:"formattedMessage,omitempty"`
	SourceLocation   *SourceLocation `json:"sourceLocation,omitempty"`
}

// SourceLocation points into a source unit.
type SourceLocation struct {
	File  string `json:"file"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

func (d Diagnostic) String() string {
	if d.FormattedMessage != "" {
		return strings.TrimSpace(d.FormattedMessage)
	}
	if d.SourceLocation != nil {
		return fmt.Sprintf("%s:%d: %s: %s", d.SourceLocation.File, d.SourceLocation.Start, d.Type, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Type, d.Message)
}
