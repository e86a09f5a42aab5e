package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contradeploy/internal/chains"
)

type fakeToolchain struct {
	version string
	output  string
	err     error
	input   []byte
}

func (f *fakeToolchain) Compile(_ context.Context, input []byte) ([]byte, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.output), nil
}

func (f *fakeToolchain) Version(context.Context) (string, error) {
	return f.version, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const okOutput = `{
  "errors": [
    {"severity": "warning", "type": "Warning", "component": "general", "message": "Unused local variable.", "formattedMessage": "Owned.sol:7:9: Warning: Unused local variable.\n"}
  ],
  "contracts": {
    "Owned.sol": {
      "Owned": {"abi": [], "evm": {"bytecode": {"object": "6080", "linkReferences": {}}, "deployedBytecode": {"object": "6081"}}}
    },
    "Synthetix.sol": {
      "SafeMath": {"abi": [], "evm": {"bytecode": {"object": "60aa"}, "deployedBytecode": {"object": "60ab"}}},
      "Synthetix": {
        "abi": [{"type": "constructor", "inputs": []}],
        "evm": {
          "bytecode": {
            "object": "6080__Synthetix.sol:SafeDecimalMath_________00",
            "linkReferences": {"Synthetix.sol": {"SafeDecimalMath": [{"start": 2, "length": 20}]}}
          },
          "deployedBytecode": {"object": "6082"}
        }
      }
    }
  }
}`

func TestCompile(t *testing.T) {
	tc := &fakeToolchain{version: "0.4.25+commit.59dbf8f1.Emscripten.clang", output: okOutput}
	c := New(tc, Settings{}, testLogger())

	result, err := c.Compile(context.Background(), map[string]string{
		"Owned.sol":     "contract Owned {}",
		"Synthetix.sol": "contract Synthetix {}",
	})
	require.NoError(t, err)

	assert.Equal(t, "0.4.25+commit.59dbf8f1", result.Version)
	assert.Equal(t, []string{"Owned", "Synthetix"}, result.Names())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, chains.SeverityWarning, result.Warnings[0].Severity)

	syn := result.Artifacts["Synthetix"]
	assert.Equal(t, "Synthetix.sol", syn.SourcePath)
	assert.Equal(t, []string{"SafeDecimalMath"}, syn.LinkReferences.Libraries())
	assert.Equal(t, "v0.4.25+commit.59dbf8f1", syn.Compiler.ExplorerVersion())
	assert.Equal(t, chains.OptimizerConfig{Enabled: true, Runs: 200}, syn.Compiler.Optimizer)
	assert.NotContains(t, result.Artifacts, "SafeMath", "only the contract named after its unit is kept")

	var input standardJSONInput
	require.NoError(t, json.Unmarshal(tc.input, &input))
	assert.Equal(t, "Solidity", input.Language)
	assert.True(t, input.Settings.Optimizer.Enabled)
	assert.Equal(t, []string{"abi", "evm.bytecode", "evm.deployedBytecode"}, input.Settings.OutputSelection["*"]["*"])
	assert.Equal(t, "contract Owned {}", input.Sources["Owned.sol"].Content)
}

func TestCompileErrors(t *testing.T) {
	tc := &fakeToolchain{
		version: "0.4.25+commit.59dbf8f1",
		output: `{"errors": [
			{"severity": "warning", "type": "Warning", "message": "shadowing"},
			{"severity": "error", "type": "TypeError", "message": "Undeclared identifier.", "sourceLocation": {"file": "A.sol", "start": 10, "end": 12}},
			{"severity": "error", "type": "ParserError", "message": "Expected ';'"}
		]}`,
	}
	c := New(tc, Settings{OptimizerRuns: 500}, testLogger())

	_, err := c.Compile(context.Background(), map[string]string{"A.sol": "contract A {"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCompilation))

	var diagErr *DiagnosticsError
	require.True(t, errors.As(err, &diagErr))
	require.Len(t, diagErr.Errors, 2)
	assert.Contains(t, err.Error(), "A.sol:10: TypeError: Undeclared identifier.")
	assert.NotContains(t, err.Error(), "shadowing")
}

func TestCompileToolchainFailures(t *testing.T) {
	c := New(&fakeToolchain{version: "0.4.25", err: errors.New("boom")}, Settings{}, testLogger())
	_, err := c.Compile(context.Background(), nil)
	assert.ErrorContains(t, err, "boom")

	c = New(&fakeToolchain{version: "nightly"}, Settings{}, testLogger())
	_, err = c.Compile(context.Background(), nil)
	assert.ErrorContains(t, err, "unrecognized compiler version")

	c = New(&fakeToolchain{version: "0.4.25", output: "not json"}, Settings{}, testLogger())
	_, err = c.Compile(context.Background(), nil)
	assert.ErrorContains(t, err, "decoding compiler output")
}

func TestSolcBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in for solc")
	}

	dir := t.TempDir()
	script := `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "solc, the solidity compiler commandline interface"
  echo "Version: 0.4.25+commit.59dbf8f1.Linux.g++"
  exit 0
fi
cat > /dev/null
echo '{"contracts": {}}'
`
	bin := filepath.Join(dir, "solc")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))

	s := Solc{Path: bin}
	version, err := s.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.4.25+commit.59dbf8f1.Linux.g++", version)

	out, err := s.Compile(context.Background(), []byte(`{"language":"Solidity"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"contracts": {}}`, string(out))

	_, err = Solc{Path: filepath.Join(dir, "missing")}.Version(context.Background())
	assert.Error(t, err)
}
