package evm

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contradeploy/internal/chains"
)

func TestStripMetadata(t *testing.T) {
	tests := []struct {
		name     string
		bytecode string
		wantLen  int
	}{
		{
			name:     "bytecode without metadata",
			bytecode: "608060405234801561001057600080fd5b50",
			wantLen:  18,
		},
		{
			name:     "bytecode with IPFS metadata",
			bytecode: "608060405234801561001057600080fd5b50a264697066735822",
			wantLen:  18,
		},
		{
			name:     "bytecode with swarm metadata",
			bytecode: "6080604052600080fda165627a7a72305820aabbccdd0029",
			wantLen:  9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bytecode, _ := hex.DecodeString(tt.bytecode)
			result := StripMetadata(bytecode)
			if len(result) != tt.wantLen {
				t.Errorf("StripMetadata() length = %d, want %d", len(result), tt.wantLen)
			}
		})
	}
}

func TestCompareBytecode(t *testing.T) {
	lib := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	legacy := LegacyPlaceholder("Synthetix.sol:SafeDecimalMath")

	tests := []struct {
		name      string
		deployed  string
		artifact  chains.Artifact
		libraries map[string]common.Address
		wantMatch bool
		wantType  string
	}{
		{
			name:      "exact match",
			deployed:  "60806040",
			artifact:  chains.Artifact{DeployedBytecode: "0x60806040"},
			wantMatch: true,
			wantType:  MatchFull,
		},
		{
			name:      "no match",
			deployed:  "60806040",
			artifact:  chains.Artifact{DeployedBytecode: "60806050"},
			wantMatch: false,
			wantType:  MatchNone,
		},
		{
			name:      "metadata differs",
			deployed:  "6080a165627a7a72305820aa0029",
			artifact:  chains.Artifact{DeployedBytecode: "6080a165627a7a72305820bb0029"},
			wantMatch: true,
			wantType:  MatchPartial,
		},
		{
			name:      "library linked into runtime code",
			deployed:  "73" + hex.EncodeToString(lib.Bytes()) + "00",
			artifact:  chains.Artifact{SourcePath: "Synthetix.sol", DeployedBytecode: "73" + legacy + "00"},
			libraries: map[string]common.Address{"SafeDecimalMath": lib},
			wantMatch: true,
			wantType:  MatchFull,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deployed, _ := hex.DecodeString(tt.deployed)
			result, err := CompareBytecode(deployed, tt.artifact, tt.libraries)
			if err != nil {
				t.Fatalf("CompareBytecode() error = %v", err)
			}
			if result.Match != tt.wantMatch {
				t.Errorf("CompareBytecode().Match = %v, want %v", result.Match, tt.wantMatch)
			}
			if result.MatchType != tt.wantType {
				t.Errorf("CompareBytecode().MatchType = %v, want %v", result.MatchType, tt.wantType)
			}
		})
	}
}

func TestCompareBytecodeUnlinked(t *testing.T) {
	art := chains.Artifact{DeployedBytecode: "73" + LegacyPlaceholder("SafeDecimalMath") + "00"}
	if _, err := CompareBytecode(nil, art, nil); err == nil {
		t.Error("CompareBytecode() expected error for unlinked runtime code")
	}
}
