package evm

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contradeploy/internal/chains"
)

// CBOR metadata markers appended by solc: "ipfs" (>=0.6.0) and "bzzr0"
// (0.4.x/0.5.x swarm hash).
var metadataMarkers = [][]byte{
	{0xa2, 0x64, 0x69, 0x70, 0x66, 0x73},
	{0xa1, 0x65, 0x62, 0x7a, 0x7a, 0x72, 0x30},
}

// Match types reported by CompareBytecode.
const (
	MatchFull    = "full"
	MatchPartial = "partial"
	MatchNone    = "none"
)

// MatchResult describes how on-chain runtime code relates to an artifact.
type MatchResult struct {
	Match     bool
	MatchType string
	Message   string
}

// StripMetadata removes the CBOR metadata appended to bytecode
func StripMetadata(bytecode []byte) []byte {
	idx := -1
	for _, marker := range metadataMarkers {
		if i := bytes.LastIndex(bytecode, marker); i > idx {
			idx = i
		}
	}
	if idx == -1 {
		return bytecode // No metadata found
	}
	// markers start with the CBOR map header
	return bytecode[:idx]
}

// CompareBytecode compares deployed runtime code with the artifact's
// runtime code after linking libraries into it.
func CompareBytecode(deployed []byte, art chains.Artifact, libs map[string]common.Address) (*MatchResult, error) {
	linked, err := LinkDeployed(art, libs)
	if err != nil {
		return nil, err
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(linked, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decoding deployed bytecode of %s: %w", art.Name, err)
	}

	if bytes.Equal(deployed, expected) {
		return &MatchResult{
			Match:     true,
			MatchType: MatchFull,
			Message:   "Bytecode matches exactly including metadata",
		}, nil
	}

	if bytes.Equal(StripMetadata(deployed), StripMetadata(expected)) {
		return &MatchResult{
			Match:     true,
			MatchType: MatchPartial,
			Message:   "Executable code matches, metadata differs (different source paths, comments, or build environment)",
		}, nil
	}

	return &MatchResult{
		Match:     false,
		MatchType: MatchNone,
		Message:   "Bytecode does not match",
	}, nil
}
