package evm

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/contradeploy/internal/chains"
)

// ErrUnlinkedLibrary is returned when creation code still references a
// library whose address is not known yet.
var ErrUnlinkedLibrary = errors.New("unlinked library placeholder")

// placeholderLen is the width of an address placeholder in hex characters.
const placeholderLen = 40

// HashedPlaceholder returns the placeholder solc >=0.5 emits for a fully
// qualified library name: __$<first 17 bytes of keccak256(name)>$__.
func HashedPlaceholder(fqn string) string {
	h := crypto.Keccak256([]byte(fqn))
	return "__$" + hex.EncodeToString(h)[:34] + "$__"
}

// LegacyPlaceholder returns the placeholder solc <0.5 emits: the fully
// qualified name truncated to 36 characters, padded with underscores.
func LegacyPlaceholder(fqn string) string {
	if len(fqn) > placeholderLen-4 {
		fqn = fqn[:placeholderLen-4]
	}
	return "__" + fqn + strings.Repeat("_", placeholderLen-2-len(fqn))
}

// Link substitutes library addresses into the artifact's creation code.
// Code without placeholders is returned unchanged, so it is safe to call
// before every deployment. Placeholders left over after substitution fail
// with ErrUnlinkedLibrary.
func Link(art chains.Artifact, libs map[string]common.Address) (string, error) {
	return link(art.Bytecode, art.SourcePath, art.LinkReferences, libs)
}

// LinkDeployed does the same for the runtime code.
func LinkDeployed(art chains.Artifact, libs map[string]common.Address) (string, error) {
	return link(art.DeployedBytecode, art.SourcePath, nil, libs)
}

func link(code, sourcePath string, refs chains.LinkReferences, libs map[string]common.Address) (string, error) {
	prefix := ""
	if strings.HasPrefix(code, "0x") {
		prefix, code = "0x", code[2:]
	}
	if !HasLibraryPlaceholders(code) {
		return prefix + code, nil
	}

	buf := []byte(code)
	for _, unitLibs := range refs {
		for lib, offsets := range unitLibs {
			addr, ok := libs[lib]
			if !ok {
				continue
			}
			enc := hex.EncodeToString(addr.Bytes())
			for _, ref := range offsets {
				start, end := ref.Start*2, (ref.Start+ref.Length)*2
				if ref.Length != common.AddressLength || start < 0 || end > len(buf) {
					return "", fmt.Errorf("link reference for %s at %d out of range", lib, ref.Start)
				}
				copy(buf[start:end], enc)
			}
		}
	}
	code = string(buf)

	for lib, addr := range libs {
		enc := hex.EncodeToString(addr.Bytes())
		for _, fqn := range qualifiedNames(lib, sourcePath, refs) {
			code = strings.ReplaceAll(code, HashedPlaceholder(fqn), enc)
			code = strings.ReplaceAll(code, LegacyPlaceholder(fqn), enc)
		}
	}

	if missing := UnlinkedLibraries(code); len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrUnlinkedLibrary, strings.Join(missing, ", "))
	}
	return prefix + code, nil
}

// qualifiedNames lists the names a compiler may have used for lib.
func qualifiedNames(lib, sourcePath string, refs chains.LinkReferences) []string {
	names := []string{lib}
	if sourcePath != "" {
		names = append(names, sourcePath+":"+lib)
	}
	for unit := range refs {
		if unit != sourcePath {
			names = append(names, unit+":"+lib)
		}
	}
	return names
}

// UnlinkedLibraries returns the placeholders remaining in code. Legacy
// placeholders are reported by name, hashed ones verbatim.
func UnlinkedLibraries(code string) []string {
	var out []string
	seen := make(map[string]bool)
	for {
		i := strings.Index(code, "__")
		if i < 0 {
			return out
		}
		end := min(i+placeholderLen, len(code))
		p := code[i:end]
		code = code[end:]

		name := p
		if !strings.HasPrefix(p, "__$") {
			name = strings.Trim(p, "_")
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
}

// HasLibraryPlaceholders reports whether hex code contains any library
// placeholder. Hex never contains underscores.
func HasLibraryPlaceholders(code string) bool {
	return strings.Contains(code, "__")
}
