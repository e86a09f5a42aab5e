// Package validation provides input validation for deployment plans.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// solc reports versions like 0.4.25+commit.59dbf8f1.Linux.g++ or
// 0.4.25+commit.59dbf8f1.Emscripten.clang; only the part up to the commit
// hash is meaningful to explorers.
var compilerVersionRegex = regexp.MustCompile(`^v?(\d+\.\d+\.\d+(?:-[0-9A-Za-z.]+)?)(\+commit\.[0-9a-f]{8})?`)

// Currency keys are packed into bytes4 constructor arguments.
var currencyKeyRegex = regexp.MustCompile(`^[A-Za-z0-9]{1,4}$`)

// NormalizeCompilerVersion strips platform suffixes and the leading v from
// a compiler version string.
func NormalizeCompilerVersion(v string) (string, error) {
	m := compilerVersionRegex.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return "", fmt.Errorf("unrecognized compiler version %q", v)
	}
	return m[1] + m[2], nil
}

// ValidateCompilerVersion validates a compiler version as semver, build
// metadata included.
func ValidateCompilerVersion(v string) error {
	normalized := strings.TrimPrefix(v, "v")
	if normalized == "" {
		return errors.New("compiler version cannot be empty")
	}
	if !semver.IsValid("v" + normalized) {
		return fmt.Errorf("invalid compiler version %q: must be X.Y.Z[+commit.hash]", v)
	}
	// semver accepts vX and vX.Y shorthands; solc always reports all three parts
	core, _, _ := strings.Cut(normalized, "+")
	core, _, _ = strings.Cut(core, "-")
	if strings.Count(core, ".") != 2 {
		return fmt.Errorf("invalid compiler version %q: must be X.Y.Z (major.minor.patch)", v)
	}
	return nil
}

// CompareVersions compares two versions
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) int {
	return semver.Compare("v"+strings.TrimPrefix(v1, "v"), "v"+strings.TrimPrefix(v2, "v"))
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	// Check hex characters
	for _, c := range addr[2:] {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return errors.New("invalid address: contains non-hex characters")
		}
	}
	return nil
}

// ValidateChainID validates a chain ID. Zero means "ask the node".
func ValidateChainID(chainID int64) error {
	if chainID < 0 {
		return errors.New("chain ID must not be negative")
	}
	return nil
}

// ValidateCurrencyKey validates a synth symbol.
func ValidateCurrencyKey(key string) error {
	if !currencyKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid currency key %q: must be 1-4 alphanumeric characters", key)
	}
	return nil
}
