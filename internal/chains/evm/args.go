package evm

import (
	"errors"
	"strings"
)

// ErrSuffixNotFound is returned when the creation transaction input does
// not contain the compiled code.
var ErrSuffixNotFound = errors.New("compiled code suffix not found in transaction input")

// codeSuffixLen is how many trailing hex characters of the linked code are
// searched for in the creation input.
const codeSuffixLen = 50

// ConstructorArgs returns the ABI-encoded constructor arguments (hex, no
// prefix) appended to the linked creation code in a deployment input.
func ConstructorArgs(txInput, linkedCode string) (string, error) {
	input := strings.ToLower(strings.TrimPrefix(txInput, "0x"))
	code := strings.ToLower(strings.TrimPrefix(linkedCode, "0x"))

	if code != "" && strings.HasPrefix(input, code) {
		return input[len(code):], nil
	}

	suffix := code
	if len(suffix) > codeSuffixLen {
		suffix = suffix[len(suffix)-codeSuffixLen:]
	}
	if suffix == "" {
		return "", ErrSuffixNotFound
	}
	i := strings.Index(input, suffix)
	if i < 0 {
		return "", ErrSuffixNotFound
	}
	return input[i+len(suffix):], nil
}
