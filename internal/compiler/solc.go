package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

var solcVersionRegex = regexp.MustCompile(`Version:\s*(\S+)`)

// Solc runs a native solc binary.
type Solc struct {
	Path string
}

// Compile runs solc --standard-json with input on stdin.
func (s Solc) Compile(ctx context.Context, input []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.binary(), "--standard-json")
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", s.binary(), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Version parses the output of solc --version.
func (s Solc) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, s.binary(), "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", s.binary(), err)
	}
	m := solcVersionRegex.FindSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("%s --version: unexpected output %q", s.binary(), strings.TrimSpace(string(out)))
	}
	return string(m[1]), nil
}

func (s Solc) binary() string {
	if s.Path == "" {
		return "solc"
	}
	return s.Path
}
