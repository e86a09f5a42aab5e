package validation

import (
	"testing"
)

func TestNormalizeCompilerVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"native build", "0.4.25+commit.59dbf8f1.Linux.g++", "0.4.25+commit.59dbf8f1", false},
		{"emscripten build", "0.4.25+commit.59dbf8f1.Emscripten.clang", "0.4.25+commit.59dbf8f1", false},
		{"leading v", "v0.8.20+commit.a1b2c3d4", "0.8.20+commit.a1b2c3d4", false},
		{"no commit", "0.5.0", "0.5.0", false},
		{"surrounding whitespace", "  0.4.25+commit.59dbf8f1\n", "0.4.25+commit.59dbf8f1", false},
		{"garbage", "solc", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeCompilerVersion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeCompilerVersion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeCompilerVersion(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateCompilerVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"release", "0.4.25", false},
		{"with commit", "0.4.25+commit.59dbf8f1", false},
		{"with v prefix", "v0.4.25+commit.59dbf8f1", false},
		{"prerelease", "0.5.0-nightly.2018.10.1", false},
		{"missing patch", "0.4", true},
		{"empty", "", true},
		{"text", "latest", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCompilerVersion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCompilerVersion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"0.4.25", "0.4.24", 1},
		{"0.4.25", "v0.4.25", 0},
		{"0.4.25", "0.5.0", -1},
	}

	for _, tt := range tests {
		if got := CompareVersions(tt.v1, tt.v2); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.v1, tt.v2, got, tt.want)
		}
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid lowercase", "0x1234567890abcdef1234567890abcdef12345678", false},
		{"valid checksum", "0x2f7Ab1D143D3A86173020427F69A6B0088aC03Ad", false},
		{"missing prefix", "1234567890abcdef1234567890abcdef1234567890", true},
		{"too short", "0x1234", true},
		{"non-hex", "0x1234567890abcdef1234567890abcdef1234567g", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateChainID(t *testing.T) {
	if err := ValidateChainID(3); err != nil {
		t.Errorf("ValidateChainID(3) error = %v", err)
	}
	if err := ValidateChainID(0); err != nil {
		t.Errorf("ValidateChainID(0) error = %v", err)
	}
	if err := ValidateChainID(-1); err == nil {
		t.Error("ValidateChainID(-1) expected error")
	}
}

func TestValidateCurrencyKey(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"sUSD", false},
		{"XDR", false},
		{"SNX", false},
		{"sUSDC", true},
		{"", true},
		{"s-US", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateCurrencyKey(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCurrencyKey(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
