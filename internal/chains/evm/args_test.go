package evm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorArgs(t *testing.T) {
	code := "6080604052" + strings.Repeat("ab", 40) + "0029"
	suffix := code[len(code)-50:]
	args := "000000000000000000000000" + strings.Repeat("1", 40)

	tests := []struct {
		name    string
		input   string
		code    string
		want    string
		wantErr error
	}{
		{
			name:  "input is code followed by args",
			input: "0x" + code + args,
			code:  code,
			want:  args,
		},
		{
			name:  "padding then suffix then args",
			input: "deadbeef" + suffix + args,
			code:  code,
			want:  args,
		},
		{
			name:  "mixed case and prefixes",
			input: "0x" + strings.ToUpper(code) + args,
			code:  "0x" + code,
			want:  args,
		},
		{
			name:  "no constructor arguments",
			input: code,
			code:  code,
			want:  "",
		},
		{
			name:    "code not in input",
			input:   "0x" + strings.Repeat("00", 60),
			code:    code,
			wantErr: ErrSuffixNotFound,
		},
		{
			name:    "empty code",
			input:   "0x00",
			code:    "",
			wantErr: ErrSuffixNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConstructorArgs(tt.input, tt.code)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
