package plan

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		input   string
		want    Identifier
		wantErr bool
	}{
		{input: "Synthetix", want: ID("Synthetix")},
		{input: "Proxy.sUSD", want: NamespacedID("Proxy", "sUSD")},
		{input: "", wantErr: true},
		{input: ".sUSD", wantErr: true},
		{input: "Proxy.", wantErr: true},
		{input: "Proxy.s.USD", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseIdentifier(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestIdentifierAsJSONKey(t *testing.T) {
	in := map[Identifier]string{
		NamespacedID("Synth", "sUSD"): "0x1",
		ID("Depot"):                   "0x2",
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Synth.sUSD":"0x1","Depot":"0x2"}`, string(data))

	var out map[Identifier]string
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestTableResolve(t *testing.T) {
	table := Table{}
	require.NoError(t, table.Add(ID("Synthetix"), Configuration{Action: ActionDeploy}))
	require.NoError(t, table.Add(NamespacedID("Proxy", "sUSD"), Configuration{Action: ActionDeploy}))

	t.Run("namespaced entries are independent", func(t *testing.T) {
		_, err := table.Resolve(NamespacedID("Proxy", "sEUR"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoConfiguration))
		assert.Contains(t, err.Error(), "Proxy.sEUR")
	})

	t.Run("found", func(t *testing.T) {
		cfg, err := table.Resolve(NamespacedID("Proxy", "sUSD"))
		require.NoError(t, err)
		assert.Equal(t, ActionDeploy, cfg.Action)
	})

	t.Run("duplicate", func(t *testing.T) {
		err := table.Add(ID("Synthetix"), Configuration{Action: ActionDeploy})
		assert.True(t, errors.Is(err, ErrDuplicate))
	})
}

func TestConfigurationValidate(t *testing.T) {
	id := ID("Depot")
	tests := []struct {
		name    string
		cfg     Configuration
		wantErr error
	}{
		{"deploy", Configuration{Action: ActionDeploy}, nil},
		{"use existing", Configuration{Action: ActionUseExisting, ExistingInstance: "0x2f7Ab1D143D3A86173020427F69A6B0088aC03Ad"}, nil},
		{"use existing without address", Configuration{Action: ActionUseExisting}, ErrMissingAddress},
		{"use existing with bad address", Configuration{Action: ActionUseExisting, ExistingInstance: "0x12"}, ErrInvalidAddress},
		{"unknown action", Configuration{Action: "upgrade"}, ErrUnknownAction},
		{"empty action", Configuration{}, ErrUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(id)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, id, cfgErr.ID)
		})
	}
}

func TestTableCheckReportsEveryProblem(t *testing.T) {
	table := Table{
		ID("A"): {Action: ActionDeploy},
		ID("B"): {Action: ActionUseExisting},
	}

	err := table.Check([]Identifier{ID("A"), ID("B"), ID("C")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingAddress))
	assert.True(t, errors.Is(err, ErrNoConfiguration))
	assert.Contains(t, err.Error(), "contract B")
	assert.Contains(t, err.Error(), "contract C")

	assert.NoError(t, table.Check([]Identifier{ID("A")}))
}

func TestTableIdentifiersSorted(t *testing.T) {
	table := Table{
		NamespacedID("Synth", "sUSD"): {},
		ID("Depot"):                   {},
		NamespacedID("Proxy", "sUSD"): {},
	}
	assert.Equal(t, []Identifier{
		ID("Depot"),
		NamespacedID("Proxy", "sUSD"),
		NamespacedID("Synth", "sUSD"),
	}, table.Identifiers())
}
