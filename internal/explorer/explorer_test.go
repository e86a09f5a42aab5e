package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contractAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")

func respond(w http.ResponseWriter, status, message string, result any) {
	json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"message": message,
		"result":  result,
	})
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.etherscan.io/api", BaseURL(""))
	assert.Equal(t, "https://api.etherscan.io/api", BaseURL("mainnet"))
	assert.Equal(t, "https://api-ropsten.etherscan.io/api", BaseURL("ropsten"))
}

func TestIsVerified(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		result  string
		want    bool
		wantErr bool
	}{
		{"verified", "1", `[{"type":"function"}]`, true, false},
		{"not verified", "0", ResultNotVerified, false, false},
		{"rate limited", "0", "Max rate limit reached", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "contract", q.Get("module"))
				assert.Equal(t, "getabi", q.Get("action"))
				assert.Equal(t, contractAddr.Hex(), q.Get("address"))
				assert.Equal(t, "test-key", q.Get("apikey"))
				respond(w, tt.status, "msg", tt.result)
			}))
			defer server.Close()

			got, err := New(server.URL, "test-key").IsVerified(context.Background(), contractAddr)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrAPI))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreationInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "account", q.Get("module"))
		assert.Equal(t, "txlist", q.Get("action"))
		assert.Equal(t, "asc", q.Get("sort"))

		if q.Get("address") == contractAddr.Hex() {
			respond(w, "1", "OK", []map[string]string{
				{"hash": "0x01", "input": "0x6080aabb"},
				{"hash": "0x02", "input": "0xa9059cbb"},
			})
			return
		}
		respond(w, "0", "No transactions found", []any{})
	}))
	defer server.Close()

	c := New(server.URL, "")
	input, err := c.CreationInput(context.Background(), contractAddr)
	require.NoError(t, err)
	assert.Equal(t, "0x6080aabb", input)

	_, err = c.CreationInput(context.Background(), common.HexToAddress("0x01"))
	assert.True(t, errors.Is(err, ErrNoTransactions))
}

func TestSubmit(t *testing.T) {
	lib := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())

		assert.Equal(t, "verifysourcecode", r.PostForm.Get("action"))
		assert.Equal(t, contractAddr.Hex(), r.PostForm.Get("contractaddress"))
		assert.Equal(t, "contract Synthetix {}", r.PostForm.Get("sourceCode"))
		assert.Equal(t, "v0.4.25+commit.59dbf8f1", r.PostForm.Get("compilerversion"))
		assert.Equal(t, "00ff", r.PostForm.Get("constructorArguements"))
		assert.Equal(t, "1", r.PostForm.Get("optimizationUsed"))
		assert.Equal(t, "200", r.PostForm.Get("runs"))
		assert.Equal(t, "SafeDecimalMath", r.PostForm.Get("libraryname1"))
		assert.Equal(t, lib.Hex(), r.PostForm.Get("libraryaddress1"))

		switch r.PostForm.Get("contractname") {
		case "Synthetix":
			respond(w, "1", "OK", "guid-123")
		case "Depot":
			respond(w, "0", "NOTOK", ResultAlreadyVerified)
		default:
			respond(w, "0", "NOTOK", "Invalid constructor arguments")
		}
	}))
	defer server.Close()

	c := New(server.URL, "key")
	sub := Submission{
		Address:          contractAddr,
		SourceCode:       "contract Synthetix {}",
		ContractName:     "Synthetix",
		CompilerVersion:  "v0.4.25+commit.59dbf8f1",
		ConstructorArgs:  "00ff",
		OptimizationUsed: true,
		Runs:             200,
		Libraries:        []Library{{Name: "SafeDecimalMath", Address: lib}},
	}

	guid, already, err := c.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, "guid-123", guid)

	sub.ContractName = "Depot"
	_, already, err = c.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, already)

	sub.ContractName = "FeePool"
	_, _, err = c.Submit(context.Background(), sub)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Invalid constructor arguments", apiErr.Result)
}

func TestCheckStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "checkverifystatus", r.URL.Query().Get("action"))
		assert.Equal(t, "guid-123", r.URL.Query().Get("guid"))
		respond(w, "0", "NOTOK", StatusPending)
	}))
	defer server.Close()

	status, err := New(server.URL, "").CheckStatus(context.Background(), "guid-123")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
}

func TestHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := New(server.URL, "").CheckStatus(context.Background(), "guid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestRateLimit(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		respond(w, "1", "OK", StatusPass)
	}))
	defer server.Close()

	c := New(server.URL, "", WithRateLimit(0.001))
	_, err := c.CheckStatus(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.CheckStatus(ctx, "b")
	assert.Error(t, err, "second request must wait for the limiter")
	assert.Equal(t, 1, hits)
}
