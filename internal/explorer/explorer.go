// Package explorer is a client for Etherscan-compatible block explorer APIs.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/pendergraft/contradeploy/internal/observability/metrics"
)

// Sentinel result strings returned by the explorer.
const (
	ResultNotVerified     = "Contract source code not verified"
	ResultAlreadyVerified = "Contract source code already verified"
	StatusPass            = "Pass - Verified"
	StatusFail            = "Fail - Unable to verify"
	StatusPending         = "Pending in queue"
)

var (
	ErrAPI            = errors.New("explorer API error")
	ErrNoTransactions = errors.New("no transactions for address")
)

// APIError is a response with status "0" that the caller did not expect.
type APIError struct {
	Action  string
	Message string
	Result  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Action, e.Message, e.Result)
}

func (e *APIError) Unwrap() error {
	return ErrAPI
}

// BaseURL returns the Etherscan API endpoint for a network name.
func BaseURL(network string) string {
	if network == "" || network == "mainnet" {
		return "https://api.etherscan.io/api"
	}
	return fmt.Sprintf("https://api-%s.etherscan.io/api", network)
}

// Client is an explorer API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRateLimit caps outgoing requests per second. Explorer API keys are
// quota limited; a non-positive rate disables the cap.
func WithRateLimit(rps float64) Option {
	return func(client *Client) {
		if rps <= 0 {
			client.limiter = nil
			return
		}
		client.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// New creates a new explorer client
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Library is a linked library reported with a submission.
type Library struct {
	Name    string
	Address common.Address
}

// Submission is a verifysourcecode request.
type Submission struct {
	Address          common.Address
	SourceCode       string
	ContractName     string
	CompilerVersion  string
	ConstructorArgs  string
	OptimizationUsed bool
	Runs             int
	Libraries        []Library
}

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (r *response) text() string {
	var s string
	if err := json.Unmarshal(r.Result, &s); err != nil {
		return string(r.Result)
	}
	return s
}

// IsVerified reports whether source code is published for address.
func (c *Client) IsVerified(ctx context.Context, address common.Address) (bool, error) {
	resp, err := c.get(ctx, url.Values{
		"module":  {"contract"},
		"action":  {"getabi"},
		"address": {address.Hex()},
	})
	if err != nil {
		return false, err
	}
	if resp.Status == "1" {
		return true, nil
	}
	if resp.text() == ResultNotVerified {
		return false, nil
	}
	return false, &APIError{Action: "getabi", Message: resp.Message, Result: resp.text()}
}

// CreationInput returns the input data of the first transaction to
// address, which for a contract is its creation transaction.
func (c *Client) CreationInput(ctx context.Context, address common.Address) (string, error) {
	resp, err := c.get(ctx, url.Values{
		"module":  {"account"},
		"action":  {"txlist"},
		"address": {address.Hex()},
		"sort":    {"asc"},
	})
	if err != nil {
		return "", err
	}

	var txs []struct {
		Hash  string `json:"hash"`
		Input string `json:"input"`
	}
	if err := json.Unmarshal(resp.Result, &txs); err != nil {
		return "", &APIError{Action: "txlist", Message: resp.Message, Result: resp.text()}
	}
	if len(txs) == 0 {
		return "", fmt.Errorf("%s: %w", address.Hex(), ErrNoTransactions)
	}
	return txs[0].Input, nil
}

// Submit sends source code for verification. It returns the tracking GUID,
// or already=true when the explorer reports the source as verified.
func (c *Client) Submit(ctx context.Context, s Submission) (guid string, already bool, err error) {
	form := url.Values{
		"module":          {"contract"},
		"action":          {"verifysourcecode"},
		"contractaddress": {s.Address.Hex()},
		"sourceCode":      {s.SourceCode},
		"contractname":    {s.ContractName},
		"compilerversion": {s.CompilerVersion},
		"runs":            {strconv.Itoa(s.Runs)},
	}
	// the explorer's parameter name is misspelled
	form.Set("constructorArguements", s.ConstructorArgs)
	if s.OptimizationUsed {
		form.Set("optimizationUsed", "1")
	} else {
		form.Set("optimizationUsed", "0")
	}
	for i, lib := range s.Libraries {
		n := strconv.Itoa(i + 1)
		form.Set("libraryname"+n, lib.Name)
		form.Set("libraryaddress"+n, lib.Address.Hex())
	}

	resp, err := c.post(ctx, "verifysourcecode", form)
	if err != nil {
		return "", false, err
	}
	result := resp.text()
	if result == ResultAlreadyVerified {
		return "", true, nil
	}
	if resp.Status != "1" {
		return "", false, &APIError{Action: "verifysourcecode", Message: resp.Message, Result: result}
	}
	return result, false, nil
}

// CheckStatus returns the raw status string for a submission GUID.
func (c *Client) CheckStatus(ctx context.Context, guid string) (string, error) {
	resp, err := c.get(ctx, url.Values{
		"module": {"contract"},
		"action": {"checkverifystatus"},
		"guid":   {guid},
	})
	if err != nil {
		return "", err
	}
	return resp.text(), nil
}

func (c *Client) get(ctx context.Context, params url.Values) (*response, error) {
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, params.Get("action"))
}

func (c *Client) post(ctx context.Context, action string, form url.Values) (*response, error) {
	if c.apiKey != "" {
		form.Set("apikey", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, action)
}

func (c *Client) do(req *http.Request, action string) (resp *response, err error) {
	defer func() {
		metrics.ExplorerRequest(action, err == nil)
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	req.Header.Set("Accept", "application/json")
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("%s: HTTP %d: %s", action, httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out response
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", action, err)
	}
	return &out, nil
}
