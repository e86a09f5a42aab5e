package verification

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/chains/evm"
	"github.com/pendergraft/contradeploy/internal/plan"
)

// CodeReader fetches runtime code from the chain.
type CodeReader interface {
	Code(ctx context.Context, address common.Address) ([]byte, error)
}

// LocalResult compares on-chain runtime code with the compiled artifact.
type LocalResult struct {
	ID        plan.Identifier `json:"id"`
	Address   common.Address  `json:"address"`
	Match     bool            `json:"match"`
	MatchType string          `json:"matchType"`
	Message   string          `json:"message"`
}

// CheckOnChain compares each target's runtime code with its artifact
// without involving the explorer. Per-target problems are reported in the
// result's message.
func CheckOnChain(ctx context.Context, reader CodeReader, targets []Target, artifacts map[string]chains.Artifact, libs map[string]common.Address) []LocalResult {
	results := make([]LocalResult, 0, len(targets))
	for _, t := range targets {
		res := LocalResult{ID: t.ID, Address: t.Address, MatchType: evm.MatchNone}

		art, ok := artifacts[t.ID.Name]
		if !ok {
			res.Message = fmt.Sprintf("no artifact for %s", t.ID.Name)
			results = append(results, res)
			continue
		}

		code, err := reader.Code(ctx, t.Address)
		if err != nil {
			res.Message = fmt.Sprintf("failed to fetch on-chain bytecode: %v", err)
			results = append(results, res)
			continue
		}
		if len(code) == 0 {
			res.Message = "no code at address"
			results = append(results, res)
			continue
		}

		match, err := evm.CompareBytecode(code, art, libs)
		if err != nil {
			res.Message = err.Error()
			results = append(results, res)
			continue
		}
		res.Match, res.MatchType, res.Message = match.Match, match.MatchType, match.Message
		results = append(results, res)
	}
	return results
}
