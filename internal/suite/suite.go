// Package suite defines the synthetic-asset contract suite: the order in
// which contracts are deployed, their constructor arguments and the calls
// that wire them together.
package suite

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/pendergraft/contradeploy/internal/deployer"
	"github.com/pendergraft/contradeploy/internal/plan"
	"github.com/pendergraft/contradeploy/internal/registry"
	"github.com/pendergraft/contradeploy/internal/wiring"
)

// Suite is an ordered deployment followed by ordered wiring.
type Suite struct {
	Deploy []deployer.Step
	Wire   []wiring.Step
}

// Identifiers returns every identifier the suite deploys, in order.
func (s Suite) Identifiers() []plan.Identifier {
	return deployer.Identifiers(s.Deploy)
}

// Contracts whose addresses are linked into dependent bytecode.
var Libraries = []string{"SafeDecimalMath"}

// Contracts exempt from source verification.
var SkipVerification = []string{"ExchangeRates"}

// Contracts verified without constructor arguments.
var NoConstructorArgs = []string{"SafeDecimalMath"}

var (
	safeDecimalMath     = plan.ID("SafeDecimalMath")
	exchangeRates       = plan.ID("ExchangeRates")
	feePoolProxy        = plan.NamespacedID("Proxy", "FeePool")
	feePool             = plan.ID("FeePool")
	synthetixState      = plan.ID("SynthetixState")
	synthetixProxy      = plan.NamespacedID("Proxy", "Synthetix")
	synthetixTokenState = plan.NamespacedID("TokenState", "Synthetix")
	synthetix           = plan.ID("Synthetix")
	synthetixEscrow     = plan.ID("SynthetixEscrow")
	depot               = plan.ID("Depot")
)

var (
	zeroAddress        = common.Address{}
	initialSupply      = Ether("100000000")
	exchangeFeeRate    = Ether("0.0015")
	transferFeeRate    = Ether("0.0015")
	initialSNXRate     = Ether("0.2")
	depotUSDToETHPrice = Ether("500")
	depotUSDToSNXPrice = Ether("0.10")
)

// The depot sells this synth.
const depotSynthKey = "sUSD"

// Synthetix builds the suite for owner and the given synth currency keys.
// owner also acts as oracle, fee authority and funds wallet.
func Synthetix(owner common.Address, synths []string) Suite {
	s := Suite{
		Deploy: []deployer.Step{
			{ID: safeDecimalMath},
			{ID: exchangeRates, Args: args(owner, owner, [][4]byte{CurrencyKey("SNX")}, []*big.Int{initialSNXRate})},
			{ID: feePoolProxy, Args: args(owner)},
			{ID: feePool, Args: args(feePoolProxy, owner, owner, owner, exchangeFeeRate, transferFeeRate)},
			{ID: synthetixState, Args: args(owner, owner)},
			{ID: synthetixProxy, Args: args(owner)},
			{ID: synthetixTokenState, Args: args(owner, owner)},
			{ID: synthetix, Args: args(synthetixProxy, synthetixTokenState, synthetixState, owner, exchangeRates, feePool)},
			{ID: synthetixEscrow, Args: args(owner, synthetix)},
		},
		Wire: []wiring.Step{
			{Target: feePoolProxy, Method: "setTarget", Endpoints: ids(feePool), Args: args(feePool)},
			{Target: synthetixProxy, Method: "setTarget", Endpoints: ids(synthetix), Args: args(synthetix)},
			{Target: synthetixTokenState, Method: "setBalanceOf", Args: args(owner, initialSupply), When: wiring.Fresh(synthetixTokenState)},
			{Target: synthetixTokenState, Method: "setAssociatedContract", Endpoints: ids(synthetix), Args: args(synthetix)},
			{Target: synthetixState, Method: "setAssociatedContract", Args: args(synthetix), When: wiring.AnyFresh(synthetixTokenState, synthetix)},
			{Target: synthetix, Method: "setEscrow", Endpoints: ids(synthetixEscrow), Args: args(synthetixEscrow)},
			{Target: synthetixEscrow, Method: "setSynthetix", Endpoints: ids(synthetix), Args: args(synthetix)},
			{Target: feePool, Method: "setSynthetix", Endpoints: ids(synthetix), Args: args(synthetix)},
		},
	}

	for _, key := range synths {
		tokenState := plan.NamespacedID("TokenState", key)
		proxy := plan.NamespacedID("Proxy", key)
		synth := plan.NamespacedID("Synth", key)

		s.Deploy = append(s.Deploy,
			deployer.Step{ID: tokenState, Args: args(owner, zeroAddress)},
			deployer.Step{ID: proxy, Args: args(owner)},
			deployer.Step{ID: synth, Args: args(proxy, tokenState, synthetix, feePool, "Synth "+key, key, owner, CurrencyKey(key))},
		)
		s.Wire = append(s.Wire,
			wiring.Step{Target: tokenState, Method: "setAssociatedContract", Endpoints: ids(synth), Args: args(synth)},
			wiring.Step{Target: proxy, Method: "setTarget", Endpoints: ids(synth), Args: args(synth)},
			wiring.Step{Target: synthetix, Method: "addSynth", Endpoints: ids(synth), Args: args(synth)},
		)
	}

	depotSynth := plan.NamespacedID("Synth", depotSynthKey)
	s.Deploy = append(s.Deploy, deployer.Step{
		ID:   depot,
		Args: args(owner, owner, synthetix, depotSynth, feePool, owner, depotUSDToETHPrice, depotUSDToSNXPrice),
	})
	s.Wire = append(s.Wire, wiring.Step{
		Target: depot,
		Method: "setSynthetix",
		Args:   args(synthetix),
		When:   wiring.And(wiring.Fresh(synthetix), wiring.Not(wiring.Fresh(depot))),
	})
	return s
}

func ids(id ...plan.Identifier) []plan.Identifier {
	return id
}

// args returns an argument builder. Identifier values are replaced by the
// address registered for them when the builder runs.
func args(vals ...any) func(r *registry.Registry) ([]any, error) {
	return func(r *registry.Registry) ([]any, error) {
		out := make([]any, len(vals))
		for i, v := range vals {
			id, ok := v.(plan.Identifier)
			if !ok {
				out[i] = v
				continue
			}
			addr, err := r.Address(id)
			if err != nil {
				return nil, err
			}
			out[i] = addr
		}
		return out, nil
	}
}

// CurrencyKey packs a currency symbol into a right-padded bytes4.
func CurrencyKey(symbol string) [4]byte {
	var key [4]byte
	copy(key[:], symbol)
	return key
}

// Ether converts a decimal ether amount to wei. It panics on amounts that
// are not a whole number of wei, so it is only used on constants.
func Ether(amount string) *big.Int {
	wei, err := ToWei(amount, params.Ether)
	if err != nil {
		panic(err)
	}
	return wei
}

// ToWei converts a decimal amount in the given unit to wei.
func ToWei(amount string, unit int64) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	r.Mul(r, new(big.Rat).SetInt64(unit))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q is not a whole number of wei", amount)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", amount)
	}
	return new(big.Int).Set(r.Num()), nil
}
