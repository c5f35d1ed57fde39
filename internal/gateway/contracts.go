package gateway

import (
	"context"
	"fmt"
	"sort"

	"ibgate/internal/twsapi"
)

// ContractDetails qualifies a contract against the gateway, returning
// every matching listing.
func (s *Service) ContractDetails(ctx context.Context, contract twsapi.Contract) ([]twsapi.ContractDetails, error) {
	if contract.Symbol == "" && contract.LocalSymbol == "" && contract.ConID == 0 {
		return nil, fmt.Errorf("contract needs a symbol, local symbol or con id")
	}
	if contract.SecType == "" {
		contract.SecType = twsapi.SecTypeStock
	}
	if contract.Exchange == "" {
		contract.Exchange = "SMART"
	}
	if contract.Currency == "" {
		contract.Currency = "USD"
	}
	var out []twsapi.ContractDetails
	err := s.withAPI(ctx, "contract_details", func(api API) error {
		var err error
		out, err = api.ContractDetails(ctx, contract)
		return err
	})
	return out, err
}

// OptionChains returns the option parameters for an underlying symbol,
// one chain per listing exchange. The underlying is qualified first so
// the request carries its con id.
func (s *Service) OptionChains(ctx context.Context, symbol string) ([]twsapi.OptionChain, error) {
	var out []twsapi.OptionChain
	err := s.withAPI(ctx, "option_chains", func(api API) error {
		und, err := qualifyStock(ctx, api, symbol)
		if err != nil {
			return err
		}
		out, err = api.OptionParams(ctx, und.Symbol, und.SecType, und.ConID)
		return err
	})
	return out, err
}

// ChainFilter bounds an option chain scan.
type ChainFilter struct {
	Expiry       string  `json:"expiry"`                  // required, yyyymmdd
	Right        string  `json:"right"`                   // C or P, required
	MinDelta     float64 `json:"min_delta"`               // absolute value
	MaxDelta     float64 `json:"max_delta"`               // absolute value
	MaxContracts int     `json:"max_contracts,omitempty"` // strikes probed, default 20
}

// OptionDelta is one chain entry with its snapshot greeks.
type OptionDelta struct {
	Contract twsapi.Contract `json:"contract"`
	Greeks   twsapi.Greeks   `json:"greeks"`
}

// OptionsByDelta scans one expiry of an underlying's chain and keeps
// the contracts whose model delta falls inside the filter band. Strikes
// are probed nearest-the-money first and the probe count is bounded, so
// a wide chain cannot turn into hundreds of snapshot requests.
func (s *Service) OptionsByDelta(ctx context.Context, symbol string, f ChainFilter) ([]OptionDelta, error) {
	if f.Expiry == "" {
		return nil, fmt.Errorf("expiry is required")
	}
	if f.Right != "C" && f.Right != "P" {
		return nil, fmt.Errorf("right must be C or P, got %q", f.Right)
	}
	if f.MaxDelta <= 0 {
		f.MaxDelta = 1
	}
	if f.MaxContracts <= 0 {
		f.MaxContracts = 20
	}

	var out []OptionDelta
	err := s.withAPI(ctx, "options_by_delta", func(api API) error {
		und, err := qualifyStock(ctx, api, symbol)
		if err != nil {
			return err
		}
		chains, err := api.OptionParams(ctx, und.Symbol, und.SecType, und.ConID)
		if err != nil {
			return err
		}
		chain, err := pickChain(chains, f.Expiry)
		if err != nil {
			return err
		}

		spot, err := spotPrice(ctx, api, und)
		if err != nil {
			return err
		}
		strikes := nearestStrikes(chain.Strikes, spot, f.MaxContracts)

		for _, strike := range strikes {
			oc := twsapi.Contract{
				Symbol:       und.Symbol,
				SecType:      twsapi.SecTypeOption,
				Exchange:     "SMART",
				Currency:     und.Currency,
				Expiry:       f.Expiry,
				Strike:       strike,
				Right:        f.Right,
				TradingClass: chain.TradingClass,
				Multiplier:   chain.Multiplier,
			}
			tick, err := api.Snapshot(ctx, oc)
			if err != nil {
				s.log.Debug("option snapshot failed", "symbol", und.Symbol, "strike", strike, "error", err)
				continue
			}
			if tick.Greeks == nil {
				continue
			}
			d := abs(tick.Greeks.Delta)
			if d >= f.MinDelta && d <= f.MaxDelta {
				out = append(out, OptionDelta{Contract: oc, Greeks: *tick.Greeks})
			}
		}
		return nil
	})
	return out, err
}

// qualifyStock resolves a symbol to its single best stock listing.
func qualifyStock(ctx context.Context, api API, symbol string) (twsapi.Contract, error) {
	details, err := api.ContractDetails(ctx, twsapi.NewStockContract(symbol))
	if err != nil {
		return twsapi.Contract{}, err
	}
	if len(details) == 0 {
		return twsapi.Contract{}, fmt.Errorf("no contract found for %q", symbol)
	}
	return details[0].Contract, nil
}

func pickChain(chains []twsapi.OptionChain, expiry string) (twsapi.OptionChain, error) {
	// prefer the SMART aggregate when present
	for _, c := range chains {
		if c.Exchange == "SMART" && hasExpiry(c, expiry) {
			return c, nil
		}
	}
	for _, c := range chains {
		if hasExpiry(c, expiry) {
			return c, nil
		}
	}
	return twsapi.OptionChain{}, fmt.Errorf("no chain lists expiry %s", expiry)
}

func hasExpiry(c twsapi.OptionChain, expiry string) bool {
	for _, e := range c.Expirations {
		if e == expiry {
			return true
		}
	}
	return false
}

func spotPrice(ctx context.Context, api API, und twsapi.Contract) (float64, error) {
	tick, err := api.Snapshot(ctx, und)
	if err != nil {
		return 0, fmt.Errorf("underlying snapshot: %w", err)
	}
	switch {
	case tick.Last != nil:
		return *tick.Last, nil
	case tick.Bid != nil && tick.Ask != nil:
		return (*tick.Bid + *tick.Ask) / 2, nil
	}
	return 0, fmt.Errorf("no price for %s", und.Symbol)
}

// nearestStrikes returns up to n strikes ordered by distance from spot.
func nearestStrikes(strikes []float64, spot float64, n int) []float64 {
	out := make([]float64, len(strikes))
	copy(out, strikes)
	sort.Slice(out, func(i, j int) bool {
		return abs(out[i]-spot) < abs(out[j]-spot)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
