package gateway

import (
	"context"
	"fmt"

	"ibgate/internal/twsapi"
)

// HistoricalBars fetches completed bars for a contract. Duration and
// bar size use the gateway's notation, e.g. "1 D" and "5 mins".
func (s *Service) HistoricalBars(ctx context.Context, hr twsapi.HistoricalRequest) ([]twsapi.Bar, error) {
	if hr.Contract.Symbol == "" && hr.Contract.ConID == 0 {
		return nil, fmt.Errorf("contract needs a symbol or con id")
	}
	if hr.Contract.SecType == "" {
		hr.Contract.SecType = twsapi.SecTypeStock
	}
	if hr.Contract.Exchange == "" {
		hr.Contract.Exchange = "SMART"
	}
	if hr.Contract.Currency == "" {
		hr.Contract.Currency = "USD"
	}
	if hr.Duration == "" {
		hr.Duration = "1 D"
	}
	if hr.BarSize == "" {
		hr.BarSize = "5 mins"
	}
	if hr.WhatToShow == "" {
		hr.WhatToShow = "TRADES"
	}
	var out []twsapi.Bar
	err := s.withAPI(ctx, "historical_bars", func(api API) error {
		var err error
		out, err = api.HistoricalBars(ctx, hr)
		return err
	})
	if out == nil && err == nil {
		out = []twsapi.Bar{}
	}
	return out, err
}

// Snapshot fetches a one-shot market data snapshot for a symbol.
func (s *Service) Snapshot(ctx context.Context, contract twsapi.Contract) (twsapi.Tick, error) {
	if contract.Symbol == "" && contract.ConID == 0 {
		return twsapi.Tick{}, fmt.Errorf("contract needs a symbol or con id")
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
	var out twsapi.Tick
	err := s.withAPI(ctx, "snapshot", func(api API) error {
		var err error
		out, err = api.Snapshot(ctx, contract)
		return err
	})
	return out, err
}
