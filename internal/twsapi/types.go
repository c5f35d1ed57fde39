// Package twsapi is a minimal client for the TWS socket API: the v100+
// handshake, the framed message codec, and the request subset the
// gateway services need. Everything else about the wire protocol is out
// of scope and stays behind the session.Client boundary.
package twsapi

import (
	"github.com/shopspring/decimal"
)

// SecType values accepted by the gateway.
const (
	SecTypeStock  = "STK"
	SecTypeOption = "OPT"
	SecTypeFuture = "FUT"
	SecTypeForex  = "CASH"
	SecTypeIndex  = "IND"
)

// Contract identifies an instrument.
type Contract struct {
	ConID           int64  `json:"con_id,omitempty"`
	Symbol          string `json:"symbol"`
	SecType         string `json:"sec_type"`
	Expiry          string `json:"expiry,omitempty"` // lastTradeDateOrContractMonth
	Strike          float64 `json:"strike,omitempty"`
	Right           string `json:"right,omitempty"` // C or P
	Exchange        string `json:"exchange"`
	PrimaryExchange string `json:"primary_exchange,omitempty"`
	Currency        string `json:"currency"`
	LocalSymbol     string `json:"local_symbol,omitempty"`
	TradingClass    string `json:"trading_class,omitempty"`
	Multiplier      string `json:"multiplier,omitempty"`
}

// ContractDetails is the qualified form returned by the gateway.
type ContractDetails struct {
	Contract   Contract `json:"contract"`
	MarketName string   `json:"market_name,omitempty"`
	MinTick    float64  `json:"min_tick,omitempty"`
	LongName   string   `json:"long_name,omitempty"`
}

// Order is an order request. Prices and quantity are decimals.
type Order struct {
	Action      string          `json:"action"`     // BUY or SELL
	Quantity    decimal.Decimal `json:"quantity"`
	OrderType   string          `json:"order_type"` // MKT, LMT, STP, ...
	LimitPrice  decimal.Decimal `json:"limit_price,omitempty"`
	AuxPrice    decimal.Decimal `json:"aux_price,omitempty"`
	TIF         string          `json:"tif"` // DAY, GTC, IOC
	OutsideRTH  bool            `json:"outside_rth"`
	Account     string          `json:"account,omitempty"`
}

// OrderStatus is the gateway's view of a placed order.
type OrderStatus struct {
	OrderID      int64           `json:"order_id"`
	Status       string          `json:"status"`
	Filled       decimal.Decimal `json:"filled"`
	Remaining    decimal.Decimal `json:"remaining"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
}

// OpenOrder pairs an order with its contract and live status.
type OpenOrder struct {
	OrderID  int64       `json:"order_id"`
	Contract Contract    `json:"contract"`
	Order    Order       `json:"order"`
	Status   OrderStatus `json:"status"`
}

// Position is one account position.
type Position struct {
	Account  string          `json:"account"`
	Contract Contract        `json:"contract"`
	Quantity decimal.Decimal `json:"position"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}

// AccountValue is one account summary line.
type AccountValue struct {
	Account  string `json:"account"`
	Tag      string `json:"tag"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Bar is one historical data bar.
type Bar struct {
	Time   string  `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
	WAP    float64 `json:"wap,omitempty"`
	Count  int     `json:"count,omitempty"`
}

// Greeks are option model greeks from a tick snapshot.
type Greeks struct {
	Delta      float64 `json:"delta"`
	Gamma      float64 `json:"gamma"`
	Vega       float64 `json:"vega"`
	Theta      float64 `json:"theta"`
	ImpliedVol float64 `json:"implied_vol"`
}

// Tick is a market data snapshot.
type Tick struct {
	Contract Contract `json:"contract"`
	Last     *float64 `json:"last,omitempty"`
	Bid      *float64 `json:"bid,omitempty"`
	Ask      *float64 `json:"ask,omitempty"`
	BidSize  *int64   `json:"bid_size,omitempty"`
	AskSize  *int64   `json:"ask_size,omitempty"`
	Volume   *int64   `json:"volume,omitempty"`
	Greeks   *Greeks  `json:"greeks,omitempty"`
}

// OptionChain is one exchange's option parameters for an underlying.
type OptionChain struct {
	Exchange        string    `json:"exchange"`
	UnderlyingConID int64     `json:"underlying_con_id"`
	TradingClass    string    `json:"trading_class"`
	Multiplier      string    `json:"multiplier"`
	Expirations     []string  `json:"expirations"`
	Strikes         []float64 `json:"strikes"`
}

// ScanRow is one market scanner result.
type ScanRow struct {
	Rank     int      `json:"rank"`
	Contract Contract `json:"contract"`
}

// ScannerSubscription describes a scanner query.
type ScannerSubscription struct {
	Instrument   string `json:"instrument"`
	LocationCode string `json:"location_code"`
	ScanCode     string `json:"scan_code"`
	NumberOfRows int    `json:"number_of_rows"`
}

// HistoricalRequest describes a bar history query.
type HistoricalRequest struct {
	Contract   Contract `json:"contract"`
	Duration   string   `json:"duration"`     // e.g. "1 D"
	BarSize    string   `json:"bar_size"`     // e.g. "1 min"
	WhatToShow string   `json:"what_to_show"` // TRADES, MIDPOINT, BID, ASK
	UseRTH     bool     `json:"use_rth"`
}
