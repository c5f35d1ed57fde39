package client

import (
	"time"

	"github.com/shopspring/decimal"
)

// GatewayStatus mirrors the daemon's combined status document.
type GatewayStatus struct {
	SessionState string          `json:"session_state"`
	Endpoint     string          `json:"endpoint"`
	Alert        bool            `json:"alert"`
	AlertSince   *time.Time      `json:"alert_since,omitempty"`
	Monitor      string          `json:"monitor_state"`
	Container    ContainerRecord `json:"container"`
}

// ContainerRecord is the daemon's view of the gateway container.
type ContainerRecord struct {
	Name           string     `json:"name"`
	Image          string     `json:"image"`
	Desired        string     `json:"desired_state"`
	Observed       string     `json:"observed_state"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	LastObservedAt time.Time  `json:"last_observed_at"`
}

// LogsResponse carries container log lines.
type LogsResponse struct {
	Lines []string `json:"lines"`
}

// AccountsResponse carries managed account ids.
type AccountsResponse struct {
	Accounts []string `json:"accounts"`
}

// AccountValue is one account summary line.
type AccountValue struct {
	Account  string `json:"account"`
	Tag      string `json:"tag"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Contract identifies an instrument.
type Contract struct {
	ConID    int64   `json:"con_id,omitempty"`
	Symbol   string  `json:"symbol"`
	SecType  string  `json:"sec_type,omitempty"`
	Expiry   string  `json:"expiry,omitempty"`
	Strike   float64 `json:"strike,omitempty"`
	Right    string  `json:"right,omitempty"`
	Exchange string  `json:"exchange,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// Position is one account position.
type Position struct {
	Account  string          `json:"account"`
	Contract Contract        `json:"contract"`
	Quantity decimal.Decimal `json:"position"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}

// OrderRequest places an order.
type OrderRequest struct {
	Contract Contract        `json:"contract"`
	Action   string          `json:"action"`
	Quantity decimal.Decimal `json:"quantity"`
	Type     string          `json:"order_type,omitempty"`
	Limit    decimal.Decimal `json:"limit_price,omitempty"`
	Stop     decimal.Decimal `json:"stop_price,omitempty"`
	TIF      string          `json:"tif,omitempty"`
	Account  string          `json:"account,omitempty"`
}

// OrderStatus is the daemon's report of a placed order.
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
	Status   OrderStatus `json:"status"`
}

// Tick is a market data snapshot.
type Tick struct {
	Contract Contract `json:"contract"`
	Last     *float64 `json:"last,omitempty"`
	Bid      *float64 `json:"bid,omitempty"`
	Ask      *float64 `json:"ask,omitempty"`
	Volume   *int64   `json:"volume,omitempty"`
}

// HistoricalRequest describes a bar history query.
type HistoricalRequest struct {
	Contract   Contract `json:"contract"`
	Duration   string   `json:"duration,omitempty"`
	BarSize    string   `json:"bar_size,omitempty"`
	WhatToShow string   `json:"what_to_show,omitempty"`
	UseRTH     bool     `json:"use_rth"`
}

// Bar is one historical data bar.
type Bar struct {
	Time   string  `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// HistoryEvent is one supervisor lifecycle event.
type HistoryEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     string    `json:"detail,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
