// Package gateway implements the trading operations exposed over the
// API. Every operation reaches the gateway through the supervisor's
// scoped session access; no service holds a connection of its own.
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"ibgate/internal/session"
	"ibgate/internal/supervisor"
	"ibgate/internal/twsapi"
)

// API is the request surface the services need from the gateway client.
// *twsapi.Client satisfies it; tests substitute fakes.
type API interface {
	ManagedAccounts() []string
	ServerVersion() int
	AccountSummary(ctx context.Context, tags string) ([]twsapi.AccountValue, error)
	Positions(ctx context.Context) ([]twsapi.Position, error)
	PlaceOrder(ctx context.Context, contract twsapi.Contract, order twsapi.Order) (twsapi.OrderStatus, error)
	CancelOrder(ctx context.Context, orderID int64) error
	OpenOrders(ctx context.Context) ([]twsapi.OpenOrder, error)
	ContractDetails(ctx context.Context, contract twsapi.Contract) ([]twsapi.ContractDetails, error)
	OptionParams(ctx context.Context, symbol, secType string, conID int64) ([]twsapi.OptionChain, error)
	HistoricalBars(ctx context.Context, hr twsapi.HistoricalRequest) ([]twsapi.Bar, error)
	Snapshot(ctx context.Context, contract twsapi.Contract) (twsapi.Tick, error)
	ScannerParameters(ctx context.Context) (string, error)
	ScannerData(ctx context.Context, sub twsapi.ScannerSubscription) ([]twsapi.ScanRow, error)
}

// Service bundles the trading operations behind the supervisor.
type Service struct {
	sup *supervisor.Supervisor
	log *slog.Logger
}

func New(sup *supervisor.Supervisor, log *slog.Logger) *Service {
	return &Service{sup: sup, log: log}
}

// withAPI runs fn inside a supervised session scope.
func (s *Service) withAPI(ctx context.Context, op string, fn func(api API) error) error {
	return s.sup.WithSession(ctx, op, func(cl session.Client) error {
		api, ok := cl.(API)
		if !ok {
			return errors.New("session client does not speak the gateway API")
		}
		return fn(api)
	})
}

// Accounts lists the account ids managed by the live session.
func (s *Service) Accounts(ctx context.Context) ([]string, error) {
	var out []string
	err := s.withAPI(ctx, "accounts", func(api API) error {
		out = api.ManagedAccounts()
		return nil
	})
	return out, err
}
