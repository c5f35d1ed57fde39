package gateway

import (
	"context"

	"ibgate/internal/twsapi"
)

// AccountSummary returns the summary lines for every managed account.
// tags may be empty for the default ledger set.
func (s *Service) AccountSummary(ctx context.Context, tags string) ([]twsapi.AccountValue, error) {
	var out []twsapi.AccountValue
	err := s.withAPI(ctx, "account_summary", func(api API) error {
		var err error
		out, err = api.AccountSummary(ctx, tags)
		return err
	})
	return out, err
}

// Positions returns all open positions across managed accounts.
func (s *Service) Positions(ctx context.Context) ([]twsapi.Position, error) {
	var out []twsapi.Position
	err := s.withAPI(ctx, "positions", func(api API) error {
		var err error
		out, err = api.Positions(ctx)
		return err
	})
	if out == nil && err == nil {
		out = []twsapi.Position{}
	}
	return out, err
}
