package gateway

import (
	"context"
	"fmt"

	"ibgate/internal/twsapi"
)

// ScannerParameters returns the gateway's scanner configuration XML.
// The document is large and changes rarely; callers should cache it.
func (s *Service) ScannerParameters(ctx context.Context) (string, error) {
	var xml string
	err := s.withAPI(ctx, "scanner_params", func(api API) error {
		var err error
		xml, err = api.ScannerParameters(ctx)
		return err
	})
	return xml, err
}

// Scan runs a market scanner query and returns the ranked rows.
func (s *Service) Scan(ctx context.Context, sub twsapi.ScannerSubscription) ([]twsapi.ScanRow, error) {
	if sub.ScanCode == "" {
		return nil, fmt.Errorf("scan_code is required")
	}
	if sub.Instrument == "" {
		sub.Instrument = "STK"
	}
	if sub.LocationCode == "" {
		sub.LocationCode = "STK.US.MAJOR"
	}
	var out []twsapi.ScanRow
	err := s.withAPI(ctx, "scanner", func(api API) error {
		var err error
		out, err = api.ScannerData(ctx, sub)
		return err
	})
	if out == nil && err == nil {
		out = []twsapi.ScanRow{}
	}
	return out, err
}
