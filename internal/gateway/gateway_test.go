package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ibgate/internal/container"
	"ibgate/internal/history"
	"ibgate/internal/runtime"
	"ibgate/internal/session"
	"ibgate/internal/supervisor"
	"ibgate/internal/twsapi"
)

// fakeAPI implements session.Client and the gateway API surface with
// canned replies.
type fakeAPI struct {
	connected bool

	summary    []twsapi.AccountValue
	summaryTag string
	positions  []twsapi.Position
	placed     []twsapi.Order
	placedCons []twsapi.Contract
	cancelled  []int64
	details    []twsapi.ContractDetails
	chains     []twsapi.OptionChain
	bars       []twsapi.Bar
	hr         twsapi.HistoricalRequest
	snapshots  map[string]twsapi.Tick // keyed by symbol or symbol/strike
	scanRows   []twsapi.ScanRow
	scanSub    twsapi.ScannerSubscription
}

func (f *fakeAPI) Connect(context.Context, session.Endpoint, time.Duration) error {
	f.connected = true
	return nil
}
func (f *fakeAPI) Disconnect() error { f.connected = false; return nil }

func (f *fakeAPI) IsConnected() bool { return f.connected }

func (f *fakeAPI) LastMessageAt() time.Time { return time.Now() }

func (f *fakeAPI) ManagedAccounts() []string { return []string{"DU100"} }

func (f *fakeAPI) ServerVersion() int { return 176 }

func (f *fakeAPI) AccountSummary(_ context.Context, tags string) ([]twsapi.AccountValue, error) {
	f.summaryTag = tags
	return f.summary, nil
}

func (f *fakeAPI) Positions(context.Context) ([]twsapi.Position, error) {
	return f.positions, nil
}

func (f *fakeAPI) PlaceOrder(_ context.Context, c twsapi.Contract, o twsapi.Order) (twsapi.OrderStatus, error) {
	f.placed = append(f.placed, o)
	f.placedCons = append(f.placedCons, c)
	return twsapi.OrderStatus{OrderID: 7, Status: "Submitted", Remaining: o.Quantity}, nil
}

func (f *fakeAPI) CancelOrder(_ context.Context, id int64) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeAPI) OpenOrders(context.Context) ([]twsapi.OpenOrder, error) { return nil, nil }

func (f *fakeAPI) ContractDetails(_ context.Context, c twsapi.Contract) ([]twsapi.ContractDetails, error) {
	return f.details, nil
}

func (f *fakeAPI) OptionParams(_ context.Context, symbol, secType string, conID int64) ([]twsapi.OptionChain, error) {
	return f.chains, nil
}

func (f *fakeAPI) HistoricalBars(_ context.Context, hr twsapi.HistoricalRequest) ([]twsapi.Bar, error) {
	f.hr = hr
	return f.bars, nil
}

func (f *fakeAPI) Snapshot(_ context.Context, c twsapi.Contract) (twsapi.Tick, error) {
	key := c.Symbol
	if c.SecType == twsapi.SecTypeOption {
		key = c.Symbol + "/" + encStrike(c.Strike)
	}
	return f.snapshots[key], nil
}

func (f *fakeAPI) ScannerParameters(context.Context) (string, error) {
	return "<ScanParameterResponse/>", nil
}

func (f *fakeAPI) ScannerData(_ context.Context, sub twsapi.ScannerSubscription) ([]twsapi.ScanRow, error) {
	f.scanSub = sub
	return f.scanRows, nil
}

func encStrike(v float64) string { return decimal.NewFromFloat(v).String() }

type nopRuntime struct{}

func (nopRuntime) EnsureImage(context.Context, string) error            { return nil }
func (nopRuntime) Create(context.Context, runtime.Spec) (string, error) { return "cid", nil }
func (nopRuntime) Start(context.Context, string) error                  { return nil }
func (nopRuntime) Stop(context.Context, string, time.Duration) error    { return nil }
func (nopRuntime) Remove(context.Context, string) error                 { return nil }
func (nopRuntime) Inspect(context.Context, string) (runtime.Inspection, error) {
	return runtime.Inspection{ID: "cid", State: runtime.StateRunning}, nil
}
func (nopRuntime) Logs(context.Context, string, int) ([]string, error) { return nil, nil }
func (nopRuntime) Close() error                                        { return nil }

func newTestService(t *testing.T, api *fakeAPI) *Service {
	t.Helper()
	sess := session.New(api, session.Endpoint{Host: "127.0.0.1", Port: 8888, ClientID: 1})
	mgr := container.NewManager(nopRuntime{}, runtime.Spec{Name: "gw", Image: "img"}, time.Second)
	sup := supervisor.New(sess, mgr, history.NewRecorder(), supervisor.Config{
		ConnectTimeout: time.Second,
		WaitTimeout:    100 * time.Millisecond,
	})
	if err := sup.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
	return New(sup, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAccounts(t *testing.T) {
	svc := newTestService(t, &fakeAPI{})
	accts, err := svc.Accounts(context.Background())
	if err != nil {
		t.Fatalf("Accounts: %v", err)
	}
	if len(accts) != 1 || accts[0] != "DU100" {
		t.Fatalf("accounts = %v", accts)
	}
}

func TestPositionsNeverNil(t *testing.T) {
	svc := newTestService(t, &fakeAPI{})
	ps, err := svc.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if ps == nil {
		t.Fatal("empty positions must decode as [], not null")
	}
}

func TestPlaceOrderDefaults(t *testing.T) {
	api := &fakeAPI{}
	svc := newTestService(t, api)

	st, err := svc.PlaceOrder(context.Background(), OrderRequest{
		Contract: twsapi.NewStockContract("AAPL"),
		Action:   "BUY",
		Quantity: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if st.OrderID != 7 || st.Status != "Submitted" {
		t.Fatalf("status = %+v", st)
	}
	if len(api.placed) != 1 {
		t.Fatalf("placed %d orders", len(api.placed))
	}
	o := api.placed[0]
	if o.OrderType != "MKT" {
		t.Fatalf("default order type = %q, want MKT", o.OrderType)
	}
	if o.TIF != "DAY" {
		t.Fatalf("default tif = %q, want DAY", o.TIF)
	}
}

func TestCancelOrderRejectsBadID(t *testing.T) {
	svc := newTestService(t, &fakeAPI{})
	if err := svc.CancelOrder(context.Background(), 0); err == nil {
		t.Fatal("order id 0 must be rejected")
	}
	if err := svc.CancelOrder(context.Background(), 42); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
}

func TestHistoricalBarsDefaults(t *testing.T) {
	api := &fakeAPI{}
	svc := newTestService(t, api)

	_, err := svc.HistoricalBars(context.Background(), twsapi.HistoricalRequest{
		Contract: twsapi.Contract{Symbol: "SPY"},
	})
	if err != nil {
		t.Fatalf("HistoricalBars: %v", err)
	}
	if api.hr.Duration != "1 D" || api.hr.BarSize != "5 mins" || api.hr.WhatToShow != "TRADES" {
		t.Fatalf("defaults not applied: %+v", api.hr)
	}
	if api.hr.Contract.Exchange != "SMART" || api.hr.Contract.Currency != "USD" {
		t.Fatalf("contract defaults not applied: %+v", api.hr.Contract)
	}

	if _, err := svc.HistoricalBars(context.Background(), twsapi.HistoricalRequest{}); err == nil {
		t.Fatal("empty contract must be rejected")
	}
}

func TestScanValidation(t *testing.T) {
	api := &fakeAPI{}
	svc := newTestService(t, api)

	if _, err := svc.Scan(context.Background(), twsapi.ScannerSubscription{}); err == nil {
		t.Fatal("missing scan_code must be rejected")
	}

	rows, err := svc.Scan(context.Background(), twsapi.ScannerSubscription{ScanCode: "TOP_PERC_GAIN"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if rows == nil {
		t.Fatal("empty scan must decode as [], not null")
	}
	if api.scanSub.Instrument != "STK" || api.scanSub.LocationCode != "STK.US.MAJOR" {
		t.Fatalf("defaults not applied: %+v", api.scanSub)
	}
}

func TestOptionsByDelta(t *testing.T) {
	last := 100.0
	api := &fakeAPI{
		details: []twsapi.ContractDetails{{
			Contract: twsapi.Contract{ConID: 1, Symbol: "AAPL", SecType: twsapi.SecTypeStock, Currency: "USD"},
		}},
		chains: []twsapi.OptionChain{{
			Exchange:     "SMART",
			TradingClass: "AAPL",
			Multiplier:   "100",
			Expirations:  []string{"20260116"},
			Strikes:      []float64{90, 95, 100, 105, 110},
		}},
		snapshots: map[string]twsapi.Tick{
			"AAPL":     {Last: &last},
			"AAPL/95":  {Greeks: &twsapi.Greeks{Delta: 0.7}},
			"AAPL/100": {Greeks: &twsapi.Greeks{Delta: 0.5}},
			"AAPL/105": {Greeks: &twsapi.Greeks{Delta: -0.3}},
			// 90 and 110 return no greeks and are skipped
		},
	}
	svc := newTestService(t, api)

	out, err := svc.OptionsByDelta(context.Background(), "AAPL", ChainFilter{
		Expiry:   "20260116",
		Right:    "P",
		MinDelta: 0.25,
		MaxDelta: 0.55,
	})
	if err != nil {
		t.Fatalf("OptionsByDelta: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2: %+v", len(out), out)
	}
	for _, od := range out {
		d := od.Greeks.Delta
		if d < 0 {
			d = -d
		}
		if d < 0.25 || d > 0.55 {
			t.Fatalf("delta %f outside band", od.Greeks.Delta)
		}
		if od.Contract.Expiry != "20260116" || od.Contract.Right != "P" {
			t.Fatalf("contract = %+v", od.Contract)
		}
	}
}

func TestOptionsByDeltaValidation(t *testing.T) {
	svc := newTestService(t, &fakeAPI{})
	if _, err := svc.OptionsByDelta(context.Background(), "AAPL", ChainFilter{Right: "C"}); err == nil {
		t.Fatal("missing expiry must be rejected")
	}
	if _, err := svc.OptionsByDelta(context.Background(), "AAPL", ChainFilter{Expiry: "20260116", Right: "X"}); err == nil {
		t.Fatal("bad right must be rejected")
	}
}

func TestOptionsByDeltaNoChain(t *testing.T) {
	api := &fakeAPI{
		details: []twsapi.ContractDetails{{
			Contract: twsapi.Contract{ConID: 1, Symbol: "AAPL", SecType: twsapi.SecTypeStock, Currency: "USD"},
		}},
		chains: []twsapi.OptionChain{{Exchange: "SMART", Expirations: []string{"20250117"}}},
	}
	svc := newTestService(t, api)
	_, err := svc.OptionsByDelta(context.Background(), "AAPL", ChainFilter{Expiry: "20260116", Right: "C"})
	if err == nil {
		t.Fatal("unlisted expiry must fail")
	}
}

func TestNearestStrikes(t *testing.T) {
	got := nearestStrikes([]float64{80, 90, 100, 110, 120}, 101, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0] != 100 || got[1] != 110 || got[2] != 90 {
		t.Fatalf("order = %v", got)
	}
}
