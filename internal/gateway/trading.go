package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"ibgate/internal/twsapi"
)

// OrderRequest is the inbound shape for order placement.
type OrderRequest struct {
	Contract twsapi.Contract `json:"contract"`
	Action   string          `json:"action"`
	Quantity decimal.Decimal `json:"quantity"`
	Type     string          `json:"order_type"`
	Limit    decimal.Decimal `json:"limit_price"`
	Stop     decimal.Decimal `json:"stop_price"`
	TIF      string          `json:"tif"`
	Outside  bool            `json:"outside_rth"`
	Account  string          `json:"account"`
}

// PlaceOrder validates and transmits an order, returning the gateway's
// first status report.
func (s *Service) PlaceOrder(ctx context.Context, req OrderRequest) (twsapi.OrderStatus, error) {
	if req.Type == "" {
		req.Type = "MKT"
	}
	if req.TIF == "" {
		req.TIF = "DAY"
	}
	order := twsapi.Order{
		Action:     req.Action,
		Quantity:   req.Quantity,
		OrderType:  req.Type,
		LimitPrice: req.Limit,
		AuxPrice:   req.Stop,
		TIF:        req.TIF,
		OutsideRTH: req.Outside,
		Account:    req.Account,
	}
	var st twsapi.OrderStatus
	err := s.withAPI(ctx, "place_order", func(api API) error {
		var err error
		st, err = api.PlaceOrder(ctx, req.Contract, order)
		return err
	})
	if err == nil {
		s.log.Info("order placed",
			"order_id", st.OrderID,
			"symbol", req.Contract.Symbol,
			"action", req.Action,
			"quantity", req.Quantity.String(),
			"type", req.Type,
			"status", st.Status)
	}
	return st, err
}

// CancelOrder cancels a working order by id.
func (s *Service) CancelOrder(ctx context.Context, orderID int64) error {
	if orderID <= 0 {
		return fmt.Errorf("invalid order id %d", orderID)
	}
	err := s.withAPI(ctx, "cancel_order", func(api API) error {
		return api.CancelOrder(ctx, orderID)
	})
	if err == nil {
		s.log.Info("order cancelled", "order_id", orderID)
	}
	return err
}

// OpenOrders lists working orders for this API client.
func (s *Service) OpenOrders(ctx context.Context) ([]twsapi.OpenOrder, error) {
	var out []twsapi.OpenOrder
	err := s.withAPI(ctx, "open_orders", func(api API) error {
		var err error
		out, err = api.OpenOrders(ctx)
		return err
	})
	if out == nil && err == nil {
		out = []twsapi.OpenOrder{}
	}
	return out, err
}
