package twsapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// singleton routing keys for replies that carry no request id
const (
	positionsKey  int64 = -2
	openOrdersKey int64 = -3
)

func encContract(c Contract) []string {
	return []string{
		encInt(c.ConID),
		c.Symbol,
		c.SecType,
		c.Expiry,
		encFloat(c.Strike),
		c.Right,
		c.Multiplier,
		c.Exchange,
		c.PrimaryExchange,
		c.Currency,
		c.LocalSymbol,
		c.TradingClass,
	}
}

func decContract(fr *fieldReader) Contract {
	return Contract{
		ConID:        fr.nextInt(),
		Symbol:       fr.next(),
		SecType:      fr.next(),
		Expiry:       fr.next(),
		Strike:       fr.nextFloat(),
		Right:        fr.next(),
		Multiplier:   fr.next(),
		Exchange:     fr.next(),
		Currency:     fr.next(),
		LocalSymbol:  fr.next(),
		TradingClass: fr.next(),
	}
}

func decDecimal(fr *fieldReader) decimal.Decimal {
	s := fr.next()
	if fr.err != nil || s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		fr.err = fmt.Errorf("decimal field %d: %w", fr.i-1, err)
		return decimal.Zero
	}
	return d
}

// AccountSummary fetches the summary lines for all accounts. An empty
// tags argument requests the full ledger set.
func (c *Client) AccountSummary(ctx context.Context, tags string) ([]AccountValue, error) {
	if tags == "" {
		tags = "NetLiquidation,TotalCashValue,BuyingPower,GrossPositionValue,MaintMarginReq,ExcessLiquidity,AvailableFunds"
	}
	id := c.nextReqID()
	var out []AccountValue
	err := c.collect(ctx, c.pending, id,
		[]string{msgOutAccountSummary, "1", encInt(id), "All", tags},
		func(fields []string) (bool, error) {
			switch fields[0] {
			case msgInAccountSummary:
				fr := &fieldReader{fields: fields[1:]}
				fr.skip(2) // version, request id
				av := AccountValue{
					Account:  fr.next(),
					Tag:      fr.next(),
					Value:    fr.next(),
					Currency: fr.next(),
				}
				if fr.err != nil {
					return false, fr.err
				}
				out = append(out, av)
				return false, nil
			case msgInAccountSumEnd:
				return true, nil
			}
			return false, nil
		})
	return out, err
}

// Positions fetches all open positions across managed accounts.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var out []Position
	err := c.collect(ctx, c.pending, positionsKey,
		[]string{msgOutPositions, "1"},
		func(fields []string) (bool, error) {
			switch fields[0] {
			case msgInPositionData:
				fr := &fieldReader{fields: fields[1:]}
				fr.skip(1) // version
				p := Position{Account: fr.next()}
				p.Contract = decContract(fr)
				p.Quantity = decDecimal(fr)
				p.AvgCost = decDecimal(fr)
				if fr.err != nil {
					return false, fr.err
				}
				out = append(out, p)
				return false, nil
			case msgInPositionEnd:
				return true, nil
			}
			return false, nil
		})
	return out, err
}

// PlaceOrder transmits an order and waits for the first order status
// report. Trailing optional order fields are left at gateway defaults.
func (c *Client) PlaceOrder(ctx context.Context, contract Contract, order Order) (OrderStatus, error) {
	if err := validateOrder(order); err != nil {
		return OrderStatus{}, err
	}
	orderID := c.nextOrderID()
	req := []string{msgOutPlaceOrder, encInt(orderID)}
	req = append(req, encContract(contract)...)
	req = append(req, "", "") // secIdType, secId
	req = append(req,
		order.Action,
		order.Quantity.String(),
		order.OrderType,
		encPrice(order.LimitPrice),
		encPrice(order.AuxPrice),
		order.TIF,
		"", // ocaGroup
		order.Account,
		"",                          // openClose
		"0",                         // origin: customer
		"",                          // orderRef
		"1",                         // transmit
		"0",                         // parentId
		"0", "0", "0",               // blockOrder, sweepToFill, displaySize
		"0",                         // triggerMethod
		encBool(order.OutsideRTH),
		"0", // hidden
	)

	status := OrderStatus{OrderID: orderID}
	err := c.collect(ctx, c.orders, orderID, req,
		func(fields []string) (bool, error) {
			if fields[0] != msgInOrderStatus {
				return false, nil
			}
			st, err := decodeOrderStatus(fields)
			if err != nil {
				return false, err
			}
			status = st
			return true, nil
		})
	return status, err
}

func validateOrder(o Order) error {
	switch o.Action {
	case "BUY", "SELL":
	default:
		return fmt.Errorf("invalid order action %q", o.Action)
	}
	if o.Quantity.Sign() <= 0 {
		return errors.New("order quantity must be positive")
	}
	if o.OrderType == "LMT" && o.LimitPrice.Sign() <= 0 {
		return errors.New("limit order requires a positive limit price")
	}
	return nil
}

func encPrice(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func decodeOrderStatus(fields []string) (OrderStatus, error) {
	fr := &fieldReader{fields: fields[1:]}
	st := OrderStatus{
		OrderID:   fr.nextInt(),
		Status:    fr.next(),
		Filled:    decDecimal(fr),
		Remaining: decDecimal(fr),
	}
	st.AvgFillPrice = decDecimal(fr)
	return st, fr.err
}

// CancelOrder requests cancellation of a working order. The gateway
// acknowledges with an order status report; error 202 is the normal
// "order cancelled" notice and also counts as success.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	err := c.collect(ctx, c.orders, orderID,
		[]string{msgOutCancelOrder, "1", encInt(orderID), ""},
		func(fields []string) (bool, error) {
			return fields[0] == msgInOrderStatus, nil
		})
	var gwerr *Error
	if errors.As(err, &gwerr) && gwerr.Code == 202 {
		return nil
	}
	return err
}

// OpenOrders fetches all working orders for this client.
func (c *Client) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	byID := make(map[int64]*OpenOrder)
	order := make([]int64, 0)
	err := c.collect(ctx, c.orders, openOrdersKey,
		[]string{msgOutOpenOrders, "1"},
		func(fields []string) (bool, error) {
			switch fields[0] {
			case msgInOpenOrder:
				oo, err := decodeOpenOrder(fields)
				if err != nil {
					return false, err
				}
				if _, seen := byID[oo.OrderID]; !seen {
					order = append(order, oo.OrderID)
				}
				byID[oo.OrderID] = &oo
			case msgInOrderStatus:
				st, err := decodeOrderStatus(fields)
				if err != nil {
					return false, err
				}
				if oo, ok := byID[st.OrderID]; ok {
					oo.Status = st
				}
			case msgInOpenOrderEnd:
				return true, nil
			}
			return false, nil
		})
	if err != nil {
		return nil, err
	}
	out := make([]OpenOrder, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// decodeOpenOrder reads the leading openOrder fields and ignores the
// long tail of optional order attributes.
func decodeOpenOrder(fields []string) (OpenOrder, error) {
	fr := &fieldReader{fields: fields[1:]}
	oo := OpenOrder{OrderID: fr.nextInt()}
	oo.Contract = decContract(fr)
	oo.Order = Order{
		Action:    fr.next(),
		Quantity:  decDecimal(fr),
		OrderType: fr.next(),
	}
	oo.Order.LimitPrice = decDecimal(fr)
	oo.Order.AuxPrice = decDecimal(fr)
	oo.Order.TIF = fr.next()
	fr.skip(1) // ocaGroup
	oo.Order.Account = fr.next()
	oo.Status.OrderID = oo.OrderID
	return oo, fr.err
}

// ContractDetails qualifies a contract, returning every match.
func (c *Client) ContractDetails(ctx context.Context, contract Contract) ([]ContractDetails, error) {
	id := c.nextReqID()
	req := []string{msgOutContractData, "8", encInt(id)}
	req = append(req, encContract(contract)...)
	req = append(req, "0", "", "") // includeExpired, secIdType, secId

	var out []ContractDetails
	err := c.collect(ctx, c.pending, id, req,
		func(fields []string) (bool, error) {
			switch fields[0] {
			case msgInContractData:
				fr := &fieldReader{fields: fields[1:]}
				fr.skip(1) // request id
				var cd ContractDetails
				cd.Contract.Symbol = fr.next()
				cd.Contract.SecType = fr.next()
				cd.Contract.Expiry = fr.next()
				cd.Contract.Strike = fr.nextFloat()
				cd.Contract.Right = fr.next()
				cd.Contract.Exchange = fr.next()
				cd.Contract.Currency = fr.next()
				cd.Contract.LocalSymbol = fr.next()
				cd.MarketName = fr.next()
				cd.Contract.TradingClass = fr.next()
				cd.Contract.ConID = fr.nextInt()
				cd.MinTick = fr.nextFloat()
				cd.Contract.Multiplier = fr.next()
				fr.skip(3) // orderTypes, validExchanges, priceMagnifier
				fr.skip(1) // underConId
				cd.LongName = fr.next()
				cd.Contract.PrimaryExchange = fr.next()
				if fr.err != nil {
					return false, fr.err
				}
				out = append(out, cd)
				return false, nil
			case msgInContractDataEnd:
				return true, nil
			}
			return false, nil
		})
	return out, err
}

// OptionParams fetches option chain parameters for an underlying,
// one OptionChain per listing exchange.
func (c *Client) OptionParams(ctx context.Context, symbol, secType string, conID int64) ([]OptionChain, error) {
	id := c.nextReqID()
	var out []OptionChain
	err := c.collect(ctx, c.pending, id,
		[]string{msgOutSecDefOptParams, encInt(id), symbol, "", secType, encInt(conID)},
		func(fields []string) (bool, error) {
			switch fields[0] {
			case msgInSecDefOptParam:
				fr := &fieldReader{fields: fields[1:]}
				fr.skip(1) // request id
				oc := OptionChain{
					Exchange:        fr.next(),
					UnderlyingConID: fr.nextInt(),
					TradingClass:    fr.next(),
					Multiplier:      fr.next(),
				}
				nExp := int(fr.nextInt())
				for i := 0; i < nExp && fr.err == nil; i++ {
					oc.Expirations = append(oc.Expirations, fr.next())
				}
				nStr := int(fr.nextInt())
				for i := 0; i < nStr && fr.err == nil; i++ {
					oc.Strikes = append(oc.Strikes, fr.nextFloat())
				}
				if fr.err != nil {
					return false, fr.err
				}
				out = append(out, oc)
				return false, nil
			case msgInSecDefOptEnd:
				return true, nil
			}
			return false, nil
		})
	return out, err
}

// HistoricalBars fetches completed bars. The reply arrives as a single
// frame carrying every bar.
func (c *Client) HistoricalBars(ctx context.Context, hr HistoricalRequest) ([]Bar, error) {
	id := c.nextReqID()
	req := []string{msgOutHistoricalData, encInt(id)}
	req = append(req, encContract(hr.Contract)...)
	req = append(req,
		"0", // includeExpired
		"",  // endDateTime: now
		hr.BarSize,
		hr.Duration,
		encBool(hr.UseRTH),
		hr.WhatToShow,
		"1", // formatDate
		"0", // keepUpToDate
		"",  // chartOptions
	)

	var out []Bar
	err := c.collect(ctx, c.pending, id, req,
		func(fields []string) (bool, error) {
			if fields[0] != msgInHistoricalData {
				return false, nil
			}
			fr := &fieldReader{fields: fields[1:]}
			fr.skip(3) // request id, start date, end date
			n := int(fr.nextInt())
			out = make([]Bar, 0, n)
			for i := 0; i < n && fr.err == nil; i++ {
				out = append(out, Bar{
					Time:   fr.next(),
					Open:   fr.nextFloat(),
					High:   fr.nextFloat(),
					Low:    fr.nextFloat(),
					Close:  fr.nextFloat(),
					Volume: fr.nextInt(),
					WAP:    fr.nextFloat(),
					Count:  int(fr.nextInt()),
				})
			}
			return true, fr.err
		})
	return out, err
}

// Snapshot requests a one-shot market data snapshot and accumulates
// ticks until the gateway signals the snapshot end.
func (c *Client) Snapshot(ctx context.Context, contract Contract) (Tick, error) {
	id := c.nextReqID()
	req := []string{msgOutMktData, "11", encInt(id)}
	req = append(req, encContract(contract)...)
	req = append(req,
		"0", // comboLegs
		"",  // genericTicks
		"1", // snapshot
		"0", // regulatorySnapshot
		"",  // mktDataOptions
	)

	tick := Tick{Contract: contract}
	err := c.collect(ctx, c.pending, id, req,
		func(fields []string) (bool, error) {
			switch fields[0] {
			case msgInTickPrice:
				fr := &fieldReader{fields: fields[1:]}
				fr.skip(2) // version, request id
				tickType := fr.nextInt()
				price := fr.nextFloat()
				if fr.err != nil {
					return false, fr.err
				}
				switch tickType {
				case 1:
					tick.Bid = &price
				case 2:
					tick.Ask = &price
				case 4:
					tick.Last = &price
				}
			case msgInTickSize:
				fr := &fieldReader{fields: fields[1:]}
				fr.skip(2)
				tickType := fr.nextInt()
				size := fr.nextInt()
				if fr.err != nil {
					return false, fr.err
				}
				switch tickType {
				case 0:
					tick.BidSize = &size
				case 3:
					tick.AskSize = &size
				case 8:
					tick.Volume = &size
				}
			case msgInTickOptComp:
				fr := &fieldReader{fields: fields[1:]}
				fr.skip(1) // request id
				tickType := fr.nextInt()
				fr.skip(1) // tick attrib
				iv := fr.nextFloat()
				delta := fr.nextFloat()
				fr.skip(2) // option price, pv dividend
				gamma := fr.nextFloat()
				vega := fr.nextFloat()
				theta := fr.nextFloat()
				if fr.err != nil {
					return false, fr.err
				}
				// 13 is the model computation; bid/ask/last
				// computations are noise for a snapshot
				if tickType == 13 {
					tick.Greeks = &Greeks{
						Delta:      delta,
						Gamma:      gamma,
						Vega:       vega,
						Theta:      theta,
						ImpliedVol: iv,
					}
				}
			case msgInTickSnapshotEnd:
				return true, nil
			}
			return false, nil
		})
	return tick, err
}

// ScannerParameters fetches the scanner configuration XML.
func (c *Client) ScannerParameters(ctx context.Context) (string, error) {
	var xml string
	err := c.collect(ctx, c.pending, scannerParamsKey,
		[]string{msgOutScannerParams, "1"},
		func(fields []string) (bool, error) {
			if fields[0] != msgInScannerParams {
				return false, nil
			}
			fr := &fieldReader{fields: fields[1:]}
			fr.skip(1) // version
			xml = fr.next()
			return true, fr.err
		})
	return xml, err
}

// ScannerData runs a market scanner query. The reply is one frame with
// every matching row.
func (c *Client) ScannerData(ctx context.Context, sub ScannerSubscription) ([]ScanRow, error) {
	if sub.NumberOfRows <= 0 {
		sub.NumberOfRows = 50
	}
	id := c.nextReqID()
	req := []string{msgOutScannerData, "4", encInt(id),
		encInt(int64(sub.NumberOfRows)),
		sub.Instrument,
		sub.LocationCode,
		sub.ScanCode,
	}
	// unused numeric and string filter slots
	req = append(req, "", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "", "")

	var out []ScanRow
	err := c.collect(ctx, c.pending, id, req,
		func(fields []string) (bool, error) {
			if fields[0] != msgInScannerData {
				return false, nil
			}
			fr := &fieldReader{fields: fields[1:]}
			fr.skip(2) // version, request id
			n := int(fr.nextInt())
			out = make([]ScanRow, 0, n)
			for i := 0; i < n && fr.err == nil; i++ {
				row := ScanRow{Rank: int(fr.nextInt())}
				row.Contract.ConID = fr.nextInt()
				row.Contract.Symbol = fr.next()
				row.Contract.SecType = fr.next()
				row.Contract.Expiry = fr.next()
				row.Contract.Strike = fr.nextFloat()
				row.Contract.Right = fr.next()
				row.Contract.Exchange = fr.next()
				row.Contract.Currency = fr.next()
				row.Contract.LocalSymbol = fr.next()
				fr.skip(1) // market name
				row.Contract.TradingClass = fr.next()
				fr.skip(4) // distance, benchmark, projection, legs
				out = append(out, row)
			}
			return true, fr.err
		})
	return out, err
}

// normalizeSymbol uppercases and trims a user-supplied symbol.
func normalizeSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// NewStockContract builds a SMART-routed US stock contract.
func NewStockContract(symbol string) Contract {
	return Contract{
		Symbol:   normalizeSymbol(symbol),
		SecType:  SecTypeStock,
		Exchange: "SMART",
		Currency: "USD",
	}
}
