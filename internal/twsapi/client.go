package twsapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ibgate/internal/session"
)

const (
	minClientVersion = 176
	maxClientVersion = 178
)

// Error is a gateway error message (incoming message 4) tied to a
// request. Codes below 1100 are hard errors; the 21xx range is
// informational connectivity chatter that the pump logs and drops.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message) }

// ErrNotConnected is returned by requests made on a closed client.
var ErrNotConnected = errors.New("not connected to gateway")

// Client speaks the TWS socket API. It implements session.Client and
// carries the request subset the gateway services use. A single reader
// goroutine owns the socket's inbound side; requests register a reply
// channel keyed by request id and block until their terminal message.
type Client struct {
	requestTimeout time.Duration
	log            *slog.Logger
	dial           func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error)

	mu        sync.Mutex // guards conn writes and connect/disconnect
	conn      net.Conn
	connected atomic.Bool
	lastMsg   atomic.Int64 // unix nanos of the last inbound frame

	serverVersion int
	accounts      []string

	reqSeq  atomic.Int64
	orderMu sync.Mutex
	nextOrd int64

	pmu     sync.Mutex
	pending map[int64]chan []string // request id -> inbound frames
	orders  map[int64]chan []string // order id -> inbound frames

	readerDone chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithRequestTimeout bounds each request round trip.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithDialer replaces the TCP dialer, used by tests to hand the client
// an in-memory pipe.
func WithDialer(dial func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error)) Option {
	return func(c *Client) { c.dial = dial }
}

func New(log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		requestTimeout: 15 * time.Second,
		log:            log,
		pending:        make(map[int64]chan []string),
		orders:         make(map[int64]chan []string),
	}
	c.dial = func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
		d := net.Dialer{Timeout: timeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect dials the gateway and performs the v100+ handshake followed by
// startApi. It blocks until the gateway has answered with its managed
// accounts and the next valid order id, which is the earliest point the
// session is usable.
func (c *Client) Connect(ctx context.Context, ep session.Endpoint, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected.Load() {
		return nil
	}
	if c.conn != nil {
		// stale socket from a pump-detected loss
		_ = c.conn.Close()
		<-c.readerDone
		c.conn = nil
	}

	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := c.dial(dialCtx, ep.String(), timeout)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	if timeout > 0 {
		_ = conn.SetDeadline(deadline)
	}
	if err := c.handshake(conn, ep.ClientID); err != nil {
		conn.Close()
		return err
	}
	_ = conn.SetDeadline(time.Time{})

	c.conn = conn
	c.connected.Store(true)
	c.lastMsg.Store(time.Now().UnixNano())
	c.readerDone = make(chan struct{})
	go c.readPump(conn, c.readerDone)

	c.log.Info("gateway session established",
		"endpoint", ep.String(),
		"server_version", c.serverVersion,
		"accounts", strings.Join(c.accounts, ","))
	return nil
}

// handshake runs the v100+ exchange: the API magic plus a supported
// version range, then startApi, then waits for nextValidId and
// managedAccounts before declaring the session usable.
func (c *Client) handshake(conn net.Conn, clientID int) error {
	if _, err := conn.Write([]byte("API\x00")); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	verRange := fmt.Sprintf("v%d..%d", minClientVersion, maxClientVersion)
	if err := writeFrame(conn, verRange); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	ack, err := readFrame(conn)
	if err != nil {
		return fmt.Errorf("handshake ack: %w", err)
	}
	if len(ack) < 1 {
		return errors.New("handshake ack: empty frame")
	}
	fr := &fieldReader{fields: ack}
	c.serverVersion = int(fr.nextInt())
	if fr.err != nil {
		return fmt.Errorf("handshake ack: %w", fr.err)
	}
	if c.serverVersion < minClientVersion {
		return fmt.Errorf("server version %d below minimum %d", c.serverVersion, minClientVersion)
	}

	// startApi, version 2, no optional capabilities
	if err := writeFrame(conn, msgOutStartAPI, "2", encInt(int64(clientID)), ""); err != nil {
		return fmt.Errorf("startApi: %w", err)
	}

	var haveOrderID, haveAccounts bool
	for !haveOrderID || !haveAccounts {
		fields, err := readFrame(conn)
		if err != nil {
			return fmt.Errorf("startApi reply: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case msgInNextValidID:
			fr := &fieldReader{fields: fields[1:]}
			fr.skip(1) // version
			c.nextOrd = fr.nextInt()
			haveOrderID = true
		case msgInManagedAccounts:
			fr := &fieldReader{fields: fields[1:]}
			fr.skip(1) // version
			c.accounts = splitAccounts(fr.next())
			haveAccounts = true
		case msgInErr:
			if err := decodeErr(fields); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitAccounts(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// decodeErr returns a hard *Error or nil for informational codes.
func decodeErr(fields []string) error {
	fr := &fieldReader{fields: fields[1:]}
	fr.skip(2) // version, request id
	code := int(fr.nextInt())
	msg := fr.next()
	if fr.err != nil {
		return nil
	}
	// 21xx are connectivity notices, 1100-1102 are connection state
	// transitions handled by the health monitor through data age.
	if code >= 2100 || (code >= 1100 && code <= 1102) {
		return nil
	}
	return &Error{Code: code, Message: msg}
}

// Disconnect closes the socket and fails outstanding requests. The socket
// is closed even when the read pump has already observed a loss, so the
// descriptor is released before any later Connect replaces it.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.connected.Store(false)
	err := c.conn.Close()
	<-c.readerDone
	c.conn = nil
	return err
}

// IsConnected reports socket liveness without blocking.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// LastMessageAt is the arrival time of the most recent inbound frame.
func (c *Client) LastMessageAt() time.Time {
	n := c.lastMsg.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// ServerVersion reports the negotiated server version, zero before the
// first successful handshake.
func (c *Client) ServerVersion() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverVersion
}

// ManagedAccounts lists the account ids announced at handshake.
func (c *Client) ManagedAccounts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.accounts))
	copy(out, c.accounts)
	return out
}

// readPump is the sole reader of the socket. Every frame stamps
// LastMessageAt before dispatch so silence detection sees all traffic,
// even frames no request is waiting for.
func (c *Client) readPump(conn net.Conn, done chan struct{}) {
	defer close(done)
	defer c.failAll()
	for {
		fields, err := readFrame(conn)
		if err != nil {
			if c.connected.CompareAndSwap(true, false) && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.Warn("gateway connection lost", "error", err)
			}
			return
		}
		c.lastMsg.Store(time.Now().UnixNano())
		if len(fields) == 0 {
			continue
		}
		c.dispatch(fields)
	}
}

// dispatch routes an inbound frame to the request that is waiting for
// it. Frames keyed by order id (openOrder, orderStatus) route through
// the order table; everything else routes by request id.
func (c *Client) dispatch(fields []string) {
	var key int64
	var table map[int64]chan []string

	switch fields[0] {
	case msgInOrderStatus, msgInOpenOrder:
		// no version field since server version 145
		fr := &fieldReader{fields: fields[1:]}
		key = fr.nextInt()
		c.pmu.Lock()
		ch, ok := c.orders[key]
		all, okAll := c.orders[openOrdersKey]
		c.pmu.Unlock()
		if ok {
			sendFrame(ch, fields)
		}
		if okAll {
			sendFrame(all, fields)
		}
		return
	case msgInOpenOrderEnd:
		c.broadcastOrders(fields)
		return
	case msgInErr:
		fr := &fieldReader{fields: fields[1:]}
		fr.skip(1) // version
		key = fr.nextInt()
		if key <= 0 {
			if e := decodeErr(fields); e != nil {
				c.log.Warn("gateway error", "error", e)
			}
			return
		}
		c.pmu.Lock()
		chp, okp := c.pending[key]
		cho, oko := c.orders[key]
		c.pmu.Unlock()
		if okp {
			sendFrame(chp, fields)
		}
		if oko {
			sendFrame(cho, fields)
		}
		if !okp && !oko {
			if e := decodeErr(fields); e != nil {
				c.log.Warn("gateway error", "request_id", key, "error", e)
			}
		}
		return
	case msgInManagedAccounts:
		fr := &fieldReader{fields: fields[1:]}
		fr.skip(1)
		accts := splitAccounts(fr.next())
		c.mu.Lock()
		c.accounts = accts
		c.mu.Unlock()
		return
	case msgInNextValidID:
		fr := &fieldReader{fields: fields[1:]}
		fr.skip(1)
		id := fr.nextInt()
		c.orderMu.Lock()
		if id > c.nextOrd {
			c.nextOrd = id
		}
		c.orderMu.Unlock()
		return
	default:
		// request/response frames carry the request id in a
		// message-dependent position
		key = requestIDOf(fields)
		table = c.pending
	}

	if key == 0 {
		return
	}
	c.pmu.Lock()
	ch, ok := table[key]
	c.pmu.Unlock()
	if ok {
		sendFrame(ch, fields)
	}
}

// requestIDOf extracts the request id from messages keyed by one.
// Versioned messages carry it after the version field; the ones listed
// first dropped their version field in later server versions.
func requestIDOf(fields []string) int64 {
	fr := &fieldReader{fields: fields[1:]}
	switch fields[0] {
	case msgInContractData, msgInHistoricalData, msgInTickOptComp,
		msgInSecDefOptParam, msgInSecDefOptEnd:
		// these dropped their version field; the request id leads
		return fr.nextInt()
	case msgInPositionData, msgInPositionEnd:
		return positionsKey
	case msgInScannerParams:
		return scannerParamsKey
	default:
		fr.skip(1) // version
		return fr.nextInt()
	}
}

// scannerParamsKey routes the id-less scannerParameters reply.
const scannerParamsKey int64 = -1

func (c *Client) broadcastOrders(fields []string) {
	c.pmu.Lock()
	chans := make([]chan []string, 0, len(c.orders))
	for _, ch := range c.orders {
		chans = append(chans, ch)
	}
	c.pmu.Unlock()
	for _, ch := range chans {
		sendFrame(ch, fields)
	}
}

func sendFrame(ch chan []string, fields []string) {
	select {
	case ch <- fields:
	default:
		// receiver gave up; drop rather than stall the pump
	}
}

// failAll closes every pending reply channel after the pump exits.
func (c *Client) failAll() {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	for id, ch := range c.orders {
		close(ch)
		delete(c.orders, id)
	}
}

func (c *Client) nextReqID() int64 { return c.reqSeq.Add(1) + 1000 }

func (c *Client) nextOrderID() int64 {
	c.orderMu.Lock()
	defer c.orderMu.Unlock()
	id := c.nextOrd
	c.nextOrd++
	return id
}

func (c *Client) register(table map[int64]chan []string, id int64) chan []string {
	ch := make(chan []string, 64)
	c.pmu.Lock()
	table[id] = ch
	c.pmu.Unlock()
	return ch
}

func (c *Client) unregister(table map[int64]chan []string, id int64) {
	c.pmu.Lock()
	delete(table, id)
	c.pmu.Unlock()
}

func (c *Client) send(fields ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected.Load() || c.conn == nil {
		return ErrNotConnected
	}
	return writeFrame(c.conn, fields...)
}

// collect runs a request: send the frame, then feed inbound frames to
// accept until it reports done. accept returns an error to abort, or
// done=true on the terminal message of the exchange.
func (c *Client) collect(ctx context.Context, table map[int64]chan []string, id int64, req []string, accept func(fields []string) (done bool, err error)) error {
	ch := c.register(table, id)
	defer c.unregister(table, id)

	if err := c.send(req...); err != nil {
		return err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()
	for {
		select {
		case fields, ok := <-ch:
			if !ok {
				return ErrNotConnected
			}
			if fields[0] == msgInErr {
				if err := decodeErr(fields); err != nil {
					return err
				}
				continue
			}
			done, err := accept(fields)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("request %d timed out after %s", id, c.requestTimeout)
		}
	}
}
