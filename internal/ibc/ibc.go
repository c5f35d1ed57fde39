// Package ibc talks to the gateway controller's command server, a
// plain line-oriented TCP protocol on its own port.
package ibc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Known commands.
const (
	CommandRestart   = "RESTART"
	CommandStop      = "STOP"
	CommandEnableAPI = "ENABLEAPI"
)

// Commander sends commands to one controller endpoint.
type Commander struct {
	addr    string
	timeout time.Duration
	dial    func(ctx context.Context, addr string) (net.Conn, error)
}

func New(host string, port int) *Commander {
	c := &Commander{
		addr:    fmt.Sprintf("%s:%d", host, port),
		timeout: 10 * time.Second,
	}
	c.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	return c
}

// Send issues one command and waits for the acknowledgement line. The
// controller answers each command with an "IBC:" prefixed status; an
// error line fails the command.
func (c *Commander) Send(ctx context.Context, command string) (string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := c.dial(dialCtx, c.addr)
	if err != nil {
		return "", fmt.Errorf("controller %s: %w", c.addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		return "", fmt.Errorf("send %s: %w", command, err)
	}

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "IBC: Welcome") {
			continue
		}
		if strings.HasPrefix(line, "Error") {
			return "", fmt.Errorf("command %s: %s", command, line)
		}
		return line, nil
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return "", fmt.Errorf("command %s: connection closed without reply", command)
}
