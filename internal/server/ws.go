package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the supervisor API is not browser-facing; same-origin checks
	// would only break the operator tooling that consumes this stream
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	statusPushInterval = 2 * time.Second
	wsWriteTimeout     = 5 * time.Second
	wsPongTimeout      = 60 * time.Second
)

// handleStatusWS streams the supervisor status over a websocket. A
// snapshot is pushed immediately on connect and then on a fixed
// cadence until the client goes away.
func (r *Router) handleStatusWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}
	defer conn.Close()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

	// drain control frames; a read error means the peer is gone
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := func() error {
		st := r.sup.Status(c.Request.Context())
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(st)
	}
	if err := push(); err != nil {
		return
	}

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := push(); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
