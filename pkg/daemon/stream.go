package daemon

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dispcal/dispcal/pkg/types"
)

const (
	wsWriteTimeout = 5 * time.Second
	// keepAliveInterval keeps idle streams from being closed by proxies
	// and lets the server notice dead clients.
	keepAliveInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// The API is only reachable through the unix socket.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// getEvents streams daemon events as server-sent events.
func getEvents(c *gin.Context) {
	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	// Flush headers so clients see the stream open before the first event.
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-ticker.C:
			c.SSEvent("keepalive", "{}")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// getEventsWS streams the same events over a websocket, one JSON
// types.WireEvent per message.
func getEventsWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	// Clients do not send anything; reading only detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(types.WireEvent{Name: ev.Name, Data: ev.Data}); err != nil {
				logrus.WithError(err).Debug("websocket client gone")
				return
			}
		case <-closed:
			return
		}
	}
}
