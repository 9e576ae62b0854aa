package events

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

type handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

func RegisterRoutes(e *echo.Echo, hub *Hub) {
	h := &handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			// The API is served on the local network without auth.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	e.GET("/events", h.stream)
}

func (h *handler) stream(c echo.Context) error {
	log := logger.FromContext(c.Request().Context())

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Warn("websocket upgrade failed", logger.Data{"error": err.Error()})
		return nil
	}
	defer conn.Close()

	sub, unsubscribe := h.hub.Subscribe(0)
	defer unsubscribe()

	// Clients don't send anything; reading only notices when they go away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return nil
		case e, ok := <-sub:
			if !ok {
				return nil
			}
			data, err := json.Marshal(e)
			if err != nil {
				return errors.WithStack(err)
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn("websocket write failed", logger.Data{"error": err.Error()})
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}
