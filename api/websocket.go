package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// The board is served cross-origin, so the upgrader accepts any origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type gorillaConn struct {
	*websocket.Conn
}

func (c gorillaConn) RemoteAddrString() string {
	return c.RemoteAddr().String()
}

// serveWebsocket upgrades the connection, registers the observer with the
// hub and runs its pumps until either side goes away.
func serveWebsocket(hub *Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// Upgrade already wrote the handshake failure response.
			return nil
		}
		logger.Info("observer connected")

		o := newObserver(gorillaConn{conn})
		hub.Register(o)
		go o.writePump(logger)
		go o.readPump(hub, logger)
		return nil
	}
}
