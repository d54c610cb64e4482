package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	observerBufferSize   = 16
	observerWriteTimeout = 5 * time.Second
)

// wsConn is the slice of *websocket.Conn the observer needs. Tests supply
// their own implementation.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
	RemoteAddrString() string
}

// observer is one connected board client. It only ever receives pushed
// change events; inbound frames are read and discarded.
type observer struct {
	conn wsConn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newObserver(conn wsConn) *observer {
	return &observer{
		conn: conn,
		send: make(chan []byte, observerBufferSize),
		done: make(chan struct{}),
	}
}

// enqueue hands payload to the write pump without blocking. It reports
// false when the observer is closed or cannot keep up, which the hub
// treats as a dead connection.
func (o *observer) enqueue(payload []byte) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.send <- payload:
		return true
	default:
		return false
	}
}

func (o *observer) close() {
	o.closeOnce.Do(func() {
		close(o.done)
		_ = o.conn.Close()
	})
}

func (o *observer) remoteAddr() string {
	return o.conn.RemoteAddrString()
}

// writePump drains the send buffer to the socket. A write error closes the
// connection, which in turn ends the read pump.
func (o *observer) writePump(logger *log.Logger) {
	defer o.close()
	for {
		select {
		case <-o.done:
			return
		case payload := <-o.send:
			_ = o.conn.SetWriteDeadline(time.Now().Add(observerWriteTimeout))
			if err := o.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.WithError(err).Debug("observer write failed")
				return
			}
		}
	}
}

// readPump consumes inbound frames until the peer goes away, then leaves
// the hub. The channel is notification-only, so frame contents are ignored.
func (o *observer) readPump(hub *Hub, logger *log.Logger) {
	defer func() {
		hub.Unregister(o)
		o.close()
		logger.Info("observer disconnected")
	}()
	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			return
		}
	}
}
