package ws

import (
	"sync"
	"time"

	"realtime_server/core/domain"
	"realtime_server/core/port/out"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"
)

// Conn adapts a WebSocket connection to out.Connection. Sends are queued and
// written by a single pump goroutine, so frames to one connection keep
// program order and a slow peer never blocks the sender.
type Conn struct {
	id        domain.ConnectionID
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	writeWait time.Duration
	log       zerolog.Logger
}

var _ out.Connection = (*Conn)(nil)

func newConn(id domain.ConnectionID, ws *websocket.Conn, sendBuffer int, writeWait time.Duration, log zerolog.Logger) *Conn {
	return &Conn{
		id:        id,
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		writeWait: writeWait,
		log:       log.With().Str("conn_id", string(id)).Logger(),
	}
}

// ID implements out.Connection.
func (c *Conn) ID() domain.ConnectionID { return c.id }

// Send implements out.Connection.
func (c *Conn) Send(msg domain.OutboundMessage) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
		return domain.ErrSendBufferFull
	}
}

// Close implements out.Connection. The first reason wins.
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)

		code := websocket.CloseNormalClosure
		if reason == "server shutdown" {
			code = websocket.CloseGoingAway
		}
		if len(reason) > 120 {
			reason = reason[:120]
		}
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.writeWait))
		_ = c.ws.Close()
	})
}

// closed reports whether Close was called.
func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writePump drains the send queue until the connection closes.
func (c *Conn) writePump() {
	for {
		select {
		case data := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				c.Close("write deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.Close("write error")
				return
			}
		case <-c.done:
			return
		}
	}
}
