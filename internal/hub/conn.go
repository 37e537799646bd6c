package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oshri-humanz/talkie/internal/proto"
)

const (
	// sendBuf bounds per-connection outbound queueing; a client that falls
	// further behind starts losing messages rather than stalling the hub.
	sendBuf = 64

	writeTimeout = 10 * time.Second
)

// conn is one live endpoint connection.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan proto.Message

	quit      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn) *conn {
	return &conn{
		id:   id,
		ws:   ws,
		send: make(chan proto.Message, sendBuf),
		quit: make(chan struct{}),
	}
}

// enqueue queues an outbound message without ever blocking the caller.
func (c *conn) enqueue(msg proto.Message) {
	select {
	case <-c.quit:
	case c.send <- msg:
	default:
		log.Warnf("conn %s: send buffer full, dropping %s", c.short(), msg.Kind)
	}
}

// readPump decodes inbound frames and hands them to the hub until the
// connection errors or closes.
func (c *conn) readPump(h *Hub) {
	for {
		var msg proto.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("conn %s: read error: %v", c.short(), err)
			}
			return
		}
		h.dispatch(c, msg)
	}
}

// writePump drains the send queue onto the wire.
func (c *conn) writePump() {
	for {
		select {
		case <-c.quit:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Debugf("conn %s: write error: %v", c.short(), err)
				c.shutdown()
				return
			}
		}
	}
}

// shutdown tears the connection down exactly once.
func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.quit)
		_ = c.ws.Close()
	})
}

func (c *conn) short() string {
	if len(c.id) > 8 {
		return c.id[:8]
	}
	return c.id
}
