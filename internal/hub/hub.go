// Package hub hosts the coordinator: it accepts websocket connections,
// feeds inbound messages to the registry and relay, and pushes presence and
// signaling messages back out. The hub itself holds no protocol state beyond
// the connection table; the registry owns identity and pairing.
package hub

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/oshri-humanz/talkie/internal/proto"
	"github.com/oshri-humanz/talkie/internal/registry"
	"github.com/oshri-humanz/talkie/internal/util"
)

var log = logging.Logger("talkie:hub")

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Endpoints connect from arbitrary origins (desktop clients, LAN pages).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub is the coordinator server.
type Hub struct {
	addr string
	srv  *http.Server
	ln   net.Listener
	reg  *registry.Registry

	mu    sync.RWMutex
	conns map[string]*conn
}

func New(addr string) *Hub {
	h := &Hub{
		addr:  addr,
		conns: make(map[string]*conn),
	}
	h.reg = registry.New(h)
	return h
}

// Registry exposes the participant registry (used by tests and diagnostics).
func (h *Hub) Registry() *registry.Registry { return h.reg }

// Start listens and serves until ctx ends. It returns once the listener is
// up; serving continues in the background.
func (h *Hub) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	h.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	h.ln = ln
	log.Infof("coordinator listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
		defer cancel()
		_ = h.srv.Shutdown(shctx)
		h.closeAll()
	}()

	go func() {
		if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("coordinator server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address (useful when started with port 0).
func (h *Hub) Addr() string {
	if h.ln == nil {
		return h.addr
	}
	return h.ln.Addr().String()
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("upgrade failed: %v", err)
		return
	}

	self := h.reg.Register()
	c := newConn(self.ID, ws)

	h.mu.Lock()
	h.conns[self.ID] = c
	h.mu.Unlock()

	// The welcome tells the endpoint its assigned id (a plain websocket
	// carries no transport-level identity) plus the current membership.
	c.enqueue(proto.Message{
		Kind:         proto.KindWelcome,
		Self:         &self,
		Participants: h.reg.Snapshot(),
	})

	go c.writePump()
	c.readPump(h) // blocks until the connection dies

	h.dropConn(c)
}

// dropConn removes the connection and cascades into registry teardown.
// The conn must leave the table before Remove runs so the departing side
// receives none of the teardown traffic.
func (h *Hub) dropConn(c *conn) {
	h.mu.Lock()
	if cur, ok := h.conns[c.id]; ok && cur == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()

	h.reg.Remove(c.id)
	c.shutdown()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
}

// Send implements registry.Sink: deliver to one connection, drop silently
// when it is gone.
func (h *Hub) Send(id string, msg proto.Message) {
	h.mu.RLock()
	c := h.conns[id]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	c.enqueue(msg)
}

// Broadcast implements registry.Sink: deliver to everyone except skip.
func (h *Hub) Broadcast(skip string, msg proto.Message) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for id, c := range h.conns {
		if id == skip {
			continue
		}
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.enqueue(msg)
	}
}

// dispatch routes one inbound message. Unknown kinds are dropped: an old
// client must not be able to take the coordinator down.
func (h *Hub) dispatch(c *conn, msg proto.Message) {
	switch msg.Kind {
	case proto.KindSetName:
		h.reg.Rename(c.id, msg.Name)
	case proto.KindStartTalking:
		h.reg.SetTalking(c.id, true)
	case proto.KindStopTalking:
		h.reg.SetTalking(c.id, false)
	case proto.KindRequestPrivateChat:
		if err := h.reg.RequestPairing(c.id, msg.Target); err != nil {
			log.Debugf("pairing %s -> %s rejected: %v", c.short(), msg.Target, err)
		}
	case proto.KindEndPrivateChat:
		h.reg.EndPairing(c.id)
	case proto.KindStartPrivateTalk:
		h.reg.SetPrivateTalking(c.id, msg.Target, true)
	case proto.KindStopPrivateTalk:
		h.reg.SetPrivateTalking(c.id, msg.Target, false)
	case proto.KindOffer, proto.KindAnswer, proto.KindCandidate:
		h.relay(msg.Namespace, msg.Kind, c.id, msg.Target, msg.Payload)
	case proto.KindHeartbeat:
		c.enqueue(proto.Message{
			Kind:       proto.KindHeartbeatAck,
			Timestamp:  msg.Timestamp,
			ServerTime: proto.NowMillis(),
		})
	default:
		log.Debugf("dropping unknown kind %q from %s", msg.Kind, c.short())
	}
}
