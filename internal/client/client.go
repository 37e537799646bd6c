// Package client implements a talkie endpoint: it dials the coordinator,
// mirrors presence, and drives one negotiation session per remote
// participant through the session manager.
//
// Glare never needs resolving here: the existing side offers when a
// participant-joined arrives, and the requester offers when its own pairing
// request is confirmed, so initiative is fixed by event origin.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/oshri-humanz/talkie/internal/proto"
	"github.com/oshri-humanz/talkie/internal/session"
	"github.com/oshri-humanz/talkie/internal/util"
)

var log = logging.Logger("talkie:client")

// Config configures one endpoint connection.
type Config struct {
	// URL is the coordinator websocket endpoint, e.g. ws://host:8787/ws.
	URL string
	// Name, when non-empty, is sent as the display name right after the
	// welcome.
	Name string
	// Heartbeat is the keep-alive interval; 0 disables heartbeats.
	Heartbeat time.Duration
	// Transport builds the media transport per session. Nil means the
	// pion transport.
	Transport session.TransportFactory
}

// Client is one connected endpoint.
type Client struct {
	ws       *websocket.Conn
	sessions *session.Manager

	wmu sync.Mutex // serializes websocket writes

	mu        sync.Mutex
	self      proto.Participant
	peers     map[string]proto.Participant
	requested string // pending private-chat target; marks us the offerer
	partner   string // current private partner, empty when unpaired

	lastRTTMillis atomic.Int64

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once

	listenerMu sync.RWMutex
	listeners  map[chan proto.Message]struct{}

	history *util.RingBuffer[proto.Message]
}

// historyLen bounds the retained event history per connection.
const historyLen = 256

// Dial connects to the coordinator and blocks until the welcome arrives (or
// ctx ends). The returned client is ready to use.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	factory := cfg.Transport
	if factory == nil {
		factory = session.NewPionTransport
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c := &Client{
		ws:        ws,
		peers:     make(map[string]proto.Participant),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		listeners: make(map[chan proto.Message]struct{}),
		history:   util.NewRingBuffer[proto.Message](historyLen),
	}
	c.sessions = session.NewManager(c, factory)

	go c.readLoop()

	select {
	case <-c.ready:
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	case <-time.After(util.DefaultConnectTimeout):
		c.Close()
		return nil, errors.New("client: no welcome from coordinator")
	}

	if cfg.Name != "" {
		if err := c.SetName(cfg.Name); err != nil {
			c.Close()
			return nil, err
		}
	}
	if cfg.Heartbeat > 0 {
		go c.heartbeatLoop(cfg.Heartbeat)
	}

	log.Infof("connected as %s", c.Self().ID)
	return c, nil
}

// Signal implements session.Signaler: outbound negotiation messages go to
// the coordinator addressed to the remote participant.
func (c *Client) Signal(ns proto.Namespace, kind proto.Kind, target string, payload json.RawMessage) error {
	return c.write(proto.Message{
		Kind:      kind,
		Namespace: ns,
		Target:    target,
		Payload:   payload,
	})
}

func (c *Client) write(msg proto.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(util.DefaultFetchTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *Client) readLoop() {
	for {
		var msg proto.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				log.Debugf("read loop ended: %v", err)
			}
			c.Close()
			return
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg proto.Message) {
	switch msg.Kind {
	case proto.KindWelcome:
		c.mu.Lock()
		if msg.Self != nil {
			c.self = *msg.Self
		}
		for _, p := range msg.Participants {
			if p.ID != c.self.ID {
				c.peers[p.ID] = p
			}
		}
		c.mu.Unlock()
		c.readyOnce.Do(func() { close(c.ready) })

	case proto.KindParticipantJoined:
		if msg.Participant == nil {
			return
		}
		p := *msg.Participant
		c.mu.Lock()
		c.peers[p.ID] = p
		c.mu.Unlock()
		// We heard about the newcomer, so we offer.
		if _, err := c.sessions.Open(p.ID, proto.NamespaceOpen); err != nil {
			log.Warnf("open session with %s failed: %v", p.ID, err)
		}

	case proto.KindParticipantLeft:
		c.mu.Lock()
		delete(c.peers, msg.ID)
		if c.partner == msg.ID {
			c.partner = ""
		}
		c.mu.Unlock()
		c.sessions.ClosePeer(msg.ID)

	case proto.KindParticipantUpdated:
		if msg.Participant == nil {
			return
		}
		c.mu.Lock()
		if msg.Participant.ID == c.self.ID {
			c.self = *msg.Participant
		} else {
			c.peers[msg.Participant.ID] = *msg.Participant
		}
		c.mu.Unlock()

	case proto.KindPresenceSnapshot:
		c.mu.Lock()
		c.peers = make(map[string]proto.Participant, len(msg.Participants))
		for _, p := range msg.Participants {
			if p.ID == c.self.ID {
				c.self = p
				continue
			}
			c.peers[p.ID] = p
		}
		c.mu.Unlock()

	case proto.KindTalkingChanged:
		c.mu.Lock()
		if p, ok := c.peers[msg.ID]; ok {
			p.Talking = msg.Talking
			c.peers[msg.ID] = p
		}
		c.mu.Unlock()

	case proto.KindPairingEstablished:
		if msg.Participant == nil {
			return
		}
		partnerID := msg.Participant.ID
		c.mu.Lock()
		c.partner = partnerID
		weRequested := c.requested == partnerID
		c.requested = ""
		c.mu.Unlock()
		if weRequested {
			// Our request won, so we drive the private negotiation.
			if _, err := c.sessions.Open(partnerID, proto.NamespacePrivate); err != nil {
				log.Warnf("open private session with %s failed: %v", partnerID, err)
			}
		}

	case proto.KindPairingEnded:
		c.mu.Lock()
		partnerID := c.partner
		c.partner = ""
		c.mu.Unlock()
		if partnerID != "" {
			c.sessions.Close(partnerID, proto.NamespacePrivate)
		}

	case proto.KindPairingError:
		c.mu.Lock()
		c.requested = ""
		c.mu.Unlock()
		log.Infof("pairing rejected: %s", msg.Reason)

	case proto.KindOffer, proto.KindAnswer, proto.KindCandidate:
		ns := msg.Namespace
		if ns == "" {
			ns = proto.NamespaceOpen
		}
		if err := c.sessions.HandleSignal(ns, msg.Kind, msg.Sender, msg.Payload); err != nil {
			log.Debugf("signal %s/%s from %s: %v", ns, msg.Kind, msg.Sender, err)
		}

	case proto.KindHeartbeatAck:
		c.lastRTTMillis.Store(proto.NowMillis() - msg.Timestamp)
	}

	c.notifyListeners(msg)
}

func (c *Client) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(proto.Message{
				Kind:      proto.KindHeartbeat,
				Timestamp: proto.NowMillis(),
			}); err != nil {
				log.Debugf("heartbeat failed: %v", err)
				return
			}
		}
	}
}

// SetName updates the display name shown to other participants.
func (c *Client) SetName(name string) error {
	return c.write(proto.Message{Kind: proto.KindSetName, Name: name})
}

// StartTalking marks this endpoint as transmitting. Scoped to the private
// pairing when one is active, otherwise to the open mesh.
func (c *Client) StartTalking() error { return c.setTalking(true) }

// StopTalking clears the transmitting flag.
func (c *Client) StopTalking() error { return c.setTalking(false) }

func (c *Client) setTalking(talking bool) error {
	c.mu.Lock()
	partner := c.partner
	c.mu.Unlock()

	msg := proto.Message{Kind: proto.KindStartTalking}
	if !talking {
		msg.Kind = proto.KindStopTalking
	}
	if partner != "" {
		msg.Target = partner
		msg.Kind = proto.KindStartPrivateTalk
		if !talking {
			msg.Kind = proto.KindStopPrivateTalk
		}
	}
	return c.write(msg)
}

// RequestPrivateChat asks the coordinator for an exclusive pairing with
// targetID. The outcome arrives as pairing-established or pairing-error.
func (c *Client) RequestPrivateChat(targetID string) error {
	c.mu.Lock()
	c.requested = targetID
	c.mu.Unlock()
	return c.write(proto.Message{Kind: proto.KindRequestPrivateChat, Target: targetID})
}

// EndPrivateChat dissolves the current pairing, if any.
func (c *Client) EndPrivateChat() error {
	return c.write(proto.Message{Kind: proto.KindEndPrivateChat})
}

// Self returns this endpoint's own participant record.
func (c *Client) Self() proto.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Partner returns the current private partner id, empty when unpaired.
func (c *Client) Partner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partner
}

// Peers returns the other known participants.
func (c *Client) Peers() []proto.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]proto.Participant, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	return out
}

// Sessions exposes the negotiation session manager.
func (c *Client) Sessions() *session.Manager { return c.sessions }

// RTT returns the last measured heartbeat round-trip time.
func (c *Client) RTT() time.Duration {
	return time.Duration(c.lastRTTMillis.Load()) * time.Millisecond
}

// Subscribe returns a channel receiving every message the client handles.
// Slow subscribers lose messages rather than stalling the read loop.
func (c *Client) Subscribe() (ch chan proto.Message, cancel func()) {
	ch = make(chan proto.Message, 64)
	c.listenerMu.Lock()
	c.listeners[ch] = struct{}{}
	c.listenerMu.Unlock()

	cancel = func() {
		c.listenerMu.Lock()
		if _, ok := c.listeners[ch]; ok {
			delete(c.listeners, ch)
			close(ch)
		}
		c.listenerMu.Unlock()
	}
	return ch, cancel
}

// Recent returns the retained event history, oldest first.
func (c *Client) Recent() []proto.Message {
	return c.history.Snapshot()
}

func (c *Client) notifyListeners(msg proto.Message) {
	c.history.Push(msg)
	c.listenerMu.RLock()
	for ch := range c.listeners {
		select {
		case ch <- msg:
		default:
		}
	}
	c.listenerMu.RUnlock()
}

// Close disconnects and tears down every session. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sessions.CloseAll()
		_ = c.ws.Close()

		c.listenerMu.Lock()
		for ch := range c.listeners {
			close(ch)
		}
		c.listeners = make(map[chan proto.Message]struct{})
		c.listenerMu.Unlock()
	})
}
