package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oshri-humanz/talkie/internal/proto"
)

// key identifies one negotiation: at most one live session may exist per
// (remote participant, namespace) pair.
type key struct {
	remote string
	ns     proto.Namespace
}

// Manager owns every negotiation session of one endpoint and routes inbound
// signaling to the right one. Sessions for distinct keys progress fully
// independently.
type Manager struct {
	sig     Signaler
	factory TransportFactory

	mu       sync.Mutex
	sessions map[key]*Session
}

func NewManager(sig Signaler, factory TransportFactory) *Manager {
	return &Manager{
		sig:      sig,
		factory:  factory,
		sessions: make(map[key]*Session),
	}
}

// Open starts (or returns) the offerer session toward remoteID in ns.
// Idempotent: a live session for the key is returned untouched, so a
// duplicate discovery event cannot race a second negotiation into being.
func (m *Manager) Open(remoteID string, ns proto.Namespace) (*Session, error) {
	m.mu.Lock()
	k := key{remote: remoteID, ns: ns}
	if s, ok := m.sessions[k]; ok && s.State() != StateClosed {
		m.mu.Unlock()
		return s, nil
	}

	s, err := m.createLocked(k, RoleOfferer)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

// HandleSignal routes one relayed negotiation message from the coordinator.
// An offer lazily creates the answerer session; answers and candidates for
// unknown sessions report ErrSessionNotFound. Errors terminate only the
// session they hit.
func (m *Manager) HandleSignal(ns proto.Namespace, kind proto.Kind, senderID string, payload json.RawMessage) error {
	switch kind {
	case proto.KindOffer:
		s, err := m.answerer(senderID, ns)
		if err != nil {
			return err
		}
		return s.HandleOffer(payload)
	case proto.KindAnswer:
		s, ok := m.lookup(senderID, ns)
		if !ok {
			return ErrSessionNotFound
		}
		return s.HandleAnswer(payload)
	case proto.KindCandidate:
		s, ok := m.lookup(senderID, ns)
		if !ok {
			return ErrSessionNotFound
		}
		return s.HandleCandidate(payload)
	default:
		return fmt.Errorf("session: not a signaling kind: %q", kind)
	}
}

// answerer returns the live session for the key, creating it in the
// answerer role when none exists. A closed leftover is replaced.
func (m *Manager) answerer(remoteID string, ns proto.Namespace) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{remote: remoteID, ns: ns}
	if s, ok := m.sessions[k]; ok && s.State() != StateClosed {
		return s, nil
	}
	return m.createLocked(k, RoleAnswerer)
}

func (m *Manager) createLocked(k key, role Role) (*Session, error) {
	s := newSession(k.remote, k.ns, role, m.sig)
	tr, err := m.factory(s.sendLocalCandidate)
	if err != nil {
		return nil, fmt.Errorf("session transport: %w", err)
	}
	s.transport = tr
	m.sessions[k] = s
	log.Debugf("%s/%s: session created as %s", k.ns, short(k.remote), role)
	return s, nil
}

func (m *Manager) lookup(remoteID string, ns proto.Namespace) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key{remote: remoteID, ns: ns}]
	return s, ok
}

// Get returns the session for the key, if any.
func (m *Manager) Get(remoteID string, ns proto.Namespace) (*Session, bool) {
	return m.lookup(remoteID, ns)
}

// Close tears down the session for one key. A no-op when none exists.
func (m *Manager) Close(remoteID string, ns proto.Namespace) {
	m.mu.Lock()
	k := key{remote: remoteID, ns: ns}
	s, ok := m.sessions[k]
	if ok {
		delete(m.sessions, k)
	}
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// ClosePeer tears down every session with one remote participant, in both
// namespaces. Called when the peer leaves.
func (m *Manager) ClosePeer(remoteID string) {
	m.Close(remoteID, proto.NamespaceOpen)
	m.Close(remoteID, proto.NamespacePrivate)
}

// CloseAll tears down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[key]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Active returns the live (non-closed) sessions.
func (m *Manager) Active() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.State() != StateClosed {
			out = append(out, s)
		}
	}
	return out
}
