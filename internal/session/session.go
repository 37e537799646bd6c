// Package session drives one WebRTC negotiation per remote participant and
// namespace: exactly one offer, one answer, and any number of path
// candidates, buffered until the remote description lands. Sessions never
// share state; a failure closes the one session it hit and nothing else.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"

	"github.com/oshri-humanz/talkie/internal/proto"
)

var log = logging.Logger("talkie:session")

var (
	// ErrSessionNotFound reports an answer or candidate for a session that
	// was never opened or is already closed.
	ErrSessionNotFound = errors.New("session: no session for sender")
	// ErrSessionClosed reports an operation on a closed session.
	ErrSessionClosed = errors.New("session: closed")
)

// Role says which side of the negotiation this endpoint plays.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// State is the negotiation progress of one session.
type State int

const (
	StateNew State = iota
	StateOfferSent
	StateOfferReceived
	StateAnswerSent
	StateAnswerReceived
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferSent:
		return "offer-sent"
	case StateOfferReceived:
		return "offer-received"
	case StateAnswerSent:
		return "answer-sent"
	case StateAnswerReceived:
		return "answer-received"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one negotiation with one remote participant in one namespace.
type Session struct {
	remoteID string
	ns       proto.Namespace
	role     Role
	sig      Signaler

	closed atomic.Bool // readable without mu from candidate callbacks

	mu        sync.Mutex
	state     State
	transport Transport
	remoteSet bool
	pending   []json.RawMessage // candidates waiting for the remote description
}

func newSession(remoteID string, ns proto.Namespace, role Role, sig Signaler) *Session {
	return &Session{
		remoteID: remoteID,
		ns:       ns,
		role:     role,
		sig:      sig,
		state:    StateNew,
	}
}

func (s *Session) Remote() string             { return s.remoteID }
func (s *Session) Namespace() proto.Namespace { return s.ns }
func (s *Session) Role() Role                 { return s.role }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// start creates and sends the offer. Offerer side only.
func (s *Session) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNew {
		return fmt.Errorf("session %s/%s: start in state %s", s.ns, short(s.remoteID), s.state)
	}
	payload, err := s.transport.Offer()
	if err != nil {
		s.closeLocked()
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.sig.Signal(s.ns, proto.KindOffer, s.remoteID, payload); err != nil {
		s.closeLocked()
		return fmt.Errorf("send offer: %w", err)
	}
	s.state = StateOfferSent
	log.Debugf("%s/%s: offer sent", s.ns, short(s.remoteID))
	return nil
}

// HandleOffer applies the remote offer and answers it. Answerer side only;
// a second offer on a live session is ignored.
func (s *Session) HandleOffer(payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.state != StateNew {
		log.Debugf("%s/%s: duplicate offer in state %s, ignored", s.ns, short(s.remoteID), s.state)
		return nil
	}
	if err := s.applyRemoteLocked(payload); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	s.state = StateOfferReceived

	answer, err := s.transport.Answer()
	if err != nil {
		s.closeLocked()
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.sig.Signal(s.ns, proto.KindAnswer, s.remoteID, answer); err != nil {
		s.closeLocked()
		return fmt.Errorf("send answer: %w", err)
	}
	s.state = StateAnswerSent
	s.state = StateEstablished
	log.Debugf("%s/%s: answered, established", s.ns, short(s.remoteID))
	return nil
}

// HandleAnswer applies the remote answer. Offerer side only.
func (s *Session) HandleAnswer(payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.state != StateOfferSent {
		log.Debugf("%s/%s: answer in state %s, ignored", s.ns, short(s.remoteID), s.state)
		return nil
	}
	if err := s.applyRemoteLocked(payload); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	s.state = StateAnswerReceived
	s.state = StateEstablished
	log.Debugf("%s/%s: established", s.ns, short(s.remoteID))
	return nil
}

// HandleCandidate applies a remote path candidate, or buffers it when the
// remote description has not been applied yet. Candidates arriving after
// teardown are discarded.
func (s *Session) HandleCandidate(payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	if !s.remoteSet {
		s.pending = append(s.pending, payload)
		return nil
	}
	if err := s.transport.AddCandidate(payload); err != nil {
		s.closeLocked()
		return fmt.Errorf("apply candidate: %w", err)
	}
	return nil
}

// applyRemoteLocked applies the remote description and flushes any buffered
// candidates in their arrival order. Any failure closes the session.
func (s *Session) applyRemoteLocked(payload json.RawMessage) error {
	if err := s.transport.ApplyRemote(payload); err != nil {
		s.closeLocked()
		return err
	}
	s.remoteSet = true
	for _, cand := range s.pending {
		if err := s.transport.AddCandidate(cand); err != nil {
			s.closeLocked()
			return fmt.Errorf("flush candidate: %w", err)
		}
	}
	s.pending = nil
	return nil
}

// sendLocalCandidate forwards a locally discovered candidate to the remote
// side. Used as the transport's candidate callback; safe from any
// goroutine, silently dropped once the session is closed.
func (s *Session) sendLocalCandidate(payload json.RawMessage) {
	if s.closed.Load() {
		return
	}
	if err := s.sig.Signal(s.ns, proto.KindCandidate, s.remoteID, payload); err != nil {
		log.Debugf("%s/%s: candidate send failed: %v", s.ns, short(s.remoteID), err)
	}
}

// Close tears the session down. Idempotent; the transport is released
// exactly once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.closed.Store(true)
	s.pending = nil
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			log.Debugf("%s/%s: transport close: %v", s.ns, short(s.remoteID), err)
		}
	}
	log.Debugf("%s/%s: closed", s.ns, short(s.remoteID))
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
