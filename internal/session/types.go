package session

import (
	"encoding/json"

	"github.com/oshri-humanz/talkie/internal/proto"
)

// Signaler is the only surface the session package needs from the wire
// layer: it carries outbound negotiation messages to the coordinator, which
// relays them to the addressed remote participant.
type Signaler interface {
	Signal(ns proto.Namespace, kind proto.Kind, target string, payload json.RawMessage) error
}

// Transport is the underlying peer media transport for one session. The
// descriptions and candidates stay opaque JSON at this boundary; only the
// transport knows how to interpret them.
type Transport interface {
	// Offer creates and applies the local offer description.
	Offer() (json.RawMessage, error)
	// Answer creates and applies the local answer description. The remote
	// offer must have been applied first.
	Answer() (json.RawMessage, error)
	// ApplyRemote applies the remote session description.
	ApplyRemote(payload json.RawMessage) error
	// AddCandidate applies one remote path candidate. Only valid after
	// ApplyRemote.
	AddCandidate(payload json.RawMessage) error
	// Close releases the transport. Must tolerate repeated calls.
	Close() error
}

// TransportFactory builds the transport for a new session. onCandidate is
// called once per locally discovered path candidate, possibly from the
// transport's own goroutines.
type TransportFactory func(onCandidate func(json.RawMessage)) (Transport, error)
