// Package proto defines the wire protocol between the talkie coordinator
// and its endpoints: one JSON Message per websocket text frame, tagged by
// Kind so dispatch switches stay exhaustive.
package proto

import (
	"encoding/json"
	"time"
)

// Namespace scopes a signaling or talking message.
// Open messages belong to the mesh every participant shares; private
// messages belong to exactly one exclusive pairing.
type Namespace string

const (
	NamespaceOpen    Namespace = "open"
	NamespacePrivate Namespace = "private"
)

// Kind discriminates the Message union.
type Kind string

// Endpoint → coordinator.
const (
	KindSetName            Kind = "set-name"
	KindStartTalking       Kind = "start-talking"
	KindStopTalking        Kind = "stop-talking"
	KindRequestPrivateChat Kind = "request-private-chat"
	KindEndPrivateChat     Kind = "end-private-chat"
	KindStartPrivateTalk   Kind = "start-private-talking"
	KindStopPrivateTalk    Kind = "stop-private-talking"
	KindHeartbeat          Kind = "heartbeat"
)

// Both directions: relayed unmodified except for the sender stamp.
const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

// Coordinator → endpoint.
const (
	KindWelcome            Kind = "welcome"
	KindPresenceSnapshot   Kind = "presence-snapshot"
	KindParticipantJoined  Kind = "participant-joined"
	KindParticipantLeft    Kind = "participant-left"
	KindParticipantUpdated Kind = "participant-updated"
	KindTalkingChanged     Kind = "talking-changed"
	KindPairingEstablished Kind = "pairing-established"
	KindPairingEnded       Kind = "pairing-ended"
	KindPairingError       Kind = "pairing-error"
	KindHeartbeatAck       Kind = "heartbeat-ack"
)

// Pairing error reasons carried by pairing-error messages.
const (
	ReasonUnknownTarget = "unknown-target"
	ReasonTargetBusy    = "target-busy"
	ReasonRequesterBusy = "requester-busy"
)

// Participant is the public record of one live connection.
type Participant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Talking    bool   `json:"talking"`
	PairedWith string `json:"pairedWith,omitempty"`
}

// Message is the tagged union that flows over the wire. Only the fields
// relevant to the Kind are populated; the rest stay at their zero value and
// are omitted from the JSON.
type Message struct {
	Kind      Kind      `json:"kind"`
	Namespace Namespace `json:"namespace,omitempty"`

	// Addressing for relayed signaling. Target is set by the sender;
	// Sender is stamped by the coordinator before delivery.
	Target string `json:"target,omitempty"`
	Sender string `json:"sender,omitempty"`

	// Opaque negotiation payload (SDP or ICE candidate). Never inspected
	// by the coordinator.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Presence fields.
	Name         string        `json:"name,omitempty"`
	ID           string        `json:"id,omitempty"`
	Talking      bool          `json:"talking,omitempty"`
	Self         *Participant  `json:"self,omitempty"`
	Participant  *Participant  `json:"participant,omitempty"`
	Participants []Participant `json:"participants,omitempty"`

	// Pairing error reason.
	Reason string `json:"reason,omitempty"`

	// Heartbeat timestamps (Unix millis).
	Timestamp  int64 `json:"timestamp,omitempty"`
	ServerTime int64 `json:"serverTime,omitempty"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }
