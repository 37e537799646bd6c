package registry

import (
	"errors"

	"github.com/oshri-humanz/talkie/internal/proto"
)

// Pairing state machine errors. Each is also reported to the requester as a
// pairing-error message; the error return exists for callers and tests.
var (
	ErrUnknownTarget = errors.New("pairing: target is not a live participant")
	ErrTargetBusy    = errors.New("pairing: target is already paired")
	ErrRequesterBusy = errors.New("pairing: requester is already paired")
)

// RequestPairing pairs requester with target. The pairing relation stays a
// perfect matching: a participant who is already paired cannot acquire a
// second partner from either side of the request. Both checks and the state
// change happen under one lock, so concurrent requests for the same target
// resolve with exactly one winner.
//
// On success both sides receive pairing-established with the partner's
// record and everyone gets a fresh snapshot. On failure only the requester
// is told, as a pairing-error.
func (r *Registry) RequestPairing(requesterID, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	requester, ok := r.records[requesterID]
	if !ok {
		return ErrUnknownTarget
	}

	target, ok := r.records[targetID]
	if !ok || targetID == requesterID {
		r.rejectLocked(requesterID, proto.ReasonUnknownTarget)
		return ErrUnknownTarget
	}
	if requester.pairedWith != "" {
		r.rejectLocked(requesterID, proto.ReasonRequesterBusy)
		return ErrRequesterBusy
	}
	if target.pairedWith != "" {
		r.rejectLocked(requesterID, proto.ReasonTargetBusy)
		return ErrTargetBusy
	}

	requester.pairedWith = targetID
	target.pairedWith = requesterID
	log.Infof("paired %s with %s", short(requesterID), short(targetID))

	targetPub := target.public()
	requesterPub := requester.public()
	r.sink.Send(requesterID, proto.Message{
		Kind:        proto.KindPairingEstablished,
		Participant: &targetPub,
	})
	r.sink.Send(targetID, proto.Message{
		Kind:        proto.KindPairingEstablished,
		Participant: &requesterPub,
	})
	r.sink.Broadcast("", proto.Message{
		Kind:         proto.KindPresenceSnapshot,
		Participants: r.snapshotLocked(),
	})
	return nil
}

// EndPairing dissolves the requester's pairing. A no-op when the requester
// is unknown or unpaired. Both sides receive pairing-ended and everyone
// gets a fresh snapshot.
func (r *Registry) EndPairing(requesterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	requester, ok := r.records[requesterID]
	if !ok || requester.pairedWith == "" {
		return
	}
	partnerID := requester.pairedWith
	requester.pairedWith = ""
	if partner, ok := r.records[partnerID]; ok {
		partner.pairedWith = ""
	}
	log.Infof("unpaired %s and %s", short(requesterID), short(partnerID))

	r.sink.Send(requesterID, proto.Message{Kind: proto.KindPairingEnded})
	r.sink.Send(partnerID, proto.Message{Kind: proto.KindPairingEnded})
	r.sink.Broadcast("", proto.Message{
		Kind:         proto.KindPresenceSnapshot,
		Participants: r.snapshotLocked(),
	})
}

// teardownOnDisconnectLocked clears the partner of a departing participant.
// The partner receives exactly one pairing-ended; the departing side is
// gone and receives nothing.
func (r *Registry) teardownOnDisconnectLocked(departing *record) {
	if departing.pairedWith == "" {
		return
	}
	partnerID := departing.pairedWith
	departing.pairedWith = ""
	if partner, ok := r.records[partnerID]; ok {
		partner.pairedWith = ""
		r.sink.Send(partnerID, proto.Message{Kind: proto.KindPairingEnded})
	}
}

func (r *Registry) rejectLocked(requesterID, reason string) {
	r.sink.Send(requesterID, proto.Message{
		Kind:   proto.KindPairingError,
		Reason: reason,
	})
}
