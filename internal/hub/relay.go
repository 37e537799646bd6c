package hub

import (
	"encoding/json"

	"github.com/oshri-humanz/talkie/internal/proto"
)

// relay forwards one negotiation message to its addressed target, stamping
// the sender id on the way through. The payload is never inspected and the
// pairing state is deliberately not checked; each endpoint's session
// manager ignores signals from peers it is not negotiating with.
//
// Fire-and-forget courier: a vanished target means the message is dropped
// with no error back to the sender.
func (h *Hub) relay(ns proto.Namespace, kind proto.Kind, senderID, targetID string, payload json.RawMessage) {
	if ns == "" {
		ns = proto.NamespaceOpen
	}

	h.mu.RLock()
	c := h.conns[targetID]
	h.mu.RUnlock()

	if c == nil {
		log.Debugf("relay: %s/%s from %s to unknown target, dropped", ns, kind, senderID)
		return
	}
	c.enqueue(proto.Message{
		Kind:      kind,
		Namespace: ns,
		Sender:    senderID,
		Payload:   payload,
	})
}
