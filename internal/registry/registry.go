// Package registry is the single authority over who is connected and who is
// privately paired with whom. All mutations go through one mutex, so every
// observer sees registry and pairing changes in one linear order.
package registry

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/oshri-humanz/talkie/internal/proto"
)

var log = logging.Logger("talkie:registry")

// Sink receives the presence and pairing messages the registry emits.
// Calls happen synchronously while the registry lock is held, so an
// implementation must only enqueue, never call back into the registry.
type Sink interface {
	// Send delivers a message to one connection.
	Send(id string, msg proto.Message)
	// Broadcast delivers a message to every connection except skip
	// (empty skip means everyone).
	Broadcast(skip string, msg proto.Message)
}

// record is the mutable state of one live connection.
type record struct {
	id         string
	name       string
	talking    bool
	pairedWith string // empty = unpaired
}

func (r *record) public() proto.Participant {
	return proto.Participant{
		ID:         r.id,
		Name:       r.name,
		Talking:    r.talking,
		PairedWith: r.pairedWith,
	}
}

// Registry owns one record per connected participant.
type Registry struct {
	mu      sync.Mutex
	sink    Sink
	records map[string]*record
	order   []string // insertion order for deterministic snapshots
}

func New(sink Sink) *Registry {
	return &Registry{
		sink:    sink,
		records: make(map[string]*record),
	}
}

// Register creates a record with a fresh id and default name and announces
// it to everyone already connected. The caller delivers the welcome once the
// new connection can receive directed messages.
func (r *Registry) Register() proto.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	rec := &record{id: id, name: "User " + id[:6]}
	r.records[id] = rec
	r.order = append(r.order, id)

	self := rec.public()
	log.Infof("registered %s as %q", short(id), rec.name)

	r.sink.Broadcast(id, proto.Message{
		Kind:        proto.KindParticipantJoined,
		Participant: &self,
	})
	return self
}

// Rename updates a participant's display name. A no-op when the id is
// unknown or the name is empty after trimming.
func (r *Registry) Rename(id, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return
	}
	rec.name = name
	p := rec.public()
	r.sink.Broadcast("", proto.Message{
		Kind:        proto.KindParticipantUpdated,
		Participant: &p,
	})
}

// SetTalking flips a participant's talking flag. The change is announced to
// every other connection in the open namespace, unless the participant is
// paired, in which case only the partner hears about it, scoped private.
func (r *Registry) SetTalking(id string, talking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return
	}
	rec.talking = talking

	msg := proto.Message{
		Kind:      proto.KindTalkingChanged,
		ID:        id,
		Talking:   talking,
		Namespace: proto.NamespaceOpen,
	}
	if rec.pairedWith != "" {
		msg.Namespace = proto.NamespacePrivate
		r.sink.Send(rec.pairedWith, msg)
		return
	}
	r.sink.Broadcast(id, msg)
}

// SetPrivateTalking is the pairing-guarded variant: it only takes effect
// when target is the participant's current partner, matching the original
// coordinator's guard against stale private-talking messages.
func (r *Registry) SetPrivateTalking(id, target string, talking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.pairedWith != target {
		return
	}
	rec.talking = talking
	r.sink.Send(target, proto.Message{
		Kind:      proto.KindTalkingChanged,
		ID:        id,
		Talking:   talking,
		Namespace: proto.NamespacePrivate,
	})
}

// Remove deletes a participant. An active pairing is torn down first so the
// partner ends up unpaired and notified; membership loss is always
// broadcast.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return
	}
	r.teardownOnDisconnectLocked(rec)

	delete(r.records, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Infof("removed %s", short(id))

	r.sink.Broadcast(id, proto.Message{
		Kind: proto.KindParticipantLeft,
		ID:   id,
	})
}

// Get returns the public record for id.
func (r *Registry) Get(id string) (proto.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return proto.Participant{}, false
	}
	return rec.public(), true
}

// PartnerOf returns the id of the participant's current private partner.
func (r *Registry) PartnerOf(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.pairedWith == "" {
		return "", false
	}
	return rec.pairedWith, true
}

// Snapshot returns all participants in insertion order.
func (r *Registry) Snapshot() []proto.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []proto.Participant {
	out := make([]proto.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id].public())
	}
	return out
}

// short truncates a connection id for log lines.
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
