package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/oshri-humanz/talkie/internal/proto"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := New("127.0.0.1:0")
	require.NoError(t, h.Start(ctx))
	return h
}

// dial connects and consumes the welcome, returning both.
func dial(t *testing.T, h *Hub) (*websocket.Conn, proto.Message) {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+h.Addr()+"/ws", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws, readKind(t, ws, proto.KindWelcome)
}

// readKind reads frames until one of the wanted kind arrives.
func readKind(t *testing.T, ws *websocket.Conn, kind proto.Kind) proto.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	defer ws.SetReadDeadline(time.Time{})
	for {
		var msg proto.Message
		require.NoError(t, ws.ReadJSON(&msg), "waiting for %s", kind)
		if msg.Kind == kind {
			return msg
		}
	}
}

// readNext reads exactly one frame.
func readNext(t *testing.T, ws *websocket.Conn) proto.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	defer ws.SetReadDeadline(time.Time{})
	var msg proto.Message
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func send(t *testing.T, ws *websocket.Conn, msg proto.Message) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(msg))
}

func TestWelcomeAndPresence(t *testing.T) {
	h := startHub(t)

	ws1, welcome1 := dial(t, h)
	require.NotNil(t, welcome1.Self)
	require.NotEmpty(t, welcome1.Self.ID)
	require.Equal(t, "User "+welcome1.Self.ID[:6], welcome1.Self.Name)
	require.Len(t, welcome1.Participants, 1, "alone at first")

	_, welcome2 := dial(t, h)
	require.Len(t, welcome2.Participants, 2, "newcomer sees existing members")

	joined := readKind(t, ws1, proto.KindParticipantJoined)
	require.Equal(t, welcome2.Self.ID, joined.Participant.ID)

	t.Run("rename reaches everyone", func(t *testing.T) {
		send(t, ws1, proto.Message{Kind: proto.KindSetName, Name: "Alice"})
		updated := readKind(t, ws1, proto.KindParticipantUpdated)
		require.Equal(t, "Alice", updated.Participant.Name)
	})
}

func TestRelayStampsSender(t *testing.T) {
	h := startHub(t)
	ws1, welcome1 := dial(t, h)
	ws2, welcome2 := dial(t, h)

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	send(t, ws1, proto.Message{
		Kind:    proto.KindOffer,
		Target:  welcome2.Self.ID,
		Payload: payload,
	})

	got := readKind(t, ws2, proto.KindOffer)
	require.Equal(t, welcome1.Self.ID, got.Sender, "coordinator stamps the sender")
	require.Empty(t, got.Target)
	require.Equal(t, proto.NamespaceOpen, got.Namespace, "namespace defaults to open")
	require.JSONEq(t, string(payload), string(got.Payload), "payload passes through untouched")

	t.Run("private namespace is preserved", func(t *testing.T) {
		send(t, ws2, proto.Message{
			Kind:      proto.KindCandidate,
			Namespace: proto.NamespacePrivate,
			Target:    welcome1.Self.ID,
			Payload:   json.RawMessage(`{"candidate":"c0"}`),
		})
		got := readKind(t, ws1, proto.KindCandidate)
		require.Equal(t, proto.NamespacePrivate, got.Namespace)
		require.Equal(t, welcome2.Self.ID, got.Sender)
	})
}

func TestRelayToUnknownTargetIsSilent(t *testing.T) {
	h := startHub(t)
	ws, _ := dial(t, h)

	send(t, ws, proto.Message{
		Kind:    proto.KindOffer,
		Target:  "no-such-participant",
		Payload: json.RawMessage(`{}`),
	})

	// The connection stays healthy and nothing bounces back: the next frame
	// we see is the ack to our own heartbeat.
	send(t, ws, proto.Message{Kind: proto.KindHeartbeat, Timestamp: 42})
	next := readNext(t, ws)
	require.Equal(t, proto.KindHeartbeatAck, next.Kind)
}

func TestHeartbeatAck(t *testing.T) {
	h := startHub(t)
	ws, _ := dial(t, h)

	sent := proto.NowMillis()
	send(t, ws, proto.Message{Kind: proto.KindHeartbeat, Timestamp: sent})

	ack := readKind(t, ws, proto.KindHeartbeatAck)
	require.Equal(t, sent, ack.Timestamp, "client timestamp echoed for RTT")
	require.GreaterOrEqual(t, ack.ServerTime, sent)
}

func TestTalkingOverWire(t *testing.T) {
	h := startHub(t)
	ws1, welcome1 := dial(t, h)
	ws2, _ := dial(t, h)
	readKind(t, ws1, proto.KindParticipantJoined)

	send(t, ws1, proto.Message{Kind: proto.KindStartTalking})
	got := readKind(t, ws2, proto.KindTalkingChanged)
	require.Equal(t, welcome1.Self.ID, got.ID)
	require.True(t, got.Talking)
	require.Equal(t, proto.NamespaceOpen, got.Namespace)

	send(t, ws1, proto.Message{Kind: proto.KindStopTalking})
	got = readKind(t, ws2, proto.KindTalkingChanged)
	require.False(t, got.Talking)
}

func TestPairingOverWire(t *testing.T) {
	h := startHub(t)
	ws1, welcome1 := dial(t, h)
	ws2, welcome2 := dial(t, h)
	ws3, welcome3 := dial(t, h)

	send(t, ws1, proto.Message{Kind: proto.KindRequestPrivateChat, Target: welcome2.Self.ID})

	est1 := readKind(t, ws1, proto.KindPairingEstablished)
	require.Equal(t, welcome2.Self.ID, est1.Participant.ID)
	est2 := readKind(t, ws2, proto.KindPairingEstablished)
	require.Equal(t, welcome1.Self.ID, est2.Participant.ID)

	snap := readKind(t, ws3, proto.KindPresenceSnapshot)
	require.Len(t, snap.Participants, 3)

	t.Run("third party bounces off a busy target", func(t *testing.T) {
		send(t, ws3, proto.Message{Kind: proto.KindRequestPrivateChat, Target: welcome2.Self.ID})
		errMsg := readKind(t, ws3, proto.KindPairingError)
		require.Equal(t, proto.ReasonTargetBusy, errMsg.Reason)
	})

	t.Run("busy requester is refused", func(t *testing.T) {
		send(t, ws1, proto.Message{Kind: proto.KindRequestPrivateChat, Target: welcome3.Self.ID})
		errMsg := readKind(t, ws1, proto.KindPairingError)
		require.Equal(t, proto.ReasonRequesterBusy, errMsg.Reason)
	})

	t.Run("disconnect frees the partner", func(t *testing.T) {
		require.NoError(t, ws1.Close())

		ended := readKind(t, ws2, proto.KindPairingEnded)
		require.Equal(t, proto.KindPairingEnded, ended.Kind)
		left := readKind(t, ws2, proto.KindParticipantLeft)
		require.Equal(t, welcome1.Self.ID, left.ID)
	})
}
