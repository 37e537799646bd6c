package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshri-humanz/talkie/internal/proto"
)

func TestOpenIsIdempotent(t *testing.T) {
	fx := newFixture()

	first, err := fx.mgr.Open("bob", proto.NamespaceOpen)
	require.NoError(t, err)
	second, err := fx.mgr.Open("bob", proto.NamespaceOpen)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, fx.transportCount())
	require.Len(t, fx.sig.ofKind(proto.KindOffer), 1, "one offer only")
}

func TestOpenReplacesClosedSession(t *testing.T) {
	fx := newFixture()

	first, err := fx.mgr.Open("bob", proto.NamespaceOpen)
	require.NoError(t, err)
	first.Close()

	second, err := fx.mgr.Open("bob", proto.NamespaceOpen)
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, StateOfferSent, second.State())
}

func TestOpenFactoryFailure(t *testing.T) {
	fx := newFixture()
	fx.failNext = true

	_, err := fx.mgr.Open("bob", proto.NamespaceOpen)
	require.Error(t, err)
	require.Empty(t, fx.mgr.Active())

	// The next attempt starts clean.
	_, err = fx.mgr.Open("bob", proto.NamespaceOpen)
	require.NoError(t, err)
}

func TestSignalsForUnknownSessions(t *testing.T) {
	fx := newFixture()

	err := fx.mgr.HandleSignal(proto.NamespaceOpen, proto.KindAnswer, "ghost", answerPayload)
	require.ErrorIs(t, err, ErrSessionNotFound)

	err = fx.mgr.HandleSignal(proto.NamespaceOpen, proto.KindCandidate, "ghost", candidatePayload(1))
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.Equal(t, 0, fx.transportCount(), "only offers create sessions")
}

func TestNamespaceIsolation(t *testing.T) {
	fx := newFixture()

	open, err := fx.mgr.Open("bob", proto.NamespaceOpen)
	require.NoError(t, err)
	private, err := fx.mgr.Open("bob", proto.NamespacePrivate)
	require.NoError(t, err)
	require.NotSame(t, open, private)

	// An answer in the private namespace must not advance the open session.
	require.NoError(t, fx.mgr.HandleSignal(proto.NamespacePrivate, proto.KindAnswer, "bob", answerPayload))
	require.Equal(t, StateEstablished, private.State())
	require.Equal(t, StateOfferSent, open.State())

	t.Run("closing one leaves the other", func(t *testing.T) {
		fx.mgr.Close("bob", proto.NamespacePrivate)
		require.Equal(t, StateClosed, private.State())
		require.Equal(t, StateOfferSent, open.State())
	})
}

func TestFailureIsolation(t *testing.T) {
	fx := newFixture()

	bob, err := fx.mgr.Open("bob", proto.NamespaceOpen)
	require.NoError(t, err)
	carol, err := fx.mgr.Open("carol", proto.NamespaceOpen)
	require.NoError(t, err)
	require.NoError(t, bob.HandleAnswer(answerPayload))
	require.NoError(t, carol.HandleAnswer(answerPayload))

	fx.transport(0).failCandidate = true
	require.Error(t, fx.mgr.HandleSignal(proto.NamespaceOpen, proto.KindCandidate, "bob", candidatePayload(1)))

	require.Equal(t, StateClosed, bob.State())
	require.Equal(t, StateEstablished, carol.State(), "unrelated session unharmed")
}

func TestClosePeer(t *testing.T) {
	fx := newFixture()

	open, _ := fx.mgr.Open("bob", proto.NamespaceOpen)
	private, _ := fx.mgr.Open("bob", proto.NamespacePrivate)
	other, _ := fx.mgr.Open("carol", proto.NamespaceOpen)

	fx.mgr.ClosePeer("bob")

	require.Equal(t, StateClosed, open.State())
	require.Equal(t, StateClosed, private.State())
	require.NotEqual(t, StateClosed, other.State())

	t.Run("close for an absent peer is a no-op", func(t *testing.T) {
		fx.mgr.ClosePeer("nobody")
	})
}

func TestCloseAll(t *testing.T) {
	fx := newFixture()

	a, _ := fx.mgr.Open("bob", proto.NamespaceOpen)
	b, _ := fx.mgr.Open("carol", proto.NamespacePrivate)

	fx.mgr.CloseAll()

	require.Equal(t, StateClosed, a.State())
	require.Equal(t, StateClosed, b.State())
	require.Empty(t, fx.mgr.Active())
	require.Equal(t, 1, fx.transport(0).closeCount())
	require.Equal(t, 1, fx.transport(1).closeCount())
}
