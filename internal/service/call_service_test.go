package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-talk/internal/domain"
	"github.com/weiawesome/wes-io-talk/internal/presence"
	"github.com/weiawesome/wes-io-talk/pkg/pubsub"
)

func TestRequestCallOfflineCallee(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	pub := &recordingPublisher{}
	svc := NewCallService(reg, WithCallPublisher(pub))
	defer svc.Stop()

	alice := connect(reg, "alice")

	_, err := svc.RequestCall(ctx, "alice", "bob", "Alice")
	assert.ErrorIs(t, err, domain.ErrUserUnavailable)
	_, ok := svc.Session("alice", "bob")
	assert.False(t, ok)
	assert.Zero(t, alice.Count(domain.MsgTypeCallRinging))
	assert.Equal(t, []string{pubsub.EventCallFailed}, pub.Types())

	bob := connect(reg, "bob")
	session, err := svc.RequestCall(ctx, "alice", "bob", "Alice")
	require.NoError(t, err)
	assert.Equal(t, domain.CallRinging, session.State)

	var incoming domain.IncomingCallMessage
	require.True(t, bob.Last(domain.MsgTypeIncomingCall, &incoming))
	assert.Equal(t, "alice", incoming.CallerID)
	assert.Equal(t, "Alice", incoming.CallerName)
	assert.Equal(t, session.ID, incoming.CallID)

	var ringing domain.CallRingingMessage
	require.True(t, alice.Last(domain.MsgTypeCallRinging, &ringing))
	assert.Equal(t, "bob", ringing.CalleeID)
}

func TestRequestCallValidation(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	svc := NewCallService(reg)
	connect(reg, "alice")

	_, err := svc.RequestCall(ctx, "alice", "alice", "Alice")
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	_, err = svc.RequestCall(ctx, "alice", " ", "Alice")
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)
}

func TestRequestCallWhileSessionExists(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	svc := NewCallService(reg)
	connect(reg, "alice")
	connect(reg, "bob")

	_, err := svc.RequestCall(ctx, "alice", "bob", "Alice")
	require.NoError(t, err)

	_, err = svc.RequestCall(ctx, "bob", "alice", "Bob")
	assert.ErrorIs(t, err, domain.ErrAlreadyInCall)

	_, err = svc.RequestCall(ctx, "alice", "bob", "Alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyInCall)
}

func TestSimultaneousCallRequests(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	svc := NewCallService(reg)
	connect(reg, "alice")
	connect(reg, "bob")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		busy      int
	)
	call := func(caller, callee string) {
		defer wg.Done()
		_, err := svc.RequestCall(ctx, caller, callee, caller)
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			succeeded++
		} else if assert.ErrorIs(t, err, domain.ErrAlreadyInCall) {
			busy++
		}
	}
	wg.Add(2)
	go call("alice", "bob")
	go call("bob", "alice")
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, busy)
}

func TestAcceptAndEndCall(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	pub := &recordingPublisher{}
	svc := NewCallService(reg, WithCallPublisher(pub))
	alice := connect(reg, "alice")
	bob := connect(reg, "bob")

	session, err := svc.RequestCall(ctx, "alice", "bob", "Alice")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.AcceptCall(ctx, "alice", "bob"), domain.ErrForbidden)

	require.NoError(t, svc.AcceptCall(ctx, "bob", "alice"))
	var accepted domain.CallAcceptedMessage
	require.True(t, alice.Last(domain.MsgTypeCallAccepted, &accepted))
	assert.Equal(t, session.ID, accepted.CallID)
	assert.Equal(t, "bob", accepted.By)

	current, ok := svc.Session("bob", "alice")
	require.True(t, ok)
	assert.Equal(t, domain.CallActive, current.State)
	assert.False(t, current.AnsweredAt.IsZero())

	assert.ErrorIs(t, svc.AcceptCall(ctx, "bob", "alice"), domain.ErrInvalidTransition)

	require.NoError(t, svc.EndCall(ctx, "bob", "alice"))
	var ended domain.CallEndedMessage
	require.True(t, alice.Last(domain.MsgTypeCallEnded, &ended))
	assert.Equal(t, "bob", ended.By)
	assert.Equal(t, domain.EndReasonHangup, ended.Reason)
	assert.Zero(t, bob.Count(domain.MsgTypeCallEnded))

	_, ok = svc.Session("alice", "bob")
	assert.False(t, ok)

	assert.Equal(t, []string{
		pubsub.EventCallRinging,
		pubsub.EventCallAccepted,
		pubsub.EventCallEnded,
	}, pub.Types())
}

func TestAcceptWithoutSession(t *testing.T) {
	svc := NewCallService(presence.NewRegistry())
	assert.ErrorIs(t, svc.AcceptCall(context.Background(), "bob", "alice"), domain.ErrNotFound)
}

func TestRejectCall(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	svc := NewCallService(reg)
	alice := connect(reg, "alice")
	connect(reg, "bob")

	// nothing to reject
	require.NoError(t, svc.RejectCall(ctx, "bob", "alice"))
	assert.Zero(t, alice.Count(domain.MsgTypeCallRejected))

	_, err := svc.RequestCall(ctx, "alice", "bob", "Alice")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.RejectCall(ctx, "alice", "bob"), domain.ErrForbidden)

	require.NoError(t, svc.RejectCall(ctx, "bob", "alice"))
	var rejected domain.CallRejectedMessage
	require.True(t, alice.Last(domain.MsgTypeCallRejected, &rejected))
	assert.Equal(t, "bob", rejected.By)

	_, ok := svc.Session("alice", "bob")
	assert.False(t, ok)

	_, err = svc.RequestCall(ctx, "bob", "alice", "Bob")
	assert.NoError(t, err)
}

func TestEndUnknownCallIsNoop(t *testing.T) {
	reg := presence.NewRegistry()
	svc := NewCallService(reg)
	alice := connect(reg, "alice")

	require.NoError(t, svc.EndCall(context.Background(), "bob", "alice"))
	assert.Empty(t, alice.Types())
}

func TestParticipantLeftDuringRinging(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	svc := NewCallService(reg)
	alice := connect(reg, "alice")
	bob := connect(reg, "bob")

	_, err := svc.RequestCall(ctx, "alice", "bob", "Alice")
	require.NoError(t, err)

	require.True(t, reg.Unregister(bob))
	svc.ParticipantLeft(ctx, "bob")

	var ended domain.CallEndedMessage
	require.True(t, alice.Last(domain.MsgTypeCallEnded, &ended))
	assert.Equal(t, "bob", ended.By)
	assert.Equal(t, domain.EndReasonDisconnect, ended.Reason)

	_, ok := svc.Session("alice", "bob")
	assert.False(t, ok)

	bob = connect(reg, "bob")
	_, err = svc.RequestCall(ctx, "alice", "bob", "Alice")
	require.NoError(t, err)
	require.NoError(t, svc.AcceptCall(ctx, "bob", "alice"))
	assert.Equal(t, 1, bob.Count(domain.MsgTypeIncomingCall))
}

func TestParticipantLeftEndsEveryCall(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	svc := NewCallService(reg)
	alice := connect(reg, "alice")
	bob := connect(reg, "bob")
	carol := connect(reg, "carol")

	_, err := svc.RequestCall(ctx, "alice", "bob", "Alice")
	require.NoError(t, err)
	_, err = svc.RequestCall(ctx, "carol", "alice", "Carol")
	require.NoError(t, err)
	require.NoError(t, svc.AcceptCall(ctx, "alice", "carol"))

	reg.Unregister(alice)
	svc.ParticipantLeft(ctx, "alice")

	assert.Equal(t, 1, bob.Count(domain.MsgTypeCallEnded))
	assert.Equal(t, 1, carol.Count(domain.MsgTypeCallEnded))
	_, ok := svc.Session("alice", "bob")
	assert.False(t, ok)
	_, ok = svc.Session("alice", "carol")
	assert.False(t, ok)

	// a user with no calls is ignored
	svc.ParticipantLeft(ctx, "nobody")
}

func TestStaleParticipantLeftKeepsCallsAfterReconnect(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	svc := NewCallService(reg)
	oldAlice := connect(reg, "alice")
	bob := connect(reg, "bob")

	require.True(t, reg.Unregister(oldAlice))
	connect(reg, "alice")

	_, err := svc.RequestCall(ctx, "alice", "bob", "Alice")
	require.NoError(t, err)

	// the old connection's departure arrives after the reconnect
	svc.ParticipantLeft(ctx, "alice")

	session, ok := svc.Session("alice", "bob")
	require.True(t, ok)
	assert.Equal(t, domain.CallRinging, session.State)
	assert.Zero(t, bob.Count(domain.MsgTypeCallEnded))
}

func TestRingTimeout(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	svc := NewCallService(reg, WithRingTimeout(20*time.Millisecond))
	defer svc.Stop()
	alice := connect(reg, "alice")
	bob := connect(reg, "bob")

	_, err := svc.RequestCall(ctx, "alice", "bob", "Alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := svc.Session("alice", "bob")
		return !ok
	}, time.Second, 5*time.Millisecond)

	var ended domain.CallEndedMessage
	require.True(t, alice.Last(domain.MsgTypeCallEnded, &ended))
	assert.Equal(t, domain.EndReasonTimeout, ended.Reason)
	require.True(t, bob.Last(domain.MsgTypeCallEnded, &ended))
	assert.Equal(t, domain.EndReasonTimeout, ended.Reason)
}

func TestAcceptedCallIgnoresRingTimeout(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry()
	svc := NewCallService(reg, WithRingTimeout(20*time.Millisecond))
	defer svc.Stop()
	alice := connect(reg, "alice")
	connect(reg, "bob")

	_, err := svc.RequestCall(ctx, "alice", "bob", "Alice")
	require.NoError(t, err)
	require.NoError(t, svc.AcceptCall(ctx, "bob", "alice"))

	time.Sleep(60 * time.Millisecond)

	session, ok := svc.Session("alice", "bob")
	require.True(t, ok)
	assert.Equal(t, domain.CallActive, session.State)
	assert.Zero(t, alice.Count(domain.MsgTypeCallEnded))
}
