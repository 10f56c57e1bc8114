package handler

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-talk/internal/auth"
	"github.com/weiawesome/wes-io-talk/internal/config"
	"github.com/weiawesome/wes-io-talk/internal/domain"
	"github.com/weiawesome/wes-io-talk/internal/presence"
	"github.com/weiawesome/wes-io-talk/internal/repository"
	"github.com/weiawesome/wes-io-talk/internal/service"
	"github.com/weiawesome/wes-io-talk/pkg/log"
)

var testWSConfig = config.WebSocketConfig{
	PingInterval:   time.Minute,
	PongWait:       time.Minute,
	WriteWait:      time.Second,
	MaxMessageSize: 1 << 20,
	SendBuffer:     64,
}

type testServer struct {
	srv      *httptest.Server
	engine   *gin.Engine
	registry *presence.Registry
	calls    service.CallService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log.Nop()

	reg := presence.NewRegistry()
	delivery := service.NewDeliveryService(repository.NewMemoryMessageRepository(), reg)
	calls := service.NewCallService(reg)
	authenticator := auth.QueryAuthenticator{}

	r := gin.New()
	NewWSHandler(reg, delivery, calls, authenticator, nil, testWSConfig).RegisterRoutes(r)
	NewHTTPHandler(delivery, reg).RegisterRoutes(r, auth.RequireAuth(authenticator))
	NewICEHandler(config.WebRTCConfig{}).RegisterRoutes(r, auth.RequireAuth(authenticator))

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		calls.Stop()
	})
	return &testServer{srv: srv, engine: r, registry: reg, calls: calls}
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials as userID and waits until the registry has the connection.
func (s *testServer) connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn := s.dial(t, "?user_id="+userID)
	require.Eventually(t, func() bool { return s.registry.IsOnline(userID) }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readType skips frames until one of msgType arrives and decodes it into v.
func readType(t *testing.T, conn *websocket.Conn, msgType string, v interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)

		var base domain.BaseMessage
		require.NoError(t, json.Unmarshal(data, &base))
		if base.Type == msgType {
			require.NoError(t, json.Unmarshal(data, v))
			return
		}
	}
}

func TestUnauthenticatedConnectionIsClosed(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "")

	var errMsg domain.ErrorMessage
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Equal(t, domain.MsgTypeError, errMsg.Type)
	assert.Equal(t, domain.ErrCodeUnauthenticated, errMsg.Code)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Zero(t, s.registry.Count())
}

func TestPresenceListBroadcast(t *testing.T) {
	s := newTestServer(t)
	alice := s.connect(t, "alice")

	var list domain.PresenceListMessage
	readType(t, alice, domain.MsgTypePresenceList, &list)
	assert.Equal(t, []string{"alice"}, list.UserIDs)

	bob := s.connect(t, "bob")
	readType(t, alice, domain.MsgTypePresenceList, &list)
	assert.Equal(t, []string{"alice", "bob"}, list.UserIDs)

	bob.Close()
	readType(t, alice, domain.MsgTypePresenceList, &list)
	assert.Equal(t, []string{"alice"}, list.UserIDs)
}

func TestMessageSendAndRecall(t *testing.T) {
	s := newTestServer(t)
	alice := s.connect(t, "alice")
	bob := s.connect(t, "bob")

	send(t, alice, domain.MessageSendMessage{Type: domain.MsgTypeMessageSend, ReceiverID: "bob", Text: "hi"})

	var sent domain.MessageEvent
	readType(t, alice, domain.MsgTypeMessageSent, &sent)
	require.NotNil(t, sent.Message)

	var received domain.MessageEvent
	readType(t, bob, domain.MsgTypeNewMessage, &received)
	require.NotNil(t, received.Message.Text)
	assert.Equal(t, "hi", *received.Message.Text)
	assert.False(t, received.Message.IsRecalled)
	assert.Equal(t, sent.Message.ID, received.Message.ID)

	send(t, bob, domain.MessageRecallMessage{Type: domain.MsgTypeMessageRecall, MessageID: sent.Message.ID})
	var denied domain.ErrorMessage
	readType(t, bob, domain.MsgTypeError, &denied)
	assert.Equal(t, domain.ErrCodeForbidden, denied.Code)
	assert.Equal(t, domain.MsgTypeMessageRecall, denied.Request)

	send(t, alice, domain.MessageRecallMessage{Type: domain.MsgTypeMessageRecall, MessageID: sent.Message.ID})
	var ack domain.MessageEvent
	readType(t, alice, domain.MsgTypeMessageRecalled, &ack)
	assert.True(t, ack.Message.IsRecalled)

	var recalled domain.MessageEvent
	readType(t, bob, domain.MsgTypeMessageRecalled, &recalled)
	assert.True(t, recalled.Message.IsRecalled)
	assert.Nil(t, recalled.Message.Text)
	assert.Nil(t, recalled.Message.Image)
}

func TestCallToOfflineUserThenDisconnectDuringRinging(t *testing.T) {
	s := newTestServer(t)
	alice := s.connect(t, "alice")

	request := domain.CallRequestMessage{Type: domain.MsgTypeCallRequest, CalleeID: "bob", CallerName: "Alice"}
	send(t, alice, request)

	var unavailable domain.ErrorMessage
	readType(t, alice, domain.MsgTypeError, &unavailable)
	assert.Equal(t, domain.ErrCodeUserUnavailable, unavailable.Code)
	assert.Equal(t, domain.MsgTypeCallRequest, unavailable.Request)

	bob := s.connect(t, "bob")
	send(t, alice, request)

	var incoming domain.IncomingCallMessage
	readType(t, bob, domain.MsgTypeIncomingCall, &incoming)
	assert.Equal(t, "alice", incoming.CallerID)
	assert.Equal(t, "Alice", incoming.CallerName)

	bob.Close()

	var ended domain.CallEndedMessage
	readType(t, alice, domain.MsgTypeCallEnded, &ended)
	assert.Equal(t, incoming.CallID, ended.CallID)
	assert.Equal(t, domain.EndReasonDisconnect, ended.Reason)

	bob = s.connect(t, "bob")
	send(t, alice, request)
	readType(t, bob, domain.MsgTypeIncomingCall, &incoming)
	assert.Equal(t, "alice", incoming.CallerID)
}

func TestCallAcceptAndHangup(t *testing.T) {
	s := newTestServer(t)
	alice := s.connect(t, "alice")
	bob := s.connect(t, "bob")

	send(t, alice, domain.CallRequestMessage{Type: domain.MsgTypeCallRequest, CalleeID: "bob"})

	var incoming domain.IncomingCallMessage
	readType(t, bob, domain.MsgTypeIncomingCall, &incoming)
	assert.Equal(t, "alice", incoming.CallerName)

	send(t, bob, domain.CallAcceptMessage{Type: domain.MsgTypeCallAccept, CallerID: "alice"})
	var accepted domain.CallAcceptedMessage
	readType(t, alice, domain.MsgTypeCallAccepted, &accepted)
	assert.Equal(t, "bob", accepted.By)

	send(t, alice, domain.CallRequestMessage{Type: domain.MsgTypeCallRequest, CalleeID: "bob"})
	var busy domain.ErrorMessage
	readType(t, alice, domain.MsgTypeError, &busy)
	assert.Equal(t, domain.ErrCodeAlreadyInCall, busy.Code)

	send(t, alice, domain.CallEndMessage{Type: domain.MsgTypeCallEnd, OtherPartyID: "bob"})
	var ended domain.CallEndedMessage
	readType(t, bob, domain.MsgTypeCallEnded, &ended)
	assert.Equal(t, domain.EndReasonHangup, ended.Reason)
	assert.Equal(t, "alice", ended.By)

	_, ok := s.calls.Session("alice", "bob")
	assert.False(t, ok)
}

func TestCallReject(t *testing.T) {
	s := newTestServer(t)
	alice := s.connect(t, "alice")
	bob := s.connect(t, "bob")

	send(t, alice, domain.CallRequestMessage{Type: domain.MsgTypeCallRequest, CalleeID: "bob"})
	var incoming domain.IncomingCallMessage
	readType(t, bob, domain.MsgTypeIncomingCall, &incoming)

	send(t, bob, domain.CallRejectMessage{Type: domain.MsgTypeCallReject, CallerID: "alice"})
	var rejected domain.CallRejectedMessage
	readType(t, alice, domain.MsgTypeCallRejected, &rejected)
	assert.Equal(t, incoming.CallID, rejected.CallID)
	assert.Equal(t, "bob", rejected.By)
}

func TestReconnectReplacesConnection(t *testing.T) {
	s := newTestServer(t)
	first := s.connect(t, "alice")
	second := s.dial(t, "?user_id=alice")

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	var err error
	for err == nil {
		_, _, err = first.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	send(t, second, map[string]string{"type": domain.MsgTypePing})
	var pong domain.PongMessage
	readType(t, second, domain.MsgTypePong, &pong)

	assert.True(t, s.registry.IsOnline("alice"))
	assert.Equal(t, 1, s.registry.Count())
}

func TestInvalidFrames(t *testing.T) {
	s := newTestServer(t)
	alice := s.connect(t, "alice")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	var errMsg domain.ErrorMessage
	readType(t, alice, domain.MsgTypeError, &errMsg)
	assert.Equal(t, domain.ErrCodeBadRequest, errMsg.Code)

	send(t, alice, map[string]string{"type": "dance"})
	readType(t, alice, domain.MsgTypeError, &errMsg)
	assert.Equal(t, domain.ErrCodeBadRequest, errMsg.Code)
	assert.Equal(t, "dance", errMsg.Request)

	send(t, alice, domain.MessageSendMessage{Type: domain.MsgTypeMessageSend, ReceiverID: "bob"})
	readType(t, alice, domain.MsgTypeError, &errMsg)
	assert.Equal(t, domain.ErrCodeBadRequest, errMsg.Code)
	assert.Equal(t, domain.MsgTypeMessageSend, errMsg.Request)
}
