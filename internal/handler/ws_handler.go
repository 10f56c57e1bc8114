package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-talk/internal/audit"
	"github.com/weiawesome/wes-io-talk/internal/auth"
	"github.com/weiawesome/wes-io-talk/internal/config"
	"github.com/weiawesome/wes-io-talk/internal/domain"
	"github.com/weiawesome/wes-io-talk/internal/hub"
	"github.com/weiawesome/wes-io-talk/internal/metrics"
	"github.com/weiawesome/wes-io-talk/internal/presence"
	"github.com/weiawesome/wes-io-talk/internal/service"
	"github.com/weiawesome/wes-io-talk/pkg/log"
)

// peer is the connection a frame arrived on together with its identity.
type peer struct {
	*hub.Client
	username string
}

type handlerFunc func(ctx context.Context, p *peer, raw []byte) error

// WSHandler accepts WebSocket connections and routes their frames.
type WSHandler struct {
	registry      *presence.Registry
	delivery      service.DeliveryService
	calls         service.CallService
	authenticator auth.Authenticator
	metrics       *metrics.Metrics
	config        config.WebSocketConfig
	upgrader      websocket.Upgrader
	handlers      map[string]handlerFunc
}

func NewWSHandler(
	registry *presence.Registry,
	delivery service.DeliveryService,
	calls service.CallService,
	authenticator auth.Authenticator,
	m *metrics.Metrics,
	cfg config.WebSocketConfig,
) *WSHandler {
	h := &WSHandler{
		registry:      registry,
		delivery:      delivery,
		calls:         calls,
		authenticator: authenticator,
		metrics:       m,
		config:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	h.handlers = map[string]handlerFunc{
		domain.MsgTypeMessageSend:   h.handleMessageSend,
		domain.MsgTypeMessageRecall: h.handleMessageRecall,
		domain.MsgTypeCallRequest:   h.handleCallRequest,
		domain.MsgTypeCallAccept:    h.handleCallAccept,
		domain.MsgTypeCallReject:    h.handleCallReject,
		domain.MsgTypeCallEnd:       h.handleCallEnd,
		domain.MsgTypePing:          h.handlePing,
	}
	return h
}

// HandleWebSocket upgrades the request and serves the connection until it
// closes.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := log.L()

	identity, authErr := h.authenticator.Authenticate(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	if authErr != nil {
		h.reject(conn, authErr)
		return
	}

	client := hub.NewClient(uuid.New().String(), identity.UserID, conn, h.config)
	// detached from r so work finishing after the socket closes is not cancelled
	ctx := log.WithLogger(context.Background(), log.Ctx(r.Context()))
	ctx = log.WithConn(ctx, client.ID(), client.UserID())

	go client.WritePump()

	if previous := h.registry.Register(client); previous != nil {
		previous.Close()
		audit.LogTarget(ctx, audit.ActionReplaced, client.UserID(), previous.ID(), client.ID(), "connection replaced")
	}
	h.metrics.ConnectionAccepted()
	audit.Log(ctx, audit.ActionConnect, client.UserID(), "user connected")

	p := &peer{Client: client, username: identity.Username}
	client.ReadPump(func(_ *hub.Client, raw []byte) {
		h.dispatch(ctx, p, raw)
	})

	if h.registry.Unregister(client) {
		h.calls.ParticipantLeft(ctx, client.UserID())
	}
	audit.Log(ctx, audit.ActionDisconnect, client.UserID(), "user disconnected")
}

func (h *WSHandler) reject(conn *websocket.Conn, authErr error) {
	defer conn.Close()

	h.metrics.ConnectionRejected()
	audit.Log(context.Background(), audit.ActionAuthFailed, "", authErr.Error())

	deadline := time.Now().Add(h.config.WriteWait)
	conn.SetWriteDeadline(deadline)
	conn.WriteJSON(domain.NewErrorMessage(domain.ErrCodeUnauthenticated, authErr.Error()))
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthenticated"), deadline)
}

func (h *WSHandler) dispatch(ctx context.Context, p *peer, raw []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(raw, &base); err != nil {
		p.Send(domain.NewErrorMessage(domain.ErrCodeBadRequest, "invalid message format"))
		h.metrics.InboundEvent("invalid", domain.ErrCodeBadRequest)
		return
	}

	fn, ok := h.handlers[base.Type]
	if !ok {
		err := fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidMessage, base.Type)
		p.Send(domain.NewRequestError(base.Type, err))
		h.metrics.InboundEvent("unknown", domain.ErrCodeBadRequest)
		return
	}

	if err := fn(ctx, p, raw); err != nil {
		code := domain.ErrorCode(err)
		l := log.Ctx(ctx)
		ev := l.Warn()
		if domain.HTTPStatus(err) >= http.StatusInternalServerError {
			ev = l.Error()
		}
		ev.Err(err).Str(log.FieldEventType, base.Type).Str("code", code).Msg("request failed")

		p.Send(domain.NewRequestError(base.Type, err))
		h.metrics.InboundEvent(base.Type, code)
		return
	}
	h.metrics.InboundEvent(base.Type, "OK")
}

func decode(raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	return nil
}

func (h *WSHandler) handleMessageSend(ctx context.Context, p *peer, raw []byte) error {
	var msg domain.MessageSendMessage
	if err := decode(raw, &msg); err != nil {
		return err
	}

	sent, err := h.delivery.SendMessage(ctx, p.UserID(), msg.ReceiverID, service.Content{
		Text:      msg.Text,
		ImageData: msg.ImageData,
	})
	if err != nil {
		return err
	}
	return p.Send(domain.NewMessageEvent(domain.MsgTypeMessageSent, sent))
}

func (h *WSHandler) handleMessageRecall(ctx context.Context, p *peer, raw []byte) error {
	var msg domain.MessageRecallMessage
	if err := decode(raw, &msg); err != nil {
		return err
	}
	if msg.MessageID == "" {
		return fmt.Errorf("%w: message_id is required", domain.ErrInvalidMessage)
	}

	recalled, err := h.delivery.RecallMessage(ctx, msg.MessageID, p.UserID())
	if err != nil {
		return err
	}
	return p.Send(domain.NewMessageEvent(domain.MsgTypeMessageRecalled, recalled))
}

func (h *WSHandler) handleCallRequest(ctx context.Context, p *peer, raw []byte) error {
	var msg domain.CallRequestMessage
	if err := decode(raw, &msg); err != nil {
		return err
	}

	name := msg.CallerName
	if name == "" {
		name = p.username
	}
	if name == "" {
		name = p.UserID()
	}

	_, err := h.calls.RequestCall(ctx, p.UserID(), msg.CalleeID, name)
	return err
}

func (h *WSHandler) handleCallAccept(ctx context.Context, p *peer, raw []byte) error {
	var msg domain.CallAcceptMessage
	if err := decode(raw, &msg); err != nil {
		return err
	}
	return h.calls.AcceptCall(ctx, p.UserID(), msg.CallerID)
}

func (h *WSHandler) handleCallReject(ctx context.Context, p *peer, raw []byte) error {
	var msg domain.CallRejectMessage
	if err := decode(raw, &msg); err != nil {
		return err
	}
	return h.calls.RejectCall(ctx, p.UserID(), msg.CallerID)
}

func (h *WSHandler) handleCallEnd(ctx context.Context, p *peer, raw []byte) error {
	var msg domain.CallEndMessage
	if err := decode(raw, &msg); err != nil {
		return err
	}
	return h.calls.EndCall(ctx, p.UserID(), msg.OtherPartyID)
}

func (h *WSHandler) handlePing(_ context.Context, p *peer, _ []byte) error {
	return p.Send(&domain.PongMessage{Type: domain.MsgTypePong})
}

// RegisterRoutes registers the WebSocket route.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", gin.WrapF(h.HandleWebSocket))
}
