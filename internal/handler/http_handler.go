package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-talk/internal/auth"
	"github.com/weiawesome/wes-io-talk/internal/domain"
	"github.com/weiawesome/wes-io-talk/internal/presence"
	"github.com/weiawesome/wes-io-talk/internal/service"
	"github.com/weiawesome/wes-io-talk/pkg/log"
	"github.com/weiawesome/wes-io-talk/pkg/response"
)

type SendMessageRequest struct {
	Text      string `json:"text"`
	ImageData string `json:"image_data"`
}

type PresenceResponse struct {
	UserIDs []string `json:"user_ids"`
	Count   int      `json:"count"`
}

type UserPresence struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	Local    bool   `json:"local"`
	Instance string `json:"instance,omitempty"`
}

// PresenceLocator finds users connected to other instances.
type PresenceLocator interface {
	Lookup(ctx context.Context, userID string) (instance string, online bool, err error)
}

// HTTPHandler serves the REST side of messaging and presence.
type HTTPHandler struct {
	delivery service.DeliveryService
	registry *presence.Registry
	locator  PresenceLocator
}

func NewHTTPHandler(delivery service.DeliveryService, registry *presence.Registry) *HTTPHandler {
	return &HTTPHandler{
		delivery: delivery,
		registry: registry,
	}
}

// WithLocator makes GetUserPresence consult other instances.
func (h *HTTPHandler) WithLocator(l PresenceLocator) *HTTPHandler {
	h.locator = l
	return h
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	api := r.Group("/api", authMiddleware)
	{
		api.GET("/messages/:peerId", h.GetConversation)
		api.POST("/messages/send/:peerId", h.SendMessage)
		api.DELETE("/messages/:id", h.RecallMessage)
		api.GET("/presence", h.ListOnline)
		api.GET("/presence/:userId", h.GetUserPresence)
	}

	r.GET("/health", h.HealthCheck)
}

func (h *HTTPHandler) GetConversation(c *gin.Context) {
	var limit int
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := h.delivery.History(c.Request.Context(), auth.GetUserID(c), c.Param("peerId"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, msgs)
}

func (h *HTTPHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	msg, err := h.delivery.SendMessage(c.Request.Context(), auth.GetUserID(c), c.Param("peerId"), service.Content{
		Text:      req.Text,
		ImageData: req.ImageData,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, msg)
}

func (h *HTTPHandler) RecallMessage(c *gin.Context) {
	msg, err := h.delivery.RecallMessage(c.Request.Context(), c.Param("id"), auth.GetUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, msg)
}

func (h *HTTPHandler) ListOnline(c *gin.Context) {
	ids := h.registry.ListOnline()
	response.Success(c, PresenceResponse{UserIDs: ids, Count: len(ids)})
}

func (h *HTTPHandler) GetUserPresence(c *gin.Context) {
	userID := c.Param("userId")
	if h.registry.IsOnline(userID) {
		response.Success(c, UserPresence{UserID: userID, Online: true, Local: true})
		return
	}
	if h.locator == nil {
		response.Success(c, UserPresence{UserID: userID})
		return
	}

	instance, online, err := h.locator.Lookup(c.Request.Context(), userID)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldPeerID, userID).Msg("presence lookup failed")
		response.Error(c, http.StatusServiceUnavailable, "PRESENCE_UNAVAILABLE", "presence lookup failed")
		return
	}
	response.Success(c, UserPresence{UserID: userID, Online: online, Instance: instance})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"online_users": h.registry.Count(),
	})
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	status := domain.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldUserID, auth.GetUserID(c)).Msg("request failed")
	}

	msg := err.Error()
	if errors.Is(err, domain.ErrPersistence) {
		msg = "failed to store message"
	}
	response.Error(c, status, domain.ErrorCode(err), msg)
}
