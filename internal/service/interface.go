package service

import (
	"context"

	"github.com/weiawesome/wes-io-talk/internal/domain"
	"github.com/weiawesome/wes-io-talk/internal/presence"
)

// Directory resolves a user to their live connection.
type Directory interface {
	Lookup(userID string) (presence.Conn, bool)
}

// Content is the body of an outgoing message. ImageData is a data URL or base64.
type Content struct {
	Text      string
	ImageData string
}

type DeliveryService interface {
	SendMessage(ctx context.Context, senderID, receiverID string, content Content) (*domain.Message, error)
	RecallMessage(ctx context.Context, messageID, requesterID string) (*domain.Message, error)
	History(ctx context.Context, userID, peerID string, limit int) ([]*domain.Message, error)
}

type CallService interface {
	RequestCall(ctx context.Context, callerID, calleeID, callerName string) (*domain.CallSession, error)
	AcceptCall(ctx context.Context, calleeID, callerID string) error
	RejectCall(ctx context.Context, calleeID, callerID string) error
	EndCall(ctx context.Context, userID, otherID string) error
	ParticipantLeft(ctx context.Context, userID string)
	Session(userA, userB string) (domain.CallSession, bool)
	Stop()
}
