package repository

import (
	"context"

	"github.com/weiawesome/wes-io-talk/internal/domain"
)

// MessageRepository persists direct messages.
type MessageRepository interface {
	// Save stores msg, assigns its ID and returns it.
	Save(ctx context.Context, msg *domain.Message) (string, error)

	// FindByID returns domain.ErrNotFound when no message has id.
	FindByID(ctx context.Context, id string) (*domain.Message, error)

	// MarkRecalled clears the content of message id, flags it recalled and
	// returns the updated message. changed is false when the message was
	// already recalled; only one concurrent caller sees true.
	MarkRecalled(ctx context.Context, id string) (msg *domain.Message, changed bool, err error)

	// FindConversation returns the latest limit messages exchanged between
	// userA and userB in either direction, oldest first.
	FindConversation(ctx context.Context, userA, userB string, limit int) ([]*domain.Message, error)

	Close() error
}
