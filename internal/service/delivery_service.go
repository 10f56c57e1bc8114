package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/weiawesome/wes-io-talk/internal/audit"
	"github.com/weiawesome/wes-io-talk/internal/domain"
	"github.com/weiawesome/wes-io-talk/internal/metrics"
	"github.com/weiawesome/wes-io-talk/internal/repository"
	"github.com/weiawesome/wes-io-talk/internal/upload"
	"github.com/weiawesome/wes-io-talk/pkg/log"
	"github.com/weiawesome/wes-io-talk/pkg/pubsub"
)

const defaultHistoryLimit = 200

type deliveryService struct {
	repo         repository.MessageRepository
	directory    Directory
	uploader     upload.ImageUploader
	publisher    pubsub.Publisher
	metrics      *metrics.Metrics
	historyLimit int
}

// DeliveryOption configures the delivery service.
type DeliveryOption func(*deliveryService)

// WithUploader enables image messages.
func WithUploader(u upload.ImageUploader) DeliveryOption {
	return func(s *deliveryService) { s.uploader = u }
}

// WithDeliveryPublisher publishes message lifecycle events.
func WithDeliveryPublisher(p pubsub.Publisher) DeliveryOption {
	return func(s *deliveryService) { s.publisher = p }
}

// WithDeliveryMetrics records message counters.
func WithDeliveryMetrics(m *metrics.Metrics) DeliveryOption {
	return func(s *deliveryService) { s.metrics = m }
}

// WithHistoryLimit caps the number of messages History returns.
func WithHistoryLimit(n int) DeliveryOption {
	return func(s *deliveryService) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// NewDeliveryService returns a DeliveryService persisting to repo and delivering through directory.
func NewDeliveryService(repo repository.MessageRepository, directory Directory, opts ...DeliveryOption) DeliveryService {
	s := &deliveryService{
		repo:         repo,
		directory:    directory,
		publisher:    pubsub.NopPublisher{},
		historyLimit: defaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *deliveryService) SendMessage(ctx context.Context, senderID, receiverID string, content Content) (*domain.Message, error) {
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return nil, fmt.Errorf("%w: receiver is required", domain.ErrInvalidMessage)
	}
	if strings.TrimSpace(content.Text) == "" && content.ImageData == "" {
		return nil, fmt.Errorf("%w: text or image is required", domain.ErrInvalidMessage)
	}

	var imageURL string
	if content.ImageData != "" {
		url, err := s.uploadImage(ctx, content.ImageData)
		if err != nil {
			return nil, err
		}
		imageURL = url
	}

	msg := domain.NewMessage(senderID, receiverID, content.Text, imageURL)
	if _, err := s.repo.Save(ctx, msg); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldPeerID, receiverID).Msg("failed to save message")
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	s.metrics.MessageSent()
	audit.LogTarget(ctx, audit.ActionSendMessage, senderID, msg.ID, receiverID, "message sent")

	s.deliver(ctx, receiverID, domain.NewMessageEvent(domain.MsgTypeNewMessage, msg))
	publishEvent(ctx, s.publisher, pubsub.TopicMessages, pubsub.EventMessageSent, conversationKey(msg), msg)

	return msg, nil
}

func (s *deliveryService) uploadImage(ctx context.Context, data string) (string, error) {
	if s.uploader == nil {
		return "", fmt.Errorf("%w: image messages are disabled", domain.ErrInvalidMessage)
	}

	url, err := s.uploader.Upload(ctx, data)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrEmptyImage),
			errors.Is(err, upload.ErrImageTooLarge),
			errors.Is(err, upload.ErrUnsupportedImage),
			errors.Is(err, upload.ErrMalformedImage):
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
		default:
			l := log.Ctx(ctx)
			l.Error().Err(err).Msg("image upload failed")
			return "", fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
		}
	}
	return url, nil
}

func (s *deliveryService) RecallMessage(ctx context.Context, messageID, requesterID string) (*domain.Message, error) {
	msg, err := s.repo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	if msg.SenderID != requesterID {
		audit.LogTarget(ctx, audit.ActionRecallDenied, requesterID, messageID, msg.SenderID, "recall denied")
		return nil, fmt.Errorf("only the sender can recall a message: %w", domain.ErrForbidden)
	}

	if msg.IsRecalled {
		return msg, nil
	}

	recalled, changed, err := s.repo.MarkRecalled(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if !changed {
		return recalled, nil
	}

	s.metrics.MessageRecalled()
	audit.LogTarget(ctx, audit.ActionRecallMessage, requesterID, messageID, recalled.ReceiverID, "message recalled")

	s.deliver(ctx, recalled.ReceiverID, domain.NewMessageEvent(domain.MsgTypeMessageRecalled, recalled))
	publishEvent(ctx, s.publisher, pubsub.TopicMessages, pubsub.EventMessageRecalled, conversationKey(recalled), recalled)

	return recalled, nil
}

func (s *deliveryService) History(ctx context.Context, userID, peerID string, limit int) ([]*domain.Message, error) {
	if strings.TrimSpace(peerID) == "" {
		return nil, fmt.Errorf("%w: peer is required", domain.ErrInvalidMessage)
	}
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	msgs, err := s.repo.FindConversation(ctx, userID, peerID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	return msgs, nil
}

// deliver sends v to userID when online. Offline users read it from history later.
func (s *deliveryService) deliver(ctx context.Context, userID string, v interface{}) {
	conn, ok := s.directory.Lookup(userID)
	if !ok {
		return
	}
	if err := conn.Send(v); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldPeerID, userID).Msg("failed to deliver message event")
	}
}
