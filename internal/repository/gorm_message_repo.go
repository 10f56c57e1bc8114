package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-talk/internal/domain"
)

// MessageModel is the GORM row for a message.
type MessageModel struct {
	ID         string    `gorm:"primaryKey;size:26"`
	SenderID   string    `gorm:"size:64;not null;index:idx_messages_pair,priority:1"`
	ReceiverID string    `gorm:"size:64;not null;index:idx_messages_pair,priority:2"`
	Text       *string   `gorm:"type:text"`
	Image      *string   `gorm:"size:1024"`
	IsRecalled bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (MessageModel) TableName() string {
	return "messages"
}

func messageToModel(m *domain.Message) *MessageModel {
	return &MessageModel{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Image:      m.Image,
		IsRecalled: m.IsRecalled,
		CreatedAt:  m.CreatedAt,
	}
}

func (mm *MessageModel) toDomain() *domain.Message {
	return &domain.Message{
		ID:         mm.ID,
		SenderID:   mm.SenderID,
		ReceiverID: mm.ReceiverID,
		Text:       mm.Text,
		Image:      mm.Image,
		IsRecalled: mm.IsRecalled,
		CreatedAt:  mm.CreatedAt.UTC(),
	}
}

// GormMessageRepository implements MessageRepository on a SQL database.
type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Migrate creates or updates the messages table.
func (r *GormMessageRepository) Migrate() error {
	return r.db.AutoMigrate(&MessageModel{})
}

func (r *GormMessageRepository) Save(ctx context.Context, msg *domain.Message) (string, error) {
	msg.ID = NewID()
	if err := r.db.WithContext(ctx).Create(messageToModel(msg)).Error; err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	return msg.ID, nil
}

func (r *GormMessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	var model MessageModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return model.toDomain(), nil
}

func (r *GormMessageRepository) MarkRecalled(ctx context.Context, id string) (*domain.Message, bool, error) {
	result := r.db.WithContext(ctx).Model(&MessageModel{}).
		Where("id = ? AND is_recalled = ?", id, false).
		Updates(map[string]interface{}{
			"text":        nil,
			"image":       nil,
			"is_recalled": true,
		})
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to recall message: %w", result.Error)
	}

	m, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return m, result.RowsAffected > 0, nil
}

func (r *GormMessageRepository) FindConversation(ctx context.Context, userA, userB string, limit int) ([]*domain.Message, error) {
	q := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []MessageModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversation: %w", err)
	}

	msgs := make([]*domain.Message, 0, len(models))
	for i := range models {
		msgs = append(msgs, models[i].toDomain())
	}
	reverse(msgs)
	return msgs, nil
}

func (r *GormMessageRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
