package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/weiawesome/wes-io-talk/internal/domain"
)

// MemoryMessageRepository keeps messages in process memory.
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message
}

// NewMemoryMessageRepository returns an empty process-local store.
func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{messages: make(map[string]*domain.Message)}
}

func (r *MemoryMessageRepository) Save(ctx context.Context, msg *domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg.ID = NewID()

	r.mu.Lock()
	r.messages[msg.ID] = msg.Clone()
	r.mu.Unlock()
	return msg.ID, nil
}

func (r *MemoryMessageRepository) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.Clone(), nil
}

func (r *MemoryMessageRepository) MarkRecalled(ctx context.Context, id string) (*domain.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if m.IsRecalled {
		return m.Clone(), false, nil
	}
	m.Recall()
	return m.Clone(), true, nil
}

func (r *MemoryMessageRepository) FindConversation(ctx context.Context, userA, userB string, limit int) ([]*domain.Message, error) {
	r.mu.RLock()
	var out []*domain.Message
	for _, m := range r.messages {
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			out = append(out, m.Clone())
		}
	}
	r.mu.RUnlock()

	// ids are ULIDs, so id order is creation order
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *MemoryMessageRepository) Close() error { return nil }
