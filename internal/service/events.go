package service

import (
	"context"

	"github.com/weiawesome/wes-io-talk/internal/domain"
	"github.com/weiawesome/wes-io-talk/pkg/log"
	"github.com/weiawesome/wes-io-talk/pkg/pubsub"
)

// callEvent is the payload of call lifecycle events.
type callEvent struct {
	CallID   string `json:"call_id"`
	CallerID string `json:"caller_id"`
	CalleeID string `json:"callee_id"`
	State    string `json:"state"`
	By       string `json:"by,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func newCallEvent(s *domain.CallSession, by, reason string) callEvent {
	return callEvent{
		CallID:   s.ID,
		CallerID: s.CallerID,
		CalleeID: s.CalleeID,
		State:    string(s.State),
		By:       by,
		Reason:   reason,
	}
}

func conversationKey(m *domain.Message) string {
	return domain.NewPairKey(m.SenderID, m.ReceiverID).String()
}

// publishEvent emits one lifecycle event. Failures are logged and dropped.
func publishEvent(ctx context.Context, p pubsub.Publisher, topic, eventType, key string, payload interface{}) {
	if p == nil {
		return
	}
	ev, err := pubsub.NewEvent(eventType, key, payload)
	if err == nil {
		err = p.Publish(ctx, topic, ev)
	}
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldEventType, eventType).Str("key", key).Msg("failed to publish event")
	}
}
