package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPayloadRoundTrip(t *testing.T) {
	type payload struct {
		CallID string `json:"call_id"`
	}

	ev, err := NewEvent(EventCallRinging, "alice|bob", payload{CallID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, EventCallRinging, ev.Type)
	assert.Equal(t, "alice|bob", ev.Key)
	assert.False(t, ev.Timestamp.IsZero())

	var got payload
	require.NoError(t, ev.UnmarshalPayload(&got))
	assert.Equal(t, "c1", got.CallID)
}

func TestNewDriverSelection(t *testing.T) {
	p, err := New(Config{Driver: "none"})
	require.NoError(t, err)
	assert.IsType(t, NopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), TopicCalls, &Event{}))
	assert.NoError(t, p.Close())

	_, err = New(Config{Driver: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestRedisChannel(t *testing.T) {
	assert.Equal(t, "talk:events:talk-calls", redisChannel("talk:events", TopicCalls))
	assert.Equal(t, TopicCalls, redisChannel("", TopicCalls))
}
