package pubsub

// Topics carrying lifecycle events out of the talk service.
const (
	TopicPresence = "talk-presence"
	TopicMessages = "talk-messages"
	TopicCalls    = "talk-calls"
)

// Topics lists every topic the service publishes to.
var Topics = []string{TopicPresence, TopicMessages, TopicCalls}

// Presence events.
const (
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
)

// Message events.
const (
	EventMessageSent     = "message_sent"
	EventMessageRecalled = "message_recalled"
)

// Call events.
const (
	EventCallRinging  = "call_ringing"
	EventCallAccepted = "call_accepted"
	EventCallRejected = "call_rejected"
	EventCallEnded    = "call_ended"
	EventCallFailed   = "call_failed"
)

// redisChannel maps a topic to the Redis channel it is published on.
func redisChannel(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return prefix + ":" + topic
}
