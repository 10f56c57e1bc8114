package domain

// WebSocket message types from client.
const (
	MsgTypeMessageSend   = "message_send"
	MsgTypeMessageRecall = "message_recall"
	MsgTypeCallRequest   = "call_request"
	MsgTypeCallAccept    = "call_accept"
	MsgTypeCallReject    = "call_reject"
	MsgTypeCallEnd       = "call_end"
	MsgTypePing          = "ping"
)

// WebSocket message types to client.
const (
	MsgTypePresenceList    = "presence_list"
	MsgTypeIncomingCall    = "incoming_call"
	MsgTypeCallRinging     = "call_ringing"
	MsgTypeCallAccepted    = "call_accepted"
	MsgTypeCallRejected    = "call_rejected"
	MsgTypeCallEnded       = "call_ended"
	MsgTypeNewMessage      = "new_message"
	MsgTypeMessageSent     = "message_sent"
	MsgTypeMessageRecalled = "message_recalled"
	MsgTypeError           = "error"
	MsgTypePong            = "pong"
)

// Reasons carried by call_ended.
const (
	EndReasonHangup     = "hangup"
	EndReasonDisconnect = "disconnect"
	EndReasonTimeout    = "timeout"
)

// BaseMessage is the envelope shared by every frame.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type MessageSendMessage struct {
	Type       string `json:"type"`
	ReceiverID string `json:"receiver_id"`
	Text       string `json:"text,omitempty"`
	ImageData  string `json:"image_data,omitempty"`
}

type MessageRecallMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type CallRequestMessage struct {
	Type       string `json:"type"`
	CalleeID   string `json:"callee_id"`
	CallerName string `json:"caller_name"`
}

type CallAcceptMessage struct {
	Type     string `json:"type"`
	CallerID string `json:"caller_id"`
}

type CallRejectMessage struct {
	Type     string `json:"type"`
	CallerID string `json:"caller_id"`
}

type CallEndMessage struct {
	Type         string `json:"type"`
	OtherPartyID string `json:"other_party_id"`
}

// Server -> Client messages

type PresenceListMessage struct {
	Type    string   `json:"type"`
	UserIDs []string `json:"user_ids"`
}

type IncomingCallMessage struct {
	Type       string `json:"type"`
	CallID     string `json:"call_id"`
	CallerID   string `json:"caller_id"`
	CallerName string `json:"caller_name"`
}

type CallRingingMessage struct {
	Type     string `json:"type"`
	CallID   string `json:"call_id"`
	CalleeID string `json:"callee_id"`
}

type CallAcceptedMessage struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	By     string `json:"by"`
}

type CallRejectedMessage struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	By     string `json:"by"`
}

type CallEndedMessage struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	By     string `json:"by"`
	Reason string `json:"reason"`
}

// MessageEvent carries a message for new_message, message_sent and message_recalled.
type MessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}

func NewPresenceList(userIDs []string) *PresenceListMessage {
	if userIDs == nil {
		userIDs = []string{}
	}
	return &PresenceListMessage{Type: MsgTypePresenceList, UserIDs: userIDs}
}

func NewMessageEvent(msgType string, m *Message) *MessageEvent {
	return &MessageEvent{Type: msgType, Message: m}
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}

// NewRequestError builds an error frame that names the inbound type it answers.
func NewRequestError(request string, err error) *ErrorMessage {
	msg := NewErrorMessage(ErrorCode(err), err.Error())
	msg.Request = request
	return msg
}
