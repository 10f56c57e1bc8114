package domain

import (
	"strings"
	"time"
)

// Message is a direct message between two users.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Text       *string   `json:"text"`
	Image      *string   `json:"image"`
	CreatedAt  time.Time `json:"created_at"`
	IsRecalled bool      `json:"is_recalled"`
}

// NewMessage builds an unsaved message. Empty text and image are stored as nil.
func NewMessage(senderID, receiverID, text, imageURL string) *Message {
	m := &Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		CreatedAt:  time.Now().UTC(),
	}
	if strings.TrimSpace(text) != "" {
		m.Text = &text
	}
	if imageURL != "" {
		m.Image = &imageURL
	}
	return m
}

// Recall clears the content and marks the message recalled.
func (m *Message) Recall() {
	m.Text = nil
	m.Image = nil
	m.IsRecalled = true
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	c := *m
	if m.Text != nil {
		t := *m.Text
		c.Text = &t
	}
	if m.Image != nil {
		i := *m.Image
		c.Image = &i
	}
	return &c
}
