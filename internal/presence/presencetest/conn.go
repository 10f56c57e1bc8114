// Package presencetest provides an in-memory presence.Conn for tests.
package presencetest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	seq       atomic.Int64
	errClosed = errors.New("connection closed")
)

// Conn records every frame sent to it.
type Conn struct {
	id     string
	userID string

	mu      sync.Mutex
	frames  []json.RawMessage
	sendErr error
}

// NewConn returns a connection for userID with a unique id.
func NewConn(userID string) *Conn {
	return &Conn{
		id:     fmt.Sprintf("%s-%d", userID, seq.Add(1)),
		userID: userID,
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

func (c *Conn) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, data)
	return nil
}

// Close makes later sends fail like a closed socket would.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.sendErr == nil {
		c.sendErr = errClosed
	}
	c.mu.Unlock()
}

// FailSends makes every later Send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Types returns the "type" of every frame in send order.
func (c *Conn) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var base struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(f, &base)
		types = append(types, base.Type)
	}
	return types
}

// Count returns how many frames of msgType were sent.
func (c *Conn) Count(msgType string) int {
	n := 0
	for _, t := range c.Types() {
		if t == msgType {
			n++
		}
	}
	return n
}

// Last decodes the most recent frame of msgType into v and reports whether one existed.
func (c *Conn) Last(msgType string, v interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(c.frames[i], &base); err != nil || base.Type != msgType {
			continue
		}
		return json.Unmarshal(c.frames[i], v) == nil
	}
	return false
}

// Reset drops every recorded frame.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
