package domain

import (
	"fmt"
	"time"
)

// CallState is the state of a call session.
type CallState string

const (
	CallIdle     CallState = "idle"
	CallDialing  CallState = "dialing"
	CallRinging  CallState = "ringing"
	CallActive   CallState = "active"
	CallEnded    CallState = "ended"
	CallRejected CallState = "rejected"
	CallFailed   CallState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == CallEnded || s == CallRejected || s == CallFailed
}

// CallTransitions lists the states reachable from each state.
var CallTransitions = map[CallState][]CallState{
	CallIdle:    {CallDialing},
	CallDialing: {CallRinging, CallFailed},
	CallRinging: {CallActive, CallRejected, CallEnded},
	CallActive:  {CallEnded},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to CallState) bool {
	for _, s := range CallTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PairKey identifies the unordered pair of users in a call.
type PairKey struct {
	Low  string
	High string
}

// NewPairKey builds the key for a and b in either order.
func NewPairKey(a, b string) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{Low: a, High: b}
}

func (k PairKey) String() string {
	return k.Low + "|" + k.High
}

// CallSession is the signaling state of one call between two users.
type CallSession struct {
	ID          string
	Key         PairKey
	CallerID    string
	CalleeID    string
	CallerName  string
	State       CallState
	InitiatedAt time.Time
	AnsweredAt  time.Time
}

// NewCallSession creates a session in the idle state.
func NewCallSession(id, callerID, calleeID, callerName string) *CallSession {
	return &CallSession{
		ID:          id,
		Key:         NewPairKey(callerID, calleeID),
		CallerID:    callerID,
		CalleeID:    calleeID,
		CallerName:  callerName,
		State:       CallIdle,
		InitiatedAt: time.Now().UTC(),
	}
}

// Transition moves the session to the next state or returns ErrInvalidTransition.
func (s *CallSession) Transition(to CallState) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	if to == CallActive {
		s.AnsweredAt = time.Now().UTC()
	}
	return nil
}

// Other returns the participant that is not userID.
func (s *CallSession) Other(userID string) string {
	if userID == s.CallerID {
		return s.CalleeID
	}
	return s.CallerID
}

// Has reports whether userID takes part in the session.
func (s *CallSession) Has(userID string) bool {
	return userID == s.CallerID || userID == s.CalleeID
}
