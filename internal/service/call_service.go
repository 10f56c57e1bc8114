package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weiawesome/wes-io-talk/internal/audit"
	"github.com/weiawesome/wes-io-talk/internal/domain"
	"github.com/weiawesome/wes-io-talk/internal/metrics"
	"github.com/weiawesome/wes-io-talk/internal/presence"
	"github.com/weiawesome/wes-io-talk/pkg/log"
	"github.com/weiawesome/wes-io-talk/pkg/pubsub"
)

type callEntry struct {
	session *domain.CallSession
	timer   *time.Timer
}

// pendingEvent is a lifecycle event collected under the lock and published after it.
type pendingEvent struct {
	eventType  string
	payload    callEvent
	key        string
	answeredAt time.Time
}

// callService keeps one session per unordered pair of users. All state
// changes and the frames they produce happen under mu, so both parties
// observe a call's events in order. Conn.Send never blocks, so holding mu
// across it is safe.
type callService struct {
	directory   Directory
	publisher   pubsub.Publisher
	metrics     *metrics.Metrics
	ringTimeout time.Duration

	mu       sync.Mutex
	sessions map[domain.PairKey]*callEntry
	byUser   map[string]map[domain.PairKey]struct{}
	stopped  bool
}

// CallOption configures the call service.
type CallOption func(*callService)

// WithRingTimeout ends calls left ringing for d. Zero disables the timeout.
func WithRingTimeout(d time.Duration) CallOption {
	return func(s *callService) { s.ringTimeout = d }
}

// WithCallPublisher publishes call lifecycle events.
func WithCallPublisher(p pubsub.Publisher) CallOption {
	return func(s *callService) { s.publisher = p }
}

// WithCallMetrics records call counters.
func WithCallMetrics(m *metrics.Metrics) CallOption {
	return func(s *callService) { s.metrics = m }
}

// NewCallService returns a CallService resolving connections through directory.
func NewCallService(directory Directory, opts ...CallOption) CallService {
	s := &callService{
		directory: directory,
		publisher: pubsub.NopPublisher{},
		sessions:  make(map[domain.PairKey]*callEntry),
		byUser:    make(map[string]map[domain.PairKey]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *callService) RequestCall(ctx context.Context, callerID, calleeID, callerName string) (*domain.CallSession, error) {
	calleeID = strings.TrimSpace(calleeID)
	if calleeID == "" {
		return nil, fmt.Errorf("%w: callee is required", domain.ErrInvalidMessage)
	}
	if calleeID == callerID {
		return nil, fmt.Errorf("%w: cannot call yourself", domain.ErrInvalidMessage)
	}

	key := domain.NewPairKey(callerID, calleeID)

	s.mu.Lock()
	if _, exists := s.sessions[key]; exists {
		s.mu.Unlock()
		return nil, domain.ErrAlreadyInCall
	}

	session := domain.NewCallSession(uuid.New().String(), callerID, calleeID, callerName)
	if err := session.Transition(domain.CallDialing); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	callee, online := s.directory.Lookup(calleeID)
	if !online {
		_ = session.Transition(domain.CallFailed)
		s.mu.Unlock()

		s.metrics.CallTransition(string(domain.CallFailed))
		s.logTransition(ctx, session, callerID, domain.ErrCodeUserUnavailable)
		s.publishAll(ctx, []pendingEvent{s.event(pubsub.EventCallFailed, session, callerID, domain.ErrCodeUserUnavailable)})
		return nil, fmt.Errorf("%s: %w", calleeID, domain.ErrUserUnavailable)
	}

	_ = session.Transition(domain.CallRinging)
	entry := &callEntry{session: session}
	s.insertLocked(entry)
	if s.ringTimeout > 0 && !s.stopped {
		id := session.ID
		entry.timer = time.AfterFunc(s.ringTimeout, func() { s.ringTimeoutExpired(key, id) })
	}

	s.send(ctx, callee, &domain.IncomingCallMessage{
		Type:       domain.MsgTypeIncomingCall,
		CallID:     session.ID,
		CallerID:   callerID,
		CallerName: callerName,
	})
	s.sendTo(ctx, callerID, &domain.CallRingingMessage{
		Type:     domain.MsgTypeCallRinging,
		CallID:   session.ID,
		CalleeID: calleeID,
	})
	snapshot := *session
	s.mu.Unlock()

	s.metrics.CallStarted()
	s.metrics.CallTransition(string(domain.CallRinging))
	s.logTransition(ctx, &snapshot, callerID, "")
	s.publishAll(ctx, []pendingEvent{s.event(pubsub.EventCallRinging, &snapshot, callerID, "")})

	return &snapshot, nil
}

func (s *callService) AcceptCall(ctx context.Context, calleeID, callerID string) error {
	key := domain.NewPairKey(calleeID, callerID)

	s.mu.Lock()
	entry, ok := s.sessions[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no pending call from %s: %w", callerID, domain.ErrNotFound)
	}
	session := entry.session
	if session.CalleeID != calleeID {
		s.mu.Unlock()
		return fmt.Errorf("only the callee can accept: %w", domain.ErrForbidden)
	}
	if err := s.advanceLocked(entry, domain.CallActive); err != nil {
		s.mu.Unlock()
		return err
	}

	s.sendTo(ctx, session.CallerID, &domain.CallAcceptedMessage{
		Type:   domain.MsgTypeCallAccepted,
		CallID: session.ID,
		By:     calleeID,
	})
	snapshot := *session
	s.mu.Unlock()

	s.metrics.CallTransition(string(domain.CallActive))
	s.logTransition(ctx, &snapshot, calleeID, "")
	s.publishAll(ctx, []pendingEvent{s.event(pubsub.EventCallAccepted, &snapshot, calleeID, "")})
	return nil
}

func (s *callService) RejectCall(ctx context.Context, calleeID, callerID string) error {
	key := domain.NewPairKey(calleeID, callerID)

	s.mu.Lock()
	entry, ok := s.sessions[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	session := entry.session
	if session.CalleeID != calleeID {
		s.mu.Unlock()
		return fmt.Errorf("only the callee can reject: %w", domain.ErrForbidden)
	}
	if err := s.advanceLocked(entry, domain.CallRejected); err != nil {
		s.mu.Unlock()
		return err
	}

	s.sendTo(ctx, session.CallerID, &domain.CallRejectedMessage{
		Type:   domain.MsgTypeCallRejected,
		CallID: session.ID,
		By:     calleeID,
	})
	snapshot := *session
	s.mu.Unlock()

	s.metrics.CallTransition(string(domain.CallRejected))
	s.metrics.CallFinished(snapshot.AnsweredAt)
	s.logTransition(ctx, &snapshot, calleeID, "")
	s.publishAll(ctx, []pendingEvent{s.event(pubsub.EventCallRejected, &snapshot, calleeID, "")})
	return nil
}

func (s *callService) EndCall(ctx context.Context, userID, otherID string) error {
	key := domain.NewPairKey(userID, otherID)

	s.mu.Lock()
	entry, ok := s.sessions[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	ev, err := s.endLocked(ctx, entry, userID, domain.EndReasonHangup)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.finish(ctx, []pendingEvent{ev}, userID)
	return nil
}

// ParticipantLeft ends every call of userID. A user who is already back
// online keeps their calls: the departure is stale.
func (s *callService) ParticipantLeft(ctx context.Context, userID string) {
	s.mu.Lock()
	if _, online := s.directory.Lookup(userID); online {
		s.mu.Unlock()
		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldUserID, userID).Msg("participant reconnected, keeping calls")
		return
	}
	keys := s.byUser[userID]
	var events []pendingEvent
	for key := range keys {
		entry := s.sessions[key]
		if entry == nil || !entry.session.Has(userID) {
			continue
		}
		ev, err := s.endLocked(ctx, entry, userID, domain.EndReasonDisconnect)
		if err != nil {
			l := log.Ctx(ctx)
			l.Error().Err(err).Str(log.FieldCallID, entry.session.ID).Msg("failed to end call for departed participant")
			continue
		}
		events = append(events, ev)
	}
	s.mu.Unlock()

	s.finish(ctx, events, userID)
}

// endLocked moves a ringing or active session to ended, removes it and
// notifies the party that did not end it.
func (s *callService) endLocked(ctx context.Context, entry *callEntry, by, reason string) (pendingEvent, error) {
	session := entry.session
	if err := s.advanceLocked(entry, domain.CallEnded); err != nil {
		return pendingEvent{}, err
	}

	s.sendTo(ctx, session.Other(by), &domain.CallEndedMessage{
		Type:   domain.MsgTypeCallEnded,
		CallID: session.ID,
		By:     by,
		Reason: reason,
	})
	snapshot := *session
	return s.event(pubsub.EventCallEnded, &snapshot, by, reason), nil
}

func (s *callService) ringTimeoutExpired(key domain.PairKey, id string) {
	ctx := context.Background()

	s.mu.Lock()
	entry, ok := s.sessions[key]
	if !ok || entry.session.ID != id || entry.session.State != domain.CallRinging {
		s.mu.Unlock()
		return
	}
	session := entry.session
	if err := s.advanceLocked(entry, domain.CallEnded); err != nil {
		s.mu.Unlock()
		return
	}

	ended := &domain.CallEndedMessage{
		Type:   domain.MsgTypeCallEnded,
		CallID: session.ID,
		Reason: domain.EndReasonTimeout,
	}
	s.sendTo(ctx, session.CallerID, ended)
	s.sendTo(ctx, session.CalleeID, ended)
	snapshot := *session
	s.mu.Unlock()

	l := log.L()
	l.Info().Str(log.FieldCallID, snapshot.ID).Dur("ring_timeout", s.ringTimeout).Msg("call not answered")
	s.finish(ctx, []pendingEvent{s.event(pubsub.EventCallEnded, &snapshot, "", domain.EndReasonTimeout)}, "")
}

func (s *callService) finish(ctx context.Context, events []pendingEvent, by string) {
	for _, ev := range events {
		s.metrics.CallTransition(ev.payload.State)
		s.metrics.CallFinished(ev.answeredAt)
		audit.LogTarget(ctx, audit.ActionCallTransition, by, ev.payload.CallID, ev.payload.State+":"+ev.payload.Reason, "call ended")
	}
	s.publishAll(ctx, events)
}

func (s *callService) Session(userA, userB string) (domain.CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[domain.NewPairKey(userA, userB)]
	if !ok {
		return domain.CallSession{}, false
	}
	return *entry.session, true
}

// Stop cancels pending ring timers. Sessions stay in place.
func (s *callService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, entry := range s.sessions {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
	}
}

// advanceLocked transitions the session, cancelling its ring timer once it
// leaves ringing and dropping it from the table once it is terminal.
func (s *callService) advanceLocked(entry *callEntry, to domain.CallState) error {
	if err := entry.session.Transition(to); err != nil {
		return err
	}
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	if to.Terminal() {
		s.removeLocked(entry)
	}
	return nil
}

func (s *callService) insertLocked(entry *callEntry) {
	key := entry.session.Key
	s.sessions[key] = entry
	for _, userID := range []string{entry.session.CallerID, entry.session.CalleeID} {
		keys, ok := s.byUser[userID]
		if !ok {
			keys = make(map[domain.PairKey]struct{})
			s.byUser[userID] = keys
		}
		keys[key] = struct{}{}
	}
}

func (s *callService) removeLocked(entry *callEntry) {
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	key := entry.session.Key
	delete(s.sessions, key)
	for _, userID := range []string{entry.session.CallerID, entry.session.CalleeID} {
		if keys, ok := s.byUser[userID]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(s.byUser, userID)
			}
		}
	}
}

func (s *callService) sendTo(ctx context.Context, userID string, v interface{}) {
	conn, ok := s.directory.Lookup(userID)
	if !ok {
		return
	}
	s.send(ctx, conn, v)
}

func (s *callService) send(ctx context.Context, conn presence.Conn, v interface{}) {
	if err := conn.Send(v); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldPeerID, conn.UserID()).Msg("failed to send call event")
	}
}

func (s *callService) event(eventType string, session *domain.CallSession, by, reason string) pendingEvent {
	return pendingEvent{
		eventType:  eventType,
		payload:    newCallEvent(session, by, reason),
		key:        session.Key.String(),
		answeredAt: session.AnsweredAt,
	}
}

func (s *callService) publishAll(ctx context.Context, events []pendingEvent) {
	for _, ev := range events {
		publishEvent(ctx, s.publisher, pubsub.TopicCalls, ev.eventType, ev.key, ev.payload)
	}
}

func (s *callService) logTransition(ctx context.Context, session *domain.CallSession, by, detail string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldCallID, session.ID).
		Str(log.FieldCallState, string(session.State)).
		Str("caller_id", session.CallerID).
		Str("callee_id", session.CalleeID).
		Msg("call state changed")

	d := string(session.State)
	if detail != "" {
		d += ":" + detail
	}
	audit.LogTarget(ctx, audit.ActionCallTransition, by, session.ID, d, "call transition")
}
