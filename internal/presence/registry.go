package presence

import (
	"sort"
	"sync"

	"github.com/weiawesome/wes-io-talk/internal/domain"
	"github.com/weiawesome/wes-io-talk/pkg/log"
)

// Conn is a live duplex connection owned by one authenticated user.
type Conn interface {
	ID() string
	UserID() string
	Send(v interface{}) error
	Close()
}

// Observer is told when a user comes online or goes offline.
// Callbacks run on the caller's goroutine and must not block.
type Observer interface {
	UserOnline(userID string)
	UserOffline(userID string)
}

// Registry maps each online user to their single live connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn

	// broadcastMu serialises presence broadcasts so the last one sent
	// always reflects the latest state.
	broadcastMu sync.Mutex

	observers []Observer
}

// NewRegistry returns an empty registry notifying observers of presence changes.
func NewRegistry(observers ...Observer) *Registry {
	return &Registry{
		conns:     make(map[string]Conn),
		observers: observers,
	}
}

// Register makes conn the live connection for its user and returns the
// connection it replaced, if any. The caller owns closing the previous one.
func (r *Registry) Register(conn Conn) Conn {
	userID := conn.UserID()

	r.mu.Lock()
	previous := r.conns[userID]
	r.conns[userID] = conn
	r.mu.Unlock()

	l := log.L()
	ev := l.Info().Str(log.FieldUserID, userID).Str(log.FieldConnID, conn.ID())
	if previous != nil {
		ev = ev.Str("replaced_conn_id", previous.ID())
	}
	ev.Msg("user registered")

	if previous == nil {
		for _, o := range r.observers {
			o.UserOnline(userID)
		}
	}

	r.broadcastPresence()
	return previous
}

// Unregister removes conn only if it is still the registered connection
// for its user. It reports whether an entry was removed.
func (r *Registry) Unregister(conn Conn) bool {
	userID := conn.UserID()

	r.mu.Lock()
	current, ok := r.conns[userID]
	if !ok || current != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	r.mu.Unlock()

	l := log.L()
	l.Info().Str(log.FieldUserID, userID).Str(log.FieldConnID, conn.ID()).Msg("user unregistered")

	for _, o := range r.observers {
		o.UserOffline(userID)
	}

	r.broadcastPresence()
	return true
}

// Lookup returns the live connection for userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// IsOnline reports whether userID has a live connection.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// ListOnline returns the sorted ids of every online user.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast sends v to every registered connection. Failures are logged.
func (r *Registry) Broadcast(v interface{}) {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(v); err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldUserID, c.UserID()).Str(log.FieldConnID, c.ID()).Msg("broadcast failed")
		}
	}
}

func (r *Registry) broadcastPresence() {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	r.Broadcast(domain.NewPresenceList(r.ListOnline()))
}

func (r *Registry) listLocked() []string {
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
