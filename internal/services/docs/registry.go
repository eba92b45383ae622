package docs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"note-sync/internal/logger"

	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Subscriber represents a connection that receives room events.
type Subscriber struct {
	Session Session
	Ch      chan Event
	Done    chan struct{}
}

// room holds the live membership of one document. Each room carries its
// own locks so documents never contend with each other.
type room struct {
	mu      sync.RWMutex
	members map[ulid.ULID]*Subscriber

	// saveMu serializes durable saves and join-snapshot reads for this
	// document. Never held while sending to member channels is fine —
	// sends are non-blocking — but it must be held across the
	// compare-and-swap and the resulting broadcast so commit order and
	// delivery order agree.
	saveMu sync.Mutex
}

// Registry tracks which connections are joined to which documents and
// fans events out to them.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[bson.ObjectID]*room
	connIndex  map[ulid.ULID]bson.ObjectID
	bufferSize int
	dropped    uint64
}

// NewRegistry creates a session registry with the given per-connection
// event buffer size.
func NewRegistry(bufferSize int) *Registry {
	return &Registry{
		rooms:      make(map[bson.ObjectID]*room),
		connIndex:  make(map[ulid.ULID]bson.ObjectID),
		bufferSize: bufferSize,
	}
}

// getOrCreateRoom returns the room for docID, creating it when absent.
func (r *Registry) getOrCreateRoom(docID bson.ObjectID) *room {
	r.mu.RLock()
	rm := r.rooms[docID]
	r.mu.RUnlock()
	if rm != nil {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm = r.rooms[docID]; rm == nil {
		rm = &room{members: make(map[ulid.ULID]*Subscriber)}
		r.rooms[docID] = rm
	}
	return rm
}

func (r *Registry) getRoom(docID bson.ObjectID) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[docID]
}

// Join adds sess to its document's room and returns the subscriber
// whose channel receives room events. A connection holds at most one
// session; any previous membership of the same connection is removed
// first.
func (r *Registry) Join(sess Session) *Subscriber {
	if log := logger.L(); log != nil && log.Enabled(context.Background(), slog.LevelDebug) {
		log.Debug("registering session", "conn_id", sess.ConnID.String(), "user_id", sess.UserID.Hex(), "document_id", sess.DocumentID.Hex())
	}

	r.Leave(sess.ConnID)

	rm := r.getOrCreateRoom(sess.DocumentID)

	sub := &Subscriber{
		Session: sess,
		Ch:      make(chan Event, r.bufferSize),
		Done:    make(chan struct{}),
	}

	rm.mu.Lock()
	rm.members[sess.ConnID] = sub
	rm.mu.Unlock()

	r.mu.Lock()
	r.connIndex[sess.ConnID] = sess.DocumentID
	r.mu.Unlock()

	return sub
}

// Leave removes the connection's session, if any, and reports what was
// removed. Idempotent: leaving an unknown connection is a no-op. The
// room is dropped once its last member leaves so idle documents do not
// pin memory.
func (r *Registry) Leave(connID ulid.ULID) (Session, bool) {
	r.mu.RLock()
	docID, ok := r.connIndex[connID]
	r.mu.RUnlock()
	if !ok {
		return Session{}, false
	}

	rm := r.getRoom(docID)
	if rm == nil {
		r.mu.Lock()
		delete(r.connIndex, connID)
		r.mu.Unlock()
		return Session{}, false
	}

	rm.mu.Lock()
	sub, exists := rm.members[connID]
	if exists {
		delete(rm.members, connID)
	}
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if exists {
		close(sub.Ch)
		close(sub.Done)
	}

	r.mu.Lock()
	delete(r.connIndex, connID)
	if empty {
		delete(r.rooms, docID)
	}
	r.mu.Unlock()

	if !exists {
		return Session{}, false
	}
	return sub.Session, true
}

// Session returns the session registered for connID, if any.
func (r *Registry) Session(connID ulid.ULID) (Session, bool) {
	r.mu.RLock()
	docID, ok := r.connIndex[connID]
	r.mu.RUnlock()
	if !ok {
		return Session{}, false
	}

	rm := r.getRoom(docID)
	if rm == nil {
		return Session{}, false
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	sub, ok := rm.members[connID]
	if !ok {
		return Session{}, false
	}
	return sub.Session, true
}

// ListActive returns the room's members for display: one entry per
// user even when they hold several connections, ordered by earliest
// join.
func (r *Registry) ListActive(docID bson.ObjectID) []ActiveUser {
	rm := r.getRoom(docID)
	if rm == nil {
		return nil
	}

	rm.mu.RLock()
	sessions := make([]Session, 0, len(rm.members))
	for _, sub := range rm.members {
		sessions = append(sessions, sub.Session)
	}
	rm.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].JoinedAt.Equal(sessions[j].JoinedAt) {
			return sessions[i].ConnID.Compare(sessions[j].ConnID) < 0
		}
		return sessions[i].JoinedAt.Before(sessions[j].JoinedAt)
	})

	seen := make(map[bson.ObjectID]struct{}, len(sessions))
	users := make([]ActiveUser, 0, len(sessions))
	for _, s := range sessions {
		if _, dup := seen[s.UserID]; dup {
			continue
		}
		seen[s.UserID] = struct{}{}
		users = append(users, ActiveUser{
			UserID:      s.UserID,
			DisplayName: s.DisplayName,
			Permission:  s.Permission,
		})
	}
	return users
}

// IsEmpty reports whether the document currently has no members.
func (r *Registry) IsEmpty(docID bson.ObjectID) bool {
	rm := r.getRoom(docID)
	if rm == nil {
		return true
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members) == 0
}

// Broadcast delivers ev to every member of the document's room.
func (r *Registry) Broadcast(ctx context.Context, docID bson.ObjectID, ev Event) {
	r.broadcast(ctx, docID, ev, ulid.ULID{})
}

// BroadcastExcept delivers ev to every member except the given
// connection (the submitter of the event).
func (r *Registry) BroadcastExcept(ctx context.Context, docID bson.ObjectID, ev Event, except ulid.ULID) {
	r.broadcast(ctx, docID, ev, except)
}

// PublishCommit runs commit while holding the document's save lock and
// broadcasts the event it returns before releasing it. Collaborative
// saves hold the same lock across their compare-and-swap, so committed
// states reach subscribers in version order no matter which surface
// produced them.
func (r *Registry) PublishCommit(ctx context.Context, docID bson.ObjectID, commit func(ctx context.Context) (Event, error)) error {
	rm := r.getOrCreateRoom(docID)
	// A room created just for this commit must not outlive it.
	defer r.maybeReap(docID)

	rm.saveMu.Lock()
	defer rm.saveMu.Unlock()

	ev, err := commit(ctx)
	if err != nil {
		return err
	}
	if ev != nil {
		r.broadcast(ctx, docID, ev, ulid.ULID{})
	}
	return nil
}

func (r *Registry) broadcast(_ context.Context, docID bson.ObjectID, ev Event, except ulid.ULID) {
	log := logger.L()
	if log != nil && log.Enabled(context.Background(), slog.LevelDebug) {
		log.Debug("broadcasting event", "document_id", docID.Hex(), "event_type", ev.EventType())
	}

	rm := r.getRoom(docID)
	if rm == nil {
		return
	}

	rm.mu.RLock()
	for connID, sub := range rm.members {
		if connID == except {
			continue
		}
		sendOrDrop(sub.Ch, ev, func() {
			atomic.AddUint64(&r.dropped, 1)
			if log != nil {
				log.Warn("outbox full — dropping event", "conn_id", connID.String(), "document_id", docID.Hex(), "event_type", ev.EventType())
			}
		})
	}
	rm.mu.RUnlock()
}

// sendOrDrop is the only place that can decide to drop an event.
func sendOrDrop(ch chan Event, ev Event, onDrop func()) {
	select {
	case ch <- ev: // hot path, no nesting
	default:
		onDrop()
	}
}

// Stats returns current counters for observability / tests.
func (r *Registry) Stats() (sessions int, rooms int, dropped uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rm := range r.rooms {
		rm.mu.RLock()
		sessions += len(rm.members)
		rm.mu.RUnlock()
	}
	return sessions, len(r.rooms), atomic.LoadUint64(&r.dropped)
}

// maybeReap drops the document's room when it has no members. Used by
// the manager after a failed join so a room created for the snapshot
// read does not linger.
func (r *Registry) maybeReap(docID bson.ObjectID) {
	rm := r.getRoom(docID)
	if rm == nil {
		return
	}
	rm.mu.RLock()
	empty := len(rm.members) == 0
	rm.mu.RUnlock()
	if !empty {
		return
	}
	r.mu.Lock()
	// Re-check under the registry lock; a join may have raced in.
	if cur := r.rooms[docID]; cur == rm {
		cur.mu.RLock()
		if len(cur.members) == 0 {
			delete(r.rooms, docID)
		}
		cur.mu.RUnlock()
	}
	r.mu.Unlock()
}
