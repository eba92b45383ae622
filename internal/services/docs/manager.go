package docs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	// joinTimeout bounds the access evaluation on join. A store that
	// cannot answer in time fails closed.
	joinTimeout = 5 * time.Second

	// saveTimeout bounds a durable save. The save runs on a context
	// detached from the connection: a client dropping mid-save must not
	// abort an in-flight compare-and-swap.
	saveTimeout = 10 * time.Second
)

// Manager owns the collaboration state machine per connection. It
// validates access on join, classifies edit submissions as transient
// or durable, applies optimistic concurrency on durable saves and fans
// outcomes out through the registry.
type Manager struct {
	store    Repository
	registry *Registry
	log      *slog.Logger
}

// NewManager creates a collaboration session manager.
func NewManager(store Repository, registry *Registry, log *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		log:      log,
	}
}

// Join evaluates access for (connID, userID) on docID, registers the
// session and returns the snapshot reply together with the subscriber
// carrying subsequent room events. Other members are notified with a
// peer_joined broadcast before any later edit from this connection can
// be delivered.
//
// A connection holds at most one session; joining while joined leaves
// the previous room first.
func (m *Manager) Join(ctx context.Context, connID ulid.ULID, userID bson.ObjectID, displayName string, docID bson.ObjectID) (*JoinedEvent, *Subscriber, error) {
	m.Leave(ctx, connID, LeaveExplicit)

	rm := m.registry.getOrCreateRoom(docID)
	rm.saveMu.Lock()
	defer rm.saveMu.Unlock()

	getCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	doc, err := m.store.Get(getCtx, docID)
	if err != nil {
		m.registry.maybeReap(docID)
		if errors.Is(err, ErrDocumentNotFound) {
			m.log.Info("join rejected: unknown document", "document_id", docID.Hex(), "user_id", userID.Hex())
			return nil, nil, ErrAccessDenied
		}
		// Fail closed: when access cannot be evaluated nobody gets in.
		m.log.Error("join failed: store unreachable", "document_id", docID.Hex(), "user_id", userID.Hex(), "error", err)
		return nil, nil, ErrAccessDenied
	}

	perm := Evaluate(doc, userID)
	if !perm.CanRead() {
		m.registry.maybeReap(docID)
		m.log.Info("join rejected", "document_id", docID.Hex(), "user_id", userID.Hex())
		return nil, nil, ErrAccessDenied
	}

	sess := Session{
		DocumentID:  docID,
		UserID:      userID,
		DisplayName: displayName,
		ConnID:      connID,
		Permission:  perm,
		JoinedAt:    time.Now().UTC(),
	}
	sub := m.registry.Join(sess)

	m.registry.BroadcastExcept(ctx, docID, PeerJoinedEvent{
		Type: EventPeerJoined,
		User: ActiveUser{UserID: userID, DisplayName: displayName, Permission: perm},
	}, connID)

	reply := &JoinedEvent{
		Type:        EventJoined,
		Document:    doc.Snapshot(),
		Permission:  perm,
		ActiveUsers: m.registry.ListActive(docID),
	}

	m.log.Info("session joined", "document_id", docID.Hex(), "user_id", userID.Hex(), "conn_id", connID.String(), "permission", string(perm))
	return reply, sub, nil
}

// SubmitEdit handles one edit from a joined connection. Transient
// submissions are fanned out to the other room members and never touch
// the store. Durable submissions go through the per-document
// compare-and-swap; the returned event, when non-nil, is a direct
// reply owed to the submitting connection only (a conflict report).
func (m *Manager) SubmitEdit(ctx context.Context, connID ulid.ULID, sub EditSubmission) (Event, error) {
	sess, ok := m.registry.Session(connID)
	if !ok || sess.DocumentID != sub.DocumentID {
		m.log.Warn("edit from connection without session", "conn_id", connID.String(), "document_id", sub.DocumentID.Hex())
		return nil, ErrNotJoined
	}

	if !sess.Permission.CanWrite() {
		m.log.Info("edit rejected: read-only session", "conn_id", connID.String(), "user_id", sess.UserID.Hex(), "document_id", sub.DocumentID.Hex())
		return nil, ErrWriteAccessDenied
	}

	if sub.Transient {
		m.broadcastTransient(ctx, sess, sub)
		return nil, nil
	}

	return m.save(ctx, sess, sub)
}

// broadcastTransient fans a live-typing preview out to the other room
// members. Pure in-memory fan-out, nothing to persist, nothing to ack.
func (m *Manager) broadcastTransient(ctx context.Context, sess Session, sub EditSubmission) {
	m.registry.BroadcastExcept(ctx, sess.DocumentID, PeerUpdateEvent{
		Type:      EventPeerUpdate,
		User:      ActiveUser{UserID: sess.UserID, DisplayName: sess.DisplayName, Permission: sess.Permission},
		Title:     sub.Title,
		Body:      sub.Body,
		Transient: true,
	}, sess.ConnID)
}

// save performs the durable path: re-validate permission against a
// fresh read, compare-and-swap, then broadcast the committed state to
// every member, submitter included. Saves for one document are
// serialized by the room's save lock so two racing saves can never
// both commit against the same prior version.
func (m *Manager) save(ctx context.Context, sess Session, sub EditSubmission) (Event, error) {
	rm := m.registry.getRoom(sess.DocumentID)
	if rm == nil {
		return nil, ErrNotJoined
	}

	rm.saveMu.Lock()
	defer rm.saveMu.Unlock()

	// The in-flight save is not owned by the connection's lifetime.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	// The permission cached at join time may be stale (a revoked share,
	// a deleted document). Durable saves must not persist on it.
	fresh, err := m.store.Get(saveCtx, sess.DocumentID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, ErrDocumentNotFound
		}
		m.log.Error("save failed: store unreachable", "document_id", sess.DocumentID.Hex(), "user_id", sess.UserID.Hex(), "error", err)
		return nil, ErrStoreUnavailable
	}
	perm := Evaluate(fresh, sess.UserID)
	if !perm.CanWrite() {
		m.log.Info("save rejected: permission revoked mid-session", "document_id", sess.DocumentID.Hex(), "user_id", sess.UserID.Hex())
		return nil, ErrWriteAccessDenied
	}

	updated, err := m.store.CompareAndSwap(saveCtx, sess.DocumentID, sub.ClientVersion, SavePatch{
		Title:    cleanPtr(sub.Title),
		Body:     cleanPtr(sub.Body),
		EditorID: sess.UserID,
		EditedAt: time.Now().UTC(),
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			m.log.Info("save lost compare-and-swap", "document_id", sess.DocumentID.Hex(), "user_id", sess.UserID.Hex(), "client_version", conflict.ClientVersion, "server_version", conflict.ServerVersion)
			return ConflictEvent{
				Type:          EventConflict,
				ClientVersion: conflict.ClientVersion,
				ServerVersion: conflict.ServerVersion,
				ServerTitle:   conflict.ServerTitle,
				ServerBody:    conflict.ServerBody,
			}, nil
		}
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, ErrDocumentNotFound
		}
		m.log.Error("save failed", "document_id", sess.DocumentID.Hex(), "user_id", sess.UserID.Hex(), "error", err)
		return nil, ErrStoreUnavailable
	}

	m.registry.Broadcast(ctx, sess.DocumentID, SavedEvent{
		Type:    EventSaved,
		Version: updated.Version,
		Title:   updated.Title,
		Body:    updated.Body,
		Editor:  ActiveUser{UserID: sess.UserID, DisplayName: sess.DisplayName, Permission: perm},
	})

	m.log.Info("save committed", "document_id", sess.DocumentID.Hex(), "user_id", sess.UserID.Hex(), "version", updated.Version)
	return nil, nil
}

// Leave removes the connection's session and notifies the remaining
// members. Idempotent: a connection that never joined, or leaves
// twice, produces no broadcast and no error.
func (m *Manager) Leave(ctx context.Context, connID ulid.ULID, reason LeaveReason) bool {
	sess, ok := m.registry.Leave(connID)
	if !ok {
		return false
	}

	m.registry.Broadcast(ctx, sess.DocumentID, PeerLeftEvent{
		Type:   EventPeerLeft,
		User:   ActiveUser{UserID: sess.UserID, DisplayName: sess.DisplayName, Permission: sess.Permission},
		Reason: reason,
	})

	m.log.Info("session left", "document_id", sess.DocumentID.Hex(), "user_id", sess.UserID.Hex(), "conn_id", connID.String(), "reason", string(reason))
	return true
}
