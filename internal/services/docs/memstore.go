package docs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemStore is an in-memory Repository with the same compare-and-swap
// semantics as the MongoDB adapter. It backs unit tests and keeps the
// OCC contract executable without a database.
type MemStore struct {
	mu   sync.Mutex
	docs map[bson.ObjectID]*Document

	// failErr, when set, is returned by every call. Simulates an
	// unavailable store.
	failErr error
}

// NewMemStore creates an empty in-memory document store.
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[bson.ObjectID]*Document)}
}

// SetFailing makes every subsequent call return err (nil restores
// normal operation).
func (s *MemStore) SetFailing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *MemStore) Create(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	if doc.ID.IsZero() {
		doc.ID = bson.NewObjectID()
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *MemStore) Get(_ context.Context, id bson.ObjectID) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	cp := s.clone(doc)
	return cp, nil
}

func (s *MemStore) List(_ context.Context, userID bson.ObjectID, req ListDocumentsRequest) ([]*Document, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, 0, s.failErr
	}
	var cursor bson.ObjectID
	if req.Cursor != "" {
		var err error
		if cursor, err = bson.ObjectIDFromHex(req.Cursor); err != nil {
			return nil, 0, ErrInvalidCursor
		}
	}

	var visible []*Document
	for _, doc := range s.docs {
		if doc.IsDeleted {
			continue
		}
		if doc.OwnerID != userID {
			if _, ok := doc.Collaborator(userID); !ok {
				continue
			}
		}
		visible = append(visible, s.clone(doc))
	}
	// newest first, same order the MongoDB adapter produces
	sort.Slice(visible, func(i, j int) bool {
		return visible[i].ID.Hex() > visible[j].ID.Hex()
	})
	total := int64(len(visible))

	var out []*Document
	for _, doc := range visible {
		if !cursor.IsZero() && doc.ID.Hex() >= cursor.Hex() {
			continue
		}
		out = append(out, doc)
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	return out, total, nil
}

func (s *MemStore) CompareAndSwap(_ context.Context, id bson.ObjectID, expectedVersion int64, patch SavePatch) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	doc, ok := s.docs[id]
	if !ok || doc.IsDeleted {
		return nil, ErrDocumentNotFound
	}
	if doc.Version != expectedVersion {
		return nil, &ConflictError{
			ClientVersion: expectedVersion,
			ServerVersion: doc.Version,
			ServerTitle:   doc.Title,
			ServerBody:    doc.Body,
		}
	}
	if patch.Title != nil {
		doc.Title = *patch.Title
	}
	if patch.Body != nil {
		doc.Body = *patch.Body
	}
	doc.Version++
	doc.LastEditedBy = patch.EditorID
	doc.LastEditedAt = patch.EditedAt
	doc.UpdatedAt = patch.EditedAt
	return s.clone(doc), nil
}

func (s *MemStore) SoftDelete(_ context.Context, id bson.ObjectID, deletedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	doc, ok := s.docs[id]
	if !ok || doc.IsDeleted {
		return ErrDocumentNotFound
	}
	doc.IsDeleted = true
	doc.DeletedAt = &deletedAt
	doc.UpdatedAt = deletedAt
	return nil
}

func (s *MemStore) SetCollaborator(_ context.Context, id bson.ObjectID, collab Collaborator) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	doc, ok := s.docs[id]
	if !ok || doc.IsDeleted {
		return nil, ErrDocumentNotFound
	}
	replaced := false
	for i, c := range doc.Collaborators {
		if c.UserID == collab.UserID {
			doc.Collaborators[i] = collab
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Collaborators = append(doc.Collaborators, collab)
	}
	doc.UpdatedAt = time.Now().UTC()
	return s.clone(doc), nil
}

func (s *MemStore) RemoveCollaborator(_ context.Context, id, userID bson.ObjectID) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	doc, ok := s.docs[id]
	if !ok || doc.IsDeleted {
		return nil, ErrDocumentNotFound
	}
	kept := doc.Collaborators[:0]
	for _, c := range doc.Collaborators {
		if c.UserID != userID {
			kept = append(kept, c)
		}
	}
	doc.Collaborators = kept
	doc.UpdatedAt = time.Now().UTC()
	return s.clone(doc), nil
}

func (s *MemStore) SetPublic(_ context.Context, id bson.ObjectID, public bool) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	doc, ok := s.docs[id]
	if !ok || doc.IsDeleted {
		return nil, ErrDocumentNotFound
	}
	doc.IsPublic = public
	doc.UpdatedAt = time.Now().UTC()
	return s.clone(doc), nil
}

// clone copies the stored document, collaborator slice included, so
// callers never alias store-owned memory.
func (s *MemStore) clone(doc *Document) *Document {
	cp := *doc
	cp.Collaborators = append([]Collaborator(nil), doc.Collaborators...)
	return &cp
}

// ErrMemStoreDown is a ready-made failure for SetFailing in tests.
var ErrMemStoreDown = errors.New("memstore: simulated outage")
