package docs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"note-sync/internal/utils/sanitize"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Service handles the plain CRUD surface for documents. Content writes
// go through the same compare-and-swap as collaborative saves so the
// version token stays the single source of truth, and committed
// changes are broadcast into the document's room.
type Service struct {
	repo Repository
	bus  Bus
	log  *slog.Logger
}

// NewService creates a new documents service.
func NewService(repo Repository, bus Bus, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		bus:  bus,
		log:  log,
	}
}

// CreateDocumentRequest represents a document creation request.
type CreateDocumentRequest struct {
	Title    string `json:"title" validate:"required" example:"Meeting Notes"`
	Body     string `json:"body" example:"Remember to discuss the quarterly targets"`
	IsPublic bool   `json:"is_public"`
}

// UpdateDocumentRequest represents a CRUD content update. ClientVersion
// is mandatory: REST updates obey the same optimistic concurrency as
// collaborative saves.
type UpdateDocumentRequest struct {
	Title         *string `json:"title,omitempty" validate:"omitempty,min=1"`
	Body          *string `json:"body,omitempty"`
	ClientVersion int64   `json:"client_version" validate:"required,min=1" example:"3"`
}

// ShareRequest adds or overwrites a collaborator grant.
type ShareRequest struct {
	UserID     string     `json:"user_id" validate:"required" example:"683cdb8aa96ad71e8e075bd0"`
	Permission Permission `json:"permission" validate:"required,oneof=read write"`
}

// PublishRequest toggles public read visibility.
type PublishRequest struct {
	IsPublic *bool `json:"is_public" validate:"required"`
}

// ListDocumentsRequest represents a list request.
type ListDocumentsRequest struct {
	Limit  int    `query:"limit"  validate:"omitempty,min=1,max=100" example:"50"`
	Cursor string `query:"cursor" validate:"omitempty" example:"683cdb8aa96ad71e8e075bd1"`
	Q      string `query:"q"      validate:"omitempty,min=1,max=256" example:"meeting"`
}

// DocumentResponse represents a single document response.
type DocumentResponse struct {
	Document *Document `json:"document"`
}

// ListDocumentsResponse represents a list of documents response.
type ListDocumentsResponse struct {
	Documents  []*Document `json:"documents"`
	NextCursor string      `json:"next_cursor,omitempty"`
	HasMore    bool        `json:"has_more"`
	TotalCount int64       `json:"total_count"`
}

// Create creates a new document owned by userID at version 1.
func (s *Service) Create(ctx context.Context, userID bson.ObjectID, req CreateDocumentRequest) (*DocumentResponse, error) {
	now := time.Now().UTC()
	doc := &Document{
		ID:            bson.NewObjectID(),
		OwnerID:       userID,
		Title:         sanitize.Clean(req.Title),
		Body:          sanitize.Clean(req.Body),
		Collaborators: []Collaborator{},
		IsPublic:      req.IsPublic,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		s.log.Error(ErrCreateDocument.Error(), "error", err, "user_id", userID.Hex())
		return nil, ErrCreateDocument
	}

	return &DocumentResponse{Document: doc}, nil
}

// Get returns the document when userID holds at least read access.
func (s *Service) Get(ctx context.Context, userID, docID bson.ObjectID) (*DocumentResponse, error) {
	doc, err := s.repo.Get(ctx, docID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, ErrDocumentNotFound
		}
		s.log.Error("failed to get document", "error", err, "document_id", docID.Hex())
		return nil, ErrStoreUnavailable
	}

	if !Evaluate(doc, userID).CanRead() {
		return nil, ErrAccessDenied
	}
	return &DocumentResponse{Document: doc}, nil
}

// List retrieves the documents visible to userID (owned or shared)
// with cursor pagination.
func (s *Service) List(ctx context.Context, userID bson.ObjectID, req ListDocumentsRequest) (*ListDocumentsResponse, error) {
	if req.Limit == 0 {
		req.Limit = 50
	}
	if req.Limit > 100 {
		return nil, ErrInvalidLimit
	}
	if req.Cursor != "" {
		if _, err := bson.ObjectIDFromHex(req.Cursor); err != nil {
			return nil, ErrInvalidCursor
		}
	}

	fetchReq := req
	fetchReq.Limit = req.Limit + 1

	entries, totalCount, err := s.repo.List(ctx, userID, fetchReq)
	if err != nil {
		s.log.Error(ErrListDocuments.Error(), "error", err, "user_id", userID.Hex())
		return nil, ErrListDocuments
	}

	hasMore := len(entries) > req.Limit
	if hasMore {
		entries = entries[:req.Limit]
	}

	resp := &ListDocumentsResponse{
		Documents:  entries,
		HasMore:    hasMore,
		TotalCount: totalCount,
	}
	if hasMore {
		resp.NextCursor = entries[len(entries)-1].ID.Hex()
	}
	return resp, nil
}

// Update applies a content patch through the compare-and-swap and
// broadcasts the committed state to the document's room. A lost swap
// surfaces as *ConflictError.
func (s *Service) Update(ctx context.Context, userID, docID bson.ObjectID, req UpdateDocumentRequest) (*DocumentResponse, error) {
	doc, err := s.repo.Get(ctx, docID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, ErrDocumentNotFound
		}
		s.log.Error("failed to get document for update", "error", err, "document_id", docID.Hex())
		return nil, ErrStoreUnavailable
	}

	perm := Evaluate(doc, userID)
	if !perm.CanWrite() {
		if !perm.CanRead() {
			return nil, ErrDocumentNotFound
		}
		return nil, ErrWriteAccessDenied
	}

	// The swap and its broadcast run under the room's save lock so a
	// REST commit can never be delivered out of version order with a
	// collaborative save.
	var updated *Document
	err = s.bus.PublishCommit(ctx, docID, func(ctx context.Context) (Event, error) {
		var err error
		updated, err = s.repo.CompareAndSwap(ctx, docID, req.ClientVersion, SavePatch{
			Title:    cleanPtr(req.Title),
			Body:     cleanPtr(req.Body),
			EditorID: userID,
			EditedAt: time.Now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		return SavedEvent{
			Type:    EventSaved,
			Version: updated.Version,
			Title:   updated.Title,
			Body:    updated.Body,
			Editor:  ActiveUser{UserID: userID, Permission: perm},
		}, nil
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil, conflict
		}
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, ErrDocumentNotFound
		}
		s.log.Error("failed to update document", "error", err, "document_id", docID.Hex(), "user_id", userID.Hex())
		return nil, ErrStoreUnavailable
	}

	return &DocumentResponse{Document: updated}, nil
}

// Delete soft-deletes the document. Owner only.
func (s *Service) Delete(ctx context.Context, userID, docID bson.ObjectID) error {
	doc, err := s.repo.Get(ctx, docID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return ErrDocumentNotFound
		}
		s.log.Error("failed to get document for delete", "error", err, "document_id", docID.Hex())
		return ErrStoreUnavailable
	}

	perm := Evaluate(doc, userID)
	if perm == PermissionNone {
		return ErrDocumentNotFound
	}
	if perm != PermissionOwner {
		return ErrNotOwner
	}

	err = s.bus.PublishCommit(ctx, docID, func(ctx context.Context) (Event, error) {
		if err := s.repo.SoftDelete(ctx, docID, time.Now().UTC()); err != nil {
			return nil, err
		}
		return DeletedEvent{Type: EventDeleted, DocumentID: docID}, nil
	})
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return ErrDocumentNotFound
		}
		s.log.Error("failed to delete document", "error", err, "document_id", docID.Hex())
		return ErrStoreUnavailable
	}
	return nil
}

// Share adds or overwrites a collaborator grant. Owner only; the owner
// cannot be demoted to a collaborator of their own document.
func (s *Service) Share(ctx context.Context, userID, docID bson.ObjectID, req ShareRequest) (*DocumentResponse, error) {
	collabID, err := bson.ObjectIDFromHex(req.UserID)
	if err != nil {
		return nil, ErrDocumentNotFound
	}

	doc, err := s.ownedDocument(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	if collabID == doc.OwnerID {
		return nil, ErrNotOwner
	}

	updated, err := s.repo.SetCollaborator(ctx, docID, Collaborator{
		UserID:     collabID,
		Permission: req.Permission,
		AddedAt:    time.Now().UTC(),
		AddedBy:    userID,
	})
	if err != nil {
		s.log.Error("failed to share document", "error", err, "document_id", docID.Hex())
		return nil, ErrStoreUnavailable
	}
	return &DocumentResponse{Document: updated}, nil
}

// Unshare removes a collaborator grant. Owner only. Removing a user
// who is not a collaborator is a no-op.
func (s *Service) Unshare(ctx context.Context, userID, docID, collabID bson.ObjectID) (*DocumentResponse, error) {
	if _, err := s.ownedDocument(ctx, userID, docID); err != nil {
		return nil, err
	}

	updated, err := s.repo.RemoveCollaborator(ctx, docID, collabID)
	if err != nil {
		s.log.Error("failed to unshare document", "error", err, "document_id", docID.Hex())
		return nil, ErrStoreUnavailable
	}
	return &DocumentResponse{Document: updated}, nil
}

// Publish toggles public read visibility. Owner only.
func (s *Service) Publish(ctx context.Context, userID, docID bson.ObjectID, req PublishRequest) (*DocumentResponse, error) {
	if _, err := s.ownedDocument(ctx, userID, docID); err != nil {
		return nil, err
	}

	updated, err := s.repo.SetPublic(ctx, docID, *req.IsPublic)
	if err != nil {
		s.log.Error("failed to publish document", "error", err, "document_id", docID.Hex())
		return nil, ErrStoreUnavailable
	}
	return &DocumentResponse{Document: updated}, nil
}

// ownedDocument fetches the document and requires userID to be its
// owner.
func (s *Service) ownedDocument(ctx context.Context, userID, docID bson.ObjectID) (*Document, error) {
	doc, err := s.repo.Get(ctx, docID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, ErrDocumentNotFound
		}
		s.log.Error("failed to get document", "error", err, "document_id", docID.Hex())
		return nil, ErrStoreUnavailable
	}
	perm := Evaluate(doc, userID)
	if perm == PermissionNone {
		return nil, ErrDocumentNotFound
	}
	if perm != PermissionOwner {
		return nil, ErrNotOwner
	}
	return doc, nil
}

// cleanPtr sanitizes an optional text field in place.
func cleanPtr(s *string) *string {
	if s == nil {
		return nil
	}
	cleaned := sanitize.Clean(*s)
	return &cleaned
}
