package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"note-sync/internal/logger"
	"note-sync/internal/services/docs"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DocsRepo implements the docs.Repository interface for MongoDB. The
// compare-and-swap rides on FindOneAndUpdate filtered by {_id,
// version}: the document database applies it atomically, so a lost
// race can never interleave title, body and version.
type DocsRepo struct {
	collection *mongo.Collection
}

func repoCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return WithRepoTimeout(parent, OpTimeout)
}

// translateNotFound maps the driver ErrNoDocuments to the domain-level
// docs.ErrDocumentNotFound.
func translateNotFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docs.ErrDocumentNotFound
	}
	return err
}

// NewDocsRepo creates a new documents repository.
func NewDocsRepo(parentCtx context.Context, db *mongo.Database) (*DocsRepo, error) {
	collection := db.Collection("documents")

	indexes := []mongo.IndexModel{
		// Owner listing with _id pagination
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "_id", Value: -1},
			},
		},
		// Shared-with-me listing
		{
			Keys: bson.D{
				{Key: "collaborators.user_id", Value: 1},
				{Key: "_id", Value: -1},
			},
		},
		// Text search over title and body
		{
			Keys: bson.D{
				{Key: "title", Value: "text"},
				{Key: "body", Value: "text"},
			},
		},
	}

	ctx, cancel := context.WithTimeout(parentCtx, OpTimeout)
	defer cancel()

	for _, indexModel := range indexes {
		_, err := collection.Indexes().CreateOne(ctx, indexModel)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				logger.L().Debug("index already exists, continuing", "collection", "documents")
			} else {
				logger.L().Error("failed to create index", "collection", "documents", "error", err)
				return nil, fmt.Errorf("failed to create documents collection index: %w", err)
			}
		}
	}

	return &DocsRepo{
		collection: collection,
	}, nil
}

// Create inserts a new document. The caller sets version (1 for fresh
// documents).
func (r *DocsRepo) Create(ctx context.Context, doc *docs.Document) error {
	ctx, cancel := repoCtx(ctx)
	defer cancel()

	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Version == 0 {
		doc.Version = 1
	}

	_, err := r.collection.InsertOne(ctx, doc)
	return err
}

// Get fetches a document by id, soft-deleted ones included; access
// interpretation is the evaluator's job, not the store's.
func (r *DocsRepo) Get(ctx context.Context, id bson.ObjectID) (*docs.Document, error) {
	ctx, cancel := repoCtx(ctx)
	defer cancel()

	var doc docs.Document
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &doc, nil
}

// List retrieves the non-deleted documents the user owns or is a
// collaborator on, newest first, with _id cursor pagination.
func (r *DocsRepo) List(ctx context.Context, userID bson.ObjectID, req docs.ListDocumentsRequest) ([]*docs.Document, int64, error) {
	ctx, cancel := repoCtx(ctx)
	defer cancel()

	filter, err := r.buildListFilter(userID, req)
	if err != nil {
		return nil, 0, err
	}

	countFilter, _ := r.buildListFilter(userID, docs.ListDocumentsRequest{Q: req.Q})
	totalCount, err := r.collection.CountDocuments(ctx, countFilter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(req.Limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, totalCount, err
	}
	defer func(ctxToClose context.Context) {
		if cerr := cursor.Close(ctxToClose); cerr != nil {
			logger.L().Error("failed to close cursor", "error", cerr)
		}
	}(ctx)

	var list []*docs.Document
	if err := cursor.All(ctx, &list); err != nil {
		return nil, totalCount, err
	}
	return list, totalCount, nil
}

// buildListFilter constructs the MongoDB filter for the List query.
func (r *DocsRepo) buildListFilter(userID bson.ObjectID, req docs.ListDocumentsRequest) (bson.M, error) {
	filter := bson.M{
		"is_deleted": false,
		"$or": bson.A{
			bson.M{"owner_id": userID},
			bson.M{"collaborators.user_id": userID},
		},
	}

	addSearchFilter(filter, req.Q)

	if req.Cursor != "" {
		after, err := bson.ObjectIDFromHex(req.Cursor)
		if err != nil {
			return nil, docs.ErrInvalidCursor
		}
		filter["_id"] = bson.M{"$lt": after}
	}

	return filter, nil
}

// addSearchFilter adds search conditions to the filter.
func addSearchFilter(filter bson.M, query string) {
	if query == "" {
		return
	}

	if len(query) >= 3 {
		// Use MongoDB text search for better performance
		filter["$text"] = bson.M{"$search": query}
	} else {
		// Fall back to regex for short queries
		pattern := regexp.QuoteMeta(query)
		regex := bson.M{"$regex": pattern, "$options": "i"}
		filter["$and"] = bson.A{
			bson.M{"$or": bson.A{
				bson.M{"title": regex},
				bson.M{"body": regex},
			}},
		}
	}
}

// CompareAndSwap persists the patch and increments version in one
// atomic update, guarded by the expected version. A mismatch returns
// *docs.ConflictError carrying the current server state.
func (r *DocsRepo) CompareAndSwap(ctx context.Context, id bson.ObjectID, expectedVersion int64, patch docs.SavePatch) (*docs.Document, error) {
	ctx, cancel := repoCtx(ctx)
	defer cancel()

	set := bson.M{
		"last_edited_by": patch.EditorID,
		"last_edited_at": patch.EditedAt,
		"updated_at":     patch.EditedAt,
	}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Body != nil {
		set["body"] = *patch.Body
	}

	filter := bson.M{
		"_id":        id,
		"version":    expectedVersion,
		"is_deleted": false,
	}
	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated docs.Document
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	// The guarded update matched nothing: either the version moved or
	// the document is gone. Fetch current state to tell them apart.
	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current.IsDeleted {
		return nil, docs.ErrDocumentNotFound
	}
	return nil, &docs.ConflictError{
		ClientVersion: expectedVersion,
		ServerVersion: current.Version,
		ServerTitle:   current.Title,
		ServerBody:    current.Body,
	}
}

// SoftDelete flags the document as deleted. Already-deleted documents
// report not found.
func (r *DocsRepo) SoftDelete(ctx context.Context, id bson.ObjectID, deletedAt time.Time) error {
	ctx, cancel := repoCtx(ctx)
	defer cancel()

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "is_deleted": false},
		bson.M{"$set": bson.M{
			"is_deleted": true,
			"deleted_at": deletedAt,
			"updated_at": deletedAt,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return docs.ErrDocumentNotFound
	}
	return nil
}

// SetCollaborator adds or overwrites the grant for collab.UserID. Two
// steps (pull then push) keep the per-user uniqueness invariant without
// requiring a positional upsert.
func (r *DocsRepo) SetCollaborator(ctx context.Context, id bson.ObjectID, collab docs.Collaborator) (*docs.Document, error) {
	ctx, cancel := repoCtx(ctx)
	defer cancel()

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "is_deleted": false},
		bson.M{"$pull": bson.M{"collaborators": bson.M{"user_id": collab.UserID}}},
	)
	if err != nil {
		return nil, err
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated docs.Document
	err = r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "is_deleted": false},
		bson.M{
			"$push": bson.M{"collaborators": collab},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
		opts,
	).Decode(&updated)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &updated, nil
}

// RemoveCollaborator drops the grant for userID, if present.
func (r *DocsRepo) RemoveCollaborator(ctx context.Context, id, userID bson.ObjectID) (*docs.Document, error) {
	ctx, cancel := repoCtx(ctx)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated docs.Document
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "is_deleted": false},
		bson.M{
			"$pull": bson.M{"collaborators": bson.M{"user_id": userID}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
		opts,
	).Decode(&updated)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &updated, nil
}

// SetPublic toggles public read visibility.
func (r *DocsRepo) SetPublic(ctx context.Context, id bson.ObjectID, public bool) (*docs.Document, error) {
	ctx, cancel := repoCtx(ctx)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated docs.Document
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "is_deleted": false},
		bson.M{"$set": bson.M{
			"is_public":  public,
			"updated_at": time.Now().UTC(),
		}},
		opts,
	).Decode(&updated)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &updated, nil
}
