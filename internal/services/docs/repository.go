package docs

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Repository defines the document store adapter. CompareAndSwap is the
// single write primitive for document content: it persists the patch
// and bumps the version atomically, only when the stored version still
// equals expectedVersion.
type Repository interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id bson.ObjectID) (*Document, error)
	List(ctx context.Context, userID bson.ObjectID, req ListDocumentsRequest) ([]*Document, int64, error)
	CompareAndSwap(ctx context.Context, id bson.ObjectID, expectedVersion int64, patch SavePatch) (*Document, error)
	SoftDelete(ctx context.Context, id bson.ObjectID, deletedAt time.Time) error
	SetCollaborator(ctx context.Context, id bson.ObjectID, collab Collaborator) (*Document, error)
	RemoveCollaborator(ctx context.Context, id, userID bson.ObjectID) (*Document, error)
	SetPublic(ctx context.Context, id bson.ObjectID, public bool) (*Document, error)
}

// Bus defines the interface for event broadcasting into a document's
// room. Implemented by Registry; the CRUD service uses it so REST
// edits reach live viewers.
type Bus interface {
	Broadcast(ctx context.Context, docID bson.ObjectID, ev Event)

	// PublishCommit runs commit under the document's save lock and
	// broadcasts the returned event before releasing it, so delivery
	// order matches commit order across every write surface.
	PublishCommit(ctx context.Context, docID bson.ObjectID, commit func(ctx context.Context) (Event, error)) error
}
