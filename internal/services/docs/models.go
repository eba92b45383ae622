package docs

import (
	"time"

	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Permission is the access level a user holds on a document.
type Permission string

const (
	PermissionNone  Permission = "none"
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionOwner Permission = "owner"
)

// CanRead reports whether the permission allows viewing the document.
func (p Permission) CanRead() bool {
	return p == PermissionRead || p == PermissionWrite || p == PermissionOwner
}

// CanWrite reports whether the permission allows durable saves.
func (p Permission) CanWrite() bool {
	return p == PermissionWrite || p == PermissionOwner
}

// Collaborator is a sharing grant on a document. At most one entry per
// user; re-adding a user overwrites the previous grant.
type Collaborator struct {
	UserID     bson.ObjectID `bson:"user_id" json:"user_id"`
	Permission Permission    `bson:"permission" json:"permission" validate:"oneof=read write"`
	AddedAt    time.Time     `bson:"added_at" json:"added_at"`
	AddedBy    bson.ObjectID `bson:"added_by" json:"added_by"`
}

// Document is the shared note being collaboratively edited. Version is
// the optimistic-concurrency token: it starts at 1 and is incremented
// exactly once per committed save.
type Document struct {
	ID            bson.ObjectID  `bson:"_id,omitempty" json:"id,omitempty" example:"683cdb8aa96ad71e8e075bd1"`
	OwnerID       bson.ObjectID  `bson:"owner_id" json:"owner_id" example:"683cdb8aa96ad71e8e075bd0"`
	Title         string         `bson:"title" json:"title" example:"Meeting Notes"`
	Body          string         `bson:"body" json:"body" example:"Remember to discuss the quarterly targets"`
	Collaborators []Collaborator `bson:"collaborators" json:"collaborators"`
	IsPublic      bool           `bson:"is_public" json:"is_public"`
	Version       int64          `bson:"version" json:"version" example:"1"`
	LastEditedBy  bson.ObjectID  `bson:"last_edited_by,omitempty" json:"last_edited_by,omitempty"`
	LastEditedAt  time.Time      `bson:"last_edited_at,omitempty" json:"last_edited_at,omitempty"`
	IsDeleted     bool           `bson:"is_deleted" json:"-"`
	DeletedAt     *time.Time     `bson:"deleted_at,omitempty" json:"-"`
	CreatedAt     time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `bson:"updated_at" json:"updated_at"`
}

// Collaborator returns the grant for userID, if any.
func (d *Document) Collaborator(userID bson.ObjectID) (Collaborator, bool) {
	for _, c := range d.Collaborators {
		if c.UserID == userID {
			return c, true
		}
	}
	return Collaborator{}, false
}

// Snapshot is the document view sent to a joining connection.
type Snapshot struct {
	ID      bson.ObjectID `json:"id"`
	Title   string        `json:"title"`
	Body    string        `json:"body"`
	Version int64         `json:"version"`
}

// Snapshot extracts the collaboration-relevant view of the document.
func (d *Document) Snapshot() Snapshot {
	return Snapshot{
		ID:      d.ID,
		Title:   d.Title,
		Body:    d.Body,
		Version: d.Version,
	}
}

// Session is one connection's membership in one document's room. It is
// ephemeral and owned by the registry; Permission is the level cached
// at join time.
type Session struct {
	DocumentID  bson.ObjectID
	UserID      bson.ObjectID
	DisplayName string
	ConnID      ulid.ULID
	Permission  Permission
	JoinedAt    time.Time
}

// ActiveUser is a registry member as shown to clients.
type ActiveUser struct {
	UserID      bson.ObjectID `json:"user_id"`
	DisplayName string        `json:"display_name"`
	Permission  Permission    `json:"permission"`
}

// EditSubmission is one inbound edit from a joined connection.
// ClientVersion is present only on the durable path.
type EditSubmission struct {
	DocumentID    bson.ObjectID
	Title         *string
	Body          *string
	ClientVersion int64
	Transient     bool
}

// SavePatch is the field set a committed save writes, applied
// atomically together with the version bump.
type SavePatch struct {
	Title    *string
	Body     *string
	EditorID bson.ObjectID
	EditedAt time.Time
}
