package docs

import (
	"context"
	"testing"

	"note-sync/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type serviceFixture struct {
	store    *MemStore
	registry *Registry
	svc      *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	quietLogger(t)

	store := NewMemStore()
	registry := NewRegistry(256)
	return &serviceFixture{
		store:    store,
		registry: registry,
		svc:      NewService(store, registry, logger.L()),
	}
}

// subscribe attaches a bare room member so the test can observe what
// the service broadcasts.
func (f *serviceFixture) subscribe(docID bson.ObjectID) *Subscriber {
	return f.registry.Join(testSession(docID, bson.NewObjectID(), "Watcher", PermissionRead))
}

func TestServiceCreate(t *testing.T) {
	f := newServiceFixture(t)
	owner := bson.NewObjectID()

	resp, err := f.svc.Create(context.Background(), owner, CreateDocumentRequest{
		Title:    "  <b>Launch</b> plan ",
		Body:     "<script>alert('x')</script>step one",
		IsPublic: true,
	})
	require.NoError(t, err)

	doc := resp.Document
	assert.Equal(t, owner, doc.OwnerID)
	assert.Equal(t, "Launch plan", doc.Title)
	assert.Equal(t, "step one", doc.Body)
	assert.True(t, doc.IsPublic)
	assert.EqualValues(t, 1, doc.Version)
	assert.NotNil(t, doc.Collaborators)
	assert.Empty(t, doc.Collaborators)

	stored, err := f.store.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Launch plan", stored.Title)
}

func TestServiceGet(t *testing.T) {
	f := newServiceFixture(t)
	owner := bson.NewObjectID()
	reader := bson.NewObjectID()

	created, err := f.svc.Create(context.Background(), owner, CreateDocumentRequest{Title: "private"})
	require.NoError(t, err)
	docID := created.Document.ID

	_, err = f.store.SetCollaborator(context.Background(), docID, Collaborator{UserID: reader, Permission: PermissionRead})
	require.NoError(t, err)

	t.Run("owner", func(t *testing.T) {
		resp, err := f.svc.Get(context.Background(), owner, docID)
		require.NoError(t, err)
		assert.Equal(t, "private", resp.Document.Title)
	})

	t.Run("read collaborator", func(t *testing.T) {
		_, err := f.svc.Get(context.Background(), reader, docID)
		assert.NoError(t, err)
	})

	t.Run("stranger", func(t *testing.T) {
		_, err := f.svc.Get(context.Background(), bson.NewObjectID(), docID)
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("unknown document", func(t *testing.T) {
		_, err := f.svc.Get(context.Background(), owner, bson.NewObjectID())
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("public document readable by anyone", func(t *testing.T) {
		pub, err := f.svc.Create(context.Background(), owner, CreateDocumentRequest{Title: "open", IsPublic: true})
		require.NoError(t, err)

		_, err = f.svc.Get(context.Background(), bson.NewObjectID(), pub.Document.ID)
		assert.NoError(t, err)
	})
}

func TestServiceList(t *testing.T) {
	f := newServiceFixture(t)
	owner := bson.NewObjectID()

	for _, title := range []string{"one", "two", "three"} {
		_, err := f.svc.Create(context.Background(), owner, CreateDocumentRequest{Title: title})
		require.NoError(t, err)
	}

	t.Run("default limit returns everything", func(t *testing.T) {
		resp, err := f.svc.List(context.Background(), owner, ListDocumentsRequest{})
		require.NoError(t, err)
		assert.Len(t, resp.Documents, 3)
		assert.False(t, resp.HasMore)
		assert.Empty(t, resp.NextCursor)
		assert.EqualValues(t, 3, resp.TotalCount)
	})

	t.Run("cursor pagination walks all pages", func(t *testing.T) {
		first, err := f.svc.List(context.Background(), owner, ListDocumentsRequest{Limit: 2})
		require.NoError(t, err)
		require.Len(t, first.Documents, 2)
		assert.True(t, first.HasMore)
		require.NotEmpty(t, first.NextCursor)

		second, err := f.svc.List(context.Background(), owner, ListDocumentsRequest{Limit: 2, Cursor: first.NextCursor})
		require.NoError(t, err)
		require.Len(t, second.Documents, 1)
		assert.False(t, second.HasMore)

		seen := map[string]bool{}
		for _, d := range append(first.Documents, second.Documents...) {
			seen[d.ID.Hex()] = true
		}
		assert.Len(t, seen, 3, "pages must not overlap")
	})

	t.Run("strangers see nothing", func(t *testing.T) {
		resp, err := f.svc.List(context.Background(), bson.NewObjectID(), ListDocumentsRequest{})
		require.NoError(t, err)
		assert.Empty(t, resp.Documents)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		_, err := f.svc.List(context.Background(), owner, ListDocumentsRequest{Cursor: "not-an-object-id"})
		assert.ErrorIs(t, err, ErrInvalidCursor)
	})

	t.Run("limit over the cap", func(t *testing.T) {
		_, err := f.svc.List(context.Background(), owner, ListDocumentsRequest{Limit: 101})
		assert.ErrorIs(t, err, ErrInvalidLimit)
	})
}

func TestServiceUpdate(t *testing.T) {
	f := newServiceFixture(t)
	owner := bson.NewObjectID()
	reader := bson.NewObjectID()

	created, err := f.svc.Create(context.Background(), owner, CreateDocumentRequest{Title: "draft", Body: "v1 body"})
	require.NoError(t, err)
	docID := created.Document.ID

	_, err = f.store.SetCollaborator(context.Background(), docID, Collaborator{UserID: reader, Permission: PermissionRead})
	require.NoError(t, err)

	watcher := f.subscribe(docID)

	t.Run("committed update broadcasts into the room", func(t *testing.T) {
		resp, err := f.svc.Update(context.Background(), owner, docID, UpdateDocumentRequest{
			Body:          strPtr("v2 body"),
			ClientVersion: 1,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, resp.Document.Version)
		assert.Equal(t, "v2 body", resp.Document.Body)
		assert.Equal(t, "draft", resp.Document.Title, "omitted fields keep their value")

		events := drain(watcher.Ch)
		require.Len(t, events, 1)
		saved, ok := events[0].(SavedEvent)
		require.True(t, ok)
		assert.EqualValues(t, 2, saved.Version)
		assert.Equal(t, owner, saved.Editor.UserID)
	})

	t.Run("stale version surfaces the server state", func(t *testing.T) {
		_, err := f.svc.Update(context.Background(), owner, docID, UpdateDocumentRequest{
			Body:          strPtr("built on v1"),
			ClientVersion: 1,
		})
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.EqualValues(t, 1, conflict.ClientVersion)
		assert.EqualValues(t, 2, conflict.ServerVersion)
		assert.Equal(t, "v2 body", conflict.ServerBody)

		assert.Empty(t, drain(watcher.Ch), "a lost swap must not broadcast")
	})

	t.Run("read-only collaborator", func(t *testing.T) {
		_, err := f.svc.Update(context.Background(), reader, docID, UpdateDocumentRequest{
			Body:          strPtr("nope"),
			ClientVersion: 2,
		})
		assert.ErrorIs(t, err, ErrWriteAccessDenied)
	})

	t.Run("stranger cannot probe for existence", func(t *testing.T) {
		_, err := f.svc.Update(context.Background(), bson.NewObjectID(), docID, UpdateDocumentRequest{
			Body:          strPtr("nope"),
			ClientVersion: 2,
		})
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})
}

func TestServiceDelete(t *testing.T) {
	f := newServiceFixture(t)
	owner := bson.NewObjectID()
	writer := bson.NewObjectID()

	created, err := f.svc.Create(context.Background(), owner, CreateDocumentRequest{Title: "doomed"})
	require.NoError(t, err)
	docID := created.Document.ID

	_, err = f.store.SetCollaborator(context.Background(), docID, Collaborator{UserID: writer, Permission: PermissionWrite})
	require.NoError(t, err)

	t.Run("write collaborator is not enough", func(t *testing.T) {
		assert.ErrorIs(t, f.svc.Delete(context.Background(), writer, docID), ErrNotOwner)
	})

	t.Run("stranger gets not found", func(t *testing.T) {
		assert.ErrorIs(t, f.svc.Delete(context.Background(), bson.NewObjectID(), docID), ErrDocumentNotFound)
	})

	t.Run("owner deletes and the room is told", func(t *testing.T) {
		watcher := f.subscribe(docID)

		require.NoError(t, f.svc.Delete(context.Background(), owner, docID))

		events := drain(watcher.Ch)
		require.Len(t, events, 1)
		deleted, ok := events[0].(DeletedEvent)
		require.True(t, ok)
		assert.Equal(t, docID, deleted.DocumentID)

		// gone for everyone but the owner
		_, err := f.svc.Get(context.Background(), writer, docID)
		assert.ErrorIs(t, err, ErrAccessDenied)
		_, err = f.svc.Get(context.Background(), owner, docID)
		assert.NoError(t, err)
	})
}

func TestServiceShareUnshare(t *testing.T) {
	f := newServiceFixture(t)
	owner := bson.NewObjectID()
	guest := bson.NewObjectID()

	created, err := f.svc.Create(context.Background(), owner, CreateDocumentRequest{Title: "shared"})
	require.NoError(t, err)
	docID := created.Document.ID

	t.Run("share grants access", func(t *testing.T) {
		resp, err := f.svc.Share(context.Background(), owner, docID, ShareRequest{
			UserID:     guest.Hex(),
			Permission: PermissionRead,
		})
		require.NoError(t, err)
		require.Len(t, resp.Document.Collaborators, 1)
		assert.Equal(t, guest, resp.Document.Collaborators[0].UserID)
		assert.Equal(t, owner, resp.Document.Collaborators[0].AddedBy)

		_, err = f.svc.Get(context.Background(), guest, docID)
		assert.NoError(t, err)
	})

	t.Run("re-share overwrites the grant", func(t *testing.T) {
		resp, err := f.svc.Share(context.Background(), owner, docID, ShareRequest{
			UserID:     guest.Hex(),
			Permission: PermissionWrite,
		})
		require.NoError(t, err)
		require.Len(t, resp.Document.Collaborators, 1)
		assert.Equal(t, PermissionWrite, resp.Document.Collaborators[0].Permission)
	})

	t.Run("only the owner shares", func(t *testing.T) {
		_, err := f.svc.Share(context.Background(), guest, docID, ShareRequest{
			UserID:     bson.NewObjectID().Hex(),
			Permission: PermissionRead,
		})
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("owner cannot be made a collaborator", func(t *testing.T) {
		_, err := f.svc.Share(context.Background(), owner, docID, ShareRequest{
			UserID:     owner.Hex(),
			Permission: PermissionRead,
		})
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("malformed collaborator id", func(t *testing.T) {
		_, err := f.svc.Share(context.Background(), owner, docID, ShareRequest{
			UserID:     "zzz",
			Permission: PermissionRead,
		})
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("unshare revokes access", func(t *testing.T) {
		resp, err := f.svc.Unshare(context.Background(), owner, docID, guest)
		require.NoError(t, err)
		assert.Empty(t, resp.Document.Collaborators)

		_, err = f.svc.Get(context.Background(), guest, docID)
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("unshare of a non-collaborator is a no-op", func(t *testing.T) {
		_, err := f.svc.Unshare(context.Background(), owner, docID, bson.NewObjectID())
		assert.NoError(t, err)
	})
}

func TestServicePublish(t *testing.T) {
	f := newServiceFixture(t)
	owner := bson.NewObjectID()
	stranger := bson.NewObjectID()

	created, err := f.svc.Create(context.Background(), owner, CreateDocumentRequest{Title: "announcement"})
	require.NoError(t, err)
	docID := created.Document.ID

	public := true
	private := false

	t.Run("only the owner publishes", func(t *testing.T) {
		_, err := f.svc.Publish(context.Background(), stranger, docID, PublishRequest{IsPublic: &public})
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("publishing opens read access", func(t *testing.T) {
		resp, err := f.svc.Publish(context.Background(), owner, docID, PublishRequest{IsPublic: &public})
		require.NoError(t, err)
		assert.True(t, resp.Document.IsPublic)

		_, err = f.svc.Get(context.Background(), stranger, docID)
		assert.NoError(t, err)
	})

	t.Run("unpublishing closes it again", func(t *testing.T) {
		_, err := f.svc.Publish(context.Background(), owner, docID, PublishRequest{IsPublic: &private})
		require.NoError(t, err)

		_, err = f.svc.Get(context.Background(), stranger, docID)
		assert.ErrorIs(t, err, ErrAccessDenied)
	})
}
