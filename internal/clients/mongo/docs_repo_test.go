package mongo

import (
	"errors"
	"testing"

	"note-sync/internal/services/docs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestBuildListFilter_Visibility(t *testing.T) {
	repo := &DocsRepo{}
	userID := bson.NewObjectID()

	filter, err := repo.buildListFilter(userID, docs.ListDocumentsRequest{})
	require.NoError(t, err)

	assert.Equal(t, false, filter["is_deleted"])

	or, ok := filter["$or"].(bson.A)
	require.True(t, ok, "filter should carry an $or clause")
	require.Len(t, or, 2)
	assert.Equal(t, bson.M{"owner_id": userID}, or[0])
	assert.Equal(t, bson.M{"collaborators.user_id": userID}, or[1])

	// public documents are readable but never listed
	for _, clause := range or {
		m := clause.(bson.M)
		_, hasPublic := m["is_public"]
		assert.False(t, hasPublic)
	}
}

func TestBuildListFilter_Cursor(t *testing.T) {
	repo := &DocsRepo{}
	userID := bson.NewObjectID()
	after := bson.NewObjectID()

	filter, err := repo.buildListFilter(userID, docs.ListDocumentsRequest{Cursor: after.Hex()})
	require.NoError(t, err)

	idClause, ok := filter["_id"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, after, idClause["$lt"], "pagination walks strictly older ids")
}

func TestBuildListFilter_InvalidCursor(t *testing.T) {
	repo := &DocsRepo{}

	_, err := repo.buildListFilter(bson.NewObjectID(), docs.ListDocumentsRequest{Cursor: "garbage"})
	assert.ErrorIs(t, err, docs.ErrInvalidCursor)
}

func TestAddSearchFilter(t *testing.T) {
	t.Run("empty query leaves the filter alone", func(t *testing.T) {
		filter := bson.M{"is_deleted": false}
		addSearchFilter(filter, "")
		assert.Len(t, filter, 1)
	})

	t.Run("long query uses text search", func(t *testing.T) {
		filter := bson.M{}
		addSearchFilter(filter, "meeting notes")
		assert.Equal(t, bson.M{"$search": "meeting notes"}, filter["$text"])
	})

	t.Run("short query falls back to regex", func(t *testing.T) {
		filter := bson.M{}
		addSearchFilter(filter, "ab")

		_, hasText := filter["$text"]
		assert.False(t, hasText)

		and, ok := filter["$and"].(bson.A)
		require.True(t, ok)
		require.Len(t, and, 1)
	})

	t.Run("regex metacharacters are escaped", func(t *testing.T) {
		filter := bson.M{}
		addSearchFilter(filter, "a+")

		and := filter["$and"].(bson.A)
		or := and[0].(bson.M)["$or"].(bson.A)
		titleClause := or[0].(bson.M)["title"].(bson.M)
		assert.Equal(t, `a\+`, titleClause["$regex"])
	})
}

func TestTranslateNotFound(t *testing.T) {
	assert.ErrorIs(t, translateNotFound(mongo.ErrNoDocuments), docs.ErrDocumentNotFound)

	other := errors.New("network down")
	assert.Equal(t, other, translateNotFound(other))
	assert.NoError(t, translateNotFound(nil))
}

func TestDocumentStructure(t *testing.T) {
	owner := bson.NewObjectID()
	doc := &docs.Document{
		ID:      bson.NewObjectID(),
		OwnerID: owner,
		Title:   "Quarterly plan",
		Body:    "agenda",
		Collaborators: []docs.Collaborator{
			{UserID: bson.NewObjectID(), Permission: docs.PermissionWrite, AddedBy: owner},
		},
		Version: 1,
	}

	assert.False(t, doc.ID.IsZero())
	assert.EqualValues(t, 1, doc.Version)
	require.Len(t, doc.Collaborators, 1)
	assert.Equal(t, docs.PermissionWrite, doc.Collaborators[0].Permission)
	assert.Equal(t, owner, doc.Collaborators[0].AddedBy)
}

func TestSavePatchPartialFields(t *testing.T) {
	title := "only the title"

	patch := docs.SavePatch{
		Title:    &title,
		EditorID: bson.NewObjectID(),
	}

	assert.NotNil(t, patch.Title)
	assert.Nil(t, patch.Body)
	assert.Equal(t, "only the title", *patch.Title)
}

func TestConflictErrorCarriesServerState(t *testing.T) {
	err := &docs.ConflictError{
		ClientVersion: 3,
		ServerVersion: 5,
		ServerTitle:   "server title",
		ServerBody:    "server body",
	}

	var conflict *docs.ConflictError
	require.ErrorAs(t, error(err), &conflict)
	assert.EqualValues(t, 3, conflict.ClientVersion)
	assert.EqualValues(t, 5, conflict.ServerVersion)
	assert.NotEmpty(t, err.Error())
}

func TestObjectIDConversions(t *testing.T) {
	id := bson.NewObjectID()
	assert.False(t, id.IsZero())

	parsed, err := bson.ObjectIDFromHex(id.Hex())
	assert.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = bson.ObjectIDFromHex("invalid")
	assert.Error(t, err)
}
