package docs

import (
	"testing"
	"time"

	"note-sync/cmd/server/ctxkeys"
	"note-sync/cmd/server/testutil"
	"note-sync/internal/logger"
	"note-sync/internal/services/docs"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// WebSocketTestConfig holds configuration for WebSocket tests
type WebSocketTestConfig struct {
	Secret        string
	MaxSessionSec int
	OutboxBuffer  int
}

// DefaultWebSocketTestConfig returns a default test configuration
func DefaultWebSocketTestConfig() WebSocketTestConfig {
	return WebSocketTestConfig{
		Secret:        "test-secret-key-with-32-characters",
		MaxSessionSec: 900,
		OutboxBuffer:  32,
	}
}

// SetupCollabFixture wires a real manager over the in-memory store so
// websocket tests exercise the full join/save path.
func SetupCollabFixture(t *testing.T, config WebSocketTestConfig) (*docs.MemStore, *docs.Registry, *WebSocketHandlers) {
	t.Helper()

	store := docs.NewMemStore()
	registry := docs.NewRegistry(config.OutboxBuffer)
	manager := docs.NewManager(store, registry, logger.L())
	wsHandlers := NewWebSocketHandlers(manager, config.Secret, config.MaxSessionSec, config.OutboxBuffer)

	return store, registry, wsHandlers
}

// SetupWebSocketHandlersApp creates a test app with WebSocket handlers
func SetupWebSocketHandlersApp(t *testing.T, config WebSocketTestConfig) (*fiber.App, *docs.MemStore, *WebSocketHandlers) {
	t.Helper()

	app := testutil.CreateTestApp(t)
	store, _, wsHandlers := SetupCollabFixture(t, config)

	app.Get("/ws", wsHandlers.WSUpgrade, func(c *fiber.Ctx) error {
		userID := c.Locals(ctxkeys.UserIDKey).(string)
		name := c.Locals(ctxkeys.UserNameKey).(string)
		return c.JSON(fiber.Map{
			"user_id": userID,
			"name":    name,
		})
	})

	return app, store, wsHandlers
}

// CreateTestJWTForWebSocket creates a JWT token for WebSocket testing
func CreateTestJWTForWebSocket(userID, name, secret string, expiry time.Duration) (string, error) {
	return testutil.CreateTestJWT(userID, name, []byte(secret), expiry)
}

// SeedDocument inserts a version-1 document into the store
func SeedDocument(t *testing.T, store *docs.MemStore, owner bson.ObjectID, title, body string) *docs.Document {
	t.Helper()

	now := time.Now().UTC()
	doc := &docs.Document{
		ID:            bson.NewObjectID(),
		OwnerID:       owner,
		Title:         title,
		Body:          body,
		Collaborators: []docs.Collaborator{},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.Create(t.Context(), doc))
	return doc
}

// WSUpgradeTestCase represents a WebSocket upgrade test case
type WSUpgradeTestCase struct {
	Name           string
	Token          *string // nil means no token
	ExpectedStatus int
}

// GetStandardWSUpgradeTestCases returns common WebSocket upgrade test cases
func GetStandardWSUpgradeTestCases(t *testing.T, secret string) []WSUpgradeTestCase {
	t.Helper()

	userID := bson.NewObjectID().Hex()
	name := "Test User"

	validToken, err := CreateTestJWTForWebSocket(userID, name, secret, time.Hour)
	require.NoError(t, err)

	expiredToken, err := CreateTestJWTForWebSocket(userID, name, secret, -time.Hour)
	require.NoError(t, err)

	invalidToken := "invalid-token"

	return []WSUpgradeTestCase{
		{
			Name:           "ValidToken",
			Token:          &validToken,
			ExpectedStatus: 200,
		},
		{
			Name:           "MissingToken",
			Token:          nil,
			ExpectedStatus: 401,
		},
		{
			Name:           "InvalidToken",
			Token:          &invalidToken,
			ExpectedStatus: 401,
		},
		{
			Name:           "ExpiredToken",
			Token:          &expiredToken,
			ExpectedStatus: 401,
		},
	}
}
