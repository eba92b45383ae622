package docs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"note-sync/cmd/server/ctxkeys"
	"note-sync/cmd/server/testutil"
	"note-sync/internal/config"
	"note-sync/internal/logger"
	docsvc "note-sync/internal/services/docs"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	wsMaxIncomingBytes = 1 << 20 // 1 MiB
)

func initTestLogger(t *testing.T) {
	t.Helper()
	cfg := config.Config{
		LogLevel:  "info",
		LogFormat: "text",
	}
	_, err := logger.Init(cfg)
	require.NoError(t, err)
}

func TestWSUpgradeTableDriven(t *testing.T) {
	initTestLogger(t)

	config := DefaultWebSocketTestConfig()
	testCases := GetStandardWSUpgradeTestCases(t, config.Secret)

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			app, _, _ := SetupWebSocketHandlersApp(t, config)

			req := testutil.CreateWebSocketRequest("/ws", tc.Token)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.ExpectedStatus, resp.StatusCode)
		})
	}
}

func TestWSUpgradeNonWebSocketRequest(t *testing.T) {
	initTestLogger(t)

	config := DefaultWebSocketTestConfig()
	app, _, _ := SetupWebSocketHandlersApp(t, config)

	req := testutil.CreateJSONRequest("GET", "/ws", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

// startCollabServer runs a real Fiber server whose upgrade middleware
// injects a fixed identity, and returns its ws URL.
func startCollabServer(t *testing.T, wsHandlers *WebSocketHandlers, userID bson.ObjectID, name string) string {
	t.Helper()

	app := fiber.New()
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals(ctxkeys.UserIDKey, userID.Hex())
			c.Locals(ctxkeys.UserNameKey, name)
			// Pass the correct context type so WSCollabStream doesn't reject the upgrade.
			c.Locals(ctxkeys.ParentCtxKey, c.UserContext())
			return c.Next()
		}
		return c.SendStatus(400)
	})
	app.Get("/ws", websocket.New(wsHandlers.WSCollabStream))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close()) // Close the listener since Fiber will create its own

	go func() {
		_ = app.Listen(fmt.Sprintf(":%d", port))
	}()
	t.Cleanup(func() {
		_ = app.Shutdown()
	})

	// Wait for server to start
	time.Sleep(100 * time.Millisecond)

	return fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
}

func dialCollab(t *testing.T, url string) *gorillaws.Conn {
	t.Helper()

	dialer := gorillaws.Dialer{}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err, "could not establish WebSocket connection")
	conn.SetReadLimit(wsMaxIncomingBytes)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func readEvent(t *testing.T, conn *gorillaws.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var event map[string]any
	require.NoError(t, json.Unmarshal(raw, &event))
	return event
}

func TestWSSessionTimeout(t *testing.T) {
	initTestLogger(t)

	config := DefaultWebSocketTestConfig()
	config.MaxSessionSec = 2
	_, _, wsHandlers := SetupCollabFixture(t, config)

	url := startCollabServer(t, wsHandlers, bson.NewObjectID(), "Timeout User")
	conn := dialCollab(t, url)

	now := time.Now().UTC()

	// Set read deadline to detect close
	require.NoError(t, conn.SetReadDeadline(now.Add(5*time.Second)))

	// Wait for the connection to be closed due to timeout
	start := time.Now().UTC()
	_, _, readMessageErr := conn.ReadMessage()
	require.Error(t, readMessageErr)
	elapsed := time.Since(start)

	var closeErr *gorillaws.CloseError
	if errors.As(readMessageErr, &closeErr) {
		assert.Equal(t, WSClosePolicyViolation, closeErr.Code, "Expected policy violation close code")
	}

	// Verify timing - should be close to maxSessionSec
	assert.True(t, elapsed >= 2*time.Second, "Connection should have been closed after session timeout")
	assert.True(t, elapsed < 4*time.Second, "Connection should have been closed promptly")
}

func TestWSCollabProtocol(t *testing.T) {
	initTestLogger(t)

	config := DefaultWebSocketTestConfig()
	store, _, wsHandlers := SetupCollabFixture(t, config)

	owner := bson.NewObjectID()
	doc := SeedDocument(t, store, owner, "Draft", "first cut")

	url := startCollabServer(t, wsHandlers, owner, "Owner")
	conn := dialCollab(t, url)

	// join -> snapshot with version 1 and our own presence
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":        "join",
		"document_id": doc.ID.Hex(),
	}))
	joined := readEvent(t, conn)
	require.Equal(t, "joined", joined["type"])
	assert.Equal(t, "owner", joined["permission"])
	document := joined["document"].(map[string]any)
	assert.Equal(t, "Draft", document["title"])
	assert.EqualValues(t, 1, document["version"])

	// save at the current version -> committed state broadcast at version 2
	title := "Draft v2"
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":           "save",
		"document_id":    doc.ID.Hex(),
		"title":          title,
		"client_version": 1,
	}))
	saved := readEvent(t, conn)
	require.Equal(t, "saved", saved["type"])
	assert.EqualValues(t, 2, saved["version"])
	assert.Equal(t, title, saved["title"])

	// stale save -> conflict with the server state, connection stays up
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":           "save",
		"document_id":    doc.ID.Hex(),
		"title":          "stale",
		"client_version": 1,
	}))
	conflict := readEvent(t, conn)
	require.Equal(t, "conflict", conflict["type"])
	assert.EqualValues(t, 1, conflict["client_version"])
	assert.EqualValues(t, 2, conflict["server_version"])
	assert.Equal(t, title, conflict["server_title"])

	// save without a client_version -> BAD_MESSAGE, not a conflict
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":        "save",
		"document_id": doc.ID.Hex(),
		"title":       "versionless",
	}))
	noVersion := readEvent(t, conn)
	require.Equal(t, "error", noVersion["type"])
	assert.Equal(t, "BAD_MESSAGE", noVersion["code"])

	// malformed frame -> BAD_MESSAGE, connection stays up
	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte("{not json")))
	bad := readEvent(t, conn)
	require.Equal(t, "error", bad["type"])
	assert.Equal(t, "BAD_MESSAGE", bad["code"])

	// explicit leave -> acknowledged
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "leave"}))
	left := readEvent(t, conn)
	require.Equal(t, "left", left["type"])
	assert.Equal(t, true, left["success"])
}

func TestWSCollabPresenceAndTransient(t *testing.T) {
	initTestLogger(t)

	config := DefaultWebSocketTestConfig()
	store, _, wsHandlers := SetupCollabFixture(t, config)

	owner := bson.NewObjectID()
	peer := bson.NewObjectID()
	doc := SeedDocument(t, store, owner, "Shared", "body")

	// grant the peer write access
	_, err := store.SetCollaborator(t.Context(), doc.ID, docsvc.Collaborator{
		UserID:     peer,
		Permission: docsvc.PermissionWrite,
		AddedAt:    time.Now().UTC(),
		AddedBy:    owner,
	})
	require.NoError(t, err)

	ownerURL := startCollabServer(t, wsHandlers, owner, "Owner")
	peerURL := startCollabServer(t, wsHandlers, peer, "Peer")

	ownerConn := dialCollab(t, ownerURL)
	require.NoError(t, ownerConn.WriteJSON(map[string]any{"type": "join", "document_id": doc.ID.Hex()}))
	require.Equal(t, "joined", readEvent(t, ownerConn)["type"])

	peerConn := dialCollab(t, peerURL)
	require.NoError(t, peerConn.WriteJSON(map[string]any{"type": "join", "document_id": doc.ID.Hex()}))
	joined := readEvent(t, peerConn)
	require.Equal(t, "joined", joined["type"])
	assert.Len(t, joined["active_users"], 2)

	// the owner sees the peer arrive
	peerJoined := readEvent(t, ownerConn)
	require.Equal(t, "peer_joined", peerJoined["type"])

	// transient update from the peer reaches the owner, not the sender
	body := "live typing..."
	require.NoError(t, peerConn.WriteJSON(map[string]any{
		"type":        "update",
		"document_id": doc.ID.Hex(),
		"body":        body,
	}))
	update := readEvent(t, ownerConn)
	require.Equal(t, "peer_update", update["type"])
	assert.Equal(t, body, update["body"])
	assert.Equal(t, true, update["transient"])

	// transient edits never touch the store
	stored, err := store.Get(t.Context(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "body", stored.Body)
	assert.EqualValues(t, 1, stored.Version)

	// peer disconnects abruptly -> owner sees the departure
	require.NoError(t, peerConn.Close())
	peerLeft := readEvent(t, ownerConn)
	require.Equal(t, "peer_left", peerLeft["type"])
	assert.Equal(t, "disconnect", peerLeft["reason"])
}

func TestValidateJWTTabledriven(t *testing.T) {
	initTestLogger(t)

	config := DefaultWebSocketTestConfig()
	_, _, wsHandlers := SetupCollabFixture(t, config)

	userID := bson.NewObjectID().Hex()
	name := "Test User"

	testCases := []struct {
		name        string
		setupToken  func() string
		expectError bool
		errorMsg    string
	}{
		{
			name: "Success",
			setupToken: func() string {
				token, _ := CreateTestJWTForWebSocket(userID, name, config.Secret, time.Hour)
				return token
			},
			expectError: false,
		},
		{
			name: "InvalidFormat",
			setupToken: func() string {
				return "invalid.token.format"
			},
			expectError: true,
		},
		{
			name: "WrongSecret",
			setupToken: func() string {
				wrongSecret := "wrong-secret-key-with-32-characters"
				token, _ := CreateTestJWTForWebSocket(userID, name, wrongSecret, time.Hour)
				return token
			},
			expectError: true,
		},
		{
			name: "MissingClaims",
			setupToken: func() string {
				now := time.Now().UTC()
				token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
					"exp": now.Add(time.Hour).Unix(),
					"iat": now.Unix(),
					// Missing user_id and name
				})
				tokenString, _ := token.SignedString([]byte(config.Secret))
				return tokenString
			},
			expectError: true,
			errorMsg:    "missing user_id",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			token := tc.setupToken()
			parsedUserID, parsedName, err := wsHandlers.validateJWT(token)

			if tc.expectError {
				assert.Error(t, err)
				if tc.errorMsg != "" {
					assert.Contains(t, err.Error(), tc.errorMsg)
				}
			} else {
				require.NoError(t, err)
				assert.Equal(t, userID, parsedUserID.Hex())
				assert.Equal(t, name, parsedName)
			}
		})
	}
}
