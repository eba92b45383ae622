package docs

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"note-sync/cmd/server/ctxkeys"
	"note-sync/cmd/server/handlers/httperr"
	"note-sync/internal/logger"
	"note-sync/internal/services/docs"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	// WSClosePolicyViolation represents WebSocket close code for policy violation
	WSClosePolicyViolation = 1008

	// WebSocket timeout constants
	wsWriteTimeout     = 10 * time.Second // Timeout for writing messages to WebSocket
	wsPingInterval     = 25 * time.Second // Interval for sending ping messages
	wsPingWriteTimeout = 5 * time.Second  // Timeout for writing ping messages

	msgFailedToCloseWebSocketConnection = "failed to close WebSocket connection"
)

// Client message types accepted over the collaboration socket.
const (
	MsgJoin   = "join"
	MsgLeave  = "leave"
	MsgUpdate = "update"
	MsgSave   = "save"
)

// ClientMessage is the envelope clients send over the collaboration
// socket. Type selects the operation; the remaining fields are
// type-specific.
type ClientMessage struct {
	Type          string  `json:"type"`
	DocumentID    string  `json:"document_id,omitempty"`
	Title         *string `json:"title,omitempty"`
	Body          *string `json:"body,omitempty"`
	ClientVersion int64   `json:"client_version,omitempty"`
}

// Manager is the collaboration session manager the gateway drives.
type Manager interface {
	Join(ctx context.Context, connID ulid.ULID, userID bson.ObjectID, displayName string, docID bson.ObjectID) (*docs.JoinedEvent, *docs.Subscriber, error)
	SubmitEdit(ctx context.Context, connID ulid.ULID, sub docs.EditSubmission) (docs.Event, error)
	Leave(ctx context.Context, connID ulid.ULID, reason docs.LeaveReason) bool
}

// WebSocketHandlers contains the collaboration WebSocket handlers
type WebSocketHandlers struct {
	manager       Manager
	jwtSecret     string
	maxSessionSec int
	outboxBuffer  int
}

// NewWebSocketHandlers creates new WebSocket handlers
func NewWebSocketHandlers(manager Manager, jwtSecret string, maxSessionSec, outboxBuffer int) *WebSocketHandlers {
	return &WebSocketHandlers{
		manager:       manager,
		jwtSecret:     jwtSecret,
		maxSessionSec: maxSessionSec,
		outboxBuffer:  outboxBuffer,
	}
}

// WSUpgrade upgrades an HTTP request to a collaboration WebSocket
func (h *WebSocketHandlers) WSUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		// Validate JWT token from query parameter
		token := c.Query("token")
		if token == "" {
			logger.L().Warn("missing token in websocket upgrade", "handler", "WSUpgrade", "path", c.Path())
			return httperr.Fail(httperr.E{
				Status:  401,
				Message: "Missing token",
			})
		}

		userID, name, err := h.validateJWT(token)
		if err != nil {
			logger.L().Error("invalid token in websocket upgrade", "handler", "WSUpgrade", "path", c.Path(), "error", err)
			return httperr.Fail(httperr.E{
				Status:  401,
				Message: "Invalid token",
			})
		}

		// Store user info and context in locals for the WebSocket handler
		c.Locals(ctxkeys.UserIDKey, userID.Hex())
		c.Locals(ctxkeys.UserNameKey, name)
		// Use Fiber's request-bound context so WSCollabStream gets a *real* context.Context.
		c.Locals(ctxkeys.ParentCtxKey, c.UserContext())

		return c.Next()
	}

	logger.L().Warn("websocket upgrade required", "handler", "WSUpgrade", "path", c.Path())
	return httperr.Fail(httperr.E{
		Status:  400,
		Message: "WebSocket upgrade required",
	})
}

// wsConnection holds connection-specific data
type wsConnection struct {
	userID      bson.ObjectID
	displayName string
	connULID    ulid.ULID
	connID      string
}

// WSCollabStream runs a collaboration session over one WebSocket
// connection. All frames written to the peer go through a single
// writer goroutine fed by the out channel; the read loop and the
// room forwarder only ever enqueue.
func (h *WebSocketHandlers) WSCollabStream(c *websocket.Conn) {
	conn, parentCtx, err := h.initializeConnection(c)
	if err != nil {
		h.closeConnection(c)
		return
	}

	ctx, cancelCtx := context.WithCancel(parentCtx)
	defer cancelCtx()

	out := make(chan docs.Event, h.outboxBuffer)

	logger.L().Info("WebSocket connection established", "user_id", conn.userID.Hex(), "conn_id", conn.connID)

	sessionTimer := h.startSessionTimer(c, conn, cancelCtx)
	defer h.stopSessionTimer(sessionTimer)

	writerDone := make(chan struct{})
	go h.writeLoop(ctx, c, conn, out, writerDone)

	h.readLoop(ctx, c, conn, out)

	// The connection is gone (or the session expired): tear the session
	// down so peers see the departure even on an abrupt drop.
	h.manager.Leave(context.WithoutCancel(ctx), conn.connULID, docs.LeaveDisconnect)

	cancelCtx()
	<-writerDone
	logger.L().Info("WebSocket connection closed", "user_id", conn.userID.Hex(), "conn_id", conn.connID)
}

// initializeConnection validates and sets up the WebSocket connection
func (h *WebSocketHandlers) initializeConnection(c *websocket.Conn) (*wsConnection, context.Context, error) {
	userIDStr, ok := c.Locals(ctxkeys.UserIDKey).(string)
	if !ok {
		logger.L().Error(ctxkeys.UserIDKey + " not found in WebSocket context")
		return nil, nil, fmt.Errorf(ctxkeys.UserIDKey + " not found")
	}

	userID, err := bson.ObjectIDFromHex(userIDStr)
	if err != nil {
		logger.L().Error("invalid "+ctxkeys.UserIDKey+" in WebSocket context", ctxkeys.UserIDKey, userIDStr, "error", err)
		return nil, nil, fmt.Errorf("invalid %s: %w", ctxkeys.UserIDKey, err)
	}

	displayName, ok := c.Locals(ctxkeys.UserNameKey).(string)
	if !ok {
		logger.L().Error(ctxkeys.UserNameKey + " not found in WebSocket context")
		return nil, nil, fmt.Errorf(ctxkeys.UserNameKey + " not found")
	}

	parentCtx, ok := c.Locals(ctxkeys.ParentCtxKey).(context.Context)
	if !ok {
		logger.L().Error(ctxkeys.ParentCtxKey + " not found in WebSocket context")
		return nil, nil, fmt.Errorf(ctxkeys.ParentCtxKey + " not found")
	}

	connULID := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader)

	conn := &wsConnection{
		userID:      userID,
		displayName: displayName,
		connULID:    connULID,
		connID:      connULID.String(),
	}

	return conn, parentCtx, nil
}

// closeConnection safely closes the WebSocket connection
func (h *WebSocketHandlers) closeConnection(c *websocket.Conn) {
	if err := c.Close(); err != nil {
		logger.L().Error(msgFailedToCloseWebSocketConnection, "error", err)
	}
}

// startSessionTimer creates and starts the session timeout timer
func (h *WebSocketHandlers) startSessionTimer(c *websocket.Conn, conn *wsConnection, cancelCtx context.CancelFunc) *time.Timer {
	return time.AfterFunc(time.Duration(h.maxSessionSec)*time.Second, func() {
		logger.L().Info("WebSocket session timeout", "user_id", conn.userID.Hex(), "conn_id", conn.connID)
		h.sendCloseMessage(c, conn)
		h.closeConnection(c)
		cancelCtx()
	})
}

// stopSessionTimer safely stops the session timer
func (h *WebSocketHandlers) stopSessionTimer(timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
}

// sendCloseMessage sends a close frame to the client
func (h *WebSocketHandlers) sendCloseMessage(c *websocket.Conn, conn *wsConnection) {
	err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(WSClosePolicyViolation, "session timeout"))
	if err != nil {
		logger.L().Error("failed to send close message", "error", err, "user_id", conn.userID.Hex(), "conn_id", conn.connID)
	}
}

// writeLoop is the single writer for this connection. It drains the
// out channel and keeps the peer alive with pings.
func (h *WebSocketHandlers) writeLoop(ctx context.Context, c *websocket.Conn, conn *wsConnection, out <-chan docs.Event, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("panic in WebSocket sender", "error", r, "user_id", conn.userID.Hex())
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case event := <-out:
			if h.sendEvent(c, conn, event) != nil {
				return
			}
		case <-ping.C:
			if h.sendPing(c, conn) != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// sendEvent sends an event to the client
func (h *WebSocketHandlers) sendEvent(c *websocket.Conn, conn *wsConnection, event docs.Event) error {
	if err := c.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		logger.L().Error("failed to set write deadline", "error", err, "user_id", conn.userID.Hex(), "conn_id", conn.connID)
		return err
	}
	if err := c.WriteJSON(event); err != nil {
		logger.L().Error("failed to write WebSocket message", "error", err, "user_id", conn.userID.Hex(), "conn_id", conn.connID)
		return err
	}
	return nil
}

// sendPing sends a ping message to the client
func (h *WebSocketHandlers) sendPing(c *websocket.Conn, conn *wsConnection) error {
	if err := c.SetWriteDeadline(time.Now().Add(wsPingWriteTimeout)); err != nil {
		logger.L().Error("failed to set write deadline", "error", err, "user_id", conn.userID.Hex(), "conn_id", conn.connID)
		return err
	}
	if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
		logger.L().Warn("failed to write ping message", "error", err, "user_id", conn.userID.Hex(), "conn_id", conn.connID)
		return err
	}
	return nil
}

// enqueue puts an event on the connection's outbox without blocking
// the caller past ctx.
func (h *WebSocketHandlers) enqueue(ctx context.Context, out chan<- docs.Event, event docs.Event) {
	select {
	case out <- event:
	case <-ctx.Done():
	}
}

// forward copies room events from a subscriber into the connection's
// outbox. It exits when the registry closes the subscription (leave,
// replacement by a newer join) or the connection context ends.
func (h *WebSocketHandlers) forward(ctx context.Context, sub *docs.Subscriber, out chan<- docs.Event) {
	for {
		select {
		case event, ok := <-sub.Ch:
			if !ok {
				return
			}
			h.enqueue(ctx, out, event)
		case <-sub.Done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop parses and dispatches client messages until the connection
// drops or ctx ends.
func (h *WebSocketHandlers) readLoop(ctx context.Context, c *websocket.Conn, conn *wsConnection, out chan docs.Event) {
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.L().Error("WebSocket error", "error", err, "user_id", conn.userID.Hex(), "conn_id", conn.connID)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Malformed JSON: reject the message, keep the connection.
			h.enqueue(ctx, out, docs.NewErrorEvent(docs.CodeBadMessage, "malformed message"))
			continue
		}

		h.dispatch(ctx, conn, msg, out)
	}
}

// dispatch routes one client message to the session manager and
// enqueues whatever reply it produces.
func (h *WebSocketHandlers) dispatch(ctx context.Context, conn *wsConnection, msg ClientMessage, out chan docs.Event) {
	switch msg.Type {
	case MsgJoin:
		docID, err := bson.ObjectIDFromHex(msg.DocumentID)
		if err != nil {
			h.enqueue(ctx, out, docs.NewErrorEvent(docs.CodeBadMessage, "invalid document_id"))
			return
		}

		joined, sub, err := h.manager.Join(ctx, conn.connULID, conn.userID, conn.displayName, docID)
		if err != nil {
			h.enqueue(ctx, out, h.errorEvent(err))
			return
		}
		// Snapshot first, then live events: the forwarder starts only
		// after the snapshot is on the outbox.
		h.enqueue(ctx, out, *joined)
		go h.forward(ctx, sub, out)

	case MsgLeave:
		removed := h.manager.Leave(ctx, conn.connULID, docs.LeaveExplicit)
		h.enqueue(ctx, out, docs.LeftEvent{Type: docs.EventLeft, Success: removed})

	case MsgUpdate, MsgSave:
		docID, err := bson.ObjectIDFromHex(msg.DocumentID)
		if err != nil {
			h.enqueue(ctx, out, docs.NewErrorEvent(docs.CodeBadMessage, "invalid document_id"))
			return
		}

		// A save without a version token is malformed, not a conflict:
		// versions start at 1, so there is nothing to swap against.
		if msg.Type == MsgSave && msg.ClientVersion < 1 {
			h.enqueue(ctx, out, docs.NewErrorEvent(docs.CodeBadMessage, "missing client_version"))
			return
		}

		reply, err := h.manager.SubmitEdit(ctx, conn.connULID, docs.EditSubmission{
			DocumentID:    docID,
			Title:         msg.Title,
			Body:          msg.Body,
			ClientVersion: msg.ClientVersion,
			Transient:     msg.Type == MsgUpdate,
		})
		if err != nil {
			h.enqueue(ctx, out, h.errorEvent(err))
			return
		}
		if reply != nil {
			h.enqueue(ctx, out, reply)
		}

	default:
		h.enqueue(ctx, out, docs.NewErrorEvent(docs.CodeBadMessage, "unknown message type"))
	}
}

// errorEvent maps session manager errors onto wire error codes.
func (h *WebSocketHandlers) errorEvent(err error) docs.ErrorEvent {
	switch {
	case errors.Is(err, docs.ErrAccessDenied), errors.Is(err, docs.ErrDocumentNotFound):
		return docs.NewErrorEvent(docs.CodeAccessDenied, "access denied")
	case errors.Is(err, docs.ErrNotJoined):
		return docs.NewErrorEvent(docs.CodeNotJoined, "join the document first")
	case errors.Is(err, docs.ErrWriteAccessDenied):
		return docs.NewErrorEvent(docs.CodeWriteDenied, "write access required")
	default:
		return docs.NewErrorEvent(docs.CodeStoreUnavailable, "temporary failure, retry later")
	}
}

// validateJWT validates the JWT token and extracts user identity
func (h *WebSocketHandlers) validateJWT(tokenString string) (bson.ObjectID, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(h.jwtSecret), nil
	})

	if err != nil {
		return bson.ObjectID{}, "", err
	}

	if !token.Valid {
		return bson.ObjectID{}, "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return bson.ObjectID{}, "", fmt.Errorf("invalid claims")
	}

	userIDStr, ok := claims["user_id"].(string)
	if !ok {
		return bson.ObjectID{}, "", fmt.Errorf("missing user_id")
	}

	name, ok := claims["name"].(string)
	if !ok {
		return bson.ObjectID{}, "", fmt.Errorf("missing name")
	}

	userID, err := bson.ObjectIDFromHex(userIDStr)
	if err != nil {
		return bson.ObjectID{}, "", fmt.Errorf("invalid user_id: %w", err)
	}

	return userID, name, nil
}

// LogWSConnections logs every WebSocket upgrade attempt.
// It verifies the token with jwtSecret so the logged user_id can't be spoofed.
func LogWSConnections(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			token := c.Query("token")
			userInfo := extractUserIDFromToken(token, jwtSecret)
			logger.L().Info("WebSocket upgrade attempt", "ip", c.IP(), "user", userInfo)
		}
		return c.Next()
	}
}

// extractUserIDFromToken extracts and validates user ID from JWT token
func extractUserIDFromToken(token, jwtSecret string) string {
	if token == "" {
		return ""
	}

	parsed, err := parseAndValidateToken(token, jwtSecret)
	if err != nil || !parsed.Valid {
		return ""
	}

	return getUserIDFromClaims(parsed.Claims)
}

// parseAndValidateToken parses JWT token and validates signature
func parseAndValidateToken(token, jwtSecret string) (*jwt.Token, error) {
	return jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if !isValidSigningMethod(t) {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
}

// isValidSigningMethod checks if the JWT uses HMAC signing method
func isValidSigningMethod(token *jwt.Token) bool {
	_, ok := token.Method.(*jwt.SigningMethodHMAC)
	return ok
}

// getUserIDFromClaims extracts user_id from JWT claims
func getUserIDFromClaims(claims jwt.Claims) string {
	mapClaims, ok := claims.(jwt.MapClaims)
	if !ok {
		return ""
	}

	userID, exists := mapClaims["user_id"].(string)
	if !exists {
		return ""
	}

	return userID
}
