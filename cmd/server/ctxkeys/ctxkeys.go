// Package ctxkeys centralizes the fiber.Ctx.Locals keys shared between
// middlewares and handlers.
package ctxkeys

const (
	// UserIDKey holds the authenticated user's id (hex string).
	UserIDKey = "userID"
	// UserNameKey holds the authenticated user's display name.
	UserNameKey = "userName"
	// ParentCtxKey holds the request-bound context.Context carried into
	// the websocket handler.
	ParentCtxKey = "parentCtx"
)
