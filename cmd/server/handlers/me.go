package handlers

import (
	"note-sync/cmd/server/ctxkeys"

	"github.com/gofiber/fiber/v2"
)

// Me returns the identity the JWT middleware resolved for this request.
func Me(c *fiber.Ctx) error {
	userID := c.Locals(ctxkeys.UserIDKey).(string)
	name := c.Locals(ctxkeys.UserNameKey).(string)
	return c.JSON(fiber.Map{
		"uid":  userID,
		"name": name,
	})
}
