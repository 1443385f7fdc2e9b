package usercontext

import (
	"github.com/gofiber/fiber/v2"
)

// Locals keys set by the API key middleware.
const (
	KeyUserContext = "USER_CONTEXT"
	KeyUserID      = "USER_ID"
	KeyIsAdmin     = "IS_ADMIN"
)

// UserContext carries the authenticated caller through a request.
type UserContext struct {
	UserID  uint
	Name    string
	IsAdmin bool
}

// FromCtx returns the authenticated user context, if any.
func FromCtx(c *fiber.Ctx) (UserContext, bool) {
	uc, ok := c.Locals(KeyUserContext).(UserContext)
	return uc, ok
}

// UserID returns the authenticated user id or 0.
func UserID(c *fiber.Ctx) uint {
	if uc, ok := FromCtx(c); ok {
		return uc.UserID
	}
	return 0
}

// IsAdmin reports whether the caller may use operator endpoints.
func IsAdmin(c *fiber.Ctx) bool {
	uc, ok := FromCtx(c)
	return ok && uc.IsAdmin
}
