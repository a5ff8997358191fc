package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/localnerve/jam-build-entitygraph/internal/config"
	"github.com/localnerve/jam-build-entitygraph/internal/services"
	"github.com/localnerve/jam-build-entitygraph/internal/types"
)

// SessionCookie names the Authorizer session cookie
const SessionCookie = "cookie_session"

// AuthUser validates that the request has user role authorization. When the
// Authorizer is not configured every request passes anonymously.
func AuthUser(cfg *config.Config) fiber.Handler {
	if !cfg.AuthEnabled() {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	return func(c *fiber.Ctx) error {
		if !services.IsAuthorizerInitialized() {
			if err := services.InitAuthorizer(cfg, c.Protocol()+"://"+c.Hostname()); err != nil {
				return types.Unavailable("data.authorization.unavailable", err)
			}
		}
		return authorize(c, []string{"user"}, "data.authorization.user")
	}
}

// UserID returns the id of the authenticated user, or "" for anonymous requests
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals("userID").(string)
	return id
}

// authorize performs the authorization check
func authorize(c *fiber.Ctx, roles []string, errorType string) error {
	session := c.Cookies(SessionCookie)
	if session == "" {
		return types.Forbidden(errorType, fmt.Sprintf("Authorizer cookie %q not found", SessionCookie))
	}

	s, err := services.ValidateSession(session, roles)
	if err != nil {
		return types.Forbidden(errorType, fmt.Sprintf("Invalid session: %v", err))
	}

	c.Locals("user", s.User)
	c.Locals("userID", s.UserID)
	return c.Next()
}
