package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// APIVersion is the version of the entity service wire schema
const APIVersion = "1.0.0"

// VersionMiddleware parses the X-Api-Version header, stores it in context and
// echoes the served version. Requests for another major version are rejected.
func VersionMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		version := c.Get("X-Api-Version", APIVersion)

		// Support version aliases
		switch strings.Count(version, ".") {
		case 0:
			version += ".0.0"
		case 1:
			version += ".0"
		}
		major, _, _ := strings.Cut(version, ".")
		if served, _, _ := strings.Cut(APIVersion, "."); major != served {
			return fiber.NewError(fiber.StatusBadRequest, "unsupported X-Api-Version "+version)
		}

		c.Locals("apiVersion", version)
		c.Set("X-Api-Version", APIVersion)
		return c.Next()
	}
}
