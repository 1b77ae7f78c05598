package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ikhtibar/assessment-api/internal/utils"
)

// RequireRole guards examiner and admin surfaces. The role is taken from the
// JWT middleware; a request that never went through it carries no role and is
// treated as unauthenticated rather than merely unauthorized.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[strings.ToLower(strings.TrimSpace(role))] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("user_role").(string)
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if _, ok := allowed[role]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}
