package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/CoachLedger/internal/models"
	"github.com/saeid-a/CoachLedger/pkg/utils"
)

// Request locals set by AuthRequired.
const (
	LocalUserID = "user_id"
	LocalRole   = "role"
)

// AuthRequired accepts bearer tokens issued to payers, coaches and ledger
// operators. Any other role is refused even when the signature is valid.
func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}
		if claims.UserID == "" || !ledgerRole(claims.Role) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Token carries no ledger role",
			})
		}

		c.Locals(LocalUserID, claims.UserID)
		c.Locals(LocalRole, claims.Role)

		return c.Next()
	}
}

// RequireRole admits only the listed roles. It runs after AuthRequired.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(LocalRole).(string)
		for _, allowed := range roles {
			if role == allowed {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}
}

// PayerOnly gates purchase and overtime endpoints.
func PayerOnly() fiber.Handler {
	return RequireRole(models.RoleUser)
}

// RecipientOrOperator gates refunds and refund request decisions.
func RecipientOrOperator() fiber.Handler {
	return RequireRole(models.RoleCoach, models.RoleAdmin)
}

func ledgerRole(role string) bool {
	switch role {
	case models.RoleUser, models.RoleCoach, models.RoleAdmin:
		return true
	}
	return false
}
