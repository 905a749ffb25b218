package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/guard_api/dto"
	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
	"github.com/lac-hong-legacy/guard_api/shared"
)

// RequestIdentity returns the identity resolved for this request, or one
// keyed only on the peer address when no resolver ran.
func RequestIdentity(c *fiber.Ctx) ratelimit.Identity {
	if id, ok := c.Locals(shared.RequestIdent).(ratelimit.Identity); ok {
		return id
	}
	return ratelimit.Identity{IP: c.IP()}
}

func SetRateLimitHeaders(c *fiber.Ctx, dec ratelimit.Decision) {
	if dec.Class == "" {
		return
	}
	for k, v := range dec.Headers() {
		c.Set(k, v)
	}
}

func actorID(c *fiber.Ctx) string {
	if id, ok := c.Locals(shared.UserID).(string); ok && id != "" {
		return id
	}
	return "unknown"
}

func validationFailed(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.CreateValidationErrorResponse(err))
}
