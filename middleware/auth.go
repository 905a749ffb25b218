package middleware

import (
	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"

	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/services"
	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
	"github.com/lac-hong-legacy/guard_api/shared"
)

type AuthMiddleware struct {
	context.DefaultService

	jwtSvc *services.JWTService
}

const AUTH_MIDDLEWARE_SVC = "auth"

func (svc AuthMiddleware) Id() string {
	return AUTH_MIDDLEWARE_SVC
}

func (svc *AuthMiddleware) Configure(ctx *context.Context) error {
	svc.jwtSvc = ctx.Service(services.JWT_SVC).(*services.JWTService)
	return svc.DefaultService.Configure(ctx)
}

func (svc *AuthMiddleware) Start() error {
	return nil
}

// NewAuthMiddleware wires the middleware outside the service registry.
func NewAuthMiddleware(jwtSvc *services.JWTService) *AuthMiddleware {
	return &AuthMiddleware{jwtSvc: jwtSvc}
}

// ResolveIdentity collects everything admission keys on. A bearer token is
// optional, but one that is present must verify.
func (svc *AuthMiddleware) ResolveIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := ratelimit.Identity{
			IP:          c.IP(),
			BrowserUUID: c.Get(shared.HeaderBrowserUUID),
			ExtensionID: c.Get(shared.HeaderExtensionID),
		}

		if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
			token, err := svc.jwtSvc.ExtractTokenFromHeader(authHeader)
			if err != nil {
				return shared.NewUnauthorizedError(err, "Unauthorized")
			}
			claims, err := svc.jwtSvc.VerifyJWTToken(token)
			if err != nil {
				return shared.NewUnauthorizedError(err, "Invalid JWT token")
			}

			id.UserID = claims.UserID
			id.Email = claims.Email
			id.Role = model.ParseRole(string(claims.Role))

			c.Locals(shared.UserID, id.UserID)
			c.Locals(shared.UserEmail, id.Email)
			c.Locals(shared.UserRole, id.Role)
		}

		c.Locals(shared.RequestIdent, id)
		return c.Next()
	}
}

// RequireRole admits authenticated callers holding one of roles.
func (svc *AuthMiddleware) RequireRole(roles ...model.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals(shared.UserID).(string)
		if userID == "" {
			return shared.NewUnauthorizedError(nil, "Unauthorized")
		}
		role, _ := c.Locals(shared.UserRole).(model.Role)
		for _, r := range roles {
			if role == r {
				return c.Next()
			}
		}
		return shared.NewForbiddenError(nil, "Insufficient role")
	}
}
