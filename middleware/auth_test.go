package middleware

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/services"
	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
	"github.com/lac-hong-legacy/guard_api/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newAuthApp serves requests whose socket peer is 0.0.0.0; pass that address
// in trusted to treat the peer as a proxy.
func newAuthApp(t *testing.T, trusted ...string) (*fiber.App, *services.JWTService, *ratelimit.Identity) {
	t.Helper()
	jwtSvc := services.NewJWTService("test-secret", time.Hour)
	auth := NewAuthMiddleware(jwtSvc)

	var seen ratelimit.Identity
	app := fiber.New(services.AppConfig(services.ProxyConfig{Header: fiber.HeaderXForwardedFor, Trusted: trusted}))
	app.Use(auth.ResolveIdentity())
	app.Get("/whoami", func(c *fiber.Ctx) error {
		seen, _ = c.Locals(shared.RequestIdent).(ratelimit.Identity)
		return shared.ResponseOK(c, nil)
	})
	app.Get("/admin", auth.RequireRole(model.RoleMod, model.RoleAdmin), func(c *fiber.Ctx) error {
		return shared.ResponseOK(c, nil)
	})
	return app, jwtSvc, &seen
}

func bearer(t *testing.T, jwtSvc *services.JWTService, userID string, role model.Role) string {
	t.Helper()
	token, err := jwtSvc.ToJWT(userID, userID+"@example.com", role)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAuthMiddleware_ResolveIdentity(t *testing.T) {
	app, jwtSvc, seen := newAuthApp(t)

	t.Run("anonymous caller", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/whoami", nil)
		req.Header.Set(shared.HeaderBrowserUUID, "0b7e2a54-7c2e-4b1e-9f7a-2d1c3e4f5a6b")
		req.Header.Set(shared.HeaderExtensionID, "ext-1234")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "0.0.0.0", seen.IP)
		assert.Equal(t, "0b7e2a54-7c2e-4b1e-9f7a-2d1c3e4f5a6b", seen.BrowserUUID)
		assert.Equal(t, "ext-1234", seen.ExtensionID)
		assert.Empty(t, seen.UserID)
		assert.Equal(t, model.RoleAnonymous, seen.EffectiveRole())
	})

	t.Run("forwarding headers from an untrusted peer are ignored", func(t *testing.T) {
		keys := make(map[string]struct{})
		for i := 0; i < 50; i++ {
			req := httptest.NewRequest("GET", "/whoami", nil)
			req.Header.Set(fiber.HeaderXForwardedFor, fmt.Sprintf("10.9.0.%d", i))
			req.Header.Set("X-Real-IP", fmt.Sprintf("10.8.0.%d", i))

			_, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, "0.0.0.0", seen.IP)
			key, ok := ratelimit.KeyFor(ratelimit.ScopeIP, *seen)
			require.True(t, ok)
			keys[key.String()] = struct{}{}
		}
		assert.Len(t, keys, 1, "rotating the header must not mint new ip quotas")
	})

	t.Run("verified token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/whoami", nil)
		req.Header.Set(fiber.HeaderAuthorization, bearer(t, jwtSvc, "mod-1", model.RoleMod))

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "mod-1", seen.UserID)
		assert.Equal(t, "mod-1@example.com", seen.Email)
		assert.Equal(t, model.RoleMod, seen.EffectiveRole())
	})

	t.Run("bad tokens are rejected", func(t *testing.T) {
		other := services.NewJWTService("another-secret", time.Hour)
		for name, header := range map[string]string{
			"garbage":      "Bearer not-a-token",
			"wrong secret": bearer(t, other, "mod-1", model.RoleMod),
		} {
			req := httptest.NewRequest("GET", "/whoami", nil)
			req.Header.Set(fiber.HeaderAuthorization, header)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, name)
		}
	})
}

func TestAuthMiddleware_TrustedProxy(t *testing.T) {
	app, _, seen := newAuthApp(t, "0.0.0.0")

	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set(fiber.HeaderXForwardedFor, "203.0.113.7, 10.0.0.1")
	_, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", seen.IP)

	t.Run("invalid entries are skipped", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/whoami", nil)
		req.Header.Set(fiber.HeaderXForwardedFor, "not-an-ip, 198.51.100.9")
		_, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, "198.51.100.9", seen.IP)
	})

	t.Run("missing header falls back to the peer", func(t *testing.T) {
		_, err := app.Test(httptest.NewRequest("GET", "/whoami", nil))
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0", seen.IP)
	})
}

func TestAuthMiddleware_RequireRole(t *testing.T) {
	app, jwtSvc, _ := newAuthApp(t)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", fiber.StatusUnauthorized},
		{"plain user", bearer(t, jwtSvc, "user-1", model.RoleUser), fiber.StatusForbidden},
		{"moderator", bearer(t, jwtSvc, "mod-1", model.RoleMod), fiber.StatusOK},
		{"admin", bearer(t, jwtSvc, "admin-1", model.RoleAdmin), fiber.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin", nil)
			if tc.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}
