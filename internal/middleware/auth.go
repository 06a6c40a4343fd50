package middleware

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/storepulse/pulsegate/internal/auth"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/models"
)

// Locals keys
const (
	localsClaims      = "session_claims"
	localsShareReplay = "share_replay"
)

// ShareTokenParam is the query parameter and JSON body field carrying a share token
const ShareTokenParam = "share_token"

// Roles allowed to read analytics
var AnalyticsRoles = []string{"viewer", "analyst", "manager", "admin"}

// SessionAuthConfig configures SessionAuth
type SessionAuthConfig struct {
	// AllowShareToken lets a request carrying a share token through without a
	// bearer session. The share token is verified later by the handler.
	AllowShareToken bool
}

// SessionAuth verifies the bearer session token and stores its claims
func SessionAuth(logger *logging.Logger, keys *auth.Keyring, cfg SessionAuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		bearer := bearerToken(c.Get(fiber.HeaderAuthorization))

		if cfg.AllowShareToken && ShareToken(c) != "" {
			c.Locals(localsShareReplay, true)
			// A session alongside a share token only identifies the caller
			if bearer != "" {
				if claims, err := keys.VerifySession(bearer); err == nil {
					c.Locals(localsClaims, claims)
				}
			}
			return c.Next()
		}

		if bearer == "" {
			logger.Warn("Bearer token missing",
				"path", c.Path(),
				"method", c.Method(),
				"ip", c.IP(),
			)
			return unauthorized(c, "Bearer token is required.")
		}

		claims, err := keys.VerifySession(bearer)
		if err != nil {
			reason := "Invalid token."
			var authErr *auth.Error
			if errors.As(err, &authErr) {
				reason = authErr.Reason
			}
			logger.Warn("Invalid bearer token",
				"path", c.Path(),
				"method", c.Method(),
				"ip", c.IP(),
				"error", err,
			)
			return unauthorized(c, reason)
		}

		c.Locals(localsClaims, claims)
		c.SetUserContext(logging.WithSubject(c.UserContext(), claims.Subject))

		logger.Debug("Session authenticated",
			"path", c.Path(),
			"subject", claims.Subject,
		)
		return c.Next()
	}
}

// RequireRoles rejects callers holding none of roles with 403. Share replays
// pass through: the token itself is the authorization.
func RequireRoles(logger *logging.Logger, roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := Claims(c)
		if claims == nil {
			if IsShareReplay(c) {
				return c.Next()
			}
			return unauthorized(c, "Bearer token is required.")
		}

		if !claims.HasAnyRole(roles...) {
			logger.Warn("Insufficient role",
				"path", c.Path(),
				"subject", claims.Subject,
				"roles", strings.Join(claims.Roles, ","),
			)
			return c.Status(fiber.StatusForbidden).JSON(models.ErrorResponse{
				Error: models.ErrorDetail{
					Code:    "FORBIDDEN",
					Message: "Insufficient role.",
				},
			})
		}
		return c.Next()
	}
}

// Claims returns the verified session claims, or nil
func Claims(c *fiber.Ctx) *auth.SessionClaims {
	claims, _ := c.Locals(localsClaims).(*auth.SessionClaims)
	return claims
}

// IsShareReplay reports whether the request was admitted on a share token
func IsShareReplay(c *fiber.Ctx) bool {
	replay, _ := c.Locals(localsShareReplay).(bool)
	return replay
}

// ShareToken returns the share token from the query string or, for JSON
// bodies, the share_token field
func ShareToken(c *fiber.Ctx) string {
	if token := c.Query(ShareTokenParam); token != "" {
		return token
	}
	if c.Method() != fiber.MethodPost || len(c.Body()) == 0 {
		return ""
	}
	var body struct {
		ShareToken string `json:"share_token"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return ""
	}
	return body.ShareToken
}

func bearerToken(header string) string {
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    "UNAUTHORIZED",
			Message: message,
		},
	})
}
