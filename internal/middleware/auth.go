package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/innovotech/mediadrop/internal/auth"
	"github.com/innovotech/mediadrop/pkg/response"
)

// AuthMiddleware handles bearer credential authentication
type AuthMiddleware struct {
	verifier auth.Verifier
	log      zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware. A nil verifier lets every
// request through.
func NewAuthMiddleware(verifier auth.Verifier, log zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, log: log}
}

// Authenticate validates the bearer credential from the Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.verifier == nil {
			return c.Next()
		}

		credential := bearerCredential(c.Get("Authorization"))
		if credential == "" {
			return response.Unauthorized(c, "Missing API key. Add header: Authorization: Bearer <your-key>")
		}

		principal, err := m.verifier.Verify(c.UserContext(), credential)
		if err != nil {
			var invalidErr *auth.InvalidCredentialError
			if errors.As(err, &invalidErr) {
				return response.Error(c, fiber.StatusUnauthorized, response.CodeUnauthorized,
					"Invalid or expired API key", fiber.Map{"code": invalidErr.Code})
			}
			m.log.Error().Err(err).Str("requestId", GetRequestID(c)).Msg("credential verification failed")
			return response.ServiceError(c, "Key verification failed")
		}

		c.Locals("userId", principal.Subject)
		c.Locals("principal", principal)
		return c.Next()
	}
}

func bearerCredential(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// GetUserID extracts the verified subject from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}
