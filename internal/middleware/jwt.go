package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/talkbase/realtime-api/internal/utils"
)

// JWTProtected returns a middleware that validates JWT bearer tokens
// and binds the authenticated user id to the request.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authorization := c.Get("Authorization")
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		tokenString := strings.TrimSpace(authorization[len(bearer):])
		userID, err := ParseSubject(tokenString, secret)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals("user_id", userID)

		return c.Next()
	}
}

// WebsocketAuth authenticates the websocket handshake. Browsers cannot
// attach headers to a websocket upgrade, so the bearer token is also
// accepted from the token query parameter.
func WebsocketAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Query("token"))
		if token == "" {
			authorization := c.Get("Authorization")
			const bearer = "Bearer "
			if len(authorization) > len(bearer) && strings.EqualFold(authorization[:len(bearer)], bearer) {
				token = strings.TrimSpace(authorization[len(bearer):])
			}
		}

		if token == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "missing token")
		}

		userID, err := ParseSubject(token, secret)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals("user_id", userID)

		return c.Next()
	}
}

// ParseSubject validates an HMAC-signed token and extracts the user id
// from its claims.
func ParseSubject(tokenString, secret string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("empty token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	userID := extractUserIDFromClaims(claims)
	if userID == "" {
		return "", fmt.Errorf("subject missing")
	}

	return userID, nil
}

func extractUserIDFromClaims(claims jwt.MapClaims) string {
	keys := []string{"sub", "user_id", "id"}
	for _, key := range keys {
		if value, ok := claims[key]; ok {
			if normalized := normalizeUserID(value); normalized != "" {
				return normalized
			}
		}
	}

	return ""
}

func normalizeUserID(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v < 0 {
			return ""
		}
		return fmt.Sprintf("%d", uint64(v))
	case int:
		if v < 0 {
			return ""
		}
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}

// UserID returns the authenticated user id bound by the JWT
// middleware, empty when unauthenticated.
func UserID(c *fiber.Ctx) string {
	if value := c.Locals("user_id"); value != nil {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}
