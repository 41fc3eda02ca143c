package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"middleman/internal/apperr"
)

const subjectKey = "identity_subject"

// Identity verifies bearer tokens issued by the external identity provider
// and stores the token subject for handlers. With an empty secret identity
// is not enforced and every request passes through.
func Identity(secret string) fiber.Handler {
	if secret == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	key := []byte(secret)

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return key, nil
		}, jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Token has no subject",
			})
		}

		c.Locals(subjectKey, sub)
		return c.Next()
	}
}

// Subject returns the verified token subject, if identity is enforced.
func Subject(c *fiber.Ctx) (string, bool) {
	sub, ok := c.Locals(subjectKey).(string)
	return sub, ok && sub != ""
}

// RequireActor fails with apperr.ErrForbidden when a verified subject is
// present and differs from the actor id the request claims to act as. An
// empty actor id is left to request validation.
func RequireActor(c *fiber.Ctx, actorID string) error {
	sub, ok := Subject(c)
	if !ok || actorID == "" || sub == actorID {
		return nil
	}
	return fmt.Errorf("%w: token subject does not match %s", apperr.ErrForbidden, actorID)
}
