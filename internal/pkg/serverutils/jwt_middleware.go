package serverutils

import (
	"fmt"

	"ai-ragchat-be/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenValidator checks HMAC-signed access tokens issued elsewhere and
// returns the user they belong to.
type TokenValidator struct {
	secret []byte
}

func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

func (v *TokenValidator) Validate(tokenStr string) (uuid.UUID, error) {
	const op = "auth.validate"
	if tokenStr == "" {
		return uuid.Nil, apperr.Protocol(op, "missing token")
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, apperr.Protocol(op, "invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, apperr.Protocol(op, "invalid token claims")
	}
	userIDStr, ok := claims["user_id"].(string)
	if !ok {
		return uuid.Nil, apperr.Protocol(op, "token missing user_id")
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, apperr.Protocol(op, "invalid user id format in token")
	}
	return userID, nil
}

func JwtMiddleware(v *TokenValidator) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		authHeader := ctx.Get("Authorization")
		if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Missing token"))
		}

		userID, err := v.Validate(authHeader[7:])
		if err != nil {
			return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Invalid token"))
		}

		ctx.Locals("user_id", userID.String())
		return ctx.Next()
	}
}

// UserID reads the id stored by JwtMiddleware.
func UserID(ctx *fiber.Ctx) (uuid.UUID, error) {
	userIDStr, ok := ctx.Locals("user_id").(string)
	if !ok {
		return uuid.Nil, fiber.ErrUnauthorized
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, fiber.ErrUnauthorized
	}
	return userID, nil
}
