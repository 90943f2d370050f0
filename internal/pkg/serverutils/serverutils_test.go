package serverutils

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"ai-ragchat-be/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestTokenValidator(t *testing.T) {
	v := NewTokenValidator("secret")
	userID := uuid.New()

	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{name: "valid", token: sign(t, "secret", jwt.MapClaims{"user_id": userID.String()}), ok: true},
		{name: "empty", token: ""},
		{name: "wrong secret", token: sign(t, "other", jwt.MapClaims{"user_id": userID.String()})},
		{name: "expired", token: sign(t, "secret", jwt.MapClaims{"user_id": userID.String(), "exp": time.Now().Add(-time.Hour).Unix()})},
		{name: "missing user", token: sign(t, "secret", jwt.MapClaims{"sub": "x"})},
		{name: "bad user id", token: sign(t, "secret", jwt.MapClaims{"user_id": "abc"})},
		{name: "garbage", token: "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(tt.token)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, userID, got)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperr.KindProtocol, apperr.KindOf(err))
		})
	}
}

func TestErrorHandlerMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(ErrorHandlerMiddleware())
	app.Get("/missing", func(c *fiber.Ctx) error { return apperr.NotFound("test", "conversation not found") })
	app.Get("/busy", func(c *fiber.Ctx) error { return apperr.Transient("test", io.ErrUnexpectedEOF) })
	app.Get("/invalid", func(c *fiber.Ctx) error {
		type req struct {
			Content string `validate:"required"`
		}
		return ValidateRequest(req{})
	})

	tests := []struct {
		path   string
		status int
	}{
		{"/missing", fiber.StatusNotFound},
		{"/busy", fiber.StatusServiceUnavailable},
		{"/invalid", fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestJwtMiddleware(t *testing.T) {
	v := NewTokenValidator("secret")
	userID := uuid.New()

	app := fiber.New()
	app.Get("/me", JwtMiddleware(v), func(c *fiber.Ctx) error {
		id, err := UserID(c)
		if err != nil {
			return err
		}
		return c.SendString(id.String())
	})

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, "secret", jwt.MapClaims{"user_id": userID.String()}))
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, userID.String(), string(body))

	resp, err = app.Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
