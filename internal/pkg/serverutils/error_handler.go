package serverutils

import (
	"errors"

	"ai-ragchat-be/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandlerMiddleware turns errors returned by handlers into the JSON
// error payload. Not-found is a normal response body, never a fault.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return ctx.Status(fiberErr.Code).JSON(ErrorResponse(fiberErr.Code, fiberErr.Message))
		}

		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			res := ErrorResponse(fiber.StatusBadRequest, "Invalid request")
			res.Errors = validationErr.Fields
			return ctx.Status(fiber.StatusBadRequest).JSON(res)
		}

		status := StatusFor(err)
		message := err.Error()
		if status == fiber.StatusInternalServerError {
			message = "Internal server error"
		}
		return ctx.Status(status).JSON(ErrorResponse(status, message))
	}
}

// StatusFor maps the error taxonomy onto HTTP.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindPermanent:
		return fiber.StatusUnprocessableEntity
	case apperr.KindTransient:
		return fiber.StatusServiceUnavailable
	case apperr.KindProtocol:
		return fiber.StatusUnauthorized
	case apperr.KindConfiguration:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusInternalServerError
	}
}
