package controller

import (
	"fmt"

	"ai-ragchat-be/internal/dto"
	"ai-ragchat-be/internal/pkg/serverutils"
	"ai-ragchat-be/internal/service"
	"ai-ragchat-be/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IConversationController interface {
	RegisterRoutes(r fiber.Router)
	Create(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	GetAll(ctx *fiber.Ctx) error
	Delete(ctx *fiber.Ctx) error
}

type conversationController struct {
	service service.IConversationService
	auth    *serverutils.TokenValidator
}

func NewConversationController(service service.IConversationService, auth *serverutils.TokenValidator) IConversationController {
	return &conversationController{service: service, auth: auth}
}

func (c *conversationController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/conversations")
	h.Use(serverutils.JwtMiddleware(c.auth))
	h.Get("", c.GetAll)
	h.Post("", c.Create)
	h.Get(":id", c.Show)
	h.Delete(":id", c.Delete)
}

func (c *conversationController) Create(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	var req dto.CreateConversationRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Create(ctx.UserContext(), userId, &req)
	if err != nil {
		return err
	}

	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success create conversation", res))
}

func (c *conversationController) Show(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := conversationParam(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.Show(ctx.UserContext(), userId, id)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success show conversation", res))
}

func (c *conversationController) GetAll(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	var req dto.ListConversationsRequest
	if err := ctx.QueryParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid query parameters")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.GetAll(ctx.UserContext(), userId, &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get all conversation", res))
}

func (c *conversationController) Delete(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := conversationParam(ctx)
	if err != nil {
		return err
	}

	if err := c.service.Delete(ctx.UserContext(), userId, id); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete conversation", nil))
}

// conversationParam treats a malformed id like an unknown one.
func conversationParam(ctx *fiber.Ctx) (uuid.UUID, error) {
	raw := ctx.Params("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.NotFound("conversation.param", fmt.Sprintf("conversation %q not found", raw))
	}
	return id, nil
}
