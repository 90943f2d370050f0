package controller

import (
	"ai-ragchat-be/internal/dto"
	"ai-ragchat-be/internal/pkg/serverutils"
	"ai-ragchat-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IDocumentController interface {
	RegisterRoutes(r fiber.Router)
	Ingest(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	Delete(ctx *fiber.Ctx) error
	Search(ctx *fiber.Ctx) error
}

type documentController struct {
	service service.IDocumentService
	auth    *serverutils.TokenValidator
}

func NewDocumentController(service service.IDocumentService, auth *serverutils.TokenValidator) IDocumentController {
	return &documentController{service: service, auth: auth}
}

func (c *documentController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/documents")
	h.Use(serverutils.JwtMiddleware(c.auth))
	h.Post("", c.Ingest)
	h.Get("search", c.Search) // before :id
	h.Get(":id", c.Show)
	h.Delete(":id", c.Delete)
}

func (c *documentController) Ingest(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	var req dto.IngestDocumentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	async := ctx.QueryBool("async", false)
	res, err := c.service.Ingest(ctx.UserContext(), userId, &req, async)
	if err != nil {
		return err
	}

	status := fiber.StatusCreated
	if async {
		status = fiber.StatusAccepted
	}
	return ctx.Status(status).JSON(serverutils.SuccessResponse("Success ingest document", res))
}

func (c *documentController) Show(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.Show(ctx.UserContext(), userId, ctx.Params("id"))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success show document", res))
}

func (c *documentController) Delete(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	if err := c.service.Delete(ctx.UserContext(), userId, ctx.Params("id")); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete document", nil))
}

func (c *documentController) Search(ctx *fiber.Ctx) error {
	var req dto.SearchDocumentsRequest
	if err := ctx.QueryParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid query parameters")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Search(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success search documents", res))
}
