package controller

import (
	"ai-ragchat-be/internal/dto"
	"ai-ragchat-be/internal/pkg/serverutils"

	"github.com/gofiber/fiber/v2"
)

// HealthInfo is filled once at startup from the selected backends.
type HealthInfo struct {
	VectorBackend     string
	Metric            string
	MetricMin         float64
	MetricMax         float64
	EmbeddingProvider string
	LLMProvider       string
}

// SessionCounter reports live realtime sessions.
type SessionCounter interface {
	Count() int
}

type IHealthController interface {
	RegisterRoutes(r fiber.Router)
	Health(ctx *fiber.Ctx) error
}

type healthController struct {
	info     HealthInfo
	sessions SessionCounter
}

func NewHealthController(info HealthInfo, sessions SessionCounter) IHealthController {
	return &healthController{info: info, sessions: sessions}
}

func (c *healthController) RegisterRoutes(r fiber.Router) {
	r.Get("/health", c.Health)
}

func (c *healthController) Health(ctx *fiber.Ctx) error {
	res := dto.HealthResponse{
		Status:            "ok",
		VectorBackend:     c.info.VectorBackend,
		Metric:            c.info.Metric,
		MetricMin:         c.info.MetricMin,
		MetricMax:         c.info.MetricMax,
		EmbeddingProvider: c.info.EmbeddingProvider,
		LLMProvider:       c.info.LLMProvider,
	}
	if c.sessions != nil {
		res.LiveSessions = c.sessions.Count()
	}
	return ctx.JSON(serverutils.SuccessResponse("Service is healthy", res))
}
