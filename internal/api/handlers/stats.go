package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/carelink/carelink-ai/internal/services"
)

// GetUsageStats reports cumulative model token usage since process start.
func GetUsageStats(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(svc.LLM.UsageStats())
	}
}

// ResetUsageStats zeroes the cumulative token counters.
func ResetUsageStats(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		svc.LLM.ResetUsageStats()
		return c.JSON(fiber.Map{"reset": true})
	}
}
