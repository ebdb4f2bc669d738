package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/carelink/carelink-ai/internal/api/handlers"
	"github.com/carelink/carelink-ai/internal/api/middleware"
	"github.com/carelink/carelink-ai/internal/services"
)

// SetupRoutes configures all API routes.
func SetupRoutes(app *fiber.App, svc *services.Services, apiKey string) {
	// Health check stays unauthenticated for probes.
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "carelink-ai",
		})
	})

	api := app.Group("/api/v1", middleware.APIKeyAuth(apiKey))

	// Model usage counters
	api.Get("/stats", handlers.GetUsageStats(svc))
	api.Post("/stats/reset", handlers.ResetUsageStats(svc))

	// Conversational agent
	agent := api.Group("/agent")
	agent.Post("/chat", handlers.Chat(svc))
	agent.Get("/sessions/:id", handlers.GetSession(svc))
	agent.Get("/sessions/:id/history", handlers.GetSessionHistory(svc))
	agent.Delete("/sessions/:id", handlers.ClearSession(svc))
	agent.Delete("/sessions/:id/delete", handlers.DeleteSession(svc))

	// Knowledge base
	rag := api.Group("/rag")
	rag.Post("/ingest", handlers.IngestDocument(svc))
	rag.Post("/ingest/batch", handlers.IngestBatch(svc))
	rag.Post("/search", handlers.SearchKnowledge(svc))
	rag.Post("/query", handlers.QueryKnowledge(svc))
	rag.Get("/stats", handlers.GetKnowledgeStats(svc))
	rag.Delete("/documents/:id", handlers.DeleteDocument(svc))
}
