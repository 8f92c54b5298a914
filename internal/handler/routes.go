package handler

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/bazaar-it/bazaar-sub000/internal/metrics"
	"github.com/bazaar-it/bazaar-sub000/internal/middleware"
	ws "github.com/bazaar-it/bazaar-sub000/internal/websocket"
)

// Router wires every HTTP and WebSocket route of the API.
type Router struct {
	Generation  *GenerationHandler
	Scenes      *SceneHandler
	Auth        *AuthHandler
	Hub         *ws.Hub
	Metrics     *metrics.Metrics
	RateLimiter *middleware.RateLimiter
	APIAuth     fiber.Handler
	Limits      Limits
	Health      func() fiber.Map
}

// Limits are the per-user request limits per minute.
type Limits struct {
	GeneratePerMin int
	RestorePerMin  int
}

func (r *Router) Register(app *fiber.App) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		services := fiber.Map{}
		if r.Health != nil {
			services = r.Health()
		}
		return c.JSON(fiber.Map{
			"status":   "ok",
			"services": services,
		})
	})
	app.Get("/metrics", r.Metrics.Handler())

	// ForwardAuth verification endpoint (internal, called by the gateway)
	app.Get("/auth/verify", r.Auth.Verify)

	api := app.Group("/api", r.APIAuth)
	projects := api.Group("/projects/:projectId")
	projects.Post("/generate", r.RateLimiter.GenerateLimit(r.Limits.GeneratePerMin), r.Generation.Generate)
	projects.Post("/cancel", r.Generation.Cancel)
	projects.Get("/session", r.Generation.Session)
	projects.Get("/messages", r.Generation.Messages)
	projects.Get("/scenes", r.Scenes.List)
	projects.Post("/operations/:operationId/restore", r.RateLimiter.RestoreLimit(r.Limits.RestorePerMin), r.Scenes.Restore)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/sessions/:sessionId", websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, c.Params("sessionId"))
	}))
}

// ErrorHandler renders errors that escaped a handler in the response envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
