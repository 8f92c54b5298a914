package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bazaar-it/bazaar-sub000/internal/service"
	"github.com/bazaar-it/bazaar-sub000/pkg/response"
)

type SceneHandler struct {
	scenes  *service.SceneService
	restore *service.RestoreService
}

func NewSceneHandler(scenes *service.SceneService, restore *service.RestoreService) *SceneHandler {
	return &SceneHandler{
		scenes:  scenes,
		restore: restore,
	}
}

// List handles GET /api/projects/:projectId/scenes
func (h *SceneHandler) List(c *fiber.Ctx) error {
	result, err := h.scenes.List(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// Restore handles POST /api/projects/:projectId/operations/:operationId/restore
func (h *SceneHandler) Restore(c *fiber.Ctx) error {
	operationID := c.Params("operationId")
	if operationID == "" {
		return response.ValidationError(c, "Operation ID is required", nil)
	}
	result, err := h.restore.Restore(c.UserContext(), c.Params("projectId"), operationID)
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}
