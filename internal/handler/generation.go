package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bazaar-it/bazaar-sub000/internal/middleware"
	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/internal/service"
	"github.com/bazaar-it/bazaar-sub000/pkg/response"
)

const defaultMessageLimit = 50

type GenerationHandler struct {
	service   *service.GenerationService
	validator *validator.Validate
}

func NewGenerationHandler(svc *service.GenerationService, v *validator.Validate) *GenerationHandler {
	return &GenerationHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /api/projects/:projectId/generate
func (h *GenerationHandler) Generate(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}

	var req model.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Start(c.UserContext(), projectID, middleware.GetUserID(c), req)
	if err != nil {
		return serviceError(c, err)
	}
	return response.Accepted(c, result)
}

// Cancel handles POST /api/projects/:projectId/cancel
func (h *GenerationHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.Accepted(c, result)
}

// Session handles GET /api/projects/:projectId/session
func (h *GenerationHandler) Session(c *fiber.Ctx) error {
	result, err := h.service.Session(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}

// Messages handles GET /api/projects/:projectId/messages
func (h *GenerationHandler) Messages(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultMessageLimit)
	if limit <= 0 || limit > 500 {
		return response.ValidationError(c, "limit must be between 1 and 500", nil)
	}
	result, err := h.service.Messages(c.UserContext(), c.Params("projectId"), limit)
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, result)
}
