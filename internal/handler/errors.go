package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/pkg/response"
)

// serviceError maps the error taxonomy to the response envelope.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrSessionLocked):
		return response.SessionLocked(c, err.Error())
	case errors.Is(err, model.ErrRestoreUnsupported):
		return response.RestoreUnsupported(c, err.Error())
	case errors.Is(err, model.ErrAlreadyRestored):
		return response.Conflict(c, err.Error())
	case errors.Is(err, model.ErrContextUnavailable), errors.Is(err, model.ErrStoreUnavailable):
		return response.Unavailable(c, err.Error())
	case errors.Is(err, model.ErrNotFound):
		return response.NotFound(c, err.Error())
	default:
		return response.ServiceError(c, err.Error())
	}
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}
