package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/innovotech/mediadrop/internal/model"
	"github.com/innovotech/mediadrop/internal/service"
	"github.com/innovotech/mediadrop/pkg/response"
)

// ResultReader loads persisted result records.
type ResultReader interface {
	Get(ctx context.Context, id string) (*model.ResultRecord, error)
}

type ResultHandler struct {
	results ResultReader
}

func NewResultHandler(results ResultReader) *ResultHandler {
	return &ResultHandler{results: results}
}

// Get handles GET /api/result?id=<uuid> and GET /api/result/:id
func (h *ResultHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		id = c.Query("id")
	}
	if id == "" {
		return response.ValidationError(c, "Missing id parameter", nil)
	}

	record, err := h.results.Get(c.UserContext(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidResultID):
			return response.ValidationError(c, "Invalid id format", nil)
		case errors.Is(err, service.ErrResultNotFound):
			return response.NotFound(c, "Result not found")
		default:
			return response.ServiceError(c, "Failed to load result")
		}
	}

	return response.OK(c, record)
}
