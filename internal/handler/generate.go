package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/innovotech/mediadrop/internal/middleware"
	"github.com/innovotech/mediadrop/internal/model"
	"github.com/innovotech/mediadrop/pkg/response"
)

const authUsage = "Authorization: Bearer <api-key>"

// Generator runs the media pipelines. Implemented by *pipeline.Orchestrator.
type Generator interface {
	Generate(ctx context.Context, req model.GenerationRequest, requestID string) *model.GenerationResponse
	RunMusic(ctx context.Context, req model.MusicOnlyRequest, requestID string) (*model.SingleDeliveryResponse, bool)
	RunImage(ctx context.Context, req model.ImageOnlyRequest, requestID string) (*model.SingleDeliveryResponse, bool)
}

type GenerateHandler struct {
	generator Generator
	validator *validator.Validate
}

func NewGenerateHandler(gen Generator, v *validator.Validate) *GenerateHandler {
	return &GenerateHandler{
		generator: gen,
		validator: v,
	}
}

// All handles POST /api/generate-and-send-all
//
// Runs the music and image pipelines concurrently and fans the results out
// to the sinks named by "deliver". Responds 200 when at least one artifact
// was generated and 500 when both failed.
func (h *GenerateHandler) All(c *fiber.Ctx) error {
	var req model.GenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result := h.generator.Generate(c.UserContext(), req, middleware.GetRequestID(c))
	return c.Status(statusFor(result.Success)).JSON(result)
}

// Music handles POST /api/generate-and-send
func (h *GenerateHandler) Music(c *fiber.Ctx) error {
	var req model.MusicOnlyRequest
	// every field is optional, so an empty body is a valid request
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, ok := h.generator.RunMusic(c.UserContext(), req, middleware.GetRequestID(c))
	return c.Status(statusFor(ok)).JSON(result)
}

// Image handles POST /api/generate-and-send-image
func (h *GenerateHandler) Image(c *fiber.Ctx) error {
	var req model.ImageOnlyRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, ok := h.generator.RunImage(c.UserContext(), req, middleware.GetRequestID(c))
	return c.Status(statusFor(ok)).JSON(result)
}

// AllUsage handles GET /api/generate-and-send-all
func (h *GenerateHandler) AllUsage(c *fiber.Ctx) error {
	return response.OK(c, model.UsageResponse{
		Status:   "ok",
		Endpoint: "POST /api/generate-and-send-all",
		Body: map[string]string{
			"music_prompt":    "string (optional)",
			"music_length_ms": "number ms (optional, default 30000)",
			"lyrics":          "string newline-separated (optional)",
			"image_url":       "string (required), public URL of source image",
			"image_prompt":    "string (required), edit instructions",
			"image_size":      `"1024x1024" | "1536x1024" | "1024x1536" (optional)`,
			"deliver":         `"whatsapp" (default) | "link" | "both"`,
			"message":         "string (optional), shown on the result page",
			"bg_color":        `"pink" | "black" | "blue" | "red" (optional)`,
		},
		Auth: authUsage,
	})
}

// MusicUsage handles GET /api/generate-and-send
func (h *GenerateHandler) MusicUsage(c *fiber.Ctx) error {
	return response.OK(c, model.UsageResponse{
		Status:   "ok",
		Endpoint: "POST /api/generate-and-send",
		Body: map[string]string{
			"prompt":          "string (optional)",
			"music_length_ms": "number ms (optional)",
			"lyrics":          "string newline-separated (optional)",
		},
		Auth: authUsage,
	})
}

// ImageUsage handles GET /api/generate-and-send-image
func (h *GenerateHandler) ImageUsage(c *fiber.Ctx) error {
	return response.OK(c, model.UsageResponse{
		Status:   "ok",
		Endpoint: "POST /api/generate-and-send-image",
		Body: map[string]string{
			"image_url": "string (required), public URL of source image",
			"prompt":    "string (required), edit instructions",
			"size":      `"1024x1024" | "1536x1024" | "1024x1536" (optional, default: 1024x1024)`,
		},
		Auth: authUsage,
	})
}

func statusFor(success bool) int {
	if success {
		return fiber.StatusOK
	}
	return fiber.StatusInternalServerError
}
