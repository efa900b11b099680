package response

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorEnvelope(t *testing.T) {
	app := fiber.New()
	app.Get("/bad", func(c *fiber.Ctx) error {
		return ValidationError(c, "Validation failed", map[string]string{"image_url": "required"})
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return NotFound(c, "Result not found")
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/bad", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var body ErrorResponse
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, CodeValidationError, body.Error.Code)
	assert.Equal(t, map[string]interface{}{"image_url": "required"}, body.Error.Details)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	raw, _ = io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":{"code":"NOT_FOUND","message":"Result not found"}}`, string(raw))
}
