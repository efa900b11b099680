package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/innovotech/mediadrop/internal/model"
	"github.com/innovotech/mediadrop/pkg/response"
)

// Probe reports whether one dependency is configured or reachable.
type Probe func(c *fiber.Ctx) bool

type HealthHandler struct {
	probes map[string]Probe
}

func NewHealthHandler(probes map[string]Probe) *HealthHandler {
	return &HealthHandler{probes: probes}
}

// Check handles GET /health. It always answers 200; the service map tells
// which adapters are usable.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	services := make(map[string]bool, len(h.probes))
	for name, probe := range h.probes {
		services[name] = probe(c)
	}
	return response.OK(c, model.HealthResponse{
		Status:   "ok",
		Services: services,
	})
}

// Static wraps a value known at startup.
func Static(ok bool) Probe {
	return func(*fiber.Ctx) bool { return ok }
}
