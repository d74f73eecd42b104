package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/elecmate/api/internal/logging"
	ws "github.com/elecmate/api/internal/websocket"
	"github.com/elecmate/api/pkg/response"
)

type SystemHandler struct {
	logging     *logging.Logging
	hub         *ws.Hub
	storeDriver string
	queue       string
}

func NewSystemHandler(l *logging.Logging, hub *ws.Hub, storeDriver, queue string) *SystemHandler {
	return &SystemHandler{
		logging:     l,
		hub:         hub,
		storeDriver: storeDriver,
		queue:       queue,
	}
}

// Health handles GET /health
func (h *SystemHandler) Health(c *fiber.Ctx) error {
	watches := 0
	if h.hub != nil {
		watches = h.hub.ActiveWatches()
	}
	return response.OK(c, fiber.Map{
		"status":  "ok",
		"store":   h.storeDriver,
		"queue":   h.queue,
		"watches": watches,
	})
}

// Breadcrumbs handles GET /debug/breadcrumbs
func (h *SystemHandler) Breadcrumbs(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"breadcrumbs": h.logging.Breadcrumbs()})
}
