package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"planbook/agent"
)

// ContextHandler exposes the aggregated context endpoint consumed by the
// assistant feature right before prompt composition.
type ContextHandler struct {
	aggregator *agent.Aggregator
}

func NewContextHandler(aggregator *agent.Aggregator) *ContextHandler {
	return &ContextHandler{aggregator: aggregator}
}

func (h *ContextHandler) HandleQueryContext(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		return ErrInvalidID()
	}

	var orgID uuid.NullUUID
	if raw := c.Query("organization_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return ErrInvalidID()
		}
		orgID = uuid.NullUUID{UUID: parsed, Valid: true}
	}

	text := h.aggregator.BuildContext(c.Context(), userID, orgID)
	return c.JSON(fiber.Map{"context": text})
}
