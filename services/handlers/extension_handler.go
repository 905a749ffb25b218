package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/guard_api/dto"
	"github.com/lac-hong-legacy/guard_api/shared"
)

type ExtensionHandler struct {
	scoringSvc ScoringServiceInterface
}

func NewExtensionHandler(scoringSvc ScoringServiceInterface) *ExtensionHandler {
	return &ExtensionHandler{
		scoringSvc: scoringSvc,
	}
}

// @Summary Sync extension texts
// @Description Score a batch of page texts collected by the browser extension
// @Tags extension
// @Accept json
// @Produce json
// @Param X-Extension-ID header string true "Extension ID"
// @Param extensionSyncRequest body dto.ExtensionSyncRequest true "Texts"
// @Success 200 {object} shared.Response{data=dto.ExtensionSyncResponse}
// @Failure 429 {object} shared.Response{data=dto.RateLimitInfo}
// @Failure 503 {object} shared.Response
// @Router /api/v1/extension/sync [post]
func (h *ExtensionHandler) Sync(c *fiber.Ctx) error {
	var req dto.ExtensionSyncRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := req.Validate(); err != nil {
		return validationFailed(c, err)
	}

	scores, err := h.scoringSvc.ScoreTexts(c.UserContext(), req.Texts)
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, scores)
}
