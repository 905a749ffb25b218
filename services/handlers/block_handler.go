package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/guard_api/dto"
	"github.com/lac-hong-legacy/guard_api/shared"
)

type BlockHandler struct {
	blockSvc BlockServiceInterface
}

func NewBlockHandler(blockSvc BlockServiceInterface) *BlockHandler {
	return &BlockHandler{
		blockSvc: blockSvc,
	}
}

// @Summary List blocks (Moderator)
// @Tags blocks
// @Produce json
// @Security Bearer
// @Param username query string false "Target username"
// @Param platform query string false "Target platform"
// @Param active query bool false "Only active blocks"
// @Success 200 {object} shared.Response{data=dto.BlockListResponse}
// @Router /api/v1/admin/blocks [get]
func (h *BlockHandler) ListBlocks(c *fiber.Ctx) error {
	var req dto.ListBlocksRequest
	if err := c.QueryParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid query")
	}
	if err := req.Validate(); err != nil {
		return validationFailed(c, err)
	}

	blocks, err := h.blockSvc.ListBlocks(c.UserContext(), req)
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, blocks)
}

// @Summary Get block (Moderator)
// @Description Block with its full history
// @Tags blocks
// @Produce json
// @Security Bearer
// @Param blockId path string true "Block ID"
// @Success 200 {object} shared.Response{data=dto.BlockResponse}
// @Router /api/v1/admin/blocks/{blockId} [get]
func (h *BlockHandler) GetBlock(c *fiber.Ctx) error {
	block, err := h.blockSvc.GetBlock(c.UserContext(), c.Params("blockId"))
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, block)
}

// @Summary Create block (Moderator)
// @Description Place a manual block. Returns 200 with the existing block when the target is already blocked.
// @Tags blocks
// @Accept json
// @Produce json
// @Security Bearer
// @Param createBlockRequest body dto.CreateBlockRequest true "Block"
// @Success 201 {object} shared.Response{data=dto.BlockResponse}
// @Router /api/v1/admin/blocks [post]
func (h *BlockHandler) CreateBlock(c *fiber.Ctx) error {
	var req dto.CreateBlockRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := req.Validate(); err != nil {
		return validationFailed(c, err)
	}

	block, created, err := h.blockSvc.CreateBlock(c.UserContext(), req, actorID(c))
	if err != nil {
		return err
	}
	if !created {
		return shared.ResponseJSON(c, fiber.StatusOK, "Target is already blocked", block)
	}

	return shared.ResponseCreated(c, block)
}

// @Summary Extend block (Moderator)
// @Tags blocks
// @Accept json
// @Produce json
// @Security Bearer
// @Param blockId path string true "Block ID"
// @Param extendBlockRequest body dto.ExtendBlockRequest true "Extension"
// @Success 200 {object} shared.Response{data=dto.BlockResponse}
// @Failure 409 {object} shared.Response
// @Router /api/v1/admin/blocks/{blockId}/extend [post]
func (h *BlockHandler) ExtendBlock(c *fiber.Ctx) error {
	var req dto.ExtendBlockRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := req.Validate(); err != nil {
		return validationFailed(c, err)
	}

	block, err := h.blockSvc.ExtendBlock(c.UserContext(), c.Params("blockId"), req, actorID(c))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Block extended", block)
}

// @Summary Unblock (Moderator)
// @Tags blocks
// @Accept json
// @Produce json
// @Security Bearer
// @Param blockId path string true "Block ID"
// @Param unblockRequest body dto.UnblockRequest false "Reason"
// @Success 200 {object} shared.Response{data=dto.BlockResponse}
// @Router /api/v1/admin/blocks/{blockId}/unblock [post]
func (h *BlockHandler) Unblock(c *fiber.Ctx) error {
	var req dto.UnblockRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return shared.NewBadRequestError(err, "Invalid request")
		}
	}
	if err := req.Validate(); err != nil {
		return validationFailed(c, err)
	}

	block, err := h.blockSvc.Unblock(c.UserContext(), c.Params("blockId"), req, actorID(c))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Block lifted", block)
}

// @Summary Add violation (Moderator)
// @Description Record one more violation on the target's active block
// @Tags blocks
// @Accept json
// @Produce json
// @Security Bearer
// @Param addViolationRequest body dto.AddViolationRequest true "Violation"
// @Success 200 {object} shared.Response{data=dto.BlockResponse}
// @Router /api/v1/admin/blocks/violations [post]
func (h *BlockHandler) AddViolation(c *fiber.Ctx) error {
	var req dto.AddViolationRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := req.Validate(); err != nil {
		return validationFailed(c, err)
	}

	block, err := h.blockSvc.AddViolation(c.UserContext(), req, actorID(c))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Violation recorded", block)
}

// @Summary Evaluate target (Moderator)
// @Description Re-run the confirmation threshold for a target
// @Tags blocks
// @Accept json
// @Produce json
// @Security Bearer
// @Param targetRequest body dto.TargetRequest true "Target"
// @Success 200 {object} shared.Response{data=dto.EvaluateTargetResponse}
// @Router /api/v1/admin/targets/evaluate [post]
func (h *BlockHandler) EvaluateTarget(c *fiber.Ctx) error {
	var req dto.TargetRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := req.Validate(); err != nil {
		return validationFailed(c, err)
	}

	result, err := h.blockSvc.EvaluateTarget(c.UserContext(), req)
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, result)
}

// @Summary Run expiry sweep (Moderator)
// @Tags blocks
// @Produce json
// @Security Bearer
// @Success 200 {object} shared.Response{data=dto.SweepResponse}
// @Router /api/v1/admin/sweeps [post]
func (h *BlockHandler) Sweep(c *fiber.Ctx) error {
	result, err := h.blockSvc.Sweep(c.UserContext())
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, result)
}
