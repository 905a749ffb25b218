package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/guard_api/dto"
	"github.com/lac-hong-legacy/guard_api/shared"
)

type AdmissionHandler struct {
	admissionSvc AdmissionServiceInterface
	reportSvc    ReportServiceInterface
	blockSvc     BlockServiceInterface
}

func NewAdmissionHandler(admissionSvc AdmissionServiceInterface, reportSvc ReportServiceInterface, blockSvc BlockServiceInterface) *AdmissionHandler {
	return &AdmissionHandler{
		admissionSvc: admissionSvc,
		reportSvc:    reportSvc,
		blockSvc:     blockSvc,
	}
}

// @Summary List quota policies (Admin)
// @Tags admission
// @Produce json
// @Security Bearer
// @Success 200 {object} shared.Response{data=dto.PolicyListResponse}
// @Router /api/v1/admin/admission/policies [get]
func (h *AdmissionHandler) ListPolicies(c *fiber.Ctx) error {
	return shared.ResponseOK(c, h.admissionSvc.Policies())
}

// @Summary Update quota policy (Admin)
// @Description Partial update; the change is persisted and picked up by every instance
// @Tags admission
// @Accept json
// @Produce json
// @Security Bearer
// @Param class path string true "Endpoint class"
// @Param updatePolicyRequest body dto.UpdatePolicyRequest true "Changes"
// @Success 200 {object} shared.Response{data=dto.PolicyResponse}
// @Router /api/v1/admin/admission/policies/{class} [put]
func (h *AdmissionHandler) UpdatePolicy(c *fiber.Ctx) error {
	var req dto.UpdatePolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := req.Validate(); err != nil {
		return validationFailed(c, err)
	}

	policy, err := h.admissionSvc.UpdatePolicy(c.UserContext(), c.Params("class"), req, actorID(c))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Policy updated", policy)
}

// @Summary Reset identity (Admin)
// @Description Clear counters and violation history for one identity under a class
// @Tags admission
// @Accept json
// @Produce json
// @Security Bearer
// @Param resetAdmissionRequest body dto.ResetAdmissionRequest true "Identity"
// @Success 200 {object} shared.Response{data=map[string]int}
// @Router /api/v1/admin/admission/reset [post]
func (h *AdmissionHandler) ResetIdentity(c *fiber.Ctx) error {
	var req dto.ResetAdmissionRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := req.Validate(); err != nil {
		return validationFailed(c, err)
	}

	cleared, err := h.admissionSvc.ResetIdentity(c.UserContext(), req)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Identity reset", fiber.Map{"keys_cleared": cleared})
}

// @Summary Moderation stats (Moderator)
// @Tags moderation
// @Produce json
// @Security Bearer
// @Success 200 {object} shared.Response{data=dto.StatsResponse}
// @Router /api/v1/admin/stats [get]
func (h *AdmissionHandler) Stats(c *fiber.Ctx) error {
	byStatus, err := h.reportSvc.CountByStatus(c.UserContext())
	if err != nil {
		return err
	}
	active, err := h.blockSvc.CountActive(c.UserContext())
	if err != nil {
		return shared.NewInternalError(err, "Failed to count blocks")
	}

	return shared.ResponseOK(c, dto.StatsResponse{
		ReportsByStatus: byStatus,
		ActiveBlocks:    active,
		StoreDegraded:   h.admissionSvc.Degraded(),
		PolicyVersion:   h.admissionSvc.Policies().Version,
	})
}
