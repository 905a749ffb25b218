package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/lac-hong-legacy/guard_api/dto"
	"github.com/lac-hong-legacy/guard_api/shared"
)

type ReportHandler struct {
	reportSvc ReportServiceInterface
}

func NewReportHandler(reportSvc ReportServiceInterface) *ReportHandler {
	return &ReportHandler{
		reportSvc: reportSvc,
	}
}

// @Summary Submit report
// @Description Report abusive content. Every call is charged against the report quota, including rejected ones.
// @Tags reports
// @Accept json
// @Produce json
// @Param X-Browser-UUID header string false "Reporting browser"
// @Param submitReportRequest body dto.SubmitReportRequest true "Report"
// @Success 201 {object} shared.Response{data=dto.ReportResponse}
// @Failure 400 {object} shared.Response{data=[]dto.ValidationError}
// @Failure 429 {object} shared.Response{data=dto.RateLimitInfo}
// @Router /api/v1/reports [post]
func (h *ReportHandler) SubmitReport(c *fiber.Ctx) error {
	var req dto.SubmitReportRequest
	if err := c.BodyParser(&req); err != nil {
		// charged anyway; the empty payload fails validation after admission
		req = dto.SubmitReportRequest{}
	}

	report, dec, err := h.reportSvc.Submit(c.UserContext(), RequestIdentity(c), req)
	SetRateLimitHeaders(c, dec)
	if err != nil {
		return err
	}

	return shared.ResponseCreated(c, report)
}

// @Summary Withdraw report
// @Description Withdraw a pending report from the browser that submitted it
// @Tags reports
// @Produce json
// @Param X-Browser-UUID header string true "Reporting browser"
// @Param reportId path string true "Report ID"
// @Success 200 {object} shared.Response{data=dto.ReportResponse}
// @Router /api/v1/reports/{reportId}/withdraw [post]
func (h *ReportHandler) WithdrawReport(c *fiber.Ctx) error {
	browserUUID := c.Get(shared.HeaderBrowserUUID)
	if browserUUID == "" {
		return shared.NewBadRequestError(nil, "X-Browser-UUID header is required")
	}

	report, err := h.reportSvc.Withdraw(c.UserContext(), c.Params("reportId"), browserUUID)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Report withdrawn", report)
}

// @Summary List reports (Moderator)
// @Tags moderation
// @Produce json
// @Security Bearer
// @Param status query string false "Status filter"
// @Param platform query string false "Platform filter"
// @Param username query string false "Target username"
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Items per page" default(20)
// @Success 200 {object} shared.Response{data=dto.ReportListResponse}
// @Router /api/v1/admin/reports [get]
func (h *ReportHandler) ListReports(c *fiber.Ctx) error {
	var req dto.ListReportsRequest
	if err := c.QueryParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid query")
	}
	if err := req.Validate(); err != nil {
		return validationFailed(c, err)
	}

	reports, err := h.reportSvc.ListReports(c.UserContext(), req)
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, reports)
}

// @Summary Get report (Moderator)
// @Tags moderation
// @Produce json
// @Security Bearer
// @Param reportId path string true "Report ID"
// @Success 200 {object} shared.Response{data=dto.ReportResponse}
// @Router /api/v1/admin/reports/{reportId} [get]
func (h *ReportHandler) GetReport(c *fiber.Ctx) error {
	report, err := h.reportSvc.GetReport(c.UserContext(), c.Params("reportId"))
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, report)
}

// @Summary Claim report (Moderator)
// @Description Move a pending report into review
// @Tags moderation
// @Produce json
// @Security Bearer
// @Param reportId path string true "Report ID"
// @Success 200 {object} shared.Response{data=dto.ReportResponse}
// @Router /api/v1/admin/reports/{reportId}/claim [post]
func (h *ReportHandler) ClaimReport(c *fiber.Ctx) error {
	report, err := h.reportSvc.Claim(c.UserContext(), c.Params("reportId"), actorID(c))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Report claimed", report)
}

// @Summary Review report (Moderator)
// @Description Confirm, dismiss or mark a report as false positive. Confirmation may block the target.
// @Tags moderation
// @Accept json
// @Produce json
// @Security Bearer
// @Param reportId path string true "Report ID"
// @Param reviewReportRequest body dto.ReviewReportRequest true "Decision"
// @Success 200 {object} shared.Response{data=dto.ReportResponse}
// @Router /api/v1/admin/reports/{reportId}/review [post]
func (h *ReportHandler) ReviewReport(c *fiber.Ctx) error {
	var req dto.ReviewReportRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}
	if err := req.Validate(); err != nil {
		return validationFailed(c, err)
	}

	report, err := h.reportSvc.Review(c.UserContext(), c.Params("reportId"), req, actorID(c))
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, fiber.StatusOK, "Report reviewed", report)
}
