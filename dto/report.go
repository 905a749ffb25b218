package dto

import (
	"time"

	"github.com/lac-hong-legacy/guard_api/model"
)

// ==================== REPORT SUBMISSION DTOs ====================

type SubmitReportRequest struct {
	BrowserUUID    string  `json:"browser_uuid" validate:"required,browser_uuid" example:"0b7e2a54-7c2e-4b1e-9f7a-2d1c3e4f5a6b"`
	TargetUsername string  `json:"target_username" validate:"required,target_username" example:"troll_account"`
	Platform       string  `json:"platform" validate:"required,platform" example:"twitter"`
	Content        string  `json:"content" validate:"required,not_blank,max=10000" example:"you should disappear"`
	Category       string  `json:"category" validate:"required,category" example:"harassment"`
	Confidence     float64 `json:"confidence" validate:"omitempty,min=0,max=1" example:"0.82"`
	RiskLevel      string  `json:"risk_level" validate:"omitempty,oneof=low medium high critical" example:"high"`
}

func (r SubmitReportRequest) Validate() error {
	return GetValidator().Struct(r)
}

type ReportResponse struct {
	ID             string               `json:"id" example:"0192f1e2-..."`
	Status         model.ReportStatus   `json:"status" example:"pending"`
	TargetUsername string               `json:"target_username" example:"troll_account"`
	Platform       string               `json:"platform" example:"twitter"`
	Content        string               `json:"content,omitempty"`
	Classification model.Classification `json:"classification"`
	BrowserUUID    string               `json:"browser_uuid,omitempty"`
	ReporterID     string               `json:"reporter_id,omitempty"`
	ReviewerID     string               `json:"reviewer_id,omitempty"`
	ReviewNote     string               `json:"review_note,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	ReviewedAt     *time.Time           `json:"reviewed_at,omitempty"`
	Block          *BlockResponse       `json:"block,omitempty"`
}

func NewReportResponse(r *model.Report) *ReportResponse {
	return &ReportResponse{
		ID:             r.ID,
		Status:         r.Status,
		TargetUsername: r.TargetUsername,
		Platform:       r.TargetPlatform,
		Content:        r.Content,
		Classification: r.Classification,
		BrowserUUID:    r.BrowserUUID,
		ReporterID:     r.ReporterID,
		ReviewerID:     r.ReviewerID,
		ReviewNote:     r.ReviewNote,
		CreatedAt:      r.CreatedAt,
		ReviewedAt:     r.ReviewedAt,
	}
}

// ==================== REVIEW DTOs ====================

type ReviewReportRequest struct {
	Decision string `json:"decision" validate:"required,oneof=confirmed false_positive dismissed" example:"confirmed"`
	Note     string `json:"note" validate:"max=2000" example:"clear targeted harassment"`
}

func (r ReviewReportRequest) Validate() error {
	return GetValidator().Struct(r)
}

type ListReportsRequest struct {
	PaginationRequest
	Status   string `query:"status" validate:"omitempty,oneof=pending under_review confirmed false_positive dismissed withdrawn" example:"pending"`
	Platform string `query:"platform" validate:"omitempty,platform" example:"twitter"`
	Username string `query:"username" validate:"omitempty,max=255" example:"troll_account"`
}

func (r ListReportsRequest) Validate() error {
	return GetValidator().Struct(r)
}

type ReportListResponse struct {
	Reports    []*ReportResponse  `json:"reports"`
	Pagination PaginationResponse `json:"pagination"`
}

// ==================== EXTENSION DTOs ====================

type ExtensionSyncRequest struct {
	BrowserUUID string   `json:"browser_uuid" validate:"required,browser_uuid"`
	Platform    string   `json:"platform" validate:"required,platform" example:"twitter"`
	Texts       []string `json:"texts" validate:"required,min=1,max=50,dive,not_blank,max=5000"`
}

func (r ExtensionSyncRequest) Validate() error {
	return GetValidator().Struct(r)
}

type TextScore struct {
	Index      int            `json:"index" example:"0"`
	Category   model.Category `json:"category" example:"harassment"`
	Confidence float64        `json:"confidence" example:"0.91"`
	RiskLevel  string         `json:"risk_level" example:"high"`
	Flagged    bool           `json:"flagged" example:"true"`
}

type ExtensionSyncResponse struct {
	Scores []TextScore `json:"scores"`
}
