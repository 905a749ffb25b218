package dto

import "time"

// ==================== ERROR RESPONSE DTOs ====================

type ValidationError struct {
	Field   string `json:"field" example:"content"`
	Message string `json:"message" example:"content is required"`
}

type ValidationErrorResponse struct {
	Code    int               `json:"code" example:"400"`
	Message string            `json:"message" example:"Validation failed"`
	Errors  []ValidationError `json:"errors"`
}

// ==================== PAGINATION DTOs ====================

type PaginationRequest struct {
	Page  int `json:"page" query:"page" validate:"omitempty,min=1" example:"1"`
	Limit int `json:"limit" query:"limit" validate:"omitempty,min=1,max=100" example:"20"`
}

func (p PaginationRequest) Validate() error {
	return GetValidator().Struct(p)
}

// Normalize fills defaults for unset paging values.
func (p *PaginationRequest) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 || p.Limit > 100 {
		p.Limit = 20
	}
}

func (p PaginationRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}

type PaginationResponse struct {
	Page       int   `json:"page" example:"1"`
	Limit      int   `json:"limit" example:"20"`
	Total      int64 `json:"total" example:"100"`
	TotalPages int   `json:"total_pages" example:"5"`
	HasNext    bool  `json:"has_next" example:"true"`
	HasPrev    bool  `json:"has_prev" example:"false"`
}

func NewPaginationResponse(req PaginationRequest, total int64) PaginationResponse {
	pages := int((total + int64(req.Limit) - 1) / int64(req.Limit))
	return PaginationResponse{
		Page:       req.Page,
		Limit:      req.Limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    req.Page < pages,
		HasPrev:    req.Page > 1,
	}
}

// ==================== HEALTH CHECK DTOs ====================

type StatusResponse struct {
	Status        string    `json:"status" example:"healthy"`
	Timestamp     time.Time `json:"timestamp" example:"2023-01-15T10:30:00Z"`
	Uptime        string    `json:"uptime" example:"2h30m15s"`
	StoreDegraded bool      `json:"store_degraded" example:"false"`
	PolicyVersion int64     `json:"policy_version" example:"3"`
}

type StatsResponse struct {
	ReportsByStatus map[string]int64 `json:"reports_by_status"`
	ActiveBlocks    int64            `json:"active_blocks" example:"12"`
	StoreDegraded   bool             `json:"store_degraded" example:"false"`
	PolicyVersion   int64            `json:"policy_version" example:"3"`
}
