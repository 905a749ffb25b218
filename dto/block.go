package dto

import (
	"time"

	"github.com/lac-hong-legacy/guard_api/model"
)

// ==================== BLOCK REQUEST DTOs ====================

type CreateBlockRequest struct {
	TargetUsername  string `json:"target_username" validate:"required,target_username" example:"troll_account"`
	Platform        string `json:"platform" validate:"required,platform" example:"twitter"`
	Kind            string `json:"kind" validate:"required,oneof=temporary permanent" example:"temporary"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=0,max=525600" example:"60"`
	ViolationType   string `json:"violation_type" validate:"omitempty,category" example:"harassment"`
	Reason          string `json:"reason" validate:"max=2000" example:"repeated threats"`
}

func (r CreateBlockRequest) Validate() error {
	return GetValidator().Struct(r)
}

type ExtendBlockRequest struct {
	ExtraMinutes int `json:"extra_minutes" validate:"required,min=1,max=525600" example:"30"`
}

func (r ExtendBlockRequest) Validate() error {
	return GetValidator().Struct(r)
}

type UnblockRequest struct {
	Reason string `json:"reason" validate:"max=2000" example:"appeal accepted"`
}

func (r UnblockRequest) Validate() error {
	return GetValidator().Struct(r)
}

type AddViolationRequest struct {
	TargetUsername string `json:"target_username" validate:"required,target_username" example:"troll_account"`
	Platform       string `json:"platform" validate:"required,platform" example:"twitter"`
	ViolationType  string `json:"violation_type" validate:"required,category" example:"threats"`
}

func (r AddViolationRequest) Validate() error {
	return GetValidator().Struct(r)
}

type TargetRequest struct {
	TargetUsername string `json:"target_username" query:"username" validate:"required,target_username" example:"troll_account"`
	Platform       string `json:"platform" query:"platform" validate:"required,platform" example:"twitter"`
}

func (r TargetRequest) Validate() error {
	return GetValidator().Struct(r)
}

func (r TargetRequest) Target() model.TargetIdentity {
	return model.TargetIdentity{Username: r.TargetUsername, Platform: r.Platform}
}

// ==================== BLOCK RESPONSE DTOs ====================

type BlockReason struct {
	Code           string   `json:"code" example:"AUTO_THRESHOLD"`
	ViolationCount int      `json:"violation_count" example:"3"`
	ViolationTypes []string `json:"violation_types" example:"harassment"`
	Excerpt        string   `json:"trigger_content_excerpt,omitempty"`
}

type BlockResponse struct {
	ID              string             `json:"id"`
	TargetUsername  string             `json:"target_username" example:"troll_account"`
	Platform        string             `json:"platform" example:"twitter"`
	BlockerID       string             `json:"blocker_id" example:"system"`
	Kind            model.BlockKind    `json:"kind" example:"temporary"`
	IsActive        bool               `json:"is_active" example:"true"`
	DurationMinutes int                `json:"duration_minutes" example:"60"`
	ExpiresAt       *time.Time         `json:"expires_at,omitempty"`
	LastViolationAt *time.Time         `json:"last_violation_at,omitempty"`
	Reason          BlockReason        `json:"reason"`
	UnblockReason   string             `json:"unblock_reason,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	History         []model.BlockEvent `json:"history,omitempty"`
}

func NewBlockResponse(b *model.Block) *BlockResponse {
	if b == nil {
		return nil
	}
	types := b.ViolationTypes
	if types == nil {
		types = []string{}
	}
	return &BlockResponse{
		ID:              b.ID,
		TargetUsername:  b.TargetUsername,
		Platform:        b.TargetPlatform,
		BlockerID:       b.BlockerID,
		Kind:            b.Kind,
		IsActive:        b.IsActive,
		DurationMinutes: b.DurationMinutes,
		ExpiresAt:       b.ExpiresAt,
		LastViolationAt: b.LastViolationAt,
		Reason: BlockReason{
			Code:           b.ReasonCode,
			ViolationCount: b.ViolationCount,
			ViolationTypes: types,
			Excerpt:        b.TriggerExcerpt,
		},
		UnblockReason: b.UnblockReason,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
		History:       b.History,
	}
}

func NewBlockResponses(blocks []*model.Block) []*BlockResponse {
	out := make([]*BlockResponse, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, NewBlockResponse(b))
	}
	return out
}

type ListBlocksRequest struct {
	PaginationRequest
	Username   string `query:"username" validate:"omitempty,target_username" example:"troll_account"`
	Platform   string `query:"platform" validate:"omitempty,platform" example:"twitter"`
	ActiveOnly bool   `query:"active" example:"true"`
}

func (r ListBlocksRequest) Validate() error {
	return GetValidator().Struct(r)
}

type BlockListResponse struct {
	Blocks     []*BlockResponse   `json:"blocks"`
	Pagination PaginationResponse `json:"pagination"`
}

type EvaluateTargetResponse struct {
	Blocked bool           `json:"blocked" example:"true"`
	Block   *BlockResponse `json:"block,omitempty"`
}

type SweepResponse struct {
	Deactivated int64     `json:"deactivated" example:"4"`
	RanAt       time.Time `json:"ran_at"`
}
