package dto

import (
	"time"

	"github.com/lac-hong-legacy/guard_api/services/ratelimit"
)

// RateLimitInfo is the body attached to a 429.
type RateLimitInfo struct {
	Allowed           bool      `json:"allowed"`
	Class             string    `json:"endpoint_class" example:"report_submission"`
	Limit             int       `json:"limit" example:"10"`
	Remaining         int       `json:"remaining" example:"0"`
	ResetTime         time.Time `json:"reset_time"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty" example:"1800"`
	ReasonCode        string    `json:"reason_code,omitempty" example:"RATE_LIMITED"`
	DeniedScope       string    `json:"denied_scope,omitempty" example:"browser"`
}

func NewRateLimitInfo(d ratelimit.Decision) RateLimitInfo {
	info := RateLimitInfo{
		Allowed:    d.Allowed,
		Class:      string(d.Class),
		Limit:      d.Limit,
		Remaining:  d.Remaining,
		ResetTime:  d.ResetAt,
		ReasonCode: d.ReasonCode,
	}
	if !d.Allowed {
		info.RetryAfterSeconds = d.RetryAfterSeconds()
		info.DeniedScope = d.DeniedScope
	}
	return info
}

type PolicyResponse struct {
	Class         string   `json:"endpoint_class" example:"login"`
	MaxRequests   int      `json:"max_requests" example:"10"`
	WindowSeconds int      `json:"window_seconds" example:"900"`
	Scopes        []string `json:"scopes" example:"ip+email"`
	Message       string   `json:"message"`
	IsActive      bool     `json:"is_active" example:"true"`
}

func NewPolicyResponse(p ratelimit.Policy) PolicyResponse {
	return PolicyResponse{
		Class:         string(p.Class),
		MaxRequests:   p.MaxRequests,
		WindowSeconds: int(p.Window / time.Second),
		Scopes:        p.ScopeNames(),
		Message:       p.Message,
		IsActive:      p.Active,
	}
}

type PolicyListResponse struct {
	Version         int64              `json:"version" example:"2"`
	Policies        []PolicyResponse   `json:"policies"`
	RoleMultipliers map[string]float64 `json:"role_multipliers"`
	ExemptPaths     []string           `json:"exempt_paths"`
}

type UpdatePolicyRequest struct {
	MaxRequests *int   `json:"max_requests" validate:"omitempty,min=1,max=1000000" example:"20"`
	Window      string `json:"window" validate:"omitempty" example:"15m"`
	IsActive    *bool  `json:"is_active" example:"true"`
}

func (r UpdatePolicyRequest) Validate() error {
	return GetValidator().Struct(r)
}

// ResetAdmissionRequest names an identity whose counters and violations are cleared.
type ResetAdmissionRequest struct {
	Class       string `json:"endpoint_class" validate:"required" example:"login"`
	IP          string `json:"ip" validate:"omitempty,ip" example:"203.0.113.7"`
	Email       string `json:"email" validate:"omitempty,email"`
	UserID      string `json:"user_id" validate:"omitempty,max=64"`
	Role        string `json:"role" validate:"omitempty,oneof=anonymous user moderator admin"`
	BrowserUUID string `json:"browser_uuid" validate:"omitempty,browser_uuid"`
	ExtensionID string `json:"extension_id" validate:"omitempty,extension_id"`
}

func (r ResetAdmissionRequest) Validate() error {
	return GetValidator().Struct(r)
}
