package model

import (
	"strings"
	"time"
)

type ReportStatus string

const (
	ReportPending       ReportStatus = "pending"
	ReportUnderReview   ReportStatus = "under_review"
	ReportConfirmed     ReportStatus = "confirmed"
	ReportFalsePositive ReportStatus = "false_positive"
	ReportDismissed     ReportStatus = "dismissed"
	ReportWithdrawn     ReportStatus = "withdrawn"
)

var reportTransitions = map[ReportStatus][]ReportStatus{
	ReportPending:     {ReportUnderReview, ReportConfirmed, ReportFalsePositive, ReportDismissed, ReportWithdrawn},
	ReportUnderReview: {ReportConfirmed, ReportFalsePositive, ReportDismissed},
}

func (s ReportStatus) IsTerminal() bool {
	switch s {
	case ReportConfirmed, ReportFalsePositive, ReportDismissed, ReportWithdrawn:
		return true
	}
	return false
}

func (s ReportStatus) CanTransitionTo(next ReportStatus) bool {
	for _, allowed := range reportTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SourcesFor lists the statuses from which next is reachable.
func SourcesFor(next ReportStatus) []ReportStatus {
	var out []ReportStatus
	for from, targets := range reportTransitions {
		for _, t := range targets {
			if t == next {
				out = append(out, from)
			}
		}
	}
	return out
}

// IsReviewDecision reports whether s is a reviewer outcome.
func (s ReportStatus) IsReviewDecision() bool {
	return s == ReportConfirmed || s == ReportFalsePositive || s == ReportDismissed
}

type Category string

const (
	CategoryHarassment    Category = "harassment"
	CategoryHateSpeech    Category = "hate_speech"
	CategoryThreats       Category = "threats"
	CategoryCyberbullying Category = "cyberbullying"
	CategorySexual        Category = "sexual_content"
	CategorySelfHarm      Category = "self_harm"
	CategorySpam          Category = "spam"
	CategoryOther         Category = "other"
)

var Platforms = []string{"twitter", "facebook", "instagram", "youtube", "reddit", "discord", "tiktok", "linkedin", "whatsapp", "web", "other"}

// TargetIdentity names the account a report or block is about.
type TargetIdentity struct {
	Username string `json:"username"`
	Platform string `json:"platform"`
}

// Key is the normalized form used for uniqueness.
func (t TargetIdentity) Key() string {
	return t.PlatformName() + ":" + strings.ToLower(t.Handle())
}

// PlatformName is the trimmed, lower cased platform as stored.
func (t TargetIdentity) PlatformName() string {
	return strings.ToLower(strings.TrimSpace(t.Platform))
}

// Handle is the username without surrounding space or a leading @.
func (t TargetIdentity) Handle() string {
	return strings.TrimPrefix(strings.TrimSpace(t.Username), "@")
}

func (t TargetIdentity) IsZero() bool {
	return strings.TrimSpace(t.Username) == "" || strings.TrimSpace(t.Platform) == ""
}

type Classification struct {
	Category   Category `json:"category" gorm:"size:40;not null"`
	Confidence float64  `json:"confidence" gorm:"not null;default:0"`
	RiskLevel  string   `json:"risk_level,omitempty" gorm:"size:20"`
}

type Report struct {
	ID             string         `json:"id" gorm:"primaryKey;type:text;not null"`
	ReporterID     string         `json:"reporter_id,omitempty" gorm:"size:64;index"`
	BrowserUUID    string         `json:"browser_uuid" gorm:"size:64;not null;index"`
	ReporterIP     string         `json:"-" gorm:"size:64"`
	TargetUsername string         `json:"target_username" gorm:"size:255;not null"`
	TargetPlatform string         `json:"target_platform" gorm:"size:40;not null"`
	TargetKey      string         `json:"-" gorm:"size:320;not null;index:idx_reports_target_status,priority:1"`
	Content        string         `json:"content" gorm:"type:text;not null"`
	Classification Classification `json:"classification" gorm:"embedded;embeddedPrefix:classification_"`
	Status         ReportStatus   `json:"status" gorm:"size:20;not null;default:'pending';index:idx_reports_target_status,priority:2"`
	ReviewerID     string         `json:"reviewer_id,omitempty" gorm:"size:64"`
	ReviewNote     string         `json:"review_note,omitempty" gorm:"type:text"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty"`
	ReviewedAt     *time.Time     `json:"reviewed_at,omitempty"`
	WithdrawnAt    *time.Time     `json:"withdrawn_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null;index"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"not null"`
}

func (r *Report) Target() TargetIdentity {
	return TargetIdentity{Username: r.TargetUsername, Platform: r.TargetPlatform}
}
