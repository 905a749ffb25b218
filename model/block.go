package model

import "time"

type BlockKind string

const (
	BlockTemporary BlockKind = "temporary"
	BlockPermanent BlockKind = "permanent"
)

type BlockEventType string

const (
	BlockEventCreated        BlockEventType = "created"
	BlockEventExtended       BlockEventType = "extended"
	BlockEventUnblocked      BlockEventType = "unblocked"
	BlockEventExpired        BlockEventType = "expired"
	BlockEventViolationAdded BlockEventType = "violation_added"
	BlockEventReconciled     BlockEventType = "reconciled"
)

const (
	ReasonAutoThreshold = "AUTO_THRESHOLD"
	ReasonManual        = "MANUAL"

	SystemActor = "system"
)

// Block restricts a target identity. At most one row per TargetKey may have
// IsActive set; the partial unique index enforces that in the database.
// Revision increments on every write and guards compare-and-set updates.
type Block struct {
	ID              string     `json:"id" gorm:"primaryKey;type:text;not null"`
	BlockerID       string     `json:"blocker_id" gorm:"size:64;not null"`
	TargetUsername  string     `json:"target_username" gorm:"size:255;not null"`
	TargetPlatform  string     `json:"target_platform" gorm:"size:40;not null"`
	TargetKey       string     `json:"-" gorm:"size:320;not null;index;uniqueIndex:idx_blocks_active_target,where:is_active = true"`
	ReasonCode      string     `json:"reason_code" gorm:"size:40;not null"`
	ViolationCount  int        `json:"violation_count" gorm:"not null;default:0"`
	ViolationTypes  []string   `json:"violation_types" gorm:"serializer:json;type:text"`
	TriggerExcerpt  string     `json:"trigger_content_excerpt" gorm:"type:text"`
	LastViolationAt *time.Time `json:"last_violation_at,omitempty"`
	IsActive        bool       `json:"is_active" gorm:"not null;index:idx_blocks_sweep,priority:1"`
	Kind            BlockKind  `json:"kind" gorm:"size:20;not null;index:idx_blocks_sweep,priority:2"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty" gorm:"index:idx_blocks_sweep,priority:3"`
	DurationMinutes int        `json:"duration_minutes" gorm:"not null;default:0"`
	UnblockReason   string     `json:"unblock_reason,omitempty" gorm:"type:text"`
	DeactivatedAt   *time.Time `json:"deactivated_at,omitempty"`
	Revision        int64      `json:"revision" gorm:"not null;default:0"`
	CreatedAt       time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"not null"`

	History []BlockEvent `json:"history,omitempty" gorm:"foreignKey:BlockID"`
}

func (b *Block) Target() TargetIdentity {
	return TargetIdentity{Username: b.TargetUsername, Platform: b.TargetPlatform}
}

// HasViolationType reports whether t is already recorded on the block.
func (b *Block) HasViolationType(t string) bool {
	for _, existing := range b.ViolationTypes {
		if existing == t {
			return true
		}
	}
	return false
}

type BlockEvent struct {
	ID              string         `json:"id" gorm:"primaryKey;type:text;not null"`
	BlockID         string         `json:"block_id" gorm:"type:text;not null;index"`
	Type            BlockEventType `json:"type" gorm:"size:30;not null"`
	Actor           string         `json:"actor" gorm:"size:64;not null"`
	Reason          string         `json:"reason,omitempty" gorm:"type:text"`
	DurationMinutes int            `json:"duration_minutes,omitempty"`
	ViolationCount  int            `json:"violation_count,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null;index"`
}
