package model

import "time"

// QuotaPolicyOverride persists an admin change to a quota policy so every
// instance converges on the same table.
type QuotaPolicyOverride struct {
	EndpointClass string    `json:"endpoint_class" gorm:"primaryKey;size:50;not null"`
	MaxRequests   int       `json:"max_requests" gorm:"not null"`
	WindowSeconds int       `json:"window_seconds" gorm:"not null"`
	IsActive      bool      `json:"is_active" gorm:"not null"`
	UpdatedBy     string    `json:"updated_by" gorm:"size:64"`
	CreatedAt     time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"not null"`
}
