package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog captures auditable events emitted by attempt and grading
// operations. Writing a row must never fail the operation that emits it.
type ActivityLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	ActorID    uint              `gorm:"not null" json:"actor_id"`
	ActorRole  string            `gorm:"size:32;not null" json:"actor_role"`
	Action     string            `gorm:"size:64;not null;index" json:"action"`
	EntityType string            `gorm:"size:64;not null" json:"entity_type"`
	EntityID   *uint             `gorm:"index" json:"entity_id"`
	Success    bool              `gorm:"not null;default:true" json:"success"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}
