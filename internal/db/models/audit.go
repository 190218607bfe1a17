package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog records a user action hitting the API.
type AuditLog struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	UserID    uuid.UUID       `json:"user_id" gorm:"type:uuid;not null;index"`
	Action    string          `json:"action" gorm:"not null"`
	IPAddress string          `json:"ip_address,omitempty"`
	UserAgent string          `json:"user_agent,omitempty"`
	Details   json.RawMessage `json:"details,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time       `json:"created_at" gorm:"index"`
}
