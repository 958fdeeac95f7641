package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeSystem   ActorType = "system"
	ActorTypeCustomer ActorType = "customer"
	ActorTypeOperator ActorType = "operator"
)

type AuditLog struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	BusinessID   string            `gorm:"not null;index" json:"business_id"`
	ActorType    string            `gorm:"not null;default:''" json:"actor_type"`
	ActorID      string            `gorm:"not null;default:''" json:"actor_id"`
	Action       string            `gorm:"not null" json:"action"`
	ResourceType string            `gorm:"not null" json:"resource_type"`
	ResourceID   string            `gorm:"not null" json:"resource_id"`
	RequestID    string            `gorm:"not null;default:''" json:"request_id"`
	IPAddress    string            `gorm:"not null;default:''" json:"ip_address,omitempty"`
	UserAgent    string            `gorm:"not null;default:''" json:"user_agent,omitempty"`
	Detail       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"detail,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	BusinessID   string
	Action       string
	ResourceType string
	ResourceID   string
	ActorType    string
	StartAt      *time.Time
	EndAt        *time.Time
	Cursor       *AuditCursor
	Limit        int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}
