package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/memberledger/pkg/db/pagination"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	BusinessID   string
	Action       string
	ResourceType string
	ResourceID   string
	ActorType    string
	StartAt      *time.Time
	EndAt        *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	AuditLog(ctx context.Context, businessID, actorType, actorID, action, resourceType, resourceID string, detail map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidBusiness  = errors.New("invalid_business")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
