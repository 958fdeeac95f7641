package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	BusinessID string
	ProgramID  snowflake.ID
	CustomerID string
	Status     string
	Type       string
}

// DecisionUpdate is the single allowed mutation of an ActionRequest: the
// one-time transition out of pending.
type DecisionUpdate struct {
	ID               snowflake.ID
	Status           RequestStatus
	ApprovedAt       *time.Time
	ResultingEventID *snowflake.ID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, request *ActionRequest) error
	FindByID(ctx context.Context, db *gorm.DB, businessID string, id snowflake.ID) (*ActionRequest, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, programID snowflake.ID, customerID string, actionType ActionType, key string) (*ActionRequest, error)
	MostRecentSince(ctx context.Context, db *gorm.DB, businessID, customerID string, actionType ActionType, since time.Time) (*ActionRequest, error)
	CountSince(ctx context.Context, db *gorm.DB, businessID, customerID string, actionType ActionType, since time.Time) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*ActionRequest, error)
	ApplyDecision(ctx context.Context, db *gorm.DB, update DecisionUpdate) (bool, error)
	FindPendingForWork(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]*ActionRequest, error)
}
