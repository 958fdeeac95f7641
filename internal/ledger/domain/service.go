package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type AppendEventRequest struct {
	BusinessID       string
	ProgramID        snowflake.ID
	ProgramVersionID snowflake.ID
	CustomerID       string
	Type             EventType
	Amounts          Amounts
	Source           string
	Meta             map[string]any
	IdempotencyKey   string
	ObservedAt       time.Time
}

// Service appends immutable ledger events and reads them back for balance
// aggregation. Append takes the caller's db handle so approvals can run the
// event insert and the request status update in one transaction.
type Service interface {
	Append(ctx context.Context, db *gorm.DB, req AppendEventRequest) (CustomerEvent, bool, error)
	ListByCustomer(ctx context.Context, programID snowflake.ID, customerID string) ([]CustomerEvent, error)
	FindByIdempotencyKey(ctx context.Context, businessID string, programID snowflake.ID, key string) (*CustomerEvent, error)
}

var (
	ErrInvalidBusiness       = errors.New("invalid_business")
	ErrInvalidProgram        = errors.New("invalid_program")
	ErrInvalidCustomer       = errors.New("invalid_customer")
	ErrInvalidEventType      = errors.New("invalid_event_type")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
)
