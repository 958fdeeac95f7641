package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberledger/pkg/db/pagination"
)

type SubmitRequest struct {
	BusinessID     string
	ProgramID      string
	CustomerID     string
	Type           string
	Payload        map[string]any
	IdempotencyKey string
	Source         string
}

// SubmitResult reports the stored request plus the ledger event produced
// when the submission was auto-approved.
type SubmitResult struct {
	Request ActionRequest
	EventID *snowflake.ID
}

type ListRequest struct {
	pagination.Pagination
	BusinessID string
	ProgramID  string
	CustomerID string
	Status     string
	Type       string
}

type ListResponse struct {
	pagination.PageInfo
	Requests []ActionRequest `json:"action_requests"`
}

type GetRequest struct {
	BusinessID string
	ID         string
}

type ApproveRequest struct {
	BusinessID string
	ID         string
	ActorType  string
	ActorID    string
}

type RejectRequest struct {
	BusinessID string
	ID         string
	ActorType  string
	ActorID    string
	Reason     string
}

// ApproveResult carries the terminal request and the ledger event written
// (or found, on an idempotent retry).
type ApproveResult struct {
	Request ActionRequest
	EventID snowflake.ID
}

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	GetByID(ctx context.Context, req GetRequest) (ActionRequest, error)
	Approve(ctx context.Context, req ApproveRequest) (ApproveResult, error)
	Reject(ctx context.Context, req RejectRequest) (ActionRequest, error)
	SweepPending(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

var (
	ErrMissingFields    = errors.New("missing_required_fields")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidID        = errors.New("invalid_id")
	ErrNotFound         = errors.New("not_found")
	ErrDuplicateRequest = errors.New("duplicate_request")
	ErrInvalidStatus    = errors.New("invalid_status")
)

// RateLimitedError is returned when a cooldown or daily limit denies a
// submission. Reason is user-facing and must survive to the response body.
type RateLimitedError struct {
	Reason string
}

func (e *RateLimitedError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		return "rate_limited"
	}
	return "rate_limited: " + reason
}
