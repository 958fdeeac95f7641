package domain

import (
	"context"
	"errors"
	"time"
)

type SummaryRequest struct {
	BusinessID string
	ProgramID  string
	CustomerID string
}

type Balances struct {
	Points      int64 `json:"points"`
	Credit      int64 `json:"credit"`
	StoredValue int64 `json:"stored_value"`
}

// TierStatus reports the highest tier whose threshold the points balance has
// reached. PointsToNextTier is nil once the top tier is held.
type TierStatus struct {
	Tier             string `json:"tier"`
	PointsToNextTier *int64 `json:"points_to_next_tier"`
}

type Activity struct {
	Timestamp   time.Time      `json:"timestamp"`
	Type        string         `json:"type"`
	Points      int64          `json:"points"`
	Credit      int64          `json:"credit"`
	StoredValue int64          `json:"stored_value"`
	Meta        map[string]any `json:"meta,omitempty"`
}

type Summary struct {
	BusinessID     string      `json:"business_id"`
	ProgramID      string      `json:"program_id"`
	CustomerID     string      `json:"customer_id"`
	ProgramType    string      `json:"program_type"`
	Balances       Balances    `json:"balances"`
	Tier           *TierStatus `json:"tier_status,omitempty"`
	RecentActivity []Activity  `json:"recent_activity"`
}

type Service interface {
	Summarize(ctx context.Context, req SummaryRequest) (Summary, error)
}

var (
	ErrInvalidBusiness = errors.New("invalid_business")
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrNotFound        = errors.New("not_found")
)
