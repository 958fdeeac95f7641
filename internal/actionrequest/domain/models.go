package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	programdomain "github.com/smallbiznis/memberledger/internal/program/domain"
	"gorm.io/datatypes"
)

type ActionType string

const (
	ActionTypeCheckIn     ActionType = "check_in"
	ActionTypeEarnPoints  ActionType = "earn_points"
	ActionTypeRedeemOffer ActionType = "redeem_offer"
	ActionTypeSpendValue  ActionType = "spend_value"
)

func (t ActionType) Valid() bool {
	switch t {
	case ActionTypeCheckIn, ActionTypeEarnPoints, ActionTypeRedeemOffer, ActionTypeSpendValue:
		return true
	default:
		return false
	}
}

type RequestStatus string

const (
	StatusPending      RequestStatus = "pending"
	StatusAutoApproved RequestStatus = "auto_approved"
	StatusApproved     RequestStatus = "approved"
	StatusRejected     RequestStatus = "rejected"
)

// PolicySnapshot is the audit record of the configuration and limit-check
// outcome in effect when a request was evaluated.
type PolicySnapshot struct {
	Policy  programdomain.ActionPolicy `json:"policy"`
	Allowed bool                       `json:"allowed"`
	Reason  string                     `json:"reason,omitempty"`
}

type ActionRequest struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	BusinessID       string            `gorm:"not null;index" json:"business_id"`
	ProgramID        snowflake.ID      `gorm:"not null;uniqueIndex:idx_action_requests_idempotency" json:"program_id"`
	CustomerID       string            `gorm:"not null;uniqueIndex:idx_action_requests_idempotency" json:"customer_id"`
	Type             ActionType        `gorm:"not null;uniqueIndex:idx_action_requests_idempotency" json:"type"`
	Payload          datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"payload"`
	IdempotencyKey   string            `gorm:"not null;uniqueIndex:idx_action_requests_idempotency" json:"idempotency_key"`
	Source           string            `gorm:"not null;default:''" json:"source"`
	PolicyApplied    datatypes.JSON    `gorm:"type:jsonb" json:"policy_applied,omitempty"`
	Status           RequestStatus     `gorm:"not null;index" json:"status"`
	ResultingEventID *snowflake.ID     `json:"resulting_event_id,omitempty"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	ApprovedAt       *time.Time        `json:"approved_at,omitempty"`
}

func (ActionRequest) TableName() string {
	return "action_requests"
}
