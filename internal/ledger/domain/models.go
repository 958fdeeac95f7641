package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventTypeCheckIn EventType = "check_in"
	EventTypeEarn    EventType = "earn"
	EventTypeRedeem  EventType = "redeem"
	EventTypeAdjust  EventType = "adjust"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeCheckIn, EventTypeEarn, EventTypeRedeem, EventTypeAdjust:
		return true
	default:
		return false
	}
}

// Amounts carries the signed balance deltas of one ledger event. Only the
// relevant fields are populated; a missing delta counts as zero.
type Amounts struct {
	PointsDelta      int64 `json:"points_delta,omitempty"`
	CreditDelta      int64 `json:"credit_delta,omitempty"`
	StoredValueDelta int64 `json:"stored_value_delta,omitempty"`
}

type CustomerEvent struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	BusinessID       string            `gorm:"not null;uniqueIndex:idx_customer_events_idempotency" json:"business_id"`
	ProgramID        snowflake.ID      `gorm:"not null;uniqueIndex:idx_customer_events_idempotency" json:"program_id"`
	ProgramVersionID snowflake.ID      `gorm:"not null" json:"program_version_id"`
	CustomerID       string            `gorm:"not null;index" json:"customer_id"`
	Type             EventType         `gorm:"not null" json:"type"`
	Amounts          datatypes.JSON    `gorm:"type:jsonb;not null;default:'{}'" json:"amounts"`
	Source           string            `gorm:"not null;default:''" json:"source"`
	Meta             datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"meta,omitempty"`
	IdempotencyKey   string            `gorm:"not null;uniqueIndex:idx_customer_events_idempotency" json:"idempotency_key"`
	ObservedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"observed_at"`
}

func (CustomerEvent) TableName() string {
	return "customer_events"
}

// Deltas decodes the amounts payload; missing fields come back as zero.
func (e CustomerEvent) Deltas() (Amounts, error) {
	var amounts Amounts
	if len(e.Amounts) == 0 {
		return amounts, nil
	}
	if err := json.Unmarshal(e.Amounts, &amounts); err != nil {
		return Amounts{}, err
	}
	return amounts, nil
}
