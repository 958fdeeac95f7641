package domain

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ProgramType string

const (
	ProgramTypeLoyalty    ProgramType = "loyalty"
	ProgramTypeMembership ProgramType = "membership"
	ProgramTypeStoreCard  ProgramType = "store_card"
)

func (t ProgramType) Valid() bool {
	switch t {
	case ProgramTypeLoyalty, ProgramTypeMembership, ProgramTypeStoreCard:
		return true
	default:
		return false
	}
}

type Program struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	BusinessID string       `gorm:"not null;uniqueIndex:idx_programs_business_slug" json:"business_id"`
	Slug       string       `gorm:"not null;uniqueIndex:idx_programs_business_slug" json:"slug"`
	Name       string       `gorm:"not null" json:"name"`
	Type       ProgramType  `gorm:"not null" json:"type"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Program) TableName() string {
	return "programs"
}

// ActionPolicy is the per-action-type configuration attached to a program
// version. MaxAmount doubles as the auto-approval bound for amount-carrying
// actions.
type ActionPolicy struct {
	Enabled         bool     `json:"enabled"`
	AutoApprove     bool     `json:"auto_approve"`
	CooldownMinutes int      `json:"cooldown_minutes"`
	MaxPerDay       int      `json:"max_per_day"`
	MaxAmount       *float64 `json:"max_amount,omitempty"`
}

// Tier is a named points threshold within a loyalty program.
type Tier struct {
	Name      string `json:"name"`
	Threshold int64  `json:"threshold"`
}

type ProgramVersion struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	ProgramID snowflake.ID   `gorm:"not null;index" json:"program_id"`
	Spec      datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"spec"`
	Actions   datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"actions"`
	Tiers     datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"tiers"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (ProgramVersion) TableName() string {
	return "program_versions"
}

// ActionPolicies decodes the per-action configuration map.
func (v ProgramVersion) ActionPolicies() (map[string]ActionPolicy, error) {
	policies := map[string]ActionPolicy{}
	if len(v.Actions) == 0 {
		return policies, nil
	}
	if err := json.Unmarshal(v.Actions, &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

// TierList decodes the configured tiers sorted ascending by threshold.
func (v ProgramVersion) TierList() ([]Tier, error) {
	var tiers []Tier
	if len(v.Tiers) == 0 {
		return tiers, nil
	}
	if err := json.Unmarshal(v.Tiers, &tiers); err != nil {
		return nil, err
	}
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].Threshold < tiers[j].Threshold
	})
	return tiers, nil
}
