package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberledger/pkg/db/pagination"
)

type CreateProgramRequest struct {
	BusinessID string
	Name       string
	Type       string
	Slug       string
}

type ListProgramRequest struct {
	pagination.Pagination
	BusinessID string
	Type       string
}

type ListProgramResponse struct {
	pagination.PageInfo
	Programs []Program `json:"programs"`
}

type GetProgramRequest struct {
	BusinessID string
	ID         string
}

type PublishVersionRequest struct {
	BusinessID string
	ProgramID  string
	Spec       map[string]any
	Actions    map[string]ActionPolicy
	Tiers      []Tier
}

// ResolvedPolicy carries the policy for one action type together with the
// program and version it was read from.
type ResolvedPolicy struct {
	Program Program
	Version ProgramVersion
	Policy  ActionPolicy
}

type Service interface {
	Create(ctx context.Context, req CreateProgramRequest) (Program, error)
	List(ctx context.Context, req ListProgramRequest) (ListProgramResponse, error)
	GetByID(ctx context.Context, req GetProgramRequest) (Program, error)
	PublishVersion(ctx context.Context, req PublishVersionRequest) (ProgramVersion, error)
	LatestVersion(ctx context.Context, businessID string, programID snowflake.ID) (ProgramVersion, error)
	ResolvePolicy(ctx context.Context, businessID string, programID snowflake.ID, actionType string) (ResolvedPolicy, error)
}

var (
	ErrInvalidBusiness  = errors.New("invalid_business")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidType      = errors.New("invalid_type")
	ErrInvalidID        = errors.New("invalid_id")
	ErrSlugTaken        = errors.New("slug_taken")
	ErrNotFound         = errors.New("not_found")
	ErrActionNotEnabled = errors.New("action_not_enabled")
)
