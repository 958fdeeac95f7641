package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListProgramFilter struct {
	Type string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, program *Program) error
	FindByID(ctx context.Context, db *gorm.DB, businessID string, id snowflake.ID) (*Program, error)
	List(ctx context.Context, db *gorm.DB, businessID string, filter ListProgramFilter, page pagination.Pagination) ([]*Program, error)
	InsertVersion(ctx context.Context, db *gorm.DB, version *ProgramVersion) error
	LatestVersion(ctx context.Context, db *gorm.DB, programID snowflake.ID) (*ProgramVersion, error)
}
