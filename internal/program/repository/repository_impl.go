package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberledger/internal/program/domain"
	"github.com/smallbiznis/memberledger/pkg/db/option"
	"github.com/smallbiznis/memberledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, program *domain.Program) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO programs (id, business_id, slug, name, type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		program.ID,
		program.BusinessID,
		program.Slug,
		program.Name,
		program.Type,
		program.CreatedAt,
		program.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, businessID string, id snowflake.ID) (*domain.Program, error) {
	var program domain.Program
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessID, id).
		First(&program).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &program, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, businessID string, filter domain.ListProgramFilter, page pagination.Pagination) ([]*domain.Program, error) {
	var programs []*domain.Program
	stmt := db.WithContext(ctx).
		Model(&domain.Program{}).
		Where("business_id = ?", businessID)
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&programs).Error
	if err != nil {
		return nil, err
	}
	return programs, nil
}

func (r *repo) InsertVersion(ctx context.Context, db *gorm.DB, version *domain.ProgramVersion) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO program_versions (id, program_id, spec, actions, tiers, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		version.ID,
		version.ProgramID,
		version.Spec,
		version.Actions,
		version.Tiers,
		version.CreatedAt,
	).Error
}

func (r *repo) LatestVersion(ctx context.Context, db *gorm.DB, programID snowflake.ID) (*domain.ProgramVersion, error) {
	var version domain.ProgramVersion
	err := db.WithContext(ctx).
		Where("program_id = ?", programID).
		Order("created_at desc, id desc").
		First(&version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &version, nil
}
