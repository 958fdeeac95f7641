package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	obsmetrics "github.com/smallbiznis/memberledger/internal/observability/metrics"
	"github.com/smallbiznis/memberledger/pkg/db/option"
	"github.com/smallbiznis/memberledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, request *domain.ActionRequest) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO action_requests (
			id, business_id, program_id, customer_id, type, payload,
			idempotency_key, source, policy_applied, status,
			resulting_event_id, created_at, approved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		request.ID,
		request.BusinessID,
		request.ProgramID,
		request.CustomerID,
		request.Type,
		request.Payload,
		request.IdempotencyKey,
		request.Source,
		request.PolicyApplied,
		request.Status,
		request.ResultingEventID,
		request.CreatedAt,
		request.ApprovedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, businessID string, id snowflake.ID) (*domain.ActionRequest, error) {
	var request domain.ActionRequest
	stmt := db.WithContext(ctx).Where("id = ?", id)
	if businessID = strings.TrimSpace(businessID); businessID != "" {
		stmt = stmt.Where("business_id = ?", businessID)
	}
	err := stmt.First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, programID snowflake.ID, customerID string, actionType domain.ActionType, key string) (*domain.ActionRequest, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var request domain.ActionRequest
	err := db.WithContext(ctx).
		Where("program_id = ? AND customer_id = ? AND type = ? AND idempotency_key = ?",
			programID, customerID, actionType, key).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (r *repo) MostRecentSince(ctx context.Context, db *gorm.DB, businessID, customerID string, actionType domain.ActionType, since time.Time) (*domain.ActionRequest, error) {
	var request domain.ActionRequest
	err := db.WithContext(ctx).
		Where("business_id = ? AND customer_id = ? AND type = ? AND created_at >= ?",
			businessID, customerID, actionType, since.UTC()).
		Order("created_at desc, id desc").
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (r *repo) CountSince(ctx context.Context, db *gorm.DB, businessID, customerID string, actionType domain.ActionType, since time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.ActionRequest{}).
		Where("business_id = ? AND customer_id = ? AND type = ? AND created_at >= ?",
			businessID, customerID, actionType, since.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.ActionRequest, error) {
	var requests []*domain.ActionRequest
	stmt := db.WithContext(ctx).
		Model(&domain.ActionRequest{}).
		Where("business_id = ?", filter.BusinessID)
	if filter.ProgramID != 0 {
		stmt = stmt.Where("program_id = ?", filter.ProgramID)
	}
	if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
		stmt = stmt.Where("customer_id = ?", customerID)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	if actionType := strings.TrimSpace(filter.Type); actionType != "" {
		stmt = stmt.Where("type = ?", actionType)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// ApplyDecision transitions a request out of pending exactly once. The
// status guard in the WHERE clause makes concurrent deciders race safely:
// only one update reports rows affected.
func (r *repo) ApplyDecision(ctx context.Context, db *gorm.DB, update domain.DecisionUpdate) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE action_requests
		 SET status = ?, approved_at = ?, resulting_event_id = ?
		 WHERE id = ? AND status = ?`,
		update.Status,
		update.ApprovedAt,
		update.ResultingEventID,
		update.ID,
		domain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindPendingForWork(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]*domain.ActionRequest, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT * FROM action_requests
	 WHERE status = ? AND created_at <= ?
	 ORDER BY created_at ASC, id ASC
	 LIMIT ?`
	// Row locks are only meaningful on servers that support them; sqlite
	// serializes writers anyway.
	if !strings.EqualFold(db.Dialector.Name(), "sqlite") {
		query = `SELECT * FROM action_requests
	 WHERE status = ? AND created_at <= ?
	 ORDER BY created_at ASC, id ASC
	 FOR UPDATE SKIP LOCKED
	 LIMIT ?`
	}

	var requests []*domain.ActionRequest
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(query,
		domain.StatusPending,
		olderThan.UTC(),
		limit,
	).Scan(&requests).Error
	obsmetrics.Sweeper().ObserveDBLockWait(obsmetrics.LockResourcePendingRequestsForWork, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return requests, nil
}
