package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/memberledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/memberledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		obsMetrics: p.ObsMetrics,
	}
}

// Append inserts one ledger event. The unique (business_id, program_id,
// idempotency_key) index makes retries safe: on conflict the existing event
// is returned with inserted=false and no second row is written.
func (s *Service) Append(ctx context.Context, db *gorm.DB, req ledgerdomain.AppendEventRequest) (ledgerdomain.CustomerEvent, bool, error) {
	if db == nil {
		db = s.db
	}

	businessID := strings.TrimSpace(req.BusinessID)
	if businessID == "" {
		return ledgerdomain.CustomerEvent{}, false, ledgerdomain.ErrInvalidBusiness
	}
	if req.ProgramID == 0 {
		return ledgerdomain.CustomerEvent{}, false, ledgerdomain.ErrInvalidProgram
	}
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return ledgerdomain.CustomerEvent{}, false, ledgerdomain.ErrInvalidCustomer
	}
	if !req.Type.Valid() {
		return ledgerdomain.CustomerEvent{}, false, ledgerdomain.ErrInvalidEventType
	}
	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey == "" {
		return ledgerdomain.CustomerEvent{}, false, ledgerdomain.ErrInvalidIdempotencyKey
	}

	amountsJSON, err := json.Marshal(req.Amounts)
	if err != nil {
		return ledgerdomain.CustomerEvent{}, false, err
	}

	meta := req.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	observedAt := req.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	event := ledgerdomain.CustomerEvent{
		ID:               s.genID.Generate(),
		BusinessID:       businessID,
		ProgramID:        req.ProgramID,
		ProgramVersionID: req.ProgramVersionID,
		CustomerID:       customerID,
		Type:             req.Type,
		Amounts:          amountsJSON,
		Source:           strings.TrimSpace(req.Source),
		Meta:             datatypes.JSONMap(meta),
		IdempotencyKey:   idempotencyKey,
		ObservedAt:       observedAt.UTC(),
	}

	inserted, err := s.insertEvent(ctx, db, &event)
	if err != nil {
		return ledgerdomain.CustomerEvent{}, false, err
	}

	if !inserted {
		existing, err := s.findByIdempotencyKey(ctx, db, businessID, req.ProgramID, idempotencyKey)
		if err != nil {
			return ledgerdomain.CustomerEvent{}, false, err
		}
		if existing == nil {
			return ledgerdomain.CustomerEvent{}, false, errors.New("ledger event conflict without existing row")
		}
		return *existing, false, nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEvent(ctx, string(event.Type))
	}

	return event, true, nil
}

func (s *Service) ListByCustomer(ctx context.Context, programID snowflake.ID, customerID string) ([]ledgerdomain.CustomerEvent, error) {
	if programID == 0 {
		return nil, ledgerdomain.ErrInvalidProgram
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ledgerdomain.ErrInvalidCustomer
	}

	var events []ledgerdomain.CustomerEvent
	err := s.db.WithContext(ctx).
		Where("program_id = ? AND customer_id = ?", programID, customerID).
		Order("observed_at desc, id desc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Service) FindByIdempotencyKey(ctx context.Context, businessID string, programID snowflake.ID, key string) (*ledgerdomain.CustomerEvent, error) {
	return s.findByIdempotencyKey(ctx, s.db, strings.TrimSpace(businessID), programID, strings.TrimSpace(key))
}

func (s *Service) insertEvent(ctx context.Context, db *gorm.DB, event *ledgerdomain.CustomerEvent) (bool, error) {
	if strings.EqualFold(db.Dialector.Name(), "sqlite") {
		return s.insertEventSQLite(ctx, db, event)
	}
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "business_id"}, {Name: "program_id"}, {Name: "idempotency_key"},
			},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) insertEventSQLite(ctx context.Context, db *gorm.DB, event *ledgerdomain.CustomerEvent) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO customer_events (
			id, business_id, program_id, program_version_id, customer_id,
			type, amounts, source, meta, idempotency_key, observed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (business_id, program_id, idempotency_key) DO NOTHING`,
		event.ID,
		event.BusinessID,
		event.ProgramID,
		event.ProgramVersionID,
		event.CustomerID,
		event.Type,
		event.Amounts,
		event.Source,
		event.Meta,
		event.IdempotencyKey,
		event.ObservedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) findByIdempotencyKey(ctx context.Context, db *gorm.DB, businessID string, programID snowflake.ID, key string) (*ledgerdomain.CustomerEvent, error) {
	if key == "" {
		return nil, nil
	}
	var event ledgerdomain.CustomerEvent
	err := db.WithContext(ctx).
		Where("business_id = ? AND program_id = ? AND idempotency_key = ?", businessID, programID, key).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}
