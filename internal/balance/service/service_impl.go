package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallbiznis/memberledger/internal/balance/domain"
	ledgerdomain "github.com/smallbiznis/memberledger/internal/ledger/domain"
	programdomain "github.com/smallbiznis/memberledger/internal/program/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const recentActivityLimit = 20

type Params struct {
	fx.In

	Log        *zap.Logger
	ProgramSvc programdomain.Service
	LedgerSvc  ledgerdomain.Service
}

type Service struct {
	log        *zap.Logger
	programSvc programdomain.Service
	ledgerSvc  ledgerdomain.Service
}

func NewService(p Params) balancedomain.Service {
	return &Service{
		log:        p.Log.Named("balance.service"),
		programSvc: p.ProgramSvc,
		ledgerSvc:  p.LedgerSvc,
	}
}

// Summarize derives balances by summing every ledger event for the customer.
// There is no materialized balance row to drift out of sync with the ledger.
func (s *Service) Summarize(ctx context.Context, req balancedomain.SummaryRequest) (balancedomain.Summary, error) {
	businessID := strings.TrimSpace(req.BusinessID)
	if businessID == "" {
		return balancedomain.Summary{}, balancedomain.ErrInvalidBusiness
	}
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return balancedomain.Summary{}, balancedomain.ErrInvalidCustomer
	}
	programID, err := snowflake.ParseString(strings.TrimSpace(req.ProgramID))
	if err != nil || programID == 0 {
		return balancedomain.Summary{}, balancedomain.ErrNotFound
	}

	program, err := s.programSvc.GetByID(ctx, programdomain.GetProgramRequest{
		BusinessID: businessID,
		ID:         programID.String(),
	})
	if err != nil {
		if errors.Is(err, programdomain.ErrNotFound) || errors.Is(err, programdomain.ErrInvalidID) {
			return balancedomain.Summary{}, balancedomain.ErrNotFound
		}
		return balancedomain.Summary{}, err
	}

	events, err := s.ledgerSvc.ListByCustomer(ctx, programID, customerID)
	if err != nil {
		return balancedomain.Summary{}, err
	}

	var balances balancedomain.Balances
	activity := make([]balancedomain.Activity, 0, recentActivityLimit)
	for _, event := range events {
		deltas, err := event.Deltas()
		if err != nil {
			s.log.Warn("skipping event with undecodable amounts",
				zap.String("event_id", event.ID.String()), zap.Error(err))
			continue
		}
		balances.Points += deltas.PointsDelta
		balances.Credit += deltas.CreditDelta
		balances.StoredValue += deltas.StoredValueDelta

		if len(activity) < recentActivityLimit {
			activity = append(activity, balancedomain.Activity{
				Timestamp:   event.ObservedAt,
				Type:        string(event.Type),
				Points:      deltas.PointsDelta,
				Credit:      deltas.CreditDelta,
				StoredValue: deltas.StoredValueDelta,
				Meta:        map[string]any(event.Meta),
			})
		}
	}

	summary := balancedomain.Summary{
		BusinessID:     businessID,
		ProgramID:      programID.String(),
		CustomerID:     customerID,
		ProgramType:    string(program.Type),
		Balances:       balances,
		RecentActivity: activity,
	}

	if program.Type == programdomain.ProgramTypeLoyalty {
		tier, err := s.tierStatus(ctx, businessID, programID, balances.Points)
		if err != nil {
			return balancedomain.Summary{}, err
		}
		summary.Tier = tier
	}

	return summary, nil
}

// tierStatus resolves the customer's tier from the latest published version.
// Programs without tiers (or without a version yet) have no tier standing.
func (s *Service) tierStatus(ctx context.Context, businessID string, programID snowflake.ID, points int64) (*balancedomain.TierStatus, error) {
	version, err := s.programSvc.LatestVersion(ctx, businessID, programID)
	if err != nil {
		if errors.Is(err, programdomain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	tiers, err := version.TierList()
	if err != nil {
		return nil, err
	}
	if len(tiers) == 0 {
		return nil, nil
	}

	// Members below the lowest threshold still hold the lowest tier; in
	// that case points_to_next_tier counts up to that same tier's
	// threshold.
	current := tiers[0]
	var next *programdomain.Tier
	for i := range tiers {
		if tiers[i].Threshold <= points {
			current = tiers[i]
			continue
		}
		next = &tiers[i]
		break
	}

	status := &balancedomain.TierStatus{Tier: current.Name}
	if next != nil {
		gap := next.Threshold - points
		status.PointsToNextTier = &gap
	}
	return status, nil
}
