package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	ledgerdomain "github.com/smallbiznis/memberledger/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errDecisionRace signals that another decider moved the request out of
// pending between the load and the guarded update.
var errDecisionRace = errors.New("decision_race")

// eventIdempotencyKey derives the ledger key from the request key so a
// retried approval lands on the same event row.
func eventIdempotencyKey(request *domain.ActionRequest) string {
	return "approved_" + request.IdempotencyKey
}

func eventTypeFor(actionType domain.ActionType) ledgerdomain.EventType {
	switch actionType {
	case domain.ActionTypeCheckIn:
		return ledgerdomain.EventTypeCheckIn
	case domain.ActionTypeEarnPoints:
		return ledgerdomain.EventTypeEarn
	case domain.ActionTypeRedeemOffer, domain.ActionTypeSpendValue:
		return ledgerdomain.EventTypeRedeem
	default:
		return ledgerdomain.EventTypeAdjust
	}
}

// amountsFor maps an approved request's payload onto signed ledger deltas.
// Stored value is kept in minor units, so spend amounts scale by 100.
// Non-positive amounts map to a zero delta: the sign of the event comes
// from the action type, never from the payload.
func amountsFor(actionType domain.ActionType, payload map[string]any) ledgerdomain.Amounts {
	switch actionType {
	case domain.ActionTypeEarnPoints:
		points, _ := payloadNumber(payload, "points")
		if points <= 0 {
			return ledgerdomain.Amounts{}
		}
		return ledgerdomain.Amounts{PointsDelta: int64(math.Round(points))}
	case domain.ActionTypeSpendValue:
		amount, _ := payloadNumber(payload, "amount")
		if amount <= 0 {
			return ledgerdomain.Amounts{}
		}
		return ledgerdomain.Amounts{StoredValueDelta: -int64(math.Round(amount * 100))}
	case domain.ActionTypeRedeemOffer:
		cost, _ := payloadNumber(payload, "points_cost")
		if cost <= 0 {
			return ledgerdomain.Amounts{}
		}
		return ledgerdomain.Amounts{PointsDelta: -int64(math.Round(cost))}
	default:
		return ledgerdomain.Amounts{}
	}
}

// decide appends the ledger event and flips the request out of pending in
// one transaction, so a crash never leaves an event without a decided
// request or the reverse.
func (s *Service) decide(ctx context.Context, request *domain.ActionRequest, versionID snowflake.ID, status domain.RequestStatus) (snowflake.ID, error) {
	return s.decideIn(ctx, s.db, request, versionID, status)
}

// decideIn runs decide on the caller's handle. Inside an open transaction
// gorm nests it as a savepoint, so one failed decision does not roll back
// the rest of a sweep batch.
func (s *Service) decideIn(ctx context.Context, db *gorm.DB, request *domain.ActionRequest, versionID snowflake.ID, status domain.RequestStatus) (snowflake.ID, error) {
	approvedAt := s.clock.Now()
	var eventID snowflake.ID

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, _, err := s.ledgerSvc.Append(ctx, tx, ledgerdomain.AppendEventRequest{
			BusinessID:       request.BusinessID,
			ProgramID:        request.ProgramID,
			ProgramVersionID: versionID,
			CustomerID:       request.CustomerID,
			Type:             eventTypeFor(request.Type),
			Amounts:          amountsFor(request.Type, map[string]any(request.Payload)),
			Source:           request.Source,
			Meta: map[string]any{
				"action_request_id": request.ID.String(),
				"action_type":       string(request.Type),
			},
			IdempotencyKey: eventIdempotencyKey(request),
			ObservedAt:     approvedAt,
		})
		if err != nil {
			return err
		}
		eventID = event.ID

		decided, err := s.repo.ApplyDecision(ctx, tx, domain.DecisionUpdate{
			ID:               request.ID,
			Status:           status,
			ApprovedAt:       &approvedAt,
			ResultingEventID: &eventID,
		})
		if err != nil {
			return err
		}
		if !decided {
			return errDecisionRace
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	request.Status = status
	request.ApprovedAt = &approvedAt
	request.ResultingEventID = &eventID
	return eventID, nil
}

func (s *Service) Approve(ctx context.Context, req domain.ApproveRequest) (domain.ApproveResult, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.ApproveResult{}, err
	}

	businessID := strings.TrimSpace(req.BusinessID)
	request, err := s.repo.FindByID(ctx, s.db, businessID, id)
	if err != nil {
		return domain.ApproveResult{}, err
	}
	if request == nil {
		return domain.ApproveResult{}, domain.ErrNotFound
	}

	switch request.Status {
	case domain.StatusApproved, domain.StatusAutoApproved:
		return s.approvedResult(ctx, request)
	case domain.StatusRejected:
		return domain.ApproveResult{}, domain.ErrInvalidStatus
	}

	version, err := s.programSvc.LatestVersion(ctx, request.BusinessID, request.ProgramID)
	if err != nil {
		return domain.ApproveResult{}, err
	}

	eventID, err := s.decide(ctx, request, version.ID, domain.StatusApproved)
	if err != nil {
		if errors.Is(err, errDecisionRace) {
			return s.resolveDecisionRace(ctx, businessID, id)
		}
		return domain.ApproveResult{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordActionDecision(ctx, string(request.Type), string(domain.StatusApproved))
	}
	s.audit(ctx, request.BusinessID, "member_action.approved", request.ID.String(), map[string]any{
		"action_type": string(request.Type),
		"customer_id": request.CustomerID,
		"actor_type":  strings.TrimSpace(req.ActorType),
		"actor_id":    strings.TrimSpace(req.ActorID),
		"event_id":    eventID.String(),
	})

	return domain.ApproveResult{Request: *request, EventID: eventID}, nil
}

func (s *Service) Reject(ctx context.Context, req domain.RejectRequest) (domain.ActionRequest, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.ActionRequest{}, err
	}

	businessID := strings.TrimSpace(req.BusinessID)
	request, err := s.repo.FindByID(ctx, s.db, businessID, id)
	if err != nil {
		return domain.ActionRequest{}, err
	}
	if request == nil {
		return domain.ActionRequest{}, domain.ErrNotFound
	}

	switch request.Status {
	case domain.StatusRejected:
		return *request, nil
	case domain.StatusApproved, domain.StatusAutoApproved:
		return domain.ActionRequest{}, domain.ErrInvalidStatus
	}

	decided, err := s.repo.ApplyDecision(ctx, s.db, domain.DecisionUpdate{
		ID:     request.ID,
		Status: domain.StatusRejected,
	})
	if err != nil {
		return domain.ActionRequest{}, err
	}
	if !decided {
		refreshed, err := s.repo.FindByID(ctx, s.db, businessID, id)
		if err != nil {
			return domain.ActionRequest{}, err
		}
		if refreshed != nil && refreshed.Status == domain.StatusRejected {
			return *refreshed, nil
		}
		return domain.ActionRequest{}, domain.ErrInvalidStatus
	}
	request.Status = domain.StatusRejected

	if s.obsMetrics != nil {
		s.obsMetrics.RecordActionDecision(ctx, string(request.Type), string(domain.StatusRejected))
	}
	s.audit(ctx, request.BusinessID, "member_action.rejected", request.ID.String(), map[string]any{
		"action_type": string(request.Type),
		"customer_id": request.CustomerID,
		"actor_type":  strings.TrimSpace(req.ActorType),
		"actor_id":    strings.TrimSpace(req.ActorID),
		"reason":      strings.TrimSpace(req.Reason),
	})

	return *request, nil
}

// approvedResult rebuilds the idempotent response for a request that is
// already in a terminal approved state.
func (s *Service) approvedResult(ctx context.Context, request *domain.ActionRequest) (domain.ApproveResult, error) {
	if request.ResultingEventID != nil {
		return domain.ApproveResult{Request: *request, EventID: *request.ResultingEventID}, nil
	}
	event, err := s.ledgerSvc.FindByIdempotencyKey(ctx, request.BusinessID, request.ProgramID, eventIdempotencyKey(request))
	if err != nil {
		return domain.ApproveResult{}, err
	}
	if event == nil {
		s.log.Warn("approved request has no resulting event",
			zap.String("request_id", request.ID.String()))
		return domain.ApproveResult{Request: *request}, nil
	}
	return domain.ApproveResult{Request: *request, EventID: event.ID}, nil
}

func (s *Service) resolveDecisionRace(ctx context.Context, businessID string, id snowflake.ID) (domain.ApproveResult, error) {
	refreshed, err := s.repo.FindByID(ctx, s.db, businessID, id)
	if err != nil {
		return domain.ApproveResult{}, err
	}
	if refreshed == nil {
		return domain.ApproveResult{}, domain.ErrNotFound
	}
	switch refreshed.Status {
	case domain.StatusApproved, domain.StatusAutoApproved:
		return s.approvedResult(ctx, refreshed)
	default:
		return domain.ApproveResult{}, domain.ErrInvalidStatus
	}
}
