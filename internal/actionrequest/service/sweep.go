package service

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	programdomain "github.com/smallbiznis/memberledger/internal/program/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SweepPending re-drives stale pending requests whose policy qualifies them
// for auto-approval. A submission whose auto-approval transaction failed
// lands here instead of staying pending until an operator notices.
//
// The batch is claimed and decided inside one transaction: the row locks
// taken by FindPendingForWork only exist while that transaction is open,
// so concurrent sweepers skip each other's batch instead of refetching it.
func (s *Service) SweepPending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	var recovered []*domain.ActionRequest
	var sweepErr error

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		requests, err := s.repo.FindPendingForWork(ctx, tx, olderThan, limit)
		if err != nil {
			return err
		}

		for _, request := range requests {
			if ctx.Err() != nil {
				sweepErr = errors.Join(sweepErr, ctx.Err())
				break
			}
			if request == nil {
				continue
			}

			resolved, err := s.programSvc.ResolvePolicy(ctx, request.BusinessID, request.ProgramID, string(request.Type))
			if err != nil {
				// Disabled or unpublished actions stay pending for an
				// operator decision.
				if errors.Is(err, programdomain.ErrActionNotEnabled) || errors.Is(err, programdomain.ErrNotFound) {
					continue
				}
				sweepErr = errors.Join(sweepErr, err)
				continue
			}
			if !resolved.Policy.AutoApprove || !shouldAutoApprove(request.Type, map[string]any(request.Payload), resolved.Policy) {
				continue
			}

			if _, err := s.decideIn(ctx, tx, request, resolved.Version.ID, domain.StatusAutoApproved); err != nil {
				if errors.Is(err, errDecisionRace) {
					continue
				}
				sweepErr = errors.Join(sweepErr, err)
				continue
			}
			recovered = append(recovered, request)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Audit and metrics describe committed work only.
	for _, request := range recovered {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordActionDecision(ctx, string(request.Type), string(domain.StatusAutoApproved))
		}
		s.audit(ctx, request.BusinessID, "member_action.auto_approved", request.ID.String(), map[string]any{
			"action_type": string(request.Type),
			"customer_id": request.CustomerID,
			"recovered":   true,
		})
		s.log.Info("recovered pending request",
			zap.String("request_id", request.ID.String()),
			zap.String("action_type", string(request.Type)))
	}

	return len(recovered), sweepErr
}
