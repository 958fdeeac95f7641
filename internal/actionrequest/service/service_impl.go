package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	auditdomain "github.com/smallbiznis/memberledger/internal/audit/domain"
	"github.com/smallbiznis/memberledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/memberledger/internal/ledger/domain"
	"github.com/smallbiznis/memberledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/memberledger/internal/observability/metrics"
	programdomain "github.com/smallbiznis/memberledger/internal/program/domain"
	"github.com/smallbiznis/memberledger/internal/ratelimit"
	"github.com/smallbiznis/memberledger/pkg/db"
	"github.com/smallbiznis/memberledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const rateLimitEndpointSubmit = "member_actions.submit"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	ProgramSvc programdomain.Service
	LedgerSvc  ledgerdomain.Service
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics            `optional:"true"`
	Limiter    *ratelimit.ActionSubmitLimiter `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	programSvc programdomain.Service
	ledgerSvc  ledgerdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	limiter    *ratelimit.ActionSubmitLimiter
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("actionrequest.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		programSvc: p.ProgramSvc,
		ledgerSvc:  p.LedgerSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		limiter:    p.Limiter,
	}
}

func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (domain.SubmitResult, error) {
	businessID := strings.TrimSpace(req.BusinessID)
	programIDRaw := strings.TrimSpace(req.ProgramID)
	customerID := strings.TrimSpace(req.CustomerID)
	actionType := domain.ActionType(strings.TrimSpace(req.Type))
	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)

	if businessID == "" || programIDRaw == "" || customerID == "" || actionType == "" || idempotencyKey == "" {
		return domain.SubmitResult{}, domain.ErrMissingFields
	}

	programID, err := snowflake.ParseString(programIDRaw)
	if err != nil || programID == 0 {
		return domain.SubmitResult{}, programdomain.ErrNotFound
	}

	resolved, err := s.programSvc.ResolvePolicy(ctx, businessID, programID, string(actionType))
	if err != nil {
		return domain.SubmitResult{}, err
	}

	if err := validateAmounts(actionType, req.Payload); err != nil {
		return domain.SubmitResult{}, err
	}

	if s.limiter.Enabled() {
		allowed, err := s.limiter.AllowBusiness(ctx, businessID)
		if err != nil {
			s.log.Warn("submit rate limit check failed, allowing request",
				zap.String("business_id", businessID), zap.Error(err))
		} else if !allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(ctx, businessID, rateLimitEndpointSubmit, "business_rate")
			}
			return domain.SubmitResult{}, &domain.RateLimitedError{Reason: "Too many requests. Try again shortly."}
		}
		if s.obsMetrics != nil && err == nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, businessID, rateLimitEndpointSubmit)
		}

		token, ok, err := s.limiter.TryLockSubmission(ctx, businessID, customerID, string(actionType))
		if err != nil {
			s.log.Warn("submit lock acquisition failed, allowing request",
				zap.String("business_id", businessID), zap.Error(err))
		} else if !ok {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(ctx, businessID, rateLimitEndpointSubmit, "concurrent_submission")
			}
			return domain.SubmitResult{}, &domain.RateLimitedError{Reason: "A matching request is already being processed. Try again shortly."}
		} else {
			defer func() {
				if err := s.limiter.ReleaseSubmission(ctx, businessID, customerID, string(actionType), token); err != nil {
					s.log.Warn("submit lock release failed", zap.Error(err))
				}
			}()
		}
	}

	existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, programID, customerID, actionType, idempotencyKey)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if existing != nil {
		return domain.SubmitResult{}, domain.ErrDuplicateRequest
	}

	eval, err := s.evaluateLimits(ctx, businessID, customerID, actionType, resolved.Policy)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if !eval.Allowed {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordActionSubmission(ctx, string(actionType), "denied")
		}
		return domain.SubmitResult{}, &domain.RateLimitedError{Reason: eval.Reason}
	}

	snapshot, err := json.Marshal(domain.PolicySnapshot{
		Policy:  resolved.Policy,
		Allowed: true,
	})
	if err != nil {
		return domain.SubmitResult{}, err
	}

	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	request := domain.ActionRequest{
		ID:             s.genID.Generate(),
		BusinessID:     businessID,
		ProgramID:      programID,
		CustomerID:     customerID,
		Type:           actionType,
		Payload:        datatypes.JSONMap(payload),
		IdempotencyKey: idempotencyKey,
		Source:         strings.TrimSpace(req.Source),
		PolicyApplied:  datatypes.JSON(snapshot),
		Status:         domain.StatusPending,
		CreatedAt:      s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, s.db, &request); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.SubmitResult{}, domain.ErrDuplicateRequest
		}
		return domain.SubmitResult{}, err
	}

	var eventID *snowflake.ID
	if resolved.Policy.AutoApprove && shouldAutoApprove(actionType, payload, resolved.Policy) {
		event, err := s.decide(ctx, &request, resolved.Version.ID, domain.StatusAutoApproved)
		if err != nil {
			// The request stays pending and is picked up by the reconcile
			// sweep or an operator decision.
			logger.FromContext(ctx).Warn("auto approval failed, leaving request pending",
				zap.String("request_id", request.ID.String()),
				zap.String("action_type", string(actionType)),
				zap.Error(err))
		} else {
			eventID = &event
			if s.obsMetrics != nil {
				s.obsMetrics.RecordActionDecision(ctx, string(actionType), string(domain.StatusAutoApproved))
			}
		}
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordActionSubmission(ctx, string(actionType), string(request.Status))
	}
	s.audit(ctx, businessID, "member_action.submitted", request.ID.String(), map[string]any{
		"action_type": string(actionType),
		"customer_id": customerID,
		"program_id":  programID.String(),
		"status":      string(request.Status),
	})

	return domain.SubmitResult{Request: request, EventID: eventID}, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	businessID := strings.TrimSpace(req.BusinessID)
	if businessID == "" {
		return domain.ListResponse{}, domain.ErrMissingFields
	}

	filter := domain.ListFilter{
		BusinessID: businessID,
		CustomerID: req.CustomerID,
		Status:     req.Status,
		Type:       req.Type,
	}
	if programIDRaw := strings.TrimSpace(req.ProgramID); programIDRaw != "" {
		programID, err := snowflake.ParseString(programIDRaw)
		if err != nil || programID == 0 {
			return domain.ListResponse{}, domain.ErrInvalidID
		}
		filter.ProgramID = programID
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *domain.ActionRequest) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	requests := make([]domain.ActionRequest, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		requests = append(requests, *item)
	}

	resp := domain.ListResponse{Requests: requests}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetRequest) (domain.ActionRequest, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.ActionRequest{}, err
	}

	request, err := s.repo.FindByID(ctx, s.db, strings.TrimSpace(req.BusinessID), id)
	if err != nil {
		return domain.ActionRequest{}, err
	}
	if request == nil {
		return domain.ActionRequest{}, domain.ErrNotFound
	}
	return *request, nil
}

func (s *Service) audit(ctx context.Context, businessID, action, resourceID string, detail map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, businessID, "", "", action, "action_request", resourceID, detail); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
