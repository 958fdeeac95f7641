package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/memberledger/internal/program/domain"
	"github.com/smallbiznis/memberledger/pkg/db"
	"github.com/smallbiznis/memberledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("program.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateProgramRequest) (domain.Program, error) {
	businessID := strings.TrimSpace(req.BusinessID)
	if businessID == "" {
		return domain.Program{}, domain.ErrInvalidBusiness
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Program{}, domain.ErrInvalidName
	}

	programType := domain.ProgramType(strings.TrimSpace(req.Type))
	if !programType.Valid() {
		return domain.Program{}, domain.ErrInvalidType
	}

	programSlug := strings.TrimSpace(req.Slug)
	if programSlug == "" {
		programSlug = slug.Make(name)
	} else {
		programSlug = slug.Make(programSlug)
	}

	now := time.Now().UTC()
	program := domain.Program{
		ID:         s.genID.Generate(),
		BusinessID: businessID,
		Slug:       programSlug,
		Name:       name,
		Type:       programType,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Insert(ctx, s.db, &program); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Program{}, domain.ErrSlugTaken
		}
		return domain.Program{}, err
	}

	return program, nil
}

func (s *Service) List(ctx context.Context, req domain.ListProgramRequest) (domain.ListProgramResponse, error) {
	businessID := strings.TrimSpace(req.BusinessID)
	if businessID == "" {
		return domain.ListProgramResponse{}, domain.ErrInvalidBusiness
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, businessID, domain.ListProgramFilter{
		Type: strings.TrimSpace(req.Type),
	}, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListProgramResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(program *domain.Program) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        program.ID.String(),
			CreatedAt: program.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	programs := make([]domain.Program, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		programs = append(programs, *item)
	}

	resp := domain.ListProgramResponse{Programs: programs}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetProgramRequest) (domain.Program, error) {
	businessID := strings.TrimSpace(req.BusinessID)
	if businessID == "" {
		return domain.Program{}, domain.ErrInvalidBusiness
	}

	id, err := s.parseID(req.ID)
	if err != nil {
		return domain.Program{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, businessID, id)
	if err != nil {
		return domain.Program{}, err
	}
	if item == nil {
		return domain.Program{}, domain.ErrNotFound
	}

	return *item, nil
}

func (s *Service) PublishVersion(ctx context.Context, req domain.PublishVersionRequest) (domain.ProgramVersion, error) {
	businessID := strings.TrimSpace(req.BusinessID)
	if businessID == "" {
		return domain.ProgramVersion{}, domain.ErrInvalidBusiness
	}

	programID, err := s.parseID(req.ProgramID)
	if err != nil {
		return domain.ProgramVersion{}, err
	}

	program, err := s.repo.FindByID(ctx, s.db, businessID, programID)
	if err != nil {
		return domain.ProgramVersion{}, err
	}
	if program == nil {
		return domain.ProgramVersion{}, domain.ErrNotFound
	}

	spec := req.Spec
	if spec == nil {
		spec = map[string]any{}
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return domain.ProgramVersion{}, err
	}

	actions := req.Actions
	if actions == nil {
		actions = map[string]domain.ActionPolicy{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return domain.ProgramVersion{}, err
	}

	tiers := req.Tiers
	if tiers == nil {
		tiers = []domain.Tier{}
	}
	tiersJSON, err := json.Marshal(tiers)
	if err != nil {
		return domain.ProgramVersion{}, err
	}

	version := domain.ProgramVersion{
		ID:        s.genID.Generate(),
		ProgramID: programID,
		Spec:      specJSON,
		Actions:   actionsJSON,
		Tiers:     tiersJSON,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.InsertVersion(ctx, s.db, &version); err != nil {
		return domain.ProgramVersion{}, err
	}

	return version, nil
}

// LatestVersion is a read-through accessor for the most recently published
// version. It never caches so concurrent publishes are observed immediately.
func (s *Service) LatestVersion(ctx context.Context, businessID string, programID snowflake.ID) (domain.ProgramVersion, error) {
	program, err := s.repo.FindByID(ctx, s.db, strings.TrimSpace(businessID), programID)
	if err != nil {
		return domain.ProgramVersion{}, err
	}
	if program == nil {
		return domain.ProgramVersion{}, domain.ErrNotFound
	}

	version, err := s.repo.LatestVersion(ctx, s.db, programID)
	if err != nil {
		return domain.ProgramVersion{}, err
	}
	if version == nil {
		return domain.ProgramVersion{}, domain.ErrNotFound
	}
	return *version, nil
}

func (s *Service) ResolvePolicy(ctx context.Context, businessID string, programID snowflake.ID, actionType string) (domain.ResolvedPolicy, error) {
	program, err := s.repo.FindByID(ctx, s.db, strings.TrimSpace(businessID), programID)
	if err != nil {
		return domain.ResolvedPolicy{}, err
	}
	if program == nil {
		return domain.ResolvedPolicy{}, domain.ErrNotFound
	}

	version, err := s.repo.LatestVersion(ctx, s.db, programID)
	if err != nil {
		return domain.ResolvedPolicy{}, err
	}
	if version == nil {
		// A program without a published version has no action configuration.
		return domain.ResolvedPolicy{}, domain.ErrNotFound
	}

	policies, err := version.ActionPolicies()
	if err != nil {
		return domain.ResolvedPolicy{}, err
	}

	policy, ok := policies[strings.TrimSpace(actionType)]
	if !ok || !policy.Enabled {
		return domain.ResolvedPolicy{}, domain.ErrActionNotEnabled
	}

	return domain.ResolvedPolicy{
		Program: *program,
		Version: *version,
		Policy:  policy,
	}, nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
