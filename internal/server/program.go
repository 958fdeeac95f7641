package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	programdomain "github.com/smallbiznis/memberledger/internal/program/domain"
	"github.com/smallbiznis/memberledger/pkg/db/pagination"
)

type createProgramRequest struct {
	BusinessID string `json:"business_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Slug       string `json:"slug"`
}

func (s *Server) CreateProgram(c *gin.Context) {
	var req createProgramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, errInvalidRequest)
		return
	}

	resp, err := s.programSvc.Create(c.Request.Context(), programdomain.CreateProgramRequest{
		BusinessID: strings.TrimSpace(req.BusinessID),
		Name:       strings.TrimSpace(req.Name),
		Type:       strings.TrimSpace(req.Type),
		Slug:       strings.TrimSpace(req.Slug),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListPrograms(c *gin.Context) {
	var query struct {
		pagination.Pagination
		BusinessID string `form:"business_id"`
		Type       string `form:"type"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, errInvalidRequest)
		return
	}

	businessID := strings.TrimSpace(query.BusinessID)
	if businessID == "" {
		businessID = requestBusinessID(c)
	}

	resp, err := s.programSvc.List(c.Request.Context(), programdomain.ListProgramRequest{
		Pagination: query.Pagination,
		BusinessID: businessID,
		Type:       strings.TrimSpace(query.Type),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetProgramByID(c *gin.Context) {
	resp, err := s.programSvc.GetByID(c.Request.Context(), programdomain.GetProgramRequest{
		BusinessID: requestBusinessID(c),
		ID:         strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type publishVersionRequest struct {
	BusinessID string                                `json:"business_id"`
	Spec       map[string]any                        `json:"spec"`
	Actions    map[string]programdomain.ActionPolicy `json:"actions"`
	Tiers      []programdomain.Tier                  `json:"tiers"`
}

func (s *Server) PublishProgramVersion(c *gin.Context) {
	var req publishVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, errInvalidRequest)
		return
	}

	businessID := strings.TrimSpace(req.BusinessID)
	if businessID == "" {
		businessID = requestBusinessID(c)
	}

	resp, err := s.programSvc.PublishVersion(c.Request.Context(), programdomain.PublishVersionRequest{
		BusinessID: businessID,
		ProgramID:  strings.TrimSpace(c.Param("id")),
		Spec:       req.Spec,
		Actions:    req.Actions,
		Tiers:      req.Tiers,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type programPoliciesResponse struct {
	ProgramID string                                `json:"program_id"`
	VersionID string                                `json:"version_id"`
	Actions   map[string]programdomain.ActionPolicy `json:"actions"`
	Tiers     []programdomain.Tier                  `json:"tiers"`
}

// GetProgramPolicies reports the action policies and tiers of the latest
// published version.
func (s *Server) GetProgramPolicies(c *gin.Context) {
	businessID := requestBusinessID(c)
	program, err := s.programSvc.GetByID(c.Request.Context(), programdomain.GetProgramRequest{
		BusinessID: businessID,
		ID:         strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	version, err := s.programSvc.LatestVersion(c.Request.Context(), businessID, program.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	actions, err := version.ActionPolicies()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	tiers, err := version.TierList()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if tiers == nil {
		tiers = []programdomain.Tier{}
	}

	c.JSON(http.StatusOK, programPoliciesResponse{
		ProgramID: program.ID.String(),
		VersionID: version.ID.String(),
		Actions:   actions,
		Tiers:     tiers,
	})
}
