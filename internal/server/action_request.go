package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	actiondomain "github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	"github.com/smallbiznis/memberledger/pkg/db/pagination"
)

type submitActionRequest struct {
	BusinessID     string         `json:"business_id"`
	ProgramID      string         `json:"program_id"`
	CustomerID     string         `json:"customer_id"`
	Type           string         `json:"type"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
	Source         string         `json:"source"`
}

type actionDecisionResponse struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	EventID   string `json:"event_id,omitempty"`
	Message   string `json:"message"`
}

func (s *Server) SubmitMemberAction(c *gin.Context) {
	var req submitActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, actiondomain.ErrMissingFields)
		return
	}
	c.Set("action_type", strings.TrimSpace(req.Type))

	result, err := s.actionSvc.Submit(c.Request.Context(), actiondomain.SubmitRequest{
		BusinessID:     req.BusinessID,
		ProgramID:      req.ProgramID,
		CustomerID:     req.CustomerID,
		Type:           req.Type,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		Source:         req.Source,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := actionDecisionResponse{
		Success:   true,
		Status:    string(result.Request.Status),
		RequestID: result.Request.ID.String(),
	}
	if result.EventID != nil {
		resp.EventID = result.EventID.String()
	}
	if result.Request.Status == actiondomain.StatusAutoApproved {
		resp.Message = "Action approved."
	} else {
		resp.Message = "Action submitted for approval."
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListMemberActions(c *gin.Context) {
	var query struct {
		pagination.Pagination
		BusinessID string `form:"business_id"`
		ProgramID  string `form:"program_id"`
		CustomerID string `form:"customer_id"`
		Status     string `form:"status"`
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

	resp, err := s.actionSvc.List(c.Request.Context(), actiondomain.ListRequest{
		Pagination: query.Pagination,
		BusinessID: businessID,
		ProgramID:  strings.TrimSpace(query.ProgramID),
		CustomerID: strings.TrimSpace(query.CustomerID),
		Status:     strings.TrimSpace(query.Status),
		Type:       strings.TrimSpace(query.Type),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetMemberActionByID(c *gin.Context) {
	businessID := requestBusinessID(c)
	if businessID == "" {
		AbortWithError(c, actiondomain.ErrMissingFields)
		return
	}

	resp, err := s.actionSvc.GetByID(c.Request.Context(), actiondomain.GetRequest{
		BusinessID: businessID,
		ID:         strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type decideActionRequest struct {
	BusinessID string `json:"business_id"`
	Approver   string `json:"approver"`
	Reason     string `json:"reason"`
}

func (d decideActionRequest) businessID(c *gin.Context) string {
	if businessID := strings.TrimSpace(d.BusinessID); businessID != "" {
		return businessID
	}
	return requestBusinessID(c)
}

func (s *Server) ApproveMemberAction(c *gin.Context) {
	var req decideActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, actiondomain.ErrMissingFields)
		return
	}

	approver := strings.TrimSpace(req.Approver)
	businessID := req.businessID(c)
	if approver == "" || businessID == "" {
		AbortWithError(c, actiondomain.ErrMissingFields)
		return
	}

	result, err := s.actionSvc.Approve(c.Request.Context(), actiondomain.ApproveRequest{
		BusinessID: businessID,
		ID:         strings.TrimSpace(c.Param("id")),
		ActorType:  "user",
		ActorID:    approver,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, actionDecisionResponse{
		Success:   true,
		Status:    string(result.Request.Status),
		RequestID: result.Request.ID.String(),
		EventID:   result.EventID.String(),
		Message:   "Action approved.",
	})
}

func (s *Server) RejectMemberAction(c *gin.Context) {
	var req decideActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, actiondomain.ErrMissingFields)
		return
	}

	approver := strings.TrimSpace(req.Approver)
	businessID := req.businessID(c)
	if approver == "" || businessID == "" {
		AbortWithError(c, actiondomain.ErrMissingFields)
		return
	}

	request, err := s.actionSvc.Reject(c.Request.Context(), actiondomain.RejectRequest{
		BusinessID: businessID,
		ID:         strings.TrimSpace(c.Param("id")),
		ActorType:  "user",
		ActorID:    approver,
		Reason:     strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, actionDecisionResponse{
		Success:   true,
		Status:    string(request.Status),
		RequestID: request.ID.String(),
		Message:   "Action rejected.",
	})
}
