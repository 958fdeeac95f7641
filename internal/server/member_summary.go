package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	balancedomain "github.com/smallbiznis/memberledger/internal/balance/domain"
)

func (s *Server) GetMemberSummary(c *gin.Context) {
	resp, err := s.balanceSvc.Summarize(c.Request.Context(), balancedomain.SummaryRequest{
		BusinessID: requestBusinessID(c),
		ProgramID:  strings.TrimSpace(c.Query("program_id")),
		CustomerID: strings.TrimSpace(c.Param("customer_id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
