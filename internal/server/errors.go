package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	actiondomain "github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	auditdomain "github.com/smallbiznis/memberledger/internal/audit/domain"
	balancedomain "github.com/smallbiznis/memberledger/internal/balance/domain"
	ledgerdomain "github.com/smallbiznis/memberledger/internal/ledger/domain"
	programdomain "github.com/smallbiznis/memberledger/internal/program/domain"
	"gorm.io/gorm"
)

// errorResponse is the flat error envelope shared by every endpoint. Reason
// is only set on limit denials so clients can explain them to the member.
type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

var errInvalidRequest = errors.New("invalid_request")

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorResponse) {
	var rateLimited *actiondomain.RateLimitedError
	if errors.As(err, &rateLimited) {
		return http.StatusTooManyRequests, errorResponse{
			Error:  "Action not allowed",
			Reason: rateLimited.Reason,
		}
	}

	switch {
	case errors.Is(err, actiondomain.ErrMissingFields):
		return http.StatusBadRequest, errorResponse{Error: "Missing required fields"}
	case isValidationError(err):
		return http.StatusBadRequest, errorResponse{Error: "Invalid request"}
	case errors.Is(err, programdomain.ErrActionNotEnabled):
		return http.StatusForbidden, errorResponse{Error: "Action not enabled"}
	case isProgramNotFound(err):
		return http.StatusNotFound, errorResponse{Error: "Program not found"}
	case isNotFoundError(err):
		return http.StatusNotFound, errorResponse{Error: "Not found"}
	case errors.Is(err, actiondomain.ErrDuplicateRequest):
		return http.StatusConflict, errorResponse{Error: "Duplicate request"}
	case errors.Is(err, actiondomain.ErrInvalidStatus):
		return http.StatusConflict, errorResponse{Error: "Request already decided"}
	case errors.Is(err, programdomain.ErrSlugTaken):
		return http.StatusConflict, errorResponse{Error: "Slug already in use"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "Internal server error"}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, actiondomain.ErrInvalidAmount),
		errors.Is(err, programdomain.ErrInvalidBusiness),
		errors.Is(err, programdomain.ErrInvalidName),
		errors.Is(err, programdomain.ErrInvalidType),
		errors.Is(err, balancedomain.ErrInvalidBusiness),
		errors.Is(err, balancedomain.ErrInvalidCustomer),
		errors.Is(err, ledgerdomain.ErrInvalidBusiness),
		errors.Is(err, ledgerdomain.ErrInvalidProgram),
		errors.Is(err, ledgerdomain.ErrInvalidCustomer),
		errors.Is(err, auditdomain.ErrInvalidBusiness),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

// isProgramNotFound groups the failures the submission contract reports as
// "Program not found": missing programs, missing versions, and program ids
// that never parse.
func isProgramNotFound(err error) bool {
	switch {
	case errors.Is(err, programdomain.ErrNotFound),
		errors.Is(err, programdomain.ErrInvalidID),
		errors.Is(err, balancedomain.ErrNotFound):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, actiondomain.ErrNotFound),
		errors.Is(err, actiondomain.ErrInvalidID),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, _ := mapError(err)
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited", "rate_limited"
	case status == http.StatusBadRequest:
		return "validation_error", errorCode(err)
	case status == http.StatusForbidden:
		return "forbidden", errorCode(err)
	case status == http.StatusNotFound:
		return "not_found", errorCode(err)
	case status == http.StatusConflict:
		return "conflict", errorCode(err)
	case status >= http.StatusInternalServerError:
		return "internal_error", "internal_error"
	default:
		return "error", errorCode(err)
	}
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
