package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/memberledger/internal/observability/obscontext"
)

const (
	headerActorType  = "X-Actor-Type"
	headerActorID    = "X-Actor-Id"
	headerBusinessID = "X-Business-Id"
)

// ActorContext carries the caller identity headers into the request context
// so audit records and logs can attribute the action.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		actorType := strings.TrimSpace(c.GetHeader(headerActorType))
		if actorType == "" {
			actorType = "api"
		}
		ctx = obscontext.WithActor(ctx, actorType, strings.TrimSpace(c.GetHeader(headerActorID)))

		if businessID := strings.TrimSpace(c.GetHeader(headerBusinessID)); businessID != "" {
			ctx = obscontext.WithBusinessID(ctx, businessID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requestBusinessID resolves the tenant for reads: explicit query parameter
// first, X-Business-Id header as fallback.
func requestBusinessID(c *gin.Context) string {
	if businessID := strings.TrimSpace(c.Query("business_id")); businessID != "" {
		return businessID
	}
	return strings.TrimSpace(c.GetHeader(headerBusinessID))
}
