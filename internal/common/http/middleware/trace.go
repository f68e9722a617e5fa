package middleware

import (
	"context"
	"strconv"
	"strings"

	"arbiter/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader  = "X-Trace-Id"
	memberIDHeader = "X-Member-Id"

	traceIDContextKey  = "trace_id"
	memberIDContextKey = "member_id"
)

// TraceContextConfig controls how trace and member id are extracted.
type TraceContextConfig struct {
	AllowMemberIDHeader bool
	WriteMemberIDHeader bool
}

// TraceContextMiddleware ensures trace/member id are in context and
// response headers, so log lines across services correlate.
func TraceContextMiddleware() gin.HandlerFunc {
	return TraceContextMiddlewareWithConfig(TraceContextConfig{
		AllowMemberIDHeader: true,
		WriteMemberIDHeader: true,
	})
}

// TraceContextMiddlewareWithConfig is the configurable version of TraceContextMiddleware.
func TraceContextMiddlewareWithConfig(cfg TraceContextConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader(traceIDHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(traceIDContextKey, traceID)
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(traceIDHeader, traceID)

		if cfg.AllowMemberIDHeader {
			raw := strings.TrimSpace(c.GetHeader(memberIDHeader))
			if memberID, err := strconv.ParseInt(raw, 10, 64); err == nil && memberID > 0 {
				c.Set(memberIDContextKey, memberID)
				ctx = context.WithValue(c.Request.Context(), contextkey.MemberID, memberID)
				c.Request = c.Request.WithContext(ctx)
				if cfg.WriteMemberIDHeader {
					c.Writer.Header().Set(memberIDHeader, raw)
				}
			}
		}

		c.Next()
	}
}
