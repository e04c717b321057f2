package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/linkwire-dev/linkwire/internal/observability"
	"github.com/linkwire-dev/linkwire/pkg/audit"
	pubobs "github.com/linkwire-dev/linkwire/pkg/observability"
)

// RequestID attaches a request id to every request, honoring one supplied by
// the caller.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// RequireAPIKey gates mutating operations and credential export. The core
// exposes its operations unconditionally; this is the authorization boundary
// in front of it. An empty configured key disables the gate (development
// mode).
func RequireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("X-Api-Key")
		if provided == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if provided != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Metrics records request count and duration per route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		pubobs.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}

// Audited records the outcome of a security-relevant operation. 2xx responses
// audit as success, 401/403 as denied, everything else as failure.
func Audited(logger audit.Logger, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		ev := audit.Event{
			Timestamp:  time.Now().UTC(),
			Action:     action,
			SessionID:  c.Param("id"),
			RemoteAddr: c.ClientIP(),
		}
		if id, ok := c.Get("request_id"); ok {
			ev.RequestID, _ = id.(string)
		}

		status := c.Writer.Status()
		switch {
		case status < 400:
			ev.Result = audit.ResultSuccess
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			ev.Result = audit.ResultDenied
			ev.Error = http.StatusText(status)
		default:
			ev.Result = audit.ResultFailure
			ev.Error = http.StatusText(status)
		}
		logger.Log(ev)
	}
}

// Tracing opens a span per request and propagates it through the request
// context.
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		ctx, span := observability.StartSpan(c.Request.Context(), "http "+c.Request.Method+" "+path, map[string]any{
			"http.method": c.Request.Method,
			"http.route":  path,
			"session.id":  c.Param("id"),
		})
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
