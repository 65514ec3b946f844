package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// requireAuth checks the bearer token on /api/v1 routes. An empty configured
// token disables auth entirely, which is the default for a workspace-local
// hub bound to loopback.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AuthToken == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if header == "" {
			writeError(c, http.StatusUnauthorized, codeMissingAuth, "missing bearer token", nil)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !s.tokenValid(token) {
			writeError(c, http.StatusUnauthorized, codeInvalidAuth, "invalid bearer token", nil)
			return
		}
		c.Next()
	}
}

func (s *Server) tokenValid(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

// requireJSON rejects mutation bodies with the wrong content type. GET and
// DELETE carry no body and pass through.
func requireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPatch, http.MethodPut:
			ct := c.ContentType()
			if ct != "application/json" && ct != "" {
				writeError(c, http.StatusUnsupportedMediaType, codeInvalidInput,
					"content type must be application/json", nil)
				return
			}
		}
		c.Next()
	}
}

// limitBody wraps every request body in a MaxBytesReader so oversized
// payloads fail during decoding instead of being buffered.
func limitBody(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}

// rateLimit applies a process-wide token bucket. Single-tenant hub, so one
// bucket is enough; burst matches one second of sustained rate.
func rateLimit(rps float64) gin.HandlerFunc {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			writeError(c, http.StatusTooManyRequests, codeRateLimited,
				"rate limit exceeded", map[string]any{"retry_after": 1})
			return
		}
		c.Next()
	}
}
