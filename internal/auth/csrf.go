package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CSRFMiddleware enforces double-submit CSRF protection for requests that
// authenticate with the session cookie. Login is registered outside this
// middleware, so the first request carries no token.
func (s *Service) CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requiresCSRFCheck(c.Request.Method) || hasBearer(c.GetHeader(s.headerName)) {
			c.Next()
			return
		}
		if reason := s.csrfRejection(c); reason != "" {
			s.logger.Warn("csrf check failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("reason", reason),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid csrf token"})
			return
		}
		c.Next()
	}
}

// csrfRejection names why the request fails the double-submit check, or
// returns "" when header and cookie agree.
func (s *Service) csrfRejection(c *gin.Context) string {
	headerToken := c.GetHeader(s.csrfHeaderName)
	cookieToken, err := c.Cookie(s.csrfCookieName)
	switch {
	case err != nil || cookieToken == "":
		return "missing cookie"
	case headerToken == "":
		return "missing header"
	case headerToken != cookieToken:
		return "token mismatch"
	}
	return ""
}

func hasBearer(header string) bool {
	return strings.HasPrefix(strings.ToLower(header), "bearer ")
}

func requiresCSRFCheck(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
