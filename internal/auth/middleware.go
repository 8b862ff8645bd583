package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"slimtax/internal/models"
)

const sessionContextKey = "auth_session"

// Middleware rejects requests without a valid session with 401 and stores the
// session in the gin context otherwise. Lookup failures are treated the same
// as a missing session.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := s.SessionFromRequest(c.Request)
		if err != nil {
			if !errors.Is(err, ErrNoSession) {
				s.log.Warn("session lookup failed", zap.Error(err))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

// SessionFromContext retrieves the session stored by Middleware.
func SessionFromContext(c *gin.Context) (*models.Session, bool) {
	val, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	sess, ok := val.(*models.Session)
	return sess, ok && sess != nil
}
