package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/askwhyharsh/familycircle/internal/metrics"
	"github.com/askwhyharsh/familycircle/internal/session"
	apperrors "github.com/askwhyharsh/familycircle/pkg/errors"
	"github.com/askwhyharsh/familycircle/pkg/logger"
)

const (
	sessionHeader = "X-Session-ID"
	ctxUserID     = "user_id"
	ctxSessionID  = "session_id"
)

type SessionMiddleware struct {
	sessions session.SessionService
	logger   logger.Logger
}

func NewSessionMiddleware(sessions session.SessionService, log logger.Logger) *SessionMiddleware {
	return &SessionMiddleware{
		sessions: sessions,
		logger:   log,
	}
}

// RequireSession rejects requests without a valid session.
func (m *SessionMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := m.load(c); err != nil {
			status, code := statusFor(err)
			if status == http.StatusInternalServerError {
				m.logger.Error("Failed to load session", "error", err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable,
					ErrorResponse(apperrors.ErrStoreUnavailable.Error(), "STORE_UNAVAILABLE"))
				return
			}
			c.AbortWithStatusJSON(status, ErrorResponse(err.Error(), code))
			return
		}
		c.Next()
	}
}

// OptionalSession resolves the session when one is presented and carries
// on anonymously otherwise.
func (m *SessionMiddleware) OptionalSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := m.load(c); err != nil && !errors.Is(err, apperrors.ErrSessionNotFound) {
			m.logger.Debug("Ignoring unusable session", "error", err)
		}
		c.Next()
	}
}

func (m *SessionMiddleware) load(c *gin.Context) error {
	sessionID := c.GetHeader(sessionHeader)
	if sessionID == "" {
		// browsers cannot set headers on a WebSocket handshake
		sessionID = c.Query("session_id")
	}
	if sessionID == "" {
		return apperrors.ErrSessionNotFound
	}

	ctx := c.Request.Context()
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := m.sessions.Touch(ctx, sessionID); err != nil {
		m.logger.Debug("Failed to refresh session", "session_id", sessionID, "error", err)
	}

	c.Set(ctxSessionID, sess.ID)
	c.Set(ctxUserID, sess.UserID)
	return nil
}

func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", sessionHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = allowedOrigins
	}

	return cors.New(cfg)
}

// RequestLogger logs one line per request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}

// RequestMetrics observes request latency labelled by route template.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordAPIRequest(c.Request.Method, endpoint, c.Writer.Status(), time.Since(start))
	}
}
