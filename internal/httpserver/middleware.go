package httpserver

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/ratelimit"
	"storefront/internal/session"
	"storefront/internal/validate"
)

const (
	requestIDHeader = "X-Request-Id"
	requestIDLimit  = 128

	ctxRequestID = "req_id"
	ctxSession   = "session"
)

var (
	reqSeq    int64
	reqPrefix string
)

func init() {
	var buf [12]byte
	var b64 string
	for len(b64) < 10 {
		_, _ = rand.Read(buf[:])
		b64 = base64.StdEncoding.EncodeToString(buf[:])
		b64 = strings.NewReplacer("+", "", "/", "").Replace(b64)
	}
	reqPrefix = b64[:10]
}

// requestID keeps the caller's X-Request-Id or assigns one, and echoes it back.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = fmt.Sprintf("%s-%d", reqPrefix, atomic.AddInt64(&reqSeq, 1))
		} else if len(id) > requestIDLimit {
			id = id[:requestIDLimit]
		}
		c.Set(ctxRequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"req_id":     c.GetString(ctxRequestID),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"remoteaddr": c.ClientIP(),
			"statuscode": c.Writer.Status(),
			"bytes":      c.Writer.Size(),
			"since":      time.Since(start).Nanoseconds(),
		}).Info("completed")
	}
}

// rateLimit rejects clients that exceed l. A nil limiter lets everything through.
func rateLimit(l *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l != nil && !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: "Too many attempts. Please try again later."})
			return
		}
		c.Next()
	}
}

// bearerToken reads the session token from the Authorization header. Browsers cannot set
// headers on websocket upgrades, so the access_token query parameter is accepted too.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("access_token")
}

// requireSession runs the session guard and stores the session for the handlers.
func (a *api) requireSession(c *gin.Context) {
	sc, d, err := a.deps.Guard.Check(c.Request.Context(), bearerToken(c))
	if err != nil {
		a.writeError(c, err)
		c.Abort()
		return
	}
	if !d.Allow {
		c.AbortWithStatusJSON(http.StatusUnauthorized, deniedResponse{
			Error:      denialMessage(d),
			RedirectTo: d.RedirectTo,
		})
		return
	}
	c.Set(ctxSession, sc)
	c.Next()
}

func denialMessage(d session.Decision) string {
	if d.Message != "" {
		return d.Message
	}
	return "Please sign in to continue."
}

func requireAdmin(c *gin.Context) {
	if !currentSession(c).IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: domain.ErrForbidden.Error()})
		return
	}
	c.Next()
}

func currentSession(c *gin.Context) session.Context {
	sc, _ := c.MustGet(ctxSession).(session.Context)
	return sc
}

func checkFlowID(c *gin.Context) {
	if err := validate.CheckID(c.Param("flowId")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	c.Next()
}
