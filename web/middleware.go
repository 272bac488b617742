package web

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"library-ledger/library"
)

// requestLogger tags every request with an id and logs one line when it finishes.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)

		c.Next()

		s.logger.Info("request",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// requireAPI rejects the request with 401 unless the session satisfies req.
func (s *Server) requireAPI(req library.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(sessionCookie)
		id, err := s.mgr.Authorize(c.Request.Context(), token, req)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// requirePage sends unauthorized visitors back to the login page.
func (s *Server) requirePage(req library.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(sessionCookie)
		id, err := s.mgr.Authorize(c.Request.Context(), token, req)
		if errors.Is(err, library.ErrUnauthorized) {
			c.Redirect(http.StatusFound, "/")
			c.Abort()
			return
		}
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identityFrom(c *gin.Context) library.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(library.Identity); ok {
			return id
		}
	}
	return library.Identity{}
}

// limiterIdle is how long a client IP may stay quiet before its bucket is dropped.
// A bucket idle that long has refilled, so a fresh one behaves the same.
const limiterIdle = 10 * time.Minute

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// ipLimiter hands out one token bucket per client IP and sweeps idle ones.
type ipLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	visitors  map[string]*visitor
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limit:     limit,
		burst:     burst,
		idle:      limiterIdle,
		now:       time.Now,
		lastSweep: time.Now(),
		visitors:  make(map[string]*visitor),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		for key, v := range l.visitors {
			if now.Sub(v.seen) >= l.idle {
				delete(l.visitors, key)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

func (l *ipLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.allow(c.ClientIP()) {
			s.logger.Warn("login rate limit exceeded", "client_ip", c.ClientIP(), "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// respondError maps library error classes onto status codes. Internal failures are
// logged and answered with a generic message.
func (s *Server) respondError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal server error"
	switch {
	case errors.Is(err, library.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, library.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, library.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, library.ErrConflict):
		status, msg = http.StatusConflict, err.Error()
	default:
		s.logger.Error("request failed",
			"request_id", c.GetString(requestIDKey),
			"path", c.Request.URL.Path,
			"error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
