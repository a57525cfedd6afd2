package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/fortressi/sellerhub/metrics"
)

// userIDKey holds the authenticated subject on the gin context.
const userIDKey = "userID"

func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}

func requestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		done := m.RequestStarted()
		c.Next()
		done(c.Request.Method, c.FullPath(), c.Writer.Status())
	}
}

// limiterSweepEvery is how often allow looks for idle buckets to drop.
const limiterSweepEvery = time.Minute

// ipLimiter keeps one token bucket per client IP. Buckets idle long enough
// to have refilled are dropped, since a fresh bucket behaves the same.
type ipLimiter struct {
	limit   rate.Limit
	burst   int
	idle    time.Duration
	buckets *xsync.MapOf[string, *ipBucket]
	now     func() time.Time

	lastSweep atomic.Int64
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}

	idle := limiterSweepEvery
	if limit != rate.Inf {
		if refill := time.Duration(float64(burst) / perSecond * float64(time.Second)); refill > idle {
			idle = refill
		}
	}

	l := &ipLimiter{
		limit:   limit,
		burst:   burst,
		idle:    idle,
		buckets: xsync.NewMapOf[string, *ipBucket](),
		now:     time.Now,
	}
	l.lastSweep.Store(l.now().UnixNano())
	return l
}

func (l *ipLimiter) allow(ip string) bool {
	now := l.now()
	l.maybeSweep(now)

	b, _ := l.buckets.LoadOrCompute(ip, func() *ipBucket {
		return &ipBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
	})
	b.lastSeen.Store(now.UnixNano())
	return b.limiter.AllowN(now, 1)
}

func (l *ipLimiter) maybeSweep(now time.Time) {
	last := l.lastSweep.Load()
	if now.UnixNano()-last < int64(limiterSweepEvery) {
		return
	}
	if l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		l.cleanup(now)
	}
}

// cleanup drops buckets not used within the idle window.
func (l *ipLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.idle).UnixNano()
	l.buckets.Range(func(ip string, _ *ipBucket) bool {
		l.buckets.Compute(ip, func(b *ipBucket, loaded bool) (*ipBucket, bool) {
			return b, loaded && b.lastSeen.Load() < cutoff
		})
		return true
	})
}

func (l *ipLimiter) size() int {
	return l.buckets.Size()
}

func (l *ipLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}

// requireAuth verifies the bearer token locally with the shared JWT secret
// and stores its subject on the context.
func requireAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		userID, err := verifyToken(secret, parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func verifyToken(secret, token string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("no jwt secret configured")
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("jwt parse: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("jwt invalid")
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", fmt.Errorf("jwt has no subject")
	}
	return sub, nil
}
