package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"unicornio-backend/internal/shared/server/respond"
)

// Route groups with their own quota. GroupPolling covers the report status
// route that clients hit on a timer.
const (
	GroupDefault   = "DEFAULT"
	GroupPolling   = "POLLING"
	GroupUnlimited = "UNLIMITED"
)

const msgThrottled = "Demasiadas solicitudes, intenta de nuevo más tarde"

// Quota allows Burst requests at once, refilling PerSecond tokens per second.
type Quota struct {
	PerSecond float64
	Burst     int
}

func (q Quota) unlimited() bool {
	return q.PerSecond <= 0 || q.Burst <= 0
}

// ThrottleOptions configures Throttle. Classify picks the route group and
// Identify the caller; both fall back to GroupDefault and the client IP.
type ThrottleOptions struct {
	Quotas   map[string]Quota
	Classify func(*gin.Context) string
	Identify func(*gin.Context) string
	Buckets  *Buckets
}

// Buckets holds one token bucket per caller and route group.
type Buckets struct {
	mu    sync.Mutex
	byKey map[string]*bucket
	clock func() time.Time
}

type bucket struct {
	tokens   float64
	refilled time.Time
}

// NewBuckets returns an empty store. clock defaults to time.Now.
func NewBuckets(clock func() time.Time) *Buckets {
	if clock == nil {
		clock = time.Now
	}
	return &Buckets{byKey: make(map[string]*bucket), clock: clock}
}

// Throttle answers 429 with Retry-After once a caller drains its group's
// bucket. Groups without a quota are not limited.
func Throttle(opts ThrottleOptions) gin.HandlerFunc {
	buckets := opts.Buckets
	if buckets == nil {
		buckets = NewBuckets(nil)
	}
	return func(c *gin.Context) {
		group := pick(opts.Classify, c, GroupDefault)
		quota, ok := opts.Quotas[group]
		if !ok {
			c.Next()
			return
		}
		caller := pick(opts.Identify, c, strings.TrimSpace(c.ClientIP()))

		wait, ok := buckets.Take(caller+"|"+group, quota)
		if ok {
			c.Next()
			return
		}
		ms := wait.Milliseconds()
		if ms <= 0 {
			ms = 1000
		}
		c.Header("Retry-After", strconv.FormatInt((ms+999)/1000, 10))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", msgThrottled, gin.H{
			"grupo":        group,
			"retryAfterMs": ms,
		})
	}
}

func pick(fn func(*gin.Context) string, c *gin.Context, fallback string) string {
	if fn == nil {
		return fallback
	}
	if v := strings.TrimSpace(fn(c)); v != "" {
		return v
	}
	return fallback
}

// Take spends one token from key's bucket. When the bucket is empty it
// returns how long until the next token.
func (b *Buckets) Take(key string, q Quota) (time.Duration, bool) {
	if b == nil || q.unlimited() {
		return 0, true
	}
	now := b.clock()

	b.mu.Lock()
	defer b.mu.Unlock()
	bk := b.byKey[key]
	if bk == nil {
		bk = &bucket{tokens: float64(q.Burst), refilled: now}
		b.byKey[key] = bk
	}
	if dt := now.Sub(bk.refilled); dt > 0 {
		bk.tokens = math.Min(float64(q.Burst), bk.tokens+dt.Seconds()*q.PerSecond)
		bk.refilled = now
	}
	if bk.tokens >= 1 {
		bk.tokens--
		return 0, true
	}
	return nextToken(bk.tokens, q.PerSecond), false
}

// nextToken rounds up to the millisecond.
func nextToken(tokens, perSecond float64) time.Duration {
	ms := math.Ceil((1 - tokens) / perSecond * 1000)
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Prune forgets buckets untouched for longer than idle and returns how many
// it dropped.
func (b *Buckets) Prune(idle time.Duration) int {
	if b == nil {
		return 0
	}
	now := b.clock()
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for key, bk := range b.byKey {
		if now.Sub(bk.refilled) > idle {
			delete(b.byKey, key)
			n++
		}
	}
	return n
}

// Len reports how many buckets are tracked.
func (b *Buckets) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byKey)
}
