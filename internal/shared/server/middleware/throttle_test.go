package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

var throttleEpoch = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

func throttledRouter(opts ThrottleOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Throttle(opts))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/api/informe/:id", ok)
	r.POST("/api/emprendedor", ok)
	r.GET("/health", ok)
	return r
}

func hit(r http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestThrottlePollingGroupHasOwnQuota(t *testing.T) {
	now := throttleEpoch
	r := throttledRouter(ThrottleOptions{
		Buckets: NewBuckets(func() time.Time { return now }),
		Classify: func(c *gin.Context) string {
			if c.FullPath() == "/api/informe/:id" {
				return GroupPolling
			}
			return GroupDefault
		},
		Quotas: map[string]Quota{
			GroupDefault: {PerSecond: 1, Burst: 2},
			GroupPolling: {PerSecond: 5, Burst: 10},
		},
	})

	for i := 0; i < 5; i++ {
		if code := hit(r, http.MethodGet, "/api/informe/e1", "").Code; code != http.StatusOK {
			t.Fatalf("poll %d: expected 200, got %d", i+1, code)
		}
	}
	for i := 0; i < 2; i++ {
		if code := hit(r, http.MethodPost, "/api/emprendedor", "").Code; code != http.StatusOK {
			t.Fatalf("create %d: expected 200, got %d", i+1, code)
		}
	}
	if code := hit(r, http.MethodPost, "/api/emprendedor", "").Code; code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the default bucket is empty, got %d", code)
	}

	now = now.Add(time.Second)
	if code := hit(r, http.MethodPost, "/api/emprendedor", "").Code; code != http.StatusOK {
		t.Fatalf("expected a refilled token after 1s, got %d", code)
	}
}

func TestThrottleRejectionCarriesRetryAfter(t *testing.T) {
	now := throttleEpoch
	r := throttledRouter(ThrottleOptions{
		Buckets: NewBuckets(func() time.Time { return now }),
		Quotas:  map[string]Quota{GroupDefault: {PerSecond: 0.5, Burst: 1}},
	})

	if code := hit(r, http.MethodGet, "/api/informe/e1", "").Code; code != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", code)
	}
	resp := hit(r, http.MethodGet, "/api/informe/e1", "")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if got := resp.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}

	var body struct {
		Success  bool           `json:"success"`
		Code     string         `json:"code"`
		Detalles map[string]any `json:"detalles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Code != "rate_limited" {
		t.Fatalf("unexpected envelope %+v", body)
	}
	if body.Detalles["retryAfterMs"] != float64(2000) || body.Detalles["grupo"] != GroupDefault {
		t.Fatalf("unexpected detalles %+v", body.Detalles)
	}
}

func TestThrottleSeparatesCallers(t *testing.T) {
	r := throttledRouter(ThrottleOptions{
		Buckets: NewBuckets(func() time.Time { return throttleEpoch }),
		Quotas:  map[string]Quota{GroupDefault: {PerSecond: 1, Burst: 1}},
	})
	for _, addr := range []string{"10.0.0.1:1234", "10.0.0.2:1234"} {
		if code := hit(r, http.MethodGet, "/api/informe/e1", addr).Code; code != http.StatusOK {
			t.Fatalf("caller %s: expected 200, got %d", addr, code)
		}
	}
	if code := hit(r, http.MethodGet, "/api/informe/e1", "10.0.0.1:1234").Code; code != http.StatusTooManyRequests {
		t.Fatalf("expected the first caller to be throttled, got %d", code)
	}
}

func TestThrottleSkipsGroupsWithoutQuota(t *testing.T) {
	r := throttledRouter(ThrottleOptions{
		Buckets:  NewBuckets(func() time.Time { return throttleEpoch }),
		Classify: func(*gin.Context) string { return GroupUnlimited },
		Quotas:   map[string]Quota{GroupDefault: {PerSecond: 1, Burst: 1}},
	})
	for i := 0; i < 10; i++ {
		if code := hit(r, http.MethodGet, "/health", "").Code; code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, code)
		}
	}
}

func TestBucketsPruneDropsIdle(t *testing.T) {
	now := throttleEpoch
	b := NewBuckets(func() time.Time { return now })
	b.Take("a|DEFAULT", Quota{PerSecond: 1, Burst: 1})
	b.Take("b|DEFAULT", Quota{PerSecond: 1, Burst: 1})

	now = now.Add(time.Minute)
	b.Take("b|DEFAULT", Quota{PerSecond: 1, Burst: 1})

	now = now.Add(5 * time.Minute)
	if n := b.Prune(5*time.Minute + 30*time.Second); n != 1 {
		t.Fatalf("expected 1 bucket pruned, got %d", n)
	}
	if b.Len() != 1 {
		t.Fatalf("expected the recently used bucket to remain, got %d", b.Len())
	}
}
