package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limitedRouter serves GET /ping behind rl. A request carrying X-Test-User
// is treated as that signed-in user.
func limitedRouter(rl *RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Header(requestIDHeader, "rid-rl")
		if u := c.GetHeader("X-Test-User"); u != "" {
			c.Set(userIDKey, u)
		}
		if c.GetHeader("X-Test-Replay") != "" {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	})
	r.Use(rl.Handler())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func hit(r http.Handler, ip, user string, replay bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = ip + ":5000"
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	if replay {
		req.Header.Set("X-Test-Replay", "1")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "198.51.100.7:40000"

	key := KeyByUserOrIP()
	if got := key(c); got != "ip:198.51.100.7" {
		t.Fatalf("guest key = %q", got)
	}
	c.Set(userIDKey, "kid-42")
	if got := key(c); got != "user:kid-42" {
		t.Fatalf("user key = %q", got)
	}
}

func TestRateLimiter_SeparateBuckets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := limitedRouter(NewRateLimiter(0.001, 1, KeyByUserOrIP()))

	if w := hit(r, "10.0.0.1", "", false); w.Code != http.StatusOK {
		t.Fatalf("first guest request = %d", w.Code)
	}
	if w := hit(r, "10.0.0.1", "", false); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second guest request = %d", w.Code)
	}
	// same address, but signed in: own bucket
	if w := hit(r, "10.0.0.1", "kid-1", false); w.Code != http.StatusOK {
		t.Fatalf("signed-in request = %d", w.Code)
	}
	if w := hit(r, "10.0.0.2", "", false); w.Code != http.StatusOK {
		t.Fatalf("other guest request = %d", w.Code)
	}
}

func TestRateLimiter_RejectionEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := limitedRouter(NewRateLimiter(0.5, 1, KeyByUserOrIP()))

	hit(r, "10.0.0.3", "", false)
	w := hit(r, "10.0.0.3", "", false)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q, want 2", got)
	}

	var body struct {
		Success   bool   `json:"success"`
		RequestID string `json:"request_id"`
		Code      string `json:"code"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Code != "rate_limited" || body.RequestID != "rid-rl" || body.Message == "" {
		t.Fatalf("body = %+v", body)
	}
}

func TestRateLimiter_ReplayNotLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := limitedRouter(NewRateLimiter(0.001, 1, KeyByUserOrIP()))

	hit(r, "10.0.0.4", "", false)
	for i := 0; i < 3; i++ {
		if w := hit(r, "10.0.0.4", "", true); w.Code != http.StatusOK {
			t.Fatalf("replay %d = %d", i, w.Code)
		}
	}
}

func TestIsRateBypass(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if IsRateBypass(c) {
		t.Fatal("unset flag reads true")
	}
	c.Set(ctxKeyRateBypass, "true")
	if IsRateBypass(c) {
		t.Fatal("non-bool flag reads true")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatal("flag not seen")
	}
}

func TestRateLimiter_EvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 0, KeyByUserOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst = %d, want 1", rl.burst)
	}
	if a, b := rl.getVisitor("user:a"), rl.getVisitor("user:a"); a != b {
		t.Fatal("bucket not reused")
	}

	rl.mu.Lock()
	rl.visitors["ip:stale"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now().Add(-time.Hour)}
	rl.cleanupN = sweepEvery - 1
	rl.mu.Unlock()

	rl.getVisitor("user:b")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["ip:stale"]; ok {
		t.Fatal("stale bucket kept")
	}
	if _, ok := rl.visitors["user:a"]; !ok {
		t.Fatal("fresh bucket evicted")
	}
}
