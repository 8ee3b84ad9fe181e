package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-modifier/internal/pkg/common"
)

// bucket 單一用戶端的令牌桶
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// RateLimiter 依用戶端 IP 分別計算的令牌桶限流器
type RateLimiter struct {
	mu       sync.Mutex
	capacity float64
	rate     float64
	window   time.Duration
	now      func() time.Time
	buckets  map[string]*bucket
}

// NewRateLimiter 每個用戶端在 window 內最多 requests 次
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		capacity: float64(requests),
		rate:     float64(requests) / window.Seconds(),
		window:   window,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
}

// Allow 檢查 key 是否還有可用令牌
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		rl.evict(now)
		b = &bucket{tokens: rl.capacity, lastSeen: now}
		rl.buckets[key] = b
	}

	b.tokens = min(rl.capacity, b.tokens+now.Sub(b.lastSeen).Seconds()*rl.rate)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// evict 移除閒置超過一個時間窗的用戶端，此時其令牌已補滿
func (rl *RateLimiter) evict(now time.Time) {
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.window {
			delete(rl.buckets, k)
		}
	}
}

// RateLimit 限流中間件
func RateLimit(requests int, window time.Duration) gin.HandlerFunc {
	limiter := NewRateLimiter(requests, window)
	return limiter.Middleware()
}

// Middleware 超過限制時回傳 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			common.LogInfo("Rate limit exceeded",
				zap.String("ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
			)
			c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			common.WriteError(c, common.ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
