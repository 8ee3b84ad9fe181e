package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-modifier/internal/pkg/common"
)

// Deduplicator 拒絕時間窗內重複送出的相同 POST 請求，避免同一修改被連點送出兩次
type Deduplicator struct {
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	requests map[string]time.Time
	sweeps   int
}

// NewDeduplicator 創建去重器，window 小於等於 0 時使用 1 秒
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = time.Second
	}
	return &Deduplicator{
		window:   window,
		now:      time.Now,
		requests: make(map[string]time.Time),
	}
}

// seen 記錄指紋，時間窗內已出現過時回傳 true
func (d *Deduplicator) seen(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.requests[fingerprint]; ok && now.Sub(last) <= d.window {
		return true
	}
	d.requests[fingerprint] = now

	// 每 256 次寫入清理一次過期指紋
	d.sweeps++
	if d.sweeps%256 == 0 {
		for k, t := range d.requests {
			if now.Sub(t) > d.window {
				delete(d.requests, k)
			}
		}
	}
	return false
}

// Middleware 只處理 POST，指紋為 path、API key 與請求體雜湊
func (d *Deduplicator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		h := sha256.New()
		h.Write([]byte(c.Request.URL.Path))
		h.Write([]byte{0})
		h.Write([]byte(c.GetHeader(APIKeyHeader)))
		h.Write([]byte{0})

		if c.Request.Body != nil {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				common.LogWarn("Failed to read request body", zap.Error(err))
				common.WriteError(c, common.NewError("REQUEST_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge, err))
				return
			}
			h.Write(body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		if d.seen(hex.EncodeToString(h.Sum(nil))) {
			common.LogInfo("Duplicate request rejected",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
			common.WriteError(c, common.ErrTooManyRequests)
			return
		}

		c.Next()
	}
}
