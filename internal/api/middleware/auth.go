package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// APIKeyHeader API Key 請求標頭
	APIKeyHeader = "X-API-Key"
	// AuthorizedKey gin.Context 中的授權旗標
	AuthorizedKey = "authorized"
)

// APIKeyAuth 比對 X-API-Key 或 Bearer token 並設定授權旗標
//
// 不會直接拒絕請求，由各個需要授權的操作自行檢查。未設定任何金鑰時所有請求皆視為已授權。
func APIKeyAuth(keys []string) gin.HandlerFunc {
	allowed := make([][]byte, 0, len(keys))
	for _, k := range keys {
		allowed = append(allowed, []byte(k))
	}

	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Set(AuthorizedKey, true)
			c.Next()
			return
		}

		presented := c.GetHeader(APIKeyHeader)
		if presented == "" {
			presented = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		ok := false
		for _, k := range allowed {
			if subtle.ConstantTimeCompare([]byte(presented), k) == 1 {
				ok = true
			}
		}
		c.Set(AuthorizedKey, ok)
		c.Next()
	}
}

// Authorized 取得授權旗標
func Authorized(c *gin.Context) bool {
	return c.GetBool(AuthorizedKey)
}
