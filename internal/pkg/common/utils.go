package common

import (
	"github.com/gin-gonic/gin"
)

// WriteError 寫入統一格式的錯誤響應
func WriteError(c *gin.Context, err error) {
	status := StatusOf(err)
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:    CodeOf(err),
		Message: err.Error(),
	})
}
