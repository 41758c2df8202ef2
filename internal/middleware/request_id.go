package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"print_kiosk/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID 为每个请求分配 ID（沿用客户端传入的 X-Request-ID），
// 写入响应头和 request context，日志据此串联。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(requestIDHeader, requestID)
		c.Set(string(logger.RequestIDKey), requestID)

		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetRequestID 取当前请求 ID，未经过 RequestID 中间件时为空。
func GetRequestID(c *gin.Context) string {
	return c.GetString(string(logger.RequestIDKey))
}
