package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader はリクエストIDを伝播するためのHTTPヘッダーキー。
	RequestIDHeader = "X-Request-ID"
	// contextKeyRequestID はGinコンテキストにリクエストIDを格納するためのキー。
	contextKeyRequestID = "request_id"
)

// RequestID はリクエストごとにIDを割り当てるGinミドルウェアを返す。
// クライアントが送ったIDがあればそれを使い、無ければ採番してリクエストとレスポンスの両方に設定する。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
			c.Request.Header.Set(RequestIDHeader, id)
		}
		c.Set(contextKeyRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
func GetRequestID(c *gin.Context) string {
	return c.GetString(contextKeyRequestID)
}
