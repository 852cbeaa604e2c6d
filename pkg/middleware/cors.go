package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSConfig はクロスオリジンリクエストの許可設定。
type CORSConfig struct {
	// AllowOrigins は許可するオリジン。
	AllowOrigins []string
	// AllowMethods は許可するHTTPメソッド。
	AllowMethods []string
	// AllowHeaders は許可するリクエストヘッダー。
	AllowHeaders []string
	// ExposeHeaders はブラウザに公開するレスポンスヘッダー。
	ExposeHeaders []string
	// AllowCredentials はCookie等の資格情報の送信を許可するかどうか。
	AllowCredentials bool
	// MaxAge はプリフライト結果のキャッシュ期間。
	MaxAge time.Duration
}

// CORS は設定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// プリフライトリクエストは後続のハンドラに渡さず、許可されたオリジンなら204、それ以外は403を返す。
func CORS(cfg CORSConfig) gin.HandlerFunc {
	originsSet := make(map[string]struct{}, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		originsSet[o] = struct{}{}
	}
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	exposed := strings.Join(cfg.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		c.Writer.Header().Add("Vary", "Origin")

		_, allowed := originsSet[origin]
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""

		if !allowed {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		if cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if exposed != "" {
			c.Header("Access-Control-Expose-Headers", exposed)
		}

		if preflight {
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
