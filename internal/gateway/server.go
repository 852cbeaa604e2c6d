package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nao1215/foodgate/internal/gateway/pipeline"
	"github.com/nao1215/foodgate/pkg/httpclient"
	"github.com/nao1215/foodgate/pkg/middleware"
)

// statusClientClosedRequest はクライアントが応答を待たずに切断したことを表す非標準のステータス。
const statusClientClosedRequest = 499

// Info はゲートウェイ自身の情報。info/healthエンドポイントで返す。
type Info struct {
	Name        string
	Version     string
	Description string
	Environment string
}

// Config はServerの設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// Info はゲートウェイ自身の情報。
	Info Info
	// CORS はクロスオリジンリクエストの設定。
	CORS middleware.CORSConfig
	// Gatherer は /metrics で公開するメトリクスの収集元。nilの場合は /metrics を公開しない。
	Gatherer prometheus.Gatherer
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration
}

// apiResponse はゲートウェイ自身のエンドポイントのレスポンス形式。
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Server はAPI GatewayのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバーの設定。
	cfg Config
	// pipeline はルート解決・認可判断・転送を行うパイプライン。
	pipeline *pipeline.Pipeline
	// logger はロガー。
	logger *zap.Logger
	// ready はリクエストを受け付けられる状態かどうか。
	ready atomic.Bool
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg Config, p *pipeline.Pipeline, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.AccessLog(logger.Named("access")))
	router.Use(middleware.CORS(cfg.CORS))

	s := &Server{
		router:   router,
		cfg:      cfg,
		pipeline: p,
		logger:   logger,
	}
	s.ready.Store(true)
	s.setupRoutes()

	return s
}

// Handler はサーバーのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるまで待ってからグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	s.ready.Store(false)
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	s.logger.Info("HTTPサーバーを停止します", zap.Duration("timeout", timeout))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTPサーバーが異常終了しました: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// ゲートウェイ自身のエンドポイント（認証不要）
	gw := s.router.Group("/api/gateway")
	{
		gw.GET("/health", s.handleHealth())
		gw.GET("/info", s.handleInfo())
		gw.GET("/ready", s.handleReady())
	}

	if s.cfg.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	// それ以外はすべてパイプラインで処理する
	s.router.NoRoute(s.handlePipeline())
}

// handleHealth はヘルスチェックのハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, apiResponse{
			Success: true,
			Message: "ゲートウェイは正常に稼働しています",
			Data: gin.H{
				"status":    "UP",
				"service":   s.cfg.Info.Name,
				"version":   s.cfg.Info.Version,
				"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
			},
		})
	}
}

// handleInfo はゲートウェイ情報のハンドラを返す。
func (s *Server) handleInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, apiResponse{
			Success: true,
			Message: "ゲートウェイ情報",
			Data: gin.H{
				"name":        s.cfg.Info.Name,
				"version":     s.cfg.Info.Version,
				"description": s.cfg.Info.Description,
				"environment": s.cfg.Info.Environment,
			},
		})
	}
}

// handleReady はレディネスチェックのハンドラを返す。停止処理中は503を返す。
func (s *Server) handleReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		ready := s.ready.Load()
		status := http.StatusOK
		message := "ゲートウェイはリクエストを受け付けられます"
		if !ready {
			status = http.StatusServiceUnavailable
			message = "ゲートウェイは停止処理中です"
		}
		c.JSON(status, apiResponse{
			Success: ready,
			Message: message,
			Data: gin.H{
				"ready":                ready,
				"acceptingConnections": ready,
			},
		})
	}
}

// handlePipeline はパイプラインでリクエストを評価し、許可されたものを内部サービスに転送するハンドラを返す。
func (s *Server) handlePipeline() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		rc, err := s.pipeline.Evaluate(ctx, c.Request)
		if err != nil {
			s.writeError(c, err)
			return
		}

		resp, err := s.pipeline.Forward(ctx, rc, c.Request)
		if err != nil {
			s.writeError(c, err)
			return
		}
		defer resp.Body.Close()

		rc.ShapeResponseHeader(resp.Header)
		httpclient.RemoveHopHeaders(resp.Header)
		copyBackendHeader(c.Writer.Header(), resp.Header)
		c.Status(resp.StatusCode)
		if _, err := io.Copy(c.Writer, resp.Body); err != nil {
			s.logger.Warn("レスポンスの転送に失敗しました",
				zap.String("request_id", rc.RequestID),
				zap.Error(err),
			)
		}
	}
}

// copyBackendHeader はバックエンドのレスポンスヘッダーをdstに追加する。
// CORSとリクエストIDのヘッダーはゲートウェイが設定したものだけを返し、Varyは未設定の値だけを追加する。
func copyBackendHeader(dst, src http.Header) {
	requestIDKey := http.CanonicalHeaderKey(middleware.RequestIDHeader)
	for name, values := range src {
		key := http.CanonicalHeaderKey(name)
		switch {
		case strings.HasPrefix(key, "Access-Control-"), key == requestIDKey:
			continue
		case key == "Vary":
			for _, v := range values {
				if !containsFold(dst.Values("Vary"), v) {
					dst.Add("Vary", v)
				}
			}
		default:
			for _, v := range values {
				dst.Add(key, v)
			}
		}
	}
}

func containsFold(values []string, v string) bool {
	for _, existing := range values {
		if strings.EqualFold(existing, v) {
			return true
		}
	}
	return false
}

// writeError はパイプラインのエラーをHTTPステータスに対応付けて返す。
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pipeline.ErrRouteNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "ルートが見つかりません"})
	case errors.Is(err, pipeline.ErrAuthorizationDenied):
		c.Header("WWW-Authenticate", `Bearer realm="api-gateway"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "認証が必要です"})
	case errors.Is(err, pipeline.ErrInvalidPath):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "不正なリクエストパスです"})
	case errors.Is(err, pipeline.ErrDispatch):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
	case errors.Is(err, context.DeadlineExceeded):
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "リクエストがタイムアウトしました"})
	case errors.Is(err, context.Canceled):
		c.AbortWithStatus(statusClientClosedRequest)
	default:
		s.logger.Error("リクエストの処理に失敗しました",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "内部サーバーエラーが発生しました"})
	}
}
