// API Gatewayサービスのエントリポイント。
// ルート解決、JWTによる認可判断、内部サービスへの転送を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
//
// 使い方:
//
//	gateway [-config path]             ゲートウェイを起動する
//	gateway [-config path] audit [-n N] 直近の判断の監査ログを表示する
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nao1215/foodgate/internal/audit"
	"github.com/nao1215/foodgate/internal/config"
	"github.com/nao1215/foodgate/internal/gateway"
	"github.com/nao1215/foodgate/internal/gateway/pipeline"
	"github.com/nao1215/foodgate/internal/gateway/policy"
	"github.com/nao1215/foodgate/internal/gateway/route"
	"github.com/nao1215/foodgate/pkg/auth"
	"github.com/nao1215/foodgate/pkg/httpclient"
	"github.com/nao1215/foodgate/pkg/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "設定ファイルのパス（省略時は組み込みのデフォルト設定）")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}
	cfg.ApplyEnv(os.Getenv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flag.Arg(0) == "audit" {
		if err := runAuditCommand(ctx, cfg, flag.Args()[1:]); err != nil {
			log.Fatalf("監査ログの表示に失敗: %v", err)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Gatewayサービスが異常終了しました", zap.Error(err))
	}
}

// run はゲートウェイの部品を組み立て、ctxがキャンセルされるまでサーバーを動かす。
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tables, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("テーブルの構築に失敗: %w", err)
	}
	validator, err := auth.NewValidator(cfg.Auth.JWTSecret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return err
	}
	forwarder, err := httpclient.NewForwarder(cfg.Services, httpclient.WithTimeout(cfg.ForwardTimeout))
	if err != nil {
		return err
	}

	dispatcher := gateway.NewDispatcher(forwarder)
	if err := dispatcher.CheckTargets(tables.Routes.Targets()); err != nil {
		return fmt.Errorf("転送先の確認に失敗: %w", err)
	}

	var recorder audit.Recorder = audit.Nop{}
	if cfg.Audit.DSN != "" {
		store, err := audit.Open(ctx, cfg.Audit.DSN, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		buffered := audit.NewBuffered(store, cfg.Audit.QueueSize, logger)
		defer buffered.Close()
		recorder = buffered
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := pipeline.New(
		route.NewResolver(tables.Routes),
		policy.NewGate(tables.Policies, validator, logger),
		dispatcher,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(pipeline.NewMetrics(reg)),
		pipeline.WithRecorder(recorder),
	)

	server := gateway.NewServer(gateway.Config{
		Port: cfg.Server.Port,
		Info: gateway.Info{
			Name:        cfg.Server.Name,
			Version:     cfg.Server.Version,
			Description: cfg.Server.Description,
			Environment: cfg.Server.Environment,
		},
		CORS:            cfg.CORS.Middleware(),
		Gatherer:        reg,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, p, logger)

	logger.Info("Gatewayサービスを起動します",
		zap.String("port", cfg.Server.Port),
		zap.Int("routes", tables.Routes.Len()),
		zap.Int("policies", tables.Policies.Len()),
		zap.Bool("audit", cfg.Audit.DSN != ""),
	)
	return server.Run(ctx)
}
