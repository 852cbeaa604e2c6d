// Package config はゲートウェイの設定をYAMLから読み込み、
// 起動時に一度だけルーティングテーブルとポリシーテーブルを組み立てる。
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/foodgate/internal/gateway/policy"
	"github.com/nao1215/foodgate/pkg/logging"
	"github.com/nao1215/foodgate/pkg/middleware"
)

//go:embed default.yaml
var defaultYAML []byte

// Config はゲートウェイ全体の設定。
type Config struct {
	// Server はHTTPサーバーとゲートウェイ自身の情報。
	Server ServerConfig `yaml:"server"`
	// Log はロガーの設定。
	Log logging.Config `yaml:"log"`
	// Auth はトークン検証の設定。
	Auth AuthConfig `yaml:"auth"`
	// CORS はクロスオリジンリクエストの設定。
	CORS CORSConfig `yaml:"cors"`
	// ForwardTimeout はバックエンドへの1回の転送のタイムアウト。
	ForwardTimeout time.Duration `yaml:"forward_timeout"`
	// Services はサービスIDとベースURLの対応表。
	Services map[string]string `yaml:"services"`
	// Routes はルーティング定義。宣言順に評価される。
	Routes []RouteConfig `yaml:"routes"`
	// Policies は認可ポリシー定義。宣言順に評価される。
	Policies []PolicyConfig `yaml:"policies"`
	// Audit は判断の監査ログの設定。
	Audit AuditConfig `yaml:"audit"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	Port            string        `yaml:"port"`
	Name            string        `yaml:"name"`
	Version         string        `yaml:"version"`
	Description     string        `yaml:"description"`
	Environment     string        `yaml:"environment"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig はトークン検証の設定。
type AuthConfig struct {
	// JWTSecret はHMAC署名の検証に使う共有秘密鍵。
	JWTSecret string `yaml:"jwt_secret"`
	// Issuer は期待するissクレーム。空の場合は検証しない。
	Issuer string `yaml:"issuer"`
}

// CORSConfig はクロスオリジンリクエストの設定。
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age"`
}

// Middleware はミドルウェア用の設定に変換する。
func (c CORSConfig) Middleware() middleware.CORSConfig {
	return middleware.CORSConfig{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
		MaxAge:           c.MaxAge,
	}
}

// RouteConfig は1つのルート定義。複数のパスは同じIDの連続したルートに展開される。
type RouteConfig struct {
	ID                    string   `yaml:"id"`
	Paths                 []string `yaml:"paths"`
	Methods               []string `yaml:"methods"`
	Target                string   `yaml:"target"`
	RemoveResponseHeaders []string `yaml:"remove_response_headers"`
}

// PolicyConfig は1つのポリシー定義。複数のパスは連続したルールに展開される。
type PolicyConfig struct {
	Paths   []string `yaml:"paths"`
	Methods []string `yaml:"methods"`
	// Access は public または authenticated。
	Access string `yaml:"access"`
}

// AuditConfig は監査ログの設定。
type AuditConfig struct {
	// DSN はSQLiteの接続文字列。空の場合は監査ログを記録しない。
	DSN string `yaml:"dsn"`
	// QueueSize は書き込み待ちのキューの長さ。満杯の場合はリクエスト処理中に同期的に書き込む。
	QueueSize int `yaml:"queue_size"`
}

// Default は組み込みのデフォルト設定を返す。
func Default() (*Config, error) {
	cfg, err := decode(bytes.NewReader(defaultYAML))
	if err != nil {
		return nil, fmt.Errorf("デフォルト設定の読み込みに失敗: %w", err)
	}
	return cfg, nil
}

// Load はpathのYAMLファイルを読み込む。pathが空の場合はデフォルト設定を返す。
// ファイルで省略されたセクションはデフォルト設定の値を使う。
func Load(path string) (*Config, error) {
	def, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return def, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルのオープンに失敗: %w", err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
	}
	cfg.fillFrom(def)
	return cfg, nil
}

// decode は未知のキーを許さずにYAMLを読み込む。
func decode(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

// fillFrom は未設定の項目をdefの値で埋める。
func (c *Config) fillFrom(def *Config) {
	setIfEmpty(&c.Server.Port, def.Server.Port)
	setIfEmpty(&c.Server.Name, def.Server.Name)
	setIfEmpty(&c.Server.Version, def.Server.Version)
	setIfEmpty(&c.Server.Description, def.Server.Description)
	setIfEmpty(&c.Server.Environment, def.Server.Environment)
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	setIfEmpty(&c.Log.Level, def.Log.Level)
	setIfEmpty(&c.Log.Format, def.Log.Format)
	setIfEmpty(&c.Log.Output, def.Log.Output)
	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS = def.CORS
	}
	if c.ForwardTimeout == 0 {
		c.ForwardTimeout = def.ForwardTimeout
	}
	if len(c.Services) == 0 {
		c.Services = def.Services
	}
	if len(c.Routes) == 0 {
		c.Routes = def.Routes
	}
	if len(c.Policies) == 0 {
		c.Policies = def.Policies
	}
	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = def.Audit.QueueSize
	}
}

// ApplyEnv は環境変数で設定を上書きする。getenvには通常os.Getenvを渡す。
func (c *Config) ApplyEnv(getenv func(string) string) {
	setIfPresent(&c.Server.Port, getenv("PORT"))
	setIfPresent(&c.Auth.JWTSecret, getenv("JWT_SECRET"))
	setIfPresent(&c.Log.Level, getenv("LOG_LEVEL"))
	setIfPresent(&c.Audit.DSN, getenv("AUDIT_DSN"))
}

// Validate は設定の整合性を検証し、見つかった問題をまとめて返す。
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port が空です"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret が空です（JWT_SECRET で指定できます）"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(c.Routes) == 0 {
		errs = append(errs, errors.New("routes が空です"))
	}
	for i, r := range c.Routes {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("routes[%d].id が空です", i))
		}
		if len(r.Paths) == 0 {
			errs = append(errs, fmt.Errorf("routes[%d] (%s) の paths が空です", i, r.ID))
		}
		if _, ok := c.Services[r.Target]; !ok {
			errs = append(errs, fmt.Errorf("routes[%d] (%s) の target %q が services に存在しません", i, r.ID, r.Target))
		}
	}
	if len(c.Policies) == 0 {
		errs = append(errs, errors.New("policies が空です"))
	}
	for i, p := range c.Policies {
		if len(p.Paths) == 0 {
			errs = append(errs, fmt.Errorf("policies[%d] の paths が空です", i))
		}
		if _, err := policy.ParseRequirement(p.Access); err != nil {
			errs = append(errs, fmt.Errorf("policies[%d]: %w", i, err))
		}
	}
	if c.Audit.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audit.queue_size は0以上にしてください: %d", c.Audit.QueueSize))
	}
	return errors.Join(errs...)
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setIfPresent(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
