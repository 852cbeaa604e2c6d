// Package pipeline はゲートウェイの1リクエストの処理順序を状態機械として実装する。
//
// Received → RouteResolved → PolicyEvaluated → (Forwarded | Rejected)
//
// ルート解決と認可判断の両方が終わってから転送する。各遷移は1リクエストにつき1度だけで、
// パイプライン内での再試行は行わない。転送前にリクエストのキャンセルを検知した場合は
// 副作用なしに中断する。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/foodgate/internal/audit"
	"github.com/nao1215/foodgate/internal/gateway/policy"
	"github.com/nao1215/foodgate/internal/gateway/route"
	"github.com/nao1215/foodgate/pkg/auth"
)

const (
	// HeaderRequestID はリクエストIDを伝播するためのHTTPヘッダーキー。
	HeaderRequestID = "X-Request-ID"
	// HeaderUserID は検証済みのsubjectを内部サービスに伝播するためのHTTPヘッダーキー。
	HeaderUserID = "X-User-Id"
	// HeaderUserEmail は検証済みのメールアドレスを伝播するためのHTTPヘッダーキー。
	HeaderUserEmail = "X-User-Email"
	// HeaderUserRole は検証済みのロールを伝播するためのHTTPヘッダーキー。
	HeaderUserRole = "X-User-Role"
)

// Dispatcher は転送先サービスにリクエストを送り、レスポンスを返す外部の協調者。
// サービスの所在解決やネットワーク通信はDispatcherの責務。
type Dispatcher interface {
	Dispatch(ctx context.Context, target route.ServiceID, r *http.Request, identity *auth.Identity) (*http.Response, error)
}

// Option はPipelineの設定を変更する。
type Option func(*Pipeline)

// WithLogger はロガーを設定する。
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics はメトリクスを設定する。
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithRecorder は監査ログの記録先を設定する。
func WithRecorder(r audit.Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// Pipeline はルート解決・認可判断・転送を順に行う。
// 保持するのは起動時に作られた読み取り専用の部品だけで、複数のリクエストから同時に使用できる。
type Pipeline struct {
	resolver   *route.Resolver
	gate       *policy.Gate
	dispatcher Dispatcher
	recorder   audit.Recorder
	metrics    *Metrics
	logger     *zap.Logger
}

// New は新しいPipelineを生成する。
func New(resolver *route.Resolver, gate *policy.Gate, dispatcher Dispatcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver:   resolver,
		gate:       gate,
		dispatcher: dispatcher,
		recorder:   audit.Nop{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	p.logger = p.logger.Named("pipeline")
	return p
}

// Evaluate はルート解決とポリシー評価を行う。
//
// 転送してよい場合はStatePolicyEvaluatedのRequestContextとnilを返す。
// 拒否した場合はStateRejectedのRequestContextと*RejectionErrorを返す。
// "." や ".." のセグメントを含むパスは、ルート解決もポリシー評価もせずに拒否する。
// ctxがキャンセルされた場合はctx.Err()を返し、何も記録しない。
func (p *Pipeline) Evaluate(ctx context.Context, r *http.Request) (*RequestContext, error) {
	rc := &RequestContext{
		RequestID: requestID(r),
		Method:    r.Method,
		Path:      r.URL.Path,
		State:     StateReceived,
	}
	if err := ctx.Err(); err != nil {
		return rc, err
	}
	if hasDotSegment(rc.Path) {
		return rc, p.reject(ctx, rc, KindInvalidPath, nil)
	}

	rt, err := p.resolver.Resolve(rc.Path, rc.Method)
	if err != nil {
		if !errors.Is(err, route.ErrNotFound) {
			return rc, fmt.Errorf("ルート解決に失敗: %w", err)
		}
		return rc, p.reject(ctx, rc, KindRouteNotFound, err)
	}
	rc.Route = &rt
	if err := rc.advance(StateRouteResolved); err != nil {
		return rc, err
	}

	if err := ctx.Err(); err != nil {
		return rc, err
	}

	d, err := p.gate.Evaluate(rc.Path, rc.Method, r.Header.Get("Authorization"))
	if err != nil {
		return rc, fmt.Errorf("認可の評価に失敗: %w", err)
	}
	rc.Rule = &d.Rule
	rc.Identity = d.Identity
	rc.Token = d.Token
	p.metrics.observeToken(d.Token)
	if err := rc.advance(StatePolicyEvaluated); err != nil {
		return rc, err
	}

	if !d.Allowed() {
		return rc, p.reject(ctx, rc, KindAuthorizationDenied, nil)
	}
	return rc, nil
}

// Forward はEvaluateで許可されたリクエストを転送先に渡す。
//
// クライアントが送ってきたX-User-*ヘッダーは常に除去し、検証済みの
// アイデンティティがある場合だけ設定し直す。成功時はStateForwardedに遷移する。
func (p *Pipeline) Forward(ctx context.Context, rc *RequestContext, r *http.Request) (*http.Response, error) {
	if rc.State != StatePolicyEvaluated {
		return nil, fmt.Errorf("%s 状態のリクエストは転送できません", rc.State)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if rc.Identity != nil {
		ctx = auth.WithIdentity(ctx, *rc.Identity)
	}
	out := r.Clone(ctx)
	propagateIdentity(out.Header, rc.Identity)
	out.Header.Set(HeaderRequestID, rc.RequestID)

	start := time.Now()
	resp, err := p.dispatcher.Dispatch(ctx, rc.Route.Target, out, rc.Identity)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	p.metrics.observeDispatch(rc.Route.Target, status, time.Since(start))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		p.finish(ctx, rc, OutcomeDispatchFailed)
		p.logger.Warn("バックエンドへの転送に失敗しました",
			zap.String("request_id", rc.RequestID),
			zap.String("route_id", rc.Route.ID),
			zap.String("target", string(rc.Route.Target)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s: %w", ErrDispatch, rc.Route.Target, err)
	}

	if err := rc.advance(StateForwarded); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	p.finish(ctx, rc, OutcomeForwarded)
	return resp, nil
}

// reject はRequestContextを拒否状態にし、記録してRejectionErrorを返す。
func (p *Pipeline) reject(ctx context.Context, rc *RequestContext, kind Kind, cause error) error {
	if err := rc.advance(StateRejected); err != nil {
		return err
	}

	var outcome Outcome
	switch kind {
	case KindRouteNotFound:
		outcome = OutcomeRouteNotFound
	case KindInvalidPath:
		outcome = OutcomeInvalidPath
	default:
		outcome = OutcomeAuthorizationDenied
	}
	p.finish(ctx, rc, outcome)
	p.logger.Debug("リクエストを拒否しました",
		zap.String("request_id", rc.RequestID),
		zap.String("method", rc.Method),
		zap.String("path", rc.Path),
		zap.String("reason", kind.String()),
		zap.String("token", string(rc.Token)),
	)
	return &RejectionError{Kind: kind, Method: rc.Method, Path: rc.Path, Err: cause}
}

// finish は終端の結果をメトリクスと監査ログに記録する。
// 監査ログの失敗はリクエストの結果に影響させない。
func (p *Pipeline) finish(ctx context.Context, rc *RequestContext, outcome Outcome) {
	p.metrics.observeDecision(outcome)

	entry := audit.Entry{
		RequestID:     rc.RequestID,
		Method:        rc.Method,
		Path:          rc.Path,
		Outcome:       string(outcome),
		Authenticated: rc.Authenticated(),
	}
	if rc.Route != nil {
		entry.RouteID = rc.Route.ID
		entry.Target = string(rc.Route.Target)
	}
	if rc.Rule != nil {
		entry.Requirement = rc.Rule.Requirement.String()
	}
	if err := p.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		p.logger.Error("監査ログの記録に失敗しました",
			zap.String("request_id", rc.RequestID),
			zap.Error(err),
		)
	}
}

// propagateIdentity はX-User-*ヘッダーを検証済みのアイデンティティで置き換える。
func propagateIdentity(h http.Header, id *auth.Identity) {
	h.Del(HeaderUserID)
	h.Del(HeaderUserEmail)
	h.Del(HeaderUserRole)
	if id == nil {
		return
	}
	h.Set(HeaderUserID, id.Subject)
	if id.Email != "" {
		h.Set(HeaderUserEmail, id.Email)
	}
	if id.Role != "" {
		h.Set(HeaderUserRole, id.Role)
	}
}

// hasDotSegment はデコード済みのパスに "." または ".." のセグメントがあるかどうかを返す。
// "\" も区切りとして扱う。
func hasDotSegment(path string) bool {
	segs := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })
	for _, seg := range segs {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// requestID はリクエストIDヘッダーを返す。無い場合は新しく採番する。
func requestID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return uuid.New().String()
}
