package pipeline

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nao1215/foodgate/internal/gateway/policy"
	"github.com/nao1215/foodgate/internal/gateway/route"
)

// Outcome はリクエストの終端の結果。メトリクスと監査ログのラベルに使う。
type Outcome string

const (
	// OutcomeForwarded はバックエンドに転送したことを表す。
	OutcomeForwarded Outcome = "forwarded"
	// OutcomeRouteNotFound はルートが見つからなかったことを表す。
	OutcomeRouteNotFound Outcome = "route_not_found"
	// OutcomeAuthorizationDenied は認可により拒否したことを表す。
	OutcomeAuthorizationDenied Outcome = "authorization_denied"
	// OutcomeInvalidPath は不正なパスとして拒否したことを表す。
	OutcomeInvalidPath Outcome = "invalid_path"
	// OutcomeDispatchFailed は転送に失敗したことを表す。
	OutcomeDispatchFailed Outcome = "dispatch_failed"
)

// Metrics はパイプラインのPrometheusメトリクス。
type Metrics struct {
	decisions *prometheus.CounterVec
	tokens    *prometheus.CounterVec
	dispatch  *prometheus.HistogramVec
}

// NewMetrics はメトリクスを生成し、regがnilでなければ登録する。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "decisions_total",
				Help:      "Total number of gateway decisions by terminal outcome",
			},
			[]string{"outcome"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "token_validations_total",
				Help:      "Total number of bearer token checks by result",
			},
			[]string{"result"},
		),
		dispatch: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Name:      "dispatch_duration_seconds",
				Help:      "Backend dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"target", "status"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.decisions, m.tokens, m.dispatch)
	}

	// 起動直後から /metrics に現れるよう、既知のラベルを0で初期化する。
	for _, o := range []Outcome{OutcomeForwarded, OutcomeRouteNotFound, OutcomeAuthorizationDenied, OutcomeInvalidPath, OutcomeDispatchFailed} {
		m.decisions.WithLabelValues(string(o))
	}
	for _, s := range []policy.TokenStatus{policy.TokenAbsent, policy.TokenMalformedHeader, policy.TokenValid, policy.TokenInvalid} {
		m.tokens.WithLabelValues(string(s))
	}
	return m
}

func (m *Metrics) observeDecision(o Outcome) {
	m.decisions.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) observeToken(s policy.TokenStatus) {
	if s == "" || s == policy.TokenNotChecked {
		return
	}
	m.tokens.WithLabelValues(string(s)).Inc()
}

// observeDispatch はstatusが0の場合（通信エラー）は "error" として記録する。
func (m *Metrics) observeDispatch(target route.ServiceID, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.dispatch.WithLabelValues(string(target), label).Observe(d.Seconds())
}
