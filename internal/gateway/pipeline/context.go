package pipeline

import (
	"fmt"
	"net/http"

	"github.com/nao1215/foodgate/internal/gateway/policy"
	"github.com/nao1215/foodgate/internal/gateway/route"
	"github.com/nao1215/foodgate/pkg/auth"
)

// State はパイプライン上のリクエストの状態。
type State string

const (
	// StateReceived はリクエストを受け付けた直後の状態。
	StateReceived State = "received"
	// StateRouteResolved は転送先が決まった状態。
	StateRouteResolved State = "route_resolved"
	// StatePolicyEvaluated はポリシー評価が終わり、転送可能と判断された状態。
	StatePolicyEvaluated State = "policy_evaluated"
	// StateForwarded はバックエンドに転送した終端状態。
	StateForwarded State = "forwarded"
	// StateRejected は拒否した終端状態。
	StateRejected State = "rejected"
)

// transitions は許可される状態遷移。各遷移は1リクエストにつき1度だけ起こる。
var transitions = map[State][]State{
	StateReceived:        {StateRouteResolved, StateRejected},
	StateRouteResolved:   {StatePolicyEvaluated},
	StatePolicyEvaluated: {StateForwarded, StateRejected},
}

// RequestContext は1リクエストの処理中だけ存在する作業領域。
// 作成したリクエストのゴルーチンだけが読み書きする。
type RequestContext struct {
	// RequestID はリクエストID。
	RequestID string
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// Route は解決されたルート。未解決の場合はnil。
	Route *route.Route
	// Rule は適用されたポリシールール。未評価の場合はnil。
	Rule *policy.Rule
	// Identity は検証済みのアイデンティティ。無い場合はnil。
	Identity *auth.Identity
	// Token はトークンの扱い。
	Token policy.TokenStatus
	// State は現在の状態。
	State State
}

// advance は状態を遷移させる。許可されない遷移はエラーにする。
func (rc *RequestContext) advance(to State) error {
	for _, next := range transitions[rc.State] {
		if next == to {
			rc.State = to
			return nil
		}
	}
	return fmt.Errorf("不正な状態遷移です: %s -> %s", rc.State, to)
}

// Terminal は終端状態かどうかを返す。
func (rc *RequestContext) Terminal() bool {
	return rc.State == StateForwarded || rc.State == StateRejected
}

// Authenticated は検証済みのアイデンティティを持つかどうかを返す。
func (rc *RequestContext) Authenticated() bool {
	return rc.Identity != nil
}

// ShapeResponseHeader はルートの設定に従ってレスポンスヘッダーを除去する。
func (rc *RequestContext) ShapeResponseHeader(h http.Header) {
	if rc.Route == nil {
		return
	}
	for _, name := range rc.Route.ResponseHeaderRemovals {
		h.Del(name)
	}
}
