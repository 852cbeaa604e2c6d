package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nao1215/foodgate/internal/gateway/route"
	"github.com/nao1215/foodgate/pkg/auth"
	"github.com/nao1215/foodgate/pkg/httpclient"
)

// Dispatcher はpipeline.DispatcherをhttpclientのForwarderで実装する。
// アイデンティティはパイプラインがヘッダーに設定済みなので、ここでは使わない。
type Dispatcher struct {
	forwarder *httpclient.Forwarder
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(f *httpclient.Forwarder) *Dispatcher {
	return &Dispatcher{forwarder: f}
}

// CheckTargets はtargetsのすべてに転送先のベースURLが登録されていることを確認する。
// 起動時にルーティングテーブルの転送先を渡して使う。
func (d *Dispatcher) CheckTargets(targets []route.ServiceID) error {
	var missing []string
	for _, t := range targets {
		if !d.forwarder.Has(string(t)) {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", httpclient.ErrUnknownService, strings.Join(missing, ", "))
	}
	return nil
}

// Dispatch はtargetのサービスにrを転送する。
func (d *Dispatcher) Dispatch(ctx context.Context, target route.ServiceID, r *http.Request, _ *auth.Identity) (*http.Response, error) {
	return d.forwarder.Forward(ctx, string(target), r)
}
