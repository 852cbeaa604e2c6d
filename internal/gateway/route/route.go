// Package route はリクエストを転送先サービスに対応付けるルーティングテーブルを提供する。
//
// テーブルは宣言順に評価され、最初に一致したルートが採用される。
// より具体的なパターンが後ろにあっても優先されない。
package route

import (
	"errors"
	"fmt"

	"github.com/nao1215/foodgate/internal/gateway/pattern"
)

// ErrNotFound はどのルートにも一致しなかったことを表す。
var ErrNotFound = errors.New("一致するルートがありません")

// ServiceID は転送先バックエンドサービスの識別子（例: "user-service"）。
// このパッケージではネットワークアドレスに解決しない。
type ServiceID string

// Route はパスとメソッドのパターンを転送先サービスに対応付けるルール。
type Route struct {
	// ID はルートの識別子。ログやメトリクスに使用する。
	ID string
	// Pattern はこのルートが受け付けるパスとメソッド。
	Pattern pattern.Pattern
	// Target は転送先サービス。
	Target ServiceID
	// ResponseHeaderRemovals はバックエンドのレスポンスから除去するヘッダー名。
	ResponseHeaderRemovals []string
}

// Table は起動時に読み込まれる不変のルート列。
type Table struct {
	routes []Route
}

// NewTable はルート列からTableを生成する。
// 空のテーブル、IDや転送先が空のルートは起動時の設定エラーとして扱う。
func NewTable(routes ...Route) (*Table, error) {
	if len(routes) == 0 {
		return nil, errors.New("ルーティングテーブルが空です")
	}
	for i, r := range routes {
		if r.ID == "" {
			return nil, fmt.Errorf("%d番目のルートのIDが空です", i)
		}
		if r.Target == "" {
			return nil, fmt.Errorf("ルート %s の転送先が空です", r.ID)
		}
		if r.Pattern.Template() == "" {
			return nil, fmt.Errorf("ルート %s のパターンが未設定です", r.ID)
		}
	}
	return &Table{routes: append([]Route(nil), routes...)}, nil
}

// Len はルート数を返す。
func (t *Table) Len() int {
	return len(t.routes)
}

// Routes はルートのコピーを宣言順で返す。
func (t *Table) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

// Targets はテーブルに現れる転送先サービスを重複なしで宣言順に返す。
func (t *Table) Targets() []ServiceID {
	seen := make(map[ServiceID]struct{}, len(t.routes))
	var out []ServiceID
	for _, r := range t.routes {
		if _, ok := seen[r.Target]; ok {
			continue
		}
		seen[r.Target] = struct{}{}
		out = append(out, r.Target)
	}
	return out
}

// Resolver はTableを宣言順に走査して転送先を決定する。
type Resolver struct {
	table *Table
}

// NewResolver は新しいResolverを生成する。
func NewResolver(table *Table) *Resolver {
	return &Resolver{table: table}
}

// Resolve はパスとメソッドに最初に一致したルートを返す。
// 一致するルートが無い場合はErrNotFoundを返す。
func (r *Resolver) Resolve(path, method string) (Route, error) {
	for _, rt := range r.table.routes {
		if rt.Pattern.Matches(path, method) {
			return rt, nil
		}
	}
	return Route{}, fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
}
