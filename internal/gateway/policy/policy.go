// Package policy はパスとメソッドに対するアクセス要件を決める認可ポリシーテーブルと、
// 要件に応じてBearerトークンを検証する認可ゲートを提供する。
//
// ポリシーはルーティングとは独立に評価される。ルーティングテーブルと
// ポリシーテーブルが同じパスを別のグループとして扱っていても、
// アクセス要件はポリシーテーブルの内容だけで決まる。
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nao1215/foodgate/internal/gateway/pattern"
)

// Requirement はリクエストに求めるアクセス要件。
type Requirement int

const (
	// Authenticated は検証済みのアイデンティティを必要とする。ゼロ値を拒否側にしておく。
	Authenticated Requirement = iota
	// Public は認証なしでアクセスできる。
	Public
)

// String は要件の文字列表現を返す。
func (r Requirement) String() string {
	switch r {
	case Public:
		return "public"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("Requirement(%d)", int(r))
	}
}

// ParseRequirement は設定ファイル上の文字列を要件に変換する。
func ParseRequirement(s string) (Requirement, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public", "permit_all", "permitall":
		return Public, nil
	case "authenticated":
		return Authenticated, nil
	default:
		return Authenticated, fmt.Errorf("不明なアクセス要件です: %q", s)
	}
}

// Rule はパターンとアクセス要件の組。
type Rule struct {
	// Pattern はこのルールが対象とするパスとメソッド。
	Pattern pattern.Pattern
	// Requirement は一致したリクエストに求める要件。
	Requirement Requirement
}

// defaultDeny はテーブルのどのルールにも一致しなかった場合に使うルール。
// NewTableが末尾のキャッチオールを保証するため、通常は使われない。
var defaultDeny = Rule{Pattern: pattern.MustParse("/**"), Requirement: Authenticated}

// Table は起動時に読み込まれる不変のポリシールール列。
type Table struct {
	rules []Rule
}

// NewTable はルール列からTableを生成する。
// 末尾は全メソッドの "/**" かつAuthenticatedでなければならない（デフォルト拒否）。
func NewTable(rules ...Rule) (*Table, error) {
	if len(rules) == 0 {
		return nil, errors.New("ポリシーテーブルが空です")
	}
	for i, r := range rules {
		if r.Pattern.Template() == "" {
			return nil, fmt.Errorf("%d番目のポリシールールのパターンが未設定です", i)
		}
	}
	last := rules[len(rules)-1]
	if !last.Pattern.CatchAll() || last.Requirement != Authenticated {
		return nil, fmt.Errorf("ポリシーテーブルの末尾は全メソッドの \"/**\" かつ authenticated である必要があります: %s %s",
			last.Pattern, last.Requirement)
	}
	return &Table{rules: append([]Rule(nil), rules...)}, nil
}

// Len はルール数を返す。
func (t *Table) Len() int {
	return len(t.rules)
}

// Rules はルールのコピーを宣言順で返す。
func (t *Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

// lookup は最初に一致したルールを返す。
func (t *Table) lookup(path, method string) Rule {
	for _, r := range t.rules {
		if r.Pattern.Matches(path, method) {
			return r
		}
	}
	return defaultDeny
}
