// Package pattern はルーティングテーブルと認可ポリシーテーブルが共有する
// Antスタイルのパスパターン照合を提供する。
//
// 2つのテーブルが「どのパスが一致するか」について同じ解釈を持つよう、
// 照合ロジックはこのパッケージだけに置く。
package pattern

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	// singleWildcard はちょうど1セグメントに一致するワイルドカード。
	singleWildcard = "*"
	// multiWildcard は残りの0個以上のセグメントに一致するワイルドカード。末尾でのみ有効。
	multiWildcard = "**"
)

var (
	// ErrEmptyTemplate はパステンプレートが空であることを表す。
	ErrEmptyTemplate = errors.New("パステンプレートが空です")
	// ErrMisplacedWildcard は "**" が末尾以外に置かれていることを表す。
	ErrMisplacedWildcard = errors.New("\"**\" はテンプレートの末尾にのみ指定できます")
	// ErrEmptyMethodSet は空でないはずのメソッド集合が空であることを表す。
	ErrEmptyMethodSet = errors.New("メソッド集合が空です")
)

// Pattern はパステンプレートとHTTPメソッド集合の組。
// Parseで生成した後は変更されない。
type Pattern struct {
	// template は元のパステンプレート文字列。
	template string
	// segments はテンプレートを "/" で分割したセグメント。末尾の "**" は含まない。
	segments []string
	// trailing はテンプレートが "**" で終わるかどうか。
	trailing bool
	// methods は許可するメソッド。nilの場合は任意のメソッドに一致する。
	methods map[string]struct{}
}

// Parse はパステンプレートとメソッド一覧からPatternを生成する。
// methodsが空の場合は任意のメソッドに一致する。
func Parse(template string, methods ...string) (Pattern, error) {
	if strings.TrimSpace(template) == "" {
		return Pattern{}, ErrEmptyTemplate
	}

	segments := split(template)
	trailing := false
	for i, seg := range segments {
		if seg != multiWildcard {
			continue
		}
		if i != len(segments)-1 {
			return Pattern{}, fmt.Errorf("%s: %w", template, ErrMisplacedWildcard)
		}
		trailing = true
		segments = segments[:i]
	}

	var set map[string]struct{}
	if len(methods) > 0 {
		set = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			m = strings.ToUpper(strings.TrimSpace(m))
			if m == "" {
				return Pattern{}, fmt.Errorf("%s: %w", template, ErrEmptyMethodSet)
			}
			set[m] = struct{}{}
		}
	}

	return Pattern{
		template: template,
		segments: segments,
		trailing: trailing,
		methods:  set,
	}, nil
}

// MustParse はParseと同じだが、エラー時にパニックする。
// ソースコード上のリテラルテーブルの定義にのみ使用する。
func MustParse(template string, methods ...string) Pattern {
	p, err := Parse(template, methods...)
	if err != nil {
		panic(err)
	}
	return p
}

// Template は元のパステンプレートを返す。
func (p Pattern) Template() string {
	return p.template
}

// AnyMethod は任意のメソッドに一致するかどうかを返す。
func (p Pattern) AnyMethod() bool {
	return p.methods == nil
}

// Methods は許可するメソッドをソート済みで返す。任意のメソッドの場合はnil。
func (p Pattern) Methods() []string {
	if p.methods == nil {
		return nil
	}
	out := make([]string, 0, len(p.methods))
	for m := range p.methods {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// CatchAll はパターンが全パス・全メソッドに一致する "/**" かどうかを返す。
func (p Pattern) CatchAll() bool {
	return p.trailing && len(p.segments) == 0 && p.methods == nil
}

// Matches はMatch(p, path, method)の省略形。
func (p Pattern) Matches(path, method string) bool {
	return Match(p, path, method)
}

// String はログ出力用の表現を返す。
func (p Pattern) String() string {
	if p.methods == nil {
		return "* " + p.template
	}
	return strings.Join(p.Methods(), ",") + " " + p.template
}

// Match はリクエストのパスとメソッドがパターンに一致するかを判定する。
//
// テンプレートが "**" で終わる場合、それより前のセグメントが位置ごとに一致し、
// パスがそのセグメント数以上であれば残りは問わない。"/api/users/**" は
// "/api/users" 自体にも一致する。それ以外はセグメント数が完全に一致する必要がある。
func Match(p Pattern, path, method string) bool {
	if !matchMethod(p, method) {
		return false
	}

	segments := split(path)
	if p.trailing {
		if len(segments) < len(p.segments) {
			return false
		}
	} else if len(segments) != len(p.segments) {
		return false
	}

	for i, want := range p.segments {
		if want != singleWildcard && want != segments[i] {
			return false
		}
	}
	return true
}

// matchMethod はメソッド集合の判定を行う。
func matchMethod(p Pattern, method string) bool {
	if p.methods == nil {
		return true
	}
	_, ok := p.methods[strings.ToUpper(method)]
	return ok
}

// split はパスを "/" で分割する。空セグメントは捨てるため、
// "/api/users/" と "/api/users" は同じセグメント列になる。
func split(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}
