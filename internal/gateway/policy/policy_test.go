package policy

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/foodgate/internal/gateway/pattern"
	"github.com/nao1215/foodgate/pkg/auth"
)

// validatorFunc は関数をTokenValidatorとして扱うためのアダプタ。
type validatorFunc func(token string) (auth.Identity, error)

func (f validatorFunc) Validate(token string) (auth.Identity, error) {
	return f(token)
}

// stubValidator は "good" だけを有効なトークンとして扱う。
var stubValidator = validatorFunc(func(token string) (auth.Identity, error) {
	if token == "good" {
		return auth.Identity{Subject: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	return auth.Identity{}, errors.Join(auth.ErrInvalidToken, auth.ErrTokenExpired)
})

// newTestTable は元のゲートウェイのセキュリティ設定の一部を再現したテーブルを生成する。
func newTestTable(t *testing.T) *Table {
	t.Helper()

	table, err := NewTable(
		Rule{Pattern: pattern.MustParse("/api/auth/**"), Requirement: Public},
		Rule{Pattern: pattern.MustParse("/api/gateway/health"), Requirement: Public},
		Rule{Pattern: pattern.MustParse("/api/restaurants/**", http.MethodGet), Requirement: Public},
		Rule{Pattern: pattern.MustParse("/api/menu/**", http.MethodGet), Requirement: Public},
		Rule{Pattern: pattern.MustParse("/api/restaurants/**", http.MethodPost), Requirement: Authenticated},
		Rule{Pattern: pattern.MustParse("/api/users/**"), Requirement: Authenticated},
		Rule{Pattern: pattern.MustParse("/api/menu/*"), Requirement: Public},
		Rule{Pattern: pattern.MustParse("/**"), Requirement: Authenticated},
	)
	require.NoError(t, err)
	return table
}

func TestParseRequirement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Requirement
		wantErr bool
	}{
		{in: "public", want: Public},
		{in: "PermitAll", want: Public},
		{in: " Authenticated ", want: Authenticated},
		{in: "admin", want: Authenticated, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseRequirement(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "public", Public.String())
	assert.Equal(t, "authenticated", Authenticated.String())
}

func TestNewTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rules []Rule
	}{
		{name: "空のテーブル"},
		{name: "キャッチオールが無い", rules: []Rule{{Pattern: pattern.MustParse("/api/**"), Requirement: Authenticated}}},
		{name: "キャッチオールがPublic", rules: []Rule{{Pattern: pattern.MustParse("/**"), Requirement: Public}}},
		{name: "キャッチオールがメソッド限定", rules: []Rule{{Pattern: pattern.MustParse("/**", http.MethodGet), Requirement: Authenticated}}},
		{name: "パターンが未設定", rules: []Rule{{Requirement: Public}, {Pattern: pattern.MustParse("/**")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewTable(tt.rules...)
			assert.Error(t, err)
		})
	}

	t.Run("キャッチオールだけのテーブルは有効", func(t *testing.T) {
		t.Parallel()

		table, err := NewTable(Rule{Pattern: pattern.MustParse("/**"), Requirement: Authenticated})
		require.NoError(t, err)
		assert.Equal(t, 1, table.Len())
	})
}

func TestGate_Decide(t *testing.T) {
	t.Parallel()

	gate := NewGate(newTestTable(t), stubValidator, nil)

	tests := []struct {
		name     string
		method   string
		path     string
		want     Requirement
		template string
	}{
		{name: "認証APIは公開", method: http.MethodPost, path: "/api/auth/login", want: Public, template: "/api/auth/**"},
		{name: "レストランのGETは公開", method: http.MethodGet, path: "/api/restaurants/1", want: Public, template: "/api/restaurants/**"},
		{name: "レストランのPOSTは認証必須", method: http.MethodPost, path: "/api/restaurants", want: Authenticated, template: "/api/restaurants/**"},
		{name: "メニューのGETは先のルールで公開", method: http.MethodGet, path: "/api/menu/5", want: Public, template: "/api/menu/**"},
		{name: "メニューのPUTは後のルールで公開", method: http.MethodPut, path: "/api/menu/5", want: Public, template: "/api/menu/*"},
		{name: "メニューの深い階層のPUTはキャッチオール", method: http.MethodPut, path: "/api/menu/5/items", want: Authenticated, template: "/**"},
		{name: "ユーザーAPIは接頭辞そのものも認証必須", method: http.MethodGet, path: "/api/users", want: Authenticated, template: "/api/users/**"},
		{name: "未定義のパスはデフォルト拒否", method: http.MethodGet, path: "/unknown", want: Authenticated, template: "/**"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rule := gate.Decide(tt.path, tt.method)
			assert.Equal(t, tt.want, rule.Requirement)
			assert.Equal(t, tt.template, rule.Pattern.Template())
		})
	}
}

func TestGate_Authenticate(t *testing.T) {
	t.Parallel()

	gate := NewGate(newTestTable(t), stubValidator, nil)

	tests := []struct {
		name        string
		header      string
		wantSubject string
		wantStatus  TokenStatus
	}{
		{name: "有効なトークン", header: "Bearer good", wantSubject: "user-1", wantStatus: TokenValid},
		{name: "ヘッダー無し", header: "", wantStatus: TokenAbsent},
		{name: "Bearer接頭辞無し", header: "good", wantStatus: TokenMalformedHeader},
		{name: "無効なトークン", header: "Bearer expired", wantStatus: TokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			id, status, err := gate.Authenticate(tt.header)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantSubject == "" {
				assert.Nil(t, id)
				return
			}
			require.NotNil(t, id)
			assert.Equal(t, tt.wantSubject, id.Subject)
		})
	}

	t.Run("ErrInvalidToken以外のエラーは握りつぶさないこと", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		g := NewGate(newTestTable(t), validatorFunc(func(string) (auth.Identity, error) {
			return auth.Identity{}, boom
		}), nil)

		_, _, err := g.Authenticate("Bearer anything")
		assert.ErrorIs(t, err, boom)
	})
}

func TestGate_Evaluate(t *testing.T) {
	t.Parallel()

	calls := 0
	counting := validatorFunc(func(token string) (auth.Identity, error) {
		calls++
		return stubValidator(token)
	})
	gate := NewGate(newTestTable(t), counting, nil)

	t.Run("Publicの場合はトークンを検証しないこと", func(t *testing.T) {
		d, err := gate.Evaluate("/api/restaurants", http.MethodGet, "Bearer good")
		require.NoError(t, err)
		assert.Equal(t, Public, d.Requirement())
		assert.Equal(t, TokenNotChecked, d.Token)
		assert.Nil(t, d.Identity)
		assert.True(t, d.Allowed())
		assert.Equal(t, 0, calls)
	})

	t.Run("Authenticatedで有効なトークンの場合は許可されること", func(t *testing.T) {
		d, err := gate.Evaluate("/api/users/profile/123", http.MethodGet, "Bearer good")
		require.NoError(t, err)
		assert.Equal(t, Authenticated, d.Requirement())
		require.NotNil(t, d.Identity)
		assert.Equal(t, "user-1", d.Identity.Subject)
		assert.True(t, d.Allowed())
		assert.Equal(t, 1, calls)
	})

	t.Run("Authenticatedで無効なトークンの場合は許可されないこと", func(t *testing.T) {
		d, err := gate.Evaluate("/api/orders/1", http.MethodGet, "Bearer expired")
		require.NoError(t, err)
		assert.Equal(t, TokenInvalid, d.Token)
		assert.Nil(t, d.Identity)
		assert.False(t, d.Allowed())
	})

	t.Run("同じリクエストは常に同じ判断になること", func(t *testing.T) {
		first, err := gate.Evaluate("/api/menu/5", http.MethodPut, "")
		require.NoError(t, err)
		second, err := gate.Evaluate("/api/menu/5", http.MethodPut, "")
		require.NoError(t, err)
		assert.Equal(t, first.Rule.Pattern.Template(), second.Rule.Pattern.Template())
		assert.Equal(t, first.Requirement(), second.Requirement())
	})
}

func TestGate_WithRealValidator(t *testing.T) {
	t.Parallel()

	v, err := auth.NewValidator("secret")
	require.NoError(t, err)
	gate := NewGate(newTestTable(t), v, nil)

	d, err := gate.Evaluate("/api/orders", http.MethodGet, "Bearer not.a.jwt")
	require.NoError(t, err)
	assert.Equal(t, TokenInvalid, d.Token)
	assert.False(t, d.Allowed())
}
