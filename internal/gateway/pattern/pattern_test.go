package pattern

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("メソッド未指定の場合は任意のメソッドに一致すること", func(t *testing.T) {
		t.Parallel()

		p, err := Parse("/api/orders/**")
		require.NoError(t, err)
		assert.True(t, p.AnyMethod())
		assert.Nil(t, p.Methods())
		assert.Equal(t, "/api/orders/**", p.Template())
	})

	t.Run("メソッドは大文字に正規化されること", func(t *testing.T) {
		t.Parallel()

		p, err := Parse("/api/menu/**", "post", " Put ")
		require.NoError(t, err)
		assert.Equal(t, []string{"POST", "PUT"}, p.Methods())
		assert.Equal(t, "POST,PUT /api/menu/**", p.String())
	})

	tests := []struct {
		name     string
		template string
		methods  []string
		wantErr  error
	}{
		{name: "空のテンプレート", template: "  ", wantErr: ErrEmptyTemplate},
		{name: "途中のダブルワイルドカード", template: "/api/**/items", wantErr: ErrMisplacedWildcard},
		{name: "空のメソッド", template: "/api/menu", methods: []string{""}, wantErr: ErrEmptyMethodSet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(tt.template, tt.methods...)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMustParse(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { MustParse("/a/**/b") })
	assert.NotPanics(t, func() { MustParse("/a/*/b", http.MethodGet) })
}

func TestCatchAll(t *testing.T) {
	t.Parallel()

	assert.True(t, MustParse("/**").CatchAll())
	assert.False(t, MustParse("/**", http.MethodGet).CatchAll())
	assert.False(t, MustParse("/api/**").CatchAll())
	assert.False(t, MustParse("/api").CatchAll())
}

func TestMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		methods  []string
		path     string
		method   string
		want     bool
	}{
		{name: "ダブルワイルドカードは深い階層に一致", template: "/api/users/**", path: "/api/users/profile/123", method: http.MethodGet, want: true},
		{name: "ダブルワイルドカードは接頭辞そのものに一致", template: "/api/users/**", path: "/api/users", method: http.MethodGet, want: true},
		{name: "ダブルワイルドカードは末尾スラッシュ付きに一致", template: "/api/users/**", path: "/api/users/", method: http.MethodGet, want: true},
		{name: "ダブルワイルドカードは別の接頭辞に不一致", template: "/api/users/**", path: "/api/user", method: http.MethodGet, want: false},
		{name: "ダブルワイルドカードは短いパスに不一致", template: "/api/users/**", path: "/api", method: http.MethodGet, want: false},
		{name: "シングルワイルドカードは1セグメントに一致", template: "/api/menu/*", path: "/api/menu/5", method: http.MethodGet, want: true},
		{name: "シングルワイルドカードは2セグメントに不一致", template: "/api/menu/*", path: "/api/menu/5/items", method: http.MethodGet, want: false},
		{name: "シングルワイルドカードは0セグメントに不一致", template: "/api/menu/*", path: "/api/menu", method: http.MethodGet, want: false},
		{name: "途中のシングルワイルドカード", template: "/api/*/items", path: "/api/menu/items", method: http.MethodGet, want: true},
		{name: "リテラルの完全一致", template: "/api/users/login", path: "/api/users/login", method: http.MethodPost, want: true},
		{name: "リテラルの不一致", template: "/api/users/login", path: "/api/users/logout", method: http.MethodPost, want: false},
		{name: "ルートのキャッチオール", template: "/**", path: "/", method: http.MethodDelete, want: true},
		{name: "ワイルドカードとダブルワイルドカードの組み合わせ", template: "/api/*/reviews/**", path: "/api/restaurants/reviews/1/2", method: http.MethodGet, want: true},
		{name: "許可されたメソッド", template: "/api/menu/**", methods: []string{http.MethodPost, http.MethodPut}, path: "/api/menu/1", method: http.MethodPut, want: true},
		{name: "許可されていないメソッド", template: "/api/menu/**", methods: []string{http.MethodPost, http.MethodPut}, path: "/api/menu/1", method: http.MethodGet, want: false},
		{name: "小文字のメソッド", template: "/api/menu/**", methods: []string{http.MethodGet}, path: "/api/menu", method: "get", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := MustParse(tt.template, tt.methods...)
			assert.Equal(t, tt.want, Match(p, tt.path, tt.method))
			assert.Equal(t, tt.want, p.Matches(tt.path, tt.method))
		})
	}
}
