package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// testRequest はテストサーバーが受け取ったリクエスト情報を保持する構造体。
type testRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// Query はクエリ文字列。
	Query string
	// Body はリクエストボディ。
	Body []byte
	// Headers はリクエストヘッダー。
	Headers http.Header
}

// TestNewForwarder はNewForwarder関数を検証する。
func TestNewForwarder(t *testing.T) {
	t.Parallel()

	t.Run("Forwarderが正常に生成されること", func(t *testing.T) {
		t.Parallel()

		f, err := NewForwarder(map[string]string{"user-service": "http://localhost:8081"})
		if err != nil {
			t.Fatalf("NewForwarder()でエラーが発生: %v", err)
		}
		if !f.Has("user-service") {
			t.Error("user-serviceが登録されていない")
		}
		if f.Has("order-service") {
			t.Error("未登録のorder-serviceが存在すると判定された")
		}
	})

	t.Run("タイムアウトのデフォルトが30秒であること", func(t *testing.T) {
		t.Parallel()

		f, err := NewForwarder(nil)
		if err != nil {
			t.Fatalf("NewForwarder()でエラーが発生: %v", err)
		}
		if f.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s", f.httpClient.Timeout)
		}
	})

	t.Run("WithTimeoutでタイムアウトを変更できること", func(t *testing.T) {
		t.Parallel()

		f, err := NewForwarder(nil, WithTimeout(5*time.Second))
		if err != nil {
			t.Fatalf("NewForwarder()でエラーが発生: %v", err)
		}
		if f.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", f.httpClient.Timeout)
		}
	})

	t.Run("スキームの無いURLはエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewForwarder(map[string]string{"user-service": "localhost:8081"}); err == nil {
			t.Fatal("NewForwarder()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestForward はForward関数を検証する。
func TestForward(t *testing.T) {
	t.Parallel()

	t.Run("メソッド・パス・クエリ・ボディ・ヘッダーが転送されること", func(t *testing.T) {
		t.Parallel()

		var received testRequest
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received.Method = r.Method
			received.Path = r.URL.Path
			received.Query = r.URL.RawQuery
			received.Body, _ = io.ReadAll(r.Body)
			received.Headers = r.Header.Clone()

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"1"}`))
		}))
		defer ts.Close()

		f, err := NewForwarder(map[string]string{"order-service": ts.URL + "/"})
		if err != nil {
			t.Fatalf("NewForwarder()でエラーが発生: %v", err)
		}

		in := httptest.NewRequest(http.MethodPost, "http://gateway.local/api/orders/5?expand=items", strings.NewReader(`{"qty":2}`))
		in.Header.Set("Content-Type", "application/json")
		in.Header.Set("Authorization", "Bearer token")
		in.Header.Set("X-User-Id", "user-1")
		in.Header.Set("Connection", "keep-alive")

		resp, err := f.Forward(context.Background(), "order-service", in)
		if err != nil {
			t.Fatalf("Forward()でエラーが発生: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
		}
		body, _ := io.ReadAll(resp.Body)
		if string(body) != `{"id":"1"}` {
			t.Errorf("body = %q, want %q", string(body), `{"id":"1"}`)
		}

		if received.Method != http.MethodPost {
			t.Errorf("Method = %q, want %q", received.Method, http.MethodPost)
		}
		if received.Path != "/api/orders/5" {
			t.Errorf("Path = %q, want %q", received.Path, "/api/orders/5")
		}
		if received.Query != "expand=items" {
			t.Errorf("Query = %q, want %q", received.Query, "expand=items")
		}
		if string(received.Body) != `{"qty":2}` {
			t.Errorf("Body = %q, want %q", string(received.Body), `{"qty":2}`)
		}
		if got := received.Headers.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer token")
		}
		if got := received.Headers.Get("X-User-Id"); got != "user-1" {
			t.Errorf("X-User-Id = %q, want %q", got, "user-1")
		}
		if got := received.Headers.Get("X-Forwarded-Host"); got != "gateway.local" {
			t.Errorf("X-Forwarded-Host = %q, want %q", got, "gateway.local")
		}
		if got := received.Headers.Get("X-Forwarded-For"); got != "192.0.2.1" {
			t.Errorf("X-Forwarded-For = %q, want %q", got, "192.0.2.1")
		}
		if got := received.Headers.Get("X-Forwarded-Proto"); got != "http" {
			t.Errorf("X-Forwarded-Proto = %q, want %q", got, "http")
		}
	})

	t.Run("バックエンドのエラーステータスはそのまま返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer ts.Close()

		f, _ := NewForwarder(map[string]string{"menu-service": ts.URL})
		resp, err := f.Forward(context.Background(), "menu-service", httptest.NewRequest(http.MethodGet, "/api/menu/9", nil))
		if err != nil {
			t.Fatalf("Forward()でエラーが発生: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}
	})

	t.Run("リダイレクトは追わずに返すこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
		}))
		defer ts.Close()

		f, _ := NewForwarder(map[string]string{"user-service": ts.URL})
		resp, err := f.Forward(context.Background(), "user-service", httptest.NewRequest(http.MethodGet, "/api/users/1", nil))
		if err != nil {
			t.Fatalf("Forward()でエラーが発生: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusFound {
			t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
		}
	})

	t.Run("未登録のサービスはErrUnknownServiceになること", func(t *testing.T) {
		t.Parallel()

		f, _ := NewForwarder(nil)
		_, err := f.Forward(context.Background(), "payment-service", httptest.NewRequest(http.MethodGet, "/api/payments", nil))
		if !errors.Is(err, ErrUnknownService) {
			t.Errorf("err = %v, want ErrUnknownService", err)
		}
	})

	t.Run("接続できないサーバーに対してエラーが返ること", func(t *testing.T) {
		t.Parallel()

		f, _ := NewForwarder(map[string]string{"user-service": "http://127.0.0.1:1"})
		_, err := f.Forward(context.Background(), "user-service", httptest.NewRequest(http.MethodGet, "/api/users", nil))
		if err == nil {
			t.Fatal("Forward()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("キャンセルされたコンテキストでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		f, _ := NewForwarder(map[string]string{"user-service": ts.URL})
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // 即座にキャンセル

		_, err := f.Forward(ctx, "user-service", httptest.NewRequest(http.MethodGet, "/api/users", nil))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

// TestRemoveHopHeaders はRemoveHopHeaders関数を検証する。
func TestRemoveHopHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("Connection", "close")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Upgrade", "websocket")
	h.Set("Content-Type", "application/json")

	RemoveHopHeaders(h)

	for _, name := range []string{"Connection", "Transfer-Encoding", "Upgrade"} {
		if got := h.Get(name); got != "" {
			t.Errorf("%s = %q, want empty", name, got)
		}
	}
	if got := h.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want %q", got, "application/json")
	}
}
