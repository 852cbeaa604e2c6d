package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnknownService は対応表に存在しないサービスIDが指定された場合のエラー。
var ErrUnknownService = errors.New("未登録のサービスです")

// hopHeaders は転送時に引き継がないホップ単位のヘッダー。
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Option はForwarderの設定を変更する。
type Option func(*Forwarder)

// WithTimeout は1回の転送のタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		f.httpClient.Timeout = d
	}
}

// WithTransport は内部で使用するRoundTripperを設定する。
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.httpClient.Transport = rt
	}
}

// Forwarder は受け取ったリクエストを内部サービスにそのまま転送する。
// 複数のゴルーチンから同時に使用できる。
type Forwarder struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// services はサービスIDとベースURLの対応表。
	services map[string]*url.URL
}

// NewForwarder は新しいForwarderを生成する。
// servicesにはサービスIDとベースURL（例: "http://user-service:8081"）の対応を指定する。
func NewForwarder(services map[string]string, opts ...Option) (*Forwarder, error) {
	f := &Forwarder{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// リダイレクトは追わずにクライアントへ返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		services: make(map[string]*url.URL, len(services)),
	}
	for id, raw := range services {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("サービス %s のURLが不正です: %w", id, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("サービス %s のURLにスキームまたはホストがありません: %q", id, raw)
		}
		f.services[id] = u
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Has はサービスIDが対応表に存在するかどうかを返す。
func (f *Forwarder) Has(service string) bool {
	_, ok := f.services[service]
	return ok
}

// Forward はrをserviceのベースURL配下に転送し、バックエンドのレスポンスを返す。
// レスポンスボディは呼び出し側で閉じること。2xx以外のステータスもエラーにはしない。
func (f *Forwarder) Forward(ctx context.Context, service string, r *http.Request) (*http.Response, error) {
	base, ok := f.services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, targetURL(base, r.URL), r.Body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.ContentLength = r.ContentLength
	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	RemoveHopHeaders(req.Header)
	setForwardedHeaders(req.Header, r)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	return resp, nil
}

// RemoveHopHeaders はhからホップ単位のヘッダーを除去する。
func RemoveHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// targetURL はベースURLのパスにリクエストのパスを連結したURLを返す。
func targetURL(base, in *url.URL) string {
	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + in.Path
	u.RawPath = ""
	u.RawQuery = in.RawQuery
	return u.String()
}

// setForwardedHeaders はX-Forwarded-*ヘッダーを設定する。
func setForwardedHeaders(h http.Header, r *http.Request) {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		h.Set("X-Forwarded-For", ip)
	}
	if r.Host != "" {
		h.Set("X-Forwarded-Host", r.Host)
	}
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	h.Set("X-Forwarded-Proto", proto)
}
