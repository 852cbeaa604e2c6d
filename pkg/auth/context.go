package auth

import "context"

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyIdentity はコンテキストにIdentityを格納するためのキー。
const contextKeyIdentity contextKey = "identity"

// WithIdentity はコンテキストに検証済みのIdentityを設定する。
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, id)
}

// IdentityFrom はコンテキストからIdentityを取得する。
// 設定されていない場合は第2戻り値がfalseになる。
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKeyIdentity).(Identity)
	return id, ok
}
