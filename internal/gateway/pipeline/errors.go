package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrRouteNotFound はどのルートにも一致しなかったことを表す。境界では404相当。
	ErrRouteNotFound = errors.New("ルートが見つかりません")
	// ErrAuthorizationDenied は認証が必要なのに有効なアイデンティティが無いことを表す。境界では401相当。
	ErrAuthorizationDenied = errors.New("認証が必要です")
	// ErrInvalidPath はパスに "." や ".." のセグメントが含まれることを表す。境界では400相当。
	ErrInvalidPath = errors.New("不正なリクエストパスです")
	// ErrDispatch はバックエンドへの転送に失敗したことを表す。境界では502相当。
	ErrDispatch = errors.New("バックエンドへの転送に失敗しました")
)

// Kind は拒否の種類。
type Kind int

const (
	// KindRouteNotFound はルートが見つからなかったことによる拒否。
	KindRouteNotFound Kind = iota + 1
	// KindAuthorizationDenied は認可による拒否。
	KindAuthorizationDenied
	// KindInvalidPath はパスの形式による拒否。ルート解決の前に判断する。
	KindInvalidPath
)

// String は種類の文字列表現を返す。
func (k Kind) String() string {
	switch k {
	case KindRouteNotFound:
		return "route_not_found"
	case KindAuthorizationDenied:
		return "authorization_denied"
	case KindInvalidPath:
		return "invalid_path"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RejectionError はパイプラインがリクエストを拒否したことを表す。
// errors.Is で種類に対応する番兵エラー
// (ErrRouteNotFound, ErrAuthorizationDenied, ErrInvalidPath) と比較できる。
type RejectionError struct {
	// Kind は拒否の種類。
	Kind Kind
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// Err は拒否の原因。無い場合はnil。
	Err error
}

// Error はエラーメッセージを返す。
func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.sentinel())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is は種類に対応する番兵エラーと一致するかを返す。
func (e *RejectionError) Is(target error) bool {
	return target == e.sentinel()
}

// Unwrap は原因のエラーを返す。
func (e *RejectionError) Unwrap() error {
	return e.Err
}

func (e *RejectionError) sentinel() error {
	switch e.Kind {
	case KindRouteNotFound:
		return ErrRouteNotFound
	case KindInvalidPath:
		return ErrInvalidPath
	default:
		return ErrAuthorizationDenied
	}
}
