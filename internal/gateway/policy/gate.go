package policy

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nao1215/foodgate/pkg/auth"
)

// TokenValidator はBearerトークンを検証してアイデンティティを返す。
// 検証失敗は auth.ErrInvalidToken をラップしたエラーで表す。
type TokenValidator interface {
	Validate(token string) (auth.Identity, error)
}

// TokenStatus はゲートがトークンをどう扱ったかを表す。メトリクスのラベルに使う。
type TokenStatus string

const (
	// TokenNotChecked はPublicのためトークンを確認しなかったことを表す。
	TokenNotChecked TokenStatus = "not_checked"
	// TokenAbsent はAuthorizationヘッダーが無かったことを表す。
	TokenAbsent TokenStatus = "absent"
	// TokenMalformedHeader はヘッダーがBearer形式でなかったことを表す。
	TokenMalformedHeader TokenStatus = "malformed_header"
	// TokenValid はトークンの検証に成功したことを表す。
	TokenValid TokenStatus = "valid"
	// TokenInvalid はトークンの検証に失敗したことを表す。
	TokenInvalid TokenStatus = "invalid"
)

// Decision は認可ゲートの評価結果。
type Decision struct {
	// Rule は適用されたポリシールール。
	Rule Rule
	// Identity は検証済みのアイデンティティ。無い場合はnil。
	Identity *auth.Identity
	// Token はトークンの扱い。
	Token TokenStatus
}

// Requirement は適用されたルールの要件を返す。
func (d Decision) Requirement() Requirement {
	return d.Rule.Requirement
}

// Allowed はリクエストの続行が許されるかを返す。
func (d Decision) Allowed() bool {
	return d.Rule.Requirement == Public || d.Identity != nil
}

// Gate はポリシーテーブルとトークン検証器で認可を判断する。
type Gate struct {
	table     *Table
	validator TokenValidator
	logger    *zap.Logger
}

// NewGate は新しいGateを生成する。loggerがnilの場合はログを出力しない。
func NewGate(table *Table, validator TokenValidator, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		table:     table,
		validator: validator,
		logger:    logger.Named("policy"),
	}
}

// Decide はパスとメソッドに最初に一致したポリシールールを返す。
func (g *Gate) Decide(path, method string) Rule {
	return g.table.lookup(path, method)
}

// Authenticate はAuthorizationヘッダーの値からアイデンティティを得る。
//
// 有効なトークンを得られない場合は、エラーではなく「アイデンティティ無し」として扱う。
// 拒否するかどうかは呼び出し側が決める。
// auth.ErrInvalidToken 以外のエラーは握りつぶさずに返す。
func (g *Gate) Authenticate(authorization string) (*auth.Identity, TokenStatus, error) {
	token, err := auth.ExtractBearer(authorization)
	switch {
	case errors.Is(err, auth.ErrMissingHeader):
		return nil, TokenAbsent, nil
	case err != nil:
		g.logger.Debug("Bearerトークン形式ではないため未認証として扱います", zap.Error(err))
		return nil, TokenMalformedHeader, nil
	}

	id, err := g.validator.Validate(token)
	if errors.Is(err, auth.ErrInvalidToken) {
		g.logger.Debug("トークンが無効なため未認証として扱います", zap.Error(err))
		return nil, TokenInvalid, nil
	}
	if err != nil {
		return nil, TokenInvalid, fmt.Errorf("トークン検証で想定外のエラー: %w", err)
	}
	return &id, TokenValid, nil
}

// Evaluate はポリシーを判断し、Authenticatedの場合のみトークンを検証する。
func (g *Gate) Evaluate(path, method, authorization string) (Decision, error) {
	rule := g.Decide(path, method)
	if rule.Requirement == Public {
		return Decision{Rule: rule, Token: TokenNotChecked}, nil
	}

	id, status, err := g.Authenticate(authorization)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Rule: rule, Identity: id, Token: status}, nil
}
