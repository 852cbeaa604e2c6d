package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// bearerPrefix はAuthorizationヘッダーのBearerスキーム接頭辞。
const bearerPrefix = "Bearer "

var (
	// ErrMissingHeader はAuthorizationヘッダーが無いことを表す。
	ErrMissingHeader = errors.New("Authorizationヘッダーがありません")
	// ErrInvalidPrefix はAuthorizationヘッダーが "Bearer <token>" 形式でないことを表す。
	ErrInvalidPrefix = errors.New("Bearer トークン形式が不正です")

	// ErrInvalidToken はトークンが無効であることを表す。検証失敗は全てこのエラーをラップする。
	ErrInvalidToken = errors.New("トークンが無効です")
	// ErrTokenExpired はトークンの有効期限切れを表す。
	ErrTokenExpired = errors.New("トークンの有効期限が切れています")
	// ErrTokenMalformed はトークンの構造が不正であることを表す。
	ErrTokenMalformed = errors.New("トークンの形式が不正です")
	// ErrTokenSignature は署名またはアルゴリズムが不正であることを表す。
	ErrTokenSignature = errors.New("トークンの署名が不正です")
	// ErrTokenClaims は必須クレームの欠落や発行者の不一致を表す。
	ErrTokenClaims = errors.New("トークンのクレームが不正です")
	// ErrTokenNoSubject はsubjectクレームが無いことを表す。
	ErrTokenNoSubject = errors.New("トークンにsubjectがありません")
)

// Claims はゲートウェイが受け付けるJWTのクレーム。
// 標準クレームに加え、旧形式のトークンが持つ user_id とユーザー属性を読む。
type Claims struct {
	jwt.RegisteredClaims
	// UserID は旧形式のトークンでのユーザー識別子。subが無い場合に使用する。
	UserID string `json:"user_id,omitempty"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email,omitempty"`
	// Role はユーザーのロール。
	Role string `json:"role,omitempty"`
}

// Identity はトークン検証に成功した結果として得られる利用者情報。
// 1リクエストの処理中だけ存在し、永続化しない。
type Identity struct {
	// Subject は利用者の識別子。
	Subject string
	// Email はメールアドレス。トークンに含まれない場合は空。
	Email string
	// Role はロール。トークンに含まれない場合は空。
	Role string
	// IssuedAt はトークンの発行日時。iatが無い場合はゼロ値。
	IssuedAt time.Time
	// ExpiresAt はトークンの有効期限。
	ExpiresAt time.Time
}

// ExtractBearer はAuthorizationヘッダーの値からトークン部分を取り出す。
// "Bearer " の後に空でない内容が続く場合のみ成功する。
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingHeader
	}
	token, found := strings.CutPrefix(header, bearerPrefix)
	if !found || strings.TrimSpace(token) == "" {
		return "", ErrInvalidPrefix
	}
	return token, nil
}

// Option はValidatorの設定を変更する。
type Option func(*Validator)

// WithClock は現在時刻の取得関数を差し替える。テストで使用する。
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// WithIssuer は期待する発行者を設定する。空の場合は検証しない。
func WithIssuer(issuer string) Option {
	return func(v *Validator) {
		v.issuer = issuer
	}
}

// Validator は共有秘密鍵でHMAC署名されたJWTを検証する。
type Validator struct {
	// secret は署名検証用の秘密鍵。
	secret []byte
	// issuer は期待する発行者。
	issuer string
	// now は現在時刻の取得関数。
	now func() time.Time
}

// NewValidator は新しいValidatorを生成する。秘密鍵が空の場合はエラーを返す。
func NewValidator(secret string, opts ...Option) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("JWTの秘密鍵が設定されていません")
	}
	v := &Validator{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate はトークンの署名と有効期限を検証し、Identityを返す。
// 失敗した場合のエラーは必ずErrInvalidTokenと原因のエラーをラップする。
func (v *Validator) Validate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, ErrTokenMalformed)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, classify(err))
	}
	if !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, ErrTokenSignature)
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.UserID
	}
	if subject == "" {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, ErrTokenNoSubject)
	}

	id := Identity{
		Subject:   subject,
		Email:     claims.Email,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	return id, nil
}

// classify はjwtライブラリのエラーをこのパッケージのエラーに変換する。
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenInvalidClaims), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrTokenClaims
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
