// Package credential issues and verifies ES256 bearer credentials.
package credential

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lvdashuaibi/roundvote/internal/apperr"
)

const (
	DefaultTTL = time.Hour

	signingMethod = "ES256"
)

// Identity 凭证中携带的用户身份
type Identity struct {
	ID   string
	Name string
}

// Claims 校验通过后的完整声明
type Claims struct {
	Identity
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"id"`
	Name   string `json:"name"`
}

// Config 构造 Codec 所需的只读配置
type Config struct {
	Keys KeyPair
	TTL  time.Duration
	Now  func() time.Time
}

// Codec 签发/校验凭证，校验只依赖公钥与当前时间
type Codec struct {
	keys KeyPair
	ttl  time.Duration
	now  func() time.Time
}

func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Keys.Public == nil {
		return nil, errors.New("credential: public key is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Codec{keys: cfg.Keys, ttl: cfg.TTL, now: cfg.Now}, nil
}

// Issue 签发凭证；ttl<=0 时使用默认有效期，subject 为空时不写 sub
func (c *Codec) Issue(identity Identity, subject string, ttl time.Duration) (string, error) {
	const op = "credential.Issue"
	if c.keys.Private == nil {
		return "", apperr.New(apperr.IssuanceFailure, op, "签名私钥未配置")
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	now := c.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: identity.ID,
		Name:   identity.Name,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(c.keys.Private)
	if err != nil {
		return "", apperr.E(apperr.IssuanceFailure, op, err)
	}
	return signed, nil
}

// Verify 校验签名、结构与有效期；now >= exp 视为过期
func (c *Codec) Verify(token string) (Claims, error) {
	const op = "credential.Verify"
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperr.New(apperr.InvalidCredential, op, "凭证为空")
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return c.keys.Public, nil
	},
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return Claims{}, apperr.E(apperr.InvalidCredential, op, err)
	}
	if parsed.UserID == "" {
		return Claims{}, apperr.New(apperr.InvalidCredential, op, "凭证缺少用户ID")
	}

	claims := Claims{
		Identity:  Identity{ID: parsed.UserID, Name: parsed.Name},
		Subject:   parsed.Subject,
		ExpiresAt: parsed.ExpiresAt.Time,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	return claims, nil
}
