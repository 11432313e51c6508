package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lvdashuaibi/roundvote/internal/apperr"
	"github.com/lvdashuaibi/roundvote/internal/credential"
)

const (
	AuthorizationHeader = "Authorization"

	ginIdentityKey = "roundvote.identity"
)

type ctxKey struct{}

// Verifier 凭证校验能力，由 credential.Codec 实现
type Verifier interface {
	Verify(token string) (credential.Claims, error)
}

// Gate 从请求中提取并校验 bearer 凭证
type Gate struct {
	verifier Verifier
	log      logrus.FieldLogger
}

func NewGate(verifier Verifier, log logrus.FieldLogger) *Gate {
	return &Gate{verifier: verifier, log: log}
}

// Authenticate 校验 Authorization 头，要求恰好为 "scheme value" 两段
func (g *Gate) Authenticate(header string) (credential.Claims, error) {
	const op = "auth.Authenticate"
	if header == "" {
		return credential.Claims{}, apperr.New(apperr.Unauthenticated, op, "缺少Authorization头")
	}

	parts := strings.Fields(header)
	if len(parts) != 2 {
		return credential.Claims{}, apperr.New(apperr.Unauthenticated, op, "Authorization头格式错误")
	}
	token := parts[1]
	if token == "" {
		return credential.Claims{}, apperr.New(apperr.Unauthenticated, op, "凭证为空")
	}

	claims, err := g.verifier.Verify(token)
	if err != nil {
		// 底层错误只记录日志，不返回给调用方
		g.log.WithError(err).Debug("凭证校验失败")
		return credential.Claims{}, apperr.New(apperr.Unauthenticated, op, "凭证无效")
	}
	return claims, nil
}

// Middleware gin 鉴权中间件，身份只在当前请求内有效
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := g.Authenticate(c.GetHeader(AuthorizationHeader))
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(ginIdentityKey, claims)
		c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

func WithClaims(ctx context.Context, claims credential.Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, claims)
}

// ClaimsFromContext 读取鉴权中间件写入的身份
func ClaimsFromContext(ctx context.Context) (credential.Claims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(credential.Claims)
	return claims, ok
}

// ClaimsFromGin 读取 gin 上下文中的身份
func ClaimsFromGin(c *gin.Context) (credential.Claims, bool) {
	v, ok := c.Get(ginIdentityKey)
	if !ok {
		return credential.Claims{}, false
	}
	claims, ok := v.(credential.Claims)
	return claims, ok
}
