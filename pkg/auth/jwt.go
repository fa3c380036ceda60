package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig HMAC JWT 校验配置
type JWTConfig struct {
	SigningKey string        `mapstructure:"signing_key" yaml:"signing_key"`
	Issuer     string        `mapstructure:"issuer" yaml:"issuer"`
	Audience   string        `mapstructure:"audience" yaml:"audience"`
	Leeway     time.Duration `mapstructure:"leeway" yaml:"leeway"`
	// QueryParam 非空时也从该 URL 参数读取令牌
	QueryParam string `mapstructure:"query_param" yaml:"query_param"`
}

// JWTAuthenticator 校验 HMAC 签名的 Bearer 令牌
// sub 作为用户 ID，scope（空格分隔）或 scopes（数组）作为权限范围
type JWTAuthenticator struct {
	cfg     JWTConfig
	key     []byte
	parser  *jwt.Parser
	revoked *Denylist
}

// NewJWTAuthenticator 创建 JWT 认证器，revoked 可为 nil
func NewJWTAuthenticator(cfg JWTConfig, revoked *Denylist) (*JWTAuthenticator, error) {
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("auth: jwt signing key is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTAuthenticator{
		cfg:     cfg,
		key:     []byte(cfg.SigningKey),
		parser:  jwt.NewParser(opts...),
		revoked: revoked,
	}, nil
}

// Authenticate 实现 Authenticator
func (a *JWTAuthenticator) Authenticate(_ context.Context, setup *SetupContext) (*AuthInfo, error) {
	raw := a.extractToken(setup)
	if raw == "" {
		return nil, ErrMissingCredential
	}

	claims := jwt.MapClaims{}
	token, err := a.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.key, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredential.WithError(err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrInvalidCredential.WithMessage("missing sub claim")
	}

	info := &AuthInfo{UserID: sub, Scopes: scopesOf(claims)}
	if jti, ok := claims["jti"].(string); ok {
		info.TokenID = jti
	}
	if info.TokenID != "" && a.revoked != nil && a.revoked.Contains(info.TokenID) {
		return nil, ErrRevokedCredential
	}
	return info, nil
}

// extractToken 依次尝试 Authorization 头、子协议、URL 参数
func (a *JWTAuthenticator) extractToken(setup *SetupContext) string {
	if setup == nil {
		return ""
	}
	if h := setup.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if p, ok := TokenSubprotocol(setup.Subprotocols); ok {
		return decodeSubprotocolToken(strings.TrimPrefix(p, SubprotocolPrefix))
	}
	if a.cfg.QueryParam != "" {
		if v := setup.Query[a.cfg.QueryParam]; len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// decodeSubprotocolToken 子协议值可以是 base64url 编码的令牌，也可以是令牌原文
func decodeSubprotocolToken(v string) string {
	if strings.Count(v, ".") == 2 {
		return v
	}
	if b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(v, "=")); err == nil {
		return string(b)
	}
	return v
}

func scopesOf(claims jwt.MapClaims) []string {
	if s, ok := claims["scope"].(string); ok && s != "" {
		return strings.Fields(s)
	}
	if list, ok := claims["scopes"].([]any); ok {
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
