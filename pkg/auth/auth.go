package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tokmz/wsgate/pkg/errors"
)

// 认证错误
var (
	ErrMissingCredential = errors.New(2101, 401, "missing credential", nil)
	ErrInvalidCredential = errors.New(2102, 401, "invalid credential", nil)
	ErrRevokedCredential = errors.New(2103, 403, "credential revoked", nil)
)

// SubprotocolPrefix 携带令牌的子协议前缀，浏览器 WebSocket 无法设置 Authorization 头
const SubprotocolPrefix = "jwt."

// SetupContext 握手时可见的信息
type SetupContext struct {
	Header       http.Header
	Query        map[string][]string
	RemoteAddr   string
	Subprotocols []string
}

// NewSetupContext 从升级请求提取
func NewSetupContext(r *http.Request) *SetupContext {
	return &SetupContext{
		Header:       r.Header.Clone(),
		Query:        r.URL.Query(),
		RemoteAddr:   r.RemoteAddr,
		Subprotocols: requestedSubprotocols(r.Header),
	}
}

func requestedSubprotocols(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// AuthInfo 认证结果
type AuthInfo struct {
	UserID string
	Scopes []string
	// TokenID jti，用于吊销
	TokenID string
}

// HasScope 检查权限范围
func (a *AuthInfo) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Authenticator 校验握手凭证，只负责校验不负责签发
type Authenticator interface {
	Authenticate(ctx context.Context, setup *SetupContext) (*AuthInfo, error)
}

// AuthenticatorFunc 函数形式的 Authenticator
type AuthenticatorFunc func(ctx context.Context, setup *SetupContext) (*AuthInfo, error)

// Authenticate 实现 Authenticator
func (f AuthenticatorFunc) Authenticate(ctx context.Context, setup *SetupContext) (*AuthInfo, error) {
	return f(ctx, setup)
}

// TokenSubprotocol 返回客户端请求的令牌子协议，握手响应需原样回显
func TokenSubprotocol(protocols []string) (string, bool) {
	for _, p := range protocols {
		if strings.HasPrefix(p, SubprotocolPrefix) && len(p) > len(SubprotocolPrefix) {
			return p, true
		}
	}
	return "", false
}
