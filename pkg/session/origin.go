package session

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy 浏览器来源校验，WebSocket 升级与管理接口的 CORS 共用
type OriginPolicy struct {
	allowAll  bool
	exact     map[string]bool
	wildcards []string
}

// NewOriginPolicy 白名单支持精确匹配、"*" 与 "https://*.example.com" 形式的通配
// 白名单为空时只允许同源
func NewOriginPolicy(origins ...string) *OriginPolicy {
	p := &OriginPolicy{exact: make(map[string]bool, len(origins))}
	for _, o := range origins {
		o = strings.TrimRight(o, "/")
		switch {
		case o == "*":
			p.allowAll = true
		case strings.Contains(o, "*"):
			p.wildcards = append(p.wildcards, o)
		case o != "":
			p.exact[o] = true
		}
	}
	return p
}

// Allow host 为请求的 Host，用于同源判断；空 Origin 视为非浏览器客户端放行
func (p *OriginPolicy) Allow(origin, host string) bool {
	if origin == "" || p.allowAll {
		return true
	}
	if len(p.exact) > 0 || len(p.wildcards) > 0 {
		if p.exact[origin] {
			return true
		}
		for _, pattern := range p.wildcards {
			if matchWildcard(origin, pattern) {
				return true
			}
		}
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

// CheckOrigin 适配 websocket.Upgrader.CheckOrigin
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	return p.Allow(r.Header.Get("Origin"), r.Host)
}

// matchWildcard 只支持一个 *，且 * 匹配的部分不能为空
func matchWildcard(origin, pattern string) bool {
	prefix, suffix, ok := strings.Cut(pattern, "*")
	if !ok {
		return origin == pattern
	}
	return len(origin) > len(prefix)+len(suffix) &&
		strings.HasPrefix(origin, prefix) &&
		strings.HasSuffix(origin, suffix)
}
