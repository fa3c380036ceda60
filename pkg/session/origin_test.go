package session

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", []string{"https://app.example.com"}, "", "gw.local", true},
		{"allow all", []string{"*"}, "https://any.test", "gw.local", true},
		{"exact", []string{"https://app.example.com/"}, "https://app.example.com", "gw.local", true},
		{"exact miss", []string{"https://app.example.com"}, "https://evil.test", "gw.local", false},
		{"wildcard", []string{"https://*.example.com"}, "https://chat.example.com", "gw.local", true},
		{"wildcard needs label", []string{"https://*.example.com"}, "https://.example.com", "gw.local", false},
		{"wildcard scheme", []string{"https://*.example.com"}, "http://chat.example.com", "gw.local", false},
		{"same origin", nil, "https://gw.local", "gw.local", true},
		{"cross origin", nil, "https://evil.test", "gw.local", false},
		{"list disables same origin", []string{"https://app.example.com"}, "https://gw.local", "gw.local", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewOriginPolicy(tt.origins...).Allow(tt.origin, tt.host))
		})
	}
}

func TestOriginPolicyCheckOrigin(t *testing.T) {
	p := DefaultConfig()
	p.AllowedOrigins = []string{"https://app.example.com"}
	policy := p.Origins()

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://app.example.com")
	assert.True(t, policy.CheckOrigin(r))
	r.Header.Set("Origin", "https://evil.test")
	assert.False(t, policy.CheckOrigin(r))
}
