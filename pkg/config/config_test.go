package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wserrors "github.com/tokmz/wsgate/pkg/errors"
)

const testYAML = `
server:
  addr: ":9000"
session:
  max_connections: 64
  heartbeat_interval: 20s
  allowed_origins:
    - https://a.example.com
`

type sessionSection struct {
	MaxConnections    int           `mapstructure:"max_connections"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wsgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	c := New(WithConfigFile(writeTestConfig(t, testYAML)))
	require.NoError(t, c.Load())

	assert.Equal(t, ":9000", c.GetString("server.addr"))
	assert.Equal(t, 64, c.GetInt("session.max_connections"))
	assert.Equal(t, 20*time.Second, c.GetDuration("session.heartbeat_interval"))
	assert.Equal(t, []string{"https://a.example.com"}, c.GetStringSlice("session.allowed_origins"))
	assert.True(t, c.IsSet("server"))
}

func TestDecodeKeepsBase(t *testing.T) {
	c := New(WithConfigFile(writeTestConfig(t, testYAML)))
	require.NoError(t, c.Load())

	base := sessionSection{MaxConnections: 1, IdleTimeout: 5 * time.Minute}
	got, err := Decode(c, "session", base)
	require.NoError(t, err)
	assert.Equal(t, 64, got.MaxConnections)
	assert.Equal(t, 20*time.Second, got.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, got.IdleTimeout)

	missing, err := Decode(c, "nothing", base)
	require.NoError(t, err)
	assert.Equal(t, base, missing)
}

func TestUnmarshalWithEnvOverride(t *testing.T) {
	t.Setenv("WSGATE_SESSION_IDLE_TIMEOUT", "90s")
	c := New(WithConfigFile(writeTestConfig(t, testYAML)), WithEnvPrefix("WSGATE"))
	require.NoError(t, c.Load())

	type app struct {
		Server struct {
			Addr string `mapstructure:"addr"`
		} `mapstructure:"server"`
		Session sessionSection `mapstructure:"session"`
	}
	var base app
	base.Session.MaxConnections = 1
	got, err := Unmarshal(c, base)
	require.NoError(t, err)
	assert.Equal(t, ":9000", got.Server.Addr)
	assert.Equal(t, 64, got.Session.MaxConnections)
	assert.Equal(t, 90*time.Second, got.Session.IdleTimeout, "env binds keys absent from the file")
}

func TestGenericGet(t *testing.T) {
	c := New()
	c.Set("n", 3)
	c.Set("s", "x")
	assert.Equal(t, 3, Get[int](c, "n"))
	assert.Equal(t, "x", Get[string](c, "s"))
	assert.Equal(t, "", Get[string](c, "n"))
}

func TestDefaultsAndEnv(t *testing.T) {
	t.Setenv("WSGATE_SERVER_ADDR", ":7000")
	c := New(
		WithDefaults(map[string]any{"server.addr": ":8080", "session.strict_mode": true}),
		WithEnvPrefix("WSGATE"),
	)
	require.NoError(t, c.Load())
	assert.Equal(t, ":7000", c.GetString("server.addr"))
	assert.True(t, c.GetBool("session.strict_mode"))
}

func TestConfigFileNotFound(t *testing.T) {
	c := New(WithConfigName("absent"), WithConfigPaths(t.TempDir()))
	err := c.Load()
	assert.True(t, wserrors.Is(err, ErrConfigNotFound))

	optional := New(WithConfigName("absent"), WithConfigPaths(t.TempDir()), WithOptionalFile(true))
	assert.NoError(t, optional.Load())
}

func TestOnChange(t *testing.T) {
	path := writeTestConfig(t, testYAML)
	c := New(WithConfigFile(path))
	require.NoError(t, c.Load())

	changed := make(chan struct{}, 4)
	c.OnChange(func() { changed <- struct{}{} })

	require.NoError(t, os.WriteFile(path, []byte("session:\n  max_connections: 8\n"), 0o644))

	select {
	case <-changed:
		assert.Eventually(t, func() bool { return c.GetInt("session.max_connections") == 8 },
			2*time.Second, 20*time.Millisecond)
	case <-time.After(3 * time.Second):
		t.Fatal("change callback not fired")
	}
}
