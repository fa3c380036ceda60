package logger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// captureHook 记录写出的日志
type captureHook struct {
	mu      sync.Mutex
	entries []zapcore.Entry
	fields  [][]zapcore.Field
}

func (h *captureHook) OnWrite(entry zapcore.Entry, fields []zapcore.Field) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	h.fields = append(h.fields, fields)
	return nil
}

func (h *captureHook) fieldMap(i int) map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := make(map[string]string)
	for _, f := range h.fields[i] {
		m[f.Key] = f.String
	}
	return m
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "console", config: &Config{Format: JSONFormat, Console: true}},
		{name: "file", config: &Config{File: filepath.Join(dir, "a.log")}},
		{name: "rotate", config: &Config{Rotate: &RotateConfig{Filename: filepath.Join(dir, "b.log")}}},
		{name: "bad format", config: &Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			l.Info("hello")
			_ = l.Sync()
		})
	}
}

func TestSetLevelAffectsOutput(t *testing.T) {
	hook := &captureHook{}
	l, err := NewWithOptions(WithLevel(InfoLevel), WithHook(hook))
	require.NoError(t, err)

	l.Debug("dropped")
	assert.Len(t, hook.entries, 0)

	child := l.With(zap.String("k", "v"))
	l.SetLevel(DebugLevel)
	child.Debug("kept")
	assert.Len(t, hook.entries, 1)
	assert.Equal(t, DebugLevel, child.Level())
}

func TestContextFields(t *testing.T) {
	hook := &captureHook{}
	l, err := NewWithOptions(WithHook(hook))
	require.NoError(t, err)

	ctx := WithConnID(context.Background(), "c-1")
	ctx = WithUserID(ctx, "alice")
	ctx = WithTraceID(ctx, "t-9")

	l.InfoContext(ctx, "opened", zap.String("extra", "x"))
	require.Len(t, hook.entries, 1)

	fields := hook.fieldMap(0)
	assert.Equal(t, "c-1", fields["conn_id"])
	assert.Equal(t, "alice", fields["user_id"])
	assert.Equal(t, "t-9", fields["trace_id"])
	assert.Equal(t, "x", fields["extra"])

	assert.Equal(t, "c-1", ConnIDFrom(ctx))
	assert.Equal(t, "alice", UserIDFrom(ctx))
	assert.Empty(t, ContextFields(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", InfoLevel, false},
		{"debug", DebugLevel, false},
		{"WARN", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileConfigBuild(t *testing.T) {
	fc := FileConfig{Level: "debug", Config: Config{Format: ConsoleFormat}}
	cfg, err := fc.Build()
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, cfg.Level)
	assert.Equal(t, ConsoleFormat, cfg.Format)

	_, err = FileConfig{Level: "loud"}.Build()
	assert.Error(t, err)
}

func TestRotateAndSamplingDefaults(t *testing.T) {
	r := &RotateConfig{}
	r.setDefaults()
	assert.Equal(t, 100, r.MaxSize)
	assert.Equal(t, 30, r.MaxAge)
	assert.Equal(t, 10, r.MaxBackups)

	s := &SamplingConfig{}
	s.setDefaults()
	assert.Equal(t, 100, s.Initial)
	assert.Equal(t, 100, s.Thereafter)
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Error("nothing")
	assert.NotNil(t, l.Zap())
}
