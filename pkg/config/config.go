package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	wserrors "github.com/tokmz/wsgate/pkg/errors"
)

var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = wserrors.New(3001, 500, "配置文件未找到", nil)
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = wserrors.New(3002, 500, "配置读取失败", nil)
	// ErrConfigDecode 配置解析失败
	ErrConfigDecode = wserrors.New(3003, 500, "配置解析失败", nil)
)

// Config 配置管理器（viper 封装）
// 所有读取都经过读写锁，文件变更时 viper 在锁外重新加载
type Config struct {
	viper *viper.Viper
	mu    sync.RWMutex

	configFile   string
	configName   string
	configType   string
	configPaths  []string
	optionalFile bool

	defaults  map[string]any
	envPrefix string

	watching  bool
	listeners []func()
	onError   func(error)
}

// Option 配置选项
type Option func(*Config)

// WithConfigFile 指定配置文件完整路径
func WithConfigFile(path string) Option {
	return func(c *Config) { c.configFile = path }
}

// WithConfigName 配置文件名（不含扩展名），配合 WithConfigPaths 搜索
func WithConfigName(name string) Option {
	return func(c *Config) { c.configName = name }
}

// WithConfigType 配置文件类型（yaml/json/toml）
func WithConfigType(typ string) Option {
	return func(c *Config) { c.configType = typ }
}

// WithConfigPaths 配置文件搜索路径
func WithConfigPaths(paths ...string) Option {
	return func(c *Config) { c.configPaths = paths }
}

// WithOptionalFile 找不到配置文件时仅使用默认值与环境变量
func WithOptionalFile(optional bool) Option {
	return func(c *Config) { c.optionalFile = optional }
}

// WithDefaults 默认值，key 使用点号分隔
func WithDefaults(defaults map[string]any) Option {
	return func(c *Config) { c.defaults = defaults }
}

// WithEnvPrefix 环境变量前缀，session.max_connections 对应 PREFIX_SESSION_MAX_CONNECTIONS
func WithEnvPrefix(prefix string) Option {
	return func(c *Config) { c.envPrefix = prefix }
}

// WithOnError 文件变更后重新加载失败时的回调
func WithOnError(fn func(error)) Option {
	return func(c *Config) { c.onError = fn }
}

// New 创建配置管理器
func New(opts ...Option) *Config {
	// 绑定结构体字段，未出现在文件中的 key 也能被环境变量覆盖
	c := &Config{viper: viper.NewWithOptions(viper.ExperimentalBindStruct())}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load 读取配置
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.defaults {
		c.viper.SetDefault(k, v)
	}

	if c.envPrefix != "" {
		c.viper.SetEnvPrefix(c.envPrefix)
		c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		c.viper.AutomaticEnv()
	}

	if c.configFile != "" {
		c.viper.SetConfigFile(c.configFile)
	} else {
		if c.configName != "" {
			c.viper.SetConfigName(c.configName)
		}
		if c.configType != "" {
			c.viper.SetConfigType(c.configType)
		}
		for _, path := range c.configPaths {
			c.viper.AddConfigPath(path)
		}
	}

	if c.configFile == "" && c.configName == "" {
		return nil
	}

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if c.optionalFile {
				return nil
			}
			return ErrConfigNotFound.WithError(err)
		}
		return ErrConfigReadFailed.WithError(err)
	}
	return nil
}

// Get 泛型读取，类型不匹配时返回零值
func Get[T any](c *Config, key string) T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.viper.Get(key).(T); ok {
		return v
	}
	var zero T
	return zero
}

// Decode 将 key 下的配置解析为 T，base 为默认值
// base 中已有的字段在配置未覆盖时保持不变
func Decode[T any](c *Config, key string, base T) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.viper.IsSet(key) {
		return base, nil
	}
	out := base
	if err := c.viper.UnmarshalKey(key, &out); err != nil {
		return base, ErrConfigDecode.WithError(fmt.Errorf("%s: %w", key, err))
	}
	return out, nil
}

// Unmarshal 将全部配置解析为 T，base 为默认值
func Unmarshal[T any](c *Config, base T) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := base
	if err := c.viper.Unmarshal(&out); err != nil {
		return base, ErrConfigDecode.WithError(err)
	}
	return out, nil
}

// GetString 获取字符串
func (c *Config) GetString(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetString(key)
}

// GetInt 获取整数
func (c *Config) GetInt(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetInt(key)
}

// GetBool 获取布尔
func (c *Config) GetBool(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetBool(key)
}

// GetDuration 获取时间间隔
func (c *Config) GetDuration(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetDuration(key)
}

// GetStringSlice 获取字符串切片
func (c *Config) GetStringSlice(key string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetStringSlice(key)
}

// Set 覆盖配置值
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viper.Set(key, value)
}

// IsSet 检查 key 是否存在
func (c *Config) IsSet(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.IsSet(key)
}

// AllSettings 全部配置（-print-config 使用）
func (c *Config) AllSettings() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.AllSettings()
}

// UnmarshalKey 将 key 下的配置解析到结构体
func (c *Config) UnmarshalKey(key string, rawVal any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.UnmarshalKey(key, rawVal)
}

// OnChange 注册配置文件变更回调，首次注册时开始监控
func (c *Config) OnChange(fn func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	start := !c.watching && c.viper.ConfigFileUsed() != ""
	if start {
		c.watching = true
	}
	c.mu.Unlock()

	if start {
		c.viper.OnConfigChange(c.handleChange)
		c.viper.WatchConfig()
	}
}

// handleChange viper 已重新读入文件，逐个通知监听者
func (c *Config) handleChange(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	c.mu.RLock()
	listeners := append([]func(){}, c.listeners...)
	onError := c.onError
	c.mu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil && onError != nil {
					onError(fmt.Errorf("config: listener panic: %v", r))
				}
			}()
			fn()
		}()
	}
}

// Viper 底层 viper 实例，不受锁保护
func (c *Config) Viper() *viper.Viper {
	return c.viper
}
