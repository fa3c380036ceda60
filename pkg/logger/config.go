package logger

import "go.uber.org/zap/zapcore"

// Config 日志配置
type Config struct {
	Level  Level  `mapstructure:"-" yaml:"-"`           // 日志级别（默认 InfoLevel）
	Format Format `mapstructure:"format" yaml:"format"` // 日志格式（json/console，默认 json）

	// 输出
	Console bool          `mapstructure:"console" yaml:"console"` // 输出到控制台
	File    string        `mapstructure:"file" yaml:"file"`       // 文件路径（空则不输出到文件）
	Rotate  *RotateConfig `mapstructure:"rotate" yaml:"rotate"`   // 轮转配置（nil 则不轮转）

	// 采样，错误循环刷日志时兜底
	Sampling *SamplingConfig `mapstructure:"sampling" yaml:"sampling"`

	EnableCaller     bool `mapstructure:"caller" yaml:"caller"`         // 记录调用位置
	EnableStacktrace bool `mapstructure:"stacktrace" yaml:"stacktrace"` // Error 及以上记录堆栈

	EncoderConfig *zapcore.EncoderConfig `mapstructure:"-" yaml:"-"`
	Hooks         []Hook                 `mapstructure:"-" yaml:"-"`
}

// FileConfig 配置文件中的日志段
// 级别以字符串形式出现在配置文件里，需要经过 ParseLevel
type FileConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Config `mapstructure:",squash" yaml:",inline"`
}

// Build 转换为 Config
func (f FileConfig) Build() (*Config, error) {
	cfg := f.Config
	level, err := ParseLevel(f.Level)
	if err != nil {
		return nil, err
	}
	cfg.Level = level
	return &cfg, nil
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
}
