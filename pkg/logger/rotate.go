package logger

// RotateConfig 文件轮转配置（lumberjack）
type RotateConfig struct {
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`       // MB，默认 100
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`         // 天，默认 30
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // 默认 10
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

func (r *RotateConfig) setDefaults() {
	if r.MaxSize == 0 {
		r.MaxSize = 100
	}
	if r.MaxAge == 0 {
		r.MaxAge = 30
	}
	if r.MaxBackups == 0 {
		r.MaxBackups = 10
	}
}
