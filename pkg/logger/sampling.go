package logger

// SamplingConfig 采样配置
type SamplingConfig struct {
	Initial    int `mapstructure:"initial" yaml:"initial"`       // 每秒同一消息前 N 条必定记录
	Thereafter int `mapstructure:"thereafter" yaml:"thereafter"` // 之后每 M 条记录 1 条
}

func (s *SamplingConfig) setDefaults() {
	if s.Initial == 0 {
		s.Initial = 100
	}
	if s.Thereafter == 0 {
		s.Thereafter = 100
	}
}
