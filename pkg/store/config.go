package store

import "time"

// DBType 数据库类型
type DBType string

const (
	MySQL      DBType = "mysql"
	PostgreSQL DBType = "postgres"
	SQLite     DBType = "sqlite"
	SQLServer  DBType = "sqlserver"
)

// Config 数据库配置
type Config struct {
	Type DBType `mapstructure:"type" yaml:"type"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`

	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	TablePrefix   string        `mapstructure:"table_prefix" yaml:"table_prefix"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold" yaml:"slow_threshold"`
	// LogLevel 1:Silent 2:Error 3:Warn 4:Info
	LogLevel int `mapstructure:"log_level" yaml:"log_level"`

	// AutoMigrate 启动时建表
	AutoMigrate bool `mapstructure:"auto_migrate" yaml:"auto_migrate"`

	// Replicas 只读副本，配置后查询走副本（dbresolver）
	Replicas []string `mapstructure:"replicas" yaml:"replicas"`
	// Policy random / round_robin
	Policy string `mapstructure:"policy" yaml:"policy"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Type:            SQLite,
		DSN:             "file:wsgate.db?_busy_timeout=5000",
		MaxIdleConns:    10,
		MaxOpenConns:    50,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		SlowThreshold:   200 * time.Millisecond,
		LogLevel:        3,
		AutoMigrate:     true,
	}
}
