package cache

import "github.com/tokmz/wsgate/pkg/errors"

// 预定义错误
var (
	ErrCacheConnection    = errors.New(3101, 500, "cache connection failed", nil)
	ErrCacheInvalidConfig = errors.New(3102, 500, "cache invalid config", nil)
	ErrCacheOperation     = errors.New(3103, 500, "cache operation failed", nil)
	ErrLimiterClosed      = errors.New(3104, 500, "limiter closed", nil)
)
