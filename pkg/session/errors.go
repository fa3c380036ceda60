package session

import "github.com/tokmz/wsgate/pkg/errors"

// 会话错误，2001-2099
var (
	ErrAuthentication      = errors.New(2001, 401, "authentication failed", nil)
	ErrDuplicateConnection = errors.New(2002, 409, "connection id already registered", nil)
	ErrMessageFormat       = errors.New(2003, 400, "invalid message format", nil)
	ErrRateLimit           = errors.New(2004, 429, "message rate limit exceeded", nil)
	ErrOversizeMessage     = errors.New(2005, 413, "message too large", nil)
	// ErrConnectionState 非法或重复的状态迁移，只在内部使用，不返回给客户端
	ErrConnectionState    = errors.New(2006, 409, "illegal connection state transition", nil)
	ErrHandlerFailure     = errors.New(2007, 500, "message handler failed", nil)
	ErrTransport          = errors.New(2008, 500, "transport failure", nil)
	ErrTooManyConnections = errors.New(2009, 503, "too many connections", nil)
	ErrConnectionNotFound = errors.New(2010, 404, "connection not found", nil)
	ErrHandlerExists      = errors.New(2011, 500, "handler already registered for message type", nil)
	ErrSendBufferFull     = errors.New(2012, 503, "send buffer full", nil)
	ErrConnectionClosed   = errors.New(2013, 410, "connection closed", nil)
	ErrAgentUnavailable   = errors.New(2014, 503, "agent runner unavailable", nil)
	ErrInvalidConfig      = errors.New(2015, 500, "invalid session config", nil)
	// ErrPeerClosed 对端正常关闭（1000/1001），不算传输故障
	ErrPeerClosed = errors.New(2016, 200, "peer closed connection", nil)
)

// WebSocket 关闭码
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	ClosePolicyViolation  = 1008
	CloseInternalError    = 1011
	CloseTryAgainLater    = 1013
	CloseAuthFailed       = 4001
	CloseForbidden        = 4003
	CloseHeartbeatTimeout = 4004
	CloseIdleTimeout      = 4005
	CloseDuplicate        = 4009
)

// 关闭原因，写入日志与 connection.closed 事件
const (
	ReasonClientDisconnect = "client_disconnect"
	ReasonPeerClosed       = "peer_closed"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonIdleTimeout      = "idle_timeout"
	ReasonSecurity         = "security_violation"
	ReasonErrorBudget      = "error_budget_exhausted"
	ReasonTransportError   = "transport_error"
	ReasonServerShutdown   = "server_shutdown"
	ReasonCanceled         = "context_canceled"
	ReasonInternalError    = "internal_error"
)

// failureReason 这些原因最终进入 Failed 而不是 Closed
func failureReason(reason string) bool {
	switch reason {
	case ReasonTransportError, ReasonErrorBudget, ReasonInternalError:
		return true
	}
	return false
}

func errorCode(err error) int {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
