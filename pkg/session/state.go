package session

import "sync/atomic"

// State 连接状态
type State int32

const (
	StateInitializing State = iota
	StateAuthenticating
	StateConnected
	StateClosing
	StateClosed
	StateFailed
)

var stateNames = [...]string{"initializing", "authenticating", "connected", "closing", "closed", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// IsTerminal Closed 与 Failed 为终态
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// TransitionResult 一次迁移的结果
type TransitionResult struct {
	Applied  bool
	Previous State
	// AlreadyClosing 目标为 Closing/Closed 而连接已在关闭流程中
	AlreadyClosing bool
}

// StateMachine 连接状态机，所有迁移都是单次 CAS
type StateMachine struct {
	state atomic.Int32
}

// NewStateMachine 初始状态 Initializing
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// State 当前状态
func (m *StateMachine) State() State {
	return State(m.state.Load())
}

// Transition 迁移到 target
// 非法迁移返回 Applied=false，不报错。并发迁移到 Closing 时只有一个调用方拿到 Applied=true
func (m *StateMachine) Transition(target State) TransitionResult {
	for {
		cur := State(m.state.Load())
		if !legalTransition(cur, target) {
			return TransitionResult{
				Previous:       cur,
				AlreadyClosing: (target == StateClosing || target == StateClosed) && cur >= StateClosing,
			}
		}
		if m.state.CompareAndSwap(int32(cur), int32(target)) {
			return TransitionResult{Applied: true, Previous: cur}
		}
	}
}

func legalTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	switch from {
	case StateInitializing:
		return to == StateAuthenticating
	case StateAuthenticating:
		return to == StateConnected
	case StateConnected:
		return to == StateClosing
	case StateClosing:
		return to == StateClosed
	}
	return false
}
