package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// TestSessionFSMHappyPath 测试完整会话生命周期
func TestSessionFSMHappyPath(t *testing.T) {
	fsm := NewSessionFSM(zap.NewNop())
	assert.Equal(t, StateIdle, fsm.Current())

	assert.NoError(t, fsm.Trigger(EventJoin))
	assert.Equal(t, StateJoining, fsm.Current())

	assert.NoError(t, fsm.Trigger(EventRoomReady))
	assert.Equal(t, StateConnectingSocket, fsm.Current())

	assert.NoError(t, fsm.Trigger(EventSocketConnected))
	assert.Equal(t, StateActive, fsm.Current())

	assert.NoError(t, fsm.Trigger(EventLeave))
	assert.Equal(t, StateLeaving, fsm.Current())

	assert.NoError(t, fsm.Trigger(EventLeft))
	assert.Equal(t, StateIdle, fsm.Current())
}

// TestSessionFSMFailureRollback 测试失败事件回到idle
func TestSessionFSMFailureRollback(t *testing.T) {
	fsm := NewSessionFSM(zap.NewNop())

	assert.NoError(t, fsm.Trigger(EventJoin))
	assert.NoError(t, fsm.Trigger(EventFail))
	assert.Equal(t, StateIdle, fsm.Current())

	assert.NoError(t, fsm.Trigger(EventJoin))
	assert.NoError(t, fsm.Trigger(EventRoomReady))
	assert.NoError(t, fsm.Trigger(EventFail))
	assert.Equal(t, StateIdle, fsm.Current())
}

// TestSessionFSMRejectsInvalidEvent 测试非法事件被拒绝且状态不变
func TestSessionFSMRejectsInvalidEvent(t *testing.T) {
	fsm := NewSessionFSM(zap.NewNop())

	// idle状态没有离开转换
	assert.Error(t, fsm.Trigger(EventLeave))
	assert.Equal(t, StateIdle, fsm.Current())

	// 加入进行中不允许再次加入
	assert.NoError(t, fsm.Trigger(EventJoin))
	assert.Error(t, fsm.Trigger(EventJoin))
	assert.Equal(t, StateJoining, fsm.Current())
}

// TestSessionFSMStateChangeCallback 测试状态变更回调
func TestSessionFSMStateChangeCallback(t *testing.T) {
	fsm := NewSessionFSM(zap.NewNop())

	var transitions [][2]SessionState
	fsm.OnStateChange(func(from, to SessionState) {
		transitions = append(transitions, [2]SessionState{from, to})
	})

	assert.NoError(t, fsm.Trigger(EventJoin))
	assert.NoError(t, fsm.Trigger(EventFail))

	assert.Equal(t, [][2]SessionState{
		{StateIdle, StateJoining},
		{StateJoining, StateIdle},
	}, transitions)
}
