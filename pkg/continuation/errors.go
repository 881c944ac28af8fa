package continuation

import (
	"errors"
	"fmt"
)

// 错误定义
var (
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrAlreadyScheduled    = errors.New("a continuation is already scheduled for this conversation")
	ErrMissingState        = errors.New("no saved state for conversation")
	ErrNilContinuation     = errors.New("continuation cannot be nil")
	ErrWakeNotFound        = errors.New("wake record not found")
)

// MissingStateError 唤醒时找不到会话快照
type MissingStateError struct {
	ThreadID string
}

func (e *MissingStateError) Error() string {
	return fmt.Sprintf("no state found for thread %s", e.ThreadID)
}

// Is 使 errors.Is(err, ErrMissingState) 成立
func (e *MissingStateError) Is(target error) bool {
	return target == ErrMissingState
}
