// Package continuation 管理会话的暂停与定时恢复
package continuation

import (
	"context"
	"time"

	"github.com/KodaTao/AgentResume/pkg/state"
)

// Phase 会话所处阶段
type Phase string

const (
	PhaseActive    Phase = "active"    // 正常对话中，没有待执行的唤醒
	PhaseScheduled Phase = "scheduled" // 已安排唤醒，等待触发
	PhaseWaking    Phase = "waking"    // 唤醒任务正在执行
)

// Policy 同一会话重复安排唤醒时的处理策略
type Policy string

const (
	PolicyReplace Policy = "replace" // 新的唤醒替换旧的
	PolicyReject  Policy = "reject"  // 已有待执行唤醒时拒绝
)

// ParsePolicy 解析策略名，无法识别时返回 PolicyReplace
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyReject {
		return PolicyReject
	}
	return PolicyReplace
}

// ReasonKey 唤醒原因在 WakeContext 中的键
const ReasonKey = "reason"

// WakeContext 安排唤醒时附带的上下文，触发时合并到快照的 Values 中
type WakeContext map[string]any

// NewWakeContext 创建只包含原因的唤醒上下文
func NewWakeContext(reason string) WakeContext {
	return WakeContext{ReasonKey: reason}
}

// Reason 返回唤醒原因
func (w WakeContext) Reason() string {
	if r, ok := w[ReasonKey].(string); ok {
		return r
	}
	return ""
}

// Wake 一次已安排的唤醒
type Wake struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"thread_id"`
	JobID    string    `json:"job_id"`
	RunAt    time.Time `json:"run_at"`
	Reason   string    `json:"reason,omitempty"`
}

// RunConfig 唤醒时传给 Continuation 的运行参数
type RunConfig struct {
	ThreadID string
	WakeID   string
	Reason   string
	// Context 为合并唤醒上下文后的快照 Values
	Context map[string]any
}

// Continuation 会话恢复回调
// 实现方通常会继续对话，并通过 SaveState 保存新的快照，也可以再次安排唤醒
type Continuation interface {
	Continue(ctx context.Context, messages []state.Message, cfg RunConfig) error
}

//go:generate mockgen -destination=mocks/continuation_mock.go -package=mocks github.com/KodaTao/AgentResume/pkg/continuation Continuation

// ContinuationFunc 函数适配器
type ContinuationFunc func(ctx context.Context, messages []state.Message, cfg RunConfig) error

// Continue 实现 Continuation 接口
func (f ContinuationFunc) Continue(ctx context.Context, messages []state.Message, cfg RunConfig) error {
	return f(ctx, messages, cfg)
}

// JobID 返回会话对应的调度任务 ID
func JobID(threadID string) string {
	return "continuation_" + threadID
}
