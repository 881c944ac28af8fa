// Package builtin 提供内置的 Function 实现
package builtin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"time"

	"github.com/KodaTao/AgentResume/pkg/continuation"
	"github.com/KodaTao/AgentResume/pkg/function"
	"github.com/KodaTao/AgentResume/pkg/timeparse"
)

// DisplayLayout 确认消息中的时间格式
const DisplayLayout = "2006-01-02 15:04:05"

// ContinuationScheduler 安排与取消会话唤醒
type ContinuationScheduler interface {
	ScheduleContinuation(ctx context.Context, at time.Time, threadID string, cont continuation.Continuation, wakeCtx continuation.WakeContext) (continuation.Wake, error)
	CancelContinuation(threadID string) bool
}

// Rescheduler 处理 Agent 在对话中发起的"稍后继续"请求
// 当前会话通过 ctx 中的会话 ID 确定
type Rescheduler struct {
	scheduler ContinuationScheduler
	cont      continuation.Continuation
	parser    *timeparse.Parser
	now       func() time.Time
	logger    *slog.Logger
}

// ReschedulerOption Rescheduler 选项
type ReschedulerOption func(*Rescheduler)

// WithParser 设置时间解析器
func WithParser(p *timeparse.Parser) ReschedulerOption {
	return func(r *Rescheduler) {
		r.parser = p
	}
}

// WithClock 设置时钟
func WithClock(now func() time.Time) ReschedulerOption {
	return func(r *Rescheduler) {
		r.now = now
	}
}

// WithLogger 设置日志器
func WithLogger(logger *slog.Logger) ReschedulerOption {
	return func(r *Rescheduler) {
		r.logger = logger
	}
}

// NewRescheduler 创建 Rescheduler，cont 为唤醒时调用的 Continuation
func NewRescheduler(s ContinuationScheduler, cont continuation.Continuation, opts ...ReschedulerOption) *Rescheduler {
	r := &Rescheduler{
		scheduler: s,
		cont:      cont,
		parser:    timeparse.DefaultParser,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schedule 解析 when 并安排当前会话在该时刻继续
func (r *Rescheduler) Schedule(ctx context.Context, when, reason string) (continuation.Wake, error) {
	threadID := continuation.ThreadIDFromContext(ctx)
	if threadID == "" {
		return continuation.Wake{}, ErrNoActiveConversation
	}

	now := r.now()
	at, err := r.parser.Resolve(when, now)
	if err != nil {
		return continuation.Wake{}, err
	}
	return r.scheduleAt(ctx, threadID, at, now, reason, when)
}

// ScheduleAfter 安排当前会话在 delay 之后继续
func (r *Rescheduler) ScheduleAfter(ctx context.Context, delay time.Duration, reason string) (continuation.Wake, error) {
	threadID := continuation.ThreadIDFromContext(ctx)
	if threadID == "" {
		return continuation.Wake{}, ErrNoActiveConversation
	}
	if delay <= 0 {
		return continuation.Wake{}, fmt.Errorf("%w: %s", ErrInvalidDelay, delay)
	}

	now := r.now()
	return r.scheduleAt(ctx, threadID, now.Add(delay), now, reason, "in "+delay.String())
}

func (r *Rescheduler) scheduleAt(ctx context.Context, threadID string, at, now time.Time, reason, expression string) (continuation.Wake, error) {
	if !at.After(now) {
		return continuation.Wake{}, fmt.Errorf("%w: %s", ErrTimeInPast, at.Format(DisplayLayout))
	}

	wakeCtx := continuation.NewWakeContext(reason)
	wakeCtx["requested_at"] = now.Format(time.RFC3339)
	wakeCtx["when"] = expression

	wake, err := r.scheduler.ScheduleContinuation(ctx, at, threadID, r.cont, wakeCtx)
	if err != nil {
		return continuation.Wake{}, err
	}

	r.logger.Info("reschedule requested",
		"thread_id", threadID,
		"wake_id", wake.ID,
		"when", expression,
		"run_at", at,
	)
	return wake, nil
}

// Request 与 Schedule 相同，但返回给 Agent 的文本结果，出错时返回错误描述
func (r *Rescheduler) Request(ctx context.Context, when, reason string) string {
	wake, err := r.Schedule(ctx, when, reason)
	return Confirmation(wake, reason, err)
}

// RequestAfter 与 ScheduleAfter 相同，但返回文本结果
func (r *Rescheduler) RequestAfter(ctx context.Context, delay time.Duration, reason string) string {
	wake, err := r.ScheduleAfter(ctx, delay, reason)
	return Confirmation(wake, reason, err)
}

// Cancel 取消当前会话的待执行唤醒
func (r *Rescheduler) Cancel(ctx context.Context) (bool, error) {
	threadID := continuation.ThreadIDFromContext(ctx)
	if threadID == "" {
		return false, ErrNoActiveConversation
	}
	return r.scheduler.CancelContinuation(threadID), nil
}

// Confirmation 生成返回给 Agent 的确认文本，err 不为空时生成错误文本
func Confirmation(wake continuation.Wake, reason string, err error) string {
	if err != nil {
		return "Error scheduling continuation: " + err.Error()
	}
	return fmt.Sprintf("Scheduled to continue this conversation at %s because: %s",
		wake.RunAt.Format(DisplayLayout), reason)
}

// wakeResult 构造函数执行结果，错误以文本形式返回给 Agent
func wakeResult(wake continuation.Wake, reason string, err error) function.Result {
	msg := Confirmation(wake, reason, err)
	if err != nil {
		return function.Result{
			Message: msg,
			Data:    map[string]any{"scheduled": false, "error": err.Error()},
		}
	}
	return function.Result{
		Message: msg,
		Data: map[string]any{
			"scheduled": true,
			"wake_id":   wake.ID,
			"thread_id": wake.ThreadID,
			"run_at":    wake.RunAt.Format(time.RFC3339),
			"reason":    wake.Reason,
		},
	}
}

// RescheduleSelfParams reschedule_self 的参数
type RescheduleSelfParams struct {
	When   string `json:"when" desc:"When to continue, e.g. 'in 2 hours', '45 minutes from now', 'tomorrow at 9am', '2025-01-15 10:30'" required:"true"`
	Reason string `json:"reason" desc:"Why you want to continue this conversation later" required:"true"`
}

// RescheduleSelfFunction 安排当前会话在指定时间继续
type RescheduleSelfFunction struct {
	rescheduler *Rescheduler
}

// NewRescheduleSelfFunction 创建 RescheduleSelfFunction
func NewRescheduleSelfFunction(r *Rescheduler) *RescheduleSelfFunction {
	return &RescheduleSelfFunction{rescheduler: r}
}

func (f *RescheduleSelfFunction) Name() string {
	return "reschedule_self"
}

func (f *RescheduleSelfFunction) Description() string {
	return "Schedule yourself to continue this conversation at a later time. Use this when you need to check something again later or wait for a specific time. Provide a time (e.g. 'in 2 hours', 'tomorrow at 9am') and a reason."
}

func (f *RescheduleSelfFunction) ParamsType() reflect.Type {
	return reflect.TypeOf(RescheduleSelfParams{})
}

func (f *RescheduleSelfFunction) Execute(ctx context.Context, params any) (function.Result, error) {
	p := params.(RescheduleSelfParams)
	wake, err := f.rescheduler.Schedule(ctx, p.When, p.Reason)
	return wakeResult(wake, p.Reason, err), nil
}

// RescheduleAfterParams reschedule_after 的参数
type RescheduleAfterParams struct {
	Seconds int    `json:"seconds" desc:"Seconds to wait before continuing" default:"0"`
	Minutes int    `json:"minutes" desc:"Minutes to wait before continuing" default:"0"`
	Reason  string `json:"reason" desc:"Why you want to continue this conversation later" required:"true"`
}

// RescheduleAfterFunction 安排当前会话在一段时间后继续
type RescheduleAfterFunction struct {
	rescheduler *Rescheduler
}

// NewRescheduleAfterFunction 创建 RescheduleAfterFunction
func NewRescheduleAfterFunction(r *Rescheduler) *RescheduleAfterFunction {
	return &RescheduleAfterFunction{rescheduler: r}
}

func (f *RescheduleAfterFunction) Name() string {
	return "reschedule_after"
}

func (f *RescheduleAfterFunction) Description() string {
	return "Schedule yourself to continue this conversation after a number of seconds and/or minutes. Provide a reason."
}

func (f *RescheduleAfterFunction) ParamsType() reflect.Type {
	return reflect.TypeOf(RescheduleAfterParams{})
}

func (f *RescheduleAfterFunction) Execute(ctx context.Context, params any) (function.Result, error) {
	p := params.(RescheduleAfterParams)
	delay, err := Delay(p.Minutes, p.Seconds)
	if err != nil {
		return wakeResult(continuation.Wake{}, p.Reason, err), nil
	}
	wake, err := f.rescheduler.ScheduleAfter(ctx, delay, p.Reason)
	return wakeResult(wake, p.Reason, err), nil
}

// Delay 将分钟与秒数换算为时长
// 负数或超出 time.Duration 范围时返回 ErrInvalidDelay
func Delay(minutes, seconds int) (time.Duration, error) {
	if minutes < 0 || seconds < 0 {
		return 0, fmt.Errorf("%w: got %d minutes %d seconds", ErrInvalidDelay, minutes, seconds)
	}
	if int64(minutes) > math.MaxInt64/int64(time.Minute) ||
		int64(seconds) > math.MaxInt64/int64(time.Second) {
		return 0, fmt.Errorf("%w: %d minutes %d seconds is out of range", ErrInvalidDelay, minutes, seconds)
	}
	m := time.Duration(minutes) * time.Minute
	sec := time.Duration(seconds) * time.Second
	if m > math.MaxInt64-sec {
		return 0, fmt.Errorf("%w: %d minutes %d seconds is out of range", ErrInvalidDelay, minutes, seconds)
	}
	return m + sec, nil
}

// CancelContinuationFunction 取消当前会话的待执行唤醒
type CancelContinuationFunction struct {
	rescheduler *Rescheduler
}

// NewCancelContinuationFunction 创建 CancelContinuationFunction
func NewCancelContinuationFunction(r *Rescheduler) *CancelContinuationFunction {
	return &CancelContinuationFunction{rescheduler: r}
}

func (f *CancelContinuationFunction) Name() string {
	return "cancel_continuation"
}

func (f *CancelContinuationFunction) Description() string {
	return "Cancel the pending scheduled continuation of this conversation, if any."
}

func (f *CancelContinuationFunction) ParamsType() reflect.Type {
	return nil
}

func (f *CancelContinuationFunction) Execute(ctx context.Context, params any) (function.Result, error) {
	cancelled, err := f.rescheduler.Cancel(ctx)
	if err != nil {
		return function.Result{
			Message: "Error cancelling continuation: " + err.Error(),
			Data:    map[string]any{"cancelled": false},
		}, nil
	}
	if !cancelled {
		return function.Result{
			Message: "No scheduled continuation to cancel",
			Data:    map[string]any{"cancelled": false},
		}, nil
	}
	return function.Result{
		Message: "Scheduled continuation cancelled",
		Data:    map[string]any{"cancelled": true},
	}, nil
}

// Functions 返回基于 r 的全部内置函数
func Functions(r *Rescheduler) []function.Function {
	return []function.Function{
		NewRescheduleSelfFunction(r),
		NewRescheduleAfterFunction(r),
		NewCancelContinuationFunction(r),
	}
}

// 错误定义
var (
	ErrNoActiveConversation = errors.New("no active conversation: reschedule must be used within a conversation")
	ErrTimeInPast           = errors.New("resolved time is not in the future")
	ErrInvalidDelay         = errors.New("delay must be positive")
)
