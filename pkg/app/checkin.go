package app

import (
	"context"
	"fmt"
	"time"

	"github.com/KodaTao/AgentResume/pkg/continuation"
	"github.com/KodaTao/AgentResume/pkg/function"
	"github.com/KodaTao/AgentResume/pkg/prompt"
	"github.com/KodaTao/AgentResume/pkg/state"
)

// Responder 生成助手回复，通常由外部 Agent 执行器实现
type Responder interface {
	Respond(ctx context.Context, messages []state.Message, cfg continuation.RunConfig) (string, error)
}

// ResponderFunc 函数适配器
type ResponderFunc func(ctx context.Context, messages []state.Message, cfg continuation.RunConfig) (string, error)

// Respond 实现 Responder 接口
func (f ResponderFunc) Respond(ctx context.Context, messages []state.Message, cfg continuation.RunConfig) (string, error) {
	return f(ctx, messages, cfg)
}

// StateSaver 保存会话快照
type StateSaver interface {
	SaveState(threadID string, snapshot state.Snapshot)
}

// CheckIn 定时回访的 Continuation
// 唤醒时刷新系统消息中的当前时间，追加回访消息并保存快照，再交给 Responder 继续对话
type CheckIn struct {
	saver     StateSaver
	registry  *function.Registry
	prompts   *prompt.Generator
	responder Responder
	now       func() time.Time
	location  *time.Location
}

// NewCheckIn 创建 CheckIn，responder 可以为 nil
func NewCheckIn(saver StateSaver, registry *function.Registry, responder Responder, loc *time.Location) *CheckIn {
	if loc == nil {
		loc = time.Local
	}
	return &CheckIn{
		saver:     saver,
		registry:  registry,
		prompts:   prompt.DefaultGenerator,
		responder: responder,
		now:       time.Now,
		location:  loc,
	}
}

// SetResponder 设置 Responder
func (c *CheckIn) SetResponder(r Responder) {
	c.responder = r
}

// SystemMessage 生成带当前时间的系统消息
func (c *CheckIn) SystemMessage() (state.Message, error) {
	var functions []function.FunctionInfo
	if c.registry != nil {
		functions = c.registry.ListInfo()
	}
	content, err := c.prompts.GenerateSystemPrompt(c.now().In(c.location), functions)
	if err != nil {
		return state.Message{}, err
	}
	return state.Message{Role: state.RoleSystem, Content: content}, nil
}

// Continue 实现 continuation.Continuation 接口
func (c *CheckIn) Continue(ctx context.Context, messages []state.Message, cfg continuation.RunConfig) error {
	system, err := c.SystemMessage()
	if err != nil {
		return fmt.Errorf("render system prompt: %w", err)
	}

	msgs := make([]state.Message, 0, len(messages)+2)
	if len(messages) > 0 && messages[0].Role == state.RoleSystem {
		msgs = append(msgs, system)
		msgs = append(msgs, messages[1:]...)
	} else {
		msgs = append(msgs, system)
		msgs = append(msgs, messages...)
	}
	msgs = append(msgs, state.Message{Role: state.RoleUser, Content: prompt.CheckInMessage()})

	snapshot := state.Snapshot{Messages: msgs, Values: cfg.Context}
	c.saver.SaveState(cfg.ThreadID, snapshot)

	if c.responder == nil {
		return nil
	}

	reply, err := c.responder.Respond(ctx, msgs, cfg)
	if err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	snapshot.AddMessage(state.RoleAssistant, reply)
	c.saver.SaveState(cfg.ThreadID, snapshot)
	return nil
}

// EchoResponder 不调用模型的回复器，说明唤醒原因与经过的时间
// 用于演示和没有接入 Agent 执行器的部署
func EchoResponder(now func() time.Time) Responder {
	if now == nil {
		now = time.Now
	}
	return ResponderFunc(func(ctx context.Context, messages []state.Message, cfg continuation.RunConfig) (string, error) {
		reply := fmt.Sprintf("I was scheduled to continue this conversation because: %s.", cfg.Reason)
		if requested, ok := cfg.Context["requested_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, requested); err == nil {
				reply += fmt.Sprintf(" %s have passed since then.", now().Sub(t).Round(time.Second))
			}
		}
		return reply + " No rescheduling needed.", nil
	})
}
