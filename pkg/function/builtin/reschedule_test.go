package builtin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/AgentResume/pkg/continuation"
	"github.com/KodaTao/AgentResume/pkg/function"
	"github.com/KodaTao/AgentResume/pkg/scheduler"
	"github.com/KodaTao/AgentResume/pkg/state"
	"github.com/KodaTao/AgentResume/pkg/timeparse"
)

// fakeScheduler 记录调度请求
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []scheduledCall
	cancelled []string
	err       error
}

type scheduledCall struct {
	at       time.Time
	threadID string
	wakeCtx  continuation.WakeContext
}

func (f *fakeScheduler) ScheduleContinuation(ctx context.Context, at time.Time, threadID string, cont continuation.Continuation, wakeCtx continuation.WakeContext) (continuation.Wake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return continuation.Wake{}, f.err
	}
	f.scheduled = append(f.scheduled, scheduledCall{at: at, threadID: threadID, wakeCtx: wakeCtx})
	return continuation.Wake{
		ID:       "wake-1",
		ThreadID: threadID,
		JobID:    continuation.JobID(threadID),
		RunAt:    at,
		Reason:   wakeCtx.Reason(),
	}, nil
}

func (f *fakeScheduler) CancelContinuation(threadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, threadID)
	return len(f.scheduled) > 0
}

var fixedNow = time.Date(2024, 1, 15, 12, 50, 0, 0, time.UTC)

func newTestRescheduler(s ContinuationScheduler) *Rescheduler {
	noop := continuation.ContinuationFunc(func(ctx context.Context, messages []state.Message, cfg continuation.RunConfig) error {
		return nil
	})
	return NewRescheduler(s, noop,
		WithClock(func() time.Time { return fixedNow }),
		WithParser(timeparse.New(timeparse.WithLocation(time.UTC))),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestRescheduler_NoActiveConversation(t *testing.T) {
	fake := &fakeScheduler{}
	r := newTestRescheduler(fake)

	_, err := r.Schedule(context.Background(), "in 5 minutes", "check")
	assert.ErrorIs(t, err, ErrNoActiveConversation)

	msg := r.Request(context.Background(), "in 5 minutes", "check")
	assert.True(t, strings.HasPrefix(msg, "Error scheduling continuation: "), msg)

	msg = r.RequestAfter(context.Background(), time.Minute, "check")
	assert.True(t, strings.HasPrefix(msg, "Error scheduling continuation: "), msg)

	_, err = r.Cancel(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveConversation)

	assert.Empty(t, fake.scheduled)
}

func TestRescheduler_Request(t *testing.T) {
	fake := &fakeScheduler{}
	r := newTestRescheduler(fake)
	ctx := continuation.WithThreadID(context.Background(), "thread_1")

	msg := r.Request(ctx, "in 45 minutes", "check the oven")
	assert.Equal(t, "Scheduled to continue this conversation at 2024-01-15 13:35:00 because: check the oven", msg)

	require.Len(t, fake.scheduled, 1)
	call := fake.scheduled[0]
	assert.Equal(t, "thread_1", call.threadID)
	assert.True(t, call.at.Equal(fixedNow.Add(45*time.Minute)))
	assert.Equal(t, "check the oven", call.wakeCtx.Reason())
	assert.Equal(t, "in 45 minutes", call.wakeCtx["when"])
}

func TestRescheduler_RequestAbsolute(t *testing.T) {
	fake := &fakeScheduler{}
	r := newTestRescheduler(fake)
	ctx := continuation.WithThreadID(context.Background(), "thread_1")

	wake, err := r.Schedule(ctx, "2024-01-16 09:00", "standup")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC), wake.RunAt.UTC())
}

func TestRescheduler_Errors(t *testing.T) {
	ctx := continuation.WithThreadID(context.Background(), "thread_1")

	tests := []struct {
		name    string
		when    string
		sched   *fakeScheduler
		wantErr error
	}{
		{"unparsable", "blorp", &fakeScheduler{}, timeparse.ErrUnparsableTime},
		{"past", "2020-01-01 10:00", &fakeScheduler{}, ErrTimeInPast},
		{"unknown thread", "in 1 hour", &fakeScheduler{err: continuation.ErrUnknownConversation}, continuation.ErrUnknownConversation},
		{"engine stopped", "in 1 hour", &fakeScheduler{err: scheduler.ErrEngineStopped}, scheduler.ErrEngineStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRescheduler(tt.sched)

			_, err := r.Schedule(ctx, tt.when, "reason")
			assert.ErrorIs(t, err, tt.wantErr)

			msg := r.Request(ctx, tt.when, "reason")
			assert.True(t, strings.HasPrefix(msg, "Error scheduling continuation: "), msg)
		})
	}
}

func TestRescheduler_ScheduleAfter(t *testing.T) {
	fake := &fakeScheduler{}
	r := newTestRescheduler(fake)
	ctx := continuation.WithThreadID(context.Background(), "thread_2")

	wake, err := r.ScheduleAfter(ctx, 90*time.Second, "wait")
	require.NoError(t, err)
	assert.True(t, wake.RunAt.Equal(fixedNow.Add(90*time.Second)))

	_, err = r.ScheduleAfter(ctx, 0, "wait")
	assert.ErrorIs(t, err, ErrInvalidDelay)

	msg := r.RequestAfter(ctx, 10*time.Second, "short")
	assert.Equal(t, "Scheduled to continue this conversation at 2024-01-15 12:50:10 because: short", msg)
}

func TestFunctions_ViaExecutor(t *testing.T) {
	fake := &fakeScheduler{}
	r := newTestRescheduler(fake)

	registry := function.NewRegistry()
	require.NoError(t, registry.RegisterAll(Functions(r)...))
	assert.Equal(t, []string{"cancel_continuation", "reschedule_after", "reschedule_self"}, registry.List())

	executor := function.NewExecutor(registry, time.Second)
	ctx := continuation.WithThreadID(context.Background(), "thread_3")

	resp := executor.Execute(ctx, function.ExecuteRequest{
		FunctionName: "reschedule_after",
		Params:       map[string]any{"minutes": float64(1), "seconds": "30", "reason": "poll again"},
	})
	require.NoError(t, resp.Error)
	assert.Equal(t, "Scheduled to continue this conversation at 2024-01-15 12:51:30 because: poll again", resp.Result.Message)
	data := resp.Result.Data.(map[string]any)
	assert.Equal(t, true, data["scheduled"])

	resp = executor.Execute(ctx, function.ExecuteRequest{
		FunctionName: "reschedule_self",
		Params:       map[string]any{"when": "in 2 hours", "reason": "follow up"},
	})
	require.NoError(t, resp.Error)
	assert.Contains(t, resp.Result.Message, "2024-01-15 14:50:00")

	// 必填参数缺失
	resp = executor.Execute(ctx, function.ExecuteRequest{
		FunctionName: "reschedule_self",
		Params:       map[string]any{"reason": "no time"},
	})
	assert.True(t, errors.Is(resp.Error, function.ErrMissingParams))

	// 错误以文本返回
	resp = executor.Execute(context.Background(), function.ExecuteRequest{
		FunctionName: "reschedule_self",
		Params:       map[string]any{"when": "in 2 hours", "reason": "unbound"},
	})
	require.NoError(t, resp.Error)
	assert.True(t, strings.HasPrefix(resp.Result.Message, "Error scheduling continuation: "))
	data = resp.Result.Data.(map[string]any)
	assert.Equal(t, false, data["scheduled"])

	resp = executor.Execute(ctx, function.ExecuteRequest{FunctionName: "cancel_continuation"})
	require.NoError(t, resp.Error)
	assert.Equal(t, "Scheduled continuation cancelled", resp.Result.Message)
	assert.Equal(t, []string{"thread_3"}, fake.cancelled)
}

func TestFunctions_ParamInfo(t *testing.T) {
	r := newTestRescheduler(&fakeScheduler{})
	params := function.ExtractParamInfo(NewRescheduleSelfFunction(r))

	require.Len(t, params, 2)
	assert.Equal(t, "when", params[0].Name)
	assert.True(t, params[0].Required)
	assert.Equal(t, "reason", params[1].Name)
}

func TestRescheduler_WithinContinuation(t *testing.T) {
	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := scheduler.NewEngine(scheduler.WithLogger(testLogger))
	coord := continuation.New(engine, state.NewMemoryStore(), continuation.WithLogger(testLogger))
	defer coord.Shutdown()

	replies := make(chan string, 1)
	var r *Rescheduler
	cont := continuation.ContinuationFunc(func(ctx context.Context, messages []state.Message, cfg continuation.RunConfig) error {
		replies <- r.Request(ctx, "in 1 hour", "check again")
		return nil
	})
	r = NewRescheduler(coord, cont, WithLogger(testLogger))

	id := coord.GenerateThreadID()
	coord.SaveState(id, state.NewSnapshot(state.Message{Role: state.RoleUser, Content: "hi"}))
	_, err := coord.ScheduleContinuation(context.Background(), time.Now(), id, cont, continuation.NewWakeContext("first"))
	require.NoError(t, err)

	select {
	case reply := <-replies:
		assert.True(t, strings.HasPrefix(reply, "Scheduled to continue this conversation at "), reply)
		assert.True(t, strings.HasSuffix(reply, "because: check again"), reply)
	case <-time.After(2 * time.Second):
		t.Fatal("continuation was not invoked")
	}

	require.Eventually(t, func() bool {
		phase, _ := coord.Phase(id)
		return phase == continuation.PhaseScheduled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRescheduler_OffsetOverflow(t *testing.T) {
	fake := &fakeScheduler{}
	r := newTestRescheduler(fake)
	ctx := continuation.WithThreadID(context.Background(), "thread_4")

	_, err := r.Schedule(ctx, "in 5124096 hours", "far future")
	assert.ErrorIs(t, err, timeparse.ErrUnparsableTime)

	msg := r.Request(ctx, "in 5124096 hours", "far future")
	assert.True(t, strings.HasPrefix(msg, "Error scheduling continuation: "), msg)
	assert.Empty(t, fake.scheduled)
}

func TestDelay(t *testing.T) {
	d, err := Delay(1, 30)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	for _, tc := range []struct {
		name             string
		minutes, seconds int
	}{
		{"negative minutes", -1, 30},
		{"negative seconds", 1, -30},
		{"minutes overflow", 307445760, 0},
		{"seconds overflow", 0, 9223372037},
		{"sum overflow", 153722867, 9223372036 / 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Delay(tc.minutes, tc.seconds)
			assert.ErrorIs(t, err, ErrInvalidDelay)
		})
	}
}

func TestRescheduleAfter_OversizedMinutes(t *testing.T) {
	fake := &fakeScheduler{}
	r := newTestRescheduler(fake)

	registry := function.NewRegistry()
	require.NoError(t, registry.RegisterAll(Functions(r)...))
	executor := function.NewExecutor(registry, time.Second)
	ctx := continuation.WithThreadID(context.Background(), "thread_5")

	resp := executor.Execute(ctx, function.ExecuteRequest{
		FunctionName: "reschedule_after",
		Params:       map[string]any{"minutes": float64(307445760), "reason": "far future"},
	})
	require.NoError(t, resp.Error)
	assert.True(t, strings.HasPrefix(resp.Result.Message, "Error scheduling continuation: "), resp.Result.Message)
	data := resp.Result.Data.(map[string]any)
	assert.Equal(t, false, data["scheduled"])
	assert.Contains(t, data["error"], ErrInvalidDelay.Error())
	assert.Empty(t, fake.scheduled)
}

func TestConfirmation(t *testing.T) {
	wake := continuation.Wake{RunAt: time.Date(2024, 1, 15, 13, 35, 0, 0, time.UTC)}
	assert.Equal(t, "Scheduled to continue this conversation at 2024-01-15 13:35:00 because: oven",
		Confirmation(wake, "oven", nil))
	assert.Equal(t, "Error scheduling continuation: delay must be positive",
		Confirmation(continuation.Wake{}, "oven", ErrInvalidDelay))
}
