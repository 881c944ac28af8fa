package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/AgentResume/pkg/continuation"
	"github.com/KodaTao/AgentResume/pkg/function"
	"github.com/KodaTao/AgentResume/pkg/prompt"
	"github.com/KodaTao/AgentResume/pkg/state"
)

func setupTestApp(t *testing.T, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithLogLevel("error"), WithTimezone("UTC")}, opts...)
	a := New(opts...)
	require.NoError(t, a.Initialize())
	t.Cleanup(func() { _ = a.Shutdown() })
	return a
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad mode", func(c *Config) { c.Server.Mode = "prod" }},
		{"bad policy", func(c *Config) { c.Continuation.Policy = "queue" }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"zero job timeout", func(c *Config) { c.Scheduler.JobTimeout = 0 }},
		{"metrics without path", func(c *Config) { c.Observability.Metrics.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_Location(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Local, cfg.Location())

	cfg.Scheduler.Timezone = "Asia/Shanghai"
	assert.Equal(t, "Asia/Shanghai", cfg.Location().String())
}

func TestNew_Options(t *testing.T) {
	a := New(WithServerPort(9090), WithPolicy("reject"), WithDatabasePath("/tmp/x.db"), WithServerMode("release"))
	cfg := a.GetConfig()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "reject", cfg.Continuation.Policy)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, "release", cfg.Server.Mode)
}

func TestApp_InitializeInvalidConfig(t *testing.T) {
	a := New(WithPolicy("queue"))
	assert.Error(t, a.Initialize())
}

func TestApp_NotInitialized(t *testing.T) {
	a := New()
	_, err := a.StartConversation("hi")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, a.Wait(context.Background()), ErrNotInitialized)
	assert.NoError(t, a.Shutdown())
}

func TestApp_Initialize(t *testing.T) {
	a := setupTestApp(t)

	assert.Equal(t, []string{"cancel_continuation", "reschedule_after", "reschedule_self"}, a.GetRegistry().List())
	assert.NotNil(t, a.GetExecutor())
	assert.NotNil(t, a.GetCoordinator())
	assert.NotNil(t, a.GetRescheduler())
	assert.NotNil(t, a.GetCheckIn())

	families, err := a.GetGatherer().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
}

func TestApp_StartConversation(t *testing.T) {
	a := setupTestApp(t)

	id, err := a.StartConversation("remind me later")
	require.NoError(t, err)

	snap, ok := a.GetCoordinator().GetState(id)
	require.True(t, ok)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, state.RoleSystem, snap.Messages[0].Role)
	assert.Contains(t, snap.Messages[0].Content, "reschedule_self")
	assert.Equal(t, "remind me later", snap.Messages[1].Content)

	phase, ok := a.GetCoordinator().Phase(id)
	require.True(t, ok)
	assert.Equal(t, continuation.PhaseActive, phase)
}

func TestApp_EndToEnd(t *testing.T) {
	a := setupTestApp(t)
	a.SetResponder(EchoResponder(nil))

	id, err := a.StartConversation("check on me in a second")
	require.NoError(t, err)

	ctx := continuation.WithThreadID(context.Background(), id)
	resp := a.GetExecutor().Execute(ctx, function.ExecuteRequest{
		FunctionName: "reschedule_after",
		Params:       map[string]any{"seconds": 1, "reason": "user asked for a check-in"},
	})
	require.NoError(t, resp.Error)
	assert.True(t, strings.HasPrefix(resp.Result.Message, "Scheduled to continue this conversation at "), resp.Result.Message)

	phase, _ := a.GetCoordinator().Phase(id)
	assert.Equal(t, continuation.PhaseScheduled, phase)

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Wait(waitCtx))

	snap, ok := a.GetCoordinator().GetState(id)
	require.True(t, ok)
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, prompt.CheckInMessage(), snap.Messages[2].Content)
	assert.Equal(t, state.RoleAssistant, snap.Messages[3].Role)
	assert.Contains(t, snap.Messages[3].Content, "user asked for a check-in")
	assert.Contains(t, snap.Messages[3].Content, "No rescheduling needed")
	assert.Equal(t, "user asked for a check-in", snap.Values[continuation.ReasonKey])

	history, err := a.GetCoordinator().History(id, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, continuation.WakeCompleted, history[0].Status)
}

// memorySaver 记录保存的快照
type memorySaver struct {
	mu    sync.Mutex
	saved []state.Snapshot
}

func (m *memorySaver) SaveState(threadID string, snapshot state.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, snapshot)
}

func TestCheckIn_RefreshesSystemMessage(t *testing.T) {
	saver := &memorySaver{}
	c := NewCheckIn(saver, function.NewRegistry(), nil, time.UTC)
	c.now = func() time.Time { return time.Date(2024, 1, 15, 13, 35, 0, 0, time.UTC) }

	messages := []state.Message{
		{Role: state.RoleSystem, Content: "stale"},
		{Role: state.RoleUser, Content: "hi"},
	}
	cfg := continuation.RunConfig{ThreadID: "thread_1", Reason: "check", Context: map[string]any{"reason": "check"}}
	require.NoError(t, c.Continue(context.Background(), messages, cfg))

	require.Len(t, saver.saved, 1)
	got := saver.saved[0]
	require.Len(t, got.Messages, 3)
	assert.Contains(t, got.Messages[0].Content, "2024-01-15 13:35:00")
	assert.Equal(t, "hi", got.Messages[1].Content)
	assert.Equal(t, state.RoleUser, got.Messages[2].Role)
	assert.Equal(t, prompt.CheckInMessage(), got.Messages[2].Content)
	assert.Equal(t, "check", got.Values["reason"])

	// 原消息不受影响
	assert.Equal(t, "stale", messages[0].Content)
}

func TestCheckIn_PrependsSystemMessage(t *testing.T) {
	saver := &memorySaver{}
	c := NewCheckIn(saver, nil, nil, nil)

	require.NoError(t, c.Continue(context.Background(), []state.Message{{Role: state.RoleUser, Content: "hi"}}, continuation.RunConfig{ThreadID: "t"}))
	require.Len(t, saver.saved, 1)
	require.Len(t, saver.saved[0].Messages, 3)
	assert.Equal(t, state.RoleSystem, saver.saved[0].Messages[0].Role)
}

func TestCheckIn_ResponderError(t *testing.T) {
	saver := &memorySaver{}
	boom := errors.New("model unavailable")
	c := NewCheckIn(saver, nil, ResponderFunc(func(ctx context.Context, messages []state.Message, cfg continuation.RunConfig) (string, error) {
		return "", boom
	}), time.UTC)

	err := c.Continue(context.Background(), nil, continuation.RunConfig{ThreadID: "t"})
	assert.ErrorIs(t, err, boom)
	// 回访消息在调用 Responder 前已保存
	assert.Len(t, saver.saved, 1)
}

func TestEchoResponder(t *testing.T) {
	now := time.Date(2024, 1, 15, 13, 35, 0, 0, time.UTC)
	r := EchoResponder(func() time.Time { return now })

	reply, err := r.Respond(context.Background(), nil, continuation.RunConfig{
		Reason:  "check the oven",
		Context: map[string]any{"requested_at": "2024-01-15T12:50:00Z"},
	})
	require.NoError(t, err)
	assert.Equal(t, "I was scheduled to continue this conversation because: check the oven. 45m0s have passed since then. No rescheduling needed.", reply)
}
