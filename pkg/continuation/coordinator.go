package continuation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/KodaTao/AgentResume/pkg/observability"
	"github.com/KodaTao/AgentResume/pkg/scheduler"
	"github.com/KodaTao/AgentResume/pkg/state"
)

// idleEvicter 支持按空闲时间清理的存储
type idleEvicter interface {
	EvictIdle(maxIdle time.Duration, keep func(id string) bool) int
}

// thread 会话的调度状态
type thread struct {
	pending   *Wake
	waking    bool
	createdAt time.Time
	lastWake  time.Time
}

func (t *thread) phase() Phase {
	switch {
	case t.waking:
		return PhaseWaking
	case t.pending != nil:
		return PhaseScheduled
	default:
		return PhaseActive
	}
}

// ThreadInfo 会话概要
type ThreadInfo struct {
	ID        string    `json:"id"`
	Phase     Phase     `json:"phase"`
	Pending   *Wake     `json:"pending,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LastWake  time.Time `json:"last_wake,omitempty"`
}

// Coordinator 会话恢复协调器
// 负责分配会话 ID、保存快照、安排唤醒，并在唤醒时恢复快照调用 Continuation
type Coordinator struct {
	engine  *scheduler.Engine
	store   state.Store
	journal *WakeRepository
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	policy  Policy

	idleTTL          time.Duration
	journalRetention time.Duration
	janitorSpec      string

	counter atomic.Uint64

	// 调用 store 时不能持有 mu：EvictIdle 的 keep 回调会在存储锁内获取 mu
	mu      sync.Mutex
	threads map[string]*thread

	shutdownOnce sync.Once
}

// Option 协调器选项
type Option func(*Coordinator)

// WithLogger 设置日志器
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics 设置指标
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithJournal 设置唤醒日志
func WithJournal(repo *WakeRepository) Option {
	return func(c *Coordinator) {
		c.journal = repo
	}
}

// WithPolicy 设置重复安排唤醒时的策略
func WithPolicy(p Policy) Option {
	return func(c *Coordinator) {
		c.policy = p
	}
}

// WithTracer 设置 tracer
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// WithJanitor 启用定期清理
// idleTTL 为快照最长空闲时间，retention 为已结束唤醒日志的保留时间，0 表示不清理
func WithJanitor(spec string, idleTTL, retention time.Duration) Option {
	return func(c *Coordinator) {
		c.janitorSpec = spec
		c.idleTTL = idleTTL
		c.journalRetention = retention
	}
}

// New 创建协调器
// 协调器接管 engine 的生命周期，Shutdown 时会一并停止 engine
func New(engine *scheduler.Engine, store state.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:  engine,
		store:   store,
		logger:  slog.Default(),
		tracer:  otel.Tracer("agentresume/continuation"),
		policy:  PolicyReplace,
		threads: make(map[string]*thread),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.janitorSpec != "" && (c.idleTTL > 0 || c.journalRetention > 0) {
		if err := engine.Every(c.janitorSpec, "continuation-janitor", c.sweep); err != nil {
			c.logger.Warn("failed to register janitor", "spec", c.janitorSpec, "error", err)
		}
	}

	return c
}

// GenerateThreadID 分配新的会话 ID，格式为 thread_<n>
func (c *Coordinator) GenerateThreadID() string {
	id := fmt.Sprintf("thread_%d", c.counter.Add(1))

	c.mu.Lock()
	c.threads[id] = &thread{createdAt: time.Now()}
	c.mu.Unlock()

	c.logger.Debug("thread created", "thread_id", id)
	return id
}

// SaveState 保存会话快照，未知的会话 ID 会被登记
func (c *Coordinator) SaveState(threadID string, snapshot state.Snapshot) {
	c.store.Put(threadID, snapshot)

	c.mu.Lock()
	if _, ok := c.threads[threadID]; !ok {
		c.threads[threadID] = &thread{createdAt: time.Now()}
	}
	c.mu.Unlock()

	c.logger.Debug("state saved", "thread_id", threadID, "messages", len(snapshot.Messages))
}

// GetState 读取会话快照
func (c *Coordinator) GetState(threadID string) (state.Snapshot, bool) {
	return c.store.Get(threadID)
}

// Phase 返回会话所处阶段
func (c *Coordinator) Phase(threadID string) (Phase, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	th, ok := c.threads[threadID]
	if !ok {
		return "", false
	}
	return th.phase(), true
}

// Thread 返回会话概要
func (c *Coordinator) Thread(threadID string) (ThreadInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	th, ok := c.threads[threadID]
	if !ok {
		return ThreadInfo{}, false
	}
	return th.info(threadID), true
}

// Threads 列出所有会话，按创建时间排序
func (c *Coordinator) Threads() []ThreadInfo {
	c.mu.Lock()
	infos := make([]ThreadInfo, 0, len(c.threads))
	for id, th := range c.threads {
		infos = append(infos, th.info(id))
	}
	c.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

func (t *thread) info(id string) ThreadInfo {
	info := ThreadInfo{
		ID:        id,
		Phase:     t.phase(),
		CreatedAt: t.createdAt,
		LastWake:  t.lastWake,
	}
	if t.pending != nil {
		w := *t.pending
		info.Pending = &w
	}
	return info
}

// PendingWakes 列出所有待触发的唤醒，按执行时间升序
func (c *Coordinator) PendingWakes() []Wake {
	c.mu.Lock()
	wakes := make([]Wake, 0)
	for _, th := range c.threads {
		if th.pending != nil {
			wakes = append(wakes, *th.pending)
		}
	}
	c.mu.Unlock()

	sort.Slice(wakes, func(i, j int) bool {
		return wakes[i].RunAt.Before(wakes[j].RunAt)
	})
	return wakes
}

// ScheduleContinuation 安排在 at 时刻恢复会话，调用立即返回
// 已有待执行唤醒时按 Policy 替换或拒绝
func (c *Coordinator) ScheduleContinuation(ctx context.Context, at time.Time, threadID string, cont Continuation, wakeCtx WakeContext) (Wake, error) {
	if cont == nil {
		return Wake{}, ErrNilContinuation
	}

	wakeCtx = WakeContext(state.CloneValues(wakeCtx))
	wake := Wake{
		ID:       uuid.NewString(),
		ThreadID: threadID,
		JobID:    JobID(threadID),
		RunAt:    at,
		Reason:   wakeCtx.Reason(),
	}
	logger := c.logger.With("thread_id", threadID, "wake_id", wake.ID)

	_, span := c.tracer.Start(ctx, "continuation.schedule", trace.WithAttributes(
		attribute.String("thread.id", threadID),
		attribute.String("wake.id", wake.ID),
		attribute.String("wake.run_at", at.Format(time.RFC3339)),
	))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	th, ok := c.threads[threadID]
	if !ok {
		return Wake{}, fmt.Errorf("%w: %s", ErrUnknownConversation, threadID)
	}

	previous := th.pending
	if previous != nil && c.policy == PolicyReject {
		return Wake{}, fmt.Errorf("%w: %s (pending at %s)", ErrAlreadyScheduled, threadID, previous.RunAt.Format(time.RFC3339))
	}

	// 先写日志再注册任务，保证触发时记录已存在
	c.journalCreate(wake, wakeCtx)

	if err := c.engine.Schedule(at, wake.JobID, c.wakeJob(wake, cont, wakeCtx)); err != nil {
		c.journalStatus(wake.ID, WakeCancelled, err.Error())
		return Wake{}, fmt.Errorf("schedule continuation for %s: %w", threadID, err)
	}
	th.pending = &wake

	if previous != nil {
		c.journalStatus(previous.ID, WakeReplaced, "")
		logger.Info("continuation replaced", "previous_wake_id", previous.ID, "previous_run_at", previous.RunAt)
	}

	logger.Info("continuation scheduled",
		"run_at", at,
		"delay", time.Until(at),
		"reason", wake.Reason,
	)
	return wake, nil
}

// CancelContinuation 取消会话的待执行唤醒，没有待执行唤醒时返回 false
func (c *Coordinator) CancelContinuation(threadID string) bool {
	c.mu.Lock()
	th, ok := c.threads[threadID]
	if !ok || th.pending == nil {
		c.mu.Unlock()
		return false
	}
	wake := *th.pending
	c.engine.Cancel(wake.JobID)
	th.pending = nil
	c.mu.Unlock()

	c.journalStatus(wake.ID, WakeCancelled, "")
	c.logger.Info("continuation cancelled", "thread_id", threadID, "wake_id", wake.ID)
	return true
}

// History 返回会话最近的唤醒日志，未启用日志时返回 nil
func (c *Coordinator) History(threadID string, limit int) ([]WakeRecord, error) {
	if c.journal == nil {
		return nil, nil
	}
	return c.journal.ListByThread(threadID, limit)
}

// Journal 按状态分页查询唤醒日志，status 为 nil 时不过滤
// 返回当前页记录与符合条件的总数，未启用日志时返回空结果
func (c *Coordinator) Journal(status *WakeStatus, limit, offset int) ([]WakeRecord, int64, error) {
	if c.journal == nil {
		return nil, 0, nil
	}
	records, err := c.journal.List(status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := c.journal.Count(status)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Wait 阻塞直到没有待执行和执行中的唤醒，或 ctx 结束
func (c *Coordinator) Wait(ctx context.Context) error {
	return c.engine.Wait(ctx)
}

// Shutdown 取消所有待执行唤醒并停止调度引擎，可重复调用
// 不要在 Continuation 内部调用
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		cancelled := make([]Wake, 0)
		for _, th := range c.threads {
			if th.pending != nil {
				cancelled = append(cancelled, *th.pending)
				th.pending = nil
			}
		}
		c.mu.Unlock()

		c.engine.Shutdown()

		for _, w := range cancelled {
			c.journalStatus(w.ID, WakeCancelled, "shutdown")
		}
		c.logger.Info("continuation coordinator stopped", "cancelled", len(cancelled))
	})
}

// wakeJob 构造唤醒任务
func (c *Coordinator) wakeJob(w Wake, cont Continuation, wakeCtx WakeContext) scheduler.Job {
	return func(ctx context.Context) error {
		return c.wake(ctx, w, cont, wakeCtx)
	}
}

// wake 恢复快照并调用 Continuation
func (c *Coordinator) wake(ctx context.Context, w Wake, cont Continuation, wakeCtx WakeContext) (err error) {
	c.mu.Lock()
	th, ok := c.threads[w.ThreadID]
	if !ok || th.pending == nil || th.pending.ID != w.ID {
		// 已被取消或替换
		c.mu.Unlock()
		return nil
	}
	th.pending = nil
	th.waking = true
	c.mu.Unlock()

	start := time.Now()
	defer func() {
		c.mu.Lock()
		th.waking = false
		th.lastWake = start
		c.mu.Unlock()
		c.metrics.ObserveWake(time.Since(start))
	}()

	ctx = WithThreadID(ctx, w.ThreadID)
	ctx, span := c.tracer.Start(ctx, "continuation.wake", trace.WithAttributes(
		attribute.String("thread.id", w.ThreadID),
		attribute.String("wake.id", w.ID),
		attribute.String("wake.reason", w.Reason),
	))
	defer span.End()

	logger := c.logger.With("thread_id", w.ThreadID, "wake_id", w.ID)
	logger.Info("waking conversation", "reason", w.Reason, "scheduled_for", w.RunAt)
	c.journalStatus(w.ID, WakeRunning, "")

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.journalStatus(w.ID, WakeFailed, err.Error())
			logger.Error("continuation failed", "error", err)
			return
		}
		c.journalStatus(w.ID, WakeCompleted, "")
		logger.Info("continuation completed", "duration_ms", time.Since(start).Milliseconds())
	}()

	snapshot, ok := c.store.Get(w.ThreadID)
	if !ok {
		return &MissingStateError{ThreadID: w.ThreadID}
	}

	merged := snapshot.Merge(wakeCtx)
	cfg := RunConfig{
		ThreadID: w.ThreadID,
		WakeID:   w.ID,
		Reason:   w.Reason,
		Context:  merged.Values,
	}

	var pc panics.Catcher
	pc.Try(func() {
		err = cont.Continue(ctx, merged.Messages, cfg)
	})
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		return fmt.Errorf("continuation for %s: %w", w.ThreadID, err)
	}
	return nil
}

// sweep 清理空闲快照与过期的唤醒日志
func (c *Coordinator) sweep() {
	if evicter, ok := c.store.(idleEvicter); ok && c.idleTTL > 0 {
		evicted := make([]string, 0)
		n := evicter.EvictIdle(c.idleTTL, func(id string) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if th, ok := c.threads[id]; ok && th.phase() != PhaseActive {
				return true
			}
			evicted = append(evicted, id)
			return false
		})

		c.mu.Lock()
		for _, id := range evicted {
			if th, ok := c.threads[id]; ok && th.phase() == PhaseActive {
				delete(c.threads, id)
			}
		}
		c.mu.Unlock()

		if n > 0 {
			c.logger.Info("evicted idle threads", "count", n)
		}
	}

	if c.journal != nil && c.journalRetention > 0 {
		n, err := c.journal.PruneFinished(time.Now().Add(-c.journalRetention))
		if err != nil {
			c.logger.Warn("failed to prune wake journal", "error", err)
		} else if n > 0 {
			c.logger.Info("pruned wake journal", "count", n)
		}
	}
}

func (c *Coordinator) journalCreate(w Wake, wakeCtx WakeContext) {
	if c.journal == nil {
		return
	}
	record, err := newWakeRecord(w, wakeCtx)
	if err == nil {
		err = c.journal.Create(record)
	}
	if err != nil {
		c.logger.Warn("failed to journal wake", "wake_id", w.ID, "error", err)
	}
}

func (c *Coordinator) journalStatus(wakeID string, status WakeStatus, errMsg string) {
	if c.journal == nil {
		return
	}
	if err := c.journal.UpdateStatus(wakeID, status, errMsg); err != nil {
		c.logger.Warn("failed to update wake journal", "wake_id", wakeID, "status", status, "error", err)
	}
}
