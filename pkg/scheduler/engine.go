// Package scheduler 提供定时任务调度功能
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/panics"

	"github.com/KodaTao/AgentResume/pkg/observability"
)

// Job 一次性任务
// 返回的错误只会被记录，不会影响调度器
type Job func(ctx context.Context) error

// JobInfo 待执行任务信息
type JobInfo struct {
	ID    string    `json:"id"`
	RunAt time.Time `json:"run_at"`
}

// onceSchedule 只触发一次的 cron.Schedule
// cron 在注册时和每次执行后各调用一次 Next，第二次返回零值后该条目不会再被执行
type onceSchedule struct {
	at   time.Time
	used atomic.Bool
}

func (s *onceSchedule) Next(time.Time) time.Time {
	if s.used.Swap(true) {
		return time.Time{}
	}
	return s.at
}

// entry 已注册的任务
type entry struct {
	id      string
	runAt   time.Time
	job     Job
	entryID cron.EntryID
}

// Engine 一次性任务调度引擎
// 任务在 cron 的后台 goroutine 中执行，同一 jobID 只保留最后一次注册的任务
type Engine struct {
	cron         *cron.Cron
	logger       *slog.Logger
	metrics      *observability.Metrics
	location     *time.Location
	jobTimeout   time.Duration
	drainTimeout time.Duration

	mu      sync.Mutex
	jobs    map[string]*entry // jobID -> 任务
	running int
	stopped bool
	idle    chan struct{} // 没有待执行和执行中的任务时处于关闭状态

	ctx    context.Context
	cancel context.CancelFunc
}

// Option 引擎选项
type Option func(*Engine)

// WithLogger 设置日志器
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics 设置指标
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLocation 设置维护任务 cron 表达式使用的时区
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		e.location = loc
	}
}

// WithJobTimeout 设置单个任务的执行超时
func WithJobTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.jobTimeout = d
	}
}

// WithDrainTimeout 设置 Shutdown 等待执行中任务的最长时间
func WithDrainTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.drainTimeout = d
	}
}

// NewEngine 创建并启动调度引擎
func NewEngine(opts ...Option) *Engine {
	idle := make(chan struct{})
	close(idle)

	e := &Engine{
		logger:       slog.Default(),
		location:     time.Local,
		jobTimeout:   5 * time.Minute,
		drainTimeout: 30 * time.Second,
		jobs:         make(map[string]*entry),
		idle:         idle,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(e.location),
		cron.WithLogger(observability.NewCronLogger(e.logger)),
	)
	e.cron.Start()

	e.logger.Info("timer engine started")
	return e
}

// Schedule 注册一个在 at 时刻执行的任务，调用立即返回
// 已存在同 jobID 的待执行任务时，旧任务被替换且不会再执行
// at 早于当前时间的任务会尽快执行
func (e *Engine) Schedule(at time.Time, jobID string, job Job) error {
	if jobID == "" {
		return ErrEmptyJobID
	}
	if job == nil {
		return ErrNilJob
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrEngineStopped
	}

	// 如果已有同 ID 任务，先移除
	replaced := false
	if old, ok := e.jobs[jobID]; ok {
		e.cron.Remove(old.entryID)
		replaced = true
		e.metrics.JobReplaced()
	}

	ent := &entry{id: jobID, runAt: at, job: job}
	ent.entryID = e.cron.Schedule(&onceSchedule{at: at}, cron.FuncJob(func() {
		e.fire(ent)
	}))
	e.jobs[jobID] = ent
	e.updateIdleLocked()
	e.metrics.JobScheduled()

	e.logger.Debug("job scheduled",
		"job_id", jobID,
		"run_at", at,
		"delay", time.Until(at),
		"replaced", replaced,
	)

	return nil
}

// Cancel 取消待执行的任务，任务不存在时返回 false
func (e *Engine) Cancel(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.jobs[jobID]
	if !ok {
		return false
	}

	delete(e.jobs, jobID)
	e.cron.Remove(ent.entryID)
	e.updateIdleLocked()
	e.metrics.JobCancelled()

	e.logger.Debug("job cancelled", "job_id", jobID)
	return true
}

// Has 检查是否存在待执行的任务
func (e *Engine) Has(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.jobs[jobID]
	return ok
}

// Pending 列出待执行的任务，按执行时间升序
func (e *Engine) Pending() []JobInfo {
	e.mu.Lock()
	infos := make([]JobInfo, 0, len(e.jobs))
	for _, ent := range e.jobs {
		infos = append(infos, JobInfo{ID: ent.id, RunAt: ent.runAt})
	}
	e.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].RunAt.Equal(infos[j].RunAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].RunAt.Before(infos[j].RunAt)
	})
	return infos
}

// Wait 阻塞直到没有待执行和执行中的任务，或 ctx 结束
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Every 注册内部维护任务（如过期数据清理），spec 为带秒字段的 cron 表达式或 @every 语法
// 维护任务不计入待执行任务
func (e *Engine) Every(spec, name string, fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrEngineStopped
	}

	_, err := e.cron.AddFunc(spec, func() {
		var pc panics.Catcher
		pc.Try(fn)
		if r := pc.Recovered(); r != nil {
			e.logger.Error("maintenance task panicked", "task", name, "error", r.AsError())
		}
	})
	if err != nil {
		return err
	}

	e.logger.Debug("maintenance task registered", "task", name, "spec", spec)
	return nil
}

// Stopped 返回引擎是否已停止
func (e *Engine) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// Shutdown 取消所有待执行任务并停止引擎，可重复调用
// 会等待执行中的任务结束，最长 drainTimeout
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	cancelled := len(e.jobs)
	e.jobs = make(map[string]*entry)
	e.updateIdleLocked()
	e.mu.Unlock()

	e.logger.Info("stopping timer engine", "cancelled_jobs", cancelled)

	stopCtx := e.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(e.drainTimeout):
		e.logger.Warn("timed out waiting for running jobs", "timeout", e.drainTimeout)
	}
	e.cancel()

	e.logger.Info("timer engine stopped")
}

// fire 由 cron 调用，执行任务
func (e *Engine) fire(ent *entry) {
	e.mu.Lock()
	// 已停止或已被替换/取消的任务不执行
	if e.stopped || e.jobs[ent.id] != ent {
		e.mu.Unlock()
		return
	}
	delete(e.jobs, ent.id)
	e.running++
	e.mu.Unlock()

	e.cron.Remove(ent.entryID)
	e.run(ent)

	e.mu.Lock()
	e.running--
	e.updateIdleLocked()
	e.mu.Unlock()
}

// run 执行任务体，错误和 panic 只记录不传播
func (e *Engine) run(ent *entry) {
	ctx, cancel := context.WithTimeout(e.ctx, e.jobTimeout)
	defer cancel()

	start := time.Now()
	e.logger.Info("executing job", "job_id", ent.id, "run_at", ent.runAt)

	var err error
	var pc panics.Catcher
	pc.Try(func() {
		err = ent.job(ctx)
	})
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}

	e.metrics.JobFired(err != nil)

	if err != nil {
		e.logger.Error("job execution failed",
			"job_id", ent.id,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}

	e.logger.Info("job execution completed",
		"job_id", ent.id,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// updateIdleLocked 根据任务数更新空闲信号，调用方需持有锁
func (e *Engine) updateIdleLocked() {
	n := len(e.jobs) + e.running

	select {
	case <-e.idle:
		if n > 0 {
			e.idle = make(chan struct{})
		}
	default:
		if n == 0 {
			close(e.idle)
		}
	}

	e.metrics.SetPending(len(e.jobs))
}

// 错误定义
var (
	ErrEngineStopped = errors.New("timer engine is stopped")
	ErrEmptyJobID    = errors.New("job id cannot be empty")
	ErrNilJob        = errors.New("job cannot be nil")
)
