package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/KodaTao/AgentResume/pkg/continuation"
	"github.com/KodaTao/AgentResume/pkg/function"
	"github.com/KodaTao/AgentResume/pkg/function/builtin"
	"github.com/KodaTao/AgentResume/pkg/observability"
	"github.com/KodaTao/AgentResume/pkg/scheduler"
	"github.com/KodaTao/AgentResume/pkg/state"
	"github.com/KodaTao/AgentResume/pkg/storage"
	"github.com/KodaTao/AgentResume/pkg/timeparse"
)

// ErrNotInitialized 应用尚未初始化
var ErrNotInitialized = errors.New("app not initialized")

// App 应用实例
// 持有调度引擎、会话协调器和函数注册表
type App struct {
	config       *Config
	registry     *function.Registry
	executor     *function.Executor
	store        *state.MemoryStore
	db           *gorm.DB
	engine       *scheduler.Engine
	coordinator  *continuation.Coordinator
	rescheduler  *builtin.Rescheduler
	checkIn      *CheckIn
	responder    Responder
	promRegistry *prometheus.Registry
	metrics      *observability.Metrics

	shutdownTracing func(context.Context) error
}

// New 创建新的 App 实例
func New(opts ...Option) *App {
	// 应用默认配置
	config := DefaultConfig()

	// 应用选项
	for _, opt := range opts {
		opt(config)
	}

	return &App{
		config:   config,
		registry: function.NewRegistry(),
	}
}

// SetResponder 设置唤醒后生成回复的 Responder，需在 Initialize 之前调用
func (a *App) SetResponder(r Responder) {
	a.responder = r
	if a.checkIn != nil {
		a.checkIn.SetResponder(r)
	}
}

// Register 注册一个 Function
func (a *App) Register(fn function.Function) error {
	return a.registry.Register(fn)
}

// RegisterAll 批量注册 Functions
func (a *App) RegisterAll(fns ...function.Function) error {
	return a.registry.RegisterAll(fns...)
}

// Initialize 初始化应用
// 包括：日志、链路追踪、指标、唤醒日志数据库、调度引擎、协调器、内置函数
func (a *App) Initialize() error {
	if err := a.config.Validate(); err != nil {
		return err
	}

	// 1. 初始化日志
	if err := observability.InitLogger(observability.LogConfig{
		Level:    a.config.Log.Level,
		Format:   a.config.Log.Format,
		Output:   a.config.Log.Output,
		FilePath: a.config.Log.FilePath,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	observability.Info("Initializing AgentResume",
		"server_port", a.config.Server.Port,
		"policy", a.config.Continuation.Policy,
		"database", a.config.Database.Path,
	)

	// 2. 初始化链路追踪
	shutdown, err := observability.InitTracing(context.Background(), observability.TracingConfig{
		Enabled:     a.config.Observability.Tracing.Enabled,
		ServiceName: a.config.Observability.Tracing.ServiceName,
		Stdout:      a.config.Observability.Tracing.Stdout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.shutdownTracing = shutdown

	// 3. 初始化指标
	a.promRegistry = prometheus.NewRegistry()
	if a.config.Observability.Metrics.Enabled {
		a.promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = observability.NewMetrics(a.promRegistry)
	}

	// 4. 初始化唤醒日志数据库
	a.db, err = storage.Open(storage.Config{
		Path:    a.config.Database.Path,
		LogMode: a.config.Database.LogMode,
	}, &continuation.WakeRecord{})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// 5. 初始化调度引擎
	loc := a.config.Location()
	a.engine = scheduler.NewEngine(
		scheduler.WithLogger(observability.Component("scheduler")),
		scheduler.WithMetrics(a.metrics),
		scheduler.WithLocation(loc),
		scheduler.WithJobTimeout(a.config.Scheduler.JobTimeout),
		scheduler.WithDrainTimeout(a.config.Scheduler.DrainTimeout),
	)

	observability.Info("Scheduler engine started", "timezone", loc.String())

	// 6. 初始化协调器
	a.store = state.NewMemoryStore()
	a.coordinator = continuation.New(a.engine, a.store,
		continuation.WithLogger(observability.Component("continuation")),
		continuation.WithMetrics(a.metrics),
		continuation.WithJournal(continuation.NewWakeRepository(a.db)),
		continuation.WithPolicy(continuation.ParsePolicy(a.config.Continuation.Policy)),
		continuation.WithJanitor(
			a.config.Continuation.JanitorSpec,
			a.config.Continuation.IdleTTL,
			a.config.Continuation.JournalRetention,
		),
	)

	// 7. 注册内置函数
	a.checkIn = NewCheckIn(a.coordinator, a.registry, a.responder, loc)
	a.rescheduler = builtin.NewRescheduler(a.coordinator, a.checkIn,
		builtin.WithParser(timeparse.New(timeparse.WithLocation(loc))),
		builtin.WithLogger(observability.Component("reschedule")),
	)
	if err := a.registry.RegisterAll(builtin.Functions(a.rescheduler)...); err != nil {
		return fmt.Errorf("failed to register builtin functions: %w", err)
	}
	a.executor = function.NewExecutor(a.registry, a.config.Scheduler.JobTimeout)

	observability.Info("AgentResume initialized",
		"registered_functions", a.registry.Count(),
		"function_timeout", a.executor.Timeout(),
	)
	return nil
}

// StartConversation 创建新会话，写入系统消息和首条用户消息
func (a *App) StartConversation(userMessage string) (string, error) {
	if a.coordinator == nil {
		return "", ErrNotInitialized
	}

	system, err := a.checkIn.SystemMessage()
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}

	snapshot := state.NewSnapshot(system)
	if userMessage != "" {
		snapshot.AddMessage(state.RoleUser, userMessage)
	}

	threadID := a.coordinator.GenerateThreadID()
	a.coordinator.SaveState(threadID, snapshot)
	observability.Info("Conversation started", "thread_id", threadID)
	return threadID, nil
}

// GetConfig 获取配置
func (a *App) GetConfig() *Config {
	return a.config
}

// GetRegistry 获取函数注册表
func (a *App) GetRegistry() *function.Registry {
	return a.registry
}

// GetExecutor 获取函数执行器
func (a *App) GetExecutor() *function.Executor {
	return a.executor
}

// GetCoordinator 获取会话协调器
func (a *App) GetCoordinator() *continuation.Coordinator {
	return a.coordinator
}

// GetRescheduler 获取重新调度处理器
func (a *App) GetRescheduler() *builtin.Rescheduler {
	return a.rescheduler
}

// GetCheckIn 获取回访 Continuation
func (a *App) GetCheckIn() *CheckIn {
	return a.checkIn
}

// GetGatherer 获取指标采集器
func (a *App) GetGatherer() prometheus.Gatherer {
	return a.promRegistry
}

// Wait 等待所有已安排的唤醒执行完毕
func (a *App) Wait(ctx context.Context) error {
	if a.coordinator == nil {
		return ErrNotInitialized
	}
	return a.coordinator.Wait(ctx)
}

// Shutdown 关闭应用
func (a *App) Shutdown() error {
	observability.Info("Shutting down AgentResume")

	if a.coordinator != nil {
		a.coordinator.Shutdown()
	}

	var errs []error
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}

	// 关闭数据库
	if err := storage.Close(a.db); err != nil {
		observability.Error("Failed to close database", "error", err)
		errs = append(errs, err)
	}

	observability.Info("AgentResume shutdown complete")
	return errors.Join(errs...)
}

// ensure CheckIn 满足 Continuation 接口
var _ continuation.Continuation = (*CheckIn)(nil)
