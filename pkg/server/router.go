// Package server 提供 HTTP Server 功能
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KodaTao/AgentResume/pkg/app"
	"github.com/KodaTao/AgentResume/pkg/continuation"
	"github.com/KodaTao/AgentResume/pkg/function"
	"github.com/KodaTao/AgentResume/pkg/function/builtin"
	"github.com/KodaTao/AgentResume/pkg/observability"
	"github.com/KodaTao/AgentResume/pkg/scheduler"
	"github.com/KodaTao/AgentResume/pkg/state"
	"github.com/KodaTao/AgentResume/pkg/timeparse"
)

// shutdownTimeout 优雅关闭 HTTP 服务的最长等待时间
const shutdownTimeout = 10 * time.Second

// Server HTTP 服务器
type Server struct {
	app    *app.App
	engine *gin.Engine
	config *ServerConfig
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host        string
	Port        int
	Mode        string // debug, release, test
	MetricsPath string // 为空时不暴露指标
}

// NewServer 创建 HTTP 服务器
func NewServer(a *app.App, config *ServerConfig) *Server {
	// 设置 Gin 模式
	switch config.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()

	// 添加中间件
	engine.Use(gin.Recovery())
	engine.Use(LoggerMiddleware())
	engine.Use(CORSMiddleware())

	server := &Server{
		app:    a,
		engine: engine,
		config: config,
	}

	// 注册路由
	server.setupRoutes()

	return server
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// 健康检查
	s.engine.GET("/health", s.healthCheck)

	if s.config.MetricsPath != "" {
		s.engine.GET(s.config.MetricsPath, gin.WrapH(promhttp.HandlerFor(s.app.GetGatherer(), promhttp.HandlerOpts{})))
	}

	// API v1
	v1 := s.engine.Group("/api/v1")
	{
		// 会话管理
		v1.POST("/threads", s.createThread)
		v1.GET("/threads", s.listThreads)
		v1.GET("/threads/:id", s.getThread)
		v1.PUT("/threads/:id/state", s.saveState)
		v1.GET("/threads/:id/history", s.threadHistory)

		// 唤醒管理
		v1.POST("/threads/:id/reschedule", s.reschedule)
		v1.DELETE("/threads/:id/continuation", s.cancelContinuation)
		v1.GET("/continuations", s.listContinuations)

		// Function 管理
		v1.GET("/functions", s.listFunctions)
		v1.GET("/functions/:name", s.getFunction)
		v1.POST("/functions/:name/execute", s.executeFunction)
	}
}

// Run 启动服务器，ctx 结束时优雅关闭
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		observability.Info("Starting HTTP server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		observability.Info("Stopping HTTP server", "address", addr)
		return srv.Shutdown(shutdownCtx)
	}
}

// GetEngine 获取 Gin 引擎（用于测试）
func (s *Server) GetEngine() *gin.Engine {
	return s.engine
}

// 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"pending":   len(s.app.GetCoordinator().PendingWakes()),
	})
}

// CreateThreadRequest 创建会话请求
type CreateThreadRequest struct {
	Message string `json:"message"`
}

// 创建会话
func (s *Server) createThread(c *gin.Context) {
	var req CreateThreadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}
	}

	threadID, err := s.app.StartConversation(req.Message)
	if err != nil {
		observability.Error("Create thread failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Create thread failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"thread_id": threadID,
	})
}

// 列出所有会话
func (s *Server) listThreads(c *gin.Context) {
	threads := s.app.GetCoordinator().Threads()
	c.JSON(http.StatusOK, gin.H{
		"threads": threads,
		"count":   len(threads),
	})
}

// 获取单个会话及其快照
func (s *Server) getThread(c *gin.Context) {
	id := c.Param("id")
	coord := s.app.GetCoordinator()

	info, ok := coord.Thread(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Thread not found: " + id,
		})
		return
	}

	snapshot, _ := coord.GetState(id)
	c.JSON(http.StatusOK, gin.H{
		"thread": info,
		"state":  snapshot,
	})
}

// 覆盖会话快照，未知会话会被创建
func (s *Server) saveState(c *gin.Context) {
	id := c.Param("id")

	var snapshot state.Snapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	s.app.GetCoordinator().SaveState(id, snapshot)
	info, _ := s.app.GetCoordinator().Thread(id)
	c.JSON(http.StatusOK, gin.H{
		"thread": info,
	})
}

// 查询会话唤醒日志
func (s *Server) threadHistory(c *gin.Context) {
	id := c.Param("id")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid limit: " + c.Query("limit"),
		})
		return
	}

	records, err := s.app.GetCoordinator().History(id, limit)
	if err != nil {
		observability.Error("Query history failed", "thread_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Query history failed: " + err.Error(),
		})
		return
	}

	entries := make([]wakeEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, newWakeEntry(r))
	}
	c.JSON(http.StatusOK, gin.H{
		"history": entries,
		"count":   len(entries),
	})
}

// wakeEntry 唤醒日志响应，context 以对象形式返回
type wakeEntry struct {
	continuation.WakeRecord
	Context continuation.WakeContext `json:"context,omitempty"`
}

func newWakeEntry(r continuation.WakeRecord) wakeEntry {
	wakeCtx, err := r.DecodeContext()
	if err != nil {
		observability.Warn("Decode wake context failed", "wake_id", r.WakeID, "error", err)
	}
	return wakeEntry{WakeRecord: r, Context: wakeCtx}
}

// RescheduleRequest 重新调度请求，When 与 Seconds/Minutes 二选一
type RescheduleRequest struct {
	When    string `json:"when" binding:"required_without_all=Seconds Minutes"`
	Seconds int    `json:"seconds" binding:"omitempty,gt=0"`
	Minutes int    `json:"minutes" binding:"omitempty,gt=0"`
	Reason  string `json:"reason" binding:"required"`
}

// delay 返回 Seconds 与 Minutes 之和，超出范围时返回 builtin.ErrInvalidDelay
func (r RescheduleRequest) delay() (time.Duration, error) {
	return builtin.Delay(r.Minutes, r.Seconds)
}

// 安排会话在指定时间继续
func (s *Server) reschedule(c *gin.Context) {
	id := c.Param("id")

	var req RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	ctx := continuation.WithThreadID(c.Request.Context(), id)
	var (
		wake continuation.Wake
		err  error
	)
	if req.When != "" {
		wake, err = s.app.GetRescheduler().Schedule(ctx, req.When, req.Reason)
	} else {
		var delay time.Duration
		if delay, err = req.delay(); err == nil {
			wake, err = s.app.GetRescheduler().ScheduleAfter(ctx, delay, req.Reason)
		}
	}
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": builtin.Confirmation(wake, req.Reason, err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wake":    wake,
		"message": builtin.Confirmation(wake, req.Reason, nil),
	})
}

// 取消会话的待执行唤醒
func (s *Server) cancelContinuation(c *gin.Context) {
	id := c.Param("id")

	if s.app.GetCoordinator().CancelContinuation(id) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Continuation cancelled",
		})
	} else {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No pending continuation for thread: " + id,
		})
	}
}

// 列出待执行唤醒；带 status 参数时改为分页查询唤醒日志
func (s *Server) listContinuations(c *gin.Context) {
	raw, filtered := c.GetQuery("status")
	if !filtered {
		wakes := s.app.GetCoordinator().PendingWakes()
		c.JSON(http.StatusOK, gin.H{
			"continuations": wakes,
			"count":         len(wakes),
		})
		return
	}

	var status *continuation.WakeStatus
	if raw != "all" {
		st, ok := continuation.ParseWakeStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid status: " + raw,
			})
			return
		}
		status = &st
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid limit: " + c.Query("limit"),
		})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid offset: " + c.Query("offset"),
		})
		return
	}

	records, total, err := s.app.GetCoordinator().Journal(status, limit, offset)
	if err != nil {
		observability.Error("Query wake journal failed", "status", raw, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Query wake journal failed: " + err.Error(),
		})
		return
	}

	entries := make([]wakeEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, newWakeEntry(r))
	}
	c.JSON(http.StatusOK, gin.H{
		"continuations": entries,
		"count":         len(entries),
		"total":         total,
	})
}

// 列出所有 Function
func (s *Server) listFunctions(c *gin.Context) {
	functions := s.app.GetRegistry().ListInfo()
	c.JSON(http.StatusOK, gin.H{
		"functions":  functions,
		"count":      len(functions),
		"timeout_ms": s.app.GetExecutor().Timeout().Milliseconds(),
	})
}

// 获取单个 Function
func (s *Server) getFunction(c *gin.Context) {
	name := c.Param("name")

	fn, ok := s.app.GetRegistry().Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Function not found: " + name,
		})
		return
	}

	c.JSON(http.StatusOK, function.FunctionInfo{
		Name:        fn.Name(),
		Description: fn.Description(),
		Parameters:  function.ExtractParamInfo(fn),
	})
}

// ExecuteFunctionRequest 执行函数请求
type ExecuteFunctionRequest struct {
	ThreadID string         `json:"thread_id"`
	Params   map[string]any `json:"params"`
}

// 以会话身份执行函数
func (s *Server) executeFunction(c *gin.Context) {
	name := c.Param("name")

	var req ExecuteFunctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	if req.ThreadID != "" {
		ctx = continuation.WithThreadID(ctx, req.ThreadID)
	}

	resp := s.app.GetExecutor().Execute(ctx, function.ExecuteRequest{
		FunctionName: name,
		Params:       req.Params,
	})
	if resp.Error != nil {
		c.JSON(statusFor(resp.Error), gin.H{
			"error": resp.Error.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     resp.Result.Message,
		"data":        resp.Result.Data,
		"duration_ms": resp.Duration.Milliseconds(),
	})
}

// statusFor 将领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, continuation.ErrUnknownConversation),
		errors.Is(err, function.ErrFunctionNotFound):
		return http.StatusNotFound
	case errors.Is(err, continuation.ErrAlreadyScheduled):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrEngineStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, timeparse.ErrUnparsableTime),
		errors.Is(err, builtin.ErrTimeInPast),
		errors.Is(err, builtin.ErrInvalidDelay),
		errors.Is(err, builtin.ErrNoActiveConversation),
		errors.Is(err, function.ErrMissingParams),
		errors.Is(err, function.ErrInvalidParams):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		observability.Info("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
