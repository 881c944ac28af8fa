// Package observability 提供可观测性功能：日志、指标、链路追踪
package observability

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger 将 cron 的日志输出到 slog
// cron 的 Info 日志较多（每次调度都会输出），统一降级为 Debug
type cronLogger struct {
	logger *slog.Logger
}

// NewCronLogger 创建 cron.Logger 适配器
func NewCronLogger(logger *slog.Logger) cron.Logger {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &cronLogger{logger: logger}
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
