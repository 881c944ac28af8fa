// Package app 组装调度引擎、会话协调器、函数注册表与 HTTP 服务
package app

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Continuation  ContinuationConfig  `mapstructure:"continuation"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// Host 监听地址
	Host string `mapstructure:"host"`

	// Port 监听端口
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode" validate:"oneof=debug release test"`
}

// SchedulerConfig 调度引擎配置
type SchedulerConfig struct {
	// Timezone 解析时间表达式使用的时区，为空时使用本地时区
	Timezone string `mapstructure:"timezone"`

	// JobTimeout 单次唤醒的执行超时
	JobTimeout time.Duration `mapstructure:"job_timeout" validate:"gt=0"`

	// DrainTimeout 关闭时等待执行中任务的最长时间
	DrainTimeout time.Duration `mapstructure:"drain_timeout" validate:"gte=0"`
}

// ContinuationConfig 会话恢复配置
type ContinuationConfig struct {
	// Policy 重复安排唤醒时的策略：replace, reject
	Policy string `mapstructure:"policy" validate:"oneof=replace reject"`

	// JanitorSpec 清理任务的 cron 表达式
	JanitorSpec string `mapstructure:"janitor_spec"`

	// IdleTTL 快照最长空闲时间，0 表示不清理
	IdleTTL time.Duration `mapstructure:"idle_ttl" validate:"gte=0"`

	// JournalRetention 已结束唤醒日志的保留时间，0 表示不清理
	JournalRetention time.Duration `mapstructure:"journal_retention" validate:"gte=0"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Path 唤醒日志数据库路径，默认内存数据库
	Path string `mapstructure:"path"`

	// LogMode GORM 日志级别：silent, error, warn, info
	LogMode string `mapstructure:"log_mode" validate:"omitempty,oneof=silent error warn info"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别：debug, info, warn, error
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format 日志格式：text, json
	Format string `mapstructure:"format" validate:"oneof=text json"`

	// Output 输出目标：stdout, file
	Output string `mapstructure:"output" validate:"oneof=stdout file"`

	// FilePath 日志文件路径（当 Output 为 file 时生效）
	FilePath string `mapstructure:"file_path"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否启用
	Enabled bool `mapstructure:"enabled"`

	// Path 指标暴露路径
	Path string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	// Enabled 是否启用
	Enabled bool `mapstructure:"enabled"`

	// ServiceName 服务名
	ServiceName string `mapstructure:"service_name"`

	// Stdout 是否输出到标准输出
	Stdout bool `mapstructure:"stdout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: "debug",
		},
		Scheduler: SchedulerConfig{
			JobTimeout:   5 * time.Minute,
			DrainTimeout: 30 * time.Second,
		},
		Continuation: ContinuationConfig{
			Policy:           "replace",
			JanitorSpec:      "@every 1m",
			IdleTTL:          24 * time.Hour,
			JournalRetention: 7 * 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Path:    ":memory:",
			LogMode: "silent",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Tracing: TracingConfig{
				Enabled:     false,
				ServiceName: "agentresume",
			},
		},
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("invalid config: scheduler.timezone: %w", err)
		}
	}
	return nil
}

// Location 返回配置的时区
func (c *Config) Location() *time.Location {
	if c.Scheduler.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Option 配置选项函数
type Option func(*Config)

// WithConfig 使用完整配置替换默认配置
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithServerPort 设置服务器端口
func WithServerPort(port int) Option {
	return func(c *Config) {
		c.Server.Port = port
	}
}

// WithServerMode 设置运行模式
func WithServerMode(mode string) Option {
	return func(c *Config) {
		c.Server.Mode = mode
	}
}

// WithLogLevel 设置日志级别
func WithLogLevel(level string) Option {
	return func(c *Config) {
		c.Log.Level = level
	}
}

// WithDatabasePath 设置数据库路径
func WithDatabasePath(path string) Option {
	return func(c *Config) {
		c.Database.Path = path
	}
}

// WithPolicy 设置重复安排唤醒时的策略
func WithPolicy(policy string) Option {
	return func(c *Config) {
		c.Continuation.Policy = policy
	}
}

// WithTimezone 设置时区
func WithTimezone(tz string) Option {
	return func(c *Config) {
		c.Scheduler.Timezone = tz
	}
}
